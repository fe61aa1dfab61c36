// Package wire defines the RPC fabric's on-the-wire envelope and the
// length-prefixed JSON codec used to read and write it. The envelope is a
// flat struct with a discriminant field and json.RawMessage payloads,
// rather than a Go interface-based sum type, so the same shape round-trips
// through sonic/encoding-json without custom (Un)MarshalJSON methods per
// variant.
package wire

import (
	"encoding/json"

	"github.com/cyw0ng95/meshrpc/pkg/jsonutil"
)

// Kind discriminates the three message shapes that cross the wire.
type Kind string

const (
	// KindCall is sent caller -> broker -> callee to invoke a function.
	KindCall Kind = "rpc_call"
	// KindCancel is sent caller -> broker -> callee to cancel an in-flight call.
	KindCancel Kind = "rpc_cancel"
	// KindResponse is sent callee -> broker -> caller, either a Partial
	// streamed value or the Last terminal result.
	KindResponse Kind = "rpc_response"
)

// ResponseKind discriminates a streamed partial value from the terminal result.
type ResponseKind string

const (
	// ResponsePartial carries one streamed value; more partials or a
	// final Last response may still follow for the same context id.
	ResponsePartial ResponseKind = "partial"
	// ResponseLast carries the terminal RpcResult; no further response
	// for this context id is valid afterwards.
	ResponseLast ResponseKind = "last"
)

// Status discriminates the outcome carried by a Last response.
type Status string

const (
	StatusOk         Status = "ok"
	StatusErr        Status = "err"
	StatusNotHandled Status = "not_handled"
)

// ErrorKind enumerates the synthesized/handler error taxonomy.
type ErrorKind string

const (
	ErrDisconnected             ErrorKind = "disconnected"
	ErrRpcDone                  ErrorKind = "rpc_done"
	ErrNotHandled               ErrorKind = "not_handled"
	ErrInvalidArgs              ErrorKind = "invalid_args"
	ErrIoError                  ErrorKind = "io_error"
	ErrDuplicateFunctionForPeer ErrorKind = "duplicate_function_for_peer"
)

// RpcError is the payload of a StatusErr result.
type RpcError struct {
	Kind    ErrorKind `json:"kind"`
	Details string    `json:"details,omitempty"`
}

func (e *RpcError) Error() string {
	if e.Details == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Details
}

// RpcResult is the terminal outcome of a call: exactly one of Value (when
// Status is Ok) or Error (when Status is Err) is populated; neither is set
// when Status is NotHandled.
type RpcResult struct {
	Status Status          `json:"status"`
	Value  json.RawMessage `json:"value,omitempty"`
	Error  *RpcError       `json:"error,omitempty"`
}

// OkResult builds a StatusOk RpcResult by marshaling v.
func OkResult(v interface{}) (RpcResult, error) {
	data, err := jsonutil.Marshal(v)
	if err != nil {
		return RpcResult{}, err
	}
	return RpcResult{Status: StatusOk, Value: data}, nil
}

// ErrResult builds a StatusErr RpcResult.
func ErrResult(kind ErrorKind, details string) RpcResult {
	return RpcResult{Status: StatusErr, Error: &RpcError{Kind: kind, Details: details}}
}

// NotHandledResult builds the sentinel result a callee returns when it
// declines a call, telling the broker to try the next-priority handler.
func NotHandledResult() RpcResult {
	return RpcResult{Status: StatusNotHandled}
}

// Response is the payload of a KindResponse message.
type Response struct {
	Kind   ResponseKind    `json:"kind"`
	Value  json.RawMessage `json:"value,omitempty"`
	Result *RpcResult      `json:"result,omitempty"`
}

// Message is the single wire envelope for all three message kinds. Fields
// irrelevant to a given Kind are left at their zero value and omitted from
// the JSON encoding.
type Message struct {
	Kind      Kind            `json:"kind"`
	ContextID string          `json:"context_id"`
	Function  string          `json:"function,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Priority  int             `json:"priority,omitempty"`
	Response  *Response       `json:"response,omitempty"`
}

// MarshalArgs marshals v with the shared codec for embedding as a Message's
// Args field, letting callers build a Message by hand when NewCall's
// all-in-one construction doesn't fit (e.g. assembling the envelope over
// more than one step).
func MarshalArgs(v interface{}) (json.RawMessage, error) {
	data, err := jsonutil.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// NewCall builds a KindCall message, marshaling args with the shared codec.
func NewCall(contextID, function string, args interface{}) (*Message, error) {
	data, err := jsonutil.Marshal(args)
	if err != nil {
		return nil, err
	}
	return &Message{Kind: KindCall, ContextID: contextID, Function: function, Args: data}, nil
}

// NewCancel builds a KindCancel message.
func NewCancel(contextID string) *Message {
	return &Message{Kind: KindCancel, ContextID: contextID}
}

// NewPartialResponse builds a KindResponse/ResponsePartial message, marshaling value.
func NewPartialResponse(contextID string, value interface{}) (*Message, error) {
	data, err := jsonutil.Marshal(value)
	if err != nil {
		return nil, err
	}
	return &Message{Kind: KindResponse, ContextID: contextID, Response: &Response{Kind: ResponsePartial, Value: data}}, nil
}

// NewLastResponse builds a KindResponse/ResponseLast message carrying result.
func NewLastResponse(contextID string, result RpcResult) *Message {
	r := result
	return &Message{Kind: KindResponse, ContextID: contextID, Response: &Response{Kind: ResponseLast, Result: &r}}
}
