// Package rpcctx implements the RPC Context Lifecycle subsystem: the
// caller-role Context (wait/try_recv/recv/cancel over a channel of inbound
// responses) and the callee-role Context (the Alive/Finished/Cancelled
// state machine a handler drives via update/finish/cancelled/call).
package rpcctx

import (
	"errors"

	"github.com/cyw0ng95/meshrpc/pkg/wire"
)

// ErrContextDone is returned by Recv/TryRecv once the terminal response has
// already been delivered.
var ErrContextDone = errors.New("rpcctx: context already finished")

// Update is one inbound event for a caller-role Context: either a streamed
// partial value or the terminal result.
type Update struct {
	Partial []byte
	Result  *wire.RpcResult
}

// IsLast reports whether this update is the terminal one.
func (u *Update) IsLast() bool { return u.Result != nil }

// CallerContext is the handle an application gets back from issuing an
// outgoing call. It is driven by the owning peer loop, which owns the
// underlying channel and is the only goroutine that ever sends on it.
type CallerContext struct {
	id       string
	ch       <-chan *wire.Message
	cancelFn func()
	done     bool
}

// NewCallerContext is called by internal/peer when it registers a new
// outgoing call; application code never constructs one directly.
func NewCallerContext(id string, ch <-chan *wire.Message, cancelFn func()) *CallerContext {
	return &CallerContext{id: id, ch: ch, cancelFn: cancelFn}
}

// ID returns the context id correlating this call across caller, broker,
// and callee.
func (c *CallerContext) ID() string { return c.id }

// Recv blocks until the next Update arrives, or returns ErrContextDone if
// the terminal response was already delivered by a prior Recv/TryRecv.
func (c *CallerContext) Recv() (*Update, error) {
	if c.done {
		return nil, ErrContextDone
	}
	msg, ok := <-c.ch
	if !ok {
		c.done = true
		return &Update{Result: &wire.RpcResult{Status: wire.StatusErr, Error: &wire.RpcError{Kind: wire.ErrDisconnected}}}, nil
	}
	return c.toUpdate(msg), nil
}

// TryRecv returns immediately: (update, true, nil) if one was ready,
// (nil, false, nil) if none was pending yet, or (nil, true, ErrContextDone)
// once the context is already finished.
func (c *CallerContext) TryRecv() (*Update, bool, error) {
	if c.done {
		return nil, true, ErrContextDone
	}
	select {
	case msg, ok := <-c.ch:
		if !ok {
			c.done = true
			return &Update{Result: &wire.RpcResult{Status: wire.StatusErr, Error: &wire.RpcError{Kind: wire.ErrDisconnected}}}, true, nil
		}
		return c.toUpdate(msg), true, nil
	default:
		return nil, false, nil
	}
}

// Wait drains updates, discarding partials, until the terminal RpcResult
// arrives, a convenience for callers who don't care about streamed
// progress.
func (c *CallerContext) Wait() (*wire.RpcResult, error) {
	for {
		u, err := c.Recv()
		if err != nil {
			return nil, err
		}
		if u.IsLast() {
			return u.Result, nil
		}
	}
}

// Cancel requests cancellation of the in-flight call. The owning peer loop
// then drops this call's response channel: Recv still returns any updates
// already queued, then reports a closed stream (a synthesized Disconnected
// result); a terminal response the handler sends afterwards is discarded.
func (c *CallerContext) Cancel() {
	c.cancelFn()
}

func (c *CallerContext) toUpdate(msg *wire.Message) *Update {
	if msg.Response == nil {
		return &Update{Result: &wire.RpcResult{Status: wire.StatusErr, Error: &wire.RpcError{Kind: wire.ErrIoError, Details: "malformed response"}}}
	}
	if msg.Response.Kind == wire.ResponsePartial {
		return &Update{Partial: msg.Response.Value}
	}
	c.done = true
	return &Update{Result: msg.Response.Result}
}
