package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadMessage_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{
			name: "call",
			msg: func() *Message {
				m, err := NewCall("ctx-1", "echo", map[string]string{"text": "hi"})
				require.NoError(t, err)
				return m
			}(),
		},
		{
			name: "cancel",
			msg:  NewCancel("ctx-2"),
		},
		{
			name: "partial response",
			msg: func() *Message {
				m, err := NewPartialResponse("ctx-3", []int{1, 2, 3})
				require.NoError(t, err)
				return m
			}(),
		},
		{
			name: "last ok response",
			msg: func() *Message {
				res, err := OkResult("done")
				require.NoError(t, err)
				return NewLastResponse("ctx-4", res)
			}(),
		},
		{
			name: "last err response",
			msg:  NewLastResponse("ctx-5", ErrResult(ErrNotHandled, "no handler")),
		},
		{
			name: "last not-handled response",
			msg:  NewLastResponse("ctx-6", NotHandledResult()),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteMessage(&buf, tt.msg))

			got, err := ReadMessage(&buf)
			require.NoError(t, err)
			require.Equal(t, tt.msg.Kind, got.Kind)
			require.Equal(t, tt.msg.ContextID, got.ContextID)
			require.Equal(t, tt.msg.Function, got.Function)
		})
	}
}

func TestReadMessage_MultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	first := NewCancel("a")
	second := NewCancel("b")
	require.NoError(t, WriteMessage(&buf, first))
	require.NoError(t, WriteMessage(&buf, second))

	got1, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, "a", got1.ContextID)

	got2, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, "b", got2.ContextID)
}

func TestReadMessage_EOFOnEmptyStream(t *testing.T) {
	_, err := ReadMessage(&bytes.Buffer{})
	require.ErrorIs(t, err, io.EOF)
}

func TestReadMessage_PartialFrameIsUnexpectedEOF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, NewCancel("truncated")))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])

	_, err := ReadMessage(truncated)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestOkResult_MarshalsValue(t *testing.T) {
	res, err := OkResult(map[string]int{"n": 42})
	require.NoError(t, err)
	require.Equal(t, StatusOk, res.Status)
	require.JSONEq(t, `{"n":42}`, string(res.Value))
}

func TestRpcError_Error(t *testing.T) {
	withDetails := &RpcError{Kind: ErrInvalidArgs, Details: "missing field x"}
	require.Equal(t, "invalid_args: missing field x", withDetails.Error())

	bare := &RpcError{Kind: ErrDisconnected}
	require.Equal(t, "disconnected", bare.Error())
}
