package rpcctx

import (
	"testing"

	"github.com/cyw0ng95/meshrpc/pkg/wire"
	"github.com/stretchr/testify/require"
)

func TestCallerContext_RecvDeliversPartialsThenLast(t *testing.T) {
	ch := make(chan *wire.Message, 4)
	ctx := NewCallerContext("ctx-1", ch, func() {})

	partial, err := wire.NewPartialResponse("ctx-1", "a")
	require.NoError(t, err)
	ch <- partial

	ok, err := wire.OkResult("z")
	require.NoError(t, err)
	ch <- wire.NewLastResponse("ctx-1", ok)
	close(ch)

	u, err := ctx.Recv()
	require.NoError(t, err)
	require.False(t, u.IsLast())

	u, err = ctx.Recv()
	require.NoError(t, err)
	require.True(t, u.IsLast())
	require.Equal(t, wire.StatusOk, u.Result.Status)
}

func TestCallerContext_RecvAfterCancel_ReportsClosedStream(t *testing.T) {
	ch := make(chan *wire.Message)
	cancelled := false
	ctx := NewCallerContext("ctx-1", ch, func() {
		cancelled = true
		close(ch) // stands in for the owning peer loop's cmdCancelOutgoingRpc handling
	})

	ctx.Cancel()
	require.True(t, cancelled)

	// spec.md §4.4: "subsequent receives report a closed stream" once
	// Cancel has been called; the loop no longer feeds this channel.
	u, err := ctx.Recv()
	require.NoError(t, err)
	require.True(t, u.IsLast())
	require.Equal(t, wire.StatusErr, u.Result.Status)
	require.Equal(t, wire.ErrDisconnected, u.Result.Error.Kind)

	// A second Recv must not block: the context is already marked done.
	u, err = ctx.Recv()
	require.ErrorIs(t, err, ErrContextDone)
	require.Nil(t, u)
}

func TestCallerContext_TryRecv_NonBlockingWhenEmpty(t *testing.T) {
	ch := make(chan *wire.Message, 1)
	ctx := NewCallerContext("ctx-1", ch, func() {})

	u, ready, err := ctx.TryRecv()
	require.NoError(t, err)
	require.False(t, ready)
	require.Nil(t, u)

	partial, err := wire.NewPartialResponse("ctx-1", 1)
	require.NoError(t, err)
	ch <- partial

	u, ready, err = ctx.TryRecv()
	require.NoError(t, err)
	require.True(t, ready)
	require.False(t, u.IsLast())
}

func TestCallerContext_Wait_SkipsPartialsAndReturnsLast(t *testing.T) {
	ch := make(chan *wire.Message, 4)
	ctx := NewCallerContext("ctx-1", ch, func() {})

	for i := 0; i < 3; i++ {
		partial, err := wire.NewPartialResponse("ctx-1", i)
		require.NoError(t, err)
		ch <- partial
	}
	ok, err := wire.OkResult("done")
	require.NoError(t, err)
	ch <- wire.NewLastResponse("ctx-1", ok)
	close(ch)

	res, err := ctx.Wait()
	require.NoError(t, err)
	require.Equal(t, wire.StatusOk, res.Status)
}
