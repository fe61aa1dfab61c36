package peer

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/cyw0ng95/meshrpc/internal/broker"
	"github.com/cyw0ng95/meshrpc/pkg/common"
	"github.com/cyw0ng95/meshrpc/pkg/rpcctx"
	"github.com/cyw0ng95/meshrpc/pkg/transport"
	"github.com/cyw0ng95/meshrpc/pkg/wire"
	"github.com/stretchr/testify/require"
)

func testLogger() *common.Logger {
	return common.NewLogger(io.Discard, "peer-test", common.ErrorLevel)
}

func connectedLoops(t *testing.T) (*broker.Broker, *Loop, *Loop) {
	t.Helper()
	b := broker.New(testLogger(), 8)

	aServer, aClient := net.Pipe()
	go b.HandleConnection(transport.WrapConn(aServer))
	loopA := NewLoop(transport.WrapConn(aClient), testLogger(), 2)
	go loopA.Run()

	bServer, bClient := net.Pipe()
	go b.HandleConnection(transport.WrapConn(bServer))
	loopB := NewLoop(transport.WrapConn(bClient), testLogger(), 2)
	go loopB.Run()

	t.Cleanup(func() {
		loopA.Close()
		loopB.Close()
	})
	return b, loopA, loopB
}

func TestLoop_RegisterAndCallEcho(t *testing.T) {
	_, server, client := connectedLoops(t)

	require.NoError(t, server.NewRPC("echo", 0, func(ctx *rpcctx.CalleeContext, args []byte) {
		require.NoError(t, ctx.Finish(mustOk(t, string(args))))
	}))

	callCtx, err := client.Call("echo", "hello")
	require.NoError(t, err)
	res, err := callCtx.Wait()
	require.NoError(t, err)
	require.Equal(t, wire.StatusOk, res.Status)
}

func TestLoop_StreamingPartials(t *testing.T) {
	_, server, client := connectedLoops(t)

	require.NoError(t, server.NewRPC("count", 0, func(ctx *rpcctx.CalleeContext, args []byte) {
		for i := 0; i < 3; i++ {
			require.NoError(t, ctx.Update(i))
		}
		ok, err := wire.OkResult("done")
		require.NoError(t, err)
		require.NoError(t, ctx.Finish(ok))
	}))

	callCtx, err := client.Call("count", nil)
	require.NoError(t, err)

	partials := 0
	for {
		u, err := callCtx.Recv()
		require.NoError(t, err)
		if u.IsLast() {
			require.Equal(t, wire.StatusOk, u.Result.Status)
			break
		}
		partials++
	}
	require.Equal(t, 3, partials)
}

func TestLoop_UnknownFunctionNotHandled(t *testing.T) {
	_, _, client := connectedLoops(t)

	callCtx, err := client.Call("nope", nil)
	require.NoError(t, err)
	res, err := callCtx.Wait()
	require.NoError(t, err)
	require.Equal(t, wire.StatusNotHandled, res.Status)
}

func TestLoop_CancelReachesHandler(t *testing.T) {
	_, server, client := connectedLoops(t)

	cancelled := make(chan struct{})
	require.NoError(t, server.NewRPC("block", 0, func(ctx *rpcctx.CalleeContext, args []byte) {
		<-ctx.Done()
		close(cancelled)
		require.NoError(t, ctx.Finish(wire.ErrResult(wire.ErrRpcDone, "cancelled")))
	}))

	callCtx, err := client.Call("block", nil)
	require.NoError(t, err)
	callCtx.Cancel()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never cancelled")
	}
	_, err = callCtx.Wait()
	require.NoError(t, err)
}

// TestLoop_CancelHandlerReturnsWithoutFinish exercises spec.md §8 scenario
// 3's literal handler shape: poll cancelled() then just return, never
// calling Finish. The caller's Wait must still observe a closed stream
// rather than blocking forever.
func TestLoop_CancelHandlerReturnsWithoutFinish(t *testing.T) {
	_, server, client := connectedLoops(t)

	observedCancel := make(chan struct{})
	require.NoError(t, server.NewRPC("stream", 0, func(ctx *rpcctx.CalleeContext, args []byte) {
		require.NoError(t, ctx.Update(0))
		require.NoError(t, ctx.Update(1))
		for !ctx.Cancelled() {
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
				t.Error("handler never observed cancellation")
				return
			}
		}
		close(observedCancel)
		// No Finish call: this is the sanctioned "just return" path.
	}))

	callCtx, err := client.Call("stream", nil)
	require.NoError(t, err)

	callCtx.Cancel()

	select {
	case <-observedCancel:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never cancelled")
	}

	done := make(chan struct{})
	go func() {
		callCtx.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() blocked forever after cancel with no Finish")
	}
}

func mustOk(t *testing.T, v interface{}) wire.RpcResult {
	t.Helper()
	res, err := wire.OkResult(v)
	require.NoError(t, err)
	return res
}
