package client_test

import (
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyw0ng95/meshrpc/internal/broker"
	"github.com/cyw0ng95/meshrpc/pkg/client"
	"github.com/cyw0ng95/meshrpc/pkg/common"
	"github.com/cyw0ng95/meshrpc/pkg/rpcctx"
	"github.com/cyw0ng95/meshrpc/pkg/transport"
	"github.com/cyw0ng95/meshrpc/pkg/wire"
	"github.com/stretchr/testify/require"
)

func startBroker(t *testing.T) string {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "broker.sock")
	logger := common.NewLogger(io.Discard, "broker-e2e", common.ErrorLevel)
	b := broker.New(logger, 16)
	ln, err := transport.ListenUnix(sockPath)
	require.NoError(t, err)
	go b.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return sockPath
}

func connectLogger() *common.Logger {
	return common.NewLogger(io.Discard, "client-e2e", common.ErrorLevel)
}

func TestClient_EndToEndEcho(t *testing.T) {
	sock := startBroker(t)

	server, err := client.Connect(client.Options{Network: "unix", Address: sock, Logger: connectLogger()})
	require.NoError(t, err)
	defer server.Close()
	require.NoError(t, server.NewRPC("echo", 0, func(ctx *rpcctx.CalleeContext, args []byte) {
		res, err := wire.OkResult(string(args))
		require.NoError(t, err)
		require.NoError(t, ctx.Finish(res))
	}))

	caller, err := client.Connect(client.Options{Network: "unix", Address: sock, Logger: connectLogger()})
	require.NoError(t, err)
	defer caller.Close()

	callCtx, err := caller.Call("echo", "ping")
	require.NoError(t, err)
	res, err := callCtx.Wait()
	require.NoError(t, err)
	require.Equal(t, wire.StatusOk, res.Status)
}

func TestClient_ThinCallerSharesConnection(t *testing.T) {
	sock := startBroker(t)

	server, err := client.Connect(client.Options{Network: "unix", Address: sock, Logger: connectLogger()})
	require.NoError(t, err)
	defer server.Close()
	require.NoError(t, server.NewRPC("add", 0, func(ctx *rpcctx.CalleeContext, args []byte) {
		res, _ := wire.OkResult("ok")
		_ = ctx.Finish(res)
	}))

	caller, err := client.Connect(client.Options{Network: "unix", Address: sock, Logger: connectLogger()})
	require.NoError(t, err)
	defer caller.Close()

	tc := client.NewThinCaller(caller)
	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		clone := tc.Clone()
		go func(i int) {
			ctx, err := clone.Call("add", i)
			if err != nil {
				done <- err
				return
			}
			_, err = ctx.Wait()
			done <- err
		}(i)
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-done)
	}
}

func TestClient_DuplicateRegistrationOnSamePeerFails(t *testing.T) {
	sock := startBroker(t)

	c, err := client.Connect(client.Options{Network: "unix", Address: sock, Logger: connectLogger()})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.NewRPC("dup", 0, func(ctx *rpcctx.CalleeContext, args []byte) {
		res, _ := wire.OkResult("ok")
		_ = ctx.Finish(res)
	}))
	err = c.NewRPC("dup", 1, func(ctx *rpcctx.CalleeContext, args []byte) {
		res, _ := wire.OkResult("ok")
		_ = ctx.Finish(res)
	})
	require.Error(t, err)
}

func TestClient_HandlerDisconnectSynthesizesDisconnected(t *testing.T) {
	sock := startBroker(t)

	started := make(chan struct{})
	server, err := client.Connect(client.Options{Network: "unix", Address: sock, Logger: connectLogger()})
	require.NoError(t, err)
	require.NoError(t, server.NewRPC("hang", 0, func(ctx *rpcctx.CalleeContext, args []byte) {
		close(started)
		<-ctx.Done()
	}))

	caller, err := client.Connect(client.Options{Network: "unix", Address: sock, Logger: connectLogger()})
	require.NoError(t, err)
	defer caller.Close()

	callCtx, err := caller.Call("hang", nil)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	server.Close()

	res, err := callCtx.Wait()
	require.NoError(t, err)
	require.Equal(t, wire.StatusErr, res.Status)
	require.Equal(t, wire.ErrDisconnected, res.Error.Kind)
}

func TestClient_ConnectRejectsUnknownNetwork(t *testing.T) {
	_, err := client.Connect(client.Options{Network: "carrier-pigeon", Address: "n/a"})
	require.Error(t, err)
	require.Contains(t, fmt.Sprint(err), "unknown network")
}
