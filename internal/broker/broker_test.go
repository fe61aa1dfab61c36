package broker

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/cyw0ng95/meshrpc/pkg/common"
	"github.com/cyw0ng95/meshrpc/pkg/transport"
	"github.com/cyw0ng95/meshrpc/pkg/wire"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// testPeer drives one simulated peer's side of a net.Pipe connection
// directly against the wire protocol, standing in for a full internal/peer loop.
type testPeer struct {
	t    *testing.T
	conn transport.Connection
}

func connectPeer(t *testing.T, b *Broker) *testPeer {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	go b.HandleConnection(transport.WrapConn(serverSide))
	return &testPeer{t: t, conn: transport.WrapConn(clientSide)}
}

func (p *testPeer) send(msg *wire.Message) {
	p.t.Helper()
	require.NoError(p.t, wire.WriteMessage(p.conn.Writer(), msg))
}

func (p *testPeer) recv() *wire.Message {
	p.t.Helper()
	msg, err := wire.ReadMessage(p.conn.Reader())
	require.NoError(p.t, err)
	return msg
}

func (p *testPeer) register(function string, priority int) {
	p.t.Helper()
	ctx := uuid.NewString()
	msg, err := wire.NewCall(ctx, "core.new_rpc", map[string]interface{}{"function": function, "priority": priority})
	require.NoError(p.t, err)
	p.send(msg)
	resp := p.recv()
	require.Equal(p.t, wire.ResponseLast, resp.Response.Kind)
	require.Equal(p.t, wire.StatusOk, resp.Response.Result.Status)
}

func newTestBroker() *Broker {
	logger := common.NewLogger(io.Discard, "broker-test", common.ErrorLevel)
	return New(logger, 8)
}

func TestBroker_BasicEcho(t *testing.T) {
	b := newTestBroker()
	handler := connectPeer(t, b)
	handler.register("echo", 0)

	caller := connectPeer(t, b)
	ctx := uuid.NewString()
	callMsg, err := wire.NewCall(ctx, "echo", "hello")
	require.NoError(t, err)
	caller.send(callMsg)

	forwarded := handler.recv()
	require.Equal(t, wire.KindCall, forwarded.Kind)
	require.Equal(t, "echo", forwarded.Function)

	respMsg, err := wire.NewPartialResponse(ctx, "hello")
	require.NoError(t, err)
	handler.send(respMsg)
	got := caller.recv()
	require.Equal(t, wire.ResponsePartial, got.Response.Kind)

	res, err := wire.OkResult("hello")
	require.NoError(t, err)
	handler.send(wire.NewLastResponse(ctx, res))
	got = caller.recv()
	require.Equal(t, wire.ResponseLast, got.Response.Kind)
	require.Equal(t, wire.StatusOk, got.Response.Result.Status)
}

func TestBroker_UnknownFunctionIsNotHandled(t *testing.T) {
	b := newTestBroker()
	caller := connectPeer(t, b)

	ctx := uuid.NewString()
	callMsg, err := wire.NewCall(ctx, "does-not-exist", nil)
	require.NoError(t, err)
	caller.send(callMsg)

	got := caller.recv()
	require.Equal(t, wire.ResponseLast, got.Response.Kind)
	require.Equal(t, wire.StatusNotHandled, got.Response.Result.Status)
}

func TestBroker_PriorityFallthroughOnNotHandled(t *testing.T) {
	b := newTestBroker()
	low := connectPeer(t, b)   // priority 0: the lower number is tried first
	low.register("greet", 0)
	high := connectPeer(t, b)
	high.register("greet", 10)

	caller := connectPeer(t, b)
	ctx := uuid.NewString()
	callMsg, err := wire.NewCall(ctx, "greet", nil)
	require.NoError(t, err)
	caller.send(callMsg)

	firstTry := low.recv()
	require.Equal(t, "greet", firstTry.Function)
	low.send(wire.NewLastResponse(ctx, wire.NotHandledResult()))

	secondTry := high.recv()
	require.Equal(t, "greet", secondTry.Function)
	res, err := wire.OkResult("hi")
	require.NoError(t, err)
	high.send(wire.NewLastResponse(ctx, res))

	got := caller.recv()
	require.Equal(t, wire.StatusOk, got.Response.Result.Status)
}

func TestBroker_DuplicateRegistrationForPeerFails(t *testing.T) {
	b := newTestBroker()
	peer := connectPeer(t, b)
	peer.register("greet", 0)

	ctx := uuid.NewString()
	msg, err := wire.NewCall(ctx, "core.new_rpc", map[string]interface{}{"function": "greet", "priority": 5})
	require.NoError(t, err)
	peer.send(msg)

	resp := peer.recv()
	require.Equal(t, wire.StatusErr, resp.Response.Result.Status)
	require.Equal(t, wire.ErrDuplicateFunctionForPeer, resp.Response.Result.Error.Kind)
}

func TestBroker_HandlerDisconnectMidCallSynthesizesDisconnected(t *testing.T) {
	b := newTestBroker()
	handler := connectPeer(t, b)
	handler.register("slow", 0)

	caller := connectPeer(t, b)
	ctx := uuid.NewString()
	callMsg, err := wire.NewCall(ctx, "slow", nil)
	require.NoError(t, err)
	caller.send(callMsg)
	handler.recv() // forwarded call

	require.NoError(t, handler.conn.Shutdown())

	time.Sleep(50 * time.Millisecond)
	got := caller.recv()
	require.Equal(t, wire.ResponseLast, got.Response.Kind)
	require.Equal(t, wire.StatusErr, got.Response.Result.Status)
	require.Equal(t, wire.ErrDisconnected, got.Response.Result.Error.Kind)
}

func TestBroker_CancelForwardsToCurrentHandler(t *testing.T) {
	b := newTestBroker()
	handler := connectPeer(t, b)
	handler.register("stream", 0)

	caller := connectPeer(t, b)
	ctx := uuid.NewString()
	callMsg, err := wire.NewCall(ctx, "stream", nil)
	require.NoError(t, err)
	caller.send(callMsg)
	handler.recv()

	caller.send(wire.NewCancel(ctx))
	cancelMsg := handler.recv()
	require.Equal(t, wire.KindCancel, cancelMsg.Kind)
	require.Equal(t, ctx, cancelMsg.ContextID)
}

func TestBroker_CallerDisconnectMidCallSynthesizesCancelToHandler(t *testing.T) {
	b := newTestBroker()
	handler := connectPeer(t, b)
	handler.register("stream", 0)

	caller := connectPeer(t, b)
	ctx := uuid.NewString()
	callMsg, err := wire.NewCall(ctx, "stream", nil)
	require.NoError(t, err)
	caller.send(callMsg)
	handler.recv() // forwarded call

	require.NoError(t, caller.conn.Shutdown())

	cancelMsg := handler.recv()
	require.Equal(t, wire.KindCancel, cancelMsg.Kind)
	require.Equal(t, ctx, cancelMsg.ContextID)
}
