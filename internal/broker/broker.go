// Package broker implements the Broker Dispatcher and Broker I/O Bridge
// subsystems: it accepts peer connections, maintains the function registry
// and in-flight call table, and routes rpc_call/rpc_response/rpc_cancel
// messages between peers by function name and priority. It never executes
// handler code itself, except the built-in core.new_rpc registration call.
package broker

import (
	"fmt"
	"sync"

	"github.com/cyw0ng95/meshrpc/internal/registry"
	"github.com/cyw0ng95/meshrpc/pkg/common"
	"github.com/cyw0ng95/meshrpc/pkg/jsonutil"
	"github.com/cyw0ng95/meshrpc/pkg/transport"
	"github.com/cyw0ng95/meshrpc/pkg/wire"
	"github.com/google/uuid"
)

// newRPCFunction is the broker-served built-in a peer calls to register
// itself as a handler for a function name at a priority.
const newRPCFunction = "core.new_rpc"

type newRPCArgs struct {
	Function string `json:"function"`
	Priority int    `json:"priority"`
}

// Broker owns the function registry, the in-flight call table, and every
// currently-connected peer.
type Broker struct {
	mu    sync.Mutex
	peers map[string]*peerConn

	registry *registry.FunctionRegistry
	inflight *registry.InFlightTable

	logger   *common.Logger
	queueCap int
}

// New creates a Broker. queueCap bounds each peer's outbound message
// queue; 0 uses common.DefaultWriteQueueCapacity.
func New(logger *common.Logger, queueCap int) *Broker {
	if queueCap <= 0 {
		queueCap = common.DefaultWriteQueueCapacity
	}
	return &Broker{
		peers:    make(map[string]*peerConn),
		registry: registry.NewFunctionRegistry(),
		inflight: registry.NewInFlightTable(),
		logger:   logger,
		queueCap: queueCap,
	}
}

// Serve runs ln's accept loop until it returns an error (typically because
// ln.Close was called during shutdown).
func (b *Broker) Serve(ln transport.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go b.HandleConnection(conn)
	}
}

func (b *Broker) HandleConnection(conn transport.Connection) {
	id := uuid.NewString()
	pc := newPeerConn(id, conn, b.queueCap, b.logger)

	b.mu.Lock()
	b.peers[id] = pc
	b.mu.Unlock()

	b.logger.Info("peer %s connected from %s", id, conn.RemoteAddr())

	go pc.writerLoop()
	pc.readerLoop(func(msg *wire.Message) {
		b.dispatch(id, msg)
	})

	b.disconnectPeer(id)
}

// PeerCount reports the number of currently-connected peers, used by tests
// and broker introspection.
func (b *Broker) PeerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.peers)
}

func (b *Broker) dispatch(peerID string, msg *wire.Message) {
	switch msg.Kind {
	case wire.KindCall:
		b.routeCall(peerID, msg)
	case wire.KindCancel:
		b.routeCancel(peerID, msg)
	case wire.KindResponse:
		b.routeResponse(peerID, msg)
	default:
		b.logger.Warn("peer %s: unknown message kind %q", peerID, msg.Kind)
	}
}

func (b *Broker) routeCall(callerID string, msg *wire.Message) {
	if msg.Function == newRPCFunction {
		b.handleNewRPC(callerID, msg)
		return
	}

	handlers := b.registry.HandlersFor(msg.Function)
	if len(handlers) == 0 {
		b.sendTo(callerID, wire.NewLastResponse(msg.ContextID, wire.NotHandledResult()))
		return
	}

	b.inflight.Put(msg.ContextID, &registry.InFlightCall{
		CallerPeerID: callerID,
		Function:     msg.Function,
		Args:         msg.Args,
		HandlerIndex: 0,
	})
	b.forwardCall(handlers[0].PeerID, msg)
}

func (b *Broker) forwardCall(handlerPeerID string, msg *wire.Message) {
	b.sendTo(handlerPeerID, msg)
}

func (b *Broker) routeCancel(callerID string, msg *wire.Message) {
	call, ok := b.inflight.Get(msg.ContextID)
	if !ok {
		return
	}
	handlers := b.registry.HandlersFor(call.Function)
	if call.HandlerIndex >= len(handlers) {
		return
	}
	b.sendTo(handlers[call.HandlerIndex].PeerID, msg)
}

func (b *Broker) routeResponse(handlerID string, msg *wire.Message) {
	if msg.Response == nil {
		return
	}
	call, ok := b.inflight.Get(msg.ContextID)
	if !ok {
		return
	}

	if msg.Response.Kind == wire.ResponsePartial {
		b.sendTo(call.CallerPeerID, msg)
		return
	}

	// Last response.
	if msg.Response.Result != nil && msg.Response.Result.Status == wire.StatusNotHandled {
		handlers := b.registry.HandlersFor(call.Function)
		nextIdx := call.HandlerIndex + 1
		if nextIdx < len(handlers) {
			b.inflight.AdvanceHandler(msg.ContextID)
			callMsg := &wire.Message{
				Kind:      wire.KindCall,
				ContextID: msg.ContextID,
				Function:  call.Function,
				Args:      call.Args,
			}
			b.forwardCall(handlers[nextIdx].PeerID, callMsg)
			return
		}
		b.inflight.Delete(msg.ContextID)
		b.sendTo(call.CallerPeerID, wire.NewLastResponse(msg.ContextID, wire.NotHandledResult()))
		return
	}

	b.inflight.Delete(msg.ContextID)
	b.sendTo(call.CallerPeerID, msg)
}

func (b *Broker) handleNewRPC(callerID string, msg *wire.Message) {
	var args newRPCArgs
	if err := jsonutil.Unmarshal(msg.Args, &args); err != nil {
		b.sendTo(callerID, wire.NewLastResponse(msg.ContextID, wire.ErrResult(wire.ErrInvalidArgs, err.Error())))
		return
	}
	if args.Function == "" {
		b.sendTo(callerID, wire.NewLastResponse(msg.ContextID, wire.ErrResult(wire.ErrInvalidArgs, "function name is required")))
		return
	}

	if !b.registry.Register(args.Function, callerID, args.Priority) {
		b.sendTo(callerID, wire.NewLastResponse(msg.ContextID, wire.ErrResult(wire.ErrDuplicateFunctionForPeer, args.Function)))
		return
	}

	res, err := wire.OkResult(true)
	if err != nil {
		res = wire.ErrResult(wire.ErrIoError, err.Error())
	}
	b.sendTo(callerID, wire.NewLastResponse(msg.ContextID, res))
}

// sendTo enqueues msg for peerID; if the peer's queue is saturated or the
// peer is unknown, the peer is disconnected (if present) per the resolved
// Open Question treating saturation as equivalent to a closed connection.
func (b *Broker) sendTo(peerID string, msg *wire.Message) {
	b.mu.Lock()
	pc, ok := b.peers[peerID]
	b.mu.Unlock()
	if !ok {
		return
	}
	if !pc.trySend(msg) {
		b.logger.Warn("peer %s: write queue saturated, disconnecting", peerID)
		pc.shutdown()
	}
}

// disconnectPeer tears down bookkeeping for a peer that has gone away: it
// deregisters every function the peer handled and synthesizes
// Last(Err(Disconnected)) for every call currently in flight to it.
func (b *Broker) disconnectPeer(peerID string) {
	b.mu.Lock()
	pc, ok := b.peers[peerID]
	if ok {
		delete(b.peers, peerID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	pc.shutdown()

	// Collect the calls this peer is handling before deregistering it:
	// CallsHandledBy resolves each call's handler through the registry.
	handled := b.inflight.CallsHandledBy(peerID, b.registry)
	b.registry.DeregisterPeer(peerID)

	for ctxID, call := range handled {
		b.inflight.Delete(ctxID)
		b.sendTo(call.CallerPeerID, wire.NewLastResponse(ctxID, wire.ErrResult(wire.ErrDisconnected, fmt.Sprintf("handler peer %s disconnected", peerID))))
	}

	// The disconnected peer may also have been mid-call as the caller of
	// calls some other peer is still servicing; those handlers need a
	// synthesized cancel so they stop streaming work nobody will read.
	for ctxID, call := range b.inflight.CallsInitiatedBy(peerID) {
		b.inflight.Delete(ctxID)
		handlers := b.registry.HandlersFor(call.Function)
		if call.HandlerIndex < len(handlers) {
			b.sendTo(handlers[call.HandlerIndex].PeerID, wire.NewCancel(ctxID))
		}
	}

	b.logger.Info("peer %s disconnected", peerID)
}
