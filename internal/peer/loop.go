// Package peer implements the Per-Peer Client RPC Loop: the single
// goroutine that owns one connection to the broker, multiplexing outgoing
// calls this process makes against incoming calls the broker routes to
// locally registered handlers. Handler execution is farmed out to a
// github.com/noneback/go-taskflow executor so a slow or blocked handler
// never stalls the loop's own message pump.
package peer

import (
	"fmt"
	"sync"

	"github.com/cyw0ng95/meshrpc/pkg/common"
	"github.com/cyw0ng95/meshrpc/pkg/rpcctx"
	"github.com/cyw0ng95/meshrpc/pkg/transport"
	"github.com/cyw0ng95/meshrpc/pkg/wire"
	"github.com/google/uuid"
	gotaskflow "github.com/noneback/go-taskflow"
)

// Handler is a locally registered function, invoked once per inbound call
// routed to it by the broker. It calls ctx.Finish at most once, and must not
// return while ctx is still Alive: it either Finishes or, once cancelled,
// may simply return. rpcctx checks the "not Alive" rule with an assertion
// run both synchronously after the handler returns and, as a backstop, via
// a finalizer.
type Handler func(ctx *rpcctx.CalleeContext, args []byte)

type registration struct {
	function string
	priority int
	handler  Handler
}

// Loop owns one peer<->broker connection. All of its registries (pending
// outgoing calls, local handlers, running callee contexts) are touched only
// by the run goroutine, so none of it needs locking.
type Loop struct {
	conn   transport.Connection
	logger *common.Logger

	writeCh chan *wire.Message
	cmdCh   chan command

	executor gotaskflow.Executor

	pending  map[string]chan *wire.Message
	handlers map[string]Handler
	running  map[string]*rpcctx.CalleeContext

	closed chan struct{}
	wg     sync.WaitGroup
}

// NewLoop constructs a Loop over conn. workerCount sizes the handler
// dispatch executor; 0 uses common.DefaultWorkerCount.
func NewLoop(conn transport.Connection, logger *common.Logger, workerCount int) *Loop {
	if workerCount <= 0 {
		workerCount = common.DefaultWorkerCount
	}
	l := &Loop{
		conn:     conn,
		logger:   logger,
		writeCh:  make(chan *wire.Message, common.DefaultWriteQueueCapacity),
		cmdCh:    make(chan command, 64),
		executor: gotaskflow.NewExecutor(uint(workerCount)),
		pending:  make(map[string]chan *wire.Message),
		handlers: make(map[string]Handler),
		running:  make(map[string]*rpcctx.CalleeContext),
		closed:   make(chan struct{}),
	}
	return l
}

// Run starts the loop's reader, writer, and command-processing goroutines
// and blocks until the connection is torn down or Quit is requested.
func (l *Loop) Run() {
	l.wg.Add(2)
	go l.writerLoop()
	go l.readerLoop()
	l.runCmd()
	l.wg.Wait()
}

// Close tears down the connection and unblocks Run.
func (l *Loop) Close() {
	l.post(command{kind: cmdQuit})
}

func (l *Loop) post(c command) {
	select {
	case l.cmdCh <- c:
	case <-l.closed:
	}
}

// --- command channel -------------------------------------------------

type cmdKind int

const (
	cmdOutgoingCall cmdKind = iota
	cmdOutgoingCallFinished
	cmdCancelOutgoingRpc
	cmdReceived
	cmdNewRpc
	cmdSend
	cmdCalleeDone
	cmdUnregister
	cmdQuit
)

type command struct {
	kind cmdKind

	contextID string
	msg       *wire.Message

	// cmdOutgoingCall
	function string
	args     []byte
	replyCh  chan *rpcctx.CallerContext

	// cmdNewRpc
	reg    registration
	ackCh  chan error

	// cmdSend
	sendMsg *wire.Message
}

func (l *Loop) runCmd() {
	for c := range l.cmdCh {
		switch c.kind {
		case cmdOutgoingCall:
			l.handleOutgoingCall(c)
		case cmdOutgoingCallFinished:
			delete(l.pending, c.contextID)
		case cmdCancelOutgoingRpc:
			if ch, ok := l.pending[c.contextID]; ok {
				delete(l.pending, c.contextID)
				close(ch)
			}
			l.enqueueWrite(wire.NewCancel(c.contextID))
		case cmdReceived:
			l.handleReceived(c.msg)
		case cmdNewRpc:
			l.handleNewRpc(c)
		case cmdSend:
			l.enqueueWrite(c.sendMsg)
		case cmdCalleeDone:
			delete(l.running, c.contextID)
		case cmdUnregister:
			delete(l.handlers, c.function)
		case cmdQuit:
			l.conn.Shutdown()
			for ctxID, ch := range l.pending {
				delete(l.pending, ctxID)
				close(ch)
			}
			close(l.closed)
			return
		}
	}
}

// --- outgoing calls ----------------------------------------------------

// Call issues an outgoing call for function with args, returning a
// CallerContext the application drives with Recv/Wait/Cancel.
func (l *Loop) Call(function string, args interface{}) (*rpcctx.CallerContext, error) {
	raw, err := wire.MarshalArgs(args)
	if err != nil {
		return nil, err
	}
	replyCh := make(chan *rpcctx.CallerContext, 1)
	l.post(command{kind: cmdOutgoingCall, function: function, args: raw, replyCh: replyCh})
	select {
	case ctx := <-replyCh:
		return ctx, nil
	case <-l.closed:
		return nil, fmt.Errorf("peer: loop closed")
	}
}

func (l *Loop) handleOutgoingCall(c command) {
	contextID := uuid.NewString()
	respCh := make(chan *wire.Message, 8)
	l.pending[contextID] = respCh

	cancelFn := func() {
		l.post(command{kind: cmdCancelOutgoingRpc, contextID: contextID})
	}
	callerCtx := rpcctx.NewCallerContext(contextID, respCh, cancelFn)

	msg := &wire.Message{Kind: wire.KindCall, ContextID: contextID, Function: c.function, Args: c.args}
	l.enqueueWrite(msg)
	c.replyCh <- callerCtx
}

// --- local handler registration ----------------------------------------

// NewRPC registers handler as this peer's implementation of function at
// priority, issuing the broker's core.new_rpc call and blocking until the
// broker acknowledges or rejects it.
func (l *Loop) NewRPC(function string, priority int, handler Handler) error {
	ackCh := make(chan error, 1)
	l.post(command{kind: cmdNewRpc, reg: registration{function: function, priority: priority, handler: handler}, ackCh: ackCh})
	select {
	case err := <-ackCh:
		return err
	case <-l.closed:
		return fmt.Errorf("peer: loop closed")
	}
}

func (l *Loop) handleNewRpc(c command) {
	l.handlers[c.reg.function] = c.reg.handler

	contextID := uuid.NewString()
	respCh := make(chan *wire.Message, 1)
	l.pending[contextID] = respCh

	raw, err := wire.MarshalArgs(map[string]interface{}{"function": c.reg.function, "priority": c.reg.priority})
	if err != nil {
		delete(l.pending, contextID)
		c.ackCh <- err
		return
	}
	l.enqueueWrite(&wire.Message{Kind: wire.KindCall, ContextID: contextID, Function: "core.new_rpc", Args: raw})

	go func() {
		msg, ok := <-respCh
		l.post(command{kind: cmdOutgoingCallFinished, contextID: contextID})
		if !ok || msg.Response == nil || msg.Response.Result == nil {
			c.ackCh <- fmt.Errorf("peer: registration of %q failed: no response", c.reg.function)
			return
		}
		if msg.Response.Result.Status != wire.StatusOk {
			errMsg := "registration rejected"
			if msg.Response.Result.Error != nil {
				errMsg = msg.Response.Result.Error.Error()
			}
			l.post(command{kind: cmdUnregister, function: c.reg.function})
			c.ackCh <- fmt.Errorf("peer: registration of %q failed: %s", c.reg.function, errMsg)
			return
		}
		c.ackCh <- nil
	}()
}

// --- inbound message handling ------------------------------------------

func (l *Loop) handleReceived(msg *wire.Message) {
	switch msg.Kind {
	case wire.KindResponse:
		if ch, ok := l.pending[msg.ContextID]; ok {
			ch <- msg
			if msg.Response != nil && msg.Response.Kind == wire.ResponseLast {
				delete(l.pending, msg.ContextID)
				close(ch)
			}
		}
	case wire.KindCancel:
		if ctx, ok := l.running[msg.ContextID]; ok {
			ctx.RequestCancel()
		}
	case wire.KindCall:
		l.dispatchInbound(msg)
	}
}

func (l *Loop) dispatchInbound(msg *wire.Message) {
	handler, ok := l.handlers[msg.Function]
	if !ok {
		l.enqueueWrite(wire.NewLastResponse(msg.ContextID, wire.ErrResult(wire.ErrNotHandled, msg.Function)))
		return
	}

	calleeCtx := rpcctx.NewCalleeContext(
		msg.ContextID,
		func(raw []byte) error {
			l.post(command{kind: cmdSend, sendMsg: &wire.Message{Kind: wire.KindResponse, ContextID: msg.ContextID, Response: &wire.Response{Kind: wire.ResponsePartial, Value: raw}}})
			return nil
		},
		func(result wire.RpcResult) error {
			l.post(command{kind: cmdSend, sendMsg: wire.NewLastResponse(msg.ContextID, result)})
			l.post(command{kind: cmdCalleeDone, contextID: msg.ContextID})
			return nil
		},
		func(function string, args interface{}) (*rpcctx.CallerContext, error) {
			return l.Call(function, args)
		},
	)
	l.running[msg.ContextID] = calleeCtx

	args := []byte(msg.Args)
	tf := gotaskflow.NewTaskFlow(msg.ContextID)
	tf.NewTask("handle", func() {
		handler(calleeCtx, args)
		calleeCtx.CheckFinishedOrAbort()
	})
	go func() {
		l.executor.Run(tf).Wait()
	}()
}

// --- wire I/O ------------------------------------------------------------

func (l *Loop) enqueueWrite(msg *wire.Message) {
	select {
	case l.writeCh <- msg:
	case <-l.closed:
	}
}

func (l *Loop) writerLoop() {
	defer l.wg.Done()
	for {
		select {
		case msg := <-l.writeCh:
			if err := wire.WriteMessage(l.conn.Writer(), msg); err != nil {
				l.logger.Warn("peer loop: write failed: %v", err)
				l.Close()
				return
			}
		case <-l.closed:
			return
		}
	}
}

func (l *Loop) readerLoop() {
	defer l.wg.Done()
	for {
		msg, err := wire.ReadMessage(l.conn.Reader())
		if err != nil {
			l.Close()
			return
		}
		l.post(command{kind: cmdReceived, msg: msg})
	}
}
