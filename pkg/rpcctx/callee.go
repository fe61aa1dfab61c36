package rpcctx

import (
	"runtime"
	"sync/atomic"

	"github.com/cyw0ng95/meshrpc/pkg/assert"
	"github.com/cyw0ng95/meshrpc/pkg/jsonutil"
	"github.com/cyw0ng95/meshrpc/pkg/wire"
)

// CalleeState is the Alive/Finished/Cancelled state machine a registered
// handler drives.
type CalleeState int32

const (
	// Alive is the initial state: the handler may still Update or Finish.
	Alive CalleeState = iota
	// Finished means Finish was called; no further Update/Finish calls are
	// permitted.
	Finished
	// Cancelled means the broker forwarded an rpc_cancel for this call; the
	// handler may still Finish (typically with a cancellation-flavored
	// result) or simply return without finishing.
	Cancelled
)

// CallFunc lets a handler itself act as a caller, issuing a nested outgoing
// call through the owning peer loop.
type CallFunc func(function string, args interface{}) (*CallerContext, error)

// CalleeContext is the handle a registered handler receives for one
// inbound call. Destroying it (letting it become unreachable) while still
// Alive is a contract violation: the handler must call Finish (or observe
// cancellation) before it is done with it.
type CalleeContext struct {
	id    string
	state int32

	sendPartial func([]byte) error
	sendLast    func(wire.RpcResult) error
	callFn      CallFunc

	cancelCh chan struct{}
}

// NewCalleeContext is called by internal/peer when dispatching an inbound
// call to a registered handler; application code never constructs one
// directly.
func NewCalleeContext(id string, sendPartial func([]byte) error, sendLast func(wire.RpcResult) error, callFn CallFunc) *CalleeContext {
	c := &CalleeContext{
		id:          id,
		state:       int32(Alive),
		sendPartial: sendPartial,
		sendLast:    sendLast,
		callFn:      callFn,
		cancelCh:    make(chan struct{}),
	}
	runtime.SetFinalizer(c, finalizeCalleeContext)
	return c
}

func finalizeCalleeContext(c *CalleeContext) {
	if CalleeState(atomic.LoadInt32(&c.state)) == Alive {
		assert.AssertMsg(false, "rpcctx: callee Context for "+c.id+" garbage-collected while still Alive (must Finish or observe Cancelled)")
	}
}

// ID returns the context id correlating this call across caller, broker,
// and callee.
func (c *CalleeContext) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *CalleeContext) State() CalleeState {
	return CalleeState(atomic.LoadInt32(&c.state))
}

// RequestCancel is invoked by the owning peer loop when the broker forwards
// an rpc_cancel for this context. It is idempotent and safe to call
// concurrently with the handler's own goroutine.
func (c *CalleeContext) RequestCancel() {
	if atomic.CompareAndSwapInt32(&c.state, int32(Alive), int32(Cancelled)) {
		close(c.cancelCh)
	}
}

// Cancelled reports whether cancellation has been requested. Handlers that
// stream partial updates should poll this between chunks.
func (c *CalleeContext) Cancelled() bool {
	select {
	case <-c.cancelCh:
		return true
	default:
		return false
	}
}

// Done returns a channel that closes when cancellation is requested, for
// use in a handler's select loop alongside its own work.
func (c *CalleeContext) Done() <-chan struct{} {
	return c.cancelCh
}

// Update streams one partial value to the caller. It is valid in the Alive
// and Cancelled states; it is a programmer error to call it after Finish.
func (c *CalleeContext) Update(value interface{}) error {
	state := CalleeState(atomic.LoadInt32(&c.state))
	assert.AssertMsg(state != Finished, "rpcctx: Update called on a Finished context")
	raw, err := marshalValue(value)
	if err != nil {
		return err
	}
	return c.sendPartial(raw)
}

// Finish delivers the terminal result and transitions the context out of
// Alive/Cancelled. It must be called at most once; a second call is a
// programmer error caught by the build-tag-gated assertion (without the tag
// it is not detected and a second Last is sent).
func (c *CalleeContext) Finish(result wire.RpcResult) error {
	prev := atomic.SwapInt32(&c.state, int32(Finished))
	assert.AssertMsg(CalleeState(prev) != Finished, "rpcctx: Finish called twice on the same context")
	return c.sendLast(result)
}

// Call lets the handler issue a nested outgoing call through the same peer
// loop that dispatched this inbound call.
func (c *CalleeContext) Call(function string, args interface{}) (*CallerContext, error) {
	return c.callFn(function, args)
}

// CheckFinishedOrAbort is called synchronously by the owning peer loop
// right after a handler function returns, giving a deterministic (not
// GC-timing-dependent) detection point for the same contract violation the
// finalizer guards against.
func (c *CalleeContext) CheckFinishedOrAbort() {
	state := CalleeState(atomic.LoadInt32(&c.state))
	assert.AssertMsg(state != Alive, "rpcctx: handler for "+c.id+" returned while still Alive (must Finish or observe Cancelled)")
}

func marshalValue(value interface{}) ([]byte, error) {
	if raw, ok := value.([]byte); ok {
		return raw, nil
	}
	return jsonutil.Marshal(value)
}
