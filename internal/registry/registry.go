// Package registry implements the broker's function registry and
// in-flight call table described by the dispatcher subsystem: a
// function-name registry with priority-ordered handler chains, and a
// context-id keyed table tracking which peer is currently handling each
// in-flight call so a NotHandled response can be re-dispatched to the
// next-priority handler.
package registry

import (
	"encoding/json"
	"sort"
	"sync"
)

// Registration is one peer's offer to handle a function at a given
// priority. Lower Priority wins; ties break by registration order (seq).
type Registration struct {
	PeerID   string
	Priority int
	seq      uint64
}

// FunctionRegistry maps function names to their priority-ordered list of
// handlers. All mutation methods are safe for concurrent use; the broker
// calls them from each peer's reader goroutine without additional locking.
type FunctionRegistry struct {
	mu       sync.Mutex
	handlers map[string][]Registration
	seq      uint64
}

// NewFunctionRegistry creates an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{handlers: make(map[string][]Registration)}
}

// Register adds peerID as a handler of function at the given priority. It
// returns false if peerID is already registered for this function (the
// DuplicateFunctionForPeer case; the caller is expected to register at
// most one priority per function per peer).
func (r *FunctionRegistry) Register(function, peerID string, priority int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reg := range r.handlers[function] {
		if reg.PeerID == peerID {
			return false
		}
	}

	r.seq++
	r.handlers[function] = append(r.handlers[function], Registration{
		PeerID:   peerID,
		Priority: priority,
		seq:      r.seq,
	})
	sort.SliceStable(r.handlers[function], func(i, j int) bool {
		a, b := r.handlers[function][i], r.handlers[function][j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.seq < b.seq
	})
	return true
}

// Deregister removes peerID as a handler of function. A no-op (returns
// false) if peerID was not registered, making it idempotent.
func (r *FunctionRegistry) Deregister(function, peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deregisterLocked(function, peerID)
}

func (r *FunctionRegistry) deregisterLocked(function, peerID string) bool {
	regs := r.handlers[function]
	for i, reg := range regs {
		if reg.PeerID == peerID {
			r.handlers[function] = append(regs[:i], regs[i+1:]...)
			if len(r.handlers[function]) == 0 {
				delete(r.handlers, function)
			}
			return true
		}
	}
	return false
}

// DeregisterPeer removes peerID from every function it handles, used when
// a peer disconnects.
func (r *FunctionRegistry) DeregisterPeer(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for function := range r.handlers {
		r.deregisterLocked(function, peerID)
	}
}

// HandlersFor returns a snapshot copy of function's priority-ordered
// handler chain, empty if nobody has registered.
func (r *FunctionRegistry) HandlersFor(function string) []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs := r.handlers[function]
	out := make([]Registration, len(regs))
	copy(out, regs)
	return out
}

// InFlightCall is the broker's bookkeeping for one call currently being
// routed: who called it, what was called, and which handler in the
// priority chain is currently trying it (so a NotHandled response knows
// where to resume).
type InFlightCall struct {
	CallerPeerID string
	Function     string
	Args         json.RawMessage
	HandlerIndex int
}

// InFlightTable tracks calls by context id from route_call through the
// terminal Last response.
type InFlightTable struct {
	mu      sync.Mutex
	entries map[string]*InFlightCall
}

// NewInFlightTable creates an empty table.
func NewInFlightTable() *InFlightTable {
	return &InFlightTable{entries: make(map[string]*InFlightCall)}
}

// Put records a newly-dispatched call.
func (t *InFlightTable) Put(contextID string, call *InFlightCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[contextID] = call
}

// Get returns the in-flight call for contextID, if any.
func (t *InFlightTable) Get(contextID string) (*InFlightCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.entries[contextID]
	return call, ok
}

// AdvanceHandler moves contextID's in-flight entry to the next handler
// index, used when the current handler returns NotHandled.
func (t *InFlightTable) AdvanceHandler(contextID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if call, ok := t.entries[contextID]; ok {
		call.HandlerIndex++
	}
}

// Delete removes contextID's in-flight entry, called once a terminal
// response has been forwarded to the caller.
func (t *InFlightTable) Delete(contextID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, contextID)
}

// CallsInitiatedBy returns every in-flight call that peerID originated as
// caller, used to synthesize cancellations to the currently-active handler
// when the caller disconnects mid-call.
func (t *InFlightTable) CallsInitiatedBy(peerID string) map[string]*InFlightCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]*InFlightCall)
	for ctxID, call := range t.entries {
		if call.CallerPeerID == peerID {
			out[ctxID] = call
		}
	}
	return out
}

// CallsHandledBy returns every in-flight call currently routed to peerID
// as its active handler, used to synthesize wire.ErrDisconnected responses
// when that peer disconnects mid-call.
func (t *InFlightTable) CallsHandledBy(peerID string, registry *FunctionRegistry) map[string]*InFlightCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]*InFlightCall)
	for ctxID, call := range t.entries {
		handlers := registry.HandlersFor(call.Function)
		if call.HandlerIndex < len(handlers) && handlers[call.HandlerIndex].PeerID == peerID {
			out[ctxID] = call
		}
	}
	return out
}
