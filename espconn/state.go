package espconn

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-espconn/logger"
)

// ConnState is the lifecycle state of a Connection.
type ConnState uint32

// Connection states.
const (
	// DisconnectedState means no port is held.
	DisconnectedState ConnState = iota
	// ConnectingState means the port is being opened.
	ConnectingState
	// SyncingState means the bootloader handshake is running.
	SyncingState
	// ReadyState means commands are accepted.
	ReadyState
	// BusyState means a command is on the wire.
	BusyState
	// MonitoringState means the port is relaying log output.
	MonitoringState
	// FailedState means consecutive timeouts or the handshake failed. The
	// port handle is still held until Disconnect or Connect.
	FailedState
)

// String returns string representation of the state.
func (cs ConnState) String() string {
	switch cs {
	case DisconnectedState:
		return "disconnected"
	case ConnectingState:
		return "connecting"
	case SyncingState:
		return "syncing"
	case ReadyState:
		return "ready"
	case BusyState:
		return "busy"
	case MonitoringState:
		return "monitoring"
	case FailedState:
		return "failed"
	default:
		return "unknown"
	}
}

// HoldsPort reports whether a port handle is open in this state.
func (cs ConnState) HoldsPort() bool {
	return cs != DisconnectedState && cs != ConnectingState
}

// ConnStateChangeHandler is invoked after every state change.
//
// Handlers run with the state manager locked; they must not change the state.
type ConnStateChangeHandler func(prevState ConnState, newState ConnState)

// ConnStateMgr tracks the state of a Connection and lets goroutines wait for
// a particular state. Transitions are goroutine-safe.
type ConnStateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	logger   logger.Logger
	handlers []ConnStateChangeHandler
}

// NewConnStateMgr creates a state manager in DisconnectedState.
func NewConnStateMgr(l logger.Logger, handlers ...ConnStateChangeHandler) *ConnStateMgr {
	if l == nil {
		l = logger.GetLogger()
	}

	cs := &ConnStateMgr{logger: l}
	cs.cond = sync.NewCond(&cs.mu)
	cs.state.Store(uint32(DisconnectedState))
	cs.AddHandler(handlers...)

	return cs
}

// State returns the current state.
func (cs *ConnStateMgr) State() ConnState {
	return ConnState(cs.state.Load())
}

// AddHandler registers handlers invoked on state changes.
func (cs *ConnStateMgr) AddHandler(handlers ...ConnStateChangeHandler) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for _, h := range handlers {
		if h != nil {
			cs.handlers = append(cs.handlers, h)
		}
	}
}

// To moves to state unconditionally. It is a no-op if already there.
func (cs *ConnStateMgr) To(state ConnState) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.change(state)
}

// Transition moves to state only if the current state is one of from, and
// reports whether it did.
func (cs *ConnStateMgr) Transition(state ConnState, from ...ConnState) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !slices.Contains(from, cs.State()) {
		return false
	}
	cs.change(state)

	return true
}

// WaitState blocks until the state equals state or ctx is done.
func (cs *ConnStateMgr) WaitState(ctx context.Context, state ConnState) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.State() == state {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		cs.cond.Broadcast()
	})
	defer stop()

	for cs.State() != state {
		if err := ctx.Err(); err != nil {
			return err
		}
		cs.cond.Wait()
	}

	return nil
}

// change sets the state, wakes waiters and runs handlers. cs.mu is held.
func (cs *ConnStateMgr) change(state ConnState) {
	prev := cs.State()
	if prev == state {
		return
	}

	cs.state.Store(uint32(state))
	cs.cond.Broadcast()
	cs.logger.Debug("espconn: state changed", "from", prev.String(), "to", state.String())

	for _, h := range cs.handlers {
		h(prev, state)
	}
}
