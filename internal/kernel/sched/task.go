package sched

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/object"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

// State is a task's scheduler state.
type State uint8

const (
	StateReady State = iota
	StateRunning
	StateBlocked
	StateDead
)

// States lists every state in declaration order.
var States = []State{StateReady, StateRunning, StateBlocked, StateDead}

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// BlockReason says what a blocked task waits for.
type BlockReason uint8

const (
	ReasonNone BlockReason = iota
	ReasonAwaitingMessage
	ReasonAwaitingMemoryObject
	ReasonAwaitingEvent
)

func (r BlockReason) String() string {
	switch r {
	case ReasonAwaitingMessage:
		return "awaiting_message"
	case ReasonAwaitingMemoryObject:
		return "awaiting_memory_object"
	case ReasonAwaitingEvent:
		return "awaiting_event"
	default:
		return "none"
	}
}

// Context is the saved register state of a task that is not running.
type Context struct {
	IP    uint64
	SP    uint64
	Flags uint64
	GPR   [16]uint64
}

// Task is the scheduler's view of a task.
type Task struct {
	id       object.ID
	name     string
	priority int
	detached bool

	state atomic.Uint32

	mu         sync.Mutex
	reason     BlockReason
	core       int
	regs       Context
	waiter     *Waiter
	watchers   []*Waiter
	exitCode   int
	dispatched time.Time
	dead       chan struct{}
}

// NewTask creates a Ready task. A detached task is driven by its caller's
// goroutine instead of a core and never sits in a ready queue.
func NewTask(id object.ID, name string, priority int, detached bool) *Task {
	t := &Task{
		id:       id,
		name:     name,
		priority: priority,
		detached: detached,
		core:     -1,
		dead:     make(chan struct{}),
	}
	t.state.Store(uint32(StateReady))
	return t
}

func (t *Task) ID() object.ID  { return t.id }
func (t *Task) Name() string   { return t.name }
func (t *Task) Priority() int  { return t.priority }
func (t *Task) Detached() bool { return t.detached }

// State returns the current state.
func (t *Task) State() State { return State(t.state.Load()) }

func (t *Task) setState(s State) { t.state.Store(uint32(s)) }

// Reason returns the block reason, or ReasonNone when not blocked.
func (t *Task) Reason() BlockReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Core returns the core the task runs on, or -1.
func (t *Task) Core() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.core
}

// RanFor returns how long the task has held its core.
func (t *Task) RanFor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State() != StateRunning || t.dispatched.IsZero() {
		return 0
	}
	return time.Since(t.dispatched)
}

// Regs returns a copy of the saved register state.
func (t *Task) Regs() Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.regs
}

// SetRegs replaces the saved register state. Registers of a running task
// live on its core and cannot be changed.
func (t *Task) SetRegs(c Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.State() {
	case StateRunning:
		return kerr.Newf("set_context", kerr.ErrInvalidArgument, "task %s is running", t.id)
	case StateDead:
		return kerr.New("set_context", kerr.ErrNotFound)
	}
	t.regs = c
	return nil
}

// ExitCode returns the code passed to Exit. Valid once Dead.
func (t *Task) ExitCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

// Dead is closed when the task dies.
func (t *Task) Dead() <-chan struct{} { return t.dead }

// Watch arranges for w to fire with the exit code when t dies. It reports
// false if t is already dead.
func (t *Task) Watch(w *Waiter) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == StateDead {
		return false
	}
	t.watchers = append(t.watchers, w)
	return true
}
