package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// Threshold is the number of consecutive failures that opens the breaker
	Threshold uint32
	// Cooldown is how long the breaker stays open before a probe is allowed
	Cooldown time.Duration
	// IsFailure decides which errors count against the breaker. Nil counts every error.
	IsFailure func(error) bool
	// OnStateChange is called whenever the state changes, with the lock released
	OnStateChange func(name string, from State, to State)
	// Now overrides the clock
	Now func() time.Time
}

// Counts holds the statistics for the circuit breaker
type Counts struct {
	Requests            uint64
	Failures            uint64
	Rejections          uint64
	Trips               uint64
	ConsecutiveFailures uint32
}

// Breaker fails calls fast after repeated failures until a cooldown elapses.
// In half-open state exactly one probe is admitted; its outcome decides
// whether the breaker closes or reopens.
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probing  bool
}

// New creates a new circuit breaker with the given settings
func New(name string, settings Settings) *Breaker {
	if settings.Threshold == 0 {
		settings.Threshold = 5
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = time.Second
	}
	if settings.IsFailure == nil {
		settings.IsFailure = func(err error) bool { return err != nil }
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	return &Breaker{name: name, settings: settings}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	state, notify := b.currentState()
	b.mu.Unlock()

	fire(notify)
	return state
}

// Counts returns a copy of the internal counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset forces the breaker closed, e.g. when the guarded resource is known to
// have recovered.
func (b *Breaker) Reset() {
	b.mu.Lock()
	notify := b.transition(StateClosed)
	b.probing = false
	b.mu.Unlock()

	fire(notify)
}

// Execute runs fn if the breaker admits it and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	var ok bool
	defer func() {
		if !ok {
			b.record(probe, errPanicked)
		}
	}()

	err = fn()
	ok = true
	b.record(probe, err)
	return err
}

// Do runs fn through the breaker and returns its value.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var out T
	err := b.Execute(func() error {
		v, err := fn()
		out = v
		return err
	})
	return out, err
}

var errPanicked = errors.New("panicked")

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	state, notify := b.currentState()
	switch {
	case state == StateOpen, state == StateHalfOpen && b.probing:
		b.counts.Rejections++
		err = ErrCircuitOpen
	case state == StateHalfOpen:
		b.probing = true
		probe = true
		b.counts.Requests++
	default:
		b.counts.Requests++
	}
	b.mu.Unlock()

	fire(notify)
	return probe, err
}

func (b *Breaker) record(probe bool, err error) {
	var change func()

	b.mu.Lock()
	if probe {
		b.probing = false
	}
	failed := err != nil && (err == errPanicked || b.settings.IsFailure(err))
	switch {
	case failed:
		b.counts.Failures++
		b.counts.ConsecutiveFailures++
		if probe || b.counts.ConsecutiveFailures >= b.settings.Threshold {
			change = b.transition(StateOpen)
		}
	default:
		b.counts.ConsecutiveFailures = 0
		if probe {
			change = b.transition(StateClosed)
		}
	}
	b.mu.Unlock()

	fire(change)
}

// currentState promotes Open to HalfOpen once the cooldown has elapsed.
// Caller holds b.mu and fires the returned notification after unlocking.
func (b *Breaker) currentState() (State, func()) {
	var notify func()
	if b.state == StateOpen && b.settings.Now().Sub(b.openedAt) >= b.settings.Cooldown {
		notify = b.transition(StateHalfOpen)
	}
	return b.state, notify
}

func fire(notify func()) {
	if notify != nil {
		notify()
	}
}

// transition changes state and returns the notification to fire after unlock.
// Caller holds b.mu.
func (b *Breaker) transition(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	switch to {
	case StateOpen:
		b.openedAt = b.settings.Now()
		b.counts.Trips++
	case StateClosed:
		b.counts.ConsecutiveFailures = 0
	}
	if b.settings.OnStateChange == nil {
		return nil
	}
	name, cb := b.name, b.settings.OnStateChange
	return func() { cb(name, from, to) }
}
