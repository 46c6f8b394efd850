package sched

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

// Stats are cumulative scheduler counters plus current queue sizes.
type Stats struct {
	Cores       int    `json:"cores"`
	Ready       int    `json:"ready"`
	Running     int    `json:"running"`
	Switches    uint64 `json:"switches"`
	Preemptions uint64 `json:"preemptions"`
	Yields      uint64 `json:"yields"`
	Blocks      uint64 `json:"blocks"`
	Wakeups     uint64 `json:"wakeups"`
	Exits       uint64 `json:"exits"`
}

// Scheduler keeps one FIFO ready queue per priority tier and records which
// task runs on each core. Higher tiers are served first.
type Scheduler struct {
	log *zap.Logger

	mu      sync.Mutex
	tiers   [][]*Task
	running []*Task
	ready   chan struct{}
	stats   Stats
}

// New creates a scheduler for cores cores and priorities tiers.
func New(cores, priorities int, log *zap.Logger) *Scheduler {
	if cores < 1 {
		cores = 1
	}
	if priorities < 1 {
		priorities = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		log:     log,
		tiers:   make([][]*Task, priorities),
		running: make([]*Task, cores),
		ready:   make(chan struct{}),
		stats:   Stats{Cores: cores},
	}
}

// Cores returns the number of cores.
func (s *Scheduler) Cores() int { return len(s.running) }

// Priorities returns the number of priority tiers.
func (s *Scheduler) Priorities() int { return len(s.tiers) }

// ClampPriority maps p into the valid tier range.
func (s *Scheduler) ClampPriority(p int) int {
	switch {
	case p < 0:
		return 0
	case p >= len(s.tiers):
		return len(s.tiers) - 1
	}
	return p
}

// enqueueLocked appends t to its tier and wakes idle cores. Caller holds s.mu.
func (s *Scheduler) enqueueLocked(t *Task) {
	p := s.ClampPriority(t.priority)
	s.tiers[p] = append(s.tiers[p], t)
	close(s.ready)
	s.ready = make(chan struct{})
}

// Admit makes a new task schedulable. Detached tasks are dispatched to their
// calling goroutine at once.
func (s *Scheduler) Admit(t *Task) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() != StateReady {
		return kerr.Newf("admit", kerr.ErrInvalidArgument, "task %s is %s", t.id, t.State())
	}
	if t.detached {
		t.setState(StateRunning)
		t.dispatched = time.Now()
		return nil
	}

	s.mu.Lock()
	s.enqueueLocked(t)
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) popLocked() *Task {
	for p := len(s.tiers) - 1; p >= 0; p-- {
		q := s.tiers[p]
		if len(q) == 0 {
			continue
		}
		t := q[0]
		q[0] = nil
		s.tiers[p] = q[1:]
		return t
	}
	return nil
}

// TryNext dispatches the highest priority ready task onto core. It returns
// nil when nothing is ready or the core is busy.
func (s *Scheduler) TryNext(core int) *Task {
	if core < 0 || core >= len(s.running) {
		return nil
	}
	for {
		s.mu.Lock()
		if s.running[core] != nil {
			s.mu.Unlock()
			return nil
		}
		t := s.popLocked()
		s.mu.Unlock()
		if t == nil {
			return nil
		}
		if s.dispatch(t, core) {
			return t
		}
	}
}

// dispatch moves a popped task to Running. Tasks killed while queued are skipped.
func (s *Scheduler) dispatch(t *Task, core int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() != StateReady {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[core] != nil {
		// Another dispatcher claimed the core; requeue at the head.
		p := s.ClampPriority(t.priority)
		s.tiers[p] = append([]*Task{t}, s.tiers[p]...)
		return false
	}
	t.setState(StateRunning)
	t.core = core
	t.dispatched = time.Now()
	s.running[core] = t
	s.stats.Switches++
	return true
}

// Next waits until a task can be dispatched onto core or ctx is done.
func (s *Scheduler) Next(ctx context.Context, core int) (*Task, error) {
	for {
		s.mu.Lock()
		ready := s.ready
		s.mu.Unlock()

		if t := s.TryNext(core); t != nil {
			return t, nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Running returns the task on core, or nil.
func (s *Scheduler) Running(core int) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if core < 0 || core >= len(s.running) {
		return nil
	}
	return s.running[core]
}

// vacateLocked frees t's core. Caller holds t.mu and s.mu.
func (s *Scheduler) vacateLocked(t *Task) {
	if t.core >= 0 && t.core < len(s.running) && s.running[t.core] == t {
		s.running[t.core] = nil
	}
	t.core = -1
}

// Yield moves a running task to the back of its tier.
func (s *Scheduler) Yield(t *Task) error {
	if err := s.requeue(t); err != nil {
		return kerr.New("yield", err)
	}
	s.mu.Lock()
	s.stats.Yields++
	s.mu.Unlock()
	return nil
}

// Preempt moves whatever runs on core back to Ready and returns it.
func (s *Scheduler) Preempt(core int) *Task {
	t := s.Running(core)
	if t == nil {
		return nil
	}
	if err := s.requeue(t); err != nil {
		return nil
	}
	s.mu.Lock()
	s.stats.Preemptions++
	s.mu.Unlock()
	s.log.Debug("task preempted", logging.Task(t.id), logging.Core(core))
	return t
}

func (s *Scheduler) requeue(t *Task) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() != StateRunning {
		return kerr.Newf("requeue", kerr.ErrInvalidArgument, "task %s is %s", t.id, t.State())
	}
	if t.detached {
		// A detached task keeps its caller's goroutine; there is no queue to rejoin.
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vacateLocked(t)
	t.setState(StateReady)
	s.enqueueLocked(t)
	return nil
}

// Block parks a running task on w. It reports false, leaving the task
// Running, if w already fired. The caller must not hold any resource lock.
func (s *Scheduler) Block(t *Task, w *Waiter) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.State() {
	case StateDead:
		return false, kerr.New("block", kerr.ErrNotFound)
	case StateRunning:
	default:
		return false, kerr.Newf("block", kerr.ErrInvalidArgument, "task %s is %s", t.id, t.State())
	}
	if w.Fired() {
		return false, nil
	}

	t.setState(StateBlocked)
	t.reason = w.reason
	t.waiter = w

	s.mu.Lock()
	s.vacateLocked(t)
	s.stats.Blocks++
	s.mu.Unlock()
	return true, nil
}

// unblock is called by a firing waiter.
func (s *Scheduler) unblock(t *Task, w *Waiter) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() != StateBlocked || t.waiter != w {
		return
	}
	t.waiter = nil
	t.reason = ReasonNone
	t.setState(StateReady)

	s.mu.Lock()
	s.stats.Wakeups++
	if !t.detached {
		s.enqueueLocked(t)
	}
	s.mu.Unlock()
}

// Resume re-dispatches a detached task after its waiter fired.
func (s *Scheduler) Resume(t *Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.detached && t.State() == StateReady {
		t.setState(StateRunning)
		t.dispatched = time.Now()
	}
}

// Release frees core if t still holds it. The core loop calls it once t's
// goroutine has stopped running.
func (s *Scheduler) Release(core int, t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if core >= 0 && core < len(s.running) && s.running[core] == t {
		s.running[core] = nil
	}
}

// Exit kills t from any state. A blocked call of t fails with ErrNotFound and
// every watcher fires with the exit code. It reports false if t was already dead.
func (s *Scheduler) Exit(t *Task, code int) bool {
	t.mu.Lock()
	prev := t.State()
	if prev == StateDead {
		t.mu.Unlock()
		return false
	}
	t.setState(StateDead)
	t.exitCode = code
	t.reason = ReasonNone
	blocked := t.waiter
	t.waiter = nil
	watchers := t.watchers
	t.watchers = nil

	s.mu.Lock()
	// A running non-detached task keeps its core until its goroutine reaches
	// the next kernel entry and the core loop releases it.
	if t.detached || prev != StateRunning {
		s.vacateLocked(t)
	}
	s.stats.Exits++
	s.mu.Unlock()

	close(t.dead)
	t.mu.Unlock()

	if blocked != nil {
		blocked.Fail(kerr.New("task_exit", kerr.ErrNotFound))
	}
	for _, w := range watchers {
		w.Wake(code)
	}
	s.log.Debug("task exited", logging.Task(t.id), zap.Int("code", code), zap.Stringer("from", prev))
	return true
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	for _, q := range s.tiers {
		for _, t := range q {
			if t.State() == StateReady {
				st.Ready++
			}
		}
	}
	for _, t := range s.running {
		if t != nil {
			st.Running++
		}
	}
	return st
}
