package sched

import "sync/atomic"

// Waiter is a single-shot wake-up for one blocked call. The first of Wake,
// Fail or the owning task's death wins; later calls report false.
type Waiter struct {
	s      *Scheduler
	task   *Task
	reason BlockReason

	fired atomic.Bool
	done  chan struct{}
	val   any
	err   error
}

// NewWaiter creates a waiter for t.
func (s *Scheduler) NewWaiter(t *Task, reason BlockReason) *Waiter {
	return &Waiter{
		s:      s,
		task:   t,
		reason: reason,
		done:   make(chan struct{}),
	}
}

// Task returns the task the waiter belongs to.
func (w *Waiter) Task() *Task { return w.task }

// Reason returns what the task waits for.
func (w *Waiter) Reason() BlockReason { return w.reason }

// Wake fires the waiter with a value.
func (w *Waiter) Wake(v any) bool { return w.fire(v, nil) }

// Fail fires the waiter with an error.
func (w *Waiter) Fail(err error) bool { return w.fire(nil, err) }

// Fired reports whether the waiter has fired.
func (w *Waiter) Fired() bool { return w.fired.Load() }

// Done is closed once the waiter fires.
func (w *Waiter) Done() <-chan struct{} { return w.done }

// Result returns what the waiter fired with. Valid after Done is closed.
func (w *Waiter) Result() (any, error) { return w.val, w.err }

func (w *Waiter) fire(v any, err error) bool {
	if !w.fired.CompareAndSwap(false, true) {
		return false
	}
	w.val, w.err = v, err
	// The task is Ready before Done closes, so a woken caller may Resume at once.
	w.s.unblock(w.task, w)
	close(w.done)
	return true
}
