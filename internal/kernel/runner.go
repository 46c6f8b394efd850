package kernel

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/object"
)

type offReason uint8

const (
	offYielded offReason = iota
	offPreempted
	offBlocked
	offExited
	offPanicked
)

// cpuEvent is what a task reports to its core when it stops running.
type cpuEvent struct {
	reason offReason
	panic  *PanicInfo
}

// offCPU hands the core back and parks the task's goroutine until it is
// dispatched again. A task killed while parked never returns.
func (t *Task) offCPU(reason offReason) {
	t.cur <- cpuEvent{reason: reason}
	t.cur = nil
	select {
	case done := <-t.resume:
		t.cur = done
	case <-t.Dead():
		runtime.Goexit()
	}
}

// Run drives every core until ctx is done. Cores only run tasks that have a
// Program. A core whose task trips a kernel invariant halts; the others keep
// going, and Run reports the halted cores once it returns.
func (k *Kernel) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for core := 0; core < k.sched.Cores(); core++ {
		core := core
		g.Go(func() error {
			return k.coreLoop(ctx, core)
		})
	}
	err := g.Wait()
	k.killAll()

	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	for _, p := range k.Panics() {
		errs = append(errs, p)
	}
	return errors.Join(errs...)
}

func (k *Kernel) coreLoop(ctx context.Context, core int) (err error) {
	log := k.log.With(logging.Core(core))
	log.Debug("core online")
	defer func() {
		if r := recover(); r != nil {
			k.recordPanic(PanicInfo{Core: core, Task: object.Invalid, Value: r, Stack: debug.Stack()})
			err = nil
		}
	}()

	for {
		st, nerr := k.sched.Next(ctx, core)
		if nerr != nil {
			log.Debug("core offline")
			return nil
		}
		k.metrics.IncContextSwitch()

		k.mu.RLock()
		t, ok := k.tasks[st.ID()]
		k.mu.RUnlock()
		if !ok {
			// Killed between dispatch and lookup.
			k.sched.Release(core, st)
			continue
		}

		ev, ok := k.dispatch(ctx, t)
		k.sched.Release(core, t.Task)
		if !ok {
			return nil
		}
		if ev.reason == offPanicked {
			ev.panic.Core = core
			k.recordPanic(*ev.panic)
			return nil
		}
	}
}

// dispatch runs t until it leaves the core. It reports false if ctx ended
// first.
func (k *Kernel) dispatch(ctx context.Context, t *Task) (cpuEvent, bool) {
	done := make(chan cpuEvent, 1)
	if !t.started {
		t.started = true
		go k.runTask(ctx, t, done)
	} else {
		t.resume <- done
	}
	select {
	case ev := <-done:
		return ev, true
	case <-t.Dead():
		// A killed task may still be in user code; it exits at its next
		// kernel entry without needing the core.
		select {
		case ev := <-done:
			return ev, true
		default:
			return cpuEvent{reason: offExited}, true
		}
	case <-ctx.Done():
		return cpuEvent{}, false
	}
}

// runTask is the goroutine backing a task with a Program.
func (k *Kernel) runTask(ctx context.Context, t *Task, done chan cpuEvent) {
	t.cur = done
	returned := false
	defer func() {
		ev := cpuEvent{reason: offExited}
		if r := recover(); r != nil {
			var inv *InvariantError
			if err, ok := r.(error); ok && errors.As(err, &inv) {
				ev = cpuEvent{reason: offPanicked, panic: &PanicInfo{Task: t.ID(), Value: r, Stack: debug.Stack()}}
				k.kill(t, ExitFault)
			} else {
				k.log.Warn("task panicked", logging.Task(t.ID()), zap.Any("panic", r))
				_ = k.TaskFault(t, fmt.Sprint(r))
			}
		} else if !returned {
			// runtime.Goexit from a kernel entry after the task was killed.
			k.kill(t, ExitKilled)
		}
		if t.cur != nil {
			t.cur <- ev
		}
	}()

	code := t.program(ctx, k, t)
	returned = true
	k.kill(t, code)
}
