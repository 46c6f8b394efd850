package kernel

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/capability"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/ipc"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/mm"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/object"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/sched"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/service"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/utils"
)

// Exit codes for tasks that did not exit on their own.
const (
	ExitKilled = -1
	ExitFault  = -2
)

// Program is the body of a task run by a kernel core. Its return value is
// the exit code.
type Program func(ctx context.Context, k *Kernel, t *Task) int

// Task is a thread of execution with its own handle table and address space.
type Task struct {
	*sched.Task

	label   id.TaskLabel
	parent  object.ID
	created time.Time
	program Program

	caps  *capability.Table
	space *mm.AddressSpace

	// Runner state, touched only by the task's own goroutine and the core
	// that dispatched it.
	started bool
	resume  chan chan cpuEvent
	cur     chan cpuEvent
	preempt atomic.Bool

	// inbox is the waiter of a blocking receive in flight. Whoever clears it
	// owns the message the waiter may carry.
	inbox atomic.Pointer[sched.Waiter]
}

// ObjectKind implements object.Payload.
func (*Task) ObjectKind() object.Kind { return object.KindTask }

// Label is a unique, sortable identifier for logs.
func (t *Task) Label() id.TaskLabel { return t.label }

// Parent returns the creating task, or object.Invalid for a root task.
func (t *Task) Parent() object.ID { return t.parent }

// Caps returns the task's handle table.
func (t *Task) Caps() *capability.Table { return t.caps }

// Space returns the task's address space.
func (t *Task) Space() *mm.AddressSpace { return t.space }

// HandleGrant passes a narrowed duplicate of one of the parent's handles to
// a new task.
type HandleGrant struct {
	Handle capability.Handle
	Rights capability.Rights
}

// TaskSpec describes a task to create.
type TaskSpec struct {
	Name     string
	Priority int
	// Program runs the task on a kernel core. A nil Program creates a
	// detached task driven by the caller.
	Program Program
	Handles []HandleGrant
}

func (TaskSpec) objectKind() object.Kind { return object.KindTask }

const taskRights = capability.RightWait | capability.RightDestroy |
	capability.RightDuplicate | capability.RightTransfer

// Bootstrap creates a root task with no parent.
func (k *Kernel) Bootstrap(name string, program Program) (_ *Task, err error) {
	defer k.trace("bootstrap", nil)(&err)
	return k.spawn(object.Invalid, TaskSpec{Name: name, Priority: k.sched.Priorities() / 2, Program: program}, nil)
}

// TaskCreate creates a child of t and returns t's handle to it. The child
// starts with the handles listed in spec, narrowed to the given rights.
func (k *Kernel) TaskCreate(t *Task, spec TaskSpec) (_ capability.Handle, _ *Task, err error) {
	const op = "task_create"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return capability.InvalidHandle, nil, err
	}

	entries := make([]capability.Entry, 0, len(spec.Handles))
	for _, g := range spec.Handles {
		e, err := t.caps.Check(g.Handle, capability.RightDuplicate)
		if err != nil {
			return capability.InvalidHandle, nil, kerr.New(op, err)
		}
		if !e.Rights.Contains(g.Rights) {
			return capability.InvalidHandle, nil, kerr.Newf(op, kerr.ErrPermissionDenied, "grant widens %s", g.Handle)
		}
		e.Rights = g.Rights
		entries = append(entries, e)
	}

	child, err := k.spawn(t.ID(), spec, entries)
	if err != nil {
		return capability.InvalidHandle, nil, err
	}
	h, err := t.caps.Grant(child.ID(), object.KindTask, taskRights)
	if err != nil {
		k.kill(child, ExitKilled)
		return capability.InvalidHandle, nil, kerr.New(op, err)
	}
	return h, child, nil
}

// spawn builds and admits a task. grants are installed into its fresh handle
// table with new capability counts.
func (k *Kernel) spawn(parent object.ID, spec TaskSpec, grants []capability.Entry) (*Task, error) {
	const op = "task_create"
	if err := utils.ValidateTaskName(spec.Name); err != nil {
		return nil, kerr.Newf(op, kerr.ErrInvalidArgument, "%v", err)
	}

	t := &Task{
		label:   id.NewTaskLabel(),
		parent:  parent,
		created: time.Now(),
		program: spec.Program,
		resume:  make(chan chan cpuEvent, 1),
	}
	obj, err := k.objects.Create(t)
	if err != nil {
		return nil, kerr.New(op, err)
	}
	name := spec.Name
	if name == "" {
		name = t.label.String()
	}
	t.Task = sched.NewTask(obj.ID(), name, k.sched.ClampPriority(spec.Priority), spec.Program == nil)
	t.caps = capability.NewTable(k.objects, k.cfg.MaxHandles)
	t.space = mm.NewAddressSpace(k.memory, k.newPageTable(), func(r mm.Region) {
		if err := k.objects.Release(r.Object); err != nil {
			k.bug("mapping of %s held no reference: %v", r.Object, err)
		}
	})

	for _, e := range grants {
		if _, err := k.objects.AcquireCap(e.Object); err != nil {
			k.abandon(t, obj)
			return nil, kerr.New(op, err)
		}
		if _, err := t.caps.Install([]capability.Entry{e}); err != nil {
			_ = k.objects.ReleaseCap(e.Object)
			k.abandon(t, obj)
			return nil, kerr.New(op, err)
		}
	}

	k.mu.Lock()
	k.tasks[t.ID()] = t
	k.mu.Unlock()

	if err := k.sched.Admit(t.Task); err != nil {
		k.bug("admit of fresh task %s: %v", t.ID(), err)
	}
	k.log.Info("task created",
		logging.Task(t.ID()),
		zap.String("name", name),
		zap.String("label", t.label.String()),
		zap.Stringer("parent", parent),
		zap.Bool("detached", spec.Program == nil))
	return t, nil
}

// abandon tears down a task that never became schedulable.
func (k *Kernel) abandon(t *Task, obj *object.Object) {
	k.sched.Exit(t.Task, ExitKilled)
	t.caps.RevokeAll()
	_ = k.objects.Put(obj)
}

// TaskExit ends t with code and releases everything it owns.
func (k *Kernel) TaskExit(t *Task, code int) (err error) {
	defer k.trace("task_exit", t)(&err)
	if !k.kill(t, code) {
		return kerr.New("task_exit", kerr.ErrNotFound)
	}
	return nil
}

// TaskFault kills t after an unrecoverable fault.
func (k *Kernel) TaskFault(t *Task, reason string) (err error) {
	defer k.trace("task_fault", t)(&err)
	k.log.Warn("task fault", logging.Task(t.ID()), zap.String("reason", reason))
	if !k.kill(t, ExitFault) {
		return kerr.New("task_fault", kerr.ErrNotFound)
	}
	return nil
}

// TaskWait blocks until the task behind h exits and returns its exit code.
func (k *Kernel) TaskWait(ctx context.Context, t *Task, h capability.Handle, opts WaitOptions) (code int, err error) {
	const op = "task_wait"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return 0, err
	}
	e, err := t.caps.CheckKind(h, object.KindTask, capability.RightWait)
	if err != nil {
		return 0, kerr.New(op, err)
	}
	obj, err := k.objects.Get(e.Object)
	if err != nil {
		return 0, kerr.New(op, err)
	}
	target := obj.Payload().(*Task)
	if target == t {
		return 0, kerr.Newf(op, kerr.ErrInvalidArgument, "task cannot wait for itself")
	}

	w := k.sched.NewWaiter(t.Task, sched.ReasonAwaitingEvent)
	if !target.Watch(w) {
		return target.ExitCode(), nil
	}
	if !opts.Block {
		// The watcher stays registered until target exits; firing it now
		// turns that wake-up into a no-op.
		w.Fail(kerr.New(op, kerr.ErrWouldBlock))
		return 0, kerr.New(op, kerr.ErrWouldBlock)
	}
	v, err := k.wait(ctx, t, w, op, opts.Timeout)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Yield gives up the rest of t's quantum.
func (k *Kernel) Yield(t *Task) (err error) {
	defer k.trace("yield", t)(&err)
	if err = k.enter(t); err != nil {
		return err
	}
	if t.program == nil {
		return k.sched.Yield(t.Task)
	}
	if err := k.sched.Yield(t.Task); err != nil {
		return err
	}
	t.offCPU(offYielded)
	return nil
}

// Preempt asks the task running on core to give up its core at its next
// kernel entry. It reports whether a task was running there.
func (k *Kernel) Preempt(core int) bool {
	rt := k.sched.Running(core)
	if rt == nil {
		return false
	}
	k.mu.RLock()
	t, ok := k.tasks[rt.ID()]
	k.mu.RUnlock()
	if !ok {
		return false
	}
	t.preempt.Store(true)
	return true
}

// kill moves t to Dead and runs its cleanup. It reports false if t was
// already dead.
func (k *Kernel) kill(t *Task, code int) bool {
	if !k.sched.Exit(t.Task, code) {
		return false
	}
	k.reap(t)
	return true
}

// reap releases what a dead task owned:
//   - a message delivered to its pending receive is dropped
//   - channels it receives on close with ErrRecipientDead
//   - its service names are unregistered
//   - its mappings and handles are dropped
//
// Objects shared with live tasks survive through their other references.
func (k *Kernel) reap(t *Task) {
	// A message handed to a receive that will never resume.
	if w := t.inbox.Swap(nil); w != nil {
		if msg, ok := settle(w, kerr.New("task_exit", kerr.ErrNotFound)); ok {
			k.dropCaps(msg.Caps)
		}
	}

	for _, h := range t.caps.Handles() {
		e, err := t.caps.Lookup(h)
		if err != nil || !e.Rights.Contains(capability.RightReceive) {
			continue
		}
		obj, err := k.objects.Get(e.Object)
		if err != nil {
			continue
		}
		var ch *ipc.Channel
		switch p := obj.Payload().(type) {
		case *ipc.Channel:
			ch = p
		case *service.Service:
			if p.Owner != t.ID() {
				continue
			}
			if cobj, err := k.objects.Get(p.Channel); err == nil {
				ch = cobj.Payload().(*ipc.Channel)
			}
		}
		if ch != nil && ch.Receiver() == t.ID() {
			ch.Close(kerr.ErrRecipientDead)
		}
	}

	for _, svc := range k.services.UnregisterOwner(t.ID()) {
		k.log.Info("service unregistered", logging.Service(svc.Name), logging.Owner(t.ID()))
	}

	regions := t.space.UnmapAll()
	handles := t.caps.RevokeAll()

	k.mu.Lock()
	delete(k.tasks, t.ID())
	k.mu.Unlock()

	k.log.Info("task reaped",
		logging.Task(t.ID()),
		zap.String("name", t.Name()),
		zap.Int("code", t.ExitCode()),
		zap.Int("regions", regions),
		zap.Int("handles", handles))

	// The task object lives on while other tasks hold handles to it, so
	// they can still collect the exit code.
	if err := k.objects.Release(t.ID()); err != nil {
		k.bug("task %s lost its own reference: %v", t.ID(), err)
	}
}

// killAll ends every live task. Used on shutdown.
func (k *Kernel) killAll() {
	k.mu.RLock()
	tasks := make([]*Task, 0, len(k.tasks))
	for _, t := range k.tasks {
		tasks = append(tasks, t)
	}
	k.mu.RUnlock()
	for _, t := range tasks {
		k.kill(t, ExitKilled)
	}
}

// enter is the kernel entry check run by every syscall. Dead tasks are
// refused. A task running a Program that was killed never returns from
// here; one whose quantum is spent gives up its core first.
func (k *Kernel) enter(t *Task) error {
	if t == nil {
		return kerr.Newf("syscall", kerr.ErrInvalidArgument, "nil task")
	}
	if t.State() == sched.StateDead {
		if t.program != nil && t.started {
			runtime.Goexit()
		}
		return kerr.New("syscall", kerr.ErrNotFound)
	}
	if t.program == nil || t.Core() < 0 {
		return nil
	}
	quantum := k.cfg.Quantum
	if t.preempt.Swap(false) || (quantum > 0 && t.RanFor() >= quantum) {
		if k.sched.Preempt(t.Core()) == t.Task {
			k.metrics.IncPreemption()
			t.offCPU(offPreempted)
		}
	}
	return nil
}
