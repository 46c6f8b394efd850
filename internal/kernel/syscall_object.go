package kernel

import (
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/capability"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/ipc"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/mm"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/object"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/service"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

// ObjectSpec selects the kind of object ObjectCreate builds: ChannelSpec,
// MemorySpec or TaskSpec.
type ObjectSpec interface {
	objectKind() object.Kind
}

// ChannelSpec describes a channel. Zero capacity selects the default.
type ChannelSpec struct {
	Capacity int
}

func (ChannelSpec) objectKind() object.Kind { return object.KindChannel }

// MemorySpec describes a memory object.
type MemorySpec struct {
	Pages  int
	Policy mm.Policy
}

func (MemorySpec) objectKind() object.Kind { return object.KindMemoryObject }

// ObjectCreate creates an object described by spec and returns a handle to it.
func (k *Kernel) ObjectCreate(t *Task, spec ObjectSpec) (capability.Handle, error) {
	switch s := spec.(type) {
	case ChannelSpec:
		return k.ChannelCreate(t, s.Capacity)
	case MemorySpec:
		return k.MemoryObjectCreate(t, s.Pages, s.Policy)
	case TaskSpec:
		h, _, err := k.TaskCreate(t, s)
		return h, err
	default:
		return capability.InvalidHandle, kerr.Newf("object_create", kerr.ErrInvalidArgument, "unsupported object spec %T", spec)
	}
}

// grantNew makes payload a kernel object and gives t the only handle to it.
// On failure the object is destroyed again.
func (k *Kernel) grantNew(t *Task, payload object.Payload, rights capability.Rights) (capability.Handle, *object.Object, error) {
	obj, err := k.objects.Create(payload)
	if err != nil {
		return capability.InvalidHandle, nil, err
	}
	h, err := t.caps.Grant(obj.ID(), obj.Kind(), rights)
	// The handle now keeps the object alive; drop the creation reference.
	if perr := k.objects.Put(obj); perr != nil {
		k.bug("fresh %s lost its creation reference: %v", obj.ID(), perr)
	}
	if err != nil {
		return capability.InvalidHandle, nil, err
	}
	return h, obj, nil
}

// ObjectDestroy revokes h and retires the object behind it: a channel is
// closed, a task is killed, a service is unregistered. Memory objects go
// away once their last handle and mapping are gone. Requires RightDestroy.
func (k *Kernel) ObjectDestroy(t *Task, h capability.Handle) (err error) {
	const op = "object_destroy"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return err
	}
	e, err := t.caps.Check(h, capability.RightDestroy)
	if err != nil {
		return kerr.New(op, err)
	}
	// Hold a reference so the payload stays valid after the handle goes.
	obj, err := k.objects.Retain(e.Object)
	if err != nil {
		return kerr.New(op, err)
	}
	defer func() {
		if perr := k.objects.Put(obj); perr != nil {
			k.bug("object_destroy reference on %s: %v", obj.ID(), perr)
		}
	}()
	if err := t.caps.Revoke(h); err != nil {
		return kerr.New(op, err)
	}

	switch p := obj.Payload().(type) {
	case *ipc.Channel:
		p.Close(kerr.ErrChannelClosed)
	case *Task:
		k.kill(p, ExitKilled)
	case *service.Service:
		k.services.Unregister(p)
		if cobj, err := k.objects.Get(p.Channel); err == nil {
			cobj.Payload().(*ipc.Channel).Close(kerr.ErrChannelClosed)
		}
	case *mm.MemoryObject:
	}
	k.log.Debug("object destroyed", logging.Object(obj.ID()), logging.Kind(obj.Kind()), logging.Task(t.ID()))
	return nil
}

// HandleDuplicate creates a second handle to the same object with rights
// narrowed to mask. Requires RightDuplicate.
func (k *Kernel) HandleDuplicate(t *Task, h capability.Handle, mask capability.Rights) (_ capability.Handle, err error) {
	const op = "handle_duplicate"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return capability.InvalidHandle, err
	}
	dup, err := t.caps.Duplicate(h, mask)
	if err != nil {
		return capability.InvalidHandle, kerr.New(op, err)
	}
	return dup, nil
}

// HandleClose revokes h. The object is destroyed once nothing else refers
// to it.
func (k *Kernel) HandleClose(t *Task, h capability.Handle) (err error) {
	const op = "handle_close"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return err
	}
	return kerr.New(op, t.caps.Revoke(h))
}

// HandleInfo describes the object behind h.
func (k *Kernel) HandleInfo(t *Task, h capability.Handle) (capability.Entry, error) {
	if err := k.enter(t); err != nil {
		return capability.Entry{}, err
	}
	e, err := t.caps.Lookup(h)
	return e, kerr.New("handle_info", err)
}
