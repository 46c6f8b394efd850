package kernel

import (
	"context"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/capability"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/mm"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/object"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/sched"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

const memoryRights = capability.RightRead | capability.RightWrite | capability.RightExecute |
	capability.RightMap | capability.RightDuplicate | capability.RightTransfer | capability.RightDestroy

// MemoryObjectCreate creates a memory object of pages 4 KiB pages.
func (k *Kernel) MemoryObjectCreate(t *Task, pages int, policy mm.Policy) (_ capability.Handle, err error) {
	const op = "memory_object_create"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return capability.InvalidHandle, err
	}
	mo, err := k.memory.NewObject(pages, policy)
	if err != nil {
		return capability.InvalidHandle, kerr.New(op, err)
	}
	h, _, err := k.grantNew(t, mo, memoryRights)
	if err != nil {
		// A failed Create leaves mo outside the table; Release is idempotent.
		mo.Release()
		return capability.InvalidHandle, kerr.New(op, err)
	}
	return h, nil
}

// mappingRights returns the handle rights needed to map with perms.
func mappingRights(perms mm.Perms) capability.Rights {
	r := capability.RightMap
	if perms.Contains(mm.PermRead) {
		r |= capability.RightRead
	}
	if perms.Contains(mm.PermWrite) {
		r |= capability.RightWrite
	}
	if perms.Contains(mm.PermExecute) {
		r |= capability.RightExecute
	}
	return r
}

// MemoryObjectMap maps the whole object behind h at va in t's address space.
// perms may not exceed the handle's rights.
func (k *Kernel) MemoryObjectMap(t *Task, h capability.Handle, va mm.VirtAddr, perms mm.Perms, size mm.FrameSize) (err error) {
	const op = "memory_object_map"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return err
	}
	e, err := t.caps.CheckKind(h, object.KindMemoryObject, mappingRights(perms))
	if err != nil {
		return kerr.New(op, err)
	}
	// The mapping holds its own reference, dropped when it is unmapped.
	obj, err := k.objects.Retain(e.Object)
	if err != nil {
		return kerr.New(op, err)
	}
	if err := t.space.Map(obj.Payload().(*mm.MemoryObject), obj.ID(), va, perms, size); err != nil {
		_ = k.objects.Put(obj)
		return kerr.New(op, err)
	}
	return nil
}

// MemoryObjectUnmap removes the mapping that starts at va.
func (k *Kernel) MemoryObjectUnmap(t *Task, va mm.VirtAddr) (err error) {
	const op = "memory_object_unmap"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return err
	}
	return kerr.New(op, t.space.Unmap(va))
}

// MemoryObjectCommit backs one page of the object behind h. With Block set
// an exhausted allocator parks t until frames are freed.
func (k *Kernel) MemoryObjectCommit(ctx context.Context, t *Task, h capability.Handle, page int, opts WaitOptions) (err error) {
	const op = "memory_object_commit"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return err
	}
	e, err := t.caps.CheckKind(h, object.KindMemoryObject, capability.RightWrite)
	if err != nil {
		return kerr.New(op, err)
	}
	obj, err := k.objects.Retain(e.Object)
	if err != nil {
		return kerr.New(op, err)
	}
	defer func() { _ = k.objects.Put(obj) }()
	mo := obj.Payload().(*mm.MemoryObject)

	for {
		_, err := mo.Commit(page)
		if err == nil || !opts.Block || kerr.KindOf(err) != kerr.KindOutOfMemory {
			return kerr.New(op, err)
		}

		w := k.sched.NewWaiter(t.Task, sched.ReasonAwaitingMemoryObject)
		cancel := k.memory.NotifyOnFree(func() { w.Wake(nil) })
		// A frame freed before the callback was registered would be missed.
		if _, err := mo.Commit(page); err == nil {
			cancel()
			return nil
		}
		if _, err := k.wait(ctx, t, w, op, opts.Timeout); err != nil {
			cancel()
			return err
		}
	}
}

// MemoryRead copies from t's address space at va into buf, faulting in
// lazily backed pages.
func (k *Kernel) MemoryRead(t *Task, va mm.VirtAddr, buf []byte) (err error) {
	const op = "memory_read"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return err
	}
	return kerr.New(op, t.space.Read(va, buf))
}

// MemoryWrite copies buf into t's address space at va.
func (k *Kernel) MemoryWrite(t *Task, va mm.VirtAddr, buf []byte) (err error) {
	const op = "memory_write"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return err
	}
	return kerr.New(op, t.space.Write(va, buf))
}
