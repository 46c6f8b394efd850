package kernel

import (
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/capability"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/object"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/service"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

const (
	serviceOwnerRights = capability.RightSend | capability.RightReceive | capability.RightWait |
		capability.RightDuplicate | capability.RightTransfer | capability.RightDestroy
	subscriberRights = capability.RightSend | capability.RightDuplicate | capability.RightTransfer
)

// ServiceRegister publishes a new channel received on by t under name and
// returns t's handle to the service. Channel syscalls accept the handle
// directly. Zero capacity selects the default.
func (k *Kernel) ServiceRegister(t *Task, name string, capacity int) (_ capability.Handle, err error) {
	const op = "service_register"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return capability.InvalidHandle, err
	}
	if err := service.ValidateName(name); err != nil {
		return capability.InvalidHandle, err
	}

	ch, err := k.newChannel(t, capacity)
	if err != nil {
		return capability.InvalidHandle, kerr.New(op, err)
	}
	// The service object owns the channel's creation reference.
	cobj, err := k.objects.Create(ch)
	if err != nil {
		return capability.InvalidHandle, kerr.New(op, err)
	}
	svc := &service.Service{
		Name:         name,
		Owner:        t.ID(),
		Channel:      cobj.ID(),
		RegisteredAt: time.Now(),
	}
	sobj, err := k.objects.Create(svc)
	if err != nil {
		_ = k.objects.Put(cobj)
		return capability.InvalidHandle, kerr.New(op, err)
	}
	svc.Object = sobj.ID()

	if err := k.services.Register(svc); err != nil {
		_ = k.objects.Put(sobj)
		return capability.InvalidHandle, err
	}
	h, err := t.caps.Grant(sobj.ID(), sobj.Kind(), serviceOwnerRights)
	_ = k.objects.Put(sobj)
	if err != nil {
		return capability.InvalidHandle, kerr.New(op, err)
	}

	k.log.Info("service registered",
		logging.Service(name),
		logging.Owner(t.ID()),
		zap.Stringer("channel", cobj.ID()))
	return h, nil
}

// ServiceSubscribe looks name up and returns a send-only handle to it.
func (k *Kernel) ServiceSubscribe(t *Task, name string) (_ capability.Handle, err error) {
	const op = "service_subscribe"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return capability.InvalidHandle, err
	}
	svc, err := k.services.Lookup(name)
	if err != nil {
		return capability.InvalidHandle, err
	}
	h, err := t.caps.Grant(svc.Object, svc.ObjectKind(), subscriberRights)
	if err != nil {
		return capability.InvalidHandle, kerr.New(op, err)
	}
	return h, nil
}

// ServiceUnregister withdraws the service behind h. Existing subscriber
// handles keep working until the channel closes.
func (k *Kernel) ServiceUnregister(t *Task, h capability.Handle) (err error) {
	const op = "service_unregister"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return err
	}
	e, err := t.caps.CheckKind(h, object.KindService, capability.RightDestroy)
	if err != nil {
		return kerr.New(op, err)
	}
	obj, err := k.objects.Get(e.Object)
	if err != nil {
		return kerr.New(op, err)
	}
	if !k.services.Unregister(obj.Payload().(*service.Service)) {
		return kerr.New(op, kerr.ErrNotFound)
	}
	return nil
}
