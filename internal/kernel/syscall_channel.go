package kernel

import (
	"bytes"
	"context"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/capability"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/ipc"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/object"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/sched"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/service"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/utils"
)

const channelRights = capability.RightSend | capability.RightReceive | capability.RightWait |
	capability.RightDuplicate | capability.RightTransfer | capability.RightDestroy

// Received is a message delivered to a task. Handles are valid in the
// receiving task's table.
type Received struct {
	Sender  object.ID
	Payload []byte
	Handles []capability.Handle
}

// ChannelCreate creates a channel received on by t. Zero capacity selects
// the configured default.
func (k *Kernel) ChannelCreate(t *Task, capacity int) (_ capability.Handle, err error) {
	const op = "channel_create"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return capability.InvalidHandle, err
	}
	ch, err := k.newChannel(t, capacity)
	if err != nil {
		return capability.InvalidHandle, kerr.New(op, err)
	}
	h, _, err := k.grantNew(t, ch, channelRights)
	if err != nil {
		return capability.InvalidHandle, kerr.New(op, err)
	}
	return h, nil
}

func (k *Kernel) newChannel(t *Task, capacity int) (*ipc.Channel, error) {
	if capacity == 0 {
		capacity = k.cfg.QueueCapacity
	}
	if capacity < 0 || capacity > k.cfg.MaxQueueCapacity {
		return nil, kerr.Newf("channel_create", kerr.ErrInvalidArgument, "capacity %d outside 1..%d", capacity, k.cfg.MaxQueueCapacity)
	}
	return ipc.NewChannel(capacity, t.ID(), k.dropCaps), nil
}

// channel resolves h, a channel or service handle, to the channel behind it.
func (k *Kernel) channel(t *Task, h capability.Handle, required capability.Rights) (*ipc.Channel, error) {
	e, err := t.caps.Check(h, required)
	if err != nil {
		return nil, err
	}
	obj, err := k.objects.Get(e.Object)
	if err != nil {
		return nil, kerr.New("channel", kerr.ErrChannelClosed)
	}
	switch p := obj.Payload().(type) {
	case *ipc.Channel:
		return p, nil
	case *service.Service:
		cobj, err := k.objects.Get(p.Channel)
		if err != nil {
			return nil, kerr.New("channel", kerr.ErrChannelClosed)
		}
		return cobj.Payload().(*ipc.Channel), nil
	default:
		return nil, kerr.Newf("channel", kerr.ErrInvalidHandle, "%s is a %s", h, e.Kind)
	}
}

// ChannelSend sends payload and moves the attached handles out of t's table.
// Either the message is queued with every handle or nothing changes. A full
// queue fails with ErrQueueFull unless opts.Block is set.
func (k *Kernel) ChannelSend(ctx context.Context, t *Task, h capability.Handle, payload []byte, attached []capability.Handle, opts SendOptions) (err error) {
	const op = "channel_send"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return err
	}
	if err := utils.ValidateSize(payload, k.cfg.MaxMessageBytes); err != nil {
		return kerr.Newf(op, kerr.ErrInvalidArgument, "%v", err)
	}
	if len(attached) > k.cfg.MaxAttachedHandles {
		return kerr.Newf(op, kerr.ErrInvalidArgument, "%d handles attached, limit %d", len(attached), k.cfg.MaxAttachedHandles)
	}
	ch, err := k.channel(t, h, capability.RightSend)
	if err != nil {
		return kerr.New(op, err)
	}

	msg := ipc.Message{Sender: t.ID(), Payload: bytes.Clone(payload)}
	var take ipc.TakeFunc
	if len(attached) > 0 {
		take = func() ([]capability.Entry, error) { return t.caps.Take(attached) }
	}

	for {
		var w *sched.Waiter
		if opts.Block {
			w = k.sched.NewWaiter(t.Task, sched.ReasonAwaitingEvent)
		}
		err := ch.Send(msg, take, w)
		if err == nil {
			return nil
		}
		if w == nil || kerr.KindOf(err) != kerr.KindQueueFull {
			return kerr.New(op, err)
		}
		if _, err := k.wait(ctx, t, w, op, opts.Timeout); err != nil {
			ch.Cancel(w)
			return err
		}
	}
}

// ChannelReceive takes the oldest message off the channel behind h and
// installs its handles into t's table. An empty queue fails with
// ErrWouldBlock unless opts.Block is set.
func (k *Kernel) ChannelReceive(ctx context.Context, t *Task, h capability.Handle, opts ReceiveOptions) (_ *Received, err error) {
	const op = "channel_receive"
	defer k.trace(op, t)(&err)
	if err = k.enter(t); err != nil {
		return nil, err
	}
	ch, err := k.channel(t, h, capability.RightReceive)
	if err != nil {
		return nil, kerr.New(op, err)
	}

	var w *sched.Waiter
	if opts.Block {
		w = k.sched.NewWaiter(t.Task, sched.ReasonAwaitingMessage)
	}
	msg, err := ch.Receive(w)
	if err != nil {
		if w == nil || kerr.KindOf(err) != kerr.KindWouldBlock {
			return nil, kerr.New(op, err)
		}
		t.inbox.Store(w)
		v, err := k.wait(ctx, t, w, op, opts.Timeout)
		if err != nil {
			ch.Cancel(w)
			// A message handed over as the wait ended goes back to the queue.
			if t.inbox.CompareAndSwap(w, nil) {
				if m, ok := settle(w, err); ok {
					ch.Unreceive(m)
				}
			}
			return nil, err
		}
		if !t.inbox.CompareAndSwap(w, nil) {
			// Killed after the handoff; reap dropped the message.
			return nil, kerr.New(op, kerr.ErrNotFound)
		}
		msg = v.(ipc.Message)
	}

	handles, err := t.caps.Install(msg.Caps)
	if err != nil {
		ch.Unreceive(msg)
		return nil, kerr.New(op, err)
	}
	k.rebind(t, msg.Caps)
	k.metrics.RecordDelivery(len(handles))

	return &Received{Sender: msg.Sender, Payload: msg.Payload, Handles: handles}, nil
}

// settle fires w with err unless something fired it first, and returns the
// message it was woken with, if any.
func settle(w *sched.Waiter, err error) (ipc.Message, bool) {
	if w.Fail(err) {
		return ipc.Message{}, false
	}
	<-w.Done()
	v, ferr := w.Result()
	if ferr != nil {
		return ipc.Message{}, false
	}
	m, ok := v.(ipc.Message)
	return m, ok
}

// rebind makes t the receiver of every channel whose receive right it just
// obtained.
func (k *Kernel) rebind(t *Task, entries []capability.Entry) {
	for _, e := range entries {
		if e.Kind != object.KindChannel || !e.Rights.Contains(capability.RightReceive) {
			continue
		}
		if obj, err := k.objects.Get(e.Object); err == nil {
			obj.Payload().(*ipc.Channel).Rebind(t.ID())
		}
	}
}

// ChannelStats describes the channel behind h.
func (k *Kernel) ChannelStats(t *Task, h capability.Handle) (ipc.Stats, error) {
	if err := k.enter(t); err != nil {
		return ipc.Stats{}, err
	}
	ch, err := k.channel(t, h, capability.RightsNone)
	if err != nil {
		return ipc.Stats{}, kerr.New("channel_stats", err)
	}
	return ch.Stats(), nil
}
