package ipc

import (
	"sync"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/capability"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/object"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/sched"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

// Message is a queued payload plus the capabilities travelling with it.
type Message struct {
	Sender  object.ID
	Payload []byte
	Caps    []capability.Entry
}

// TakeFunc removes the attached capabilities from the sender. It runs with
// the channel lock held, after the queue has room.
type TakeFunc func() ([]capability.Entry, error)

// DropFunc releases capabilities of messages that will never be received.
type DropFunc func([]capability.Entry)

// Channel is a bounded FIFO with one receiving task.
type Channel struct {
	capacity int
	drop     DropFunc

	mu          sync.Mutex
	queue       []Message
	receiver    object.ID
	recvWaiters []*sched.Waiter
	sendWaiters []*sched.Waiter
	closed      error
	sent        uint64
	received    uint64
}

// NewChannel creates a channel with room for capacity messages, received by
// receiver.
func NewChannel(capacity int, receiver object.ID, drop DropFunc) *Channel {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel{
		capacity: capacity,
		receiver: receiver,
		drop:     drop,
		queue:    make([]Message, 0, capacity),
	}
}

// ObjectKind implements object.Payload.
func (*Channel) ObjectKind() object.Kind { return object.KindChannel }

// Capacity returns the queue bound.
func (c *Channel) Capacity() int { return c.capacity }

// Len returns the number of queued messages.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Receiver returns the task bound to receive.
func (c *Channel) Receiver() object.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receiver
}

// Rebind moves the receiving end to task, after a receive capability was transferred.
func (c *Channel) Rebind(task object.ID) {
	c.mu.Lock()
	c.receiver = task
	c.mu.Unlock()
}

// Err returns why the channel closed, or nil while open.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send queues msg, or hands it straight to a waiting receiver. take runs once
// the message is certain to be accepted. When the queue is full and w is not
// nil, w is registered to fire when space frees up and ErrQueueFull is
// returned; the caller then blocks on w and retries.
func (c *Channel) Send(msg Message, take TakeFunc, w *sched.Waiter) error {
	const op = "channel_send"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed != nil {
		return kerr.New(op, c.closed)
	}
	if len(c.queue) >= c.capacity {
		if w != nil {
			c.sendWaiters = append(c.sendWaiters, w)
		}
		return kerr.Newf(op, kerr.ErrQueueFull, "capacity %d", c.capacity)
	}

	if take != nil {
		caps, err := take()
		if err != nil {
			return kerr.New(op, err)
		}
		msg.Caps = caps
	}
	c.sent++

	// The queue is empty whenever a receiver waits, so handoff keeps FIFO order.
	for len(c.recvWaiters) > 0 {
		rw := c.recvWaiters[0]
		c.recvWaiters[0] = nil
		c.recvWaiters = c.recvWaiters[1:]
		if rw.Wake(msg) {
			c.received++
			return nil
		}
	}
	c.queue = append(c.queue, msg)
	return nil
}

// Receive pops the oldest message. With an empty queue it returns
// ErrWouldBlock, registering w (if not nil) to fire with the next message.
func (c *Channel) Receive(w *sched.Waiter) (Message, error) {
	const op = "channel_receive"

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) > 0 {
		msg := c.queue[0]
		c.queue[0] = Message{}
		c.queue = c.queue[1:]
		c.received++
		c.wakeSenderLocked()
		return msg, nil
	}
	if c.closed != nil {
		return Message{}, kerr.New(op, c.closed)
	}
	if w != nil {
		c.recvWaiters = append(c.recvWaiters, w)
	}
	return Message{}, kerr.New(op, kerr.ErrWouldBlock)
}

// Unreceive puts msg back at the head of the queue after the receiver failed
// to install its capabilities. On a closed channel the message is dropped.
func (c *Channel) Unreceive(msg Message) {
	c.mu.Lock()
	if c.closed != nil {
		c.mu.Unlock()
		c.dropCaps([]Message{msg})
		return
	}
	c.queue = append(c.queue, Message{})
	copy(c.queue[1:], c.queue)
	c.queue[0] = msg
	c.received--
	c.mu.Unlock()
}

func (c *Channel) wakeSenderLocked() {
	for len(c.sendWaiters) > 0 {
		sw := c.sendWaiters[0]
		c.sendWaiters[0] = nil
		c.sendWaiters = c.sendWaiters[1:]
		if sw.Wake(nil) {
			return
		}
	}
}

// Cancel removes a waiter that gave up, e.g. after a timeout.
func (c *Channel) Cancel(w *sched.Waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recvWaiters = remove(c.recvWaiters, w)
	c.sendWaiters = remove(c.sendWaiters, w)
}

func remove(ws []*sched.Waiter, w *sched.Waiter) []*sched.Waiter {
	for i, x := range ws {
		if x == w {
			return append(ws[:i], ws[i+1:]...)
		}
	}
	return ws
}

// Close shuts the channel with reason, which is ErrRecipientDead or
// ErrChannelClosed. Queued messages are discarded and every waiter fails with
// reason. Closing twice keeps the first reason.
func (c *Channel) Close(reason error) bool {
	c.mu.Lock()
	if c.closed != nil {
		c.mu.Unlock()
		return false
	}
	c.closed = reason
	drained := c.queue
	c.queue = nil
	waiters := append(c.recvWaiters, c.sendWaiters...)
	c.recvWaiters, c.sendWaiters = nil, nil
	c.mu.Unlock()

	for _, w := range waiters {
		w.Fail(kerr.New("channel", reason))
	}
	c.dropCaps(drained)
	return true
}

func (c *Channel) dropCaps(msgs []Message) {
	if c.drop == nil {
		return
	}
	for _, m := range msgs {
		if len(m.Caps) > 0 {
			c.drop(m.Caps)
		}
	}
}

// Stats describes a channel for introspection.
type Stats struct {
	Capacity int    `json:"capacity"`
	Queued   int    `json:"queued"`
	Sent     uint64 `json:"sent"`
	Received uint64 `json:"received"`
	Closed   string `json:"closed,omitempty"`
}

// Stats returns a snapshot.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{Capacity: c.capacity, Queued: len(c.queue), Sent: c.sent, Received: c.received}
	if c.closed != nil {
		st.Closed = string(kerr.KindOf(c.closed))
	}
	return st
}
