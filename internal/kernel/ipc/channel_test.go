package ipc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/capability"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/object"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/sched"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

func detached(t *testing.T, s *sched.Scheduler, id int) *sched.Task {
	t.Helper()
	task := sched.NewTask(object.ID(id), fmt.Sprintf("t%d", id), 0, true)
	require.NoError(t, s.Admit(task))
	return task
}

func msg(s string) Message { return Message{Sender: 1, Payload: []byte(s)} }

func TestFIFO(t *testing.T) {
	ch := NewChannel(16, 2, nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, ch.Send(msg(fmt.Sprint(i)), nil, nil))
	}
	for i := 0; i < 10; i++ {
		m, err := ch.Receive(nil)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), string(m.Payload))
	}

	_, err := ch.Receive(nil)
	assert.ErrorIs(t, err, kerr.ErrWouldBlock)
}

func TestQueueFullRejects(t *testing.T) {
	ch := NewChannel(8, 2, nil)

	for i := 0; i < 8; i++ {
		require.NoError(t, ch.Send(msg("x"), nil, nil))
	}
	taken := false
	err := ch.Send(msg("ninth"), func() ([]capability.Entry, error) {
		taken = true
		return nil, nil
	}, nil)

	assert.ErrorIs(t, err, kerr.ErrQueueFull)
	assert.True(t, kerr.Retryable(err))
	assert.False(t, taken, "capabilities are not taken for a rejected message")
	assert.Equal(t, 8, ch.Len())
}

func TestTakeFailureQueuesNothing(t *testing.T) {
	ch := NewChannel(4, 2, nil)
	errTake := kerr.New("take", kerr.ErrPermissionDenied)

	err := ch.Send(msg("x"), func() ([]capability.Entry, error) { return nil, errTake }, nil)
	assert.ErrorIs(t, err, kerr.ErrPermissionDenied)
	assert.Equal(t, 0, ch.Len())
}

func TestDirectHandoffToBlockedReceiver(t *testing.T) {
	s := sched.New(1, 1, nil)
	recv := detached(t, s, 2)
	ch := NewChannel(4, recv.ID(), nil)

	w := s.NewWaiter(recv, sched.ReasonAwaitingMessage)
	_, err := ch.Receive(w)
	require.ErrorIs(t, err, kerr.ErrWouldBlock)
	blocked, err := s.Block(recv, w)
	require.NoError(t, err)
	require.True(t, blocked)

	entries := []capability.Entry{{Object: 9, Kind: object.KindChannel, Rights: capability.RightSend}}
	require.NoError(t, ch.Send(msg("hi"), func() ([]capability.Entry, error) { return entries, nil }, nil))

	<-w.Done()
	v, err := w.Result()
	require.NoError(t, err)
	got := v.(Message)
	assert.Equal(t, "hi", string(got.Payload))
	assert.Equal(t, entries, got.Caps)
	assert.Equal(t, 0, ch.Len())
	assert.Equal(t, sched.StateReady, recv.State())
}

func TestBlockedSenderWakesOnSpace(t *testing.T) {
	s := sched.New(1, 1, nil)
	sender := detached(t, s, 1)
	ch := NewChannel(1, 2, nil)

	require.NoError(t, ch.Send(msg("a"), nil, nil))
	w := s.NewWaiter(sender, sched.ReasonAwaitingEvent)
	require.ErrorIs(t, ch.Send(msg("b"), nil, w), kerr.ErrQueueFull)
	_, err := s.Block(sender, w)
	require.NoError(t, err)

	_, err = ch.Receive(nil)
	require.NoError(t, err)

	<-w.Done()
	_, err = w.Result()
	assert.NoError(t, err)
	require.NoError(t, ch.Send(msg("b"), nil, nil))
}

func TestCloseFailsWaitersAndDropsQueue(t *testing.T) {
	s := sched.New(1, 1, nil)
	sender := detached(t, s, 1)

	var dropped [][]capability.Entry
	ch := NewChannel(1, 2, func(e []capability.Entry) { dropped = append(dropped, e) })

	caps := []capability.Entry{{Object: 5, Kind: object.KindMemoryObject}}
	require.NoError(t, ch.Send(msg("queued"), func() ([]capability.Entry, error) { return caps, nil }, nil))

	w := s.NewWaiter(sender, sched.ReasonAwaitingEvent)
	require.ErrorIs(t, ch.Send(msg("blocked"), nil, w), kerr.ErrQueueFull)

	assert.True(t, ch.Close(kerr.ErrRecipientDead))
	assert.False(t, ch.Close(kerr.ErrChannelClosed))

	_, err := w.Result()
	assert.ErrorIs(t, err, kerr.ErrRecipientDead)
	assert.Equal(t, [][]capability.Entry{caps}, dropped)

	assert.ErrorIs(t, ch.Send(msg("late"), nil, nil), kerr.ErrRecipientDead)
	_, err = ch.Receive(nil)
	assert.ErrorIs(t, err, kerr.ErrRecipientDead)
	assert.Equal(t, "recipient_dead", ch.Stats().Closed)
}

func TestUnreceiveRestoresOrder(t *testing.T) {
	ch := NewChannel(4, 2, nil)
	require.NoError(t, ch.Send(msg("first"), nil, nil))
	require.NoError(t, ch.Send(msg("second"), nil, nil))

	m, err := ch.Receive(nil)
	require.NoError(t, err)
	ch.Unreceive(m)

	m, err = ch.Receive(nil)
	require.NoError(t, err)
	assert.Equal(t, "first", string(m.Payload))
}

func TestUnreceiveOnClosedDrops(t *testing.T) {
	dropped := 0
	ch := NewChannel(4, 2, func([]capability.Entry) { dropped++ })
	ch.Close(kerr.ErrChannelClosed)

	ch.Unreceive(Message{Caps: []capability.Entry{{Object: 1}}})
	assert.Equal(t, 1, dropped)
}

func TestCancelledWaiterIsSkipped(t *testing.T) {
	s := sched.New(1, 1, nil)
	a, b := detached(t, s, 1), detached(t, s, 2)
	ch := NewChannel(4, 2, nil)

	stale := s.NewWaiter(a, sched.ReasonAwaitingMessage)
	_, _ = ch.Receive(stale)
	stale.Fail(errors.New("timed out"))

	live := s.NewWaiter(b, sched.ReasonAwaitingMessage)
	_, _ = ch.Receive(live)

	require.NoError(t, ch.Send(msg("x"), nil, nil))
	v, err := live.Result()
	require.NoError(t, err)
	assert.Equal(t, "x", string(v.(Message).Payload))

	ch.Cancel(live)
	assert.Equal(t, 0, ch.Len())
}

func TestRebind(t *testing.T) {
	ch := NewChannel(1, 2, nil)
	ch.Rebind(7)
	assert.Equal(t, object.ID(7), ch.Receiver())
}
