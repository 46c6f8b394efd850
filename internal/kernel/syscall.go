package kernel

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/sched"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

// WaitOptions controls blocking syscalls. Without Block the call fails with
// ErrWouldBlock (or ErrQueueFull for sends) instead of waiting. A Timeout or
// a done context ends the wait with ErrTimedOut.
type WaitOptions struct {
	Block   bool
	Timeout time.Duration
}

// SendOptions controls ChannelSend.
type SendOptions = WaitOptions

// ReceiveOptions controls ChannelReceive.
type ReceiveOptions = WaitOptions

// trace times a syscall and records its outcome. Use as
//
//	defer k.trace(op, t)(&err)
func (k *Kernel) trace(op string, t *Task) func(*error) {
	timer := monitoring.NewTimer(k.metrics, op)
	return func(errp *error) {
		err := *errp
		result := string(kerr.KindOf(err))
		timer.Stop(result)
		if err == nil {
			return
		}
		fields := []zap.Field{logging.Op(op), zap.String("result", result), zap.Error(err)}
		if t != nil && t.Task != nil {
			fields = append(fields, logging.Task(t.ID()))
		}
		k.log.Debug("syscall failed", fields...)
	}
}

// wait blocks t on w until it fires, the context is done or timeout passes.
// The caller has already registered w with the resource and must cancel it
// there if wait returns an error.
func (k *Kernel) wait(ctx context.Context, t *Task, w *sched.Waiter, op string, timeout time.Duration) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, func() {
		w.Fail(kerr.New(op, kerr.ErrTimedOut))
	})
	defer stop()

	blocked, err := k.sched.Block(t.Task, w)
	if err != nil {
		return nil, kerr.New(op, err)
	}
	if blocked {
		if t.program != nil {
			t.offCPU(offBlocked)
		} else {
			<-w.Done()
			k.sched.Resume(t.Task)
		}
	}
	<-w.Done()

	v, err := w.Result()
	if err != nil {
		if t.State() == sched.StateDead {
			return nil, kerr.New(op, kerr.ErrNotFound)
		}
		return nil, err
	}
	return v, nil
}
