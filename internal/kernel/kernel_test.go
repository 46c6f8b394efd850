package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/capability"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/mm"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/object"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

func newTestKernel(t *testing.T, mutate ...func(*config.Config)) *Kernel {
	t.Helper()
	cfg := config.Default()
	cfg.Memory.Frames = 256
	for _, fn := range mutate {
		fn(cfg)
	}
	k, err := New(cfg)
	require.NoError(t, err)
	return k
}

func bootstrap(t *testing.T, k *Kernel, name string) *Task {
	t.Helper()
	task, err := k.Bootstrap(name, nil)
	require.NoError(t, err)
	return task
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Kernel.Cores = 0
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestBootstrapCreatesRunningDetachedTask(t *testing.T) {
	k := newTestKernel(t)
	root := bootstrap(t, k, "init")

	assert.True(t, root.Detached())
	assert.Equal(t, "running", root.State().String())
	assert.Equal(t, object.Invalid, root.Parent())
	assert.Equal(t, 1, k.Stats().Objects["task"])

	got, ok := k.Task(root.ID())
	require.True(t, ok)
	assert.Same(t, root, got)
}

func TestClosingLastHandleDestroysObject(t *testing.T) {
	k := newTestKernel(t)
	root := bootstrap(t, k, "init")

	ch, err := k.ChannelCreate(root, 4)
	require.NoError(t, err)
	dup, err := k.HandleDuplicate(root, ch, capability.RightSend)
	require.NoError(t, err)
	assert.Equal(t, 1, k.Stats().Objects["channel"])

	require.NoError(t, k.HandleClose(root, ch))
	assert.Equal(t, 1, k.Stats().Objects["channel"], "duplicate keeps the channel alive")

	require.NoError(t, k.HandleClose(root, dup))
	assert.Equal(t, 0, k.Stats().Objects["channel"])
}

func TestRevokedHandleIsInvalid(t *testing.T) {
	k := newTestKernel(t)
	root := bootstrap(t, k, "init")
	ctx := context.Background()

	ch, err := k.ChannelCreate(root, 4)
	require.NoError(t, err)
	require.NoError(t, k.HandleClose(root, ch))

	err = k.ChannelSend(ctx, root, ch, []byte("x"), nil, SendOptions{})
	assert.ErrorIs(t, err, kerr.ErrInvalidHandle)
	assert.ErrorIs(t, k.HandleClose(root, ch), kerr.ErrInvalidHandle)

	// A new handle reusing the slot does not revive the old value.
	ch2, err := k.ChannelCreate(root, 4)
	require.NoError(t, err)
	assert.NotEqual(t, ch, ch2)
	_, err = k.HandleInfo(root, ch)
	assert.ErrorIs(t, err, kerr.ErrInvalidHandle)
}

func TestDuplicateCannotWiden(t *testing.T) {
	k := newTestKernel(t)
	root := bootstrap(t, k, "init")

	ch, err := k.ChannelCreate(root, 4)
	require.NoError(t, err)
	sendOnly, err := k.HandleDuplicate(root, ch, capability.RightSend|capability.RightDuplicate)
	require.NoError(t, err)

	e, err := k.HandleInfo(root, sendOnly)
	require.NoError(t, err)
	assert.Equal(t, capability.RightSend|capability.RightDuplicate, e.Rights)

	_, err = k.HandleDuplicate(root, sendOnly, capability.RightSend|capability.RightReceive)
	assert.ErrorIs(t, err, kerr.ErrPermissionDenied)

	_, err = k.ChannelReceive(context.Background(), root, sendOnly, ReceiveOptions{})
	assert.ErrorIs(t, err, kerr.ErrPermissionDenied)
}

func TestObjectCreateDispatchesOnSpec(t *testing.T) {
	k := newTestKernel(t)
	root := bootstrap(t, k, "init")

	ch, err := k.ObjectCreate(root, ChannelSpec{Capacity: 2})
	require.NoError(t, err)
	mo, err := k.ObjectCreate(root, MemorySpec{Pages: 2, Policy: mm.PolicyLazyZeroFill})
	require.NoError(t, err)
	child, err := k.ObjectCreate(root, TaskSpec{Name: "child"})
	require.NoError(t, err)

	for h, kind := range map[capability.Handle]object.Kind{
		ch:    object.KindChannel,
		mo:    object.KindMemoryObject,
		child: object.KindTask,
	} {
		e, err := k.HandleInfo(root, h)
		require.NoError(t, err)
		assert.Equal(t, kind, e.Kind)
	}

	_, err = k.ObjectCreate(root, ChannelSpec{Capacity: 1 << 20})
	assert.ErrorIs(t, err, kerr.ErrInvalidArgument)
}

func TestObjectDestroyClosesChannel(t *testing.T) {
	k := newTestKernel(t)
	root := bootstrap(t, k, "init")
	ctx := context.Background()

	ch, err := k.ChannelCreate(root, 4)
	require.NoError(t, err)
	other, err := k.HandleDuplicate(root, ch, capability.RightSend)
	require.NoError(t, err)

	require.NoError(t, k.ObjectDestroy(root, ch))
	err = k.ChannelSend(ctx, root, other, []byte("x"), nil, SendOptions{})
	assert.ErrorIs(t, err, kerr.ErrChannelClosed)

	// Destroy needs the right.
	assert.ErrorIs(t, k.ObjectDestroy(root, other), kerr.ErrPermissionDenied)
}

func TestSyscallsFromDeadTaskFail(t *testing.T) {
	k := newTestKernel(t)
	root := bootstrap(t, k, "init")
	require.NoError(t, k.TaskExit(root, 0))

	_, err := k.ChannelCreate(root, 1)
	assert.ErrorIs(t, err, kerr.ErrNotFound)
	assert.ErrorIs(t, k.TaskExit(root, 0), kerr.ErrNotFound)
	assert.Equal(t, 0, k.Stats().Objects["task"])
}

func TestSyscallMetrics(t *testing.T) {
	k := newTestKernel(t)
	root := bootstrap(t, k, "init")

	_, err := k.ChannelCreate(root, 1)
	require.NoError(t, err)
	_, err = k.ChannelCreate(root, -1)
	require.Error(t, err)

	snap := k.Metrics().Snapshot()
	assert.GreaterOrEqual(t, snap.Syscalls, int64(3))
	assert.GreaterOrEqual(t, snap.SyscallErrors, int64(1))
}
