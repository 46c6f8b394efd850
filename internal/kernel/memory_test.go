package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/capability"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/mm"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/sched"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

func TestSharedLazyMapping(t *testing.T) {
	k := newTestKernel(t)
	a := bootstrap(t, k, "a")
	b := bootstrap(t, k, "b")
	ctx := context.Background()

	const (
		vaA = mm.VirtAddr(0x10000)
		vaB = mm.VirtAddr(0x20000)
	)

	mo, err := k.MemoryObjectCreate(a, 4, mm.PolicyLazyZeroFill)
	require.NoError(t, err)
	require.NoError(t, k.MemoryObjectMap(a, mo, vaA, mm.PermRead|mm.PermWrite, mm.Size4KiB))
	assert.Zero(t, k.Stats().Memory.FramesInUse, "lazy objects start unbacked")

	// Pass a read-only handle to b.
	ro, err := k.HandleDuplicate(a, mo, capability.RightRead|capability.RightMap|capability.RightTransfer)
	require.NoError(t, err)
	inbox, err := k.ChannelCreate(b, 1)
	require.NoError(t, err)
	toB := share(t, k, b, inbox, a, capability.RightSend)
	require.NoError(t, k.ChannelSend(ctx, a, toB, nil, []capability.Handle{ro}, SendOptions{}))
	msg, err := k.ChannelReceive(ctx, b, inbox, ReceiveOptions{})
	require.NoError(t, err)
	require.Len(t, msg.Handles, 1)
	roB := msg.Handles[0]

	err = k.MemoryObjectMap(b, roB, vaB, mm.PermRead|mm.PermWrite, mm.Size4KiB)
	assert.ErrorIs(t, err, kerr.ErrPermissionDenied)
	require.NoError(t, k.MemoryObjectMap(b, roB, vaB, mm.PermRead, mm.Size4KiB))

	require.NoError(t, k.MemoryWrite(a, vaA+2*mm.PageSize, []byte("hello")))
	assert.Equal(t, 1, k.Stats().Memory.FramesInUse)

	buf := make([]byte, 5)
	require.NoError(t, k.MemoryRead(b, vaB+2*mm.PageSize, buf))
	assert.Equal(t, "hello", string(buf))

	err = k.MemoryWrite(b, vaB+2*mm.PageSize, []byte("x"))
	assert.ErrorIs(t, err, kerr.ErrPermissionDenied)

	require.NoError(t, k.MemoryRead(b, vaB, buf))
	assert.Equal(t, make([]byte, 5), buf, "fresh pages are zero-filled")
	assert.Equal(t, 2, k.Stats().Memory.FramesInUse)

	// a lets go; b's mapping keeps the object alive.
	require.NoError(t, k.MemoryObjectUnmap(a, vaA))
	require.NoError(t, k.HandleClose(a, mo))
	require.NoError(t, k.MemoryRead(b, vaB+2*mm.PageSize, buf))
	assert.Equal(t, "hello", string(buf))
	assert.Equal(t, 1, k.Stats().Objects["memory_object"])

	require.NoError(t, k.TaskExit(b, 0))
	assert.Zero(t, k.Stats().Objects["memory_object"])
	assert.Zero(t, k.Stats().Memory.FramesInUse)
}

func TestMapValidation(t *testing.T) {
	k := newTestKernel(t)
	root := bootstrap(t, k, "init")

	mo, err := k.MemoryObjectCreate(root, 2, mm.PolicyLazyZeroFill)
	require.NoError(t, err)
	rw := mm.PermRead | mm.PermWrite

	tests := []struct {
		name string
		va   mm.VirtAddr
		size mm.FrameSize
		want error
	}{
		{"misaligned", 0x10001, mm.Size4KiB, kerr.ErrMisalignedAddress},
		{"misaligned for huge frame", 0x10000, mm.Size2MiB, kerr.ErrMisalignedAddress},
		{"below user window", 0, mm.Size4KiB, kerr.ErrOutOfVirtualSpace},
		{"above user window", mm.UserTop, mm.Size4KiB, kerr.ErrOutOfVirtualSpace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := k.MemoryObjectMap(root, mo, tt.va, rw, tt.size)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	require.NoError(t, k.MemoryObjectMap(root, mo, 0x10000, rw, mm.Size4KiB))
	err = k.MemoryObjectMap(root, mo, 0x11000, rw, mm.Size4KiB)
	assert.ErrorIs(t, err, kerr.ErrOverlap)

	err = k.MemoryObjectUnmap(root, 0x11000)
	assert.ErrorIs(t, err, kerr.ErrNotFound)
	err = k.MemoryRead(root, 0x900000, make([]byte, 1))
	assert.ErrorIs(t, err, kerr.ErrNotFound)

	ch, err := k.ChannelCreate(root, 1)
	require.NoError(t, err)
	err = k.MemoryObjectMap(root, ch, 0x40000, rw, mm.Size4KiB)
	assert.ErrorIs(t, err, kerr.ErrInvalidHandle)

	// Failed maps took no lasting reference.
	require.NoError(t, k.MemoryObjectUnmap(root, 0x10000))
	require.NoError(t, k.HandleClose(root, mo))
	assert.Zero(t, k.Stats().Objects["memory_object"])
}

func TestEagerObjectFailsWhole(t *testing.T) {
	k := newTestKernel(t, func(c *config.Config) {
		c.Memory.Frames = 4
		c.Memory.MaxObjectPages = 16
	})
	root := bootstrap(t, k, "init")

	_, err := k.MemoryObjectCreate(root, 8, mm.PolicyEager)
	assert.ErrorIs(t, err, kerr.ErrOutOfMemory)
	assert.Zero(t, k.Stats().Memory.FramesInUse)
	assert.Zero(t, root.Caps().Len())

	_, err = k.MemoryObjectCreate(root, 0, mm.PolicyEager)
	assert.ErrorIs(t, err, kerr.ErrInvalidArgument)
}

func TestOversizedObjectIsRejected(t *testing.T) {
	k := newTestKernel(t, func(c *config.Config) { c.Memory.Frames = 16 })
	root := bootstrap(t, k, "init")

	for _, pages := range []int{17, 1 << 40, 1<<62 + 1} {
		assert.NotPanics(t, func() {
			_, err := k.MemoryObjectCreate(root, pages, mm.PolicyLazyZeroFill)
			assert.ErrorIs(t, err, kerr.ErrOutOfMemory)
		})
	}
	assert.Zero(t, root.Caps().Len())
	assert.Zero(t, k.Stats().Objects["memory_object"])

	h, err := k.MemoryObjectCreate(root, 16, mm.PolicyLazyZeroFill)
	require.NoError(t, err)
	require.NoError(t, k.HandleClose(root, h))
}

func TestBlockingCommitWaitsForFreeFrames(t *testing.T) {
	k := newTestKernel(t, func(c *config.Config) { c.Memory.Frames = 4 })
	holder := bootstrap(t, k, "holder")
	waiter := bootstrap(t, k, "waiter")
	ctx := context.Background()

	big, err := k.MemoryObjectCreate(holder, 4, mm.PolicyEager)
	require.NoError(t, err)
	lazy, err := k.MemoryObjectCreate(waiter, 1, mm.PolicyLazyZeroFill)
	require.NoError(t, err)

	err = k.MemoryObjectCommit(ctx, waiter, lazy, 0, WaitOptions{})
	assert.ErrorIs(t, err, kerr.ErrOutOfMemory)
	err = k.MemoryObjectCommit(ctx, waiter, lazy, 0, WaitOptions{Block: true, Timeout: 5 * time.Millisecond})
	assert.ErrorIs(t, err, kerr.ErrTimedOut)

	done := make(chan error, 1)
	go func() {
		done <- k.MemoryObjectCommit(ctx, waiter, lazy, 0, WaitOptions{Block: true, Timeout: 5 * time.Second})
	}()
	require.Eventually(t, func() bool { return waiter.State() == sched.StateBlocked }, time.Second, time.Millisecond)
	assert.Equal(t, sched.ReasonAwaitingMemoryObject, waiter.Reason())

	require.NoError(t, k.HandleClose(holder, big))
	require.NoError(t, <-done)
	assert.Equal(t, 1, k.Stats().Memory.FramesInUse)

	// Committing a backed page again is a no-op.
	require.NoError(t, k.MemoryObjectCommit(ctx, waiter, lazy, 0, WaitOptions{}))
	err = k.MemoryObjectCommit(ctx, waiter, lazy, 1, WaitOptions{})
	assert.ErrorIs(t, err, kerr.ErrInvalidArgument)
}
