package mm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

func newManager(frames int, opts ...Option) (*Manager, *BitmapAllocator) {
	alloc := NewBitmapAllocator(frames)
	opts = append([]Option{WithRetry(resilience.Policy{Attempts: 1})}, opts...)
	return NewManager(alloc, alloc, opts...), alloc
}

func TestBitmapAllocator(t *testing.T) {
	a := NewBitmapAllocator(3)

	seen := map[PhysAddr]bool{}
	for i := 0; i < 3; i++ {
		pa, err := a.AllocFrame()
		require.NoError(t, err)
		assert.False(t, seen[pa])
		assert.Zero(t, pa&(PageSize-1))
		assert.GreaterOrEqual(t, pa, PhysBase)
		seen[pa] = true
	}
	assert.Equal(t, 3, a.InUse())

	_, err := a.AllocFrame()
	assert.ErrorIs(t, err, kerr.ErrOutOfMemory)

	for pa := range seen {
		a.FreeFrame(pa)
		a.FreeFrame(pa)
		break
	}
	assert.Equal(t, 2, a.InUse())

	pa, err := a.AllocFrame()
	require.NoError(t, err)
	assert.Equal(t, make([]byte, PageSize), a.Bytes(pa), "frames are zeroed")
}

func TestSimPageTable(t *testing.T) {
	pt := NewSimPageTable()
	va := VirtAddr(0x4000_0000)

	require.NoError(t, pt.Map(va, PhysBase, FlagUser))
	assert.ErrorIs(t, pt.Map(va, PhysBase+PageSize, FlagUser), kerr.ErrOverlap)
	assert.ErrorIs(t, pt.Map(va+1, PhysBase, FlagUser), kerr.ErrMisalignedAddress)

	pa, flags, ok := pt.Translate(va + 0x10)
	require.True(t, ok)
	assert.Equal(t, PhysBase+0x10, pa)
	assert.True(t, flags.Has(FlagPresent|FlagUser))
	assert.False(t, flags.Has(FlagWritable))

	got, ok := pt.Unmap(va)
	require.True(t, ok)
	assert.Equal(t, PhysBase, got)
	_, _, ok = pt.Translate(va)
	assert.False(t, ok)
	assert.Equal(t, 0, pt.Mapped())
}

func TestNewObjectPolicies(t *testing.T) {
	mgr, alloc := newManager(8)

	lazy, err := mgr.NewObject(4, PolicyLazyZeroFill)
	require.NoError(t, err)
	assert.Equal(t, 0, lazy.Backed())
	assert.Equal(t, 0, alloc.InUse())

	eager, err := mgr.NewObject(4, PolicyEager)
	require.NoError(t, err)
	assert.Equal(t, 4, eager.Backed())
	assert.Equal(t, 4, alloc.InUse())

	_, err = mgr.NewObject(5, PolicyEager)
	assert.ErrorIs(t, err, kerr.ErrOutOfMemory)
	assert.Equal(t, 4, alloc.InUse(), "failed eager create returns its frames")

	eager.Release()
	assert.Equal(t, 0, alloc.InUse())

	_, err = mgr.NewObject(0, PolicyEager)
	assert.ErrorIs(t, err, kerr.ErrInvalidArgument)
}

func TestNewObjectSizeLimit(t *testing.T) {
	t.Run("defaults to frame count", func(t *testing.T) {
		mgr, _ := newManager(16)
		assert.Equal(t, 16, mgr.MaxPages())

		assert.NotPanics(t, func() {
			_, err := mgr.NewObject(1<<61, PolicyLazyZeroFill)
			assert.ErrorIs(t, err, kerr.ErrOutOfMemory)
		})
		_, err := mgr.NewObject(17, PolicyLazyZeroFill)
		assert.ErrorIs(t, err, kerr.ErrOutOfMemory)

		mo, err := mgr.NewObject(16, PolicyLazyZeroFill)
		require.NoError(t, err)
		assert.Equal(t, 16, mo.Pages())
	})

	t.Run("explicit limit", func(t *testing.T) {
		mgr, alloc := newManager(16, WithMaxPages(4))
		_, err := mgr.NewObject(5, PolicyEager)
		assert.ErrorIs(t, err, kerr.ErrOutOfMemory)
		assert.Zero(t, alloc.InUse())
	})
}

func TestCommitIsIdempotent(t *testing.T) {
	mgr, alloc := newManager(4)
	mo, err := mgr.NewObject(2, PolicyLazyZeroFill)
	require.NoError(t, err)

	a, err := mo.Commit(1)
	require.NoError(t, err)
	b, err := mo.Commit(1)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, alloc.InUse())

	_, err = mo.Commit(2)
	assert.ErrorIs(t, err, kerr.ErrInvalidArgument)

	mo.Release()
	_, err = mo.Commit(0)
	assert.ErrorIs(t, err, kerr.ErrNotFound)
}

func TestMapValidation(t *testing.T) {
	mgr, _ := newManager(16)
	mo, err := mgr.NewObject(4, PolicyLazyZeroFill)
	require.NoError(t, err)

	tests := []struct {
		name    string
		va      VirtAddr
		perms   Perms
		size    FrameSize
		wantErr error
	}{
		{name: "misaligned", va: 0x1001, perms: PermRead, wantErr: kerr.ErrMisalignedAddress},
		{name: "page zero", va: 0, perms: PermRead, wantErr: kerr.ErrOutOfVirtualSpace},
		{name: "past user top", va: UserTop - PageSize, perms: PermRead, wantErr: kerr.ErrOutOfVirtualSpace},
		{name: "huge frames need huge objects", va: 0x20_0000, perms: PermRead, size: Size2MiB, wantErr: kerr.ErrMisalignedAddress},
		{name: "no permissions", va: 0x1000, wantErr: kerr.ErrInvalidArgument},
		{name: "ok", va: 0x1000, perms: PermRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			as := NewAddressSpace(mgr, NewSimPageTable(), nil)
			err := as.Map(mo, 1, tt.va, tt.perms, tt.size)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, as.Regions())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMapOverlap(t *testing.T) {
	mgr, _ := newManager(16)
	mo, err := mgr.NewObject(4, PolicyLazyZeroFill)
	require.NoError(t, err)
	as := NewAddressSpace(mgr, NewSimPageTable(), nil)

	require.NoError(t, as.Map(mo, 1, 0x10000, PermRead, Size4KiB))
	assert.ErrorIs(t, as.Map(mo, 1, 0x10000, PermRead, Size4KiB), kerr.ErrOverlap)
	assert.ErrorIs(t, as.Map(mo, 1, 0x12000, PermRead, Size4KiB), kerr.ErrOverlap)
	assert.ErrorIs(t, as.Map(mo, 1, 0xE000, PermRead, Size4KiB), kerr.ErrOverlap)
	assert.NoError(t, as.Map(mo, 1, 0x14000, PermRead, Size4KiB))
	assert.NoError(t, as.Map(mo, 1, 0xC000, PermRead, Size4KiB))

	regions := as.Regions()
	require.Len(t, regions, 3)
	assert.Equal(t, VirtAddr(0xC000), regions[0].Base)
}

func TestHugeFrameMapping(t *testing.T) {
	mgr, _ := newManager(16)
	mo, err := mgr.NewObject(Size2MiB.Pages(), PolicyLazyZeroFill)
	require.NoError(t, err)
	as := NewAddressSpace(mgr, NewSimPageTable(), nil)

	assert.ErrorIs(t, as.Map(mo, 1, 0x1000, PermRead|PermWrite, Size2MiB), kerr.ErrMisalignedAddress)
	require.NoError(t, as.Map(mo, 1, 0x4000_0000, PermRead|PermWrite, Size2MiB))

	require.NoError(t, as.Write(0x4000_0000+0x1F_F000, []byte{7}))
	assert.Equal(t, 1, mo.Backed())
}

func TestLazySharedMapping(t *testing.T) {
	mgr, alloc := newManager(16)
	mo, err := mgr.NewObject(4, PolicyLazyZeroFill)
	require.NoError(t, err)

	writer := NewAddressSpace(mgr, NewSimPageTable(), nil)
	reader := NewAddressSpace(mgr, NewSimPageTable(), nil)
	require.NoError(t, writer.Map(mo, 1, 0x10000, PermRead|PermWrite, Size4KiB))
	require.NoError(t, reader.Map(mo, 1, 0x80000, PermRead, Size4KiB))

	msg := []byte("shared across the page boundary")
	at := VirtAddr(0x10000 + PageSize - 8)
	require.NoError(t, writer.Write(at, msg))
	assert.Equal(t, 2, alloc.InUse())

	got := make([]byte, len(msg))
	require.NoError(t, reader.Read(0x80000+PageSize-8, got))
	assert.Equal(t, msg, got)

	zero := make([]byte, 16)
	require.NoError(t, reader.Read(0x80000+3*PageSize, zero))
	assert.Equal(t, make([]byte, 16), zero, "untouched lazy pages read as zero")

	assert.ErrorIs(t, reader.Write(0x80000, []byte{1}), kerr.ErrPermissionDenied)
	assert.ErrorIs(t, reader.Read(0x70000, got), kerr.ErrNotFound)
}

func TestUnmap(t *testing.T) {
	mgr, _ := newManager(16)
	mo, err := mgr.NewObject(2, PolicyEager)
	require.NoError(t, err)

	var unmapped []Region
	pt := NewSimPageTable()
	as := NewAddressSpace(mgr, pt, func(r Region) { unmapped = append(unmapped, r) })

	require.NoError(t, as.Map(mo, 9, 0x10000, PermRead, Size4KiB))
	assert.Equal(t, 2, pt.Mapped(), "committed pages are installed at map time")

	assert.ErrorIs(t, as.Unmap(0x11000), kerr.ErrNotFound)
	require.NoError(t, as.Unmap(0x10000))
	assert.Equal(t, 0, pt.Mapped())
	require.Len(t, unmapped, 1)
	assert.EqualValues(t, 9, unmapped[0].Object)

	require.NoError(t, as.Map(mo, 9, 0x10000, PermRead, Size4KiB))
	require.NoError(t, as.Map(mo, 9, 0x20000, PermRead, Size4KiB))
	assert.Equal(t, 2, as.UnmapAll())
	assert.Len(t, unmapped, 3)
	assert.Empty(t, as.Regions())
}

func TestBreakerFailsFastAndResetsOnFree(t *testing.T) {
	trips := 0
	mgr, _ := newManager(1,
		WithBreaker(2, time.Hour),
		WithTripHook(func() { trips++ }))

	holder, err := mgr.NewObject(1, PolicyEager)
	require.NoError(t, err)

	mo, err := mgr.NewObject(1, PolicyLazyZeroFill)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = mo.Commit(0)
		assert.ErrorIs(t, err, kerr.ErrOutOfMemory)
	}
	assert.Equal(t, resilience.StateOpen, mgr.Breaker())
	assert.Equal(t, 1, trips)

	_, err = mo.Commit(0)
	assert.ErrorIs(t, err, kerr.ErrOutOfMemory)

	holder.Release()
	assert.Equal(t, resilience.StateClosed, mgr.Breaker())
	_, err = mo.Commit(0)
	assert.NoError(t, err)
}

func TestNotifyOnFree(t *testing.T) {
	mgr, _ := newManager(1)
	mo, err := mgr.NewObject(1, PolicyEager)
	require.NoError(t, err)

	woke := 0
	mgr.NotifyOnFree(func() { woke++ })
	cancel := mgr.NotifyOnFree(func() { woke += 10 })
	cancel()

	mo.Release()
	assert.Equal(t, 1, woke)

	mo.Release()
	assert.Equal(t, 1, woke, "registrations are single-shot")
}
