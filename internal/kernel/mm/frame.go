package mm

import (
	"math/bits"
	"sync"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

// FrameAllocator hands out zeroed 4 KiB physical frames.
type FrameAllocator interface {
	AllocFrame() (PhysAddr, error)
	FreeFrame(PhysAddr)
}

// PhysMemory gives the kernel access to frame contents.
type PhysMemory interface {
	Bytes(PhysAddr) []byte
}

// PhysBase is where the simulated allocator's first frame lives. Address zero
// is never a valid frame.
const PhysBase PhysAddr = 0x10_0000

// BitmapAllocator is an in-process physical memory simulation: a bitmap of
// frames plus lazily materialized contents.
type BitmapAllocator struct {
	mu     sync.Mutex
	bitmap []uint64
	pages  [][]byte
	total  int
	inUse  int
	hint   int
}

// NewBitmapAllocator manages n frames.
func NewBitmapAllocator(n int) *BitmapAllocator {
	return &BitmapAllocator{
		bitmap: make([]uint64, (n+63)/64),
		pages:  make([][]byte, n),
		total:  n,
	}
}

// AllocFrame returns a zeroed frame or ErrOutOfMemory.
func (a *BitmapAllocator) AllocFrame() (PhysAddr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.inUse == a.total {
		return 0, kerr.New("alloc_frame", kerr.ErrOutOfMemory)
	}

	words := len(a.bitmap)
	for i := 0; i < words; i++ {
		w := (a.hint + i) % words
		free := ^a.bitmap[w]
		if free == 0 {
			continue
		}
		bit := bits.TrailingZeros64(free)
		idx := w*64 + bit
		if idx >= a.total {
			continue
		}
		a.bitmap[w] |= 1 << bit
		a.pages[idx] = make([]byte, PageSize)
		a.inUse++
		a.hint = w
		return PhysBase + PhysAddr(idx)<<PageShift, nil
	}
	return 0, kerr.New("alloc_frame", kerr.ErrOutOfMemory)
}

func (a *BitmapAllocator) index(pa PhysAddr) (int, bool) {
	if pa < PhysBase || pa&(PageSize-1) != 0 {
		return 0, false
	}
	idx := int((pa - PhysBase) >> PageShift)
	return idx, idx < a.total
}

// FreeFrame returns pa to the pool. Freeing an unallocated frame is ignored.
func (a *BitmapAllocator) FreeFrame(pa PhysAddr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, ok := a.index(pa)
	if !ok || a.bitmap[idx/64]&(1<<(idx%64)) == 0 {
		return
	}
	a.bitmap[idx/64] &^= 1 << (idx % 64)
	a.pages[idx] = nil
	a.inUse--
}

// Bytes returns the contents of an allocated frame, or nil.
func (a *BitmapAllocator) Bytes(pa PhysAddr) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, ok := a.index(pa)
	if !ok {
		return nil
	}
	return a.pages[idx]
}

// InUse returns the number of allocated frames.
func (a *BitmapAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}

// Total returns the number of managed frames.
func (a *BitmapAllocator) Total() int { return a.total }
