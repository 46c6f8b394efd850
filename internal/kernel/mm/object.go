package mm

import (
	"sync"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/object"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

// Policy decides when backing frames are allocated.
type Policy uint8

const (
	// PolicyEager commits every page at creation.
	PolicyEager Policy = iota
	// PolicyLazyZeroFill commits a zeroed page on first touch.
	PolicyLazyZeroFill
)

func (p Policy) Valid() bool { return p <= PolicyLazyZeroFill }

func (p Policy) String() string {
	switch p {
	case PolicyEager:
		return "eager"
	case PolicyLazyZeroFill:
		return "lazy_zero_fill"
	default:
		return "invalid"
	}
}

// MemoryObject is a run of pages backed by frames that need not be contiguous.
type MemoryObject struct {
	mgr    *Manager
	policy Policy

	mu       sync.Mutex
	backing  []PhysAddr
	released bool
}

// ObjectKind implements object.Payload.
func (*MemoryObject) ObjectKind() object.Kind { return object.KindMemoryObject }

// Pages returns the size in 4 KiB pages.
func (mo *MemoryObject) Pages() int { return len(mo.backing) }

// Policy returns the commit policy.
func (mo *MemoryObject) Policy() Policy { return mo.policy }

// Commit ensures page has a backing frame and returns it.
func (mo *MemoryObject) Commit(page int) (PhysAddr, error) {
	if page < 0 || page >= len(mo.backing) {
		return 0, kerr.Newf("memory_object_commit", kerr.ErrInvalidArgument, "page %d of %d", page, len(mo.backing))
	}

	mo.mu.Lock()
	defer mo.mu.Unlock()

	if mo.released {
		return 0, kerr.New("memory_object_commit", kerr.ErrNotFound)
	}
	if pa := mo.backing[page]; pa != 0 {
		return pa, nil
	}
	pa, err := mo.mgr.allocFrame()
	if err != nil {
		return 0, err
	}
	mo.backing[page] = pa
	return pa, nil
}

// CommitAll backs every page. Pages committed before a failure stay committed.
func (mo *MemoryObject) CommitAll() error {
	for i := range mo.backing {
		if _, err := mo.Commit(i); err != nil {
			return err
		}
	}
	return nil
}

// Frame returns the backing frame of page if committed.
func (mo *MemoryObject) Frame(page int) (PhysAddr, bool) {
	mo.mu.Lock()
	defer mo.mu.Unlock()

	if page < 0 || page >= len(mo.backing) || mo.backing[page] == 0 {
		return 0, false
	}
	return mo.backing[page], true
}

// Backed returns the number of committed pages.
func (mo *MemoryObject) Backed() int {
	mo.mu.Lock()
	defer mo.mu.Unlock()

	n := 0
	for _, pa := range mo.backing {
		if pa != 0 {
			n++
		}
	}
	return n
}

// Release frees every backing frame. The object cannot be committed again.
func (mo *MemoryObject) Release() {
	mo.mu.Lock()
	if mo.released {
		mo.mu.Unlock()
		return
	}
	mo.released = true
	frames := make([]PhysAddr, 0, len(mo.backing))
	for i, pa := range mo.backing {
		if pa != 0 {
			frames = append(frames, pa)
			mo.backing[i] = 0
		}
	}
	mo.mu.Unlock()

	for _, pa := range frames {
		mo.mgr.freeFrame(pa)
	}
}
