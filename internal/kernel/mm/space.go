package mm

import (
	"sort"
	"sync"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/object"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

// Region is one mapping of a memory object into an address space.
type Region struct {
	Base   VirtAddr
	Length uint64
	Size   FrameSize
	Perms  Perms
	Object object.ID

	mo *MemoryObject
}

// End returns the first address past the region.
func (r Region) End() VirtAddr { return r.Base + VirtAddr(r.Length) }

func (r Region) contains(va VirtAddr) bool { return va >= r.Base && va < r.End() }

// AddressSpace is one task's view of memory.
type AddressSpace struct {
	mgr     *Manager
	pt      PageTable
	onUnmap func(Region)

	mu      sync.Mutex
	regions []*Region // sorted by Base
}

// NewAddressSpace creates an empty address space on top of pt. onUnmap runs
// for every removed region, after the address space lock is released.
func NewAddressSpace(mgr *Manager, pt PageTable, onUnmap func(Region)) *AddressSpace {
	return &AddressSpace{mgr: mgr, pt: pt, onUnmap: onUnmap}
}

// Map maps all of mo at va. va and the object length must be multiples of the
// frame size. Pages already committed are installed immediately; the rest are
// faulted in on first access.
func (as *AddressSpace) Map(mo *MemoryObject, id object.ID, va VirtAddr, perms Perms, size FrameSize) error {
	const op = "memory_object_map"

	if !size.Valid() {
		return kerr.Newf(op, kerr.ErrInvalidArgument, "frame size %d", size)
	}
	if perms == 0 || perms&^(PermRead|PermWrite|PermExecute) != 0 {
		return kerr.Newf(op, kerr.ErrInvalidArgument, "permissions %s", perms)
	}
	length := uint64(mo.Pages()) * PageSize
	if uint64(va)%size.Bytes() != 0 || length%size.Bytes() != 0 {
		return kerr.Newf(op, kerr.ErrMisalignedAddress, "%s with %s frames", va, size)
	}
	if va < UserBase || va >= UserTop || uint64(UserTop-va) < length {
		return kerr.Newf(op, kerr.ErrOutOfVirtualSpace, "%s+%d", va, length)
	}

	r := &Region{Base: va, Length: length, Size: size, Perms: perms, Object: id, mo: mo}

	as.mu.Lock()
	defer as.mu.Unlock()

	i := sort.Search(len(as.regions), func(i int) bool { return as.regions[i].Base >= va })
	if i > 0 && as.regions[i-1].End() > va {
		return kerr.Newf(op, kerr.ErrOverlap, "%s overlaps %s", va, as.regions[i-1].Base)
	}
	if i < len(as.regions) && r.End() > as.regions[i].Base {
		return kerr.Newf(op, kerr.ErrOverlap, "%s overlaps %s", va, as.regions[i].Base)
	}

	flags := flagsFor(perms)
	var installed []VirtAddr
	for page := 0; page < mo.Pages(); page++ {
		pa, ok := mo.Frame(page)
		if !ok {
			continue
		}
		pva := va + VirtAddr(page*PageSize)
		if err := as.pt.Map(pva, pa, flags); err != nil {
			for _, done := range installed {
				as.pt.Unmap(done)
			}
			return kerr.New(op, err)
		}
		installed = append(installed, pva)
	}

	as.regions = append(as.regions, nil)
	copy(as.regions[i+1:], as.regions[i:])
	as.regions[i] = r
	return nil
}

// Unmap removes the region starting at va.
func (as *AddressSpace) Unmap(va VirtAddr) error {
	as.mu.Lock()
	i := sort.Search(len(as.regions), func(i int) bool { return as.regions[i].Base >= va })
	if i == len(as.regions) || as.regions[i].Base != va {
		as.mu.Unlock()
		return kerr.Newf("memory_object_unmap", kerr.ErrNotFound, "no mapping at %s", va)
	}
	r := as.regions[i]
	as.regions = append(as.regions[:i], as.regions[i+1:]...)
	as.clearLocked(r)
	as.mu.Unlock()

	if as.onUnmap != nil {
		as.onUnmap(*r)
	}
	return nil
}

// UnmapAll removes every region and returns how many there were.
func (as *AddressSpace) UnmapAll() int {
	as.mu.Lock()
	regions := as.regions
	as.regions = nil
	for _, r := range regions {
		as.clearLocked(r)
	}
	as.mu.Unlock()

	if as.onUnmap != nil {
		for _, r := range regions {
			as.onUnmap(*r)
		}
	}
	return len(regions)
}

func (as *AddressSpace) clearLocked(r *Region) {
	for off := uint64(0); off < r.Length; off += PageSize {
		as.pt.Unmap(r.Base + VirtAddr(off))
	}
}

// Regions returns a snapshot of the mappings in address order.
func (as *AddressSpace) Regions() []Region {
	as.mu.Lock()
	defer as.mu.Unlock()

	out := make([]Region, len(as.regions))
	for i, r := range as.regions {
		out[i] = *r
	}
	return out
}

func (as *AddressSpace) regionFor(va VirtAddr) *Region {
	i := sort.Search(len(as.regions), func(i int) bool { return as.regions[i].End() > va })
	if i < len(as.regions) && as.regions[i].contains(va) {
		return as.regions[i]
	}
	return nil
}

// Translate resolves a user virtual address without faulting.
func (as *AddressSpace) Translate(va VirtAddr) (PhysAddr, bool) {
	pa, _, ok := as.pt.Translate(va)
	return pa, ok
}

// fault resolves va for an access needing want, committing the backing page
// of lazy objects. It returns the frame holding va's page.
func (as *AddressSpace) fault(va VirtAddr, want Perms) (PhysAddr, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	r := as.regionFor(va)
	if r == nil {
		return 0, kerr.Newf("fault", kerr.ErrNotFound, "no mapping at %s", va)
	}
	if !r.Perms.Contains(want) {
		return 0, kerr.Newf("fault", kerr.ErrPermissionDenied, "%s access to %s region", want, r.Perms)
	}

	page := va.PageBase()
	if pa, _, ok := as.pt.Translate(page); ok {
		return pa, nil
	}
	pa, err := r.mo.Commit(int((page - r.Base) / PageSize))
	if err != nil {
		return 0, err
	}
	if err := as.pt.Map(page, pa, flagsFor(r.Perms)); err != nil {
		return 0, err
	}
	return pa, nil
}

// Read copies user memory at va into buf, faulting pages in as needed.
func (as *AddressSpace) Read(va VirtAddr, buf []byte) error {
	return as.access(va, buf, PermRead, func(frame, b []byte) { copy(b, frame) })
}

// Write copies buf into user memory at va. Writing to a read-only mapping
// fails with ErrPermissionDenied.
func (as *AddressSpace) Write(va VirtAddr, buf []byte) error {
	return as.access(va, buf, PermWrite, func(frame, b []byte) { copy(frame, b) })
}

func (as *AddressSpace) access(va VirtAddr, buf []byte, want Perms, do func(frame, b []byte)) error {
	for len(buf) > 0 {
		frame, err := as.fault(va, want)
		if err != nil {
			return err
		}
		mem := as.mgr.bytes(frame.pageBase())
		if mem == nil {
			return kerr.Newf("access", kerr.ErrNotFound, "frame %s not addressable", frame)
		}
		off := int(va & (PageSize - 1))
		n := PageSize - off
		if n > len(buf) {
			n = len(buf)
		}
		do(mem[off:off+n], buf[:n])
		buf = buf[n:]
		va += VirtAddr(n)
	}
	return nil
}

func (a PhysAddr) pageBase() PhysAddr { return a &^ (PageSize - 1) }
