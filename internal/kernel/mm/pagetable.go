package mm

import (
	"sync"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

// PageTable is the architecture page table driver for one address space.
// It installs 4 KiB translations only.
type PageTable interface {
	Map(va VirtAddr, pa PhysAddr, flags Flags) error
	Unmap(va VirtAddr) (PhysAddr, bool)
	Translate(va VirtAddr) (PhysAddr, Flags, bool)
}

const (
	pageLevels   = 4
	entriesPerPT = 512
	physMask     = 0x000f_ffff_ffff_f000
)

// pageLevelShifts holds the virtual address bit offset of each level's index,
// from the top level down.
var pageLevelShifts = [pageLevels]uint{39, 30, 21, 12}

type pte uint64

func (e pte) present() bool   { return Flags(e).Has(FlagPresent) }
func (e pte) frame() PhysAddr { return PhysAddr(uint64(e) & physMask) }
func (e pte) flags() Flags    { return Flags(uint64(e) &^ physMask) }

type ptNode struct {
	next    [entriesPerPT]*ptNode
	entries *[entriesPerPT]pte
}

// SimPageTable is a software 4-level page table.
type SimPageTable struct {
	mu     sync.Mutex
	root   ptNode
	mapped int
}

// NewSimPageTable creates an empty page table.
func NewSimPageTable() *SimPageTable {
	return &SimPageTable{}
}

func index(va VirtAddr, level int) int {
	return int(uint64(va)>>pageLevelShifts[level]) & (entriesPerPT - 1)
}

// walk descends to the leaf entry for va, creating intermediate tables when
// create is set.
func (pt *SimPageTable) walk(va VirtAddr, create bool) *pte {
	node := &pt.root
	for level := 0; level < pageLevels-1; level++ {
		i := index(va, level)
		if node.next[i] == nil {
			if !create {
				return nil
			}
			node.next[i] = &ptNode{}
		}
		node = node.next[i]
	}
	if node.entries == nil {
		if !create {
			return nil
		}
		node.entries = new([entriesPerPT]pte)
	}
	return &node.entries[index(va, pageLevels-1)]
}

// Map installs a translation. Mapping an already present page fails with ErrOverlap.
func (pt *SimPageTable) Map(va VirtAddr, pa PhysAddr, flags Flags) error {
	if va&(PageSize-1) != 0 || pa&(PageSize-1) != 0 {
		return kerr.New("pt_map", kerr.ErrMisalignedAddress)
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()

	entry := pt.walk(va, true)
	if entry.present() {
		return kerr.Newf("pt_map", kerr.ErrOverlap, "%s already mapped", va)
	}
	*entry = pte(uint64(pa)&physMask | uint64(flags|FlagPresent))
	pt.mapped++
	return nil
}

// Unmap clears the translation for va and returns the frame it pointed to.
func (pt *SimPageTable) Unmap(va VirtAddr) (PhysAddr, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	entry := pt.walk(va.PageBase(), false)
	if entry == nil || !entry.present() {
		return 0, false
	}
	pa := entry.frame()
	*entry = 0
	pt.mapped--
	return pa, true
}

// Translate resolves va to the physical address it maps to.
func (pt *SimPageTable) Translate(va VirtAddr) (PhysAddr, Flags, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	entry := pt.walk(va.PageBase(), false)
	if entry == nil || !entry.present() {
		return 0, 0, false
	}
	return entry.frame() + PhysAddr(va&(PageSize-1)), entry.flags(), true
}

// Mapped returns the number of present leaf entries.
func (pt *SimPageTable) Mapped() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.mapped
}
