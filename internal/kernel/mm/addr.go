package mm

import "fmt"

// PhysAddr is a physical memory address.
type PhysAddr uint64

// VirtAddr is a virtual memory address in a task's address space.
type VirtAddr uint64

const (
	// PageShift is log2(PageSize).
	PageShift = 12
	// PageSize is the base page size in bytes.
	PageSize = 1 << PageShift

	// UserBase is the lowest mappable address. Page zero stays unmapped.
	UserBase VirtAddr = 0x1000
	// UserTop is the end of the canonical lower half.
	UserTop VirtAddr = 0x0000_8000_0000_0000
)

func (a PhysAddr) String() string { return fmt.Sprintf("0x%x", uint64(a)) }
func (a VirtAddr) String() string { return fmt.Sprintf("0x%x", uint64(a)) }

// PageBase rounds a down to its 4 KiB page.
func (a VirtAddr) PageBase() VirtAddr { return a &^ (PageSize - 1) }

// FrameSize is the mapping granularity.
type FrameSize uint8

const (
	Size4KiB FrameSize = iota
	Size2MiB
	Size1GiB
)

// Bytes returns the size in bytes.
func (s FrameSize) Bytes() uint64 {
	switch s {
	case Size2MiB:
		return 2 << 20
	case Size1GiB:
		return 1 << 30
	default:
		return PageSize
	}
}

// Pages returns how many 4 KiB pages one frame of this size spans.
func (s FrameSize) Pages() int { return int(s.Bytes() / PageSize) }

// Valid reports whether s is a declared size.
func (s FrameSize) Valid() bool { return s <= Size1GiB }

func (s FrameSize) String() string {
	switch s {
	case Size4KiB:
		return "4KiB"
	case Size2MiB:
		return "2MiB"
	case Size1GiB:
		return "1GiB"
	default:
		return "invalid"
	}
}

// Perms are the access permissions of a mapping.
type Perms uint8

const (
	PermRead Perms = 1 << iota
	PermWrite
	PermExecute
)

// Contains reports whether every permission in p2 is present.
func (p Perms) Contains(p2 Perms) bool { return p&p2 == p2 }

func (p Perms) String() string {
	b := []byte("---")
	if p&PermRead != 0 {
		b[0] = 'r'
	}
	if p&PermWrite != 0 {
		b[1] = 'w'
	}
	if p&PermExecute != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Flags are page table entry flags.
type Flags uint64

const (
	FlagPresent  Flags = 1 << 0
	FlagWritable Flags = 1 << 1
	FlagUser     Flags = 1 << 2
	FlagNoExec   Flags = 1 << 63
)

// Has reports whether all flags in f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

func flagsFor(p Perms) Flags {
	f := FlagPresent | FlagUser
	if p&PermWrite != 0 {
		f |= FlagWritable
	}
	if p&PermExecute == 0 {
		f |= FlagNoExec
	}
	return f
}
