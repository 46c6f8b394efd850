package providers

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/mm"
)

// diskBase is where the disk maps its backing memory object.
const diskBase = mm.VirtAddr(0x4000_0000)

// blockHeader holds the stored length at the start of each block.
const blockHeader = 2

// BlockSize is the usable payload of one block.
const BlockSize = mm.PageSize - blockHeader

// Disk stores fixed-size blocks, one page each, in a lazily committed memory
// object. Untouched blocks cost no frames and read back empty.
type Disk struct {
	blocks int
	k      *kernel.Kernel
	t      *kernel.Task
}

// NewDisk creates a disk provider with the given number of blocks.
func NewDisk(blocks int) *Disk {
	return &Disk{blocks: blocks}
}

// Name implements Provider.
func (d *Disk) Name() string { return "disk" }

// Setup maps the backing object into the provider's address space.
func (d *Disk) Setup(_ context.Context, k *kernel.Kernel, t *kernel.Task) error {
	mo, err := k.MemoryObjectCreate(t, d.blocks, mm.PolicyLazyZeroFill)
	if err != nil {
		return err
	}
	if err := k.MemoryObjectMap(t, mo, diskBase, mm.PermRead|mm.PermWrite, mm.Size4KiB); err != nil {
		return err
	}
	// The mapping keeps the object alive.
	if err := k.HandleClose(t, mo); err != nil {
		return err
	}
	d.k, d.t = k, t
	return nil
}

// Execute implements Provider.
func (d *Disk) Execute(_ context.Context, tool string, params map[string]any) (map[string]any, error) {
	switch tool {
	case "disk.info":
		return map[string]any{"blocks": d.blocks, "block_size": BlockSize}, nil
	case "disk.read":
		return d.read(params)
	case "disk.write":
		return d.write(params)
	default:
		return nil, fmt.Errorf("unknown tool: %s", tool)
	}
}

func (d *Disk) block(params map[string]any) (mm.VirtAddr, error) {
	n, err := intParam(params, "block")
	if err != nil {
		return 0, err
	}
	if n < 0 || n >= d.blocks {
		return 0, fmt.Errorf("block %d out of range [0, %d)", n, d.blocks)
	}
	return diskBase + mm.VirtAddr(n)*mm.PageSize, nil
}

func (d *Disk) read(params map[string]any) (map[string]any, error) {
	va, err := d.block(params)
	if err != nil {
		return nil, err
	}

	var hdr [blockHeader]byte
	if err := d.k.MemoryRead(d.t, va, hdr[:]); err != nil {
		return nil, err
	}
	data := make([]byte, binary.LittleEndian.Uint16(hdr[:]))
	if err := d.k.MemoryRead(d.t, va+blockHeader, data); err != nil {
		return nil, err
	}
	return map[string]any{"data": string(data)}, nil
}

func (d *Disk) write(params map[string]any) (map[string]any, error) {
	va, err := d.block(params)
	if err != nil {
		return nil, err
	}
	data, ok := params["data"].(string)
	if !ok {
		return nil, fmt.Errorf("data parameter required")
	}
	if len(data) > BlockSize {
		return nil, fmt.Errorf("data exceeds block size %d", BlockSize)
	}

	buf := make([]byte, blockHeader+len(data))
	binary.LittleEndian.PutUint16(buf, uint16(len(data)))
	copy(buf[blockHeader:], data)
	if err := d.k.MemoryWrite(d.t, va, buf); err != nil {
		return nil, err
	}
	return map[string]any{"written": len(data)}, nil
}
