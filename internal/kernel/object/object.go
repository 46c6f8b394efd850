package object

import (
	"fmt"
	"sync/atomic"
)

// ID names a kernel object. The high 32 bits carry the slot generation and the
// low 32 bits the arena slot.
type ID uint64

// Invalid is never issued.
const Invalid ID = 0

func makeID(slot, gen uint32) ID { return ID(uint64(gen)<<32 | uint64(slot)) }

// Slot returns the arena index.
func (id ID) Slot() uint32 { return uint32(id) }

// Generation returns the slot generation the ID was issued under.
func (id ID) Generation() uint32 { return uint32(id >> 32) }

func (id ID) String() string {
	return fmt.Sprintf("obj:%d.%d", id.Slot(), id.Generation())
}

// Kind is the closed set of kernel object variants.
type Kind uint8

const (
	KindTask Kind = iota + 1
	KindMemoryObject
	KindChannel
	KindService
)

// Kinds lists every variant in declaration order.
var Kinds = []Kind{KindTask, KindMemoryObject, KindChannel, KindService}

func (k Kind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindMemoryObject:
		return "memory_object"
	case KindChannel:
		return "channel"
	case KindService:
		return "service"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the declared variants.
func (k Kind) Valid() bool {
	return k >= KindTask && k <= KindService
}

// Payload is the variant-specific state carried by an object.
type Payload interface {
	ObjectKind() Kind
}

// Object is a table entry. The counts are atomic; the payload is immutable
// after creation and guards its own state.
type Object struct {
	id      ID
	kind    Kind
	payload Payload

	refs atomic.Int64
	caps atomic.Int64
	dead atomic.Bool
}

func (o *Object) ID() ID           { return o.id }
func (o *Object) Kind() Kind       { return o.kind }
func (o *Object) Payload() Payload { return o.payload }

// Refs returns the current reference count.
func (o *Object) Refs() int64 { return o.refs.Load() }

// Caps returns the number of live capabilities naming the object.
func (o *Object) Caps() int64 { return o.caps.Load() }

// Dead reports whether the object has been destroyed.
func (o *Object) Dead() bool { return o.dead.Load() }

func (o *Object) unreachable() bool {
	return o.refs.Load() == 0 && o.caps.Load() == 0
}

// decrement lowers c by one without going below zero.
func decrement(c *atomic.Int64) (int64, bool) {
	for {
		cur := c.Load()
		if cur <= 0 {
			return cur, false
		}
		if c.CompareAndSwap(cur, cur-1) {
			return cur - 1, true
		}
	}
}
