package object

import (
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

// DestroyFunc runs once per destroyed object, outside the table lock.
type DestroyFunc func(*Object)

type slot struct {
	gen uint32
	obj *Object
}

// Table maps IDs to live objects.
type Table struct {
	mu       sync.RWMutex
	slots    []slot
	free     []uint32
	live     int
	perKind  map[Kind]int
	capacity int

	onDestroy DestroyFunc
	log       *zap.Logger
}

// Option configures a Table.
type Option func(*Table)

// WithCapacity bounds the number of live objects.
func WithCapacity(n int) Option {
	return func(t *Table) { t.capacity = n }
}

// WithDestroyHook installs the per-object teardown callback.
func WithDestroyHook(fn DestroyFunc) Option {
	return func(t *Table) { t.onDestroy = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Table) { t.log = l }
}

// NewTable creates an empty table.
func NewTable(opts ...Option) *Table {
	t := &Table{
		perKind: make(map[Kind]int, len(Kinds)),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetDestroyHook replaces the teardown callback. Call before any object is created.
func (t *Table) SetDestroyHook(fn DestroyFunc) {
	t.mu.Lock()
	t.onDestroy = fn
	t.mu.Unlock()
}

// Create inserts payload with one reference held by the caller.
func (t *Table) Create(payload Payload) (*Object, error) {
	if payload == nil || !payload.ObjectKind().Valid() {
		return nil, kerr.New("object_create", kerr.ErrInvalidArgument)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.capacity > 0 && t.live >= t.capacity {
		return nil, kerr.Newf("object_create", kerr.ErrOutOfMemory, "object table full (%d)", t.capacity)
	}

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot{gen: 1})
	}

	s := &t.slots[idx]
	obj := &Object{
		id:      makeID(idx, s.gen),
		kind:    payload.ObjectKind(),
		payload: payload,
	}
	obj.refs.Store(1)
	s.obj = obj

	t.live++
	t.perKind[obj.kind]++

	t.log.Debug("object created", logging.Object(obj.id), logging.Kind(obj.kind))
	return obj, nil
}

func (t *Table) lookup(id ID) *Object {
	idx := id.Slot()
	if id == Invalid || int(idx) >= len(t.slots) {
		return nil
	}
	s := t.slots[idx]
	if s.gen != id.Generation() || s.obj == nil {
		return nil
	}
	return s.obj
}

// Get resolves id without taking a reference.
func (t *Table) Get(id ID) (*Object, error) {
	t.mu.RLock()
	obj := t.lookup(id)
	t.mu.RUnlock()

	if obj == nil {
		return nil, kerr.Newf("object_get", kerr.ErrNotFound, "%s", id)
	}
	return obj, nil
}

// Retain adds a reference. It fails once the object is destroyed.
func (t *Table) Retain(id ID) (*Object, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	obj := t.lookup(id)
	if obj == nil || obj.dead.Load() {
		return nil, kerr.Newf("object_retain", kerr.ErrNotFound, "%s", id)
	}
	obj.refs.Add(1)
	return obj, nil
}

// Release drops one reference and destroys the object if it became unreachable.
func (t *Table) Release(id ID) error {
	obj, err := t.Get(id)
	if err != nil {
		return kerr.New("object_release", kerr.ErrNotFound)
	}
	return t.Put(obj)
}

// Put drops one reference held through obj.
func (t *Table) Put(obj *Object) error {
	if _, ok := decrement(&obj.refs); !ok {
		return kerr.Newf("object_release", kerr.ErrInvalidArgument, "%s has no references", obj.id)
	}
	t.maybeDestroy(obj)
	return nil
}

// AcquireCap records a new capability naming id.
func (t *Table) AcquireCap(id ID) (*Object, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	obj := t.lookup(id)
	if obj == nil || obj.dead.Load() {
		return nil, kerr.Newf("object_acquire_cap", kerr.ErrNotFound, "%s", id)
	}
	obj.caps.Add(1)
	return obj, nil
}

// ReleaseCap records that a capability naming id was revoked.
func (t *Table) ReleaseCap(id ID) error {
	obj, err := t.Get(id)
	if err != nil {
		return kerr.New("object_release_cap", kerr.ErrNotFound)
	}
	if _, ok := decrement(&obj.caps); !ok {
		return kerr.Newf("object_release_cap", kerr.ErrInvalidArgument, "%s has no capabilities", id)
	}
	t.maybeDestroy(obj)
	return nil
}

// maybeDestroy re-checks reachability under the write lock so concurrent
// Retain and Release calls agree on a single destruction.
func (t *Table) maybeDestroy(obj *Object) {
	if !obj.unreachable() {
		return
	}

	t.mu.Lock()
	idx := obj.id.Slot()
	if obj.dead.Load() || !obj.unreachable() || t.lookup(obj.id) != obj {
		t.mu.Unlock()
		return
	}
	obj.dead.Store(true)

	s := &t.slots[idx]
	s.obj = nil
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	t.free = append(t.free, idx)
	t.live--
	t.perKind[obj.kind]--
	hook := t.onDestroy
	t.mu.Unlock()

	t.log.Debug("object destroyed", logging.Object(obj.id), logging.Kind(obj.kind))
	if hook != nil {
		hook(obj)
	}
}

// Len returns the number of live objects.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// Stats returns live object counts per kind.
func (t *Table) Stats() map[Kind]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[Kind]int, len(Kinds))
	for _, k := range Kinds {
		out[k] = t.perKind[k]
	}
	return out
}

// Range calls fn for a snapshot of live objects until fn returns false.
func (t *Table) Range(fn func(*Object) bool) {
	t.mu.RLock()
	objs := make([]*Object, 0, t.live)
	for _, s := range t.slots {
		if s.obj != nil {
			objs = append(objs, s.obj)
		}
	}
	t.mu.RUnlock()

	for _, o := range objs {
		if !fn(o) {
			return
		}
	}
}
