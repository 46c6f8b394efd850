package capability

import (
	"fmt"
	"sync"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/object"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

// Handle is a task-local reference to a capability. The low 16 bits index the
// table and the high 16 bits carry the slot generation, so a revoked handle
// value stays invalid after its slot is reused. A slot whose generation is
// exhausted is retired rather than wrapped.
type Handle uint32

// InvalidHandle is never issued.
const InvalidHandle Handle = 0

const (
	indexBits = 16
	indexMask = 1<<indexBits - 1
	genMask   = 1<<(32-indexBits) - 1

	// MaxHandles is the largest table a task can have.
	MaxHandles = indexMask
)

func makeHandle(idx uint32, gen uint16) Handle {
	return Handle(uint32(gen)<<indexBits | idx)
}

func (h Handle) index() uint32 { return uint32(h) & indexMask }
func (h Handle) gen() uint16   { return uint16(uint32(h) >> indexBits) }

func (h Handle) String() string { return fmt.Sprintf("h%d.%d", h.index(), h.gen()) }

// Entry is what a handle resolves to.
type Entry struct {
	Object object.ID
	Kind   object.Kind
	Rights Rights
}

// Tracker counts capabilities per object. The object table implements it.
type Tracker interface {
	AcquireCap(id object.ID) (*object.Object, error)
	ReleaseCap(id object.ID) error
}

type entrySlot struct {
	gen   uint16
	used  bool
	entry Entry
}

// Table is one task's capability space.
type Table struct {
	tracker Tracker
	max     int

	mu     sync.Mutex
	slots  []entrySlot
	free   []uint32
	count  int
	closed bool
}

// NewTable creates a table holding at most max handles.
func NewTable(tracker Tracker, max int) *Table {
	if max <= 0 || max > MaxHandles {
		max = MaxHandles
	}
	return &Table{tracker: tracker, max: max}
}

// Grant creates a handle to obj with the given rights.
func (t *Table) Grant(id object.ID, kind object.Kind, rights Rights) (Handle, error) {
	if !rights.Valid() {
		return InvalidHandle, kerr.Newf("grant", kerr.ErrInvalidArgument, "rights %#x", uint16(rights))
	}
	if _, err := t.tracker.AcquireCap(id); err != nil {
		return InvalidHandle, kerr.New("grant", kerr.ErrNotFound)
	}

	t.mu.Lock()
	h, err := t.insertLocked(Entry{Object: id, Kind: kind, Rights: rights})
	t.mu.Unlock()

	if err != nil {
		_ = t.tracker.ReleaseCap(id)
		return InvalidHandle, kerr.New("grant", err)
	}
	return h, nil
}

func (t *Table) insertLocked(e Entry) (Handle, error) {
	if t.closed {
		return InvalidHandle, kerr.ErrRecipientDead
	}
	if t.count >= t.max {
		return InvalidHandle, kerr.ErrOutOfMemory
	}

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if len(t.slots) > indexMask {
			return InvalidHandle, kerr.ErrOutOfMemory
		}
		// Index 0 with generation 0 would be InvalidHandle; generations start at 1.
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, entrySlot{gen: 1})
	}

	s := &t.slots[idx]
	s.used = true
	s.entry = e
	t.count++
	return makeHandle(idx, s.gen), nil
}

func (t *Table) slotLocked(h Handle) *entrySlot {
	idx := h.index()
	if h == InvalidHandle || int(idx) >= len(t.slots) {
		return nil
	}
	s := &t.slots[idx]
	if !s.used || s.gen != h.gen() {
		return nil
	}
	return s
}

func (t *Table) removeLocked(h Handle) Entry {
	idx := h.index()
	s := &t.slots[idx]
	e := s.entry
	s.used = false
	s.entry = Entry{}
	if s.gen < genMask {
		s.gen++
		t.free = append(t.free, idx)
	}
	t.count--
	return e
}

// Lookup resolves h.
func (t *Table) Lookup(h Handle) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.slotLocked(h)
	if s == nil {
		return Entry{}, kerr.Newf("lookup", kerr.ErrInvalidHandle, "%s", h)
	}
	return s.entry, nil
}

// Check resolves h and verifies it carries every right in required.
func (t *Table) Check(h Handle, required Rights) (Entry, error) {
	e, err := t.Lookup(h)
	if err != nil {
		return Entry{}, err
	}
	if !e.Rights.Contains(required) {
		return Entry{}, kerr.Newf("check", kerr.ErrPermissionDenied, "%s has %s, needs %s", h, e.Rights, required)
	}
	return e, nil
}

// CheckKind is Check plus a kind match. A kind mismatch is reported as an
// invalid handle since the handle does not name an object of that type.
func (t *Table) CheckKind(h Handle, kind object.Kind, required Rights) (Entry, error) {
	e, err := t.Lookup(h)
	if err != nil {
		return Entry{}, err
	}
	if e.Kind != kind {
		return Entry{}, kerr.Newf("check", kerr.ErrInvalidHandle, "%s is a %s, not a %s", h, e.Kind, kind)
	}
	if !e.Rights.Contains(required) {
		return Entry{}, kerr.Newf("check", kerr.ErrPermissionDenied, "%s has %s, needs %s", h, e.Rights, required)
	}
	return e, nil
}

// Revoke removes h and drops its capability count.
func (t *Table) Revoke(h Handle) error {
	t.mu.Lock()
	if t.slotLocked(h) == nil {
		t.mu.Unlock()
		return kerr.Newf("revoke", kerr.ErrInvalidHandle, "%s", h)
	}
	e := t.removeLocked(h)
	t.mu.Unlock()

	_ = t.tracker.ReleaseCap(e.Object)
	return nil
}

// Duplicate creates a second handle to the same object with rights narrowed to
// mask. Requesting a right the source lacks is denied.
func (t *Table) Duplicate(h Handle, mask Rights) (Handle, error) {
	e, err := t.Check(h, RightDuplicate)
	if err != nil {
		return InvalidHandle, err
	}
	if !e.Rights.Contains(mask) {
		return InvalidHandle, kerr.Newf("duplicate", kerr.ErrPermissionDenied, "cannot widen %s to %s", e.Rights, mask)
	}
	return t.Grant(e.Object, e.Kind, e.Rights.Narrow(mask))
}

// Take removes every handle in hs for transfer and returns their entries in
// order. Capability counts move with the entries. Either all handles are taken
// or the table is left untouched.
func (t *Table) Take(hs []Handle) ([]Entry, error) {
	if len(hs) == 0 {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[Handle]struct{}, len(hs))
	for _, h := range hs {
		if _, dup := seen[h]; dup {
			return nil, kerr.Newf("take", kerr.ErrInvalidArgument, "%s attached twice", h)
		}
		seen[h] = struct{}{}

		s := t.slotLocked(h)
		if s == nil {
			return nil, kerr.Newf("take", kerr.ErrInvalidHandle, "%s", h)
		}
		if !s.entry.Rights.Contains(RightTransfer) {
			return nil, kerr.Newf("take", kerr.ErrPermissionDenied, "%s lacks transfer", h)
		}
	}

	out := make([]Entry, len(hs))
	for i, h := range hs {
		out[i] = t.removeLocked(h)
	}
	return out, nil
}

// Install adds entries whose capability counts were already taken elsewhere.
// Either all are installed or none.
func (t *Table) Install(entries []Entry) ([]Handle, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, kerr.New("install", kerr.ErrRecipientDead)
	}
	if t.count+len(entries) > t.max {
		return nil, kerr.Newf("install", kerr.ErrOutOfMemory, "%d handles do not fit", len(entries))
	}

	out := make([]Handle, len(entries))
	for i, e := range entries {
		h, err := t.insertLocked(e)
		if err != nil {
			// Retired slots can exhaust the index space; undo.
			for _, done := range out[:i] {
				t.removeLocked(done)
			}
			return nil, kerr.New("install", err)
		}
		out[i] = h
	}
	return out, nil
}

// RevokeAll closes the table and drops every capability. Later grants and
// installs fail with ErrRecipientDead.
func (t *Table) RevokeAll() int {
	t.mu.Lock()
	t.closed = true
	var released []object.ID
	for i := range t.slots {
		if t.slots[i].used {
			released = append(released, t.removeLocked(makeHandle(uint32(i), t.slots[i].gen)).Object)
		}
	}
	t.mu.Unlock()

	for _, id := range released {
		_ = t.tracker.ReleaseCap(id)
	}
	return len(released)
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Handles returns a snapshot of live handles.
func (t *Table) Handles() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Handle, 0, t.count)
	for i, s := range t.slots {
		if s.used {
			out = append(out, makeHandle(uint32(i), s.gen))
		}
	}
	return out
}

// Drop releases the capability counts of entries that were taken but never
// installed, e.g. when a queued message is discarded.
func Drop(tr Tracker, entries []Entry) {
	for _, e := range entries {
		_ = tr.ReleaseCap(e.Object)
	}
}
