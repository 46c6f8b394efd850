package mm

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

// Manager creates memory objects and owns the bounded frame allocation path.
type Manager struct {
	frames  FrameAllocator
	phys    PhysMemory
	breaker *resilience.Breaker
	retry   resilience.Policy
	log     *zap.Logger
	onTrip  func()

	maxPages int

	mu      sync.Mutex
	waiters map[uint64]func()
	nextW   uint64
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	retry     resilience.Policy
	threshold uint32
	cooldown  time.Duration
	log       *zap.Logger
	onTrip    func()
	maxPages  int
}

// WithRetry sets the per-frame retry policy.
func WithRetry(p resilience.Policy) Option {
	return func(o *managerOptions) { o.retry = p }
}

// WithBreaker sets how many consecutive exhausted allocations open the
// breaker and how long it stays open.
func WithBreaker(threshold uint32, cooldown time.Duration) Option {
	return func(o *managerOptions) {
		o.threshold = threshold
		o.cooldown = cooldown
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *managerOptions) { o.log = l }
}

// WithMaxPages caps the size of a single memory object. The default is the
// allocator's frame count when it reports one.
func WithMaxPages(n int) Option {
	return func(o *managerOptions) { o.maxPages = n }
}

// WithTripHook is called each time the breaker opens.
func WithTripHook(fn func()) Option {
	return func(o *managerOptions) { o.onTrip = fn }
}

// NewManager wraps a frame allocator. phys may be nil when frame contents are
// not accessible, in which case user memory access fails.
func NewManager(frames FrameAllocator, phys PhysMemory, opts ...Option) *Manager {
	o := managerOptions{
		retry:     resilience.DefaultPolicy(),
		threshold: 8,
		cooldown:  50 * time.Millisecond,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.retry.Retryable = isOOM
	if o.maxPages <= 0 {
		o.maxPages = defaultMaxPages
		if sized, ok := frames.(interface{ Total() int }); ok {
			o.maxPages = sized.Total()
		}
	}

	m := &Manager{
		frames:  frames,
		phys:    phys,
		retry:   o.retry,
		log:     o.log,
		onTrip:  o.onTrip,
		waiters: make(map[uint64]func()),

		maxPages: o.maxPages,
	}
	m.breaker = resilience.New("frames", resilience.Settings{
		Threshold: o.threshold,
		Cooldown:  o.cooldown,
		IsFailure: isOOM,
		OnStateChange: func(name string, from, to resilience.State) {
			m.log.Warn("frame breaker state change",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
			if to == resilience.StateOpen && m.onTrip != nil {
				m.onTrip()
			}
		},
	})
	return m
}

// defaultMaxPages bounds objects over allocators that do not report a size.
const defaultMaxPages = 1 << 20

// MaxPages returns the largest memory object NewObject accepts.
func (m *Manager) MaxPages() int { return m.maxPages }

func isOOM(err error) bool { return errors.Is(err, kerr.ErrOutOfMemory) }

// allocFrame is the only path that takes frames from the allocator. It never
// waits longer than the retry policy allows.
func (m *Manager) allocFrame() (PhysAddr, error) {
	pa, err := resilience.Do(m.breaker, func() (PhysAddr, error) {
		var pa PhysAddr
		err := resilience.Retry(context.Background(), m.retry, func() error {
			var err error
			pa, err = m.frames.AllocFrame()
			return err
		})
		return pa, err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return 0, kerr.Newf("alloc_frame", kerr.ErrOutOfMemory, "allocator cooling down")
	}
	return pa, err
}

// freeFrame returns a frame and wakes everyone waiting for memory.
func (m *Manager) freeFrame(pa PhysAddr) {
	m.frames.FreeFrame(pa)
	if m.breaker.State() != resilience.StateClosed {
		m.breaker.Reset()
	}

	m.mu.Lock()
	waiters := m.waiters
	m.waiters = make(map[uint64]func())
	m.mu.Unlock()

	for _, wake := range waiters {
		wake()
	}
}

// NotifyOnFree registers wake to run once, the next time a frame is freed.
// The returned cancel removes the registration if it has not fired.
func (m *Manager) NotifyOnFree(wake func()) (cancel func()) {
	m.mu.Lock()
	id := m.nextW
	m.nextW++
	m.waiters[id] = wake
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.waiters, id)
		m.mu.Unlock()
	}
}

// Breaker exposes the allocation breaker state.
func (m *Manager) Breaker() resilience.State { return m.breaker.State() }

// NewObject creates a memory object of n pages. Eager objects commit every
// page up front and fail as a whole when memory runs out.
func (m *Manager) NewObject(n int, policy Policy) (*MemoryObject, error) {
	if n <= 0 {
		return nil, kerr.Newf("memory_object_create", kerr.ErrInvalidArgument, "size %d pages", n)
	}
	if !policy.Valid() {
		return nil, kerr.Newf("memory_object_create", kerr.ErrInvalidArgument, "policy %d", policy)
	}
	if n > m.maxPages {
		return nil, kerr.Newf("memory_object_create", kerr.ErrOutOfMemory, "%d pages exceeds limit of %d", n, m.maxPages)
	}

	mo := &MemoryObject{
		mgr:     m,
		policy:  policy,
		backing: make([]PhysAddr, n),
	}
	if policy == PolicyEager {
		if err := mo.CommitAll(); err != nil {
			mo.Release()
			return nil, kerr.New("memory_object_create", err)
		}
	}
	return mo, nil
}

func (m *Manager) bytes(pa PhysAddr) []byte {
	if m.phys == nil {
		return nil
	}
	return m.phys.Bytes(pa)
}
