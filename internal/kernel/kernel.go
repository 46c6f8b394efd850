package kernel

import (
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/capability"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/ipc"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/mm"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/object"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/sched"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/service"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

// Kernel is one kernel instance.
type Kernel struct {
	cfg     config.KernelConfig
	log     *zap.Logger
	metrics *monitoring.Metrics

	objects  *object.Table
	sched    *sched.Scheduler
	memory   *mm.Manager
	frames   mm.FrameAllocator
	phys     mm.PhysMemory
	services *service.Registry

	newPageTable func() mm.PageTable

	mu    sync.RWMutex
	tasks map[object.ID]*Task

	panicsMu sync.Mutex
	panics   []PanicInfo
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(k *Kernel) { k.log = l }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *monitoring.Metrics) Option {
	return func(k *Kernel) { k.metrics = m }
}

// WithFrameAllocator replaces the simulated physical memory. phys may be nil
// if frame contents are not addressable.
func WithFrameAllocator(frames mm.FrameAllocator, phys mm.PhysMemory) Option {
	return func(k *Kernel) {
		k.frames = frames
		k.phys = phys
	}
}

// WithPageTables replaces the page table driver factory.
func WithPageTables(fn func() mm.PageTable) Option {
	return func(k *Kernel) { k.newPageTable = fn }
}

// New creates a kernel from cfg.
func New(cfg *config.Config, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	k := &Kernel{
		cfg:          cfg.Kernel,
		log:          zap.NewNop(),
		services:     service.NewRegistry(),
		newPageTable: func() mm.PageTable { return mm.NewSimPageTable() },
		tasks:        make(map[object.ID]*Task),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.metrics == nil {
		k.metrics = monitoring.NewMetrics()
	}
	if k.frames == nil {
		alloc := mm.NewBitmapAllocator(cfg.Memory.Frames)
		k.frames, k.phys = alloc, alloc
	}
	k.log = k.log.Named("kernel")

	k.objects = object.NewTable(
		object.WithCapacity(cfg.Kernel.MaxObjects),
		object.WithDestroyHook(k.destroy),
		object.WithLogger(k.log.Named("objects")),
	)
	k.sched = sched.New(cfg.Kernel.Cores, cfg.Kernel.Priorities, k.log.Named("sched"))
	k.memory = mm.NewManager(k.frames, k.phys,
		mm.WithRetry(resilience.Policy{Attempts: cfg.Memory.AllocRetries, Backoff: cfg.Memory.AllocBackoff}),
		mm.WithBreaker(uint32(cfg.Memory.BreakerThreshold), cfg.Memory.BreakerCooldown),
		mm.WithLogger(k.log.Named("mm")),
		mm.WithTripHook(k.metrics.IncBreakerTrip),
		mm.WithMaxPages(cfg.Memory.MaxObjectPages),
	)
	k.metrics.SetStateFunc(k.sample)

	k.log.Info("kernel initialized",
		zap.Int("cores", cfg.Kernel.Cores),
		zap.Int("priorities", cfg.Kernel.Priorities),
		zap.Int("frames", cfg.Memory.Frames))
	return k, nil
}

// Metrics returns the metrics collector
func (k *Kernel) Metrics() *monitoring.Metrics { return k.metrics }

// Priorities returns the number of scheduler priority tiers.
func (k *Kernel) Priorities() int { return k.sched.Priorities() }

// Services returns the service registry
func (k *Kernel) Services() *service.Registry { return k.services }

// Objects returns the object table
func (k *Kernel) Objects() *object.Table { return k.objects }

// Task returns a live task by ID.
func (k *Kernel) Task(id object.ID) (*Task, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	t, ok := k.tasks[id]
	return t, ok
}

// destroy is the object table's teardown hook. It runs once per object.
func (k *Kernel) destroy(obj *object.Object) {
	switch obj.Kind() {
	case object.KindTask:
		t := obj.Payload().(*Task)
		if t.State() != sched.StateDead {
			k.bug("task %s destroyed while %s", t.ID(), t.State())
		}
	case object.KindMemoryObject:
		obj.Payload().(*mm.MemoryObject).Release()
	case object.KindChannel:
		obj.Payload().(*ipc.Channel).Close(kerr.ErrChannelClosed)
	case object.KindService:
		svc := obj.Payload().(*service.Service)
		k.services.Unregister(svc)
		if ch, err := k.objects.Get(svc.Channel); err == nil {
			ch.Payload().(*ipc.Channel).Close(kerr.ErrChannelClosed)
		}
		_ = k.objects.Release(svc.Channel)
	default:
		k.bug("destroy of unknown kind %d", obj.Kind())
	}
}

// dropCaps releases capabilities that were taken for transfer but will never
// be installed.
func (k *Kernel) dropCaps(entries []capability.Entry) {
	capability.Drop(k.objects, entries)
}

func (k *Kernel) sample() monitoring.StateSample {
	objs := k.objects.Stats()
	s := monitoring.StateSample{
		Objects: make(map[string]int, len(objs)),
		Tasks:   make(map[string]int, len(sched.States)),
	}
	for kind, n := range objs {
		s.Objects[kind.String()] = n
	}
	for _, st := range sched.States {
		s.Tasks[st.String()] = 0
	}
	k.mu.RLock()
	for _, t := range k.tasks {
		s.Tasks[t.State().String()]++
	}
	k.mu.RUnlock()

	if c, ok := k.frames.(interface {
		InUse() int
		Total() int
	}); ok {
		s.FramesInUse, s.FramesTotal = c.InUse(), c.Total()
	}
	return s
}
