package monitoring

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "microkernel"

// Metrics holds the Prometheus metrics of one kernel instance. Each instance
// owns its registry so several kernels can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Syscall metrics
	SyscallsTotal   *prometheus.CounterVec
	SyscallDuration *prometheus.HistogramVec

	// Scheduler metrics
	ContextSwitches prometheus.Counter
	Preemptions     prometheus.Counter

	// IPC metrics
	MessagesDelivered  prometheus.Counter
	HandlesTransferred prometheus.Counter
	QueueFull          prometheus.Counter

	// Memory metrics
	BreakerTrips prometheus.Counter

	// HTTP metrics for the introspection API
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	startTime time.Time

	// Snapshot counters for the JSON API
	syscalls      atomic.Int64
	syscallErrors atomic.Int64
	switches      atomic.Int64
	preemptions   atomic.Int64
	delivered     atomic.Int64
	queueFull     atomic.Int64
	requests      atomic.Int64

	mu    sync.RWMutex
	state func() StateSample
}

// StateSample is a point-in-time view of kernel gauges, sampled at scrape time
type StateSample struct {
	Objects     map[string]int
	Tasks       map[string]int
	FramesInUse int
	FramesTotal int
}

// Snapshot holds current metric values for the JSON API
type Snapshot struct {
	Syscalls          int64          `json:"syscalls"`
	SyscallErrors     int64          `json:"syscall_errors"`
	ContextSwitches   int64          `json:"context_switches"`
	Preemptions       int64          `json:"preemptions"`
	MessagesDelivered int64          `json:"messages_delivered"`
	QueueFull         int64          `json:"queue_full"`
	HTTPRequests      int64          `json:"http_requests"`
	Objects           map[string]int `json:"objects"`
	Tasks             map[string]int `json:"tasks"`
	FramesInUse       int            `json:"frames_in_use"`
	FramesTotal       int            `json:"frames_total"`
	UptimeSeconds     float64        `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector backed by a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		SyscallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syscalls_total",
				Help:      "Total number of syscalls by operation and result",
			},
			[]string{"op", "result"},
		),
		SyscallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "syscall_duration_seconds",
				Help:      "Syscall duration in seconds, including time spent blocked",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"op"},
		),
		ContextSwitches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_switches_total",
			Help:      "Tasks dispatched onto a core",
		}),
		Preemptions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preemptions_total",
			Help:      "Running tasks preempted back to Ready",
		}),
		MessagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Messages handed to a receiving task",
		}),
		HandlesTransferred: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handles_transferred_total",
			Help:      "Capabilities moved between tasks through messages",
		}),
		QueueFull: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_full_total",
			Help:      "Sends rejected because the channel queue was full",
		}),
		BreakerTrips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_breaker_trips_total",
			Help:      "Times the frame allocation breaker opened",
		}),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of introspection HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Introspection HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Kernel uptime in seconds",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	reg.MustRegister(&stateCollector{m: m})

	return m
}

// Registry returns the registry for exposition
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetStateFunc installs the sampler used for object, task and frame gauges
func (m *Metrics) SetStateFunc(fn func() StateSample) {
	m.mu.Lock()
	m.state = fn
	m.mu.Unlock()
}

func (m *Metrics) sample() StateSample {
	m.mu.RLock()
	fn := m.state
	m.mu.RUnlock()
	if fn == nil {
		return StateSample{}
	}
	return fn()
}

// RecordSyscall records one completed syscall
func (m *Metrics) RecordSyscall(op, result string, duration time.Duration) {
	m.SyscallsTotal.WithLabelValues(op, result).Inc()
	m.SyscallDuration.WithLabelValues(op).Observe(duration.Seconds())

	m.syscalls.Add(1)
	if result != "ok" {
		m.syscallErrors.Add(1)
	}
	if result == "queue_full" {
		m.QueueFull.Inc()
		m.queueFull.Add(1)
	}
}

// IncContextSwitch records a dispatch
func (m *Metrics) IncContextSwitch() {
	m.ContextSwitches.Inc()
	m.switches.Add(1)
}

// IncPreemption records a preemption
func (m *Metrics) IncPreemption() {
	m.Preemptions.Inc()
	m.preemptions.Add(1)
}

// RecordDelivery records a received message and the handles it carried
func (m *Metrics) RecordDelivery(handles int) {
	m.MessagesDelivered.Inc()
	m.HandlesTransferred.Add(float64(handles))
	m.delivered.Add(1)
}

// IncBreakerTrip records the frame breaker opening
func (m *Metrics) IncBreakerTrip() {
	m.BreakerTrips.Inc()
}

// RecordHTTPRequest records an introspection request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.requests.Add(1)
}

// Snapshot returns current values for the JSON API
func (m *Metrics) Snapshot() Snapshot {
	s := m.sample()
	return Snapshot{
		Syscalls:          m.syscalls.Load(),
		SyscallErrors:     m.syscallErrors.Load(),
		ContextSwitches:   m.switches.Load(),
		Preemptions:       m.preemptions.Load(),
		MessagesDelivered: m.delivered.Load(),
		QueueFull:         m.queueFull.Load(),
		HTTPRequests:      m.requests.Load(),
		Objects:           s.Objects,
		Tasks:             s.Tasks,
		FramesInUse:       s.FramesInUse,
		FramesTotal:       s.FramesTotal,
		UptimeSeconds:     time.Since(m.startTime).Seconds(),
	}
}

// stateCollector turns a StateSample into gauges at scrape time
type stateCollector struct {
	m *Metrics
}

var (
	objectsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "objects_live"),
		"Live kernel objects by kind", []string{"kind"}, nil)
	tasksDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "tasks"),
		"Tasks by scheduler state", []string{"state"}, nil)
	framesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "frames_in_use"),
		"Physical frames currently allocated", nil, nil)
	framesTotalDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "frames_total"),
		"Physical frames managed by the allocator", nil, nil)
)

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- objectsDesc
	ch <- tasksDesc
	ch <- framesDesc
	ch <- framesTotalDesc
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.sample()
	for kind, n := range s.Objects {
		ch <- prometheus.MustNewConstMetric(objectsDesc, prometheus.GaugeValue, float64(n), kind)
	}
	for state, n := range s.Tasks {
		ch <- prometheus.MustNewConstMetric(tasksDesc, prometheus.GaugeValue, float64(n), state)
	}
	ch <- prometheus.MustNewConstMetric(framesDesc, prometheus.GaugeValue, float64(s.FramesInUse))
	ch <- prometheus.MustNewConstMetric(framesTotalDesc, prometheus.GaugeValue, float64(s.FramesTotal))
}
