package kernel

import (
	"sort"
	"time"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/sched"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/service"
)

// Stats is a point-in-time view of the whole kernel.
type Stats struct {
	Objects   map[string]int      `json:"objects"`
	Tasks     map[string]int      `json:"tasks"`
	Scheduler sched.Stats         `json:"scheduler"`
	Memory    MemoryStats         `json:"memory"`
	Services  int                 `json:"services"`
	Metrics   monitoring.Snapshot `json:"metrics"`
}

// MemoryStats describes physical memory use.
type MemoryStats struct {
	FramesInUse int    `json:"frames_in_use"`
	FramesTotal int    `json:"frames_total"`
	Breaker     string `json:"breaker"`
}

// TaskInfo describes one live task.
type TaskInfo struct {
	ID       string    `json:"id"`
	Label    string    `json:"label"`
	Name     string    `json:"name"`
	Parent   string    `json:"parent,omitempty"`
	State    string    `json:"state"`
	Reason   string    `json:"reason,omitempty"`
	Priority int       `json:"priority"`
	Core     int       `json:"core"`
	Detached bool      `json:"detached"`
	Handles  int       `json:"handles"`
	Regions  int       `json:"regions"`
	Created  time.Time `json:"created"`
}

// Stats returns a snapshot of kernel state.
func (k *Kernel) Stats() Stats {
	s := k.sample()
	return Stats{
		Objects:   s.Objects,
		Tasks:     s.Tasks,
		Scheduler: k.sched.Stats(),
		Memory: MemoryStats{
			FramesInUse: s.FramesInUse,
			FramesTotal: s.FramesTotal,
			Breaker:     k.memory.Breaker().String(),
		},
		Services: k.services.Len(),
		Metrics:  k.metrics.Snapshot(),
	}
}

// Tasks lists live tasks ordered by creation.
func (k *Kernel) Tasks() []TaskInfo {
	k.mu.RLock()
	tasks := make([]*Task, 0, len(k.tasks))
	for _, t := range k.tasks {
		tasks = append(tasks, t)
	}
	k.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].label.String() < tasks[j].label.String() })
	out := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		info := TaskInfo{
			ID:       t.ID().String(),
			Label:    t.label.String(),
			Name:     t.Name(),
			State:    t.State().String(),
			Priority: t.Priority(),
			Core:     t.Core(),
			Detached: t.Detached(),
			Handles:  t.caps.Len(),
			Regions:  len(t.space.Regions()),
			Created:  t.created,
		}
		if t.parent != 0 {
			info.Parent = t.parent.String()
		}
		if r := t.Reason(); r != sched.ReasonNone {
			info.Reason = r.String()
		}
		out = append(out, info)
	}
	return out
}

// ServiceList lists registered services.
func (k *Kernel) ServiceList(prefix string, limit int) []service.Info {
	if prefix == "" && limit <= 0 {
		return k.services.List()
	}
	return k.services.Discover(prefix, limit)
}

// Breaker reports the frame allocator breaker state.
func (k *Kernel) Breaker() resilience.State { return k.memory.Breaker() }
