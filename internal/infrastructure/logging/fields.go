package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// Field keys shared by every kernel log line.
const (
	TaskKey    = "task"
	ObjectKey  = "object"
	KindKey    = "kind"
	HandleKey  = "handle"
	OpKey      = "op"
	CoreKey    = "core"
	ServiceKey = "service"
	OwnerKey   = "owner"
)

// Task identifies a task by ID or label.
func Task(id fmt.Stringer) zap.Field { return zap.Stringer(TaskKey, id) }

// Object identifies a kernel object.
func Object(id fmt.Stringer) zap.Field { return zap.Stringer(ObjectKey, id) }

// Kind names an object kind.
func Kind(k fmt.Stringer) zap.Field { return zap.Stringer(KindKey, k) }

// Handle identifies a task-local handle.
func Handle(h fmt.Stringer) zap.Field { return zap.Stringer(HandleKey, h) }

// Op names a syscall.
func Op(op string) zap.Field { return zap.String(OpKey, op) }

// Core numbers a scheduler core.
func Core(core int) zap.Field { return zap.Int(CoreKey, core) }

// Service names a registered service.
func Service(name string) zap.Field { return zap.String(ServiceKey, name) }

// Owner identifies the task that owns a service.
func Owner(id fmt.Stringer) zap.Field { return zap.Stringer(OwnerKey, id) }

// ForTask returns a child logger that tags every entry with task.
func (l *Logger) ForTask(task fmt.Stringer) *zap.Logger {
	return l.Logger.With(Task(task))
}
