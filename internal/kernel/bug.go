package kernel

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/object"
)

// InvariantError is raised, as a panic, when kernel state is found
// inconsistent. It is never returned to a task.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "kernel invariant violated: " + e.Msg }

// PanicInfo describes a panic recovered on a kernel core.
type PanicInfo struct {
	Core  int
	Task  object.ID
	Value any
	Stack []byte
}

func (p PanicInfo) Error() string {
	return fmt.Sprintf("core %d halted running %s: %v", p.Core, p.Task, p.Value)
}

func (k *Kernel) bug(format string, args ...any) {
	err := &InvariantError{Msg: fmt.Sprintf(format, args...)}
	k.log.Error("invariant violated", zap.String("detail", err.Msg), zap.ByteString("stack", debug.Stack()))
	panic(err)
}

func (k *Kernel) recordPanic(info PanicInfo) {
	k.panicsMu.Lock()
	k.panics = append(k.panics, info)
	k.panicsMu.Unlock()
	k.log.Error("core halted",
		logging.Core(info.Core),
		logging.Task(info.Task),
		zap.Any("panic", info.Value),
		zap.ByteString("stack", info.Stack))
}

// Panics returns the panics recovered so far.
func (k *Kernel) Panics() []PanicInfo {
	k.panicsMu.Lock()
	defer k.panicsMu.Unlock()
	return append([]PanicInfo(nil), k.panics...)
}
