// Package id generates human-readable labels for kernel entities.
//
// Kernel object identifiers are numeric (generation + arena slot) and never
// leave the kernel. The labels produced here are ULIDs with a type prefix and
// exist only for logs and the introspection API:
//   - task_<ulid>: default task name when the creator supplies none
//   - trace_<ulid>, span_<ulid>: tracing identifiers
//
// ULIDs are lexicographically sortable, so labels created later sort later.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// TaskLabel names a task in logs
type TaskLabel string

// TraceID identifies one request flow across the introspection surfaces
type TraceID string

// SpanID identifies one operation inside a trace
type SpanID string

const (
	TaskPrefix  = "task"
	TracePrefix = "trace"
	SpanPrefix  = "span"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator with monotonic entropy so IDs minted within
// the same millisecond still sort in creation order
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewTaskLabel generates a default task name
func NewTaskLabel() TaskLabel {
	return TaskLabel(Default().GenerateWithPrefix(TaskPrefix))
}

// NewTraceID generates a trace identifier
func NewTraceID() TraceID {
	return TraceID(Default().GenerateWithPrefix(TracePrefix))
}

// NewSpanID generates a span identifier
func NewSpanID() SpanID {
	return SpanID(Default().GenerateWithPrefix(SpanPrefix))
}

func (l TaskLabel) String() string { return string(l) }
func (t TraceID) String() string   { return string(t) }
func (s SpanID) String() string    { return string(s) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Timestamp extracts the creation time from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
