package id

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator()

	id1 := gen.Generate()
	id2 := gen.Generate()

	if id1.String() == id2.String() {
		t.Error("Generated IDs should be unique")
	}
}

func TestGenerateMonotonic(t *testing.T) {
	gen := NewGenerator()

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = gen.Generate().String()
	}

	if !sort.StringsAreSorted(ids) {
		t.Error("IDs from one generator should sort in creation order")
	}
}

func TestTypedLabels(t *testing.T) {
	label := NewTaskLabel()
	trace := NewTraceID()
	span := NewSpanID()

	if !strings.HasPrefix(label.String(), "task_") {
		t.Errorf("TaskLabel should start with 'task_', got: %s", label)
	}
	if !strings.HasPrefix(trace.String(), "trace_") {
		t.Errorf("TraceID should start with 'trace_', got: %s", trace)
	}
	if !strings.HasPrefix(span.String(), "span_") {
		t.Errorf("SpanID should start with 'span_', got: %s", span)
	}

	parts := strings.SplitN(label.String(), "_", 2)
	if !IsValid(parts[1]) {
		t.Errorf("ULID part should be valid: %s", parts[1])
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	raw := NewGenerator().Generate().String()

	ts, err := Timestamp(raw)
	if err != nil {
		t.Fatalf("Timestamp failed: %v", err)
	}
	if ts.Before(before) {
		t.Errorf("timestamp %v is older than %v", ts, before)
	}

	if _, err := Timestamp("not-a-ulid"); err == nil {
		t.Error("expected error for invalid ULID")
	}
}

func TestConcurrentGeneration(t *testing.T) {
	gen := NewGenerator()
	const workers, per = 8, 200

	var (
		mu   sync.Mutex
		seen = make(map[string]bool, workers*per)
		wg   sync.WaitGroup
	)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				s := gen.GenerateWithPrefix(TaskPrefix)
				mu.Lock()
				seen[s] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*per {
		t.Errorf("expected %d unique IDs, got %d", workers*per, len(seen))
	}
}
