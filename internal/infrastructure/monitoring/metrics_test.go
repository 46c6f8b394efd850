package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsIndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.IncContextSwitch()

	assert.Equal(t, float64(1), testutil.ToFloat64(a.ContextSwitches))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.ContextSwitches))
}

func TestRecordSyscall(t *testing.T) {
	m := NewMetrics()

	m.RecordSyscall("channel_send", "ok", time.Microsecond)
	m.RecordSyscall("channel_send", "queue_full", time.Microsecond)
	NewTimer(m, "channel_receive").Stop("would_block")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SyscallsTotal.WithLabelValues("channel_send", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.QueueFull))

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Syscalls)
	assert.Equal(t, int64(2), snap.SyscallErrors)
	assert.Equal(t, int64(1), snap.QueueFull)
}

func TestStateCollector(t *testing.T) {
	m := NewMetrics()
	m.SetStateFunc(func() StateSample {
		return StateSample{
			Objects:     map[string]int{"channel": 2, "task": 3},
			Tasks:       map[string]int{"ready": 1, "blocked": 2},
			FramesInUse: 7,
			FramesTotal: 64,
		}
	})

	n, err := testutil.GatherAndCount(m.Registry(), "microkernel_objects_live", "microkernel_tasks")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	snap := m.Snapshot()
	assert.Equal(t, 7, snap.FramesInUse)
	assert.Equal(t, 3, snap.Objects["task"])
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	r := gin.New()
	r.Use(Middleware(m))
	r.GET("/v1/tasks/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/tasks/7", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/v1/tasks/:id", "204")))
	assert.Equal(t, int64(1), m.Snapshot().HTTPRequests)
}
