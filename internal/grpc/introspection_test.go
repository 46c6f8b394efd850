package grpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel"
)

func setup(t *testing.T, tracer *tracing.Tracer) *Client {
	t.Helper()

	cfg := config.Default()
	cfg.Memory.Frames = 32
	k, err := kernel.New(cfg)
	require.NoError(t, err)
	root, err := k.Bootstrap("init", nil)
	require.NoError(t, err)
	for _, name := range []string{"disk", "disk.cache", "net"} {
		_, err := k.ServiceRegister(root, name, 0)
		require.NoError(t, err)
	}

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(k, tracer, zap.NewNop())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.GracefulStop)

	opts := []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	}
	if tracer != nil {
		opts = append(opts, grpc.WithUnaryInterceptor(tracing.GRPCClientInterceptor(tracer)))
	}
	client, err := NewClient("passthrough:///bufnet", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStats(t *testing.T) {
	client := setup(t, nil)

	stats, err := client.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats["services"])

	memory, ok := stats["memory"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 32, memory["frames_total"])
}

func TestTasks(t *testing.T) {
	client := setup(t, nil)

	tasks, err := client.Tasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "init", tasks[0].(map[string]any)["name"])
}

func TestServices(t *testing.T) {
	client := setup(t, nil)
	ctx := context.Background()

	all, err := client.Services(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	disk, err := client.Services(ctx, "disk", 0)
	require.NoError(t, err)
	assert.Len(t, disk, 2)

	one, err := client.Services(ctx, "disk", 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "disk", one[0].(map[string]any)["name"])

	_, err = client.Services(ctx, "", -1)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestTracePropagatesAcrossCall(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tracer := tracing.New("test", zap.New(core))
	client := setup(t, tracer)

	_, err := client.Stats(context.Background())
	require.NoError(t, err)
	tracer.Close()

	entries := logs.FilterMessage("span completed").All()
	require.Len(t, entries, 2)
	assert.Equal(t, entries[0].ContextMap()["trace_id"], entries[1].ContextMap()["trace_id"])
	for _, e := range entries {
		assert.Equal(t, MethodStats, e.ContextMap()["operation"])
	}
}
