package grpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const callTimeout = 5 * time.Second

// Client calls the introspection service of a remote kernel.
type Client struct {
	conn *grpc.ClientConn
	addr string
}

// NewClient creates a client. The connection is established lazily on the
// first call.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	defaults := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    60 * time.Second,
			Timeout: 20 * time.Second,
		}),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(16 * 1024 * 1024)),
	}

	conn, err := grpc.NewClient(addr, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial kernel %s: %w", addr, err)
	}
	return &Client{conn: conn, addr: addr}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Stats fetches the kernel snapshot.
func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	return c.call(ctx, MethodStats, &emptypb.Empty{})
}

// Tasks lists live tasks.
func (c *Client) Tasks(ctx context.Context) ([]any, error) {
	out, err := c.call(ctx, MethodTasks, &emptypb.Empty{})
	if err != nil {
		return nil, err
	}
	tasks, _ := out["tasks"].([]any)
	return tasks, nil
}

// Services lists services whose name starts with prefix; limit 0 means all.
func (c *Client) Services(ctx context.Context, prefix string, limit int) ([]any, error) {
	req, err := structpb.NewStruct(map[string]any{"prefix": prefix, "limit": limit})
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, MethodServices, req)
	if err != nil {
		return nil, err
	}
	services, _ := out["services"].([]any)
	return services, nil
}

func (c *Client) call(ctx context.Context, method string, req any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, req, out); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out.AsMap(), nil
}
