package providers

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/capability"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/codec"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/kerr"
)

// Exit codes of a provider program.
const (
	ExitOK    = 0
	ExitSetup = 1
	ExitIPC   = 2
)

// Provider is a user-mode service.
type Provider interface {
	Name() string
	Setup(ctx context.Context, k *kernel.Kernel, t *kernel.Task) error
	Execute(ctx context.Context, tool string, params map[string]any) (map[string]any, error)
}

// Program returns a task program that serves p until its channel closes or
// the kernel stops.
func Program(p Provider, c codec.Codec, log *zap.Logger) kernel.Program {
	return func(ctx context.Context, k *kernel.Kernel, t *kernel.Task) int {
		log := log.With(logging.Service(p.Name()), logging.Task(t.Label()))

		if err := p.Setup(ctx, k, t); err != nil {
			log.Error("provider setup failed", zap.Error(err))
			return ExitSetup
		}
		h, err := k.ServiceRegister(t, p.Name(), 0)
		if err != nil {
			log.Error("service register failed", zap.Error(err))
			return ExitSetup
		}
		log.Info("provider serving", zap.String("codec", c.Name()))

		for {
			msg, err := k.ChannelReceive(ctx, t, h, kernel.ReceiveOptions{Block: true})
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, kerr.ErrChannelClosed) {
					return ExitOK
				}
				log.Error("receive failed", zap.Error(err))
				return ExitIPC
			}
			serve(ctx, k, t, p, c, msg, log)
		}
	}
}

func serve(ctx context.Context, k *kernel.Kernel, t *kernel.Task, p Provider, c codec.Codec, msg *kernel.Received, log *zap.Logger) {
	if len(msg.Handles) != 1 {
		log.Warn("dropping call without a single reply handle",
			zap.Stringer("sender", msg.Sender), zap.Int("handles", len(msg.Handles)))
		for _, h := range msg.Handles {
			_ = k.HandleClose(t, h)
		}
		return
	}
	reply := msg.Handles[0]
	defer func() { _ = k.HandleClose(t, reply) }()

	resp := map[string]any{"ok": true}
	req, err := c.Unmarshal(msg.Payload)
	if err == nil {
		tool, _ := req["tool"].(string)
		params, _ := req["params"].(map[string]any)
		var data map[string]any
		if data, err = p.Execute(ctx, tool, params); err == nil && data != nil {
			resp["data"] = data
		}
	}
	if err != nil {
		resp = map[string]any{"ok": false, "error": err.Error()}
	}

	body, err := c.Marshal(resp)
	if err != nil {
		log.Error("encode reply failed", zap.Error(err))
		return
	}
	// The caller owns the reply queue; a full or dead queue drops the reply.
	if err := k.ChannelSend(ctx, t, reply, body, nil, kernel.SendOptions{}); err != nil {
		log.Debug("reply dropped", zap.Stringer("sender", msg.Sender), zap.Error(err))
	}
}

// Client calls a provider from inside a task.
type Client struct {
	k     *kernel.Kernel
	t     *kernel.Task
	codec codec.Codec
	svc   capability.Handle
	reply capability.Handle
}

// Dial subscribes to the named service, yielding until it is registered, and
// creates the reply channel.
func Dial(ctx context.Context, k *kernel.Kernel, t *kernel.Task, name string, c codec.Codec) (*Client, error) {
	svc, err := k.ServiceSubscribe(t, name)
	for errors.Is(err, kerr.ErrNotFound) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := k.Yield(t); err != nil {
			return nil, err
		}
		// Yield keeps a detached caller on its goroutine.
		runtime.Gosched()
		svc, err = k.ServiceSubscribe(t, name)
	}
	if err != nil {
		return nil, err
	}

	reply, err := k.ChannelCreate(t, 1)
	if err != nil {
		_ = k.HandleClose(t, svc)
		return nil, err
	}
	return &Client{k: k, t: t, codec: c, svc: svc, reply: reply}, nil
}

// Call runs tool on the provider and returns its data.
func (c *Client) Call(ctx context.Context, tool string, params map[string]any) (map[string]any, error) {
	body, err := c.codec.Marshal(map[string]any{"tool": tool, "params": params})
	if err != nil {
		return nil, err
	}

	back, err := c.k.HandleDuplicate(c.t, c.reply, capability.RightSend|capability.RightTransfer)
	if err != nil {
		return nil, err
	}
	if err := c.k.ChannelSend(ctx, c.t, c.svc, body, []capability.Handle{back}, kernel.SendOptions{Block: true}); err != nil {
		_ = c.k.HandleClose(c.t, back)
		return nil, err
	}

	msg, err := c.k.ChannelReceive(ctx, c.t, c.reply, kernel.ReceiveOptions{Block: true})
	if err != nil {
		return nil, err
	}
	resp, err := c.codec.Unmarshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if ok, _ := resp["ok"].(bool); !ok {
		return nil, fmt.Errorf("%s: %v", tool, resp["error"])
	}
	data, _ := resp["data"].(map[string]any)
	return data, nil
}

// Close releases the client's handles.
func (c *Client) Close() {
	_ = c.k.HandleClose(c.t, c.svc)
	_ = c.k.HandleClose(c.t, c.reply)
}

func intParam(params map[string]any, key string) (int, error) {
	switch v := params[key].(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("%s parameter required", key)
	}
}
