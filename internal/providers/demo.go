package providers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/codec"
)

// DemoConfig sizes the demo workload.
type DemoConfig struct {
	Blocks   int
	Clients  int
	Requests int
	Codec    codec.Codec
}

// Demo returns an init program that starts a disk provider and Clients
// client tasks, each writing then reading back Requests blocks. It exits 0
// when every client verified its data.
func Demo(cfg DemoConfig, log *zap.Logger) kernel.Program {
	return func(ctx context.Context, k *kernel.Kernel, t *kernel.Task) int {
		priority := k.Priorities() - 1
		_, _, err := k.TaskCreate(t, kernel.TaskSpec{
			Name:     "disk",
			Priority: priority,
			Program:  Program(NewDisk(cfg.Blocks), cfg.Codec, log.Named("disk")),
		})
		if err != nil {
			log.Error("spawn disk failed", zap.Error(err))
			return ExitSetup
		}

		failed := 0
		var waits []func() (int, error)
		for i := 0; i < cfg.Clients; i++ {
			name := fmt.Sprintf("client-%d", i)
			first := i * cfg.Requests
			h, _, err := k.TaskCreate(t, kernel.TaskSpec{
				Name:     name,
				Priority: priority - 1,
				Program:  diskClient(first, cfg, log.Named(name)),
			})
			if err != nil {
				log.Error("spawn client failed", zap.String("client", name), zap.Error(err))
				failed++
				continue
			}
			waits = append(waits, func() (int, error) {
				return k.TaskWait(ctx, t, h, kernel.WaitOptions{Block: true})
			})
		}

		for _, wait := range waits {
			code, err := wait()
			if err != nil || code != ExitOK {
				failed++
			}
		}
		log.Info("demo workload finished", zap.Int("clients", cfg.Clients), zap.Int("failed", failed))
		if failed > 0 {
			return ExitIPC
		}
		return ExitOK
	}
}

func diskClient(first int, cfg DemoConfig, log *zap.Logger) kernel.Program {
	return func(ctx context.Context, k *kernel.Kernel, t *kernel.Task) int {
		disk, err := Dial(ctx, k, t, "disk", cfg.Codec)
		if err != nil {
			log.Error("dial failed", zap.Error(err))
			return ExitSetup
		}
		defer disk.Close()

		for i := 0; i < cfg.Requests; i++ {
			block := (first + i) % cfg.Blocks
			want := fmt.Sprintf("%s block %d", t.Label(), block)

			if _, err := disk.Call(ctx, "disk.write", map[string]any{"block": block, "data": want}); err != nil {
				log.Error("write failed", zap.Int("block", block), zap.Error(err))
				return ExitIPC
			}
			got, err := disk.Call(ctx, "disk.read", map[string]any{"block": block})
			if err != nil {
				log.Error("read failed", zap.Int("block", block), zap.Error(err))
				return ExitIPC
			}
			if got["data"] != want {
				log.Error("read back mismatch", zap.Int("block", block), zap.Any("got", got["data"]))
				return ExitIPC
			}
		}
		log.Debug("client done", zap.Int("requests", cfg.Requests))
		return ExitOK
	}
}
