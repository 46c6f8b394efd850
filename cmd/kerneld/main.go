package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/server"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/codec"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/providers"
)

func main() {
	configPath := flag.String("config", "", "YAML or TOML config file (environment overrides it)")
	dev := flag.Bool("dev", false, "Development logging")
	demo := flag.Bool("demo", true, "Run the disk provider demo workload")
	clients := flag.Int("clients", 4, "Demo client tasks")
	requests := flag.Int("requests", 16, "Requests per demo client")
	codecName := flag.String("codec", "proto", "Demo payload codec: proto or json")
	flag.Parse()

	if err := run(*configPath, *dev, *demo, *clients, *requests, *codecName); err != nil {
		fmt.Fprintln(os.Stderr, "kerneld:", err)
		os.Exit(1)
	}
}

func run(configPath string, dev, demo bool, clients, requests int, codecName string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	logCfg.Level = cfg.Logging.Level
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	k, err := kernel.New(cfg, kernel.WithLogger(logger.Logger))
	if err != nil {
		return err
	}

	if demo {
		c, ok := codec.ByName(codecName)
		if !ok {
			return fmt.Errorf("unknown codec %q", codecName)
		}
		program := providers.Demo(providers.DemoConfig{
			Blocks:   max(clients*requests, 1),
			Clients:  clients,
			Requests: requests,
			Codec:    c,
		}, logger.Component("demo"))
		if _, err := k.Bootstrap("init", program); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return k.Run(ctx)
	})
	if cfg.Server.Enabled {
		srv, err := server.New(cfg, k, logger)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	logger.Info("kerneld started",
		zap.Int("cores", cfg.Kernel.Cores),
		zap.Bool("introspection", cfg.Server.Enabled))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("kerneld stopped")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
