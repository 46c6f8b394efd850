package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/GriffinCanCode/AgentOS/microkernel/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/grpc"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel"
)

// Server serves kernel introspection over HTTP and, optionally, gRPC.
type Server struct {
	config *config.Config
	logger *logging.Logger
	tracer *tracing.Tracer

	router  *gin.Engine
	http    *http.Server
	httpLis net.Listener

	grpc    *grpc.Server
	grpcLis net.Listener
}

// New binds the listeners so the addresses are known before Run.
func New(cfg *config.Config, k *kernel.Kernel, logger *logging.Logger) (*Server, error) {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	tracer := tracing.New("kerneld", logger.Component("tracing"))

	routerCfg := apihttp.RouterConfig{
		CORS:   middleware.DefaultCORSConfig(),
		Tracer: tracer,
	}
	if cfg.RateLimit.Enabled {
		routerCfg.RateLimit = &middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
		}
	}
	router := apihttp.NewRouter(k, k.Metrics(), logger.Component("http"), routerCfg)

	s := &Server{
		config: cfg,
		logger: logger,
		tracer: tracer,
		router: router,
		http:   &http.Server{Handler: router},
	}

	var err error
	s.httpLis, err = net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}

	if cfg.Server.GRPCAddr != "" {
		s.grpcLis, err = net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			_ = s.httpLis.Close()
			tracer.Close()
			return nil, fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
		}
		s.grpc = grpc.NewServer(k, tracer, logger.Component("grpc"))
	}

	return s, nil
}

// HTTPAddr returns the bound HTTP address.
func (s *Server) HTTPAddr() string { return s.httpLis.Addr().String() }

// GRPCAddr returns the bound gRPC address, or "" when gRPC is disabled.
func (s *Server) GRPCAddr() string {
	if s.grpcLis == nil {
		return ""
	}
	return s.grpcLis.Addr().String()
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	defer s.tracer.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("HTTP introspection listening", zap.String("addr", s.HTTPAddr()))
		if err := s.http.Serve(s.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	if s.grpc != nil {
		g.Go(func() error {
			return s.grpc.Serve(s.grpcLis)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("Shutting down introspection server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if s.grpc != nil {
			s.grpc.GracefulStop()
		}
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
