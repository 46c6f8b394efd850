package grpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/codec"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/service"
)

const maxServiceLimit = 1000

// Kernel is the read-only view the service needs.
type Kernel interface {
	Stats() kernel.Stats
	Tasks() []kernel.TaskInfo
	ServiceList(prefix string, limit int) []service.Info
}

// Server exposes a kernel over gRPC.
type Server struct {
	grpc *grpc.Server
	log  *zap.Logger
}

// NewServer builds a gRPC server with the introspection service registered.
// tracer may be nil.
func NewServer(k Kernel, tracer *tracing.Tracer, log *zap.Logger) *Server {
	var opts []grpc.ServerOption
	if tracer != nil {
		opts = append(opts, grpc.UnaryInterceptor(tracing.GRPCUnaryInterceptor(tracer)))
	}

	s := grpc.NewServer(opts...)
	RegisterIntrospectionServer(s, &introspection{kernel: k})
	return &Server{grpc: s, log: log}
}

// Serve accepts connections on lis until Stop or GracefulStop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC introspection listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// GracefulStop waits for in-flight calls, then stops.
func (s *Server) GracefulStop() {
	s.grpc.GracefulStop()
}

type introspection struct {
	kernel Kernel
}

func (i *introspection) Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(i.kernel.Stats())
}

func (i *introspection) Tasks(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	tasks := i.kernel.Tasks()
	return toStruct(map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (i *introspection) Services(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	limit := fields["limit"].GetNumberValue()
	if limit < 0 || limit > maxServiceLimit || limit != math.Trunc(limit) {
		return nil, status.Errorf(codes.InvalidArgument, "limit must be an integer in [0, %d]", maxServiceLimit)
	}

	services := i.kernel.ServiceList(fields["prefix"].GetStringValue(), int(limit))
	return toStruct(map[string]any{"services": services, "count": len(services)})
}

// toStruct converts a JSON-tagged value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	m, err := codec.JSON{}.Unmarshal(data)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return s, nil
}
