package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified introspection service name.
const ServiceName = "microkernel.v1.Introspection"

const (
	MethodStats    = "/" + ServiceName + "/Stats"
	MethodTasks    = "/" + ServiceName + "/Tasks"
	MethodServices = "/" + ServiceName + "/Services"
)

// IntrospectionServer is the server API for the introspection service.
type IntrospectionServer interface {
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Tasks(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Services(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IntrospectionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Stats", IntrospectionServer.Stats),
		unary("Tasks", IntrospectionServer.Tasks),
		unary("Services", IntrospectionServer.Services),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "microkernel/v1/introspection",
}

// RegisterIntrospectionServer registers srv on s.
func RegisterIntrospectionServer(s grpc.ServiceRegistrar, srv IntrospectionServer) {
	s.RegisterService(&serviceDesc, srv)
}

// unary builds the method handler protoc would otherwise generate.
func unary[Req any](name string, call func(IntrospectionServer, context.Context, *Req) (*structpb.Struct, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(IntrospectionServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}
