// Package grpc serves and consumes the kernel introspection service over gRPC.
//
// The service carries google.protobuf.Struct and google.protobuf.Empty
// messages, so it needs no generated code: the ServiceDesc is written by hand
// and both ends agree on the method names below.
//
//	/microkernel.v1.Introspection/Stats     Empty  -> Struct (kernel.Stats)
//	/microkernel.v1.Introspection/Tasks     Empty  -> Struct {"tasks", "count"}
//	/microkernel.v1.Introspection/Services  Struct {"prefix", "limit"} -> Struct {"services", "count"}
//
// Example Usage:
//
//	srv := grpc.NewServer(k, tracer, log)
//	go srv.Serve(lis)
//	defer srv.GracefulStop()
//
//	client, err := grpc.NewClient("127.0.0.1:9090")
//	stats, err := client.Stats(ctx)
package grpc
