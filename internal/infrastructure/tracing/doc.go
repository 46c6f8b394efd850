/*
Package tracing records request spans for the kernel's introspection surfaces.

# Overview

Every HTTP and gRPC introspection request gets a span. Spans carry a trace ID
that callers may propagate between the two surfaces, so a dashboard request
that fans out to the gRPC endpoint shows up as one trace in the logs. Completed
spans are handed to a buffered collector and written through zap; when the
buffer is full the span is dropped with a warning instead of blocking the
request.

# Usage

	tracer := tracing.New("kerneld", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	server := grpc.NewServer(
		grpc.UnaryInterceptor(tracing.GRPCUnaryInterceptor(tracer)),
	)

	conn, err := grpc.NewClient(addr,
		grpc.WithUnaryInterceptor(tracing.GRPCClientInterceptor(tracer)),
	)

# Propagation

HTTP uses the X-Trace-ID and X-Span-ID headers; gRPC uses the lower-case
metadata keys x-trace-id and x-span-id.
*/
package tracing
