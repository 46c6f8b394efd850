package tracing

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/shared/id"
)

var (
	traceMetaKey = strings.ToLower(TraceHeader)
	spanMetaKey  = strings.ToLower(SpanHeader)
)

// HTTPMiddleware creates Gin middleware for HTTP tracing
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithContext(c.Request.Context(),
			id.TraceID(c.GetHeader(TraceHeader)),
			id.SpanID(c.GetHeader(SpanHeader)))

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.path", c.Request.URL.Path)

		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, span.TraceID.String())
		c.Header(SpanHeader, span.SpanID.String())

		c.Next()

		span.SetStatus(c.Writer.Status())
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		span.Finish()
		tracer.Submit(span)
	}
}

// GRPCUnaryInterceptor creates a gRPC unary interceptor for tracing
func GRPCUnaryInterceptor(tracer *Tracer) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			ctx = WithContext(ctx, id.TraceID(first(md, traceMetaKey)), id.SpanID(first(md, spanMetaKey)))
		}

		span, ctx := tracer.StartSpan(ctx, info.FullMethod)
		span.SetTag("rpc.system", "grpc")

		resp, err := handler(ctx, req)

		span.SetStatus(grpcStatus(err))
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
		tracer.Submit(span)

		return resp, err
	}
}

// GRPCClientInterceptor propagates the caller's trace to the server.
func GRPCClientInterceptor(tracer *Tracer) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		span, ctx := tracer.StartSpan(ctx, method)
		span.SetTag("rpc.system", "grpc")
		span.SetTag("span.kind", "client")

		ctx = metadata.AppendToOutgoingContext(ctx,
			traceMetaKey, span.TraceID.String(),
			spanMetaKey, span.SpanID.String(),
		)

		err := invoker(ctx, method, req, reply, cc, opts...)

		span.SetStatus(grpcStatus(err))
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
		tracer.Submit(span)

		return err
	}
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// grpcStatus reports the gRPC status code of a call result.
func grpcStatus(err error) int {
	return int(status.Code(err))
}
