package grpcx

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/md-rashed-zaman/visitbook/libs/httpx"
)

// UnaryClientRequestIDInterceptor forwards the request id of an HTTP request
// (or of an enclosing gRPC call) in outgoing metadata.
func UnaryClientRequestIDInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(outgoingRequestID(ctx), method, req, reply, cc, opts...)
	}
}

func outgoingRequestID(ctx context.Context) context.Context {
	id := httpx.RequestIDFromContext(ctx)
	if id == "" {
		id = RequestIDFromContext(ctx)
	}
	if id == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, RequestIDMetadataKey, id)
}

// UnaryServerRequestIDInterceptor stores the caller's request id (or a new
// one) on the context and echoes it in the response header.
func UnaryServerRequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := incomingRequestID(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDMetadataKey, id))
		return handler(WithRequestID(ctx, id), req)
	}
}

type requestIDStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *requestIDStream) Context() context.Context { return s.ctx }

// StreamServerRequestIDInterceptor does the same for streams such as health Watch.
func StreamServerRequestIDInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		id := incomingRequestID(ss.Context())
		_ = ss.SetHeader(metadata.Pairs(RequestIDMetadataKey, id))
		return handler(srv, &requestIDStream{ServerStream: ss, ctx: WithRequestID(ss.Context(), id)})
	}
}
