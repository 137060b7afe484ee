package grpcx

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

type DialOptions struct {
	// Timeout bounds the wait for the connection to become ready. Default 3s.
	Timeout time.Duration
	// TransportCredentials defaults to insecure credentials.
	TransportCredentials grpc.DialOption
}

// Dial creates a traced client connection and waits until it is ready.
func Dial(ctx context.Context, addr string, opts DialOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	creds := opts.TransportCredentials
	if creds == nil {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
	}

	dialOpts := []grpc.DialOption{
		creds,
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(UnaryClientRequestIDInterceptor()),
	}
	dialOpts = append(dialOpts, extra...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return conn, nil
		}
		if !conn.WaitForStateChange(ctx, state) {
			_ = conn.Close()
			return nil, fmt.Errorf("grpc dial %s: %w (last state %s)", addr, ctx.Err(), state)
		}
	}
}
