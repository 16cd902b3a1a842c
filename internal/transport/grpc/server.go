// Package grpc serves the standard gRPC health protocol for the process.
package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewServer builds a gRPC server with the default deadline and call logging.
func NewServer(requestTimeout time.Duration, log *slog.Logger) *grpc.Server {
	if log == nil {
		log = slog.Default()
	}
	return grpc.NewServer(grpc.ChainUnaryInterceptor(
		loggingInterceptor(log.With(slog.String("component", "transport.grpc"))),
		defaultRequestTimeoutInterceptor(requestTimeout),
	))
}

func defaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

func loggingInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		attrs := []any{
			slog.String("rpc", info.FullMethod),
			slog.String("code", code.String()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		switch code {
		case codes.OK, codes.NotFound:
			log.Debug("grpc call", attrs...)
		case codes.Internal, codes.Unknown, codes.DataLoss:
			log.Error("grpc call failed", append(attrs, slog.Any("err", err))...)
		default:
			log.Warn("grpc call rejected", append(attrs, slog.Any("err", err))...)
		}
		return resp, err
	}
}

// Shutdown stops the server gracefully, forcing it after timeout.
func Shutdown(log *slog.Logger, s *grpc.Server, timeout time.Duration) {
	log.Info("shutting down grpc server", slog.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-timer.C:
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}
