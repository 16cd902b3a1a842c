package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name health clients can query besides the empty
// whole-server name.
const ServiceName = "appointly.v1.Appointments"

type Pinger func(ctx context.Context) error

// Health mirrors the database's reachability into the gRPC health service.
type Health struct {
	srv      *health.Server
	ping     Pinger
	interval time.Duration
	serving  bool
	log      *slog.Logger
}

func NewHealth(ping Pinger, interval time.Duration, log *slog.Logger) *Health {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Health{
		srv:      health.NewServer(),
		ping:     ping,
		interval: interval,
		log:      log.With(slog.String("component", "grpc.health")),
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Probe pings once and publishes the result.
func (h *Health) Probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, h.interval/2)
	defer cancel()

	err := h.ping(ctx)
	switch {
	case err != nil && h.serving:
		h.log.Warn("dependency check failed", slog.Any("err", err))
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	case err == nil && !h.serving:
		h.log.Info("dependencies reachable")
		h.set(healthpb.HealthCheckResponse_SERVING)
	}
}

// Run probes on every interval until ctx ends, then reports NOT_SERVING for good.
func (h *Health) Run(ctx context.Context) error {
	h.Probe(ctx)
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return nil
		case <-t.C:
			h.Probe(ctx)
		}
	}
}

func (h *Health) set(st healthpb.HealthCheckResponse_ServingStatus) {
	h.serving = st == healthpb.HealthCheckResponse_SERVING
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(ServiceName, st)
}
