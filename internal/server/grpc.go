// Package server exposes the mirror over gRPC (health and reflection) and
// HTTP/JSON (a grpc-gateway mux serving the query routes), plus the
// Prometheus and probe endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"MarginMirror/internal/observability"
	"MarginMirror/internal/query"
)

// ServiceName is the gRPC health service name tracking scan readiness.
const ServiceName = "marginmirror.Mirror"

type Addrs struct {
	GRPC    string
	HTTP    string
	Metrics string
}

// Server owns the listeners. Each Start method blocks until ctx ends.
type Server struct {
	addrs        Addrs
	grpcServer   *grpc.Server
	healthServer *health.Server
	checker      *observability.HealthChecker
	qs           *query.QueryService
	gatherer     prometheus.Gatherer
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewServer(
	addrs Addrs,
	qs *query.QueryService,
	checker *observability.HealthChecker,
	gatherer prometheus.Gatherer,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		addrs:        addrs,
		grpcServer:   grpcServer,
		healthServer: healthServer,
		checker:      checker,
		qs:           qs,
		gatherer:     gatherer,
		metrics:      metrics,
		log:          log,
	}
}

// HealthServer is exposed for tests and for callers registering more services.
func (s *Server) HealthServer() *health.Server { return s.healthServer }

func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addrs.GRPC)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves on lis and mirrors readiness into the health service.
func (s *Server) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go s.syncReadiness(ctx, time.Second)
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("grpc server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", lis.Addr().String()).Msg("grpc server listening")
	return s.grpcServer.Serve(lis)
}

// syncReadiness polls the checker and flips the named health service.
func (s *Server) syncReadiness(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if s.checker == nil || s.checker.IsReady() {
			st = healthpb.HealthCheckResponse_SERVING
		}
		if st != last {
			s.healthServer.SetServingStatus(ServiceName, st)
			last = st
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) StartHTTP(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	return s.listenAndServe(ctx, "http gateway", s.addrs.HTTP, handler)
}

func (s *Server) StartMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return s.listenAndServe(ctx, "metrics", s.addrs.Metrics, mux)
}

func (s *Server) listenAndServe(ctx context.Context, name, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Str("server", name).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("server", name).Str("addr", addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
