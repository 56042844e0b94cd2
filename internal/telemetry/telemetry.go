package telemetry

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	FetchSeconds       *prometheus.HistogramVec
	FetchErrorsTotal   *prometheus.CounterVec
	RequestsTotal      *prometheus.CounterVec
	IngestedTotal      *prometheus.CounterVec
	RateLimitedTotal   prometheus.Counter
	StreamConnections  prometheus.Gauge
	StreamMessagesSent prometheus.Counter
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		FetchSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vehiclestatus_fetch_seconds",
				Help:    "Duration of dashboard requests to the vehicle status backend",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		FetchErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vehiclestatus_fetch_errors_total",
				Help: "Failed dashboard requests by endpoint and error kind",
			},
			[]string{"endpoint", "kind"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vehiclestatus_http_requests_total",
				Help: "HTTP requests served by route and status code",
			},
			[]string{"route", "code"},
		),
		IngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vehiclestatus_ingested_messages_total",
				Help: "Inferred location messages consumed by result",
			},
			[]string{"result"},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vehiclestatus_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
		StreamConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vehiclestatus_stream_connections",
				Help: "Open status stream websocket connections",
			},
		),
		StreamMessagesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vehiclestatus_stream_messages_sent_total",
				Help: "Messages written to status stream clients",
			},
		),
	}

	registry.MustRegister(
		metrics.FetchSeconds,
		metrics.FetchErrorsTotal,
		metrics.RequestsTotal,
		metrics.IngestedTotal,
		metrics.RateLimitedTotal,
		metrics.StreamConnections,
		metrics.StreamMessagesSent,
	)

	return metrics
}

// NewNopMetrics returns metrics registered on a throwaway registry.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

type Server struct {
	addr     string
	registry *prometheus.Registry
	server   *http.Server
	logger   *slog.Logger
}

func NewServer(addr string, logger *slog.Logger) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{
		addr:     addr,
		registry: registry,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "telemetry"),
	}
}

func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start listens synchronously and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("telemetry server error", "error", err)
		}
	}()

	s.logger.Info("telemetry server started", "addr", listener.Addr().String())
	return nil
}

func (s *Server) Stop() error {
	return s.server.Close()
}
