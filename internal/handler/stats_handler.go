package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/jonboulle/clockwork"

	"vehiclestatus/internal/domain"
	"vehiclestatus/internal/middleware"
	"vehiclestatus/internal/store"
)

// ClientCounter reports how many stream clients are connected.
type ClientCounter interface {
	ClientCount() int
}

// ServerStatsHandler reports process-level state for operators. Request and
// stream counters live in the Prometheus metrics instead.
type ServerStatsHandler struct {
	store     *store.Store
	clients   ClientCounter
	limiter   *middleware.RateLimiter
	clock     clockwork.Clock
	startTime time.Time
	version   string
}

func NewServerStatsHandler(s *store.Store, clients ClientCounter, limiter *middleware.RateLimiter, clock clockwork.Clock, version string) *ServerStatsHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ServerStatsHandler{
		store:     s,
		clients:   clients,
		limiter:   limiter,
		clock:     clock,
		startTime: clock.Now(),
		version:   version,
	}
}

type ServerStatsResponse struct {
	Server      ServerInfoResponse `json:"server"`
	Vehicles    domain.Statistics  `json:"vehicles"`
	Stream      StreamResponse     `json:"stream"`
	RateLimiter *middleware.Stats  `json:"rateLimiter,omitempty"`
	Go          GoStatsResponse    `json:"go"`
}

type ServerInfoResponse struct {
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	StartTime     time.Time `json:"start_time"`
	Version       string    `json:"version"`
}

type StreamResponse struct {
	Clients int `json:"clients"`
}

type GoStatsResponse struct {
	Goroutines  int     `json:"goroutines"`
	HeapAlloc   uint64  `json:"heap_alloc_bytes"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
	GoVersion   string  `json:"go_version"`
}

func (h *ServerStatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	uptime := h.clock.Since(h.startTime)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	response := ServerStatsResponse{
		Server: ServerInfoResponse{
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			StartTime:     h.startTime,
			Version:       h.version,
		},
		Vehicles: h.store.Statistics(),
		Go: GoStatsResponse{
			Goroutines:  runtime.NumGoroutine(),
			HeapAlloc:   mem.HeapAlloc,
			HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
			NumGC:       mem.NumGC,
			GoVersion:   runtime.Version(),
		},
	}
	if h.clients != nil {
		response.Stream.Clients = h.clients.ClientCount()
	}
	if h.limiter != nil {
		stats := h.limiter.Stats()
		response.RateLimiter = &stats
	}

	w.Header().Set("Cache-Control", "no-cache")
	respondJSON(w, http.StatusOK, response)
}
