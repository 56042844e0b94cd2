package handler

import (
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"vehiclestatus/internal/store"
)

// ReadinessChecker reports whether live data is flowing.
type ReadinessChecker interface {
	IsReady() bool
}

type HealthHandler struct {
	ingestor ReadinessChecker
	store    *store.Store
	clock    clockwork.Clock
}

func NewHealthHandler(ing ReadinessChecker, s *store.Store, clock clockwork.Clock) *HealthHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HealthHandler{
		ingestor: ing,
		store:    s,
		clock:    clock,
	}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready        bool      `json:"ready"`
	VehicleCount int       `json:"vehicleCount"`
	ServerTime   time.Time `json:"serverTime"`
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ready := h.ingestor.IsReady()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, ReadyResponse{
		Ready:        ready,
		VehicleCount: h.store.Count(),
		ServerTime:   h.clock.Now(),
	})
}
