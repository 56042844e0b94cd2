package hub

import (
	"context"
	"log/slog"
	"sync"

	"vehiclestatus/internal/domain"
	"vehiclestatus/internal/telemetry"
)

// StatisticsSource supplies the counters attached to every published frame.
type StatisticsSource interface {
	Statistics() domain.Statistics
}

// Hub turns the ingestor's delta batches into per-subscriber live updates:
// current statistics plus a summary of the changes in the subscriber's depots.
type Hub struct {
	stats   StatisticsSource
	batches chan []domain.StatusDelta

	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	closed bool

	metrics *telemetry.Metrics
	logger  *slog.Logger
}

func NewHub(stats StatisticsSource, metrics *telemetry.Metrics, logger *slog.Logger) *Hub {
	if metrics == nil {
		metrics = telemetry.NewNopMetrics()
	}
	return &Hub{
		stats:   stats,
		batches: make(chan []domain.StatusDelta, 256),
		subs:    make(map[*Subscriber]struct{}),
		metrics: metrics,
		logger:  logger.With("component", "hub"),
	}
}

// Run publishes queued batches until ctx is done, then drops every
// subscriber.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case deltas := <-h.batches:
			h.publish(deltas)
		}
	}
}

// Broadcast queues a batch without blocking the ingestor.
func (h *Hub) Broadcast(deltas []domain.StatusDelta) {
	if len(deltas) == 0 {
		return
	}
	select {
	case h.batches <- deltas:
	default:
		h.logger.Warn("publish queue full, dropping batch", "deltas", len(deltas))
	}
}

// Subscribe registers a consumer for depots (all depots when empty) and
// primes it with the current statistics.
func (h *Hub) Subscribe(id string, depots []string) *Subscriber {
	sub := newSubscriber(id, depots)
	stats := h.stats.Statistics()
	sub.offer(domain.LiveUpdate{Statistics: &stats})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.close()
		return sub
	}
	h.subs[sub] = struct{}{}
	h.metrics.StreamConnections.Inc()
	h.logger.Debug("subscriber added", "client_id", id, "depots", sub.Depots(), "total", len(h.subs))
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	sub.close()
	h.metrics.StreamConnections.Dec()
	h.logger.Debug("subscriber removed", "client_id", sub.ID, "total", len(h.subs))
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) publish(deltas []domain.StatusDelta) {
	stats := h.stats.Statistics()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		u := domain.LiveUpdate{Statistics: &stats}
		var changes domain.ChangeSummary
		for _, d := range deltas {
			if sub.wants(d.Depot) {
				changes.Add(d)
			}
		}
		if !changes.Empty() {
			u.Changes = &changes
		}
		sub.offer(u)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.close()
		h.metrics.StreamConnections.Dec()
	}
	clear(h.subs)
	h.closed = true
}
