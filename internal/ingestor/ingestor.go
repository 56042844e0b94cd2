package ingestor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"vehiclestatus/internal/domain"
	"vehiclestatus/internal/store"
	"vehiclestatus/internal/telemetry"
)

// ErrSubscriptionClosed is returned by Run when the source stops delivering.
var ErrSubscriptionClosed = errors.New("subscription closed")

type Source interface {
	Messages(ctx context.Context) (<-chan *redis.Message, error)
}

type Broadcaster interface {
	Broadcast(deltas []domain.StatusDelta)
}

type Options struct {
	FlushInterval time.Duration
	PruneInterval time.Duration
	Clock         clockwork.Clock
	Metrics       *telemetry.Metrics
}

// Ingestor applies inferred location messages to the store in batches and
// broadcasts the resulting deltas.
type Ingestor struct {
	source      Source
	store       *store.Store
	broadcaster Broadcaster
	clock       clockwork.Clock
	metrics     *telemetry.Metrics
	logger      *slog.Logger

	flushInterval time.Duration
	pruneInterval time.Duration

	pending map[string]*domain.VehicleStatus

	ready   bool
	readyMu sync.RWMutex
}

func New(source Source, store *store.Store, broadcaster Broadcaster, opts Options, logger *slog.Logger) *Ingestor {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNopMetrics()
	}
	return &Ingestor{
		source:        source,
		store:         store,
		broadcaster:   broadcaster,
		clock:         opts.Clock,
		metrics:       opts.Metrics,
		logger:        logger.With("component", "ingestor"),
		flushInterval: opts.FlushInterval,
		pruneInterval: opts.PruneInterval,
		pending:       make(map[string]*domain.VehicleStatus),
	}
}

func (i *Ingestor) Run(ctx context.Context) error {
	messages, err := i.source.Messages(ctx)
	if err != nil {
		return err
	}

	flushTicker := i.clock.NewTicker(i.flushInterval)
	defer flushTicker.Stop()

	pruneTicker := i.clock.NewTicker(i.pruneInterval)
	defer pruneTicker.Stop()

	i.setReady(true)
	defer i.setReady(false)
	i.logger.Info("ingestor ready")

	for {
		select {
		case <-ctx.Done():
			i.flush()
			return nil
		case msg, ok := <-messages:
			if !ok {
				i.flush()
				if ctx.Err() != nil {
					return nil
				}
				return ErrSubscriptionClosed
			}
			i.accept(msg.Payload)
		case <-flushTicker.Chan():
			i.flush()
		case <-pruneTicker.Chan():
			i.prune()
		}
	}
}

func (i *Ingestor) accept(payload string) {
	v, err := decodeMessage([]byte(payload), i.clock.Now())
	if err != nil {
		i.metrics.IngestedTotal.WithLabelValues("invalid").Inc()
		i.logger.Debug("discarding message", "error", err)
		return
	}
	i.metrics.IngestedTotal.WithLabelValues("ok").Inc()

	// Only the latest message per vehicle within a batch matters.
	i.pending[v.VehicleID] = v
}

func (i *Ingestor) flush() {
	if len(i.pending) == 0 {
		return
	}

	batch := make([]*domain.VehicleStatus, 0, len(i.pending))
	for _, v := range i.pending {
		batch = append(batch, v)
	}
	clear(i.pending)

	deltas := i.store.Update(batch)
	if i.broadcaster != nil {
		i.broadcaster.Broadcast(deltas)
	}

	i.logger.Debug("batch applied",
		"messages", len(batch),
		"deltas", len(deltas),
		"total", i.store.Count(),
	)
}

func (i *Ingestor) prune() {
	deltas := i.store.PruneStale()
	if len(deltas) > 0 {
		if i.broadcaster != nil {
			i.broadcaster.Broadcast(deltas)
		}
		i.logger.Info("pruned stale vehicles", "count", len(deltas))
	}
}

func (i *Ingestor) IsReady() bool {
	i.readyMu.RLock()
	defer i.readyMu.RUnlock()
	return i.ready
}

func (i *Ingestor) setReady(ready bool) {
	i.readyMu.Lock()
	defer i.readyMu.Unlock()
	i.ready = ready
}

// inferredLocationMessage is the JSON published by the inference pipeline
type inferredLocationMessage struct {
	VehicleID           string            `json:"vehicleId"`
	DepotID             string            `json:"depotId"`
	InferredRouteID     string            `json:"inferredRouteId"`
	InferredDirectionID string            `json:"inferredDirectionId"`
	InferredPhase       string            `json:"inferredPhase"`
	InferredHeadsign    string            `json:"inferredTripHeadsign"`
	InferredDSC         domain.FlexString `json:"inferredDestinationSignCode"`
	ObservedDSC         domain.FlexString `json:"lastObservedDestinationSignCode"`
	Emergency           bool              `json:"emergencyFlag"`
	InferenceIsFormal   bool              `json:"inferenceIsFormal"`
	PulloutTime         int64             `json:"pulloutTime"`
	PullinTime          int64             `json:"pullinTime"`
	RecordTimestamp     int64             `json:"recordTimestamp"`
}

func decodeMessage(data []byte, now time.Time) (*domain.VehicleStatus, error) {
	var m inferredLocationMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding inferred location: %w", err)
	}
	if strings.TrimSpace(m.VehicleID) == "" {
		return nil, errors.New("inferred location without vehicle id")
	}

	ts := now
	if m.RecordTimestamp > 0 {
		ts = time.UnixMilli(m.RecordTimestamp)
	}

	return &domain.VehicleStatus{
		VehicleID:           strings.TrimSpace(m.VehicleID),
		Depot:               strings.TrimSpace(m.DepotID),
		Route:               m.InferredRouteID,
		InferredState:       strings.ToUpper(m.InferredPhase),
		InferredDestination: destination(m),
		InferredDSC:         m.InferredDSC.String(),
		ObservedDSC:         m.ObservedDSC.String(),
		Emergency:           m.Emergency,
		FormalInference:     m.InferenceIsFormal,
		PulloutTime:         fromMillis(m.PulloutTime),
		PullinTime:          fromMillis(m.PullinTime),
		Timestamp:           ts,
	}, nil
}

// destination renders "<dsc>: <route> <direction>" leaving out missing parts.
func destination(m inferredLocationMessage) string {
	var route []string
	for _, part := range []string{m.InferredRouteID, m.InferredDirectionID, m.InferredHeadsign} {
		if part = strings.TrimSpace(part); part != "" {
			route = append(route, part)
		}
	}
	joined := strings.Join(route, " ")

	dsc := strings.TrimSpace(m.InferredDSC.String())
	switch {
	case dsc == "":
		return joined
	case joined == "":
		return dsc
	default:
		return dsc + ": " + joined
	}
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
