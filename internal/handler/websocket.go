package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"vehiclestatus/internal/hub"
	"vehiclestatus/internal/telemetry"
)

// StreamHandler pushes live statistics and change summaries to dashboards
// between their polls. Clients choose depots with repeated depot query
// parameters; none selects every depot. The stream is one-way: any data frame
// from the client closes it.
type StreamHandler struct {
	hub          *hub.Hub
	metrics      *telemetry.Metrics
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
}

func NewStreamHandler(h *hub.Hub, metrics *telemetry.Metrics, logger *slog.Logger) *StreamHandler {
	if metrics == nil {
		metrics = telemetry.NewNopMetrics()
	}
	return &StreamHandler{
		hub:          h,
		metrics:      metrics,
		pingInterval: 30 * time.Second,
		writeTimeout: 5 * time.Second,
		logger:       logger.With("component", "stream"),
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	depots := hub.NormalizeTopics(r.URL.Query()["depot"])

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("stream upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	sub := h.hub.Subscribe(uuid.NewString(), depots)
	defer h.hub.Unsubscribe(sub)

	logger := h.logger.With("client_id", sub.ID)
	logger.Debug("stream opened", "depots", depots)

	ctx := conn.CloseRead(r.Context())
	status, err := h.pump(ctx, conn, sub)
	if err != nil {
		logger.Debug("stream ended", "error", err)
	}
	conn.Close(status, "")
}

// pump writes every update the subscriber collects and keeps the connection
// alive with pings until the client leaves or the hub drops the subscriber.
func (h *StreamHandler) pump(ctx context.Context, conn *websocket.Conn, sub *hub.Subscriber) (websocket.StatusCode, error) {
	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return websocket.StatusNormalClosure, ctx.Err()

		case <-sub.Done():
			return websocket.StatusGoingAway, nil

		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return websocket.StatusGoingAway, err
			}

		case <-sub.Ready():
			u, ok := sub.Take()
			if !ok {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
			err := wsjson.Write(writeCtx, conn, u)
			cancel()
			if err != nil {
				return websocket.StatusInternalError, err
			}
			h.metrics.StreamMessagesSent.Inc()
		}
	}
}
