package dashboard

import (
	"context"
	"log/slog"
	"time"

	"vehiclestatus/internal/domain"
)

type StatisticsFetcher interface {
	FetchStatistics(ctx context.Context) (domain.Statistics, error)
}

// StatisticsController keeps the last known summary counters. A failed
// refresh leaves them as they were.
type StatisticsController struct {
	fetcher  StatisticsFetcher
	dispatch Dispatcher
	widget   SummaryWidget
	status   StatusWidget
	timeout  time.Duration
	logger   *slog.Logger

	seq     uint64
	current domain.Statistics
	loaded  bool
	lastErr error
}

func NewStatisticsController(fetcher StatisticsFetcher, dispatch Dispatcher, widget SummaryWidget, status StatusWidget, timeout time.Duration, logger *slog.Logger) *StatisticsController {
	if widget == nil {
		widget = nopSummary{}
	}
	if status == nil {
		status = nopStatus{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatisticsController{
		fetcher:  fetcher,
		dispatch: dispatch,
		widget:   widget,
		status:   status,
		timeout:  timeout,
		logger:   logger.With("component", "statistics_controller"),
	}
}

// Refresh fetches the counters in the background. Must run on the loop.
func (c *StatisticsController) Refresh(ctx context.Context) {
	c.seq++
	seq := c.seq

	fetcher, dispatch, timeout := c.fetcher, c.dispatch, c.timeout
	go func() {
		fetchCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		stats, err := fetcher.FetchStatistics(fetchCtx)
		cancel()

		dispatch.Post(func() {
			c.apply(seq, stats, err)
		})
	}()
}

func (c *StatisticsController) apply(seq uint64, stats domain.Statistics, err error) {
	if seq != c.seq {
		c.logger.Debug("discarding superseded statistics", "seq", seq, "latest", c.seq)
		return
	}

	if err != nil {
		c.lastErr = err
		c.logger.Warn("statistics refresh failed", "error", err)
		c.status.ShowError(err)
		return
	}

	c.current = stats
	c.loaded = true
	c.lastErr = nil
	c.widget.RenderStatistics(stats)
}

// Current returns the last known counters and the error from the most recent
// refresh, if it failed.
func (c *StatisticsController) Current() (domain.Statistics, error) {
	return c.current, c.lastErr
}

// Loaded reports whether any refresh has succeeded yet.
func (c *StatisticsController) Loaded() bool {
	return c.loaded
}
