package dashboard

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"vehiclestatus/internal/domain"
	"vehiclestatus/pkg/statusapi"
)

type Fetcher interface {
	RowFetcher
	StatisticsFetcher
}

type Deps struct {
	Fetcher Fetcher
	Grid    GridWidget
	Summary SummaryWidget
	Status  StatusWidget
	Dialog  DialogWidget
	Details DetailsView
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

type Options struct {
	PageSize               int
	Sort                   statusapi.SortSpec
	RefreshIntervalSeconds int
	AutoRefresh            bool
	FetchTimeout           time.Duration
	SkipInitialLoad        bool
	QueueSize              int
}

// State is a point-in-time view of the whole dashboard
type State struct {
	Grid           GridSnapshot
	Statistics     domain.Statistics
	StatisticsErr  error
	Filters        FilterState
	AutoRefresh    bool
	RefreshSeconds int
}

// Dashboard wires the filter state, scheduler and controllers around one
// loop. Operator actions are safe to call from any goroutine except the loop
// itself; each returns once the action has been applied.
type Dashboard struct {
	loop      *Loop
	filters   *FilterState
	scheduler *RefreshScheduler
	grid      *GridController
	stats     *StatisticsController
	dialog    DialogWidget
	details   DetailsView
	logger    *slog.Logger
	opts      Options

	// Loop-owned.
	ctx            context.Context
	refreshSeconds int

	// Ticks numbered at or below ticksCleared are dropped when they reach
	// the loop.
	ticksIssued  atomic.Uint64
	ticksCleared atomic.Uint64
}

func New(deps Deps, opts Options) (*Dashboard, error) {
	if opts.RefreshIntervalSeconds <= 0 {
		return nil, &ConfigError{Field: "refresh interval", Value: opts.RefreshIntervalSeconds}
	}
	if opts.PageSize <= 0 {
		return nil, &ConfigError{Field: "page size", Value: opts.PageSize}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Dialog == nil {
		deps.Dialog = nopDialog{}
	}
	if deps.Details == nil {
		deps.Details = nopDetails{}
	}

	loop := NewLoop(opts.QueueSize, deps.Logger)
	filters := NewFilterState()
	stats := NewStatisticsController(deps.Fetcher, loop, deps.Summary, deps.Status, opts.FetchTimeout, deps.Logger)
	grid := NewGridController(deps.Fetcher, filters, stats, loop, GridOptions{
		PageSize:     opts.PageSize,
		Sort:         opts.Sort,
		FetchTimeout: opts.FetchTimeout,
		Clock:        deps.Clock,
		Widget:       deps.Grid,
		Status:       deps.Status,
		Logger:       deps.Logger,
	})

	return &Dashboard{
		loop:           loop,
		filters:        filters,
		scheduler:      NewRefreshScheduler(deps.Clock),
		grid:           grid,
		stats:          stats,
		dialog:         deps.Dialog,
		details:        deps.Details,
		logger:         deps.Logger.With("component", "dashboard"),
		opts:           opts,
		ctx:            context.Background(),
		refreshSeconds: opts.RefreshIntervalSeconds,
	}, nil
}

// Run performs the initial load, then processes events until ctx is done.
func (d *Dashboard) Run(ctx context.Context) {
	d.ctx = ctx

	if !d.opts.SkipInitialLoad {
		d.grid.RequestReload(ctx, false)
	}
	if d.opts.AutoRefresh {
		if err := d.enableAutoRefresh(); err != nil {
			d.logger.Error("failed to enable auto refresh", "error", err)
		}
	}

	d.logger.Info("dashboard running",
		"auto_refresh", d.scheduler.Enabled(),
		"refresh_seconds", d.refreshSeconds,
		"page_size", d.opts.PageSize,
	)

	d.loop.Run(ctx)
	d.scheduler.Stop()

	d.logger.Info("dashboard stopped")
}

func (d *Dashboard) UpdateFilters(ctx context.Context, fn func(*FilterState)) error {
	return d.loop.Call(ctx, func() {
		fn(d.filters)
	})
}

func (d *Dashboard) Search(ctx context.Context) error {
	return d.loop.Call(ctx, func() {
		d.grid.Search(d.ctx)
	})
}

func (d *Dashboard) Reset(ctx context.Context) error {
	return d.loop.Call(ctx, func() {
		d.grid.Reset(d.ctx)
	})
}

// ManualRefresh resets the filters and reloads page one, discarding any
// timer-driven reloads that are queued but not yet started. Auto refresh
// stays as it is.
func (d *Dashboard) ManualRefresh(ctx context.Context) error {
	d.clearTickDebt()
	return d.loop.Call(ctx, func() {
		d.grid.Reset(d.ctx)
	})
}

func (d *Dashboard) SetAutoRefresh(ctx context.Context, enabled bool) error {
	var err error
	callErr := d.loop.Call(ctx, func() {
		if enabled {
			err = d.enableAutoRefresh()
			return
		}
		d.disableAutoRefresh()
	})
	if callErr != nil {
		return callErr
	}
	return err
}

func (d *Dashboard) OpenRefreshDialog(ctx context.Context) error {
	return d.loop.Call(ctx, func() {
		d.dialog.Open()
	})
}

// SetRefreshRate changes the auto refresh interval. A running timer is
// replaced so the new rate applies immediately.
func (d *Dashboard) SetRefreshRate(ctx context.Context, seconds int) error {
	var err error
	callErr := d.loop.Call(ctx, func() {
		if seconds <= 0 {
			err = &ConfigError{Field: "refresh interval", Value: seconds}
			return
		}
		d.refreshSeconds = seconds
		d.dialog.Close()
		if d.scheduler.Enabled() {
			err = d.startScheduler()
		}
	})
	if callErr != nil {
		return callErr
	}
	return err
}

func (d *Dashboard) GotoPage(ctx context.Context, page int) error {
	return d.loop.Call(ctx, func() {
		d.grid.GotoPage(d.ctx, page)
	})
}

func (d *Dashboard) SortBy(ctx context.Context, sort statusapi.SortSpec) error {
	return d.loop.Call(ctx, func() {
		d.grid.SortBy(d.ctx, sort)
	})
}

func (d *Dashboard) OpenDetails(ctx context.Context, detailsRef string) error {
	return d.loop.Call(ctx, func() {
		d.details.Open(d.ctx, detailsRef)
	})
}

func (d *Dashboard) Snapshot(ctx context.Context) (State, error) {
	var s State
	err := d.loop.Call(ctx, func() {
		stats, statsErr := d.stats.Current()
		s = State{
			Grid:           d.grid.Snapshot(),
			Statistics:     stats,
			StatisticsErr:  statsErr,
			Filters:        *d.filters,
			AutoRefresh:    d.scheduler.Enabled(),
			RefreshSeconds: d.refreshSeconds,
		}
	})
	return s, err
}

func (d *Dashboard) enableAutoRefresh() error {
	if d.scheduler.Enabled() {
		return nil
	}
	if err := d.startScheduler(); err != nil {
		return err
	}
	d.grid.ResetPage()
	d.logger.Info("auto refresh enabled", "refresh_seconds", d.refreshSeconds)
	return nil
}

func (d *Dashboard) disableAutoRefresh() {
	d.scheduler.Stop()
	d.clearTickDebt()
	d.logger.Info("auto refresh disabled")
}

func (d *Dashboard) startScheduler() error {
	return d.scheduler.Start(d.refreshSeconds, func() {
		n := d.ticksIssued.Add(1)
		if !d.loop.TryPost(func() { d.handleTick(n) }) {
			d.logger.Debug("dropping refresh tick, queue full", "tick", n)
		}
	})
}

func (d *Dashboard) handleTick(n uint64) {
	if n <= d.ticksCleared.Load() {
		d.logger.Debug("discarding cleared refresh tick", "tick", n)
		return
	}
	d.grid.RequestReload(d.ctx, false)
}

func (d *Dashboard) clearTickDebt() {
	issued := d.ticksIssued.Load()
	for {
		cleared := d.ticksCleared.Load()
		if cleared >= issued || d.ticksCleared.CompareAndSwap(cleared, issued) {
			return
		}
	}
}
