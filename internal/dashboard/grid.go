package dashboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"vehiclestatus/internal/domain"
	"vehiclestatus/pkg/statusapi"
)

type RowFetcher interface {
	FetchRows(ctx context.Context, q statusapi.RowQuery) (domain.PageEnvelope, error)
}

type StatisticsRefresher interface {
	Refresh(ctx context.Context)
}

type GridState int

const (
	GridIdle GridState = iota
	GridLoading
	GridLoadedOk
	GridLoadedError
)

func (s GridState) String() string {
	switch s {
	case GridIdle:
		return "idle"
	case GridLoading:
		return "loading"
	case GridLoadedOk:
		return "loaded"
	case GridLoadedError:
		return "error"
	default:
		return "unknown"
	}
}

// GridSnapshot is a copy of the grid's observable state
type GridSnapshot struct {
	State       GridState
	Envelope    domain.PageEnvelope
	Highlights  []Highlight
	Page        int
	Sort        statusapi.SortSpec
	Err         error
	LastUpdated time.Time
	Issued      uint64
}

type GridOptions struct {
	PageSize     int
	Sort         statusapi.SortSpec
	FetchTimeout time.Duration
	Clock        clockwork.Clock
	Widget       GridWidget
	Status       StatusWidget
	Logger       *slog.Logger
}

// GridController drives grid reloads. All methods must run on the loop
// behind dispatch; fetches run elsewhere and post their results back.
type GridController struct {
	fetcher  RowFetcher
	filters  *FilterState
	stats    StatisticsRefresher
	dispatch Dispatcher

	pageSize     int
	fetchTimeout time.Duration
	clock        clockwork.Clock
	widget       GridWidget
	status       StatusWidget
	logger       *slog.Logger

	state       GridState
	seq         uint64
	page        int
	sort        statusapi.SortSpec
	envelope    domain.PageEnvelope
	highlights  []Highlight
	lastErr     error
	lastUpdated time.Time
}

func NewGridController(fetcher RowFetcher, filters *FilterState, stats StatisticsRefresher, dispatch Dispatcher, opts GridOptions) *GridController {
	g := &GridController{
		fetcher:      fetcher,
		filters:      filters,
		stats:        stats,
		dispatch:     dispatch,
		pageSize:     opts.PageSize,
		fetchTimeout: opts.FetchTimeout,
		clock:        opts.Clock,
		widget:       opts.Widget,
		status:       opts.Status,
		logger:       opts.Logger,
		page:         1,
		sort:         opts.Sort,
		envelope:     domain.PageEnvelope{Rows: []domain.RowRecord{}},
	}
	if g.clock == nil {
		g.clock = clockwork.NewRealClock()
	}
	if g.widget == nil {
		g.widget = nopGrid{}
	}
	if g.status == nil {
		g.status = nopStatus{}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.logger = g.logger.With("component", "grid_controller")
	return g
}

// RequestReload issues a fetch for the current page using a snapshot of the
// filters taken now. A reload issued while another is in flight supersedes
// it: only the most recently issued request's result is applied.
func (g *GridController) RequestReload(ctx context.Context, resetPage bool) uint64 {
	if resetPage {
		g.page = 1
	}

	g.seq++
	seq := g.seq
	q := statusapi.RowQuery{
		Filters:  g.filters.ToQueryParams(),
		Page:     g.page,
		PageSize: g.pageSize,
		Sort:     g.sort,
	}

	g.logger.Debug("reload requested",
		"seq", seq,
		"page", q.Page,
		"superseding", g.state == GridLoading,
	)
	g.state = GridLoading

	fetcher, dispatch, timeout := g.fetcher, g.dispatch, g.fetchTimeout
	go func() {
		fetchCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			fetchCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		env, err := fetcher.FetchRows(fetchCtx, q)
		cancel()

		dispatch.Post(func() {
			g.complete(ctx, seq, env, err)
		})
	}()

	return seq
}

func (g *GridController) complete(ctx context.Context, seq uint64, env domain.PageEnvelope, err error) {
	if seq != g.seq {
		g.logger.Debug("discarding superseded result", "seq", seq, "latest", g.seq)
		return
	}

	if err != nil {
		g.state = GridLoadedError
		g.lastErr = err
		g.logger.Warn("grid reload failed", "seq", seq, "error", err)
		g.status.ShowError(err)
		return
	}

	if env.Rows == nil {
		env.Rows = []domain.RowRecord{}
	}
	g.envelope = env
	if env.Page > 0 {
		g.page = env.Page
	}
	g.highlights = HighlightRows(env.Rows)
	g.state = GridLoadedOk
	g.lastErr = nil
	g.lastUpdated = g.clock.Now()

	g.logger.Debug("grid reloaded",
		"seq", seq,
		"page", env.Page,
		"rows", len(env.Rows),
		"records", env.TotalRecords,
	)

	g.widget.Render(env, Styles(g.highlights))
	g.status.ShowLastUpdated(g.lastUpdated)

	if g.stats != nil {
		g.stats.Refresh(ctx)
	}
}

// Search reloads from page one with the filters as they are now.
func (g *GridController) Search(ctx context.Context) uint64 {
	return g.RequestReload(ctx, true)
}

// Reset clears all filters and reloads from page one.
func (g *GridController) Reset(ctx context.Context) uint64 {
	g.filters.Reset()
	return g.RequestReload(ctx, true)
}

// GotoPage reloads page n, clamped to the pages the last envelope reported.
func (g *GridController) GotoPage(ctx context.Context, n int) uint64 {
	if total := g.envelope.TotalPages; total > 0 && n > total {
		n = total
	}
	if n < 1 {
		n = 1
	}
	g.page = n
	return g.RequestReload(ctx, false)
}

// SortBy changes the ordering and reloads from page one.
func (g *GridController) SortBy(ctx context.Context, sort statusapi.SortSpec) uint64 {
	g.sort = sort
	return g.RequestReload(ctx, true)
}

// ResetPage makes the next reload start from page one without issuing one.
func (g *GridController) ResetPage() {
	g.page = 1
}

func (g *GridController) Snapshot() GridSnapshot {
	highlights := make([]Highlight, len(g.highlights))
	copy(highlights, g.highlights)
	return GridSnapshot{
		State:       g.state,
		Envelope:    g.envelope,
		Highlights:  highlights,
		Page:        g.page,
		Sort:        g.sort,
		Err:         g.lastErr,
		LastUpdated: g.lastUpdated,
		Issued:      g.seq,
	}
}
