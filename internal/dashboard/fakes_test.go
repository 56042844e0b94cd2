package dashboard

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vehiclestatus/internal/domain"
	"vehiclestatus/pkg/statusapi"
)

const waitFor = 2 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// queueDispatcher hands posted work to the test goroutine, which plays the
// role of the loop.
type queueDispatcher struct {
	posted chan func()
}

func newQueueDispatcher() *queueDispatcher {
	return &queueDispatcher{posted: make(chan func(), 16)}
}

func (q *queueDispatcher) Post(fn func()) {
	q.posted <- fn
}

func (q *queueDispatcher) runNext(t *testing.T) {
	t.Helper()
	select {
	case fn := <-q.posted:
		fn()
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for posted work")
	}
}

type rowReply struct {
	env domain.PageEnvelope
	err error
}

type rowCall struct {
	q     statusapi.RowQuery
	reply chan rowReply
}

func (c rowCall) respond(env domain.PageEnvelope, err error) {
	c.reply <- rowReply{env: env, err: err}
}

// gatedRows blocks every FetchRows until the test responds to it.
type gatedRows struct {
	calls chan rowCall
}

func newGatedRows() *gatedRows {
	return &gatedRows{calls: make(chan rowCall, 16)}
}

func (g *gatedRows) FetchRows(ctx context.Context, q statusapi.RowQuery) (domain.PageEnvelope, error) {
	c := rowCall{q: q, reply: make(chan rowReply, 1)}
	g.calls <- c
	select {
	case r := <-c.reply:
		return r.env, r.err
	case <-ctx.Done():
		return domain.PageEnvelope{}, ctx.Err()
	}
}

func (g *gatedRows) next(t *testing.T) rowCall {
	t.Helper()
	select {
	case c := <-g.calls:
		return c
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a row fetch")
		return rowCall{}
	}
}

type statsReply struct {
	stats domain.Statistics
	err   error
}

type gatedStats struct {
	calls chan chan statsReply
}

func newGatedStats() *gatedStats {
	return &gatedStats{calls: make(chan chan statsReply, 16)}
}

func (g *gatedStats) FetchStatistics(ctx context.Context) (domain.Statistics, error) {
	reply := make(chan statsReply, 1)
	g.calls <- reply
	select {
	case r := <-reply:
		return r.stats, r.err
	case <-ctx.Done():
		return domain.Statistics{}, ctx.Err()
	}
}

func (g *gatedStats) next(t *testing.T) chan statsReply {
	t.Helper()
	select {
	case c := <-g.calls:
		return c
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a statistics fetch")
		return nil
	}
}

type countingRefresher struct {
	calls int
}

func (c *countingRefresher) Refresh(context.Context) {
	c.calls++
}

// recordingWidgets implements every widget interface and keeps what it saw.
type recordingWidgets struct {
	mu          sync.Mutex
	renders     []domain.PageEnvelope
	overrides   []StyleOverrides
	stats       []domain.Statistics
	lastUpdated []time.Time
	errs        []error
	opened      int
	closed      int
	details     []string
}

func (w *recordingWidgets) Render(env domain.PageEnvelope, overrides StyleOverrides) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.renders = append(w.renders, env)
	w.overrides = append(w.overrides, overrides)
}

func (w *recordingWidgets) RenderStatistics(stats domain.Statistics) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats = append(w.stats, stats)
}

func (w *recordingWidgets) ShowLastUpdated(at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastUpdated = append(w.lastUpdated, at)
}

func (w *recordingWidgets) ShowError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errs = append(w.errs, err)
}

func (w *recordingWidgets) Open() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opened++
}

func (w *recordingWidgets) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
}

type recordingDetails struct {
	mu   sync.Mutex
	refs []string
}

func (d *recordingDetails) Open(_ context.Context, ref string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs = append(d.refs, ref)
}

func envelopeOf(page, total int, rows ...domain.RowRecord) domain.PageEnvelope {
	if rows == nil {
		rows = []domain.RowRecord{}
	}
	return domain.PageEnvelope{Rows: rows, Page: page, TotalPages: total, TotalRecords: len(rows)}
}

func requireNoPending(t *testing.T, ch <-chan rowCall) {
	t.Helper()
	require.Never(t, func() bool { return len(ch) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}
