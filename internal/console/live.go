package console

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"vehiclestatus/internal/domain"
)

type Watcher interface {
	Watch(ctx context.Context, depots []string, fn func(domain.LiveUpdate)) error
}

// LiveFeed follows the server's status stream so the summary and the live
// change line move between polls. A dropped stream is retried after retry.
type LiveFeed struct {
	watcher Watcher
	view    *View
	clock   clockwork.Clock
	retry   time.Duration
	logger  *slog.Logger

	// only touched from Run's goroutine
	down bool
}

func NewLiveFeed(w Watcher, view *View, clock clockwork.Clock, retry time.Duration, logger *slog.Logger) *LiveFeed {
	return &LiveFeed{
		watcher: w,
		view:    view,
		clock:   clock,
		retry:   retry,
		logger:  logger.With("component", "live"),
	}
}

// Run follows the stream until ctx is done.
func (f *LiveFeed) Run(ctx context.Context) {
	for {
		err := f.watcher.Watch(ctx, nil, f.apply)
		if ctx.Err() != nil {
			return
		}

		f.logger.Warn("live feed disconnected", "error", err, "retry_in", f.retry)
		f.down = true
		f.view.ShowLiveStatus("live feed disconnected, retrying every " + f.retry.String())

		select {
		case <-ctx.Done():
			return
		case <-f.clock.After(f.retry):
		}
	}
}

func (f *LiveFeed) apply(u domain.LiveUpdate) {
	if f.down {
		f.down = false
		f.view.ShowLiveStatus("")
		f.logger.Info("live feed reconnected")
	}
	if u.Statistics != nil {
		f.view.RenderStatistics(*u.Statistics)
	}
	if !u.Changes.Empty() {
		f.view.ShowChanges(*u.Changes)
	}
}
