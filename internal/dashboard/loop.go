package dashboard

import (
	"context"
	"errors"
	"log/slog"
)

// ErrLoopStopped is returned by Call once the loop has exited.
var ErrLoopStopped = errors.New("dashboard loop stopped")

// Dispatcher runs fn on the dashboard's single logical thread.
type Dispatcher interface {
	Post(fn func())
}

// Loop executes posted closures one at a time in arrival order. Every piece of
// controller state is read and written only from inside the loop.
type Loop struct {
	events  chan func()
	stopped chan struct{}
	logger  *slog.Logger
}

func NewLoop(buffer int, logger *slog.Logger) *Loop {
	return &Loop{
		events:  make(chan func(), buffer),
		stopped: make(chan struct{}),
		logger:  logger.With("component", "dashboard_loop"),
	}
}

func (l *Loop) Run(ctx context.Context) {
	defer close(l.stopped)

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug("loop stopping", "pending", len(l.events))
			return
		case fn := <-l.events:
			fn()
		}
	}
}

// Post blocks until fn is queued. Work posted after the loop stopped is
// dropped.
func (l *Loop) Post(fn func()) {
	select {
	case l.events <- fn:
	case <-l.stopped:
	}
}

// TryPost queues fn only if there is room right now.
func (l *Loop) TryPost(fn func()) bool {
	select {
	case l.events <- fn:
		return true
	default:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish. It must not be used
// from inside the loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case l.events <- wrapped:
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-l.stopped:
		// fn may have been the last thing the loop ran.
		select {
		case <-done:
			return nil
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
