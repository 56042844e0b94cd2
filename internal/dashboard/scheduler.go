package dashboard

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RefreshScheduler owns at most one repeating timer. It knows nothing about
// the grid; each tick only calls the supplied callback.
type RefreshScheduler struct {
	clock clockwork.Clock

	mu       sync.Mutex
	run      *tickRun
	interval time.Duration
}

type tickRun struct {
	clock    clockwork.Clock
	timer    clockwork.Timer
	interval time.Duration
	next     time.Time
	done     chan struct{}

	// fireMu is held while onTick runs so stop can wait out an in-flight
	// callback.
	fireMu  sync.Mutex
	stopped bool
}

func NewRefreshScheduler(clock clockwork.Clock) *RefreshScheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RefreshScheduler{clock: clock}
}

// Start replaces any running timer with one firing every intervalSeconds.
// An invalid interval returns a *ConfigError and leaves the current timer
// untouched. onTick must not call Start or Stop synchronously.
func (s *RefreshScheduler) Start(intervalSeconds int, onTick func()) error {
	if intervalSeconds <= 0 {
		return &ConfigError{Field: "refresh interval", Value: intervalSeconds}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	interval := time.Duration(intervalSeconds) * time.Second
	r := &tickRun{
		clock:    s.clock,
		timer:    s.clock.NewTimer(interval),
		interval: interval,
		next:     s.clock.Now().Add(interval),
		done:     make(chan struct{}),
	}
	s.run = r
	s.interval = interval

	go r.loop(onTick)
	return nil
}

// Stop is idempotent. Once it returns the stopped timer never calls onTick
// again.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *RefreshScheduler) stopLocked() {
	if s.run == nil {
		return
	}
	s.run.stop()
	s.run = nil
	s.interval = 0
}

func (s *RefreshScheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run != nil
}

// Interval is zero while disabled.
func (s *RefreshScheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// loop fires once per deadline that has passed, so a timer that wakes late
// still delivers every tick it owes.
func (r *tickRun) loop(onTick func()) {
	for {
		select {
		case <-r.done:
			return
		case <-r.timer.Chan():
			for now := r.clock.Now(); !r.next.After(now); r.next = r.next.Add(r.interval) {
				if !r.fire(onTick) {
					return
				}
			}
			r.rearm()
		}
	}
}

func (r *tickRun) fire(onTick func()) bool {
	r.fireMu.Lock()
	defer r.fireMu.Unlock()
	if r.stopped {
		return false
	}
	onTick()
	return true
}

func (r *tickRun) rearm() {
	r.fireMu.Lock()
	defer r.fireMu.Unlock()
	if !r.stopped {
		r.timer.Reset(r.clock.Until(r.next))
	}
}

func (r *tickRun) stop() {
	r.fireMu.Lock()
	r.stopped = true
	r.timer.Stop()
	r.fireMu.Unlock()

	close(r.done)
}
