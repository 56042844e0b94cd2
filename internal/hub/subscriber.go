package hub

import (
	"slices"
	"sync"

	"vehiclestatus/internal/domain"
)

// Subscriber is one stream consumer. Updates offered while it is busy are
// coalesced: change counts add up and the newest statistics win, so a slow
// reader falls behind without losing changes.
type Subscriber struct {
	ID     string
	depots map[string]struct{}

	mu      sync.Mutex
	pending domain.LiveUpdate
	waiting bool

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(id string, depots []string) *Subscriber {
	s := &Subscriber{
		ID:     id,
		depots: make(map[string]struct{}),
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, d := range NormalizeTopics(depots) {
		if d == AllDepots {
			clear(s.depots)
			break
		}
		s.depots[d] = struct{}{}
	}
	return s
}

// Depots lists the subscribed depots; nil means every depot.
func (s *Subscriber) Depots() []string {
	if len(s.depots) == 0 {
		return nil
	}
	depots := make([]string, 0, len(s.depots))
	for d := range s.depots {
		depots = append(depots, d)
	}
	slices.Sort(depots)
	return depots
}

func (s *Subscriber) wants(depot string) bool {
	if len(s.depots) == 0 {
		return true
	}
	_, ok := s.depots[Topic(depot)]
	return ok
}

func (s *Subscriber) offer(u domain.LiveUpdate) {
	s.mu.Lock()
	if u.Statistics != nil {
		stats := *u.Statistics
		s.pending.Statistics = &stats
		s.waiting = true
	}
	if !u.Changes.Empty() {
		if s.pending.Changes == nil {
			s.pending.Changes = &domain.ChangeSummary{}
		}
		s.pending.Changes.Merge(*u.Changes)
		s.waiting = true
	}
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Ready receives a signal whenever Take has something to return.
func (s *Subscriber) Ready() <-chan struct{} {
	return s.ready
}

// Take hands over everything offered since the last call.
func (s *Subscriber) Take() (domain.LiveUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.waiting {
		return domain.LiveUpdate{}, false
	}
	u := s.pending
	s.pending = domain.LiveUpdate{}
	s.waiting = false
	return u, true
}

// Done is closed once the hub drops the subscriber.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
