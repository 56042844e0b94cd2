package store

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"vehiclestatus/internal/domain"
)

// Status icons shown in the grid's first column
const (
	IconEmergency = "circle_red_20x20.png"
	IconLagging   = "circle_orange_20x20.png"
	IconReporting = "circle_green_20x20.png"
)

// A vehicle silent for longer than this is flagged in the status column.
const laggingAfter = 2 * time.Minute

// Filter narrows a query. Empty strings and domain.FilterAll match anything.
type Filter struct {
	VehicleID     string
	Route         string
	Depot         string
	DSC           string
	InferredState string
	PulloutStatus string

	EmergencyOnly       bool
	FormalInferenceOnly bool
}

type Query struct {
	Filter   Filter
	Page     int
	PageSize int
	SortBy   string
	SortDesc bool
}

type Store struct {
	mu       sync.RWMutex
	vehicles map[string]*domain.VehicleStatus
	byDepot  map[string]map[string]struct{}
	byRoute  map[string]map[string]struct{}
	byState  map[string]map[string]struct{}

	staleAfter time.Duration
	clock      clockwork.Clock
}

func New(staleAfter time.Duration, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		vehicles:   make(map[string]*domain.VehicleStatus),
		byDepot:    make(map[string]map[string]struct{}),
		byRoute:    make(map[string]map[string]struct{}),
		byState:    make(map[string]map[string]struct{}),
		staleAfter: staleAfter,
		clock:      clock,
	}
}

func (s *Store) Update(vehicles []*domain.VehicleStatus) []domain.StatusDelta {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	deltas := make([]domain.StatusDelta, 0, len(vehicles))

	for _, v := range vehicles {
		if v == nil || v.VehicleID == "" {
			continue
		}
		v.UpdatedAt = now

		existing, exists := s.vehicles[v.VehicleID]
		if exists && !hasChanged(existing, v) {
			existing.UpdatedAt = now
			continue
		}

		if exists {
			s.removeFromAllIndices(existing)
		}
		s.vehicles[v.VehicleID] = v
		s.addToIndices(v)

		deltas = append(deltas, domain.StatusDelta{
			Type:    domain.DeltaUpdate,
			Vehicle: v,
			Key:     v.VehicleID,
			Depot:   v.Depot,
		})
	}

	return deltas
}

func (s *Store) PruneStale() []domain.StatusDelta {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-s.staleAfter)
	var deltas []domain.StatusDelta

	for key, v := range s.vehicles {
		if v.UpdatedAt.Before(cutoff) {
			deltas = append(deltas, domain.StatusDelta{
				Type:  domain.DeltaRemove,
				Key:   key,
				Depot: v.Depot,
			})
			s.removeFromAllIndices(v)
			delete(s.vehicles, key)
		}
	}

	return deltas
}

func (s *Store) Get(vehicleID string) (*domain.VehicleStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[vehicleID]
	if !ok {
		return nil, false
	}
	copy := *v
	return &copy, true
}

// Query filters, sorts and paginates the tracked vehicles into grid rows.
// Pages are 1-based; a page past the end is clamped to the last page.
func (s *Store) Query(q Query) domain.PageEnvelope {
	now := s.clock.Now()

	s.mu.RLock()
	candidates := s.getCandidates(q.Filter)
	matched := make([]*domain.VehicleStatus, 0, len(candidates))
	for key := range candidates {
		v := s.vehicles[key]
		if !q.Filter.matches(v, now) {
			continue
		}
		copy := *v
		matched = append(matched, &copy)
	}
	s.mu.RUnlock()

	sortVehicles(matched, q.SortBy, q.SortDesc, now)

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = len(matched)
	}
	totalPages := 0
	if pageSize > 0 {
		totalPages = (len(matched) + pageSize - 1) / pageSize
	}

	page := q.Page
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}

	rows := make([]domain.RowRecord, 0, pageSize)
	start := (page - 1) * pageSize
	for i := start; i < len(matched) && i < start+pageSize; i++ {
		rows = append(rows, FormatRow(matched[i], now))
	}

	return domain.PageEnvelope{
		Rows:         rows,
		Page:         page,
		TotalPages:   totalPages,
		TotalRecords: len(matched),
	}
}

func (s *Store) Statistics() domain.Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.Statistics{VehiclesTracked: len(s.vehicles)}
	for _, v := range s.vehicles {
		if v.InRevenueService() {
			stats.VehiclesInRevenueService++
		}
		if v.Emergency {
			stats.VehiclesInEmergency++
		}
	}
	return stats
}

// FilterOptions lists the depots and inferred states currently seen, sorted.
func (s *Store) FilterOptions() domain.FilterOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.FilterOptions{
		Depots:          sortedKeys(s.byDepot),
		InferredStates:  sortedKeys(s.byState),
		PulloutStatuses: []string{domain.PulloutNotPulledOut, domain.PulloutPulledOut, domain.PulloutPulledIn},
	}
}

func (s *Store) SnapshotForDepots(depots []string) []*domain.VehicleStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var result []*domain.VehicleStatus

	for _, depot := range depots {
		if keys, ok := s.byDepot[normalize(depot)]; ok {
			for key := range keys {
				if _, exists := seen[key]; exists {
					continue
				}
				seen[key] = struct{}{}
				copy := *s.vehicles[key]
				result = append(result, &copy)
			}
		}
	}
	return result
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vehicles)
}

// FormatRow renders one vehicle the way the grid displays it.
func FormatRow(v *domain.VehicleStatus, now time.Time) domain.RowRecord {
	return domain.RowRecord{
		Status:               statusIcon(v, now),
		VehicleID:            domain.FlexString(v.VehicleID),
		LastUpdate:           formatAge(now.Sub(v.Timestamp)),
		InferredState:        v.InferredState,
		InferredDestination:  v.InferredDestination,
		InferredDSC:          domain.FlexString(v.InferredDSC),
		ObservedDSC:          domain.FlexString(v.ObservedDSC),
		FormattedPulloutTime: formatClock(v.PulloutTime),
		FormattedPullinTime:  formatClock(v.PullinTime),
		DetailsRef:           domain.FlexString(v.VehicleID),
	}
}

func statusIcon(v *domain.VehicleStatus, now time.Time) string {
	switch {
	case v.Emergency:
		return IconEmergency
	case now.Sub(v.Timestamp) > laggingAfter:
		return IconLagging
	default:
		return IconReporting
	}
}

func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d sec", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d min", int(d.Minutes()))
	default:
		return fmt.Sprintf("%d hr", int(d.Hours()))
	}
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("15:04")
}

func (f Filter) matches(v *domain.VehicleStatus, now time.Time) bool {
	if f.VehicleID != "" && !strings.Contains(strings.ToUpper(v.VehicleID), strings.ToUpper(f.VehicleID)) {
		return false
	}
	if f.DSC != "" && v.InferredDSC != f.DSC && v.ObservedDSC != f.DSC {
		return false
	}
	if isSet(f.PulloutStatus) && !strings.EqualFold(v.PulloutStatus(now), f.PulloutStatus) {
		return false
	}
	if f.EmergencyOnly && !v.Emergency {
		return false
	}
	if f.FormalInferenceOnly && !v.FormalInference {
		return false
	}
	return true
}

func isSet(v string) bool {
	return v != "" && !strings.EqualFold(v, domain.FilterAll)
}

func normalize(v string) string {
	return strings.ToUpper(strings.TrimSpace(v))
}

func (s *Store) getCandidates(f Filter) map[string]struct{} {
	var sets []map[string]struct{}
	if isSet(f.Depot) {
		sets = append(sets, s.byDepot[normalize(f.Depot)])
	}
	if f.Route != "" {
		sets = append(sets, s.byRoute[normalize(f.Route)])
	}
	if isSet(f.InferredState) {
		sets = append(sets, s.byState[normalize(f.InferredState)])
	}

	if len(sets) == 0 {
		result := make(map[string]struct{}, len(s.vehicles))
		for key := range s.vehicles {
			result[key] = struct{}{}
		}
		return result
	}

	result := s.copySet(sets[0])
	for _, set := range sets[1:] {
		result = s.intersect(result, set)
	}
	return result
}

func (s *Store) intersect(a, b map[string]struct{}) map[string]struct{} {
	if a == nil || b == nil {
		return make(map[string]struct{})
	}

	smaller, larger := a, b
	if len(a) > len(b) {
		smaller, larger = b, a
	}

	result := make(map[string]struct{})
	for key := range smaller {
		if _, ok := larger[key]; ok {
			result[key] = struct{}{}
		}
	}
	return result
}

func (s *Store) copySet(src map[string]struct{}) map[string]struct{} {
	if src == nil {
		return make(map[string]struct{})
	}
	result := make(map[string]struct{}, len(src))
	for key := range src {
		result[key] = struct{}{}
	}
	return result
}

func addTo(index map[string]map[string]struct{}, value, key string) {
	value = normalize(value)
	if value == "" {
		return
	}
	if index[value] == nil {
		index[value] = make(map[string]struct{})
	}
	index[value][key] = struct{}{}
}

func removeFrom(index map[string]map[string]struct{}, value, key string) {
	value = normalize(value)
	if index[value] != nil {
		delete(index[value], key)
		if len(index[value]) == 0 {
			delete(index, value)
		}
	}
}

func (s *Store) addToIndices(v *domain.VehicleStatus) {
	addTo(s.byDepot, v.Depot, v.VehicleID)
	addTo(s.byRoute, v.Route, v.VehicleID)
	addTo(s.byState, v.InferredState, v.VehicleID)
}

func (s *Store) removeFromAllIndices(v *domain.VehicleStatus) {
	removeFrom(s.byDepot, v.Depot, v.VehicleID)
	removeFrom(s.byRoute, v.Route, v.VehicleID)
	removeFrom(s.byState, v.InferredState, v.VehicleID)
}

func sortedKeys(index map[string]map[string]struct{}) []string {
	keys := make([]string, 0, len(index))
	for k := range index {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func hasChanged(old, new *domain.VehicleStatus) bool {
	a, b := *old, *new
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return a != b
}

// Sortable columns, keyed by the names the grid sends
var sortKeys = map[string]func(a, b *domain.VehicleStatus, now time.Time) int{
	"vehicleId": func(a, b *domain.VehicleStatus, _ time.Time) int {
		return compareCodes(a.VehicleID, b.VehicleID)
	},
	"lastUpdate": func(a, b *domain.VehicleStatus, _ time.Time) int {
		return b.Timestamp.Compare(a.Timestamp)
	},
	"inferredState": func(a, b *domain.VehicleStatus, _ time.Time) int {
		return cmp.Compare(a.InferredState, b.InferredState)
	},
	"observedDSC": func(a, b *domain.VehicleStatus, _ time.Time) int {
		return compareCodes(a.ObservedDSC, b.ObservedDSC)
	},
	"pulloutTime": func(a, b *domain.VehicleStatus, _ time.Time) int {
		return a.PulloutTime.Compare(b.PulloutTime)
	},
	"pullinTime": func(a, b *domain.VehicleStatus, _ time.Time) int {
		return a.PullinTime.Compare(b.PullinTime)
	},
	"route": func(a, b *domain.VehicleStatus, _ time.Time) int {
		return cmp.Compare(a.Route, b.Route)
	},
	"depot": func(a, b *domain.VehicleStatus, _ time.Time) int {
		return cmp.Compare(a.Depot, b.Depot)
	},
}

// IsSortable reports whether field names a sortable column.
func IsSortable(field string) bool {
	_, ok := sortKeys[field]
	return ok
}

func sortVehicles(vs []*domain.VehicleStatus, field string, desc bool, now time.Time) {
	less, ok := sortKeys[field]
	if !ok {
		less = sortKeys["vehicleId"]
	}
	slices.SortStableFunc(vs, func(a, b *domain.VehicleStatus) int {
		c := less(a, b, now)
		if c == 0 {
			c = compareCodes(a.VehicleID, b.VehicleID)
		}
		if desc {
			return -c
		}
		return c
	})
}

// compareCodes orders numerically when both values are integers.
func compareCodes(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return cmp.Compare(na, nb)
	}
	return cmp.Compare(a, b)
}
