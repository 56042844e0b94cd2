package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehiclestatus/internal/domain"
)

var start = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

func vehicle(id, depot, route, state string) *domain.VehicleStatus {
	return &domain.VehicleStatus{
		VehicleID:     id,
		Depot:         depot,
		Route:         route,
		InferredState: state,
		InferredDSC:   "4630",
		ObservedDSC:   "4630",
		Timestamp:     start,
	}
}

func seeded(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(start)
	s := New(5*time.Minute, clock)

	emergency := vehicle("7", "CA", "B63", domain.StateInProgress)
	emergency.Emergency = true
	formal := vehicle("12", "OF", "B41", domain.StateLayover)
	formal.FormalInference = true
	formal.PulloutTime = start.Add(-time.Hour)

	deltas := s.Update([]*domain.VehicleStatus{
		emergency,
		formal,
		vehicle("100", "CA", "B41", domain.StateInProgress),
		vehicle("3", "JG", "", domain.StateAtBase),
	})
	require.Len(t, deltas, 4)
	return s, clock
}

func TestStore_Update(t *testing.T) {
	s, clock := seeded(t)

	t.Run("unchanged vehicle yields no delta", func(t *testing.T) {
		deltas := s.Update([]*domain.VehicleStatus{vehicle("100", "CA", "B41", domain.StateInProgress)})
		assert.Empty(t, deltas)
	})

	t.Run("moved vehicle is reindexed", func(t *testing.T) {
		clock.Advance(time.Second)
		deltas := s.Update([]*domain.VehicleStatus{vehicle("100", "OF", "B41", domain.StateLayover)})
		require.Len(t, deltas, 1)
		assert.Equal(t, domain.DeltaUpdate, deltas[0].Type)
		assert.Equal(t, "OF", deltas[0].Depot)

		env := s.Query(Query{Filter: Filter{Depot: "CA"}})
		assert.Equal(t, 1, env.TotalRecords)

		env = s.Query(Query{Filter: Filter{Depot: "of", InferredState: domain.StateLayover}})
		assert.Equal(t, 2, env.TotalRecords)
	})

	t.Run("vehicles without id are ignored", func(t *testing.T) {
		assert.Empty(t, s.Update([]*domain.VehicleStatus{{Depot: "CA"}, nil}))
		assert.Equal(t, 4, s.Count())
	})
}

func TestStore_Query(t *testing.T) {
	s, _ := seeded(t)

	tests := []struct {
		name     string
		filter   Filter
		expected []string
	}{
		{"everything", Filter{Depot: domain.FilterAll}, []string{"3", "7", "12", "100"}},
		{"depot", Filter{Depot: "CA"}, []string{"7", "100"}},
		{"route is case-insensitive", Filter{Route: "b41"}, []string{"12", "100"}},
		{"depot and route", Filter{Depot: "CA", Route: "B41"}, []string{"100"}},
		{"state", Filter{InferredState: domain.StateInProgress}, []string{"7", "100"}},
		{"vehicle id substring", Filter{VehicleID: "10"}, []string{"100"}},
		{"dsc", Filter{DSC: "4630"}, []string{"3", "7", "12", "100"}},
		{"unknown dsc", Filter{DSC: "1"}, nil},
		{"emergency", Filter{EmergencyOnly: true}, []string{"7"}},
		{"formal inference", Filter{FormalInferenceOnly: true}, []string{"12"}},
		{"pulled out", Filter{PulloutStatus: domain.PulloutPulledOut}, []string{"12"}},
		{"unknown depot", Filter{Depot: "XX"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := s.Query(Query{Filter: tt.filter, PageSize: 20})

			var ids []string
			for _, row := range env.Rows {
				ids = append(ids, row.VehicleID.String())
			}
			assert.Equal(t, tt.expected, ids)
			assert.Equal(t, len(tt.expected), env.TotalRecords)
		})
	}
}

func TestStore_QueryPaging(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	s := New(time.Minute, clock)

	var batch []*domain.VehicleStatus
	for i := 1; i <= 45; i++ {
		batch = append(batch, vehicle(fmt.Sprint(i), "CA", "B63", domain.StateInProgress))
	}
	s.Update(batch)

	env := s.Query(Query{Page: 2, PageSize: 20})
	assert.Equal(t, 2, env.Page)
	assert.Equal(t, 3, env.TotalPages)
	assert.Equal(t, 45, env.TotalRecords)
	require.Len(t, env.Rows, 20)
	assert.Equal(t, "21", env.Rows[0].VehicleID.String())

	env = s.Query(Query{Page: 9, PageSize: 20})
	assert.Equal(t, 3, env.Page)
	assert.Len(t, env.Rows, 5)

	env = s.Query(Query{Page: 1, PageSize: 20, SortBy: "vehicleId", SortDesc: true})
	assert.Equal(t, "45", env.Rows[0].VehicleID.String())

	env = s.Query(Query{Page: 1, PageSize: 20, Filter: Filter{Depot: "none"}})
	assert.Equal(t, 1, env.Page)
	assert.Zero(t, env.TotalPages)
	assert.NotNil(t, env.Rows)
	assert.Empty(t, env.Rows)
}

func TestStore_Statistics(t *testing.T) {
	s, _ := seeded(t)

	assert.Equal(t, domain.Statistics{
		VehiclesTracked:          4,
		VehiclesInRevenueService: 2,
		VehiclesInEmergency:      1,
	}, s.Statistics())
}

func TestStore_FilterOptions(t *testing.T) {
	s, _ := seeded(t)

	opts := s.FilterOptions()
	assert.Equal(t, []string{"CA", "JG", "OF"}, opts.Depots)
	assert.Equal(t, []string{domain.StateAtBase, domain.StateInProgress, domain.StateLayover}, opts.InferredStates)
	assert.Len(t, opts.PulloutStatuses, 3)
}

func TestStore_PruneStale(t *testing.T) {
	s, clock := seeded(t)

	clock.Advance(3 * time.Minute)
	s.Update([]*domain.VehicleStatus{vehicle("3", "JG", "", domain.StateAtBase)})

	clock.Advance(3 * time.Minute)
	deltas := s.PruneStale()

	assert.Len(t, deltas, 3)
	for _, d := range deltas {
		assert.Equal(t, domain.DeltaRemove, d.Type)
	}
	assert.Equal(t, 1, s.Count())
	_, ok := s.Get("3")
	assert.True(t, ok)
	assert.Equal(t, []string{"JG"}, s.FilterOptions().Depots)
}

func TestStore_SnapshotForDepots(t *testing.T) {
	s, _ := seeded(t)

	vs := s.SnapshotForDepots([]string{"CA", "ca", "JG"})
	assert.Len(t, vs, 3)

	assert.Empty(t, s.SnapshotForDepots([]string{"XX"}))
}

func TestFormatRow(t *testing.T) {
	now := start.Add(30 * time.Second)
	v := vehicle("7", "CA", "B63", domain.StateInProgress)
	v.PulloutTime = time.Date(2024, 3, 4, 5, 7, 0, 0, time.UTC)

	row := FormatRow(v, now)
	assert.Equal(t, IconReporting, row.Status)
	assert.Equal(t, "30 sec", row.LastUpdate)
	assert.Equal(t, "05:07", row.FormattedPulloutTime)
	assert.Empty(t, row.FormattedPullinTime)
	assert.Equal(t, "7", row.DetailsRef.String())

	assert.Equal(t, IconLagging, FormatRow(v, start.Add(5*time.Minute)).Status)
	assert.Equal(t, "5 min", FormatRow(v, start.Add(5*time.Minute)).LastUpdate)

	v.Emergency = true
	assert.Equal(t, IconEmergency, FormatRow(v, now).Status)
}
