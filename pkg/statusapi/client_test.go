package statusapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehiclestatus/internal/telemetry"
)

var testPaths = Paths{
	Rows:       "/rows",
	Statistics: "/stats",
	Filters:    "/filters.xml",
	Details:    "/vehicles",
}

type recordedRequest struct {
	path  string
	query map[string]string
}

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := map[string]string{}
		for k := range r.URL.Query() {
			q[k] = r.URL.Query().Get(k)
		}
		mu.Lock()
		reqs = append(reqs, recordedRequest{path: r.URL.Path, query: q})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func TestFetchRows(t *testing.T) {
	srv, reqs := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rows":[{"vehicleId":7560,"status":"circle_green_20x20.png","inferredDSC":"4630","observedDSC":6,"details":7560}],"page":2,"total":5,"records":93}`))
	})

	client := New(srv.URL, testPaths, 5*time.Second)
	env, err := client.FetchRows(context.Background(), RowQuery{
		Filters:  map[string]string{"depot": "CA", "emergencyStatus": "false"},
		Page:     2,
		PageSize: 20,
		Sort:     SortSpec{Field: "vehicleId", Desc: true},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, env.Page)
	assert.Equal(t, 5, env.TotalPages)
	assert.Equal(t, 93, env.TotalRecords)
	require.Len(t, env.Rows, 1)
	assert.Equal(t, "7560", env.Rows[0].VehicleID.String())
	assert.Equal(t, "6", env.Rows[0].ObservedDSC.String())
	assert.Equal(t, "7560", env.Rows[0].DetailsRef.String())

	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	assert.Equal(t, "/rows", got.path)
	assert.Equal(t, "CA", got.query["depot"])
	assert.Equal(t, "false", got.query["emergencyStatus"])
	assert.Equal(t, "2", got.query["page"])
	assert.Equal(t, "20", got.query["rows"])
	assert.Equal(t, "vehicleId,desc", got.query["sort"])
	assert.NotEmpty(t, got.query["ts"])
}

func TestFetchStatistics(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"vehiclesInEmergency":2,"vehiclesInRevenueService":140,"vehiclesTracked":211}`))
	})

	stats, err := New(srv.URL, testPaths, 5*time.Second).FetchStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.VehiclesInEmergency)
	assert.Equal(t, 140, stats.VehiclesInRevenueService)
	assert.Equal(t, 211, stats.VehiclesTracked)
}

func TestCacheBustingTokenIsStrictlyIncreasing(t *testing.T) {
	srv, reqs := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	// A frozen clock forces the client to bump the token itself.
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC))
	client := New(srv.URL, testPaths, 5*time.Second, WithClock(clock))

	for i := 0; i < 5; i++ {
		_, err := client.FetchStatistics(context.Background())
		require.NoError(t, err)
	}

	var last int64
	for _, r := range *reqs {
		ts, err := strconv.ParseInt(r.query["ts"], 10, 64)
		require.NoError(t, err)
		assert.Greater(t, ts, last)
		last = ts
	}
}

func TestErrorClassification(t *testing.T) {
	t.Run("non-2xx is a server error", func(t *testing.T) {
		srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})

		_, err := New(srv.URL, testPaths, 5*time.Second).FetchRows(context.Background(), RowQuery{Page: 1})
		var srvErr *ServerError
		require.ErrorAs(t, err, &srvErr)
		assert.Equal(t, http.StatusInternalServerError, srvErr.StatusCode)
		assert.Equal(t, EndpointRows, srvErr.Endpoint)
		assert.Equal(t, "server", ErrorKind(err))
	})

	t.Run("malformed payload is a server error", func(t *testing.T) {
		srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"rows": [`))
		})

		_, err := New(srv.URL, testPaths, 5*time.Second).FetchRows(context.Background(), RowQuery{Page: 1})
		var srvErr *ServerError
		require.ErrorAs(t, err, &srvErr)
		assert.Equal(t, http.StatusOK, srvErr.StatusCode)
		assert.Contains(t, err.Error(), "decoding response")
	})

	t.Run("unreachable host is a network error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := New(url, testPaths, time.Second).FetchStatistics(context.Background())
		var netErr *NetworkError
		require.ErrorAs(t, err, &netErr)
		assert.Equal(t, "network", ErrorKind(err))
	})

	t.Run("timeout is a network error", func(t *testing.T) {
		release := make(chan struct{})
		srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		defer close(release)

		_, err := New(srv.URL, testPaths, 50*time.Millisecond).FetchStatistics(context.Background())
		var netErr *NetworkError
		require.ErrorAs(t, err, &netErr)
	})

	t.Run("timeout while reading the body is a network error", func(t *testing.T) {
		release := make(chan struct{})
		srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"rows": [`))
			w.(http.Flusher).Flush()
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		defer close(release)

		_, err := New(srv.URL, testPaths, 100*time.Millisecond).FetchRows(context.Background(), RowQuery{Page: 1})
		var netErr *NetworkError
		require.ErrorAs(t, err, &netErr)
		assert.Equal(t, "network", ErrorKind(err))
		assert.Contains(t, err.Error(), "reading response")
	})
}

func TestMetricsRecordFailures(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	metrics := telemetry.NewNopMetrics()
	client := New(srv.URL, testPaths, time.Second, WithMetrics(metrics))
	_, err := client.FetchStatistics(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FetchErrorsTotal.WithLabelValues(EndpointStatistics, "server")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.FetchErrorsTotal.WithLabelValues(EndpointStatistics, "network")))
}

func TestFetchFilterOptions(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0"?>
<VehicleFilters>
  <Depots><Depot>CA</Depot><Depot> JG </Depot></Depots>
  <InferredStates><InferredState>IN_PROGRESS</InferredState><InferredState>LAYOVER</InferredState></InferredStates>
  <Extra><PulloutStatus>PULLED_OUT</PulloutStatus></Extra>
  <Depot></Depot>
</VehicleFilters>`))
	})

	opts, err := New(srv.URL, testPaths, time.Second).FetchFilterOptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"CA", "JG"}, opts.Depots)
	assert.Equal(t, []string{"IN_PROGRESS", "LAYOVER"}, opts.InferredStates)
	assert.Equal(t, []string{"PULLED_OUT"}, opts.PulloutStatuses)
}

func TestParseFilterOptionsRejectsBrokenXML(t *testing.T) {
	_, err := ParseFilterOptions(strings.NewReader(`<VehicleFilters><Depot>CA</VehicleFilters>`))
	require.Error(t, err)
}

func TestFetchVehicle(t *testing.T) {
	srv, reqs := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"vehicleId":"7560","depot":"CA","inferredState":"IN_PROGRESS"}`))
	})

	v, err := New(srv.URL, testPaths, time.Second).FetchVehicle(context.Background(), "7560")
	require.NoError(t, err)
	assert.Equal(t, "7560", v.VehicleID)
	assert.Equal(t, "CA", v.Depot)
	assert.Equal(t, "/vehicles/7560", (*reqs)[0].path)

	_, err = New(srv.URL, testPaths, time.Second).FetchVehicle(context.Background(), " ")
	require.Error(t, err)
}

func TestParseSort(t *testing.T) {
	assert.Equal(t, SortSpec{Field: "lastUpdate", Desc: true}, ParseSort("lastUpdate, DESC"))
	assert.Equal(t, SortSpec{Field: "vehicleId"}, ParseSort("vehicleId"))
	assert.Equal(t, "", SortSpec{}.String())
}
