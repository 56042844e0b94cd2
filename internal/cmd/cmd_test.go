package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehiclestatus/internal/config"
	"vehiclestatus/internal/domain"
	"vehiclestatus/internal/handler"
	"vehiclestatus/internal/hub"
	"vehiclestatus/internal/ingestor"
	"vehiclestatus/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRootCmd(t *testing.T) {
	root := NewRootCmd(&App{})

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "console", "publish"})
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))

	root.SetArgs([]string{"publish"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	assert.Error(t, root.Execute(), "publish needs a file argument")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Defaults()

	newLogger(cfg, &buf).Info("hello", "vehicle_id", "7")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "7", entry["vehicle_id"])

	buf.Reset()
	cfg.LogFormat = "text"
	newLogger(cfg, &buf).Debug("hidden")
	newLogger(cfg, &buf).Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}

type recordingPublisher struct {
	mu       sync.Mutex
	payloads []string
	failAt   int
}

func (p *recordingPublisher) Publish(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAt > 0 && len(p.payloads)+1 == p.failAt {
		return errors.New("connection reset")
	}
	p.payloads = append(p.payloads, string(payload))
	return nil
}

func TestPublishLines(t *testing.T) {
	input := `{"vehicleId":"7"}

not json
  {"vehicleId":"12"}
`

	t.Run("skips blank and invalid lines", func(t *testing.T) {
		pub := &recordingPublisher{}
		n, err := publishLines(context.Background(), pub, strings.NewReader(input), 0, testLogger())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{`{"vehicleId":"7"}`, `{"vehicleId":"12"}`}, pub.payloads)
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		pub := &recordingPublisher{failAt: 2}
		n, err := publishLines(context.Background(), pub, strings.NewReader(input), 0, testLogger())
		assert.Equal(t, 1, n)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 4")
	})

	t.Run("interval honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		pub := &recordingPublisher{}
		n, err := publishLines(ctx, pub, strings.NewReader(input), time.Hour, testLogger())
		assert.Equal(t, 1, n)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

type chanSource struct {
	ch chan *redis.Message
}

func (s *chanSource) Messages(context.Context) (<-chan *redis.Message, error) {
	return s.ch, nil
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestRunServer(t *testing.T) {
	cfg := config.Defaults()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second

	source := &chanSource{ch: make(chan *redis.Message, 8)}
	listening := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, cfg, source, testLogger(), listening) }()

	var addr string
	select {
	case addr = <-listening:
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start listening")
	}
	base := "http://" + addr

	require.Eventually(t, func() bool {
		return getJSON(t, base+"/readyz", nil) == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	ts := time.Now().UnixMilli()
	for _, id := range []string{"7", "12"} {
		source.ch <- &redis.Message{Payload: fmt.Sprintf(
			`{"vehicleId":%q,"depotId":"CA","inferredRouteId":"B63","inferredPhase":"in_progress","inferredDestinationSignCode":4630,"lastObservedDestinationSignCode":"4630","recordTimestamp":%d}`,
			id, ts)}
	}

	var env domain.PageEnvelope
	require.Eventually(t, func() bool {
		getJSON(t, base+handler.PathRows, &env)
		return env.TotalRecords == 2
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, "4630: B63", env.Rows[0].InferredDestination)

	var stats domain.Statistics
	assert.Equal(t, http.StatusOK, getJSON(t, base+handler.PathStatistics, &stats))
	assert.Equal(t, 2, stats.VehiclesInRevenueService)

	var serverStats handler.ServerStatsResponse
	assert.Equal(t, http.StatusOK, getJSON(t, base+handler.PathStats, &serverStats))
	require.NotNil(t, serverStats.RateLimiter)
	assert.Equal(t, cfg.RateLimitPerWindow, serverStats.RateLimiter.RatePerWindow)

	close(source.ch)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ingestor.ErrSubscriptionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after the subscription closed")
	}
}

type alwaysReady struct{}

func (alwaysReady) IsReady() bool { return true }

// bigScreen is a simulated terminal large enough for every pane to show its
// text on one line.
type bigScreen struct {
	tcell.SimulationScreen
}

func (s bigScreen) Init() error {
	if err := s.SimulationScreen.Init(); err != nil {
		return err
	}
	s.SetSize(200, 60)
	return nil
}

func screenText(s tcell.SimulationScreen) string {
	cells, width, _ := s.GetContents()
	var b strings.Builder
	for i, c := range cells {
		if i > 0 && i%width == 0 {
			b.WriteByte('\n')
		}
		if len(c.Runes) == 0 {
			b.WriteByte(' ')
			continue
		}
		b.WriteString(string(c.Runes))
	}
	return b.String()
}

func typeLine(s tcell.SimulationScreen, line string) {
	s.InjectKeyBytes([]byte(line))
	s.InjectKey(tcell.KeyEnter, 0, tcell.ModNone)
}

func startConsole(t *testing.T, cfg *config.Config) (tcell.SimulationScreen, <-chan error) {
	t.Helper()
	screen := tcell.NewSimulationScreen("UTF-8")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() {
		done <- runConsole(ctx, cfg, testLogger(), bigScreen{screen}, false)
	}()
	return screen, done
}

func waitScreen(t *testing.T, screen tcell.SimulationScreen, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return strings.Contains(screenText(screen), want)
	}, 5*time.Second, 10*time.Millisecond, "screen never showed %q", want)
}

func waitExit(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("console did not exit")
		return nil
	}
}

func TestRunConsole(t *testing.T) {
	s := store.New(time.Hour, clockwork.NewRealClock())
	s.Update([]*domain.VehicleStatus{{VehicleID: "7", Depot: "CA", InferredState: domain.StateInProgress, Timestamp: time.Now()}})

	liveHub := hub.NewHub(s, nil, testLogger())
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go liveHub.Run(hubCtx)

	srv := httptest.NewServer(handler.NewRouter(handler.Handlers{
		Status: handler.NewStatusHandler(s, domain.FilterOptions{}),
		Health: handler.NewHealthHandler(alwaysReady{}, s, nil),
		Stream: handler.NewStreamHandler(liveHub, nil, testLogger()),
	}, nil, testLogger()))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.APIBaseURL = srv.URL
	cfg.RequestTimeout = 5 * time.Second

	t.Run("session", func(t *testing.T) {
		screen, done := startConsole(t, cfg)

		waitScreen(t, screen, "connected to "+srv.URL)
		waitScreen(t, screen, "tracked: 1  in revenue service: 1  in emergency: 0")
		waitScreen(t, screen, "page 1 of 1, 1 vehicles")

		typeLine(screen, "options")
		waitScreen(t, screen, "all, CA")

		require.Eventually(t, func() bool { return liveHub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
		liveHub.Broadcast(s.Update([]*domain.VehicleStatus{
			{VehicleID: "30", Depot: "OF", InferredState: domain.StateInProgress, Emergency: true, Timestamp: time.Now()},
		}))
		waitScreen(t, screen, "live: 1 updated, 0 removed since last refresh in OF; emergency: 30")
		waitScreen(t, screen, "tracked: 2  in revenue service: 2  in emergency: 1")

		typeLine(screen, "quit")
		require.NoError(t, waitExit(t, done))
		require.Eventually(t, func() bool { return liveHub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("backend down", func(t *testing.T) {
		down := httptest.NewServer(http.NotFoundHandler())
		down.Close()

		cfg := *cfg
		cfg.APIBaseURL = down.URL

		screen, done := startConsole(t, &cfg)
		waitScreen(t, screen, "error: filters: network error")
		waitScreen(t, screen, "live feed disconnected, retrying every 5s")

		screen.InjectKey(tcell.KeyCtrlC, 0, tcell.ModCtrl)
		require.NoError(t, waitExit(t, done))
	})

	t.Run("invalid settings", func(t *testing.T) {
		cfg := *cfg
		cfg.PageSize = 0
		_, done := startConsole(t, &cfg)
		assert.Error(t, waitExit(t, done))
	})
}
