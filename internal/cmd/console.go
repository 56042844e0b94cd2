package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"vehiclestatus/internal/config"
	"vehiclestatus/internal/console"
	"vehiclestatus/internal/dashboard"
	"vehiclestatus/internal/domain"
	"vehiclestatus/internal/telemetry"
	"vehiclestatus/pkg/statusapi"
)

func NewConsoleCmd(app *App) *cobra.Command {
	var (
		noColor bool
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Run the operator dashboard in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(app.ConfigPath)
			if err != nil {
				return err
			}

			// The terminal belongs to the dashboard, so logs only go to a file.
			var logOut io.Writer = io.Discard
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return fmt.Errorf("opening log file: %w", err)
				}
				defer f.Close()
				logOut = f
			}
			logger := newLogger(cfg, logOut)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runConsole(ctx, cfg, logger, nil, !noColor)
		},
	}

	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colors and mark highlighted cells with ! and ~")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Append logs to this file")

	return cmd
}

// runConsole runs the dashboard on screen, or on the terminal when screen is
// nil, until the operator quits or ctx is done.
func runConsole(ctx context.Context, cfg *config.Config, logger *slog.Logger, screen tcell.Screen, color bool) error {
	metrics := telemetry.NewNopMetrics()
	if cfg.MetricsAddr != "" {
		tel := telemetry.NewServer(cfg.MetricsAddr, logger)
		metrics = telemetry.NewMetrics(tel.Registry())
		if err := tel.Start(); err != nil {
			return err
		}
		defer tel.Stop()
	}

	client := statusapi.New(cfg.APIBaseURL, statusapi.Paths{
		Rows:       cfg.RowsPath,
		Statistics: cfg.StatisticsPath,
		Filters:    cfg.FiltersPath,
		Details:    cfg.DetailsPath,
		Stream:     cfg.StreamPath,
	}, cfg.RequestTimeout, statusapi.WithMetrics(metrics))

	view := console.NewView(color)
	app := tview.NewApplication()
	if screen != nil {
		app.SetScreen(screen)
	}
	stopUI, err := startUI(app, view)
	if err != nil {
		return err
	}
	defer stopUI()

	options, err := client.FetchFilterOptions(ctx)
	if err != nil {
		logger.Warn("filter options unavailable", "error", err)
		view.ShowError(err)
		options = domain.FilterOptions{}
	}

	details := console.NewDetailsPane(client, view, cfg.RequestTimeout, logger)

	d, err := dashboard.New(dashboard.Deps{
		Fetcher: client,
		Grid:    view,
		Summary: view,
		Status:  view,
		Dialog:  view,
		Details: details,
		Logger:  logger,
	}, dashboard.Options{
		PageSize:               cfg.PageSize,
		RefreshIntervalSeconds: cfg.RefreshIntervalSeconds,
		AutoRefresh:            cfg.AutoRefresh,
		FetchTimeout:           cfg.RequestTimeout,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Run(ctx)
	}()

	if cfg.LiveUpdates {
		feed := console.NewLiveFeed(client, view, clockwork.NewRealClock(), cfg.LiveRetryInterval, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			feed.Run(ctx)
		}()
	}

	repl := console.NewREPL(d, view, options, logger)
	view.Println("connected to " + cfg.APIBaseURL + ", type 'help' for commands")

	err = repl.Run(ctx)

	cancel()
	wg.Wait()
	details.Wait()
	return err
}

// startUI runs app in the background and routes view updates through it once
// the first frame is drawn. The returned func stops it.
func startUI(app *tview.Application, view *console.View) (func(), error) {
	view.Mount(app)

	drawn := make(chan struct{})
	var once sync.Once
	app.SetAfterDrawFunc(func(tcell.Screen) {
		once.Do(func() { close(drawn) })
	})

	runErr := make(chan error, 1)
	go func() {
		runErr <- app.Run()
	}()

	select {
	case <-drawn:
	case err := <-runErr:
		return nil, fmt.Errorf("starting terminal: %w", err)
	}

	view.Attach()
	return func() {
		view.Detach()
		app.Stop()
		<-runErr
	}, nil
}
