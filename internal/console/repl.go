package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"vehiclestatus/internal/dashboard"
	"vehiclestatus/internal/domain"
	"vehiclestatus/pkg/statusapi"
)

// Actions is the part of the dashboard the console drives.
type Actions interface {
	UpdateFilters(ctx context.Context, fn func(*dashboard.FilterState)) error
	Search(ctx context.Context) error
	Reset(ctx context.Context) error
	ManualRefresh(ctx context.Context) error
	SetAutoRefresh(ctx context.Context, enabled bool) error
	OpenRefreshDialog(ctx context.Context) error
	SetRefreshRate(ctx context.Context, seconds int) error
	GotoPage(ctx context.Context, page int) error
	SortBy(ctx context.Context, sort statusapi.SortSpec) error
	OpenDetails(ctx context.Context, detailsRef string) error
	Snapshot(ctx context.Context) (dashboard.State, error)
}

// REPL runs operator commands typed at the view's prompt and applies them to
// the dashboard. Command errors are shown and the console stays usable.
type REPL struct {
	actions Actions
	view    *View
	options domain.FilterOptions
	lines   chan string
	logger  *slog.Logger
}

// NewREPL takes over the view's prompt. Lines typed before Run starts are
// queued.
func NewREPL(actions Actions, view *View, options domain.FilterOptions, logger *slog.Logger) *REPL {
	r := &REPL{
		actions: actions,
		view:    view,
		options: options,
		lines:   make(chan string, 32),
		logger:  logger.With("component", "console"),
	}
	view.SetSubmitFunc(r.submit)
	return r
}

// submit runs on the UI event goroutine, so it only queues the line.
func (r *REPL) submit(line string) {
	select {
	case r.lines <- line:
	default:
		r.logger.Warn("console busy, command dropped", "command", line)
	}
}

// Run executes queued lines one at a time until "quit" or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case line := <-r.lines:
			quit, err := r.Execute(ctx, line)
			if err != nil {
				if errors.Is(err, dashboard.ErrLoopStopped) || ctx.Err() != nil {
					return nil
				}
				r.view.ShowError(err)
			}
			if quit {
				return nil
			}
		}
	}
}

// Execute applies one command line. It reports whether the operator asked to
// quit.
func (r *REPL) Execute(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}

	if r.view.DialogOpen() {
		if strings.EqualFold(line, "cancel") {
			r.view.Close()
			return false, nil
		}
		if seconds, err := parsePositive(line); err == nil {
			return false, r.actions.SetRefreshRate(ctx, seconds)
		}
	}

	cmd, err := ParseCommand(line)
	if err != nil {
		return false, err
	}

	switch cmd.Name {
	case "quit", "exit", "q":
		return true, nil

	case "help", "?":
		r.view.Println(helpText)
		return false, nil

	case "set":
		return false, r.applyFilters(ctx, cmd.Args)

	case "search":
		if err := r.applyFilters(ctx, cmd.Args); err != nil {
			return false, err
		}
		return false, r.actions.Search(ctx)

	case "reset":
		return false, r.actions.Reset(ctx)

	case "refresh":
		return false, r.actions.ManualRefresh(ctx)

	case "auto":
		enabled, err := parseOnOff(cmd.Args)
		if err != nil {
			return false, fmt.Errorf("usage: auto on|off")
		}
		return false, r.actions.SetAutoRefresh(ctx, enabled)

	case "rate":
		if len(cmd.Args) == 0 {
			return false, r.actions.OpenRefreshDialog(ctx)
		}
		seconds, err := parsePositive(cmd.Args[0])
		if err != nil {
			return false, err
		}
		return false, r.actions.SetRefreshRate(ctx, seconds)

	case "page":
		return false, r.gotoPage(ctx, cmd.Args)

	case "sort":
		order, err := parseSort(cmd.Args)
		if errors.Is(err, errUsage) {
			return false, fmt.Errorf("usage: sort field [asc|desc]")
		}
		if err != nil {
			return false, err
		}
		return false, r.actions.SortBy(ctx, order)

	case "details":
		return false, r.openDetails(ctx, cmd.Args)

	case "filters", "status":
		state, err := r.actions.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		r.view.ShowState(state)
		return false, nil

	case "options":
		r.view.ShowOptions(r.options)
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %q (try 'help')", cmd.Name)
	}
}

func (r *REPL) applyFilters(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}
	setters, err := parseAssignments(args, r.options)
	if err != nil {
		return err
	}
	return r.actions.UpdateFilters(ctx, func(f *dashboard.FilterState) {
		for _, set := range setters {
			set(f)
		}
	})
}

func (r *REPL) gotoPage(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: page N|next|prev")
	}

	switch strings.ToLower(args[0]) {
	case "next", "prev":
		state, err := r.actions.Snapshot(ctx)
		if err != nil {
			return err
		}
		page := state.Grid.Page + 1
		if strings.EqualFold(args[0], "prev") {
			page = state.Grid.Page - 1
		}
		return r.actions.GotoPage(ctx, page)
	default:
		page, err := parsePositive(args[0])
		if err != nil {
			return err
		}
		return r.actions.GotoPage(ctx, page)
	}
}

// openDetails accepts a details reference or "#N" for the Nth row of the
// current page.
func (r *REPL) openDetails(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: details ref|#row")
	}

	ref := args[0]
	if rest, ok := strings.CutPrefix(ref, "#"); ok {
		n, err := parsePositive(rest)
		if err != nil {
			return err
		}
		state, err := r.actions.Snapshot(ctx)
		if err != nil {
			return err
		}
		rows := state.Grid.Envelope.Rows
		if n > len(rows) {
			return fmt.Errorf("row %d is not on this page (%d rows)", n, len(rows))
		}
		ref = rows[n-1].DetailsRef.String()
	}

	return r.actions.OpenDetails(ctx, ref)
}
