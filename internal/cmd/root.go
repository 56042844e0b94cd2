package cmd

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"vehiclestatus/internal/config"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

type App struct {
	ConfigPath string
}

func Execute() error {
	app := &App{}
	rootCmd := NewRootCmd(app)
	return rootCmd.Execute()
}

func NewRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vehiclestatus",
		Short:         "Vehicle status backend and operator console",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(
		&app.ConfigPath,
		"config",
		"",
		"Path to a TOML configuration file",
	)

	cmd.AddCommand(NewServeCmd(app))
	cmd.AddCommand(NewConsoleCmd(app))
	cmd.AddCommand(NewPublishCmd(app))

	return cmd
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
