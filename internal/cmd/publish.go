package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vehiclestatus/internal/config"
	"vehiclestatus/internal/ingestor"
)

// Publisher sends raw inferred location messages.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

func NewPublishCmd(app *App) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "publish FILE",
		Short: "Replay a file of inferred location messages onto the Redis channel",
		Long:  "Reads one JSON message per line and publishes each to the configured Redis channel. Use - for stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(app.ConfigPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())

			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening %s: %w", args[0], err)
				}
				defer f.Close()
				in = f
			}

			source, err := ingestor.NewRedisSource(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisChannel, logger)
			if err != nil {
				return err
			}
			defer source.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n, err := publishLines(ctx, source, in, interval, logger)
			fmt.Fprintf(cmd.OutOrStdout(), "published %d messages to %s\n", n, cfg.RedisChannel)
			return err
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Pause between messages")

	return cmd
}

// publishLines publishes every non-blank line of in. Lines that are not valid
// JSON are skipped with a warning.
func publishLines(ctx context.Context, pub Publisher, in io.Reader, interval time.Duration, logger *slog.Logger) (int, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	published := 0
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if !json.Valid([]byte(text)) {
			logger.Warn("skipping invalid message", "line", line)
			continue
		}

		if published > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return published, ctx.Err()
			case <-time.After(interval):
			}
		}

		if err := pub.Publish(ctx, []byte(text)); err != nil {
			return published, fmt.Errorf("line %d: %w", line, err)
		}
		published++
	}
	if err := scanner.Err(); err != nil {
		return published, fmt.Errorf("reading messages: %w", err)
	}
	return published, nil
}
