package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"

	"github.com/sharetube/watchsync/internal/client"
	"github.com/sharetube/watchsync/internal/player"
	"github.com/sharetube/watchsync/internal/reconcile"
	"github.com/sharetube/watchsync/pkg/ctxlogger"
)

const (
	minReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay = 30 * time.Second
)

type config struct {
	server           string
	sessionId        string
	mediaRef         string
	threshold        float64
	progressInterval time.Duration
	duration         float64
	logLevel         string
}

func loadConfig() (*config, error) {
	cfg := &config{}
	pflag.StringVar(&cfg.server, "server", "ws://localhost:8080/api/v1/ws", "Server websocket url")
	pflag.StringVar(&cfg.sessionId, "session", "", "Session to join")
	pflag.StringVar(&cfg.mediaRef, "media", "", "Create the session with this media if it does not exist")
	pflag.Float64Var(&cfg.threshold, "threshold", reconcile.DefaultThreshold, "Seek detection threshold in seconds")
	pflag.DurationVar(&cfg.progressInterval, "progress-interval", time.Second, "How often the player is sampled")
	pflag.Float64Var(&cfg.duration, "duration", 0, "Simulated media duration in seconds, 0 for unknown")
	pflag.StringVar(&cfg.logLevel, "log-level", "INFO", "Logging level")
	pflag.Parse()

	if cfg.sessionId == "" {
		return nil, errors.New("--session is required")
	}
	if cfg.threshold <= 0 {
		return nil, errors.New("--threshold must be greater than 0")
	}
	if cfg.progressInterval <= 0 {
		return nil, errors.New("--progress-interval must be greater than 0")
	}

	return cfg, nil
}

func newLogger(level string) (*slog.Logger, error) {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}),
	}

	return slog.New(&h), nil
}

// readCommands feeds stdin lines to the watcher until stdin is closed.
func readCommands(ctx context.Context, logger *slog.Logger) <-chan client.Command {
	commands := make(chan client.Command)
	go func() {
		defer close(commands)

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			cmd, err := client.ParseCommand(scanner.Text())
			if err != nil {
				if !errors.Is(err, client.ErrEmptyCommand) {
					logger.WarnContext(ctx, "invalid command", "error", err)
				}
				continue
			}

			select {
			case commands <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}()

	return commands
}

func reconnectDelay(attempt int) time.Duration {
	delay := minReconnectDelay << attempt
	if delay <= 0 || delay > maxReconnectDelay {
		return maxReconnectDelay
	}
	return delay
}

func run(ctx context.Context, cfg *config, logger *slog.Logger) error {
	clock := clockwork.NewRealClock()
	ctx = ctxlogger.AppendCtx(ctx, slog.String("session_id", cfg.sessionId))

	w := client.NewWatcher(player.NewSim(clock, cfg.duration), clock, logger, client.WatcherConfig{
		SessionId:        cfg.sessionId,
		MediaRef:         cfg.mediaRef,
		Threshold:        cfg.threshold,
		ProgressInterval: cfg.progressInterval,
	})
	commands := readCommands(ctx, logger)

	for attempt := 0; ; attempt++ {
		c, err := client.Dial(ctx, cfg.server, logger)
		if err == nil {
			logger.InfoContext(ctx, "connected", "server", cfg.server)
			attempt = 0

			err = w.Run(ctx, c, commands)
			switch {
			case err == nil:
				logger.InfoContext(ctx, "left session")
				return nil
			case errors.Is(err, client.ErrSessionNotFound):
				return err
			}
		}

		if ctx.Err() != nil {
			return nil
		}

		delay := reconnectDelay(attempt)
		logger.WarnContext(ctx, "connection lost, reconnecting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-clock.After(delay):
		}
	}
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		pflag.Usage()
		os.Exit(2)
	}

	logger, err := newLogger(cfg.logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("watcher stopped", "error", err)
		stop()
		os.Exit(1)
	}
}
