package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchsync/internal/controller"
	connInmemory "github.com/sharetube/watchsync/internal/repository/connection/inmemory"
	roomInmemory "github.com/sharetube/watchsync/internal/repository/room/inmemory"
	repository "github.com/sharetube/watchsync/internal/repository/session"
	sessionInmemory "github.com/sharetube/watchsync/internal/repository/session/inmemory"
	sessionRedis "github.com/sharetube/watchsync/internal/repository/session/redis"
	"github.com/sharetube/watchsync/internal/service/broadcast"
	"github.com/sharetube/watchsync/internal/service/session"
	"github.com/sharetube/watchsync/pkg/ctxlogger"
	"github.com/sharetube/watchsync/pkg/redisclient"
	"github.com/sharetube/watchsync/pkg/wsconn"
)

const (
	RegistryMemory = "memory"
	RegistryRedis  = "redis"
)

type AppConfig struct {
	Host             string        `json:"host"`
	Port             int           `json:"port"`
	LogLevel         string        `json:"log_level"`
	Registry         string        `json:"registry"`
	RedisPort        int           `json:"redis_port"`
	RedisHost        string        `json:"redis_host"`
	RedisPassword    string        `json:"-"`
	RedisDB          int           `json:"redis_db"`
	SessionTTL       time.Duration `json:"session_ttl"`
	OrphanSessionTTL time.Duration `json:"orphan_session_ttl"`
	SendBufferSize   int           `json:"send_buffer_size"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535")
	}
	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		return err
	}
	switch cfg.Registry {
	case RegistryMemory:
	case RegistryRedis:
		if cfg.RedisHost == "" {
			return fmt.Errorf("redis host must be set for the redis registry")
		}
		if cfg.RedisDB < 0 {
			return fmt.Errorf("redis db must not be negative")
		}
		if cfg.SessionTTL <= 0 {
			return fmt.Errorf("session ttl must be greater than 0")
		}
	default:
		return fmt.Errorf("unknown registry %q, expected %q or %q", cfg.Registry, RegistryMemory, RegistryRedis)
	}
	if cfg.OrphanSessionTTL < 0 {
		return fmt.Errorf("orphan session ttl must not be negative")
	}
	if cfg.SendBufferSize < 1 {
		return fmt.Errorf("send buffer size must be greater than 0")
	}
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s, err)
	}

	return level, nil
}

func newLogger(cfg *AppConfig) *slog.Logger {
	logLevel, _ := parseLogLevel(cfg.LogLevel)

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	return slog.New(&h)
}

type iSessionRepo interface {
	Create(context.Context, *repository.CreateParams) error
	Get(context.Context, string) (repository.Session, error)
	ApplyStateChange(context.Context, *repository.ApplyStateChangeParams) (repository.Session, error)
	MarkBootstrapped(context.Context, string) (bool, error)
	SwitchMedia(context.Context, *repository.SwitchMediaParams) (repository.Session, error)
	Remove(context.Context, string) error
}

// newSessionRepo returns the configured registry and a func releasing its
// resources.
func newSessionRepo(ctx context.Context, cfg *AppConfig, clock clockwork.Clock, logger *slog.Logger) (iSessionRepo, func(), error) {
	switch cfg.Registry {
	case RegistryRedis:
		rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
			Port:     cfg.RedisPort,
			Host:     cfg.RedisHost,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redis client: %w", err)
		}

		return sessionRedis.NewRepo(rc, cfg.SessionTTL, clock, logger), func() { rc.Close() }, nil
	default:
		return sessionInmemory.NewRepo(clock, logger), func() {}, nil
	}
}

// NewHandler wires the services behind the HTTP surface.
func NewHandler(sessionRepo iSessionRepo, clock clockwork.Clock, cfg *AppConfig, logger *slog.Logger) http.Handler {
	broadcastService := broadcast.NewService(roomInmemory.NewRepo(logger), connInmemory.NewRepo(logger), logger)
	sessionService := session.NewService(sessionRepo, broadcastService, clock, logger, session.Config{
		OrphanSessionTTL: cfg.OrphanSessionTTL,
	})

	connCfg := wsconn.DefaultConfig()
	connCfg.SendBufferSize = cfg.SendBufferSize

	return controller.NewController(sessionService, connCfg, logger).GetMux()
}

func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg)
	clock := clockwork.NewRealClock()

	sessionRepo, closeRepo, err := newSessionRepo(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)
	defer serverStopCtx()

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: NewHandler(sessionRepo, clock, cfg, logger),
		BaseContext: func(net.Listener) context.Context {
			return serverCtx
		},
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
		case <-serverCtx.Done():
		}

		shutdownCtx, c := context.WithTimeout(context.Background(), 30*time.Second)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		// hijacked websocket connections are not tracked by Shutdown, they
		// follow serverCtx instead
		serverStopCtx()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(shutdownCtx, "failed to shutdown server", "error", err)
		}
	}()

	logger.InfoContext(ctx, "starting server", "address", server.Addr, "registry", cfg.Registry)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-serverCtx.Done()

	return nil
}
