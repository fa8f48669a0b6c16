package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/syncbeats/server/internal/catalog"
	"github.com/syncbeats/server/internal/controller"
	connInmemory "github.com/syncbeats/server/internal/repository/connection/inmemory"
	roomInmemory "github.com/syncbeats/server/internal/repository/room/inmemory"
	roomRedis "github.com/syncbeats/server/internal/repository/room/redis"
	domain "github.com/syncbeats/server/internal/room"
	"github.com/syncbeats/server/internal/service/room"
	"github.com/syncbeats/server/pkg/ctxlogger"
	"github.com/syncbeats/server/pkg/redisclient"
)

const (
	StorageMemory = "memory"
	StorageRedis  = "redis"

	roomExpiration  = 24 * time.Hour
	shutdownTimeout = 30 * time.Second
)

type AppConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	LogLevel       string        `json:"log_level"`
	MembersLimit   int           `json:"members_limit"`
	ChatLimit      int           `json:"chat_limit"`
	ControlMode    string        `json:"control_mode"`
	HostPolicy     string        `json:"host_policy"`
	DriftThreshold time.Duration `json:"drift_threshold"`
	Storage        string        `json:"storage"`
	RedisHost      string        `json:"redis_host"`
	RedisPort      int           `json:"redis_port"`
	RedisPassword  string        `json:"-"`
	CatalogPath    string        `json:"catalog_path"`
}

func (cfg *AppConfig) Validate() error {
	return validation.ValidateStruct(cfg,
		validation.Field(&cfg.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&cfg.MembersLimit, validation.Required, validation.Min(1)),
		validation.Field(&cfg.ChatLimit, validation.Required, validation.Min(1)),
		validation.Field(&cfg.ControlMode, validation.Required,
			validation.In(string(room.ControlModeOpen), string(room.ControlModeHostOnly))),
		validation.Field(&cfg.HostPolicy, validation.Required,
			validation.In(string(domain.HostPolicyTransfer), string(domain.HostPolicyTeardown))),
		validation.Field(&cfg.DriftThreshold, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&cfg.Storage, validation.Required, validation.In(StorageMemory, StorageRedis)),
		validation.Field(&cfg.LogLevel, LogLevelRule...),
	)
}

var LogLevelRule = []validation.Rule{
	validation.By(func(value any) error {
		level, _ := value.(string)
		_, err := parseLogLevel(level)
		return err
	}),
}

func parseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return l, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return l, nil
}

func newLogger(level string) (*slog.Logger, error) {
	logLevel, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	return slog.New(&h), nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}

	return catalog.Load(path)
}

type roomRepo interface {
	GetRoom(ctx context.Context, roomId string) (*domain.Room, error)
	SetRoom(ctx context.Context, room *domain.Room) error
	RemoveRoom(ctx context.Context, roomId string) error
	IsRoomExists(ctx context.Context, roomId string) (bool, error)
	GetRoomIds(ctx context.Context) ([]string, error)
}

// newRoomRepo returns the configured room storage and a function releasing
// it. Redis storage is wiped first since rooms never survive a restart.
func newRoomRepo(ctx context.Context, cfg *AppConfig) (roomRepo, func() error, error) {
	if cfg.Storage != StorageRedis {
		return roomInmemory.NewRepo(), func() error { return nil }, nil
	}

	rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	repo := roomRedis.NewRepo(rc, roomExpiration)
	if err := repo.Reset(ctx); err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("failed to reset room storage: %w", err)
	}

	return repo, rc.Close, nil
}

// newHandler wires storage, service and controller into the relay handler.
func newHandler(ctx context.Context, cfg *AppConfig, logger *slog.Logger) (http.Handler, func() error, error) {
	tracks, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, nil, err
	}

	repo, release, err := newRoomRepo(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	roomService := room.NewService(repo, connInmemory.NewRepo(), tracks, &room.Config{
		MembersLimit:   cfg.MembersLimit,
		ChatLimit:      cfg.ChatLimit,
		ControlMode:    room.ControlMode(cfg.ControlMode),
		HostPolicy:     domain.HostPolicy(cfg.HostPolicy),
		DriftThreshold: cfg.DriftThreshold,
	})
	c := controller.NewController(roomService, tracks, logger)

	return c.GetMux(), release, nil
}

func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	handler, release, err := newHandler(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			logger.Error("failed to release storage", "error", err)
		}
	}()

	server := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: handler}

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		shutdownCtx, c := context.WithTimeout(serverCtx, shutdownTimeout)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		err := server.Shutdown(shutdownCtx)
		if err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting server",
		"address", server.Addr,
		"storage", cfg.Storage,
		"control_mode", cfg.ControlMode,
		"host_policy", cfg.HostPolicy,
	)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()

	return nil
}
