package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"checkin/internal/config"
	"checkin/internal/google"
	"checkin/internal/icloud"
	"checkin/internal/memstore"
	"checkin/internal/models"
	"checkin/internal/reconcile"
	"checkin/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "Path to a YAML config file.", EnvVars: []string{"CHECKIN_CONFIG"}},
		&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error.", EnvVars: []string{"LOG_LEVEL"}},
		&cli.StringFlag{Name: "backend", Usage: "Remote calendar: google, caldav or memory."},
		&cli.BoolFlag{Name: "demo-mode", Usage: "Run against an in-memory calendar."},
		&cli.StringFlag{Name: "timezone", Usage: "IANA timezone of event times."},
		&cli.StringFlag{Name: "calendar-id", Usage: "Default calendar id."},
	}
}

// loadConfig applies defaults, the config file, the environment and flags in
// increasing precedence.
func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	logger := setupLogger(c.String("log-level"))

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, nil, err
	}
	if c.IsSet("backend") {
		cfg.Backend = c.String("backend")
	}
	if c.IsSet("demo-mode") {
		cfg.DemoMode = c.Bool("demo-mode")
	}
	if c.IsSet("timezone") {
		cfg.Timezone = c.String("timezone")
	}
	if c.IsSet("calendar-id") {
		cfg.Calendars.Default = c.String("calendar-id")
	}
	cfg.Normalize(logger)
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logger, nil
}

type deps struct {
	cfg    *config.Config
	logger *slog.Logger
	store  models.Store
	svc    *service.Service
}

func newDeps(c *cli.Context) (*deps, error) {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	store, offline, err := openStore(c.Context, logger, cfg)
	if err != nil {
		return nil, err
	}
	svc, err := buildService(logger, cfg, store, offline)
	if err != nil {
		return nil, err
	}
	return &deps{cfg: cfg, logger: logger, store: store, svc: svc}, nil
}

// openStore returns the configured remote calendar. Missing credentials are
// not fatal: the returned store fails every call with ErrAuthRequired.
func openStore(ctx context.Context, logger *slog.Logger, cfg *config.Config) (models.Store, bool, error) {
	if cfg.DemoMode || cfg.Backend == config.BackendMemory {
		logger.Info("Using the in-memory demo calendar.")
		return memstore.New(), false, nil
	}

	var (
		store models.Store
		err   error
	)
	switch cfg.Backend {
	case config.BackendCalDAV:
		store, err = icloud.NewClient(logger, icloud.Options{
			Endpoint: cfg.CalDAV.Endpoint,
			Username: cfg.CalDAV.Username,
			Password: cfg.CalDAV.Password,
		})
	default:
		store, err = google.NewClient(ctx, logger, googleOptions(cfg))
	}
	if errors.Is(err, models.ErrAuthRequired) {
		logger.Warn("No calendar credentials, calendar calls will fail until authorized.", "backend", cfg.Backend, "error", err)
		return service.Unavailable(err), true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create %s client: %w", cfg.Backend, err)
	}
	return store, false, nil
}

func buildService(logger *slog.Logger, cfg *config.Config, store models.Store, offline bool) (*service.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	popts, err := cfg.PlannerOptions()
	if err != nil {
		return nil, err
	}
	locker, err := newLocker(logger, cfg)
	if err != nil {
		return nil, err
	}
	return service.New(logger, store, service.Options{
		Planner: popts,
		Engine: reconcile.Options{
			Calendars: cfg.Calendars,
			Location:  loc,
			Duration:  cfg.Duration(),
			Locker:    locker,
		},
		AttendeesEnabled: cfg.Attendees.Enabled,
		AttendeeEmail:    cfg.Attendees.Email,
		MarkDemo:         cfg.MarkDemo,
		DemoMode:         cfg.DemoMode || cfg.Backend == config.BackendMemory,
		Offline:          offline,
	})
}

// newLocker returns a Redis locker when redis.url is set. A nil Locker makes
// the engine fall back to its in-process mutex.
func newLocker(logger *slog.Logger, cfg *config.Config) (reconcile.Locker, error) {
	if cfg.Redis.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	logger.Info("Serialising check-ins through Redis.", "addr", opts.Addr)
	return reconcile.NewRedisLocker(redis.NewClient(opts), reconcile.RedisLockerOptions{TTL: cfg.Redis.LockTTL}), nil
}

func googleOptions(cfg *config.Config) google.Options {
	return google.Options{
		CredentialsPath: cfg.Google.CredentialsPath,
		TokenPath:       cfg.Google.TokenPath,
		ClientID:        cfg.Google.ClientID,
		ClientSecret:    cfg.Google.ClientSecret,
		RedirectURL:     cfg.Google.RedirectURL,
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}
