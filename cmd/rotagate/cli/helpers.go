package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rotagate/rotagate/internal/config"
	"github.com/rotagate/rotagate/internal/metrics"
	"github.com/rotagate/rotagate/internal/secret"
	"github.com/rotagate/rotagate/internal/service"
)

// cliActor is the audit actor for operations run from the command line.
const cliActor = "cli"

// setDefaults registers every config key of d with viper so environment
// variables resolve even when no config file exists.
func setDefaults(d *config.AppConfig) {
	viper.SetDefault("mode", d.Mode)
	viper.SetDefault("server.host", d.Server.Host)
	viper.SetDefault("server.port", d.Server.Port)
	viper.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	viper.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	viper.SetDefault("server.cors.origins", d.Server.CORS.Origins)
	viper.SetDefault("server.trust_proxy", d.Server.TrustProxy)
	viper.SetDefault("store.driver", d.Store.Driver)
	viper.SetDefault("store.dsn", d.Store.DSN)
	viper.SetDefault("store.data_dir", d.Store.DataDir)
	viper.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	viper.SetDefault("auth.session_ttl", d.Auth.SessionTTL)
	viper.SetDefault("auth.api_key_header", d.Auth.APIKeyHeader)
	viper.SetDefault("auth.seed_admin", d.Auth.SeedAdmin)
	viper.SetDefault("auth.admin_username", d.Auth.AdminUsername)
	viper.SetDefault("auth.admin_password", d.Auth.AdminPassword)
	viper.SetDefault("security.pepper", d.Security.Pepper)
	viper.SetDefault("security.bcrypt_cost", d.Security.BcryptCost)
	viper.SetDefault("access.asset_name", d.Access.AssetName)
	viper.SetDefault("log.level", d.Log.Level)
	viper.SetDefault("log.format", d.Log.Format)
	viper.SetDefault("mcp.transport", d.MCP.Transport)
	viper.SetDefault("mcp.port", d.MCP.Port)
}

// loadAppConfig unmarshals the effective configuration from viper. In dev
// mode a missing signing secret is replaced by the development placeholder.
func loadAppConfig(dev bool) (*config.AppConfig, error) {
	if cfgErr != nil {
		return nil, fmt.Errorf("load %s: %w", cfgFile, cfgErr)
	}
	cfg := config.DefaultAppConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	// Searched files written by 'config init' reference secrets as ${VAR}.
	for _, s := range []*string{&cfg.Auth.JWTSecret, &cfg.Auth.AdminPassword, &cfg.Security.Pepper, &cfg.Store.DSN} {
		*s = os.ExpandEnv(*s)
	}
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = defaultDataDir()
	}
	if dev && cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = config.DevJWTSecret
	}
	return cfg, nil
}

// defaultDataDir is ~/.rotagate.
func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".rotagate")
}

// newLogger builds the process logger from log.level and log.format. dev
// forces debug level.
func newLogger(cfg config.LoggingConfig, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openStore opens the configured credential store.
func openStore(cfg *config.AppConfig) (*config.Store, error) {
	return config.Open(config.StoreOptions{
		Driver:  cfg.Store.Driver,
		DSN:     cfg.Store.DSN,
		DataDir: cfg.Store.DataDir,
	})
}

// app is the fully wired service graph shared by serve, mcp and the
// store-backed subcommands.
type app struct {
	cfg     *config.AppConfig
	logger  *slog.Logger
	store   *config.Store
	auth    *service.AuthService
	audit   *service.Auditor
	keys    *service.KeyService
	metrics *metrics.Metrics
}

// buildApp validates cfg, opens the store and wires the services. The caller
// must Close the returned app.
func buildApp(cfg *config.AppConfig, logger *slog.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	ttl, err := cfg.SessionTTLDuration()
	if err != nil {
		return nil, err
	}

	deriver, err := secret.New(secret.Options{Pepper: cfg.Security.Pepper, Cost: cfg.Security.BcryptCost})
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	auth, err := service.NewAuthService(store, deriver, service.AuthOptions{JWTSecret: cfg.Auth.JWTSecret, SessionTTL: ttl})
	if err != nil {
		store.Close()
		return nil, err
	}

	m := metrics.New(store, logger)
	audit := service.NewAuditor(store, logger, m.AuditFailures())
	keys := service.NewKeyService(store, deriver, auth, audit, logger, service.KeyServiceOptions{AssetName: cfg.Access.AssetName})

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		auth:    auth,
		audit:   audit,
		keys:    keys,
		metrics: m,
	}, nil
}

// openApp loads the configuration and builds the app with a logger that
// only reports warnings, for one-shot subcommands.
func openApp() (*app, error) {
	cfg, err := loadAppConfig(false)
	if err != nil {
		return nil, err
	}
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: cfg.Log.Format}, false)
	return buildApp(cfg, logger)
}

// Close releases the store.
func (a *app) Close() error {
	return a.store.Close()
}

// cmdContext returns a context bounded for one-shot CLI operations.
func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
