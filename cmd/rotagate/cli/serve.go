package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rotagate/rotagate/internal/config"
	"github.com/rotagate/rotagate/internal/server"
)

const banner = `
           _
 _ __ ___ | |_ __ _  __ _  __ _| |_ ___
| '__/ _ \| __/ _' |/ _' |/ _' | __/ _ \
| | | (_) | || (_| | (_| | (_| | ||  __/
|_|  \___/ \__\__,_|\__, |\__,_|\__\___|
                    |___/
`

func newServeCmd() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the rotagate API server",
		Long: `Start the HTTP server that issues, rotates and revokes API keys.

The pepper (ROTAGATE_SECURITY_PEPPER) and the session signing secret
(ROTAGATE_AUTH_JWT_SECRET) are required. With --dev a missing signing secret
is replaced by a development placeholder and logging is verbose.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), dev)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging, placeholder signing secret)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(ctx context.Context, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadAppConfig(dev)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, dev)
	if dev && cfg.Auth.JWTSecret == config.DevJWTSecret {
		logger.Warn("using the development signing secret; set ROTAGATE_AUTH_JWT_SECRET before exposing this server")
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	logger.Info("credential store initialized", "driver", a.store.Driver(), "data_dir", cfg.Store.DataDir)
	logger.Info("operator sessions configured", "ttl", a.auth.SessionTTL(), "trust_proxy", cfg.Server.TrustProxy)

	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Auth.SeedAdmin {
		created, err := a.auth.EnsureAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword)
		if err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		if created {
			logger.Warn("seeded the built-in admin account; change its password for anything but local use",
				"username", cfg.Auth.AdminUsername)
		}
	}

	shutdown, err := cfg.ShutdownTimeoutDuration()
	if err != nil {
		return err
	}
	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: shutdown,
		CORSOrigins:     cfg.Server.CORS.Origins,
		MaxBodySize:     cfg.Server.MaxBodyBytes,
		APIKeyHeader:    cfg.Auth.APIKeyHeader,
		Version:         versionString(),
		TrustProxy:      cfg.Server.TrustProxy,
	}
	srv := server.New(srvCfg, server.Services{
		Store:   a.store,
		Auth:    a.auth,
		Keys:    a.keys,
		Audit:   a.audit,
		Metrics: a.metrics,
	}, logger)

	base := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ rotagate %s\n", versionString())
	fmt.Printf("→ Listening on %s\n", base)
	fmt.Printf("→ OpenAPI:    %s/openapi.json\n", base)
	fmt.Printf("→ Metrics:    %s/metrics\n", base)
	fmt.Printf("→ Health:     %s/healthz\n", base)
	fmt.Println()

	return srv.ListenAndServe(ctx)
}
