package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Run modes. Production refuses placeholder secrets.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Placeholder values shipped in defaults and sample files. They must never
// reach a production deployment.
const (
	DevJWTSecret         = "rotagate-dev-secret-change-me"
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin123"
)

// AppConfig represents the top-level rotagate configuration file.
type AppConfig struct {
	Mode     string         `yaml:"mode" mapstructure:"mode"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Security SecurityConfig `yaml:"security" mapstructure:"security"`
	Access   AccessConfig   `yaml:"access" mapstructure:"access"`
	Log      LoggingConfig  `yaml:"log" mapstructure:"log"`
	MCP      MCPConfig      `yaml:"mcp" mapstructure:"mcp"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host" mapstructure:"host"`
	Port            int        `yaml:"port" mapstructure:"port"`
	MaxBodyBytes    int64      `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	ShutdownTimeout string     `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CORS            CORSConfig `yaml:"cors" mapstructure:"cors"`
	// TrustProxy records X-Forwarded-For / X-Real-IP as the audit ip. Only
	// safe behind a reverse proxy that sets those headers itself.
	TrustProxy      bool       `yaml:"trust_proxy" mapstructure:"trust_proxy"`
}

// CORSConfig controls cross-origin resource sharing for the operator UI.
type CORSConfig struct {
	Origins []string `yaml:"origins" mapstructure:"origins"`
}

// StoreConfig selects the credential database.
type StoreConfig struct {
	Driver  string `yaml:"driver" mapstructure:"driver"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
}

// AuthConfig controls operator sessions and the machine access header.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	SessionTTL    string `yaml:"session_ttl" mapstructure:"session_ttl"`
	APIKeyHeader  string `yaml:"api_key_header" mapstructure:"api_key_header"`
	SeedAdmin     bool   `yaml:"seed_admin" mapstructure:"seed_admin"`
	AdminUsername string `yaml:"admin_username" mapstructure:"admin_username"`
	AdminPassword string `yaml:"admin_password" mapstructure:"admin_password"`
}

// SecurityConfig holds key derivation settings.
type SecurityConfig struct {
	Pepper     string `yaml:"pepper" mapstructure:"pepper"`
	BcryptCost int    `yaml:"bcrypt_cost" mapstructure:"bcrypt_cost"`
}

// AccessConfig shapes the resource granted on successful machine access.
type AccessConfig struct {
	AssetName string `yaml:"asset_name" mapstructure:"asset_name"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MCPConfig controls the MCP (Model Context Protocol) server.
type MCPConfig struct {
	Transport string `yaml:"transport" mapstructure:"transport"`
	Port      int    `yaml:"port" mapstructure:"port"`
}

// DefaultAppConfig returns an AppConfig pre-filled with sensible defaults.
// Secrets are left empty and must be supplied by the environment.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Mode: ModeDevelopment,
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
		},
		Auth: AuthConfig{
			SessionTTL:    "2h",
			APIKeyHeader:  "X-API-Key",
			SeedAdmin:     true,
			AdminUsername: DefaultAdminUsername,
			AdminPassword: DefaultAdminPassword,
		},
		Security: SecurityConfig{
			BcryptCost: bcrypt.DefaultCost,
		},
		Access: AccessConfig{
			AssetName: "demo-asset",
		},
		Log: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		MCP: MCPConfig{
			Transport: "stdio",
			Port:      3001,
		},
	}
}

// SessionTTLDuration parses auth.session_ttl.
func (c *AppConfig) SessionTTLDuration() (time.Duration, error) {
	return parsePositiveDuration("auth.session_ttl", c.Auth.SessionTTL)
}

// ShutdownTimeoutDuration parses server.shutdown_timeout.
func (c *AppConfig) ShutdownTimeoutDuration() (time.Duration, error) {
	return parsePositiveDuration("server.shutdown_timeout", c.Server.ShutdownTimeout)
}

func parsePositiveDuration(key, val string) (time.Duration, error) {
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, val)
	}
	return d, nil
}

// Validate checks the configuration for missing or unsafe settings. All
// problems are reported together.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Mode != ModeDevelopment && c.Mode != ModeProduction {
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeDevelopment, ModeProduction, c.Mode))
	}
	if c.Security.Pepper == "" {
		errs = append(errs, errors.New("security.pepper is required (set ROTAGATE_SECURITY_PEPPER)"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required (set ROTAGATE_AUTH_JWT_SECRET)"))
	}
	if cost := c.Security.BcryptCost; cost != 0 && (cost < bcrypt.MinCost || cost > bcrypt.MaxCost) {
		errs = append(errs, fmt.Errorf("security.bcrypt_cost must be within [%d, %d], got %d", bcrypt.MinCost, bcrypt.MaxCost, cost))
	}
	if _, ok := dialects[c.Store.Driver]; !ok {
		errs = append(errs, fmt.Errorf("store.driver %q is not one of %s", c.Store.Driver, strings.Join(DriverNames(), ", ")))
	} else if c.Store.Driver != DriverSQLite && c.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
	}
	if _, err := c.SessionTTLDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ShutdownTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.APIKeyHeader == "" {
		errs = append(errs, errors.New("auth.api_key_header must not be empty"))
	}
	if c.Auth.SeedAdmin && (c.Auth.AdminUsername == "" || c.Auth.AdminPassword == "") {
		errs = append(errs, errors.New("auth.admin_username and auth.admin_password are required when auth.seed_admin is set"))
	}

	if c.Mode == ModeProduction {
		if c.Auth.JWTSecret == DevJWTSecret {
			errs = append(errs, errors.New("auth.jwt_secret uses the development placeholder"))
		}
		if c.Security.Pepper == c.Auth.JWTSecret && c.Security.Pepper != "" {
			errs = append(errs, errors.New("security.pepper must differ from auth.jwt_secret"))
		}
		if c.Auth.SeedAdmin && c.Auth.AdminPassword == DefaultAdminPassword {
			errs = append(errs, errors.New("auth.admin_password uses the built-in default"))
		}
	}

	return errors.Join(errs...)
}

// LoadYAMLConfig reads and parses a YAML configuration file on top of the
// defaults. Environment variables referenced as ${VAR_NAME} in the file are
// expanded before parsing.
func LoadYAMLConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := DefaultAppConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// WriteDefaultConfig writes the default configuration to a YAML file. Secrets
// are written as environment references so the file is safe to commit.
func WriteDefaultConfig(path string) error {
	cfg := DefaultAppConfig()
	cfg.Auth.JWTSecret = "${ROTAGATE_AUTH_JWT_SECRET}"
	cfg.Security.Pepper = "${ROTAGATE_SECURITY_PEPPER}"
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
