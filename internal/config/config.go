package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Engine   EngineConfig
	Files    FilesConfig
	Auth     AuthConfig
	OIDC     OIDCConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/stackd.db"`
}

// EngineConfig holds provisioning engine configuration.
type EngineConfig struct {
	WorkDir      string `env:"ENGINE_WORK_DIR" envDefault:"./infra"`
	Project      string `env:"ENGINE_PROJECT" envDefault:"iac-sandbox"`
	CloudProject string `env:"GCP_PROJECT_ID"`
	Region       string `env:"GCP_REGION" envDefault:"us-central1"`
	AppImage     string `env:"APP_IMAGE"`
	Workers      int    `env:"ENGINE_WORKERS" envDefault:"4"`
	Fake         bool   `env:"ENGINE_FAKE" envDefault:"false"` // In-memory engine, no real provisioning
}

// FilesConfig holds infrastructure source file configuration.
type FilesConfig struct {
	Dir string `env:"INFRA_DIR" envDefault:"./infra"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	BootstrapAPIKey string `env:"BOOTSTRAP_API_KEY"`
}

// OIDCConfig holds OIDC authentication configuration.
type OIDCConfig struct {
	Enabled         bool          `env:"OIDC_ENABLED" envDefault:"false"`
	IssuerURL       string        `env:"OIDC_ISSUER_URL"`
	ClientID        string        `env:"OIDC_CLIENT_ID"`
	ClientSecret    string        `env:"OIDC_CLIENT_SECRET"`
	RedirectURL     string        `env:"OIDC_REDIRECT_URL"`
	Scopes          string        `env:"OIDC_SCOPES" envDefault:"openid,email,profile"`
	SessionSecret   string        `env:"OIDC_SESSION_SECRET"`
	SessionDuration time.Duration `env:"OIDC_SESSION_DURATION" envDefault:"24h"`
	AllowedDomains  string        `env:"OIDC_ALLOWED_DOMAINS"`
	LogoutURL       string        `env:"OIDC_LOGOUT_URL"`
}

// GetScopes returns the OIDC scopes as a slice.
func (c *OIDCConfig) GetScopes() []string {
	if c.Scopes == "" {
		return []string{"openid", "email", "profile"}
	}
	return strings.Split(c.Scopes, ",")
}

// GetAllowedDomains returns the allowed domains as a slice.
func (c *OIDCConfig) GetAllowedDomains() []string {
	if c.AllowedDomains == "" {
		return nil
	}
	domains := strings.Split(c.AllowedDomains, ",")
	for i := range domains {
		domains[i] = strings.TrimSpace(domains[i])
	}
	return domains
}

// GetSessionSecretBytes returns the session secret as bytes.
func (c *OIDCConfig) GetSessionSecretBytes() ([]byte, error) {
	if c.SessionSecret == "" {
		return nil, fmt.Errorf("OIDC_SESSION_SECRET is required")
	}
	// Try to decode as hex first (64 hex chars = 32 bytes)
	if len(c.SessionSecret) == 64 {
		decoded, err := hex.DecodeString(c.SessionSecret)
		if err == nil {
			return decoded, nil
		}
	}
	// Otherwise use as raw bytes (must be exactly 32 bytes)
	if len(c.SessionSecret) != 32 {
		return nil, fmt.Errorf("OIDC_SESSION_SECRET must be 32 bytes (or 64 hex characters)")
	}
	return []byte(c.SessionSecret), nil
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Engine); err != nil {
		return nil, fmt.Errorf("parsing engine config: %w", err)
	}
	if err := env.Parse(&cfg.Files); err != nil {
		return nil, fmt.Errorf("parsing files config: %w", err)
	}
	if err := env.Parse(&cfg.Auth); err != nil {
		return nil, fmt.Errorf("parsing auth config: %w", err)
	}
	if err := env.Parse(&cfg.OIDC); err != nil {
		return nil, fmt.Errorf("parsing oidc config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !c.Engine.Fake {
		if c.Engine.WorkDir == "" {
			return fmt.Errorf("ENGINE_WORK_DIR is required (or set ENGINE_FAKE for testing)")
		}
		if c.Engine.Project == "" {
			return fmt.Errorf("ENGINE_PROJECT is required (or set ENGINE_FAKE for testing)")
		}
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("ENGINE_WORKERS must be at least 1")
	}

	// Validate OIDC config when enabled
	if c.OIDC.Enabled {
		if c.OIDC.IssuerURL == "" {
			return fmt.Errorf("OIDC_ISSUER_URL is required when OIDC is enabled")
		}
		if c.OIDC.ClientID == "" {
			return fmt.Errorf("OIDC_CLIENT_ID is required when OIDC is enabled")
		}
		if c.OIDC.ClientSecret == "" {
			return fmt.Errorf("OIDC_CLIENT_SECRET is required when OIDC is enabled")
		}
		if c.OIDC.RedirectURL == "" {
			return fmt.Errorf("OIDC_REDIRECT_URL is required when OIDC is enabled")
		}
		if c.OIDC.SessionSecret == "" {
			return fmt.Errorf("OIDC_SESSION_SECRET is required when OIDC is enabled")
		}
		if _, err := c.OIDC.GetSessionSecretBytes(); err != nil {
			return err
		}
	}

	return nil
}

// UseFakeEngine returns true if the in-memory engine should be used
// instead of real provisioning.
func (c *Config) UseFakeEngine() bool {
	return c.Engine.Fake
}
