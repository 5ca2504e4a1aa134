package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config represents the application configuration structure
type Config struct {
	Environment   string `default:"dev"`
	ListenAddress string `split_words:"true" default:":8080"`
	AllowedOrigin string `split_words:"true" default:"*"`

	TLSEnabled  bool   `envconfig:"TLS_ENABLED"`
	TLSCertFile string `envconfig:"TLS_CERT_FILE"`
	TLSKeyFile  string `envconfig:"TLS_KEY_FILE"`

	// DirectoryDSN points at the platform directory database holding the
	// provisioned services and their node/VM coordinates.
	DirectoryDSN string `envconfig:"DIRECTORY_DSN" required:"true"`

	OIDCProviderURL string `envconfig:"OIDC_PROVIDER_URL" required:"true"`
	OIDCClientID    string `envconfig:"OIDC_CLIENT_ID"`

	UpstreamHost        string `split_words:"true" required:"true"`
	UpstreamUsername    string `split_words:"true" required:"true"`
	UpstreamPassword    string `split_words:"true" required:"true"`
	UpstreamRealm       string `split_words:"true" default:"pve"`
	UpstreamInsecureTLS bool   `split_words:"true"`

	SessionMaxAge        time.Duration `split_words:"true" default:"5m"`
	SessionSweepInterval time.Duration `split_words:"true" default:"1m"`
}

// LoadFromEnv loads a new configuration structure using environment variables and an optional .env file
func LoadFromEnv() (*Config, error) {
	// Load a .env file if it exists
	_ = godotenv.Overload()

	// Load a new configuration structure using environment variables
	config := new(Config)
	if err := envconfig.Process("cs", config); err != nil {
		return nil, err
	}
	return config, nil
}

// IsEnvProduction returns whether the application runs in a production environment
func (config *Config) IsEnvProduction() bool {
	return strings.EqualFold(config.Environment, "prod") || strings.EqualFold(config.Environment, "production")
}
