// Package config loads process configuration from defaults, an optional
// entitykit.yaml, a .env file and ENTITYKIT_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/matthewbaird/entitykit/internal/policy"
)

const (
	envPrefix      = "ENTITYKIT"
	configFileName = "entitykit"
	configFileType = "yaml"
)

// Config keys.
const (
	KeyPort          = "port"
	KeyDatabaseURL   = "database_url"
	KeyCatalogPath   = "catalog_path"
	KeyDefaultPolicy = "default_policy"
	KeySeed          = "seed"
	KeyLogDev        = "log.dev"
	KeySentryDSN     = "log.sentry_dsn"
	KeyEventsBuffer  = "events.buffer"
	KeyActivityCap   = "activity.capacity"
	KeyEventsOrigins = "events.allowed_origins"
)

// Config is the resolved process configuration.
type Config struct {
	Port          int
	DatabaseURL   string
	CatalogPath   string         // "" means the embedded catalogue
	DefaultPolicy policy.Default // "" keeps the catalogue's default
	Seed          bool
	LogDev        bool
	SentryDSN     string
	EventsBuffer  int

	// ActivityCapacity bounds the in-memory activity stream.
	ActivityCapacity int

	// EventsOrigins are extra origin patterns allowed to open /v1/events.
	EventsOrigins []string
}

// Options controls where Load looks.
type Options struct {
	ConfigDir string // directory searched for entitykit.yaml; "" means "."
	EnvFile   string // .env path; "" means ".env"
}

// Load resolves configuration. Missing config and .env files are not errors.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// A missing .env is expected outside development.
	_ = godotenv.Load(envFile)

	v := viper.New()
	v.SetDefault(KeyPort, 8080)
	v.SetDefault(KeyDatabaseURL, "file:entitykit.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	v.SetDefault(KeyCatalogPath, "")
	v.SetDefault(KeyDefaultPolicy, "")
	v.SetDefault(KeySeed, false)
	v.SetDefault(KeyLogDev, false)
	v.SetDefault(KeySentryDSN, "")
	v.SetDefault(KeyEventsBuffer, 256)
	v.SetDefault(KeyActivityCap, 10000)
	v.SetDefault(KeyEventsOrigins, []string{})

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	dir := opts.ConfigDir
	if dir == "" {
		dir = "."
	}
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:         v.GetInt(KeyPort),
		DatabaseURL:  v.GetString(KeyDatabaseURL),
		CatalogPath:  v.GetString(KeyCatalogPath),
		Seed:         v.GetBool(KeySeed),
		LogDev:       v.GetBool(KeyLogDev),
		SentryDSN:    v.GetString(KeySentryDSN),
		EventsBuffer: v.GetInt(KeyEventsBuffer),

		ActivityCapacity: v.GetInt(KeyActivityCap),
		EventsOrigins:    v.GetStringSlice(KeyEventsOrigins),
	}
	if raw := v.GetString(KeyDefaultPolicy); raw != "" {
		def, err := policy.ParseDefault(raw)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", KeyDefaultPolicy, err)
		}
		cfg.DefaultPolicy = def
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("config %s: invalid port %d", KeyPort, cfg.Port)
	}
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 256
	}
	return cfg, nil
}

// Addr returns the listen address for the configured port.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }
