package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/david/bid-tracker/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Store  db.Config    `yaml:"store" mapstructure:"store"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
	Ingest IngestConfig `yaml:"ingest" mapstructure:"ingest"`
	Fetch  FetchConfig  `yaml:"fetch" mapstructure:"fetch"`
	Auth   AuthConfig   `yaml:"auth" mapstructure:"auth"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// IngestConfig configures ingestion runs.
type IngestConfig struct {
	// SourcesFile is the source registry. Empty uses the built-in list.
	SourcesFile      string `yaml:"sources_file" mapstructure:"sources_file"`
	HistoryRetention int    `yaml:"history_retention" mapstructure:"history_retention"`
	// RunTimeoutMins bounds a background run started from the API.
	RunTimeoutMins int `yaml:"run_timeout_mins" mapstructure:"run_timeout_mins"`
}

// FetchConfig holds the default fetcher settings. Sources may override them.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	DelayMillis int    `yaml:"delay_ms" mapstructure:"delay_ms"`
}

// AuthConfig holds the single operator's credentials.
type AuthConfig struct {
	Username      string `yaml:"username" mapstructure:"username"`
	PasswordHash  string `yaml:"password_hash" mapstructure:"password_hash"`
	JWTSecret     string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours" mapstructure:"token_ttl_hours"`
}

// TokenTTL returns the token lifetime.
func (a AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.TokenTTLHours) * time.Hour
}

// Load reads configuration from config.yaml (optional) and BIDTRACK_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BIDTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", db.DriverSQLite)
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "bidtracker.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.cors_origins", []string{"http://localhost:4200"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("ingest.sources_file", "")
	v.SetDefault("ingest.history_retention", 30)
	v.SetDefault("ingest.run_timeout_mins", 30)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.delay_ms", 1000)
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password_hash", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl_hours", 24)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
