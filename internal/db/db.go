package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Config selects and configures the store backend.
type Config struct {
	Driver      string `mapstructure:"driver"`
	DatabaseURL string `mapstructure:"database_url"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Connect opens a pgx pool and checks it is reachable.
func Connect(ctx context.Context, dbURL string, maxConns int32) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return pool, nil
}

// Open connects the configured backend and applies pending migrations before returning,
// so the store never serves traffic on an old schema.
func Open(ctx context.Context, cfg Config, opts ...Option) (Store, error) {
	switch cfg.Driver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, eris.New("postgres: store.database_url is required")
		}
		pool, err := Connect(ctx, cfg.DatabaseURL, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		if err := ApplyMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		zap.L().Info("store opened", zap.String("driver", cfg.Driver))
		return NewPostgresStore(pool, opts...), nil

	case DriverSQLite, "":
		path := cfg.SQLitePath
		if path == "" {
			path = "bidtracker.db"
		}
		st, err := NewSQLite(path, opts...)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		zap.L().Info("store opened", zap.String("driver", DriverSQLite), zap.String("path", path))
		return st, nil
	}
	return nil, eris.Errorf("unknown store driver %q", cfg.Driver)
}
