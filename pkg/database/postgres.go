package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrMissingURL is returned when no connection string is configured.
var ErrMissingURL = errors.New("DATABASE_URL environment variable is required")

// PostgresDB owns the pool backing the profile store.
type PostgresDB struct {
	Pool *pgxpool.Pool
}

type poolSettings struct {
	maxConns        int32
	minConns        int32
	connectTimeout  time.Duration
	applicationName string
}

// Option tunes the pool before it is opened.
type Option func(*poolSettings)

// WithMaxConns caps the pool size.
func WithMaxConns(n int32) Option {
	return func(s *poolSettings) { s.maxConns = n }
}

// WithConnectTimeout bounds each dial.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *poolSettings) { s.connectTimeout = d }
}

// WithApplicationName tags sessions in pg_stat_activity.
func WithApplicationName(name string) Option {
	return func(s *poolSettings) { s.applicationName = name }
}

// NewPostgresDB opens and pings a pool. Profile lookups are short point
// reads so the defaults stay small.
func NewPostgresDB(ctx context.Context, databaseURL string, opts ...Option) (*PostgresDB, error) {
	if databaseURL == "" {
		return nil, ErrMissingURL
	}

	settings := poolSettings{
		maxConns:        10,
		minConns:        2,
		connectTimeout:  5 * time.Second,
		applicationName: "nutri-auth",
	}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.minConns > settings.maxConns {
		settings.minConns = settings.maxConns
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.MaxConns = settings.maxConns
	config.MinConns = settings.minConns
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute
	config.ConnConfig.ConnectTimeout = settings.connectTimeout
	// poolers in transaction mode reject cached prepared statements
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec
	config.ConnConfig.RuntimeParams["application_name"] = settings.applicationName

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

// InTx runs fn inside a transaction, committing only when fn succeeds.
func (db *PostgresDB) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Stats summarizes pool usage for startup and health logs.
func (db *PostgresDB) Stats() map[string]interface{} {
	st := db.Pool.Stat()
	return map[string]interface{}{
		"total_conns":    st.TotalConns(),
		"idle_conns":     st.IdleConns(),
		"acquired_conns": st.AcquiredConns(),
		"max_conns":      st.MaxConns(),
	}
}

// Close releases the pool.
func (db *PostgresDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Health pings one pooled connection.
func (db *PostgresDB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
