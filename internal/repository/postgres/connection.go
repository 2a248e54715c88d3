package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cadence/internal/domain/repositories"
)

// RepositoryConfig holds configuration for repository implementations
type RepositoryConfig struct {
	Pool   *pgxpool.Pool
	Tables *TableNames
	Logger *slog.Logger
}

// TableNames holds dynamically prefixed table names
type TableNames struct {
	Sessions       string
	SessionHistory string
}

// NewTableNames creates table names with the given prefix (e.g., "dev_")
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Sessions:       fmt.Sprintf("%ssessions", prefix),
		SessionHistory: fmt.Sprintf("%ssession_history", prefix),
	}
}

// CreateConnectionPool creates a pgx connection pool and verifies it with a ping.
//
// PgBouncer in transaction pooling mode (port 6543 on Supabase) does not
// support prepared statements, so that port switches to
// QueryExecModeCacheDescribe unless the connection string already sets
// default_query_exec_mode. Direct connections keep prepared statements.
//
// Table prefixes are interpolated with fmt.Sprintf before the SQL reaches the
// database, so each prefix gets its own prepared statements.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	// CacheDescribe keeps the extended protocol (needed for JSONB params)
	// without creating server-side prepared statements.
	if config.ConnConfig.Port == 6543 && config.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
		slog.Debug("auto-configured cache_describe mode for PgBouncer compatibility", "port", 6543)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// GetExecutor returns the transaction carried by ctx, or pool when there is none.
func GetExecutor(ctx context.Context, pool *pgxpool.Pool) repositories.DBTX {
	if tx := repositories.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}
