// Package db provides the Postgres side of the hand-off store: pgx pooling,
// SQL migrations and the handoff table repository.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// migrationLockID keys the advisory lock held while migrations run, so a
// server and its workers starting together apply them once.
const migrationLockID = 0x73747263616c6c // "strcall"

// Hand-off traffic is a handful of short statements per offloaded stream.
const (
	poolMaxConns = 8
	poolMinConns = 1
)

// NewPool creates a pgx connection pool from the given database URL and
// checks it can reach the server.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", logPrefix))

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}
	config.MaxConns = poolMaxConns
	config.MinConns = poolMinConns

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established (max %d conns)", logPrefix, config.MaxConns))
	return pool, nil
}

// RunMigrations applies SQL migration files in order, in one transaction
// under an advisory lock.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrationFiles []string) error {
	slog.Info(fmt.Sprintf("%s - Running %d migrations", logPrefix, len(migrationFiles)))

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(migrationLockID)); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		for i, sql := range migrationFiles {
			if _, err := tx.Exec(ctx, sql); err != nil {
				return fmt.Errorf("file %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s - migration failed: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete", logPrefix))
	return nil
}

// Status describes the schema as seen by MigrationStatus.
type Status struct {
	Applied bool
	Files   int
	Source  string
}

func (s Status) String() string {
	if s.Applied {
		return fmt.Sprintf("Migration status: applied (schema present, %d migration files in %s)", s.Files, s.Source)
	}
	return fmt.Sprintf("Migration status: not applied (run 'streamcall migrate up'). %d migration files in %s", s.Files, s.Source)
}

// MigrationStatus reports whether migrations have been applied, by checking
// for the handoff table.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string) (Status, error) {
	const statusLogPrefix = "db:MigrationStatus"

	var st Status
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = 'handoff')`).Scan(&st.Applied)
	if err != nil {
		return st, fmt.Errorf("%s - failed to check schema: %w", statusLogPrefix, err)
	}

	files, err := LoadMigrationFiles(migrationPath)
	if err != nil {
		return st, fmt.Errorf("%s - load migration list: %w", statusLogPrefix, err)
	}
	st.Files = len(files)
	st.Source = migrationPath
	if st.Source == "" {
		st.Source = "the binary"
	}
	return st, nil
}
