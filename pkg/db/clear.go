package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearHandoffs truncates the handoff table. Schema is preserved.
func ClearHandoffs(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing handoff table", clearLogPrefix))

	if _, err := pool.Exec(ctx, `TRUNCATE TABLE handoff`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Handoff table cleared", clearLogPrefix))
	return nil
}
