package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

// ErrNotFound is returned when a key has no live row.
var ErrNotFound = errors.New("db: handoff not found")

// Handoff is one row of the handoff table.
type Handoff struct {
	Key     string
	Value   []byte
	Created time.Time
	Expires *time.Time
}

// Repository provides database access for hand-off frames.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetHandoff returns the row for key unless it has expired.
func (r *Repository) GetHandoff(ctx context.Context, key string) (*Handoff, error) {
	slog.Debug(fmt.Sprintf("%s - GetHandoff key=%s", repoLogPrefix, key))

	row := r.pool.QueryRow(ctx,
		`SELECT key, value, created, expires
		 FROM handoff
		 WHERE key = $1 AND (expires IS NULL OR expires > now())
		 LIMIT 1`, key)

	var h Handoff
	if err := row.Scan(&h.Key, &h.Value, &h.Created, &h.Expires); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s - GetHandoff: %w", repoLogPrefix, err)
	}
	return &h, nil
}

// PutHandoffParams holds parameters for PutHandoff.
type PutHandoffParams struct {
	Key   string
	Value []byte
	// TTL of zero keeps the row until it is deleted.
	TTL time.Duration
}

// PutHandoff creates or replaces the row for a key.
func (r *Repository) PutHandoff(ctx context.Context, params PutHandoffParams) error {
	slog.Debug(fmt.Sprintf("%s - PutHandoff key=%s bytes=%d", repoLogPrefix, params.Key, len(params.Value)))

	var expires *time.Time
	if params.TTL > 0 {
		t := time.Now().UTC().Add(params.TTL)
		expires = &t
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO handoff (key, value, created, expires)
		 VALUES ($1, $2, now(), $3)
		 ON CONFLICT (key) DO UPDATE SET
		   value = EXCLUDED.value,
		   created = EXCLUDED.created,
		   expires = EXCLUDED.expires`,
		params.Key, params.Value, expires)
	if err != nil {
		return fmt.Errorf("%s - PutHandoff: %w", repoLogPrefix, err)
	}
	return nil
}

// DeleteHandoff removes the row for key. Deleting a missing key is not an error.
func (r *Repository) DeleteHandoff(ctx context.Context, key string) error {
	slog.Debug(fmt.Sprintf("%s - DeleteHandoff key=%s", repoLogPrefix, key))

	if _, err := r.pool.Exec(ctx, `DELETE FROM handoff WHERE key = $1`, key); err != nil {
		return fmt.Errorf("%s - DeleteHandoff: %w", repoLogPrefix, err)
	}
	return nil
}

// PurgeHandoffs removes expired rows and returns how many were deleted.
func (r *Repository) PurgeHandoffs(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM handoff WHERE expires IS NOT NULL AND expires <= now()`)
	if err != nil {
		return 0, fmt.Errorf("%s - PurgeHandoffs: %w", repoLogPrefix, err)
	}
	if n := tag.RowsAffected(); n > 0 {
		slog.Info(fmt.Sprintf("%s - Purged %d expired handoffs", repoLogPrefix, n))
	}
	return tag.RowsAffected(), nil
}
