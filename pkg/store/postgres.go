package store

import (
	"context"
	"errors"
	"time"

	"github.com/morezero/streamcall/pkg/db"
)

// Postgres stores values in the handoff table.
type Postgres struct {
	repo *db.Repository
	ttl  time.Duration
}

func NewPostgres(repo *db.Repository, ttl time.Duration) *Postgres {
	return &Postgres{repo: repo, ttl: ttl}
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	h, err := p.repo.GetHandoff(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return h.Value, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte) error {
	return p.repo.PutHandoff(ctx, db.PutHandoffParams{Key: key, Value: value, TTL: p.ttl})
}

func (p *Postgres) Del(ctx context.Context, key string) error {
	return p.repo.DeleteHandoff(ctx, key)
}
