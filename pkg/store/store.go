// Package store is the minimal key/value hand-off used to pass call frames
// that are too large to travel inline on the bus.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/morezero/streamcall/pkg/db"
)

const logPrefix = "store:store"

// ErrNotFound is returned by Get when a key holds no value.
var ErrNotFound = errors.New("store: key not found")

// Store holds opaque values under string keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
}

const (
	KindMemory   = "memory"
	KindPostgres = "postgres"
	KindS3       = "s3"
)

// OpenParams holds the backend settings for Open.
type OpenParams struct {
	// Repository backs the postgres store.
	Repository *db.Repository
	// TTL bounds how long a postgres row stays readable.
	TTL time.Duration
	S3  S3Config
}

// Open returns the store named by kind.
func Open(ctx context.Context, kind string, p OpenParams) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindMemory:
		return NewMemory(), nil
	case KindPostgres:
		if p.Repository == nil {
			return nil, fmt.Errorf("%s - postgres store needs a repository", logPrefix)
		}
		return NewPostgres(p.Repository, p.TTL), nil
	case KindS3:
		return NewS3(ctx, p.S3)
	}
	return nil, fmt.Errorf("%s - unknown store %q", logPrefix, kind)
}
