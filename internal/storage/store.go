package storage

import (
	"context"
	"time"

	"github.com/bonalyze/offer-sync/internal/embeddings"
)

// Store is the offer table, backed by SQLite (DB) or Postgres (PGStore).
type Store interface {
	UpsertOffers(ctx context.Context, rows []OfferRow) error
	DeleteStale(ctx context.Context, store string, before time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Count(ctx context.Context) (int, error)
	CountByStore(ctx context.Context) (map[string]int, error)
	Get(ctx context.Context, offerID string) (*OfferRow, error)
	List(ctx context.Context, store string) ([]*OfferRow, error)
	EmbeddingCache() embeddings.Cache
	Close() error
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*PGStore)(nil)
)
