package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/bonalyze/offer-sync/internal/embeddings"
)

// PGStore keeps offers in Postgres. It has the same surface as DB.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPG connects to dsn and creates the schema if needed. viaBouncer switches
// to the simple protocol for PgBouncer in transaction mode.
func OpenPG(ctx context.Context, dsn string, maxConns int, viaBouncer bool) (*PGStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg dsn")
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)
	if viaBouncer {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "pg connect")
	}
	s := &PGStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "init schema")
	}
	return s, nil
}

// Close releases the pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS offers (
		offer_id TEXT PRIMARY KEY,
		store TEXT NOT NULL,
		product_name TEXT NOT NULL,
		product_slug TEXT NOT NULL,
		price NUMERIC(10,2) NOT NULL,
		original_price NUMERIC(10,2) NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		valid_from TIMESTAMPTZ,
		valid_until TIMESTAMPTZ,
		image_url TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL,
		embedding BYTEA,
		scraped_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_offers_store_scraped ON offers(store, scraped_at);
	CREATE INDEX IF NOT EXISTS idx_offers_valid_until ON offers(valid_until);
	CREATE TABLE IF NOT EXISTS product_embeddings_cache (
		name TEXT PRIMARY KEY,
		embedding BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`)
	return err
}

const pgUpsert = `
INSERT INTO offers (` + offerColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (offer_id) DO UPDATE SET
	store = EXCLUDED.store,
	product_name = EXCLUDED.product_name,
	product_slug = EXCLUDED.product_slug,
	price = EXCLUDED.price,
	original_price = EXCLUDED.original_price,
	unit = EXCLUDED.unit,
	amount = EXCLUDED.amount,
	currency = EXCLUDED.currency,
	category = EXCLUDED.category,
	valid_from = EXCLUDED.valid_from,
	valid_until = EXCLUDED.valid_until,
	image_url = EXCLUDED.image_url,
	source_url = EXCLUDED.source_url,
	embedding = EXCLUDED.embedding,
	scraped_at = EXCLUDED.scraped_at`

// UpsertOffers queues every row into one batch inside a transaction.
func (s *PGStore) UpsertOffers(ctx context.Context, rows []OfferRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	for _, r := range rows {
		b.Queue(pgUpsert,
			r.OfferID, r.Store, r.ProductName, r.ProductSlug, r.Price, r.OriginalPrice,
			r.Unit, r.Amount, r.Currency, r.Category, utcPtr(r.ValidFrom), utcPtr(r.ValidUntil),
			r.ImageURL, r.SourceURL, embeddingBlob(r.Embedding), r.ScrapedAt.UTC(),
		)
	}
	br := tx.SendBatch(ctx, b)
	for _, r := range rows {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrapf(err, "upsert offer %s", r.OfferID)
		}
	}
	if err := br.Close(); err != nil {
		return errors.Wrap(err, "close batch")
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

// DeleteStale removes a store's rows last seen strictly before before.
func (s *PGStore) DeleteStale(ctx context.Context, store string, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM offers WHERE store = $1 AND scraped_at < $2`, store, before.UTC())
	if err != nil {
		return 0, errors.Wrapf(err, "delete stale %s", store)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes rows whose validity ended before now.
func (s *PGStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM offers WHERE valid_until IS NOT NULL AND valid_until < $1`, now.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "delete expired")
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of offers.
func (s *PGStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM offers`).Scan(&n)
	return n, err
}

// CountByStore returns the number of offers per store.
func (s *PGStore) CountByStore(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT store, COUNT(*) FROM offers GROUP BY store`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var store string
		var n int
		if err := rows.Scan(&store, &n); err != nil {
			return nil, err
		}
		out[store] = n
	}
	return out, rows.Err()
}

// Get retrieves an offer by id; a missing offer is (nil, nil).
func (s *PGStore) Get(ctx context.Context, offerID string) (*OfferRow, error) {
	r, err := scanPGOffer(s.pool.QueryRow(ctx, `SELECT `+offerColumns+` FROM offers WHERE offer_id = $1`, offerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// List returns the offers of one store, or of all stores when store is "".
func (s *PGStore) List(ctx context.Context, store string) ([]*OfferRow, error) {
	query := `SELECT ` + offerColumns + ` FROM offers`
	var args []any
	if store != "" {
		query += ` WHERE store = $1`
		args = append(args, store)
	}
	query += ` ORDER BY store, product_name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OfferRow
	for rows.Next() {
		r, err := scanPGOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanPGOffer(row pgx.Row) (*OfferRow, error) {
	var (
		r         OfferRow
		embedding []byte
	)
	err := row.Scan(
		&r.OfferID, &r.Store, &r.ProductName, &r.ProductSlug, &r.Price, &r.OriginalPrice,
		&r.Unit, &r.Amount, &r.Currency, &r.Category, &r.ValidFrom, &r.ValidUntil,
		&r.ImageURL, &r.SourceURL, &embedding, &r.ScrapedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Embedding = embeddings.Deserialize(embedding)
	r.ScrapedAt = r.ScrapedAt.UTC()
	return &r, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// EmbeddingCache exposes product_embeddings_cache as an embeddings.Cache.
func (s *PGStore) EmbeddingCache() embeddings.Cache {
	return pgEmbeddingCache{pool: s.pool}
}

type pgEmbeddingCache struct {
	pool *pgxpool.Pool
}

func (c pgEmbeddingCache) Lookup(ctx context.Context, names []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(names))
	if len(names) == 0 {
		return out, nil
	}
	rows, err := c.pool.Query(ctx, `SELECT name, embedding FROM product_embeddings_cache WHERE name = ANY($1)`, names)
	if err != nil {
		return nil, errors.Wrap(err, "lookup embeddings")
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var blob []byte
		if err := rows.Scan(&name, &blob); err != nil {
			return nil, err
		}
		if vec := embeddings.Deserialize(blob); vec != nil {
			out[name] = vec
		}
	}
	return out, rows.Err()
}

func (c pgEmbeddingCache) Store(ctx context.Context, vectors map[string][]float32) error {
	b := &pgx.Batch{}
	for name, vec := range vectors {
		b.Queue(`INSERT INTO product_embeddings_cache (name, embedding, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (name) DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = now()`,
			name, embeddings.Serialize(vec))
	}
	if b.Len() == 0 {
		return nil
	}
	return errors.Wrap(c.pool.SendBatch(ctx, b).Close(), "store embeddings")
}
