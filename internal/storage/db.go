package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/bonalyze/offer-sync/internal/embeddings"
)

// DB wraps SQLite database operations
type DB struct {
	db *sql.DB
}

// Open opens or creates a SQLite database
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	// WAL plus a busy timeout lets the serve command read while a sync writes.
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "exec %q", pragma)
		}
	}

	storage := &DB{db: db}
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init schema")
	}
	return storage, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// initSchema creates tables if they don't exist
func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS offers (
		offer_id TEXT PRIMARY KEY,
		store TEXT NOT NULL,
		product_name TEXT NOT NULL,
		product_slug TEXT NOT NULL,
		price TEXT NOT NULL,
		original_price TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		valid_from INTEGER,
		valid_until INTEGER,
		image_url TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL,
		embedding BLOB,
		scraped_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_offers_store_scraped ON offers(store, scraped_at);
	CREATE INDEX IF NOT EXISTS idx_offers_valid_until ON offers(valid_until);
	CREATE INDEX IF NOT EXISTS idx_offers_category ON offers(category);
	CREATE INDEX IF NOT EXISTS idx_offers_slug ON offers(product_slug);

	CREATE TABLE IF NOT EXISTS product_embeddings_cache (
		name TEXT PRIMARY KEY,
		embedding BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := d.db.Exec(schema)
	return err
}

const offerColumns = `offer_id, store, product_name, product_slug, price, original_price,
	unit, amount, currency, category, valid_from, valid_until,
	image_url, source_url, embedding, scraped_at`

// UpsertOffers writes rows in one transaction keyed by offer_id. Either every
// row is written or none is.
func (d *DB) UpsertOffers(ctx context.Context, rows []OfferRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO offers (`+offerColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(offer_id) DO UPDATE SET
		store = excluded.store,
		product_name = excluded.product_name,
		product_slug = excluded.product_slug,
		price = excluded.price,
		original_price = excluded.original_price,
		unit = excluded.unit,
		amount = excluded.amount,
		currency = excluded.currency,
		category = excluded.category,
		valid_from = excluded.valid_from,
		valid_until = excluded.valid_until,
		image_url = excluded.image_url,
		source_url = excluded.source_url,
		embedding = excluded.embedding,
		scraped_at = excluded.scraped_at
	`)
	if err != nil {
		return errors.Wrap(err, "prepare upsert")
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx,
			r.OfferID, r.Store, r.ProductName, r.ProductSlug, r.Price.StringFixed(2), r.OriginalPrice.StringFixed(2),
			r.Unit, r.Amount, r.Currency, r.Category, nullMillis(r.ValidFrom), nullMillis(r.ValidUntil),
			r.ImageURL, r.SourceURL, embeddingBlob(r.Embedding), millis(r.ScrapedAt),
		)
		if err != nil {
			return errors.Wrapf(err, "upsert offer %s", r.OfferID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// DeleteStale removes a store's rows last seen strictly before before.
func (d *DB) DeleteStale(ctx context.Context, store string, before time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM offers WHERE store = ? AND scraped_at < ?`, store, millis(before))
	if err != nil {
		return 0, errors.Wrapf(err, "delete stale %s", store)
	}
	return res.RowsAffected()
}

// DeleteExpired removes rows whose validity ended before now, for every store.
func (d *DB) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM offers WHERE valid_until IS NOT NULL AND valid_until < ?`, millis(now))
	if err != nil {
		return 0, errors.Wrap(err, "delete expired")
	}
	return res.RowsAffected()
}

// Count returns the total number of offers
func (d *DB) Count(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM offers").Scan(&count)
	return count, err
}

// CountByStore returns the number of offers per store.
func (d *DB) CountByStore(ctx context.Context) (map[string]int, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT store, COUNT(*) FROM offers GROUP BY store")
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
func (d *DB) Get(ctx context.Context, offerID string) (*OfferRow, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE offer_id = ?`, offerID)
	r, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// List returns the offers of one store, or of all stores when store is "".
func (d *DB) List(ctx context.Context, store string) ([]*OfferRow, error) {
	query := `SELECT ` + offerColumns + ` FROM offers`
	var args []any
	if store != "" {
		query += ` WHERE store = ?`
		args = append(args, store)
	}
	query += ` ORDER BY store, product_name`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OfferRow
	for rows.Next() {
		r, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOffer(s scanner) (*OfferRow, error) {
	var (
		r                  OfferRow
		validFrom, validTo sql.NullInt64
		embedding          []byte
		scrapedAt          int64
	)
	err := s.Scan(
		&r.OfferID, &r.Store, &r.ProductName, &r.ProductSlug, &r.Price, &r.OriginalPrice,
		&r.Unit, &r.Amount, &r.Currency, &r.Category, &validFrom, &validTo,
		&r.ImageURL, &r.SourceURL, &embedding, &scrapedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ValidFrom = fromNullMillis(validFrom)
	r.ValidUntil = fromNullMillis(validTo)
	r.Embedding = embeddings.Deserialize(embedding)
	r.ScrapedAt = fromMillis(scrapedAt)
	return &r, nil
}

func embeddingBlob(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return embeddings.Serialize(v)
}

// EmbeddingCache exposes product_embeddings_cache as an embeddings.Cache.
func (d *DB) EmbeddingCache() embeddings.Cache {
	return sqliteEmbeddingCache{d: d}
}

type sqliteEmbeddingCache struct {
	d *DB
}

func (c sqliteEmbeddingCache) Lookup(ctx context.Context, names []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(names))
	if len(names) == 0 {
		return out, nil
	}
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	rows, err := c.d.db.QueryContext(ctx,
		`SELECT name, embedding FROM product_embeddings_cache WHERE name IN (`+placeholders(len(names))+`)`, args...)
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

func (c sqliteEmbeddingCache) Store(ctx context.Context, vectors map[string][]float32) error {
	tx, err := c.d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	now := millis(time.Now())
	for name, vec := range vectors {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO product_embeddings_cache (name, embedding, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET embedding = excluded.embedding, updated_at = excluded.updated_at`,
			name, embeddings.Serialize(vec), now); err != nil {
			return errors.Wrap(err, "store embedding")
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, 2*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}
