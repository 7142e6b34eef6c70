package storage

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// OfferRow is the flattened offer as stored, keyed by OfferID.
type OfferRow struct {
	OfferID       string          `json:"offer_id"`
	Store         string          `json:"store"`
	ProductName   string          `json:"product_name"`
	ProductSlug   string          `json:"product_slug"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Unit          string          `json:"unit,omitempty"`
	Amount        string          `json:"amount,omitempty"` // JSON of the upstream quantity
	Currency      string          `json:"currency"`
	Category      string          `json:"category,omitempty"`
	ValidFrom     *time.Time      `json:"valid_from,omitempty"`
	ValidUntil    *time.Time      `json:"valid_until,omitempty"`
	ImageURL      string          `json:"image_url,omitempty"`
	SourceURL     string          `json:"source_url"`
	Embedding     []float32       `json:"-"`
	ScrapedAt     time.Time       `json:"scraped_at"` // last-seen run timestamp
}

// Timestamps are stored as unix milliseconds so sweeps compare exactly
// against the millisecond-truncated run start.

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: millis(*t), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}
