package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/bonalyze/offer-sync/internal/normalize"
	"github.com/bonalyze/offer-sync/internal/offer"
	"github.com/bonalyze/offer-sync/internal/retry"
	"github.com/bonalyze/offer-sync/internal/storage"
)

// Store is the keyed offer table the engine reconciles against.
type Store interface {
	UpsertOffers(ctx context.Context, rows []storage.OfferRow) error
	DeleteStale(ctx context.Context, store string, before time.Time) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Count(ctx context.Context) (int, error)
}

// Engine runs the mark and sweep phases for one retailer at a time.
type Engine struct {
	store Store
	retry retry.Policy
	log   zerolog.Logger
}

// NewEngine wraps store. A policy without a predicate retries transient store errors.
func NewEngine(store Store, policy retry.Policy, log zerolog.Logger) *Engine {
	if policy.Retryable == nil {
		policy.Retryable = storage.IsTransient
	}
	policy.Log = log
	return &Engine{store: store, retry: policy, log: log}
}

// MarkResult counts the outcome of one Mark call.
type MarkResult struct {
	Upserted int
	Rejected int // offers without a valid embedding or unflattenable
}

// Mark upserts offers stamped with runStart. Offers lacking a valid embedding
// never reach the store. The upsert is one all-or-nothing call, retried on
// transient errors; on failure Upserted is 0.
func (e *Engine) Mark(ctx context.Context, offers []*offer.Offer, runStart time.Time) (MarkResult, error) {
	var res MarkResult
	rows := make([]storage.OfferRow, 0, len(offers))
	for _, o := range offers {
		if !o.HasValidEmbedding() {
			res.Rejected++
			continue
		}
		row, err := ToRow(o, runStart)
		if err != nil {
			e.log.Warn().Err(err).Str("offer_id", o.OfferID).Msg("cannot flatten offer")
			res.Rejected++
			continue
		}
		rows = append(rows, row)
	}
	if res.Rejected > 0 {
		e.log.Warn().Int("rejected", res.Rejected).Msg("offers dropped before upsert")
	}
	if len(rows) == 0 {
		return res, nil
	}

	err := e.retry.Do(ctx, "upsert offers", func() error {
		return e.store.UpsertOffers(ctx, rows)
	})
	if err != nil {
		return res, errors.Wrapf(err, "upsert %d offers", len(rows))
	}
	res.Upserted = len(rows)
	return res, nil
}

// Sweep deletes the retailer's rows last marked before runStart. Failures are
// logged and count as nothing removed.
func (e *Engine) Sweep(ctx context.Context, retailer string, runStart time.Time) int {
	n, err := e.store.DeleteStale(ctx, retailer, runStart)
	if err != nil {
		e.log.Error().Err(err).Str("retailer", retailer).Msg("stale sweep failed")
		return 0
	}
	return int(n)
}

// SweepExpired deletes rows of every retailer whose validity has ended.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time) int {
	n, err := e.store.DeleteExpired(ctx, now)
	if err != nil {
		e.log.Error().Err(err).Msg("expiry sweep failed")
		return 0
	}
	return int(n)
}

// Count returns the stored row count, or 0 when it cannot be read.
func (e *Engine) Count(ctx context.Context) int {
	n, err := e.store.Count(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("count offers failed")
		return 0
	}
	return n
}

// ToRow flattens an offer into its stored form, last seen at scrapedAt.
func ToRow(o *offer.Offer, scrapedAt time.Time) (storage.OfferRow, error) {
	slug := normalize.Slugify(o.ProductName)
	if slug == "" {
		slug = "offer-" + o.OfferID
	}
	source := o.SourceURL
	if source == "" {
		source = offer.SourceURL(o.Retailer, o.OfferID)
	}
	amount, err := encodeAmount(o.Amount)
	if err != nil {
		return storage.OfferRow{}, err
	}
	return storage.OfferRow{
		OfferID:       o.OfferID,
		Store:         o.Retailer,
		ProductName:   o.ProductName,
		ProductSlug:   slug,
		Price:         decimal.NewFromFloat(o.Price).Round(2),
		OriginalPrice: decimal.NewFromFloat(o.RegularPrice).Round(2),
		Unit:          o.Unit,
		Amount:        amount,
		Currency:      o.Currency,
		Category:      o.Category,
		ValidFrom:     o.ValidFrom,
		ValidUntil:    o.ValidTo,
		ImageURL:      o.ImageURL,
		SourceURL:     source,
		Embedding:     o.Embedding,
		ScrapedAt:     scrapedAt,
	}, nil
}

func encodeAmount(v any) (string, error) {
	switch a := v.(type) {
	case nil:
		return "", nil
	case string:
		return a, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "encode amount")
	}
	return string(b), nil
}
