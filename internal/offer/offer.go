// Package offer defines the canonical offer record. New is the only
// constructor and the single place where data-quality invariants are enforced.
package offer

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/bonalyze/offer-sync/internal/normalize"
)

// EmbeddingDim is the only vector length accepted for persistence.
const EmbeddingDim = 768

// DefaultCurrency is applied when upstream does not name one.
const DefaultCurrency = "EUR"

const sourceURLBase = "https://www.marktguru.de/angebote"

var (
	ErrEmptyProductName = errors.New("offer: product name is empty")
	ErrEmptyOfferID     = errors.New("offer: offer id is empty")
	ErrNegativePrice    = errors.New("offer: price is negative")
)

// Offer is one retailer's time-boxed promotional price for one product.
type Offer struct {
	Retailer     string
	ProductName  string
	Price        float64
	RegularPrice float64
	Unit         string
	Amount       any
	Currency     string
	Category     string
	ValidFrom    *time.Time
	ValidTo      *time.Time
	ImageURL     string
	SourceURL    string
	OfferID      string
	Embedding    []float32
	ScrapedAt    time.Time
	RawData      map[string]any
}

// Params carries the unvalidated fields handed to New.
type Params struct {
	Retailer     string
	ProductName  string
	Price        float64
	RegularPrice float64
	Unit         string
	Amount       any
	Currency     string
	Category     string
	ValidFrom    *time.Time
	ValidTo      *time.Time
	ImageURL     string
	SourceURL    string
	OfferID      string
	Embedding    []float32
	ScrapedAt    time.Time
	RawData      map[string]any
}

// New validates p and builds an Offer.
//
// Product name and offer id are whitespace-normalized and must not end up empty.
// A regular price lower than the current price is clamped up to the price
// instead of failing: upstream "old price" fields are sometimes stale.
func New(p Params) (*Offer, error) {
	name := normalize.Whitespace(p.ProductName)
	if name == "" {
		return nil, ErrEmptyProductName
	}
	id := normalize.Whitespace(p.OfferID)
	if id == "" {
		return nil, ErrEmptyOfferID
	}
	if p.Price < 0 {
		return nil, errors.Wrapf(ErrNegativePrice, "offer %s price=%v", id, p.Price)
	}

	regular := p.RegularPrice
	if regular < p.Price {
		regular = p.Price
	}

	currency := normalize.Whitespace(p.Currency)
	if currency == "" {
		currency = DefaultCurrency
	}

	scrapedAt := p.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now().UTC()
	}

	return &Offer{
		Retailer:     normalize.Whitespace(p.Retailer),
		ProductName:  name,
		Price:        p.Price,
		RegularPrice: regular,
		Unit:         normalize.Whitespace(p.Unit),
		Amount:       p.Amount,
		Currency:     currency,
		Category:     p.Category,
		ValidFrom:    p.ValidFrom,
		ValidTo:      p.ValidTo,
		ImageURL:     p.ImageURL,
		SourceURL:    p.SourceURL,
		OfferID:      id,
		Embedding:    p.Embedding,
		ScrapedAt:    scrapedAt,
		RawData:      p.RawData,
	}, nil
}

// WithEmbedding returns a copy of o carrying vec.
func (o *Offer) WithEmbedding(vec []float32) *Offer {
	c := *o
	c.Embedding = vec
	return &c
}

// HasValidEmbedding reports whether the offer carries a vector of exactly EmbeddingDim values.
func (o *Offer) HasValidEmbedding() bool {
	return ValidEmbedding(o.Embedding)
}

// ValidEmbedding reports whether v can be persisted as an offer embedding.
func ValidEmbedding(v []float32) bool {
	return len(v) == EmbeddingDim
}

// SourceURL builds the aggregator deep link for an offer, or the retailer
// landing page when the offer id is unknown.
func SourceURL(retailer, offerID string) string {
	if offerID == "" {
		return fmt.Sprintf("%s/%s", sourceURLBase, retailer)
	}
	return fmt.Sprintf("%s/%s/%s", sourceURLBase, retailer, offerID)
}
