package marktguru

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bonalyze/offer-sync/internal/category"
	"github.com/bonalyze/offer-sync/internal/normalize"
	"github.com/bonalyze/offer-sync/internal/offer"
)

// MaxValidityDays is the longest promotional window still considered an offer.
const MaxValidityDays = 14

const imageURLTemplate = "https://mg2de.b-cdn.net/api/v1/offers/%s/images/default/0/medium.webp"

// Filter rejects. Parse reports them as nil offers; ParseAll counts them
// separately from malformed records.
var (
	ErrNotIndexable    = errors.New("offer is marked as not indexable")
	ErrMissingValidity = errors.New("offer has no validity window")
	ErrValidityTooLong = errors.New("offer validity window is too long")
)

var (
	categoryFlatKeys   = []string{"categoryName", "category_name", "categoryTitle", "productCategory"}
	sourceURLKeys      = []string{"sourceUrl", "source_url", "url", "offerUrl", "deepLink", "link"}
	errMissingOfferID  = errors.New("missing offer id")
	errMissingProduct  = errors.New("missing product name")
	errMalformedPrices = errors.New("malformed price")
)

// Parser converts raw records into canonical offers. Index is optional.
type Parser struct {
	Index *category.Index
	Log   zerolog.Logger
}

// NewParser returns a parser that falls back to index for uncategorized offers.
func NewParser(index *category.Index, log zerolog.Logger) *Parser {
	return &Parser{Index: index, Log: log}
}

// Result summarizes a batch.
type Result struct {
	Offers   []*offer.Offer
	Filtered int
	Invalid  int
}

// Parse returns the canonical offer for raw, or nil when the record is
// filtered out or malformed. It never fails the caller.
func (p *Parser) Parse(ctx context.Context, raw RawOffer, retailer string) *offer.Offer {
	o, err := p.parse(ctx, raw, retailer)
	if err != nil {
		p.logReject(raw, err)
		return nil
	}
	return o
}

// ParseAll parses every record of a page independently.
func (p *Parser) ParseAll(ctx context.Context, raws []RawOffer, retailer string) Result {
	var res Result
	for _, raw := range raws {
		o, err := p.parse(ctx, raw, retailer)
		switch {
		case err == nil:
			res.Offers = append(res.Offers, o)
		case IsFiltered(err):
			res.Filtered++
			p.logReject(raw, err)
		default:
			res.Invalid++
			p.logReject(raw, err)
		}
	}
	return res
}

// IsFiltered reports whether err is one of the filter-chain rejects.
func IsFiltered(err error) bool {
	return errors.Is(err, ErrNotIndexable) || errors.Is(err, ErrMissingValidity) || errors.Is(err, ErrValidityTooLong)
}

func (p *Parser) logReject(raw RawOffer, err error) {
	ev := p.Log.Warn()
	if IsFiltered(err) {
		ev = p.Log.Debug()
	}
	ev.Err(err).Str("offer_id", raw.String("id")).Msg("offer skipped")
}

func (p *Parser) parse(ctx context.Context, raw RawOffer, retailer string) (*offer.Offer, error) {
	if raw == nil {
		return nil, errors.New("nil record")
	}
	if indexable, ok := asBool(raw.Get("retailer", "indexOffer")); ok && !indexable {
		return nil, ErrNotIndexable
	}

	from, to := validity(raw)
	if from == nil || to == nil {
		return nil, ErrMissingValidity
	}
	if days := math.Floor(to.Sub(*from).Hours() / 24); days > MaxValidityDays {
		return nil, errors.Wrapf(ErrValidityTooLong, "%.0f days", days)
	}

	offerID := raw.String("id")
	if offerID == "" {
		return nil, errMissingOfferID
	}
	name := productName(raw)
	if name == "" {
		return nil, errors.Wrapf(errMissingProduct, "offer %s", offerID)
	}

	price, regular, err := prices(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "offer %s", offerID)
	}

	o, err := offer.New(offer.Params{
		Retailer:     retailer,
		ProductName:  name,
		Price:        price,
		RegularPrice: regular,
		Unit:         raw.String("unit", "shortName"),
		Amount:       raw.Get("quantity"),
		Currency:     offer.DefaultCurrency,
		Category:     p.resolveCategory(ctx, raw, offerID, name),
		ValidFrom:    from,
		ValidTo:      to,
		ImageURL:     fmt.Sprintf(imageURLTemplate, offerID),
		SourceURL:    sourceURL(raw, retailer, offerID),
		OfferID:      offerID,
		RawData:      raw,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "offer %s", offerID)
	}
	return o, nil
}

// validity prefers flat validFrom/validTo and falls back to the first
// validityDates entry. A bound is only taken from one source.
func validity(raw RawOffer) (from, to *time.Time) {
	from, to = asTime(raw.Get("validFrom")), asTime(raw.Get("validTo"))
	if from != nil && to != nil {
		return from, to
	}
	dates := asList(raw.Get("validityDates"))
	if len(dates) == 0 {
		return nil, nil
	}
	first := asObject(dates[0])
	if first == nil {
		return nil, nil
	}
	return asTime(first["from"]), asTime(first["to"])
}

func productName(raw RawOffer) string {
	base := normalize.Whitespace(raw.String("product", "name"))
	desc := normalize.Whitespace(raw.String("description"))
	if desc == "" {
		desc = normalize.Whitespace(raw.String("product", "description"))
	}
	if desc == "" || desc == base {
		return base
	}
	return normalize.Whitespace(base + " " + desc)
}

// prices returns the current price and the regular price, which falls back to
// the current one when oldPrice is absent. A missing price reads as 0.
func prices(raw RawOffer) (price, regular float64, err error) {
	if v := raw.Get("price"); v != nil {
		p, ok := asNumber(v)
		if !ok {
			return 0, 0, errors.Wrapf(errMalformedPrices, "price %v", v)
		}
		price = p
	}
	regular = price
	if v := raw.Get("oldPrice"); v != nil {
		if old, ok := asNumber(v); ok {
			regular = old
		}
	}
	return price, regular, nil
}

// resolveCategory classifies the first explicit hint with the product name,
// then asks the index, then classifies by name alone.
func (p *Parser) resolveCategory(ctx context.Context, raw RawOffer, offerID, name string) string {
	if hint := categoryHintLabel(raw); hint != "" {
		if label := category.Classify(hint, name); label != "" {
			return label
		}
	}
	if p.Index != nil {
		if label, ok := p.Index.Lookup(ctx, offerID, raw.String("product", "id"), name); ok {
			return label
		}
	}
	return category.Classify("", name)
}

func categoryHintLabel(raw RawOffer) string {
	scopes := []map[string]any{raw, raw.Object("product")}
	for _, scope := range scopes {
		if scope == nil {
			continue
		}
		if l := hintOf(scope["category"]).label(); l != "" {
			return l
		}
		if l := hintOf(scope["categories"]).label(); l != "" {
			return l
		}
		for _, key := range categoryFlatKeys {
			if l := hintOf(scope[key]).label(); l != "" {
				return l
			}
		}
	}
	return ""
}

func sourceURL(raw RawOffer, retailer, offerID string) string {
	for _, key := range sourceURLKeys {
		if u := raw.String(key); u != "" {
			return u
		}
	}
	if u := raw.String("product", "url"); u != "" {
		return u
	}
	return offer.SourceURL(retailer, offerID)
}
