package marktguru

import (
	"context"

	"github.com/bonalyze/offer-sync/internal/category"
)

// IndexLoader returns a category.Loader that scans the unfiltered listing.
func (c *Client) IndexLoader(limit int) category.Loader {
	return func(ctx context.Context) ([]category.Entry, error) {
		raws, err := c.FetchListing(ctx, limit)
		if err != nil {
			return nil, err
		}
		return Entries(raws), nil
	}
}

// Entries keeps the listing records that carry an upstream category and maps
// that category onto the taxonomy.
func Entries(raws []RawOffer) []category.Entry {
	entries := make([]category.Entry, 0, len(raws))
	for _, raw := range raws {
		hint := categoryHintLabel(raw)
		if hint == "" {
			continue
		}
		name := productName(raw)
		entries = append(entries, category.Entry{
			OfferID:     raw.String("id"),
			ProductID:   raw.String("product", "id"),
			ProductName: name,
			Category:    category.Classify(hint, name),
		})
	}
	return entries
}
