package category

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bonalyze/offer-sync/internal/normalize"
)

// Entry is one categorized record from the unfiltered upstream listing.
type Entry struct {
	OfferID     string
	ProductID   string
	ProductName string
	Category    string
}

// Loader fetches the entries an Index is built from.
type Loader func(ctx context.Context) ([]Entry, error)

var fragmentSep = regexp.MustCompile(`\s+[-–|/]\s+|[,;:(]`)

// Index maps offer ids, product ids and normalized product names to category
// labels. It is built once, on the first lookup, and shared by every retailer
// of a run. Reset drops the built state so the next lookup rebuilds it.
type Index struct {
	load Loader
	log  zerolog.Logger

	mu        sync.Mutex
	built     bool
	byOffer   map[string]string
	byProduct map[string]string
	byName    map[string]string
}

// NewIndex returns an unbuilt index backed by load.
func NewIndex(load Loader, log zerolog.Logger) *Index {
	return &Index{load: load, log: log}
}

// Lookup resolves a label by offer id, then product id, then the normalized
// product name and its leading fragments. The first call builds the index.
func (x *Index) Lookup(ctx context.Context, offerID, productID, name string) (string, bool) {
	if x == nil {
		return "", false
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.built {
		x.buildLocked(ctx)
	}

	if offerID != "" {
		if label, ok := x.byOffer[offerID]; ok {
			return label, true
		}
	}
	if productID != "" {
		if label, ok := x.byProduct[productID]; ok {
			return label, true
		}
	}
	for _, key := range nameKeys(name) {
		if label, ok := x.byName[key]; ok {
			return label, true
		}
	}
	return "", false
}

// Built reports whether the index has been constructed.
func (x *Index) Built() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.built
}

// Reset forgets the built state.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.built = false
	x.byOffer, x.byProduct, x.byName = nil, nil, nil
}

// buildLocked marks the index built even when loading fails so a broken
// listing endpoint is hit at most once per run.
func (x *Index) buildLocked(ctx context.Context) {
	x.built = true
	x.byOffer = make(map[string]string)
	x.byProduct = make(map[string]string)
	x.byName = make(map[string]string)

	if x.load == nil {
		return
	}
	entries, err := x.load(ctx)
	if err != nil {
		x.log.Warn().Err(err).Msg("category index: load failed, continuing without it")
		return
	}

	votes := make(map[string]*ballot)
	for _, e := range entries {
		label := strings.TrimSpace(e.Category)
		if label == "" {
			continue
		}
		if e.OfferID != "" {
			if _, ok := x.byOffer[e.OfferID]; !ok {
				x.byOffer[e.OfferID] = label
			}
		}
		if e.ProductID != "" {
			if _, ok := x.byProduct[e.ProductID]; !ok {
				x.byProduct[e.ProductID] = label
			}
		}
		key := normalize.Fold(e.ProductName)
		if key == "" {
			continue
		}
		b, ok := votes[key]
		if !ok {
			b = &ballot{counts: make(map[string]int)}
			votes[key] = b
		}
		b.add(label)
	}
	for key, b := range votes {
		x.byName[key] = b.winner()
	}

	x.log.Info().
		Int("entries", len(entries)).
		Int("names", len(x.byName)).
		Int("offers", len(x.byOffer)).
		Msg("category index built")
}

// ballot counts labels per product name; ties go to the label seen first.
type ballot struct {
	order  []string
	counts map[string]int
}

func (b *ballot) add(label string) {
	if _, ok := b.counts[label]; !ok {
		b.order = append(b.order, label)
	}
	b.counts[label]++
}

func (b *ballot) winner() string {
	best, n := "", 0
	for _, label := range b.order {
		if c := b.counts[label]; c > n {
			best, n = label, c
		}
	}
	return best
}

// nameKeys returns the full folded name followed by its leading fragments,
// longest first.
func nameKeys(name string) []string {
	full := normalize.Fold(name)
	if full == "" {
		return nil
	}
	keys := []string{full}
	parts := fragmentSep.Split(name, -1)
	for i := len(parts) - 1; i >= 1; i-- {
		key := normalize.Fold(strings.Join(parts[:i], " "))
		if key != "" && key != keys[len(keys)-1] {
			keys = append(keys, key)
		}
	}
	return keys
}
