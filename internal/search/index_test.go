package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bonalyze/offer-sync/internal/storage"
)

type fakeSource struct {
	rows []*storage.OfferRow
}

func (f *fakeSource) List(_ context.Context, store string) ([]*storage.OfferRow, error) {
	var out []*storage.OfferRow
	for _, r := range f.rows {
		if store == "" || r.Store == store {
			out = append(out, r)
		}
	}
	return out, nil
}

func row(id, store, name string, vec []float32) *storage.OfferRow {
	return &storage.OfferRow{
		OfferID:     id,
		Store:       store,
		ProductName: name,
		Price:       decimal.RequireFromString("1.99"),
		Category:    "Lebensmittel",
		SourceURL:   "https://www.marktguru.de/angebote/" + store + "/" + id,
		Embedding:   vec,
	}
}

func openTestIndex(t *testing.T, src Source) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "offers.bleve"), src)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestRebuildAndSearch(t *testing.T) {
	src := &fakeSource{rows: []*storage.OfferRow{
		row("1", "edeka", "Frikadelle im Brötchen", nil),
		row("2", "lidl", "Frikadelle vom Rind", nil),
		row("3", "lidl", "Haferflocken Vollkorn", nil),
	}}
	idx := openTestIndex(t, src)
	ctx := context.Background()

	n, removed, err := idx.Rebuild(ctx)
	if err != nil || n != 3 || removed != 0 {
		t.Fatalf("Rebuild n=%d removed=%d err=%v", n, removed, err)
	}

	res, err := idx.Search(ctx, "Frikadelle", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("hits=%d", len(res))
	}

	res, err = idx.Search(ctx, "Frikadelle", "lidl", 10)
	if err != nil || len(res) != 1 || res[0].ID != "2" {
		t.Fatalf("store filter: %v %v", res, err)
	}
	if res[0].Store != "lidl" || res[0].Price != 1.99 || res[0].SourceURL == "" {
		t.Fatalf("fields not loaded: %+v", res[0])
	}
}

func TestRebuildDropsSweptOffers(t *testing.T) {
	src := &fakeSource{rows: []*storage.OfferRow{
		row("1", "edeka", "Frikadelle", nil),
		row("2", "edeka", "Bier", nil),
	}}
	idx := openTestIndex(t, src)
	ctx := context.Background()
	if _, _, err := idx.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	src.rows = src.rows[:1]
	_, removed, err := idx.Rebuild(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("removed=%d err=%v", removed, err)
	}
	if c, _ := idx.Count(); c != 1 {
		t.Fatalf("count=%d", c)
	}
}

func TestSemanticSearchRanksBySimilarity(t *testing.T) {
	src := &fakeSource{rows: []*storage.OfferRow{
		row("far", "edeka", "Waschmittel", []float32{0, 1}),
		row("near", "edeka", "Frikadelle", []float32{1, 0.1}),
		row("none", "edeka", "Ohne Vektor", nil),
	}}
	idx := openTestIndex(t, src)

	res, err := idx.SemanticSearch(context.Background(), []float32{1, 0}, "", 5)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(res) != 2 || res[0].ID != "near" || res[1].ID != "far" {
		t.Fatalf("res=%v", res)
	}
}

func TestHybridSearch(t *testing.T) {
	src := &fakeSource{rows: []*storage.OfferRow{
		row("1", "edeka", "Frikadelle im Brötchen", []float32{1, 0}),
		row("2", "edeka", "Waschmittel", []float32{0, 1}),
	}}
	idx := openTestIndex(t, src)
	ctx := context.Background()
	if _, _, err := idx.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	res, err := idx.HybridSearch(ctx, "Frikadelle", []float32{1, 0}, "", 5, 0.5)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(res) == 0 || res[0].ID != "1" {
		t.Fatalf("res=%v", res)
	}

	if _, err := idx.HybridSearch(ctx, "x", nil, "", 5, 1.5); err == nil {
		t.Fatalf("expected weight error")
	}
}

func TestNormalizeScores(t *testing.T) {
	got := normalizeScores([]*SearchResult{{ID: "a", Score: 2}, {ID: "b", Score: 4}})
	if got["a"] != 0 || got["b"] != 1 {
		t.Fatalf("got=%v", got)
	}
	same := normalizeScores([]*SearchResult{{ID: "a", Score: 3}, {ID: "b", Score: 3}})
	if same["a"] != 1 || same["b"] != 1 {
		t.Fatalf("same=%v", same)
	}
}
