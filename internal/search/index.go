package search

import (
	"context"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/de"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/pkg/errors"

	"github.com/bonalyze/offer-sync/internal/storage"
)

// Source lists stored offers; store "" means every store.
type Source interface {
	List(ctx context.Context, store string) ([]*storage.OfferRow, error)
}

// Index wraps a Bleve search index over stored offers
type Index struct {
	index bleve.Index
	src   Source
}

// IndexedOffer is the document shape kept in the index
type IndexedOffer struct {
	ID         string
	Name       string
	Category   string
	Store      string
	Price      float64
	ValidUntil time.Time
	SourceURL  string
}

// SearchResult represents a search result
type SearchResult struct {
	ID        string              `json:"offer_id"`
	Name      string              `json:"product_name"`
	Store     string              `json:"store"`
	Category  string              `json:"category,omitempty"`
	Price     float64             `json:"price"`
	SourceURL string              `json:"source_url"`
	Score     float64             `json:"score"`
	Fragments map[string][]string `json:"fragments,omitempty"` // Highlighted snippets
}

// Open opens or creates a Bleve index. src backs semantic search and rebuilds.
func Open(path string, src Source) (*Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, errors.Wrap(err, "create index")
		}
	} else if err != nil {
		return nil, errors.Wrap(err, "open index")
	}
	return &Index{index: idx, src: src}, nil
}

// buildIndexMapping analyzes names with the German analyzer and keeps store
// and category as exact terms
func buildIndexMapping() mapping.IndexMapping {
	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = de.AnalyzerName

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name

	stored := bleve.NewTextFieldMapping()
	stored.Index = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("Name", nameField)
	doc.AddFieldMappingsAt("Category", exact)
	doc.AddFieldMappingsAt("Store", exact)
	doc.AddFieldMappingsAt("Price", bleve.NewNumericFieldMapping())
	doc.AddFieldMappingsAt("ValidUntil", bleve.NewDateTimeFieldMapping())
	doc.AddFieldMappingsAt("SourceURL", stored)

	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = de.AnalyzerName
	im.AddDocumentMapping("_default", doc)
	return im
}

// Close closes the index
func (i *Index) Close() error {
	return i.index.Close()
}

// IndexOffer adds or updates one offer
func (i *Index) IndexOffer(r *storage.OfferRow) error {
	return i.index.Index(r.OfferID, toIndexed(r))
}

// Delete removes an offer from the index
func (i *Index) Delete(id string) error {
	return i.index.Delete(id)
}

func toIndexed(r *storage.OfferRow) *IndexedOffer {
	doc := &IndexedOffer{
		ID:        r.OfferID,
		Name:      r.ProductName,
		Category:  r.Category,
		Store:     r.Store,
		Price:     r.Price.InexactFloat64(),
		SourceURL: r.SourceURL,
	}
	if r.ValidUntil != nil {
		doc.ValidUntil = *r.ValidUntil
	}
	return doc
}

// Search runs a query string (quotes, +/-, fuzzy ~) optionally restricted to one store
func (i *Index) Search(ctx context.Context, queryStr, store string, limit int) ([]*SearchResult, error) {
	var q query.Query = bleve.NewQueryStringQuery(queryStr)
	if store != "" {
		tq := bleve.NewTermQuery(store)
		tq.SetField("Store")
		q = bleve.NewConjunctionQuery(q, tq)
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Fields = []string{"Name", "Store", "Category", "Price", "SourceURL"}

	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "search")
	}

	out := make([]*SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := &SearchResult{ID: hit.ID, Score: hit.Score, Fragments: hit.Fragments}
		r.Name, _ = hit.Fields["Name"].(string)
		r.Store, _ = hit.Fields["Store"].(string)
		r.Category, _ = hit.Fields["Category"].(string)
		r.Price, _ = hit.Fields["Price"].(float64)
		r.SourceURL, _ = hit.Fields["SourceURL"].(string)
		out = append(out, r)
	}
	return out, nil
}

// Rebuild indexes every stored offer and drops documents whose rows are gone.
// It returns the number of indexed and removed documents.
func (i *Index) Rebuild(ctx context.Context) (indexed, removed int, err error) {
	rows, err := i.src.List(ctx, "")
	if err != nil {
		return 0, 0, errors.Wrap(err, "list offers")
	}

	keep := make(map[string]struct{}, len(rows))
	batch := i.index.NewBatch()
	for _, r := range rows {
		keep[r.OfferID] = struct{}{}
		if err := batch.Index(r.OfferID, toIndexed(r)); err != nil {
			return 0, 0, errors.Wrapf(err, "batch index %s", r.OfferID)
		}
	}

	ids, err := i.allIDs(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, id := range ids {
		if _, ok := keep[id]; !ok {
			batch.Delete(id)
			removed++
		}
	}

	if err := i.index.Batch(batch); err != nil {
		return 0, 0, errors.Wrap(err, "commit batch")
	}
	return len(rows), removed, nil
}

func (i *Index) allIDs(ctx context.Context) ([]string, error) {
	n, err := i.index.DocCount()
	if err != nil || n == 0 {
		return nil, err
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(n), 0, false)
	res, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "list indexed ids")
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Count returns the number of documents in the index
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}
