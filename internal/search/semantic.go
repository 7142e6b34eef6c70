package search

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bonalyze/offer-sync/internal/embeddings"
	"github.com/bonalyze/offer-sync/internal/storage"
)

// SemanticSearch ranks stored offers by cosine similarity to queryEmbedding
// (highest first). Offers without an embedding are skipped.
func (i *Index) SemanticSearch(ctx context.Context, queryEmbedding []float32, store string, limit int) ([]*SearchResult, error) {
	rows, err := i.src.List(ctx, store)
	if err != nil {
		return nil, errors.Wrap(err, "list offers")
	}

	type scored struct {
		row   *storage.OfferRow
		score float32
	}
	scores := make([]scored, 0, len(rows))
	for _, r := range rows {
		if len(r.Embedding) == 0 {
			continue
		}
		scores = append(scores, scored{row: r, score: embeddings.CosineSimilarity(queryEmbedding, r.Embedding)})
	}

	sort.SliceStable(scores, func(a, b int) bool {
		return scores[a].score > scores[b].score
	})

	results := make([]*SearchResult, 0, limit)
	for n := 0; n < len(scores) && n < limit; n++ {
		r := scores[n].row
		results = append(results, &SearchResult{
			ID:        r.OfferID,
			Name:      r.ProductName,
			Store:     r.Store,
			Category:  r.Category,
			Price:     r.Price.InexactFloat64(),
			SourceURL: r.SourceURL,
			Score:     float64(scores[n].score),
		})
	}
	return results, nil
}

// HybridSearch merges keyword and semantic results. keywordWeight is the share
// of the keyword score, from 0 to 1.
func (i *Index) HybridSearch(ctx context.Context, q string, queryEmbedding []float32, store string, limit int, keywordWeight float64) ([]*SearchResult, error) {
	if keywordWeight < 0 || keywordWeight > 1 {
		return nil, errors.New("keywordWeight must be between 0 and 1")
	}
	semanticWeight := 1.0 - keywordWeight
	candidates := limit * 3

	var keywordResults, semanticResults []*SearchResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		keywordResults, err = i.Search(gctx, q, store, candidates)
		return errors.Wrap(err, "keyword search")
	})
	g.Go(func() error {
		var err error
		semanticResults, err = i.SemanticSearch(gctx, queryEmbedding, store, candidates)
		return errors.Wrap(err, "semantic search")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	keywordScores := normalizeScores(keywordResults)
	semanticScores := normalizeScores(semanticResults)

	merged := make(map[string]*SearchResult)
	for _, r := range keywordResults {
		r.Score = keywordScores[r.ID] * keywordWeight
		merged[r.ID] = r
	}
	for _, r := range semanticResults {
		if existing, ok := merged[r.ID]; ok {
			existing.Score += semanticScores[r.ID] * semanticWeight
			continue
		}
		r.Score = semanticScores[r.ID] * semanticWeight
		merged[r.ID] = r
	}

	combined := make([]*SearchResult, 0, len(merged))
	for _, r := range merged {
		combined = append(combined, r)
	}
	sort.Slice(combined, func(a, b int) bool {
		if combined[a].Score != combined[b].Score {
			return combined[a].Score > combined[b].Score
		}
		return combined[a].ID < combined[b].ID
	})
	if len(combined) > limit {
		combined = combined[:limit]
	}
	return combined, nil
}

// normalizeScores maps result scores to the 0-1 range by id
func normalizeScores(results []*SearchResult) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	if len(results) == 0 {
		return normalized
	}

	minScore, maxScore := results[0].Score, results[0].Score
	for _, r := range results {
		minScore = min(minScore, r.Score)
		maxScore = max(maxScore, r.Score)
	}

	span := maxScore - minScore
	for _, r := range results {
		if span == 0 {
			normalized[r.ID] = 1.0
		} else {
			normalized[r.ID] = (r.Score - minScore) / span
		}
	}
	return normalized
}
