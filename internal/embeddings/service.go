package embeddings

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bonalyze/offer-sync/internal/offer"
)

const (
	defaultBatchSize   = 50
	defaultLookupChunk = 200
	defaultStoreChunk  = 100
	maxSkippedSamples  = 5
)

// Options tunes a Service. Zero values pick the defaults.
type Options struct {
	BatchSize   int
	LookupChunk int
	StoreChunk  int
	Log         zerolog.Logger
}

// Report counts where the vectors of one Embed call came from.
type Report struct {
	Requested int
	Cached    int
	Generated int
	Skipped   int
}

// Service resolves texts to 768-dimensional vectors through a cache and an
// Embedder. Cache is optional.
type Service struct {
	embedder Embedder
	cache    Cache
	opts     Options
}

// NewService builds a Service.
func NewService(embedder Embedder, cache Cache, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.LookupChunk <= 0 {
		opts.LookupChunk = defaultLookupChunk
	}
	if opts.StoreChunk <= 0 {
		opts.StoreChunk = defaultStoreChunk
	}
	return &Service{embedder: embedder, cache: cache, opts: opts}
}

// Embed returns a valid vector for as many distinct texts as possible. Texts
// without one are absent from the map; Embed never fails.
func (s *Service) Embed(ctx context.Context, texts []string) (map[string][]float32, Report) {
	unique := dedupe(texts)
	rep := Report{Requested: len(unique)}
	results := make(map[string][]float32, len(unique))
	if len(unique) == 0 {
		return results, rep
	}

	for name, vec := range s.lookup(ctx, unique) {
		results[name] = vec
	}
	rep.Cached = len(results)

	missing := make([]string, 0, len(unique)-len(results))
	for _, t := range unique {
		if _, ok := results[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return results, rep
	}

	s.opts.Log.Info().Int("missing", len(missing)).Int("cached", rep.Cached).Msg("generating embeddings")
	generated := s.generate(ctx, missing)

	fresh := make(map[string][]float32, len(generated))
	var skipped []string
	for i, t := range missing {
		if offer.ValidEmbedding(generated[i]) {
			results[t] = generated[i]
			fresh[t] = generated[i]
		} else {
			skipped = append(skipped, t)
		}
	}
	rep.Generated = len(fresh)
	rep.Skipped = len(skipped)

	if len(skipped) > 0 {
		sample := skipped
		if len(sample) > maxSkippedSamples {
			sample = sample[:maxSkippedSamples]
		}
		s.opts.Log.Warn().Int("skipped", len(skipped)).Strs("examples", sample).Msg("texts without a valid embedding")
	}
	s.store(ctx, fresh)
	return results, rep
}

func dedupe(texts []string) []string {
	seen := make(map[string]struct{}, len(texts))
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// lookup queries the cache in chunks, in parallel. Failed chunks count as misses.
func (s *Service) lookup(ctx context.Context, names []string) map[string][]float32 {
	found := make(map[string][]float32)
	if s.cache == nil {
		return found
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, chunk := range chunks(names, s.opts.LookupChunk) {
		chunk := chunk
		g.Go(func() error {
			hits, err := s.cache.Lookup(gctx, chunk)
			if err != nil {
				s.opts.Log.Warn().Err(err).Int("chunk", len(chunk)).Msg("embedding cache lookup failed")
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for name, vec := range hits {
				if offer.ValidEmbedding(vec) {
					found[name] = vec
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return found
}

func (s *Service) store(ctx context.Context, fresh map[string][]float32) {
	if s.cache == nil || len(fresh) == 0 {
		return
	}
	names := make([]string, 0, len(fresh))
	for name := range fresh {
		names = append(names, name)
	}
	for _, chunk := range chunks(names, s.opts.StoreChunk) {
		part := make(map[string][]float32, len(chunk))
		for _, name := range chunk {
			part[name] = fresh[name]
		}
		if err := s.cache.Store(ctx, part); err != nil {
			s.opts.Log.Warn().Err(err).Int("chunk", len(part)).Msg("embedding cache store failed")
		}
	}
}

// generate returns one entry per text, nil where no valid vector was produced.
func (s *Service) generate(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += s.opts.BatchSize {
		end := start + s.opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		log := s.opts.Log.With().Int("batch_start", start).Int("batch_size", len(batch)).Logger()

		vecs, err := s.embedder.EmbedBatch(ctx, batch)
		switch {
		case IsModelMissing(err):
			log.Error().Err(err).Msg("embedding model not found, skipping remaining texts")
			return out
		case err != nil:
			log.Warn().Err(err).Msg("batch embedding failed, falling back to single calls")
			s.single(ctx, batch, out[start:end])
			continue
		case len(vecs) != len(batch):
			log.Warn().Int("got", len(vecs)).Msg("batch embedding misaligned, falling back to single calls")
			s.single(ctx, batch, out[start:end])
			continue
		}

		for i, v := range vecs {
			if offer.ValidEmbedding(v) {
				out[start+i] = v
				continue
			}
			log.Warn().Int("dim", len(v)).Str("text", batch[i]).Msg("invalid embedding dimension, retrying single")
			s.single(ctx, batch[i:i+1], out[start+i:start+i+1])
		}
	}
	return out
}

func (s *Service) single(ctx context.Context, texts []string, out [][]float32) {
	for i, t := range texts {
		v, err := s.embedder.Embed(ctx, t)
		if err != nil {
			s.opts.Log.Warn().Err(err).Str("text", t).Msg("single embedding failed")
			continue
		}
		if !offer.ValidEmbedding(v) {
			s.opts.Log.Warn().Int("dim", len(v)).Str("text", t).Msg("invalid embedding shape")
			continue
		}
		out[i] = v
	}
}

func chunks(items []string, size int) [][]string {
	var out [][]string
	for size < len(items) {
		items, out = items[size:], append(out, items[:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
