package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bonalyze/offer-sync/internal/embeddings"
	"github.com/bonalyze/offer-sync/internal/events"
	"github.com/bonalyze/offer-sync/internal/marktguru"
	"github.com/bonalyze/offer-sync/internal/metrics"
	"github.com/bonalyze/offer-sync/internal/offer"
	"github.com/bonalyze/offer-sync/internal/run"
)

// Phase is a retailer's position in one run.
type Phase string

const (
	PhaseFetching  Phase = "FETCHING"
	PhaseEmbedding Phase = "EMBEDDING"
	PhaseMarking   Phase = "MARKING"
	PhaseSweeping  Phase = "SWEEPING"
	PhaseDone      Phase = "DONE"
	PhaseFailed    Phase = "FAILED"
)

// DryRunMaxItems caps the fetch per retailer in dry runs.
const DryRunMaxItems = 10

// Fetcher returns the raw upstream offers of one retailer.
type Fetcher interface {
	FetchOffers(ctx context.Context, retailerKey string, maxItems int) ([]marktguru.RawOffer, error)
}

// Embedder maps product names to vectors; missing names have no vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) (map[string][]float32, embeddings.Report)
}

// Reindexer refreshes the search index from the store.
type Reindexer interface {
	Rebuild(ctx context.Context) (indexed, removed int, err error)
}

// Runner drives one sync run over all retailers, one retailer at a time.
type Runner struct {
	Fetcher   Fetcher
	Parser    *marktguru.Parser
	Embedder  Embedder  // unused in dry runs
	Engine    *Engine   // unused in dry runs
	Reindexer Reindexer // optional
	Events    events.Publisher
	Metrics   *metrics.Registry
	Log       zerolog.Logger

	Retailers     []string
	DryRun        bool
	RetailerDelay time.Duration
	Now           func() time.Time
}

// RetailerResult is the final state of one retailer.
type RetailerResult struct {
	Retailer    string
	Phase       Phase
	FailedPhase Phase // set when Phase is FAILED
	Stats       run.Stats
	Err         error
}

// Summary is the outcome of Run.
type Summary struct {
	RunID     string
	StartedAt time.Time
	Stats     run.Stats
	Retailers []RetailerResult
}

// Run processes every retailer. A failing retailer never stops the run; the
// health verdict is left to run.Evaluate on the returned stats.
func (r *Runner) Run(ctx context.Context) Summary {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	if r.Events == nil {
		r.Events = events.Nop{}
	}
	if r.Metrics == nil {
		r.Metrics = metrics.NewRegistry()
	}

	started := time.Now()
	sum := Summary{
		RunID:     uuid.NewString(),
		StartedAt: now().UTC().Truncate(time.Millisecond),
	}
	log := r.Log.With().Str("run_id", sum.RunID).Logger()
	log.Info().Time("run_start", sum.StartedAt).Bool("dry_run", r.DryRun).Strs("retailers", r.Retailers).Msg("sync run started")

	if !r.DryRun && r.Engine != nil {
		pruned := r.Engine.SweepExpired(ctx, sum.StartedAt)
		sum.Stats.Pruned += pruned
		r.Metrics.Pruned.WithLabelValues("_expired").Add(float64(pruned))
		log.Info().Int("pruned", pruned).Msg("expired offers removed")
	}

	for i, retailer := range r.Retailers {
		if i > 0 && r.RetailerDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.RetailerDelay):
			}
		}

		rlog := log.With().Str("retailer", retailer).Logger()
		retailerStart := time.Now()
		res := r.syncRetailer(ctx, retailer, sum.StartedAt, rlog)
		sum.Stats.Add(res.Stats)
		sum.Retailers = append(sum.Retailers, res)
		r.record(res)
		r.publish(ctx, sum.RunID, res, retailerStart, rlog)

		if res.Phase == PhaseFailed {
			rlog.Error().Err(res.Err).Str("phase", string(res.FailedPhase)).Msg("retailer failed")
		} else {
			rlog.Info().Msg("retailer processed")
		}
	}

	if !r.DryRun && r.Reindexer != nil {
		indexed, removed, err := r.Reindexer.Rebuild(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("search index rebuild failed")
		} else {
			log.Info().Int("indexed", indexed).Int("removed", removed).Msg("search index rebuilt")
		}
	}

	sum.Stats.Duration = time.Since(started)
	r.Metrics.RunDurationSec.Set(sum.Stats.Duration.Seconds())
	logSummary(log, sum.Stats)
	return sum
}

func (r *Runner) syncRetailer(ctx context.Context, retailer string, runStart time.Time, log zerolog.Logger) RetailerResult {
	res := RetailerResult{Retailer: retailer, Phase: PhaseFetching}
	fail := func(err error) RetailerResult {
		res.FailedPhase = res.Phase
		res.Phase = PhaseFailed
		res.Err = err
		res.Stats.StoreErrors = 1
		return res
	}

	maxItems := 0
	if r.DryRun {
		maxItems = DryRunMaxItems
	}
	raws, err := r.Fetcher.FetchOffers(ctx, retailer, maxItems)
	if err != nil {
		return fail(err)
	}
	parsed := r.Parser.ParseAll(ctx, raws, retailer)
	offers := parsed.Offers
	res.Stats.Fetched = len(offers) + parsed.Invalid
	res.Stats.Failed = parsed.Invalid
	log.Info().
		Int("raw", len(raws)).
		Int("offers", len(offers)).
		Int("filtered", parsed.Filtered).
		Int("invalid", parsed.Invalid).
		Msg("offers fetched")

	if len(offers) == 0 {
		res.Phase = PhaseDone
		return res
	}
	if r.DryRun {
		for _, o := range offers {
			log.Debug().Str("offer_id", o.OfferID).Str("name", o.ProductName).Str("category", o.Category).Float64("price", o.Price).Msg("dry run offer")
		}
		res.Phase = PhaseDone
		return res
	}

	res.Phase = PhaseEmbedding
	names := make([]string, len(offers))
	for i, o := range offers {
		names[i] = o.ProductName
	}
	vecs, rep := r.Embedder.Embed(ctx, names)
	if err := ctx.Err(); err != nil {
		res.Stats.Failed += len(offers)
		return fail(err)
	}
	r.Metrics.EmbeddingsGenerated.Add(float64(rep.Generated))
	r.Metrics.EmbeddingsCached.Add(float64(rep.Cached))

	embedded := make([]*offer.Offer, len(offers))
	for i, o := range offers {
		embedded[i] = o.WithEmbedding(vecs[o.ProductName])
		if embedded[i].HasValidEmbedding() {
			res.Stats.Embedded++
		}
	}
	log.Info().
		Int("embedded", res.Stats.Embedded).
		Int("cached", rep.Cached).
		Int("generated", rep.Generated).
		Msg("embeddings assigned")
	if res.Stats.Embedded == 0 {
		log.Warn().Msg("no valid embeddings, skipping mark and sweep")
		res.Stats.Failed += len(offers)
		res.Phase = PhaseDone
		return res
	}

	res.Phase = PhaseMarking
	mark, err := r.Engine.Mark(ctx, embedded, runStart)
	res.Stats.Failed += mark.Rejected
	if err != nil {
		res.Stats.Failed += len(embedded) - mark.Rejected
		return fail(err)
	}
	res.Stats.Inserted = mark.Upserted
	log.Info().Int("upserted", mark.Upserted).Int("rejected", mark.Rejected).Msg("offers marked")

	res.Phase = PhaseSweeping
	res.Stats.Pruned = r.Engine.Sweep(ctx, retailer, runStart)
	log.Info().Int("pruned", res.Stats.Pruned).Int("total_offers", r.Engine.Count(ctx)).Msg("stale offers swept")

	res.Phase = PhaseDone
	return res
}

func (r *Runner) record(res RetailerResult) {
	s := res.Stats
	r.Metrics.Fetched.WithLabelValues(res.Retailer).Add(float64(s.Fetched))
	r.Metrics.Upserted.WithLabelValues(res.Retailer).Add(float64(s.Inserted))
	r.Metrics.Failed.WithLabelValues(res.Retailer).Add(float64(s.Failed))
	r.Metrics.Pruned.WithLabelValues(res.Retailer).Add(float64(s.Pruned))
	if res.Phase == PhaseFailed {
		r.Metrics.RetailerFailures.WithLabelValues(res.Retailer, string(res.FailedPhase)).Inc()
	}
}

func (r *Runner) publish(ctx context.Context, runID string, res RetailerResult, started time.Time, log zerolog.Logger) {
	ev := events.RetailerSynced{
		RunID:     runID,
		Retailer:  res.Retailer,
		Phase:     string(res.Phase),
		Fetched:   res.Stats.Fetched,
		Embedded:  res.Stats.Embedded,
		Upserted:  res.Stats.Inserted,
		Failed:    res.Stats.Failed,
		Pruned:    res.Stats.Pruned,
		StartedAt: started.UTC(),
		EndedAt:   time.Now().UTC(),
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	if err := r.Events.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Msg("publish retailer event failed")
	}
}

func logSummary(log zerolog.Logger, s run.Stats) {
	log.Info().
		Dur("duration", s.Duration).
		Int("fetched", s.Fetched).
		Int("upserted", s.Inserted).
		Int("pruned", s.Pruned).
		Int("embedded", s.Embedded).
		Int("failed", s.Failed).
		Int("store_errors", s.StoreErrors).
		Float64("failure_rate", s.FailureRate()).
		Msg("run summary")
}
