// Package run aggregates per-run counters and judges whether a finished run
// should be reported as failed.
package run

import (
	"fmt"
	"time"
)

// Stats are the counters accumulated over one sync run across all retailers.
type Stats struct {
	Fetched     int // offers parsed successfully from upstream
	Inserted    int // rows upserted
	Failed      int // offers dropped after parsing: invalid records, missing embeddings, failed upserts
	Embedded    int // offers carrying a valid embedding
	Pruned      int // rows removed by stale and expiry sweeps
	StoreErrors int // retailers that reached FAILED
	Duration    time.Duration
}

// Add folds the counters of one retailer into s.
func (s *Stats) Add(o Stats) {
	s.Fetched += o.Fetched
	s.Inserted += o.Inserted
	s.Failed += o.Failed
	s.Embedded += o.Embedded
	s.Pruned += o.Pruned
	s.StoreErrors += o.StoreErrors
}

// FailureRate is Failed/Fetched. Nothing fetched counts as total failure.
func (s Stats) FailureRate() float64 {
	if s.Fetched <= 0 {
		return 1
	}
	return float64(s.Failed) / float64(s.Fetched)
}

// Reason identifies why a run was judged failed.
type Reason string

const (
	ReasonNothingFetched   Reason = "nothing_fetched"
	ReasonNoEmbeddings     Reason = "no_embeddings"
	ReasonNothingPersisted Reason = "nothing_persisted"
	ReasonPartialSync      Reason = "partial_sync"
	ReasonFailureRate      Reason = "failure_rate"
)

// Failure is a run-level policy failure.
type Failure struct {
	Reason  Reason
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("run failed (%s): %s", f.Reason, f.Message)
}

// Policy holds the thresholds Evaluate applies.
type Policy struct {
	DryRun         bool
	AllowPartial   bool
	MaxFailureRate float64
}

// Evaluate returns the first failed check in priority order, or nil when the
// run is healthy. Dry runs never fail.
func Evaluate(s Stats, p Policy) *Failure {
	if p.DryRun {
		return nil
	}
	if s.Fetched == 0 {
		return &Failure{Reason: ReasonNothingFetched, Message: "no offers fetched from any retailer"}
	}
	if s.Embedded == 0 {
		return &Failure{Reason: ReasonNoEmbeddings, Message: "no embeddings produced"}
	}
	if s.Inserted == 0 {
		return &Failure{
			Reason:  ReasonNothingPersisted,
			Message: fmt.Sprintf("fetched %d offers but none were persisted", s.Fetched),
		}
	}
	if s.StoreErrors > 0 && !p.AllowPartial {
		return &Failure{
			Reason:  ReasonPartialSync,
			Message: fmt.Sprintf("%d retailer(s) failed to sync", s.StoreErrors),
		}
	}
	if rate := s.FailureRate(); rate > p.MaxFailureRate {
		return &Failure{
			Reason:  ReasonFailureRate,
			Message: fmt.Sprintf("failure rate %.1f%% exceeds allowed %.1f%%", rate*100, p.MaxFailureRate*100),
		}
	}
	return nil
}
