package run

import (
	"math"
	"testing"
)

func healthy() Stats {
	return Stats{Fetched: 100, Inserted: 95, Failed: 5, Embedded: 95}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		stats  Stats
		policy Policy
		want   Reason
	}{
		{"healthy", healthy(), Policy{MaxFailureRate: 0.1}, ""},
		{"nothing fetched", Stats{}, Policy{MaxFailureRate: 1}, ReasonNothingFetched},
		{"nothing fetched wins over store errors", Stats{StoreErrors: 3}, Policy{}, ReasonNothingFetched},
		{"no embeddings", Stats{Fetched: 10, Inserted: 10}, Policy{MaxFailureRate: 1}, ReasonNoEmbeddings},
		{"nothing persisted", Stats{Fetched: 10, Embedded: 10}, Policy{MaxFailureRate: 1}, ReasonNothingPersisted},
		{"partial disallowed", Stats{Fetched: 10, Embedded: 10, Inserted: 10, StoreErrors: 1}, Policy{MaxFailureRate: 1}, ReasonPartialSync},
		{"partial allowed", Stats{Fetched: 10, Embedded: 10, Inserted: 10, StoreErrors: 1}, Policy{AllowPartial: true, MaxFailureRate: 1}, ""},
		{"rate exceeded", Stats{Fetched: 10, Embedded: 5, Inserted: 5, Failed: 5}, Policy{MaxFailureRate: 0.2}, ReasonFailureRate},
		{"rate at threshold", Stats{Fetched: 10, Embedded: 8, Inserted: 8, Failed: 2}, Policy{MaxFailureRate: 0.2}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.stats, tt.policy)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("unexpected failure: %v", got)
				}
				return
			}
			if got == nil || got.Reason != tt.want {
				t.Fatalf("got=%v want=%s", got, tt.want)
			}
		})
	}
}

func TestEvaluateDryRunNeverFails(t *testing.T) {
	for _, s := range []Stats{{}, {Fetched: 1, Failed: 1}, {StoreErrors: 4}} {
		if f := Evaluate(s, Policy{DryRun: true}); f != nil {
			t.Fatalf("dry run failed: %v", f)
		}
	}
}

func TestFailureRate(t *testing.T) {
	if r := (Stats{}).FailureRate(); r != 1 {
		t.Fatalf("empty rate=%v", r)
	}
	if r := (Stats{Fetched: 4, Failed: 1}).FailureRate(); math.Abs(r-0.25) > 1e-9 {
		t.Fatalf("rate=%v", r)
	}
}

func TestAdd(t *testing.T) {
	var total Stats
	total.Add(Stats{Fetched: 2, Inserted: 1, Failed: 1, Embedded: 1, Pruned: 3})
	total.Add(Stats{Fetched: 1, StoreErrors: 1})
	if total.Fetched != 3 || total.Inserted != 1 || total.Pruned != 3 || total.StoreErrors != 1 {
		t.Fatalf("total=%+v", total)
	}
}

func TestFailureMessage(t *testing.T) {
	f := Evaluate(Stats{Fetched: 10, Embedded: 10, Inserted: 10, StoreErrors: 2}, Policy{MaxFailureRate: 1})
	if f == nil || f.Error() != "run failed (partial_sync): 2 retailer(s) failed to sync" {
		t.Fatalf("f=%v", f)
	}
}
