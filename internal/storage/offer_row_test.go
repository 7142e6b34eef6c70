package storage

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestOfferRowJSON(t *testing.T) {
	now := time.Date(2026, 2, 16, 6, 0, 0, 0, time.UTC)
	b, err := json.Marshal(testRow("21755305", "edeka", now))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out := string(b)
	for _, want := range []string{`"offer_id":"21755305"`, `"store":"edeka"`, `"price":"3"`, `"scraped_at":"2026-02-16T06:00:00Z"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
	if strings.Contains(out, "embedding") {
		t.Fatalf("unexpected field in %s", out)
	}
}
