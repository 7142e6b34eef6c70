package metrics

import (
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestCountersPerRetailer(t *testing.T) {
	r := NewRegistry()
	r.Fetched.WithLabelValues("edeka").Add(3)
	r.Fetched.WithLabelValues("lidl").Add(1)
	r.RetailerFailures.WithLabelValues("lidl", "MARKING").Inc()

	if v := counterValue(t, r, "offersync_offers_fetched_total", "edeka"); v != 3 {
		t.Fatalf("edeka fetched=%v", v)
	}
	if v := counterValue(t, r, "offersync_retailer_failures_total", "lidl"); v != 1 {
		t.Fatalf("failures=%v", v)
	}
}

func counterValue(t *testing.T, r *Registry, name, retailer string) float64 {
	t.Helper()
	families, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if hasLabel(m, "retailer", retailer) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return -1
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, l := range m.GetLabel() {
		if l.GetName() == name && l.GetValue() == value {
			return true
		}
	}
	return false
}

func TestHandlerServesMetrics(t *testing.T) {
	r := NewRegistry()
	r.EmbeddingsGenerated.Add(7)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "offersync_embeddings_generated_total 7") {
		t.Fatalf("body=%s", body)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := NewRegistry()
	r.MarkSuccess(time.Unix(1700000000, 0))
	path := filepath.Join(t.TempDir(), "offersync.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), "offersync_last_success_timestamp_seconds 1.7e+09") {
		t.Fatalf("textfile=%s", b)
	}
}
