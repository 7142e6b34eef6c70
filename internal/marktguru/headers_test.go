package marktguru

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const homepage = `<!doctype html><html><head>
<script type="text/javascript">var x = 1;</script>
<script type="application/json">{"config":{"apiKey":"disc-api","clientKey":"disc-client","apiHostAddress":"api.marktguru.de"}}</script>
</head><body></body></html>`

func TestHomepageDiscoverer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, homepage)
	}))
	defer srv.Close()

	d := &HomepageDiscoverer{URL: srv.URL}
	h, err := d.Headers(context.Background())
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	if h["x-apikey"] != "disc-api" || h["x-clientkey"] != "disc-client" {
		t.Fatalf("headers=%v", h)
	}
	if h["Origin"] != "https://www.marktguru.de" || h["Referer"] != "https://www.marktguru.de/" {
		t.Fatalf("headers=%v", h)
	}
}

func TestHomepageDiscovererNoConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>nothing</body></html>")
	}))
	defer srv.Close()

	if _, err := (&HomepageDiscoverer{URL: srv.URL}).Headers(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

type slowProvider struct{}

func (slowProvider) Headers(ctx context.Context) (map[string]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestResolveHeadersFallsBackOnTimeout(t *testing.T) {
	fallback := StaticHeaders{APIKey: "static-api", ClientKey: "static-client"}
	h := ResolveHeaders(context.Background(), slowProvider{}, fallback, 10*time.Millisecond, zerolog.Nop())
	if h["x-apikey"] != "static-api" || h["x-clientkey"] != "static-client" {
		t.Fatalf("headers=%v", h)
	}
}

type partialProvider struct{}

func (partialProvider) Headers(context.Context) (map[string]string, error) {
	return map[string]string{"x-apikey": "fresh"}, nil
}

func TestResolveHeadersMergesStatic(t *testing.T) {
	h := ResolveHeaders(context.Background(), partialProvider{}, StaticHeaders{APIKey: "a", ClientKey: "c"}, time.Second, zerolog.Nop())
	if h["x-apikey"] != "fresh" || h["x-clientkey"] != "c" || h["User-Agent"] == "" {
		t.Fatalf("headers=%v", h)
	}
}

func TestMissingKeys(t *testing.T) {
	h := ResolveHeaders(context.Background(), nil, StaticHeaders{}, time.Second, zerolog.Nop())
	if got := MissingKeys(h); len(got) != 2 || got[0] != "x-apikey" || got[1] != "x-clientkey" {
		t.Fatalf("missing=%v", got)
	}

	h = ResolveHeaders(context.Background(), partialProvider{}, StaticHeaders{}, time.Second, zerolog.Nop())
	if got := MissingKeys(h); len(got) != 1 || got[0] != "x-clientkey" {
		t.Fatalf("missing=%v", got)
	}

	h = ResolveHeaders(context.Background(), nil, StaticHeaders{APIKey: "a", ClientKey: "c"}, time.Second, zerolog.Nop())
	if got := MissingKeys(h); len(got) != 0 {
		t.Fatalf("missing=%v", got)
	}
}
