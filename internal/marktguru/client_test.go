package marktguru

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bonalyze/offer-sync/internal/retry"
)

func testClient(url string) *Client {
	return NewClient(Options{
		BaseURL: url,
		ZipCode: "41460",
		Headers: map[string]string{"x-apikey": "k", "x-clientkey": "c"},
		Retry: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
			Log:         zerolog.Nop(),
		},
		Log: zerolog.Nop(),
	})
}

func pagedServer(t *testing.T, total int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-apikey") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("retailerIds") != "126699" {
			t.Errorf("retailerIds=%q", r.URL.Query().Get("retailerIds"))
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"totalResults":%d,"results":[`, total)
		for i := offset; i < offset+limit && i < total; i++ {
			if i > offset {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"id":%d}`, i+1)
		}
		fmt.Fprint(w, "]}")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchOffersPaginates(t *testing.T) {
	srv := pagedServer(t, 120)
	raws, err := testClient(srv.URL).FetchOffers(context.Background(), "edeka", 0)
	if err != nil {
		t.Fatalf("FetchOffers: %v", err)
	}
	if len(raws) != 120 {
		t.Fatalf("got %d offers want 120", len(raws))
	}
	if raws[119].String("id") != "120" {
		t.Fatalf("last id=%q", raws[119].String("id"))
	}
}

func TestFetchOffersMaxItems(t *testing.T) {
	srv := pagedServer(t, 120)
	raws, err := testClient(srv.URL).FetchOffers(context.Background(), "edeka", 10)
	if err != nil {
		t.Fatalf("FetchOffers: %v", err)
	}
	if len(raws) != 10 {
		t.Fatalf("got %d want 10", len(raws))
	}
}

func TestFetchOffersUnknownRetailer(t *testing.T) {
	_, err := testClient("http://127.0.0.1:1").FetchOffers(context.Background(), "netto", 0)
	if !errors.Is(err, ErrUnknownRetailer) {
		t.Fatalf("err=%v", err)
	}
}

func TestRetailerIDAlias(t *testing.T) {
	c := testClient("http://x")
	for _, key := range []string{"aldi-sued", "aldi_sued", " ALDI_SUED "} {
		if id, err := c.RetailerID(key); err != nil || id != "127153" {
			t.Fatalf("%q: id=%q err=%v", key, id, err)
		}
	}
}

func TestFetchOffersRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"totalResults":1,"results":[{"id":1}]}`)
	}))
	defer srv.Close()

	raws, err := testClient(srv.URL).FetchOffers(context.Background(), "edeka", 0)
	if err != nil {
		t.Fatalf("FetchOffers: %v", err)
	}
	if len(raws) != 1 || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("raws=%d calls=%d", len(raws), calls)
	}
}

func TestFetchOffersDoesNotRetryAuthFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchOffers(context.Background(), "edeka", 0)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Fatalf("err=%v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls=%d want=1", calls)
	}
}

func TestFetchOffersGivesUpAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).FetchOffers(context.Background(), "edeka", 0); err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("calls=%d want=3", calls)
	}
}

func TestFetchListingHasNoRetailerFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("retailerIds") {
			t.Errorf("listing must not filter by retailer")
		}
		if r.URL.Query().Get("limit") != "500" {
			t.Errorf("limit=%q", r.URL.Query().Get("limit"))
		}
		fmt.Fprint(w, `{"totalResults":1,"results":[{"id":9,"product":{"id":3,"name":"Pils"},"category":{"name":"Bier"}}]}`)
	}))
	defer srv.Close()

	entries, err := testClient(srv.URL).IndexLoader(0)(context.Background())
	if err != nil {
		t.Fatalf("loader: %v", err)
	}
	if len(entries) != 1 || entries[0].OfferID != "9" {
		t.Fatalf("entries=%+v", entries)
	}
}

func TestIsTransient(t *testing.T) {
	cases := map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true, 400: false, 401: false, 404: false}
	for code, want := range cases {
		if got := IsTransient(&StatusError{Code: code}); got != want {
			t.Fatalf("%d: got=%v want=%v", code, got, want)
		}
	}
}

func TestRetryAfterHeader(t *testing.T) {
	if d := retryAfter("3"); d != 3*time.Second {
		t.Fatalf("d=%v", d)
	}
	if d := retryAfter(""); d != 0 {
		t.Fatalf("d=%v", d)
	}
}
