package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/bonalyze/offer-sync/internal/embeddings"
	"github.com/bonalyze/offer-sync/internal/metrics"
	"github.com/bonalyze/offer-sync/internal/search"
	"github.com/bonalyze/offer-sync/internal/storage"
)

// Store is the read side of the offer table.
type Store interface {
	Get(ctx context.Context, offerID string) (*storage.OfferRow, error)
	Count(ctx context.Context) (int, error)
	CountByStore(ctx context.Context) (map[string]int, error)
}

type Server struct {
	db       Store
	idx      *search.Index
	embedder embeddings.Embedder // nil disables semantic and hybrid modes
	metrics  *metrics.Registry
	log      zerolog.Logger
}

type SearchResponse struct {
	Results []*search.SearchResult `json:"results"`
	Query   string                 `json:"query"`
	Mode    string                 `json:"mode"`
	Store   string                 `json:"store,omitempty"`
	Count   int                    `json:"count"`
	Error   string                 `json:"error,omitempty"`
}

func NewServer(db Store, idx *search.Index, embedder embeddings.Embedder, reg *metrics.Registry, log zerolog.Logger) *Server {
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &Server{
		db:       db,
		idx:      idx,
		embedder: embedder,
		metrics:  reg,
		log:      log,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/offer", s.handleGetOffer)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())

	h := hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	})(mux)
	return hlog.NewHandler(s.log)(h)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp := SearchResponse{
		Query: q.Get("q"),
		Mode:  q.Get("mode"),
		Store: q.Get("store"),
	}
	if resp.Mode == "" {
		resp.Mode = "keyword"
	}
	if resp.Query == "" {
		resp.Error = "missing q parameter"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	limit := 20
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	semanticWeight := 0.3
	if v, err := strconv.ParseFloat(q.Get("weight"), 64); err == nil && v >= 0 && v <= 1 {
		semanticWeight = v
	}

	ctx := r.Context()
	start := time.Now()
	var (
		results []*search.SearchResult
		err     error
	)
	switch resp.Mode {
	case "semantic", "hybrid":
		if s.embedder == nil {
			resp.Error = resp.Mode + " search not available (no embedding provider)"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		vec, embedErr := s.embedder.Embed(ctx, resp.Query)
		if embedErr != nil {
			resp.Error = "embed query: " + embedErr.Error()
			writeJSON(w, http.StatusBadGateway, resp)
			return
		}
		if resp.Mode == "semantic" {
			results, err = s.idx.SemanticSearch(ctx, vec, resp.Store, limit)
		} else {
			results, err = s.idx.HybridSearch(ctx, resp.Query, vec, resp.Store, limit, 1-semanticWeight)
		}
	case "keyword":
		results, err = s.idx.Search(ctx, resp.Query, resp.Store, limit)
	default:
		resp.Error = "unknown mode " + strconv.Quote(resp.Mode)
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	s.metrics.SearchLatencySec.WithLabelValues(resp.Mode).Observe(time.Since(start).Seconds())

	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("mode", resp.Mode).Msg("search failed")
		resp.Error = "search failed: " + err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	resp.Results = results
	resp.Count = len(results)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dbCount, dbErr := s.db.Count(ctx)
	perStore, _ := s.db.CountByStore(ctx)
	indexCount, _ := s.idx.Count()

	status, code := "ok", http.StatusOK
	if dbErr != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":               status,
		"offers_in_db":         dbCount,
		"offers_by_store":      perStore,
		"offers_in_index":      indexCount,
		"embeddings_available": s.embedder != nil,
	})
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return
	}

	row, err := s.db.Get(r.Context(), id)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("offer_id", id).Msg("get offer failed")
		http.Error(w, "Error retrieving offer", http.StatusInternalServerError)
		return
	}
	if row == nil {
		http.Error(w, "Offer not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
