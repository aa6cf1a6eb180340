package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"albion-flipper/internal/config"
	"albion-flipper/internal/db"
	"albion-flipper/internal/engine"
	"albion-flipper/internal/items"
	"albion-flipper/internal/prices"
	"albion-flipper/internal/refresh"
)

// Store is the catalog and settings persistence the server needs.
type Store interface {
	engine.TemplateCatalog
	GetTemplate(ctx context.Context, key string) (items.TemplateSpec, bool, error)
	ListCategories(ctx context.Context) ([]db.Category, error)
	SaveConfig(cfg *config.Config) error
}

// batchCacher is implemented by live sources that cache feed batches.
type batchCacher interface {
	Cache() *prices.Cache
}

// Server is the HTTP API server that connects the catalog, the live price
// feed and the snapshot refresher.
type Server struct {
	store     Store
	live      engine.IndexSource
	refresher *refresh.Refresher

	mu      sync.RWMutex
	cfg     *config.Config
	flips   *engine.FlipAnalyzer
	history History
}

// NewServer creates a Server. live serves single-item and category analyses;
// catalog reports and routes come from refresher's snapshot.
func NewServer(cfg *config.Config, store Store, live engine.IndexSource, refresher *refresh.Refresher) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		live:      live,
		refresher: refresher,
		flips:     engine.NewFlipAnalyzer(cfg.Clearinghouse),
	}
}

func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Handler returns the HTTP handler with all API routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(2 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config().CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/config", s.handleGetConfig)
		r.Post("/config", s.handleSetConfig)

		r.Get("/categories", s.handleCategories)
		r.Get("/categories/{slug}/templates", s.handleCategoryTemplates)

		r.Post("/cache/clear", s.handleClearCache)

		r.Get("/routes", s.handleRoutes)
		r.Get("/routes/top", s.handleTopRoute)

		r.Route("/black-market", func(r chi.Router) {
			r.Get("/items/{key}", s.handleItemFlips)
			r.Get("/categories/{slug}/analysis", s.handleCategoryAnalysis)
			r.Get("/catalog", s.handleCatalog)
		})

		r.Get("/history", s.handleGetHistory)
		r.Get("/history/{id}", s.handleGetHistoryByID)
		r.Get("/history/{id}/flips", s.handleGetHistoryFlips)
		r.Delete("/history/{id}", s.handleDeleteHistory)
		r.Post("/history/clear", s.handleClearHistory)

		r.Get("/export/flips.xlsx", s.handleExportFlips)
		r.Get("/export/routes.xlsx", s.handleExportRoutes)
	})
	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeAnalysisError maps analysis failures to status codes.
func writeAnalysisError(w http.ResponseWriter, err error) {
	var rangeErr *items.InvalidRangeError
	var fetchErr *prices.FetchError
	switch {
	case errors.As(err, &rangeErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, db.ErrCategoryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, refresh.ErrNoSnapshot):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &fetchErr):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		log.Printf("[API] analysis error: %v", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// queryInt reads an integer query parameter; missing means fallback.
func queryInt(r *http.Request, key string, fallback int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}

func queryInt64(r *http.Request, key string, fallback int64) (int64, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}

func queryFloat(r *http.Request, key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.New(key + " must be a number")
	}
	return f, nil
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

// queryList splits a comma-separated parameter, dropping blanks.
func queryList(r *http.Request, key string) []string {
	var out []string
	for _, part := range strings.Split(r.URL.Query().Get(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.refresher.Status()
	result := map[string]interface{}{
		"ready":      st.Snapshot != nil,
		"refreshing": st.Refreshing,
		"item_count": st.ItemCount,
	}
	if snap := st.Snapshot; snap != nil {
		result["snapshot_id"] = snap.ID
		result["built_at"] = snap.BuiltAt
		result["duration"] = snap.Duration
		result["categories"] = snap.Categories
		result["route_count"] = len(snap.AllRoutes)
	}
	if st.LastError != "" {
		result["last_error"] = st.LastError
		result["last_error_at"] = st.LastErrorAt
	}
	if bc, ok := s.live.(batchCacher); ok {
		result["cache_entries"] = bc.Cache().Len()
	}
	writeJSON(w, result)
}

// handleClearCache drops every cached feed batch.
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	bc, ok := s.live.(batchCacher)
	if !ok {
		writeError(w, http.StatusNotImplemented, "price cache is not enabled")
		return
	}
	n := bc.Cache().Clear()
	log.Printf("[API] cleared %d cached batches", n)
	writeJSON(w, map[string]int{"cleared": n})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.config())
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, 400, "invalid json")
		return
	}

	next := s.config().Clone()
	fields := map[string]interface{}{
		"default_tier_min": &next.DefaultTierMin,
		"default_tier_max": &next.DefaultTierMax,
		"default_ench_min": &next.DefaultEnchMin,
		"default_ench_max": &next.DefaultEnchMax,
		"min_profit_net":   &next.MinProfitNet,
		"min_margin_net":   &next.MinMarginNet,
		"top_per_template": &next.TopPerTemplate,
		"top_per_category": &next.TopPerCategory,
		"top_global":       &next.TopGlobal,
	}
	for key, raw := range patch {
		dst, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			writeError(w, 400, "invalid value for "+key)
			return
		}
	}
	if err := next.Validate(); err != nil {
		writeError(w, 400, err.Error())
		return
	}
	if err := s.store.SaveConfig(next); err != nil {
		log.Printf("[API] SaveConfig error: %v", err)
		writeError(w, 500, "failed to save config")
		return
	}

	s.mu.Lock()
	s.cfg = next
	s.mu.Unlock()
	s.refresher.SetParams(next.CatalogParams())
	writeJSON(w, next)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.store.ListCategories(r.Context())
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if !queryBool(r, "all") {
		withTemplates := cats[:0]
		for _, c := range cats {
			if c.TemplateCount > 0 {
				withTemplates = append(withTemplates, c)
			}
		}
		cats = withTemplates
	}
	writeJSON(w, cats)
}

func (s *Server) handleCategoryTemplates(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	specs, err := s.store.TemplatesForCategory(r.Context(), slug, queryBool(r, "include_children"))
	if errors.Is(err, db.ErrCategoryNotFound) {
		writeError(w, 404, err.Error())
		return
	}
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, specs)
}

// snapshotRoutes resolves the category/from/to filters against the current snapshot.
func (s *Server) snapshotRoutes(w http.ResponseWriter, r *http.Request) ([]engine.ArbitrageRoute, bool) {
	snap := s.refresher.Current()
	if snap == nil {
		writeError(w, 503, refresh.ErrNoSnapshot.Error())
		return nil, false
	}
	q := r.URL.Query()
	category := q.Get("category")
	routes, ok := snap.RoutesFor(category, q.Get("from"), q.Get("to"))
	if !ok {
		writeError(w, 404, "category not in snapshot: "+category)
		return nil, false
	}
	return routes, true
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	routes, ok := s.snapshotRoutes(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	if limit > 0 && len(routes) > limit {
		routes = routes[:limit]
	}
	writeJSON(w, routes)
}

func (s *Server) handleTopRoute(w http.ResponseWriter, r *http.Request) {
	routes, ok := s.snapshotRoutes(w, r)
	if !ok {
		return
	}
	if len(routes) == 0 {
		writeJSON(w, nil)
		return
	}
	writeJSON(w, routes[0])
}
