package api

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"albion-flipper/internal/engine"
	"albion-flipper/internal/export"
	"albion-flipper/internal/items"
	"albion-flipper/internal/refresh"
)

// filterParams reads min_profit_net / min_margin_net with config defaults.
func filterParams(r *http.Request, minProfit int64, minMargin float64) (int64, float64, error) {
	p, err := queryInt64(r, "min_profit_net", minProfit)
	if err != nil {
		return 0, 0, err
	}
	m, err := queryFloat(r, "min_margin_net", minMargin)
	if err != nil {
		return 0, 0, err
	}
	return p, m, nil
}

// handleItemFlips analyzes one item key against the live feed. A catalog
// template key uses its stored ranges and mode, and ?mode= forces template
// expansion. Any other key is a comma-separated list of raw names:
// *ID, ID@n, [T4-T6]BASE, T6_BASE or BASE.
// GET /api/black-market/items/{key}?tier_min=&tier_max=&ench_min=&ench_max=&mode=&min_profit_net=&min_margin_net=&top_n=
func (s *Server) handleItemFlips(w http.ResponseWriter, r *http.Request) {
	cfg := s.config()
	key := strings.TrimSpace(chi.URLParam(r, "key"))

	params := engine.FlipParams{}
	var err error
	if params.MinProfitNet, params.MinMarginNet, err = filterParams(r, cfg.MinProfitNet, cfg.MinMarginNet); err != nil {
		writeError(w, 400, err.Error())
		return
	}
	if params.TopN, err = queryInt(r, "top_n", cfg.TopPerTemplate); err != nil {
		writeError(w, 400, err.Error())
		return
	}

	spec, found, err := s.store.GetTemplate(r.Context(), key)
	if err != nil {
		log.Printf("[API] GetTemplate %s: %v", key, err)
		writeError(w, 500, err.Error())
		return
	}
	if !found {
		spec = items.TemplateSpec{TemplateKey: key, Mode: items.ModeTiered, Qualities: cfg.Qualities}
	}
	if spec.TierMin == 0 && spec.TierMax == 0 {
		spec.TierMin, spec.TierMax = cfg.DefaultTierMin, cfg.DefaultTierMax
		spec.EnchMin, spec.EnchMax = cfg.DefaultEnchMin, cfg.DefaultEnchMax
	}
	modeParam := r.URL.Query().Get("mode")
	if modeParam != "" {
		mode, err := items.ParseMode(modeParam)
		if err != nil {
			writeError(w, 400, err.Error())
			return
		}
		spec.Mode = mode
	}

	for _, f := range []struct {
		key string
		dst *int
	}{
		{"tier_min", &spec.TierMin},
		{"tier_max", &spec.TierMax},
		{"ench_min", &spec.EnchMin},
		{"ench_max", &spec.EnchMax},
	} {
		if *f.dst, err = queryInt(r, f.key, *f.dst); err != nil {
			writeError(w, 400, err.Error())
			return
		}
	}

	an := engine.NewCatalogAnalyzer(s.store, s.live, s.flips)
	var results []engine.FlipResult
	if found || modeParam != "" {
		results, err = an.AnalyzeTemplate(r.Context(), spec, params)
	} else {
		results, err = s.analyzeRawNames(r, an, key, spec, params)
	}
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	if results == nil {
		results = []engine.FlipResult{}
	}
	log.Printf("[API] item %s: %d flips", key, len(results))
	writeJSON(w, results)
}

// analyzeRawNames expands raw names with spec's ranges as the bare-name defaults.
func (s *Server) analyzeRawNames(r *http.Request, an *engine.CatalogAnalyzer, key string, spec items.TemplateSpec, params engine.FlipParams) ([]engine.FlipResult, error) {
	exp, err := items.NewExpander(spec.TierMin, spec.TierMax, spec.EnchMin, spec.EnchMax)
	if err != nil {
		return nil, err
	}
	ids, err := exp.ExpandAll(strings.Split(key, ","))
	if err != nil {
		return nil, err
	}
	return an.AnalyzeItems(r.Context(), ids, params)
}

// catalogParams reads the shared scan parameters with config defaults.
func (s *Server) catalogParams(r *http.Request) (engine.CatalogParams, error) {
	p := s.config().CatalogParams()
	p.IncludeChildren = queryBool(r, "include_children")

	var err error
	if p.TopPerTemplate, err = queryInt(r, "top_n_per_template", p.TopPerTemplate); err != nil {
		return p, err
	}
	if p.TopPerCategory, err = queryInt(r, "top_n_per_category", p.TopPerCategory); err != nil {
		return p, err
	}
	if p.TopGlobal, err = queryInt(r, "top_n_global", p.TopGlobal); err != nil {
		return p, err
	}
	if p.MinProfitNet, p.MinMarginNet, err = filterParams(r, p.MinProfitNet, p.MinMarginNet); err != nil {
		return p, err
	}
	if p.TopPerTemplate < 0 || p.TopPerCategory < 0 || p.TopGlobal < 0 {
		return p, fmt.Errorf("top-N limits must not be negative")
	}
	return p, nil
}

// handleCategoryAnalysis runs one category against the live feed.
// GET /api/black-market/categories/{slug}/analysis
func (s *Server) handleCategoryAnalysis(w http.ResponseWriter, r *http.Request) {
	params, err := s.catalogParams(r)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	if params.TopPerCategory, err = queryInt(r, "top_n_total", params.TopPerCategory); err != nil {
		writeError(w, 400, err.Error())
		return
	}

	slug := chi.URLParam(r, "slug")
	an := engine.NewCatalogAnalyzer(s.store, s.live, s.flips)
	run, err := an.AnalyzeCategory(r.Context(), slug, params)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	writeJSON(w, run)
}

// handleCatalog builds a catalog report over the current snapshot.
// GET /api/black-market/catalog?categories=a,b
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	params, err := s.catalogParams(r)
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	params.Categories = queryList(r, "categories")

	an := engine.NewCatalogAnalyzer(s.store, s.refresher.Source(), s.flips)
	report, err := an.Run(r.Context(), params)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	writeJSON(w, report)
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func writeXLSX(w http.ResponseWriter, name string, write func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		log.Printf("[API] export %s: %v", name, err)
		writeError(w, 500, "export failed")
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(buf.Bytes())
}

// handleExportFlips downloads the snapshot's global ranking, or one
// category's ranking with ?category=.
func (s *Server) handleExportFlips(w http.ResponseWriter, r *http.Request) {
	snap := s.refresher.Current()
	if snap == nil {
		writeError(w, 503, refresh.ErrNoSnapshot.Error())
		return
	}
	flips := snap.Report.TopGlobal
	name := "flips.xlsx"
	if category := strings.TrimSpace(r.URL.Query().Get("category")); category != "" {
		found := false
		for _, run := range snap.Report.Categories {
			if run.CategorySlug == category {
				flips, found = run.TopResults, true
				break
			}
		}
		if !found {
			writeError(w, 404, "category not in snapshot: "+category)
			return
		}
		name = "flips-" + category + ".xlsx"
	}
	writeXLSX(w, name, func(buf *bytes.Buffer) error { return export.WriteFlips(buf, flips) })
}

// handleExportRoutes downloads the routes matching the /api/routes filters.
func (s *Server) handleExportRoutes(w http.ResponseWriter, r *http.Request) {
	routes, ok := s.snapshotRoutes(w, r)
	if !ok {
		return
	}
	writeXLSX(w, "routes.xlsx", func(buf *bytes.Buffer) error { return export.WriteRoutes(buf, routes) })
}
