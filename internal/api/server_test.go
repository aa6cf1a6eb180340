package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"albion-flipper/internal/config"
	"albion-flipper/internal/db"
	"albion-flipper/internal/engine"
	"albion-flipper/internal/items"
	"albion-flipper/internal/market"
	"albion-flipper/internal/prices"
	"albion-flipper/internal/refresh"
)

const bm = engine.DefaultClearinghouse

type fakeStore struct {
	mu      sync.Mutex
	cats    []db.Category
	specs   map[string][]items.TemplateSpec
	saved   *config.Config
	saveErr error
}

func (f *fakeStore) CategoriesWithTemplates(ctx context.Context) ([]string, error) {
	var out []string
	for _, c := range f.cats {
		if c.TemplateCount > 0 {
			out = append(out, c.Slug)
		}
	}
	return out, nil
}

func (f *fakeStore) TemplatesForCategory(ctx context.Context, slug string, includeChildren bool) ([]items.TemplateSpec, error) {
	for _, c := range f.cats {
		if c.Slug == slug {
			out := append([]items.TemplateSpec{}, f.specs[slug]...)
			if includeChildren {
				for _, child := range f.cats {
					if child.ParentSlug == slug {
						out = append(out, f.specs[child.Slug]...)
					}
				}
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", db.ErrCategoryNotFound, slug)
}

func (f *fakeStore) GetTemplate(ctx context.Context, key string) (items.TemplateSpec, bool, error) {
	want := items.TemplateSpec{TemplateKey: key}.Key()
	for _, specs := range f.specs {
		for _, spec := range specs {
			if spec.Key() == want {
				return spec, true, nil
			}
		}
	}
	return items.TemplateSpec{}, false, nil
}

func (f *fakeStore) ListCategories(ctx context.Context) ([]db.Category, error) {
	return append([]db.Category(nil), f.cats...), nil
}

func (f *fakeStore) SaveConfig(cfg *config.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = cfg
	return nil
}

type fakeSource struct {
	idx   market.Index
	err   error
	calls int
	asked []string
}

func (s *fakeSource) FetchIndex(ctx context.Context, ids []string) (market.Index, error) {
	s.calls++
	s.asked = append([]string(nil), ids...)
	if s.err != nil {
		return nil, s.err
	}
	return s.idx.Sub(ids), nil
}

func fixtureIndex() market.Index {
	idx := make(market.Index)
	idx.Set("T4_BAG", bm, 1, market.Quote{BuyMax: 2000})
	idx.Set("T4_BAG", "Martlock", 1, market.Quote{SellMin: 900, SellMax: 1000, BuyMax: 950})
	idx.Set("T4_BAG", "Lymhurst", 1, market.Quote{SellMin: 800, BuyMax: 1200})
	idx.Set("T5_CAPE", bm, 1, market.Quote{BuyMax: 5000})
	idx.Set("T5_CAPE", "Thetford", 1, market.Quote{SellMax: 3000})
	return idx
}

func newTestServer(t *testing.T) (*Server, *fakeStore, *fakeSource) {
	t.Helper()
	store := &fakeStore{
		cats: []db.Category{
			{ID: 1, Name: "Accessories", Slug: "accessories"},
			{ID: 2, Name: "Bags", Slug: "bags", ParentSlug: "accessories", TemplateCount: 1},
			{ID: 3, Name: "Capes", Slug: "capes", ParentSlug: "accessories", TemplateCount: 1},
			{ID: 4, Name: "Mounts", Slug: "mounts"},
		},
		specs: map[string][]items.TemplateSpec{
			"bags":  {{TemplateKey: "BAG", TierMin: 4, TierMax: 4}},
			"capes": {{TemplateKey: "CAPE", TierMin: 5, TierMax: 5}},
		},
	}
	src := &fakeSource{idx: fixtureIndex()}
	cfg := config.Default()
	r := refresh.New(store, src, refresh.Options{Params: cfg.CatalogParams()})
	return NewServer(cfg, store, src, r), store, src
}

func do(t *testing.T, srv *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHandleGetConfig_ReturnsConfig(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/api/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/config status = %d, want 200", rec.Code)
	}
	var out config.Config
	decode(t, rec, &out)
	if out.Clearinghouse != bm || out.DefaultTierMin != 4 {
		t.Errorf("config = %+v", out)
	}
}

func TestHandleSetConfig_PersistsAndValidates(t *testing.T) {
	srv, store, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/config", `{"top_global": 5, "min_margin_net": 0.1, "port": 1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if store.saved == nil || store.saved.TopGlobal != 5 || store.saved.MinMarginNet != 0.1 {
		t.Errorf("saved = %+v", store.saved)
	}
	if srv.config().Port != 13370 {
		t.Errorf("port was patched to %d", srv.config().Port)
	}

	rec = do(t, srv, http.MethodPost, "/api/config", `{"default_tier_min": 9}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid tier status = %d, want 400", rec.Code)
	}
	if srv.config().DefaultTierMin != 4 {
		t.Error("rejected patch was applied")
	}

	rec = do(t, srv, http.MethodPost, "/api/config", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d, want 400", rec.Code)
	}

	store.saveErr = errors.New("disk full")
	rec = do(t, srv, http.MethodPost, "/api/config", `{"top_global": 7}`)
	if rec.Code != http.StatusInternalServerError || srv.config().TopGlobal != 5 {
		t.Errorf("save failure: status %d, top_global %d", rec.Code, srv.config().TopGlobal)
	}
}

func TestHandleCategories(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var cats []db.Category
	decode(t, do(t, srv, http.MethodGet, "/api/categories", ""), &cats)
	if len(cats) != 2 || cats[0].Slug != "bags" || cats[1].Slug != "capes" {
		t.Errorf("categories = %+v", cats)
	}

	decode(t, do(t, srv, http.MethodGet, "/api/categories?all=true", ""), &cats)
	if len(cats) != 4 {
		t.Errorf("all categories = %d, want 4", len(cats))
	}
}

func TestHandleCategoryTemplates(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var specs []items.TemplateSpec
	decode(t, do(t, srv, http.MethodGet, "/api/categories/accessories/templates?include_children=true", ""), &specs)
	if len(specs) != 2 {
		t.Errorf("subtree templates = %+v", specs)
	}

	rec := do(t, srv, http.MethodGet, "/api/categories/accessories/templates", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("direct templates = %d %s, want 200 []", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/api/categories/nope/templates", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown category status = %d, want 404", rec.Code)
	}
}

func TestSnapshotEndpoints_BeforeFirstRefresh(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, path := range []string{"/api/routes", "/api/routes/top", "/api/black-market/catalog", "/api/export/flips.xlsx", "/api/export/routes.xlsx"} {
		if rec := do(t, srv, http.MethodGet, path, ""); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, rec.Code)
		}
	}

	var st map[string]interface{}
	decode(t, do(t, srv, http.MethodGet, "/api/status", ""), &st)
	if st["ready"] != false {
		t.Errorf("status = %v", st)
	}
}

func TestRoutes_FromSnapshot(t *testing.T) {
	srv, _, _ := newTestServer(t)
	if _, err := srv.refresher.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	var routes []engine.ArbitrageRoute
	decode(t, do(t, srv, http.MethodGet, "/api/routes?category=bags&to=Black%20Market", ""), &routes)
	if len(routes) != 2 {
		t.Fatalf("routes = %+v", routes)
	}
	for _, r := range routes {
		if r.Item != "T4_BAG" || r.CityTo != bm {
			t.Errorf("route = %+v", r)
		}
	}

	var top engine.ArbitrageRoute
	decode(t, do(t, srv, http.MethodGet, "/api/routes/top?category=bags&to=Black%20Market", ""), &top)
	if top != routes[0] {
		t.Errorf("top = %+v, want %+v", top, routes[0])
	}

	rec := do(t, srv, http.MethodGet, "/api/routes/top?from=Nowhere", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "null" {
		t.Errorf("empty top = %d %s, want 200 null", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/api/routes?from=Nowhere", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty routes body = %s, want []", rec.Body.String())
	}

	if rec := do(t, srv, http.MethodGet, "/api/routes?category=mounts", ""); rec.Code != http.StatusNotFound {
		t.Errorf("category without snapshot routes status = %d, want 404", rec.Code)
	}

	var st map[string]interface{}
	decode(t, do(t, srv, http.MethodGet, "/api/status", ""), &st)
	if st["ready"] != true || st["item_count"] != float64(2) {
		t.Errorf("status = %v", st)
	}
}

func TestItemFlips_Live(t *testing.T) {
	srv, _, src := newTestServer(t)

	var flips []engine.FlipResult
	rec := do(t, srv, http.MethodGet, "/api/black-market/items/bag?tier_min=4&tier_max=4&ench_max=0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &flips)
	if len(flips) == 0 || flips[0].ItemID != "T4_BAG" || flips[0].OriginCity != "Martlock" || !flips[0].IsRobust {
		t.Errorf("flips = %+v", flips)
	}
	if src.calls != 1 {
		t.Errorf("feed calls = %d, want 1", src.calls)
	}

	rec = do(t, srv, http.MethodGet, "/api/black-market/items/bag?min_profit_net=100000", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("filtered body = %s, want []", rec.Body.String())
	}

	if rec := do(t, srv, http.MethodGet, "/api/black-market/items/bag?tier_min=7&tier_max=5", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("inverted tiers status = %d, want 400", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/api/black-market/items/bag?ench_max=9", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("enchant out of range status = %d, want 400", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/api/black-market/items/bag?top_n=x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric top_n status = %d, want 400", rec.Code)
	}

	src.err = &prices.FetchError{URL: "http://feed", Status: 502}
	if rec := do(t, srv, http.MethodGet, "/api/black-market/items/bag", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("feed failure status = %d, want 502", rec.Code)
	}
}

func TestItemFlips_RawNames(t *testing.T) {
	srv, _, src := newTestServer(t)
	src.idx.Set("T5_MOUNT_OX", bm, 1, market.Quote{BuyMax: 9000})
	src.idx.Set("T5_MOUNT_OX", "Bridgewatch", 1, market.Quote{SellMin: 4000})

	cases := []struct {
		path string
		want []string
	}{
		{"/api/black-market/items/*UNIQUE_MOUNT_X", []string{"UNIQUE_MOUNT_X"}},
		{"/api/black-market/items/[T5]MOUNT_OX", []string{"T5_MOUNT_OX", "T5_MOUNT_OX@1", "T5_MOUNT_OX@2", "T5_MOUNT_OX@3", "T5_MOUNT_OX@4"}},
		{"/api/black-market/items/T4_BAG@1,*t5_cape,T4_BAG@1", []string{"T4_BAG@1", "T5_CAPE"}},
		{"/api/black-market/items/T6_SHOES?ench_max=1", []string{"T6_SHOES", "T6_SHOES@1"}},
		{"/api/black-market/items/SHOES?tier_min=7&ench_max=0", []string{"T7_SHOES", "T8_SHOES"}},
	}
	for _, tc := range cases {
		rec := do(t, srv, http.MethodGet, tc.path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d: %s", tc.path, rec.Code, rec.Body.String())
			continue
		}
		if strings.Join(src.asked, " ") != strings.Join(tc.want, " ") {
			t.Errorf("%s fetched %v, want %v", tc.path, src.asked, tc.want)
		}
	}

	var flips []engine.FlipResult
	decode(t, do(t, srv, http.MethodGet, "/api/black-market/items/[T5]MOUNT_OX", ""), &flips)
	if len(flips) != 1 || flips[0].ItemID != "T5_MOUNT_OX" || flips[0].OriginCity != "Bridgewatch" {
		t.Errorf("ox flips = %+v", flips)
	}

	if rec := do(t, srv, http.MethodGet, "/api/black-market/items/[T9]MOUNT_OX", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("tier 9 status = %d, want 400", rec.Code)
	}
}

func TestItemFlips_CatalogTemplateUsesStoredRanges(t *testing.T) {
	srv, _, src := newTestServer(t)

	if rec := do(t, srv, http.MethodGet, "/api/black-market/items/cape?ench_max=0", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(src.asked) != 1 || src.asked[0] != "T5_CAPE" {
		t.Errorf("fetched %v, want [T5_CAPE]", src.asked)
	}

	if rec := do(t, srv, http.MethodGet, "/api/black-market/items/cape?mode=exact", ""); rec.Code != http.StatusOK {
		t.Fatalf("exact status = %d", rec.Code)
	}
	if len(src.asked) != 1 || src.asked[0] != "CAPE" {
		t.Errorf("exact fetched %v, want [CAPE]", src.asked)
	}
}

func TestPriceCache_StatusAndClear(t *testing.T) {
	srv, _, _ := newTestServer(t)
	if rec := do(t, srv, http.MethodPost, "/api/cache/clear", ""); rec.Code != http.StatusNotImplemented {
		t.Errorf("clear without cache status = %d, want 501", rec.Code)
	}

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "[]")
	}))
	defer feed.Close()
	client := prices.NewClient(prices.Options{BaseURL: feed.URL, Locations: []string{bm}, CacheTTL: time.Minute})
	srv.live = client

	if rec := do(t, srv, http.MethodGet, "/api/black-market/items/*T4_BAG", ""); rec.Code != http.StatusOK {
		t.Fatalf("item status = %d: %s", rec.Code, rec.Body.String())
	}
	var st map[string]interface{}
	decode(t, do(t, srv, http.MethodGet, "/api/status", ""), &st)
	if st["cache_entries"] != float64(1) {
		t.Errorf("cache_entries = %v, want 1", st["cache_entries"])
	}

	var cleared map[string]int
	decode(t, do(t, srv, http.MethodPost, "/api/cache/clear", ""), &cleared)
	if cleared["cleared"] != 1 || client.Cache().Len() != 0 {
		t.Errorf("cleared = %v, len = %d", cleared, client.Cache().Len())
	}
}

func TestCategoryAnalysis_Live(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var run engine.CategoryRun
	rec := do(t, srv, http.MethodGet, "/api/black-market/categories/accessories/analysis?include_children=1&top_n_total=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &run)
	if len(run.Templates) != 2 || len(run.TopResults) != 1 || run.TopResults[0].ItemID != "T5_CAPE" {
		t.Errorf("run = %+v", run)
	}

	decode(t, do(t, srv, http.MethodGet, "/api/black-market/categories/mounts/analysis", ""), &run)
	if len(run.Templates) != 0 || run.TopResults == nil {
		t.Errorf("empty category run = %+v", run)
	}

	if rec := do(t, srv, http.MethodGet, "/api/black-market/categories/nope/analysis", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown category status = %d, want 404", rec.Code)
	}
}

func TestCatalog_ServedFromSnapshot(t *testing.T) {
	srv, _, src := newTestServer(t)
	if _, err := srv.refresher.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := src.calls

	var report engine.CatalogReport
	rec := do(t, srv, http.MethodGet, "/api/black-market/catalog?categories=bags&top_n_global=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &report)
	if len(report.Categories) != 1 || len(report.TopGlobal) != 1 || report.TopGlobal[0].ItemID != "T4_BAG" {
		t.Errorf("report = %+v", report)
	}
	if src.calls != before {
		t.Errorf("catalog hit the feed %d times", src.calls-before)
	}

	if rec := do(t, srv, http.MethodGet, "/api/black-market/catalog?top_n_global=-1", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want 400", rec.Code)
	}
}

func TestExport_XLSX(t *testing.T) {
	srv, _, _ := newTestServer(t)
	if _, err := srv.refresher.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := do(t, srv, http.MethodGet, "/api/export/flips.xlsx?category=capes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "flips-capes.xlsx") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Flips")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][0] != "T5_CAPE" {
		t.Errorf("rows = %v", rows)
	}

	if rec := do(t, srv, http.MethodGet, "/api/export/flips.xlsx?category=nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown category status = %d, want 404", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/api/export/routes.xlsx?category=bags", ""); rec.Code != http.StatusOK {
		t.Errorf("routes export status = %d", rec.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/routes", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Errorf("preflight headers = %v", rec.Header())
	}
}
