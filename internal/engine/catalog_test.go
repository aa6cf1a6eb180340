package engine

import (
	"context"
	"errors"
	"sort"
	"testing"

	"albion-flipper/internal/items"
	"albion-flipper/internal/market"
)

var errUnknownCategory = errors.New("category not found")

type fakeCatalog struct {
	specs map[string][]items.TemplateSpec
	order []string
}

func (f *fakeCatalog) CategoriesWithTemplates(ctx context.Context) ([]string, error) {
	var out []string
	for _, slug := range f.order {
		if len(f.specs[slug]) > 0 {
			out = append(out, slug)
		}
	}
	return out, nil
}

func (f *fakeCatalog) TemplatesForCategory(ctx context.Context, slug string, includeChildren bool) ([]items.TemplateSpec, error) {
	specs, ok := f.specs[slug]
	if !ok {
		return nil, errUnknownCategory
	}
	return specs, nil
}

type countingSource struct {
	idx   market.Index
	calls int
	asked [][]string
	err   error
}

func (s *countingSource) FetchIndex(ctx context.Context, ids []string) (market.Index, error) {
	s.calls++
	s.asked = append(s.asked, append([]string(nil), ids...))
	if s.err != nil {
		return nil, s.err
	}
	return s.idx.Sub(ids), nil
}

func tiered(key string, tier int) items.TemplateSpec {
	return items.TemplateSpec{TemplateKey: key, Mode: items.ModeTiered, TierMin: tier, TierMax: tier}
}

// flipFixture seeds a profitable robust flip for every id.
func flipFixture(ids ...string) market.Index {
	idx := make(market.Index)
	for i, id := range ids {
		idx.Set(id, bm, 1, market.Quote{BuyMax: int64(2000 + 100*i)})
		idx.Set(id, "Martlock", 1, market.Quote{SellMax: 1000})
		idx.Set(id, "Lymhurst", 1, market.Quote{SellMin: 900})
	}
	return idx
}

func newFixtureAnalyzer() (*CatalogAnalyzer, *countingSource) {
	catalog := &fakeCatalog{
		order: []string{"bags", "capes", "empty"},
		specs: map[string][]items.TemplateSpec{
			"bags":  {tiered("BAG", 4), tiered("bag", 4), tiered("BAG_INSIGHT", 5)},
			"capes": {tiered("CAPE", 6)},
			"empty": {},
		},
	}
	src := &countingSource{idx: flipFixture("T4_BAG", "T5_BAG_INSIGHT", "T6_CAPE", "T8_UNRELATED")}
	return NewCatalogAnalyzer(catalog, src, NewFlipAnalyzer(bm)), src
}

func TestAnalyzeCategory_OneFetchAndDedupe(t *testing.T) {
	an, src := newFixtureAnalyzer()
	run, err := an.AnalyzeCategory(context.Background(), "bags", DefaultCatalogParams())
	if err != nil {
		t.Fatalf("AnalyzeCategory: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("fetches = %d, want 1", src.calls)
	}
	asked := append([]string(nil), src.asked[0]...)
	sort.Strings(asked)
	if len(asked) != 2 || asked[0] != "T4_BAG" || asked[1] != "T5_BAG_INSIGHT" {
		t.Errorf("requested ids = %v", asked)
	}
	if len(run.Templates) != 2 {
		t.Fatalf("templates = %d, want 2 after dedupe", len(run.Templates))
	}
	for _, tr := range run.Templates {
		for _, r := range tr.Results {
			if tr.TemplateKey == "BAG" && r.ItemID != "T4_BAG" {
				t.Errorf("BAG template leaked %s", r.ItemID)
			}
		}
	}
}

func TestAnalyzeCategory_EmptyCategory(t *testing.T) {
	an, src := newFixtureAnalyzer()
	run, err := an.AnalyzeCategory(context.Background(), "empty", DefaultCatalogParams())
	if err != nil {
		t.Fatalf("AnalyzeCategory: %v", err)
	}
	if src.calls != 0 {
		t.Errorf("fetches = %d, want 0", src.calls)
	}
	if run.Templates == nil || run.TopResults == nil || len(run.Templates) != 0 || len(run.TopResults) != 0 {
		t.Errorf("run = %+v, want empty non-nil slices", run)
	}
}

func TestAnalyzeCategory_UnknownCategory(t *testing.T) {
	an, _ := newFixtureAnalyzer()
	if _, err := an.AnalyzeCategory(context.Background(), "nope", DefaultCatalogParams()); !errors.Is(err, errUnknownCategory) {
		t.Errorf("err = %v, want errUnknownCategory", err)
	}
}

func TestAnalyzeCategory_FetchErrorWrapped(t *testing.T) {
	an, src := newFixtureAnalyzer()
	boom := errors.New("upstream 500")
	src.err = boom
	if _, err := an.AnalyzeCategory(context.Background(), "capes", DefaultCatalogParams()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped upstream error", err)
	}
}

func TestAnalyzeTemplate(t *testing.T) {
	an, src := newFixtureAnalyzer()
	results, err := an.AnalyzeTemplate(context.Background(), tiered("CAPE", 6), DefaultFlipParams())
	if err != nil {
		t.Fatalf("AnalyzeTemplate: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("fetches = %d, want 1", src.calls)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if !results[0].IsRobust || results[0].OriginCity != "Martlock" {
		t.Errorf("first = %+v, want robust Martlock flip", results[0])
	}

	var rangeErr *items.InvalidRangeError
	if _, err := an.AnalyzeTemplate(context.Background(), items.TemplateSpec{TemplateKey: "X", TierMin: 9, TierMax: 9}, DefaultFlipParams()); !errors.As(err, &rangeErr) {
		t.Errorf("err = %v, want InvalidRangeError", err)
	}
}

func TestAnalyzeItems_FetchesExactlyTheGivenIDs(t *testing.T) {
	an, src := newFixtureAnalyzer()
	results, err := an.AnalyzeItems(context.Background(), []string{"T6_CAPE", "T8_UNRELATED"}, DefaultFlipParams())
	if err != nil {
		t.Fatalf("AnalyzeItems: %v", err)
	}
	if len(src.asked) != 1 || len(src.asked[0]) != 2 || src.asked[0][0] != "T6_CAPE" || src.asked[0][1] != "T8_UNRELATED" {
		t.Errorf("asked = %v", src.asked)
	}
	for _, r := range results {
		if r.ItemID != "T6_CAPE" && r.ItemID != "T8_UNRELATED" {
			t.Errorf("unexpected item %s", r.ItemID)
		}
	}

	results, err = an.AnalyzeItems(context.Background(), nil, DefaultFlipParams())
	if err != nil || results == nil || len(results) != 0 {
		t.Errorf("empty ids = %v, %v", results, err)
	}
	if src.calls != 1 {
		t.Errorf("empty ids hit the feed: calls = %d", src.calls)
	}
}

func TestRun_AggregationIsConsistent(t *testing.T) {
	an, src := newFixtureAnalyzer()
	params := DefaultCatalogParams()
	params.TopPerTemplate = 1
	params.TopPerCategory = 1
	params.TopGlobal = 1

	report, err := an.Run(context.Background(), params)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("fetches = %d, want one per non-empty category", src.calls)
	}
	if len(report.Categories) != 2 {
		t.Fatalf("categories = %d, want 2", len(report.Categories))
	}

	inCategoryTops := make(map[FlipResult]bool)
	for _, cat := range report.Categories {
		inTemplates := make(map[FlipResult]bool)
		for _, tr := range cat.Templates {
			if len(tr.Results) > params.TopPerTemplate {
				t.Errorf("%s/%s has %d results", cat.CategorySlug, tr.TemplateKey, len(tr.Results))
			}
			for _, r := range tr.Results {
				inTemplates[r] = true
			}
		}
		if len(cat.TopResults) > params.TopPerCategory {
			t.Errorf("%s top = %d", cat.CategorySlug, len(cat.TopResults))
		}
		for _, r := range cat.TopResults {
			if !inTemplates[r] {
				t.Errorf("%s top result %+v not in any template", cat.CategorySlug, r)
			}
			inCategoryTops[r] = true
		}
	}
	if len(report.TopGlobal) != 1 {
		t.Fatalf("global = %d, want 1", len(report.TopGlobal))
	}
	if !inCategoryTops[report.TopGlobal[0]] {
		t.Errorf("global result %+v not in any category top", report.TopGlobal[0])
	}
	if report.TopGlobal[0].ItemID != "T6_CAPE" {
		t.Errorf("global top = %s, want T6_CAPE (highest clearinghouse bid)", report.TopGlobal[0].ItemID)
	}
}

func TestRun_ExplicitCategoriesSkipEmpty(t *testing.T) {
	an, _ := newFixtureAnalyzer()
	params := DefaultCatalogParams()
	params.Categories = []string{"empty", "capes"}
	report, err := an.Run(context.Background(), params)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Categories) != 1 || report.Categories[0].CategorySlug != "capes" {
		t.Errorf("categories = %+v", report.Categories)
	}
}

func TestBuildReport_Empty(t *testing.T) {
	report := BuildReport(nil, 10)
	if report.Categories == nil || len(report.Categories) != 0 || len(report.TopGlobal) != 0 {
		t.Errorf("report = %+v", report)
	}
}
