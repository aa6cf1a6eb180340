package engine

import (
	"context"
	"fmt"

	"albion-flipper/internal/items"
	"albion-flipper/internal/market"
)

// IndexSource fetches a market index for a set of item identifiers.
type IndexSource interface {
	FetchIndex(ctx context.Context, itemIDs []string) (market.Index, error)
}

// TemplateCatalog resolves categories to template specs.
type TemplateCatalog interface {
	CategoriesWithTemplates(ctx context.Context) ([]string, error)
	TemplatesForCategory(ctx context.Context, slug string, includeChildren bool) ([]items.TemplateSpec, error)
}

// CatalogAnalyzer runs the flip analyzer over templates and categories,
// fetching one combined index per category.
type CatalogAnalyzer struct {
	Catalog TemplateCatalog
	Source  IndexSource
	Flips   *FlipAnalyzer
}

// NewCatalogAnalyzer wires a catalog, an index source and a flip analyzer.
func NewCatalogAnalyzer(catalog TemplateCatalog, source IndexSource, flips *FlipAnalyzer) *CatalogAnalyzer {
	if flips == nil {
		flips = NewFlipAnalyzer("")
	}
	return &CatalogAnalyzer{Catalog: catalog, Source: source, Flips: flips}
}

// AnalyzeTemplate fetches one template's identifiers and ranks its flips.
func (c *CatalogAnalyzer) AnalyzeTemplate(ctx context.Context, spec items.TemplateSpec, params FlipParams) ([]FlipResult, error) {
	ids, err := spec.ItemIDs()
	if err != nil {
		return nil, err
	}
	results, err := c.AnalyzeItems(ctx, ids, params)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", spec.Key(), err)
	}
	return results, nil
}

// AnalyzeItems fetches exactly ids and ranks their flips.
func (c *CatalogAnalyzer) AnalyzeItems(ctx context.Context, ids []string, params FlipParams) ([]FlipResult, error) {
	if len(ids) == 0 {
		return []FlipResult{}, nil
	}
	idx, err := c.Source.FetchIndex(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return c.Flips.AnalyzeIndex(idx.Sub(ids), params), nil
}

// AnalyzeCategory runs a single category. A category without templates yields an empty run.
func (c *CatalogAnalyzer) AnalyzeCategory(ctx context.Context, slug string, params CatalogParams) (CategoryRun, error) {
	specs, err := c.Catalog.TemplatesForCategory(ctx, slug, params.IncludeChildren)
	if err != nil {
		return CategoryRun{}, err
	}
	specs = items.DedupeSpecs(specs)
	if len(specs) == 0 {
		return CategoryRun{CategorySlug: slug, Templates: []TemplateRun{}, TopResults: []FlipResult{}}, nil
	}

	ids, err := items.UnionItemIDs(specs)
	if err != nil {
		return CategoryRun{}, err
	}
	idx, err := c.Source.FetchIndex(ctx, ids)
	if err != nil {
		return CategoryRun{}, fmt.Errorf("fetch category %s: %w", slug, err)
	}
	return c.Flips.AnalyzeCategoryIndex(slug, specs, idx, params)
}

// Run scans the requested categories (all with templates when none are given)
// and builds the per-category and global rankings.
func (c *CatalogAnalyzer) Run(ctx context.Context, params CatalogParams) (CatalogReport, error) {
	slugs := params.Categories
	if len(slugs) == 0 {
		var err error
		slugs, err = c.Catalog.CategoriesWithTemplates(ctx)
		if err != nil {
			return CatalogReport{}, fmt.Errorf("list categories: %w", err)
		}
	}

	runs := make([]CategoryRun, 0, len(slugs))
	for _, slug := range slugs {
		if err := ctx.Err(); err != nil {
			return CatalogReport{}, err
		}
		run, err := c.AnalyzeCategory(ctx, slug, params)
		if err != nil {
			return CatalogReport{}, err
		}
		if len(run.Templates) == 0 {
			continue
		}
		runs = append(runs, run)
	}
	return BuildReport(runs, params.TopGlobal), nil
}

// AnalyzeCategoryIndex slices idx per template, analyzes each slice and ranks the union.
// specs are de-duplicated by key before use.
func (a *FlipAnalyzer) AnalyzeCategoryIndex(slug string, specs []items.TemplateSpec, idx market.Index, params CatalogParams) (CategoryRun, error) {
	specs = items.DedupeSpecs(specs)
	run := CategoryRun{
		CategorySlug: slug,
		Templates:    make([]TemplateRun, 0, len(specs)),
	}

	var all []FlipResult
	for _, spec := range specs {
		ids, err := spec.ItemIDs()
		if err != nil {
			return CategoryRun{}, fmt.Errorf("template %s: %w", spec.Key(), err)
		}
		results := a.AnalyzeIndex(idx.Sub(ids), params.flipParams())
		run.Templates = append(run.Templates, TemplateRun{TemplateKey: spec.TemplateKey, Results: results})
		all = append(all, results...)
	}

	run.TopResults = rankAndTruncate(all, params.TopPerCategory)
	return run, nil
}

// BuildReport merges category top lists into the global ranking.
func BuildReport(runs []CategoryRun, topGlobal int) CatalogReport {
	var all []FlipResult
	for _, run := range runs {
		all = append(all, run.TopResults...)
	}
	if runs == nil {
		runs = []CategoryRun{}
	}
	return CatalogReport{Categories: runs, TopGlobal: rankAndTruncate(all, topGlobal)}
}

func rankAndTruncate(results []FlipResult, topN int) []FlipResult {
	out := make([]FlipResult, len(results))
	copy(out, results)
	SortFlips(out)
	return truncateFlips(out, topN)
}
