package refresh

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"albion-flipper/internal/engine"
	"albion-flipper/internal/items"
	"albion-flipper/internal/logger"
	"albion-flipper/internal/market"
)

// Options configures a Refresher.
type Options struct {
	Interval    time.Duration // <= 0 disables the background loop
	MaxParallel int           // concurrent category fetches
	Flips       *engine.FlipAnalyzer
	Params      engine.CatalogParams
}

// Hook runs after every successful refresh with the new snapshot.
type Hook func(ctx context.Context, snap *Snapshot)

// Status describes the refresher for the status endpoint.
type Status struct {
	Snapshot    *Snapshot `json:"snapshot,omitempty"`
	ItemCount   int       `json:"item_count"`
	Refreshing  bool      `json:"refreshing"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at"`
}

// Refresher periodically fetches every catalog category and swaps in a new
// Snapshot. Readers hold the lock only long enough to copy the pointer.
type Refresher struct {
	catalog engine.TemplateCatalog
	source  engine.IndexSource
	opts    Options

	mu          sync.RWMutex
	current     *Snapshot
	refreshing  bool
	lastErr     error
	lastErrorAt time.Time
	hooks       []Hook

	run sync.Mutex // serializes Refresh calls
}

// New creates a refresher over catalog and source.
func New(catalog engine.TemplateCatalog, source engine.IndexSource, opts Options) *Refresher {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 2
	}
	if opts.Flips == nil {
		opts.Flips = engine.NewFlipAnalyzer("")
	}
	return &Refresher{catalog: catalog, source: source, opts: opts}
}

// OnRefresh registers a hook called after every successful refresh.
func (r *Refresher) OnRefresh(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// SetParams replaces the catalog parameters used for the next refresh.
func (r *Refresher) SetParams(p engine.CatalogParams) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.Params = p
}

// Current returns the latest snapshot, or nil before the first refresh.
func (r *Refresher) Current() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Source returns an engine.IndexSource backed by the current snapshot.
func (r *Refresher) Source() Source {
	return Source{r: r}
}

// Status reports the current snapshot and the last refresh error.
func (r *Refresher) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Status{Snapshot: r.current, Refreshing: r.refreshing, LastErrorAt: r.lastErrorAt}
	if r.current != nil {
		st.ItemCount = r.current.ItemCount()
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	return st
}

type categoryFetch struct {
	slug  string
	specs []items.TemplateSpec
	index market.Index
}

// Refresh builds a new snapshot and swaps it in. On failure the previous
// snapshot stays current.
func (r *Refresher) Refresh(ctx context.Context) (*Snapshot, error) {
	r.run.Lock()
	defer r.run.Unlock()

	r.mu.Lock()
	r.refreshing = true
	params := r.opts.Params
	r.mu.Unlock()

	snap, err := r.build(ctx, params)

	r.mu.Lock()
	r.refreshing = false
	if err != nil {
		r.lastErr, r.lastErrorAt = err, time.Now()
		r.mu.Unlock()
		return nil, err
	}
	r.current = snap
	r.lastErr = nil
	hooks := append([]Hook(nil), r.hooks...)
	r.mu.Unlock()

	for _, h := range hooks {
		h(ctx, snap)
	}
	return snap, nil
}

func (r *Refresher) build(ctx context.Context, params engine.CatalogParams) (*Snapshot, error) {
	start := time.Now()

	slugs, err := r.catalog.CategoriesWithTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	fetched := make([]categoryFetch, len(slugs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.MaxParallel)
	for i, slug := range slugs {
		i, slug := i, slug
		g.Go(func() error {
			specs, err := r.catalog.TemplatesForCategory(gctx, slug, false)
			if err != nil {
				return fmt.Errorf("category %s: %w", slug, err)
			}
			specs = items.DedupeSpecs(specs)
			ids, err := items.UnionItemIDs(specs)
			if err != nil {
				return fmt.Errorf("category %s: %w", slug, err)
			}
			idx, err := r.source.FetchIndex(gctx, ids)
			if err != nil {
				return fmt.Errorf("fetch category %s: %w", slug, err)
			}
			fetched[i] = categoryFetch{slug: slug, specs: specs, index: idx.Sub(ids)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:         uuid.NewString(),
		BuiltAt:    time.Now().UTC(),
		Categories: slugs,
		Index:      make(market.Index),
		Routes:     make(map[string][]engine.ArbitrageRoute, len(slugs)),
	}
	if snap.Categories == nil {
		snap.Categories = []string{}
	}

	runs := make([]engine.CategoryRun, 0, len(fetched))
	for _, f := range fetched {
		snap.Index.Merge(f.index)
		snap.Routes[f.slug] = engine.NewRouteAnalyzer(market.Rows(f.index)).BestTrades("", "")

		run, err := r.opts.Flips.AnalyzeCategoryIndex(f.slug, f.specs, f.index, params)
		if err != nil {
			return nil, err
		}
		if len(run.Templates) > 0 {
			runs = append(runs, run)
		}
	}
	snap.AllRoutes = engine.NewRouteAnalyzer(market.Rows(snap.Index)).BestTrades("", "")
	snap.Report = engine.BuildReport(runs, params.TopGlobal)
	snap.Took = time.Since(start)
	snap.Duration = snap.Took.Round(time.Millisecond).String()

	log.Printf("[REFRESH] snapshot %s: %d categories, %d items, %d routes, %d global flips in %s",
		snap.ID, len(slugs), snap.ItemCount(), len(snap.AllRoutes), len(snap.Report.TopGlobal), snap.Duration)
	return snap, nil
}

// Run refreshes immediately and then every Interval until ctx is cancelled.
// Failures are logged; the previous snapshot keeps serving.
func (r *Refresher) Run(ctx context.Context) {
	r.refreshLogged(ctx)
	if r.opts.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshLogged(ctx)
		}
	}
}

func (r *Refresher) refreshLogged(ctx context.Context) {
	snap, err := r.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("REFRESH", fmt.Sprintf("Refresh failed, keeping previous snapshot: %v", err))
		}
		return
	}
	logger.Success("REFRESH", fmt.Sprintf("Snapshot %s ready (%d items, %d categories)",
		snap.ID[:8], snap.ItemCount(), len(snap.Categories)))
}
