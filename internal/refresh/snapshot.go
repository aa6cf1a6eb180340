package refresh

import (
	"context"
	"errors"
	"time"

	"albion-flipper/internal/engine"
	"albion-flipper/internal/market"
)

// ErrNoSnapshot is returned before the first refresh completes.
var ErrNoSnapshot = errors.New("no market snapshot yet")

// Snapshot is an immutable view of one refresh: the merged market index,
// precomputed routes and the default catalog report.
type Snapshot struct {
	ID         string        `json:"id"`
	BuiltAt    time.Time     `json:"built_at"`
	Duration   string        `json:"duration"`
	Categories []string      `json:"categories"`
	Took       time.Duration `json:"-"`

	Index     market.Index                       `json:"-"`
	Routes    map[string][]engine.ArbitrageRoute `json:"-"` // per category slug
	AllRoutes []engine.ArbitrageRoute            `json:"-"` // over the merged index
	Report    engine.CatalogReport               `json:"-"`
}

// ItemCount is the number of distinct items with at least one quote.
func (s *Snapshot) ItemCount() int {
	return len(s.Index)
}

// RoutesFor returns the ranked routes of category (all categories when empty),
// filtered by origin and destination. ok is false for a category not in the snapshot.
func (s *Snapshot) RoutesFor(category, from, to string) ([]engine.ArbitrageRoute, bool) {
	routes := s.AllRoutes
	if category != "" {
		var ok bool
		if routes, ok = s.Routes[category]; !ok {
			return nil, false
		}
	}
	out := engine.FilterRoutes(routes, from, to)
	if out == nil {
		out = []engine.ArbitrageRoute{}
	}
	return out, true
}

// Source serves index requests from the refresher's current snapshot, so
// analyses over it never touch the price feed.
type Source struct {
	r *Refresher
}

// FetchIndex returns the snapshot quotes of ids.
func (s Source) FetchIndex(ctx context.Context, ids []string) (market.Index, error) {
	snap := s.r.Current()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	return snap.Index.Sub(ids), nil
}
