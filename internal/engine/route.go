package engine

import (
	"math"
	"sort"

	"albion-flipper/internal/market"
)

// noSellSignal marks a location with no positive ask.
const noSellSignal = math.MaxInt64

// bestPrice is the reduced quote of one (item, tier, location) group.
type bestPrice struct {
	location string
	sell     int64 // min positive ask, or noSellSignal
	buy      int64 // max bid, 0 if none
}

type itemTier struct {
	item string
	tier int
}

// RouteAnalyzer finds profitable location-pair routes in a flat price matrix.
type RouteAnalyzer struct {
	rows []market.Row
}

// NewRouteAnalyzer wraps a row matrix. The slice is not modified.
func NewRouteAnalyzer(rows []market.Row) *RouteAnalyzer {
	return &RouteAnalyzer{rows: rows}
}

// BestTrades returns every profitable directed route ordered by margin descending.
// Empty from/to filters match any location. Ties keep encounter order.
func (a *RouteAnalyzer) BestTrades(from, to string) []ArbitrageRoute {
	groups, order := a.reduce()

	var routes []ArbitrageRoute
	for _, key := range order {
		prices := groups[key]
		for _, src := range prices {
			if src.sell == noSellSignal {
				continue
			}
			if from != "" && src.location != from {
				continue
			}
			for _, dst := range prices {
				if dst.location == src.location {
					continue
				}
				if to != "" && dst.location != to {
					continue
				}
				if dst.buy <= src.sell {
					continue
				}
				routes = append(routes, ArbitrageRoute{
					Item:      key.item,
					Tier:      key.tier,
					CityFrom:  src.location,
					SellPrice: src.sell,
					CityTo:    dst.location,
					BuyPrice:  dst.buy,
					MarginPct: marginPct(src.sell, dst.buy),
				})
			}
		}
	}

	sort.SliceStable(routes, func(i, j int) bool {
		return routes[i].MarginPct > routes[j].MarginPct
	})
	return routes
}

// TopTrade returns the highest-margin route, or false when none exists.
func (a *RouteAnalyzer) TopTrade(from, to string) (ArbitrageRoute, bool) {
	routes := a.BestTrades(from, to)
	if len(routes) == 0 {
		return ArbitrageRoute{}, false
	}
	return routes[0], true
}

// reduce collapses rows into one best-price record per (item, tier, location),
// grouped by (item, tier). Both levels preserve first-seen order.
func (a *RouteAnalyzer) reduce() (map[itemTier][]bestPrice, []itemTier) {
	groups := make(map[itemTier][]bestPrice)
	slot := make(map[itemTier]map[string]int)
	var order []itemTier

	for _, r := range a.rows {
		key := itemTier{r.Item, r.Tier}
		locs, ok := slot[key]
		if !ok {
			locs = make(map[string]int)
			slot[key] = locs
			order = append(order, key)
		}
		i, ok := locs[r.Location]
		if !ok {
			i = len(groups[key])
			locs[r.Location] = i
			groups[key] = append(groups[key], bestPrice{location: r.Location, sell: noSellSignal})
		}
		bp := &groups[key][i]
		if r.SellPrice > 0 && r.SellPrice < bp.sell {
			bp.sell = r.SellPrice
		}
		if r.BuyPrice > bp.buy {
			bp.buy = r.BuyPrice
		}
	}
	return groups, order
}

// marginPct is (buy - sell) / sell * 100 rounded to two decimals.
func marginPct(sell, buy int64) float64 {
	pct := float64(buy-sell) / float64(sell) * 100
	return math.RoundToEven(pct*100) / 100
}

// FilterRoutes applies origin/destination equality filters to already-ranked routes.
func FilterRoutes(routes []ArbitrageRoute, from, to string) []ArbitrageRoute {
	if from == "" && to == "" {
		return routes
	}
	out := make([]ArbitrageRoute, 0, len(routes))
	for _, r := range routes {
		if from != "" && r.CityFrom != from {
			continue
		}
		if to != "" && r.CityTo != to {
			continue
		}
		out = append(out, r)
	}
	return out
}
