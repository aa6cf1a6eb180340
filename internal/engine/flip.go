package engine

import (
	"math"
	"sort"

	"albion-flipper/internal/market"
)

// DefaultClearinghouse is the location every flip sells into.
const DefaultClearinghouse = "Black Market"

// FlipAnalyzer finds origin -> clearinghouse flips in a market index.
type FlipAnalyzer struct {
	Clearinghouse string
}

// NewFlipAnalyzer creates an analyzer selling into the given location
// (DefaultClearinghouse when empty).
func NewFlipAnalyzer(clearinghouse string) *FlipAnalyzer {
	if clearinghouse == "" {
		clearinghouse = DefaultClearinghouse
	}
	return &FlipAnalyzer{Clearinghouse: clearinghouse}
}

// AnalyzeIndex computes, filters and ranks flips for every item in idx.
// The index is only read.
func (a *FlipAnalyzer) AnalyzeIndex(idx market.Index, params FlipParams) []FlipResult {
	results := a.compute(idx)
	results = FilterFlips(results, params.MinProfitNet, params.MinMarginNet)
	SortFlips(results)
	return truncateFlips(results, params.TopN)
}

type revenue struct {
	price  int64
	source PriceSource
}

func (a *FlipAnalyzer) compute(idx market.Index) []FlipResult {
	var out []FlipResult

	for _, itemID := range idx.ItemIDs() {
		locs := idx[itemID]
		bmQuotes, ok := locs[a.Clearinghouse]
		if !ok || len(bmQuotes) == 0 {
			continue
		}

		revByQuality := make(map[int]revenue, len(bmQuotes))
		for q, quote := range bmQuotes {
			if price, src := bmRevenue(quote); price > 0 {
				revByQuality[q] = revenue{price, src}
			}
		}
		if len(revByQuality) == 0 {
			continue
		}

		for _, city := range locs.Locations() {
			if city == a.Clearinghouse {
				continue
			}
			quals := locs[city]
			for _, originQ := range quals.Qualities() {
				quote := quals[originQ]

				robustCost, robustSrc := robustCost(quote)
				oppCost, oppSrc := opportunisticCost(quote)
				if robustCost <= 0 && oppCost <= 0 {
					continue
				}

				bmQ, rev, ok := bestRevenueAtOrBelow(revByQuality, originQ)
				if !ok || rev.price <= 0 {
					continue
				}

				cost, costSrc := robustCost, robustSrc
				if cost <= 0 {
					cost, costSrc = oppCost, oppSrc
				}
				if cost <= 0 || rev.price-cost <= 0 {
					continue
				}

				// Robustness is judged at the flip rate, not the net rate used for filtering.
				robustProfit := int64(-1)
				if robustCost > 0 {
					robustProfit = netRevenue(rev.price, TaxFlip) - robustCost
				}
				isRobust := robustSrc == SourceSellMax && robustProfit > 0

				profitNet, marginNet := ApplyTax(rev.price, cost, TaxNet)
				profitFlip, marginFlip := ApplyTax(rev.price, cost, TaxFlip)
				profitOrder, marginOrder := ApplyTax(rev.price, cost, TaxOrder)

				out = append(out, FlipResult{
					ItemID:            itemID,
					OriginQuality:     originQ,
					BMQualityUsed:     bmQ,
					OriginCity:        city,
					OriginPrice:       cost,
					OriginPriceSource: costSrc,
					BMPrice:           rev.price,
					BMPriceSource:     rev.source,
					ProfitNet:         profitNet,
					MarginNet:         marginNet,
					ProfitFlip:        profitFlip,
					MarginFlip:        marginFlip,
					ProfitOrder:       profitOrder,
					MarginOrder:       marginOrder,
					IsRobust:          isRobust,
				})
			}
		}
	}
	return out
}

// robustCost prefers the maximum ask.
func robustCost(q market.Quote) (int64, PriceSource) {
	if q.SellMax > 0 {
		return q.SellMax, SourceSellMax
	}
	if q.SellMin > 0 {
		return q.SellMin, SourceSellMin
	}
	return 0, SourceSellMin
}

// opportunisticCost prefers the minimum ask.
func opportunisticCost(q market.Quote) (int64, PriceSource) {
	if q.SellMin > 0 {
		return q.SellMin, SourceSellMin
	}
	if q.SellMax > 0 {
		return q.SellMax, SourceSellMax
	}
	return 0, SourceSellMin
}

// bmRevenue prefers the maximum bid.
func bmRevenue(q market.Quote) (int64, PriceSource) {
	if q.BuyMax > 0 {
		return q.BuyMax, SourceBuyMax
	}
	if q.BuyMin > 0 {
		return q.BuyMin, SourceBuyMin
	}
	return 0, SourceBuyMax
}

// bestRevenueAtOrBelow picks the clearinghouse quality <= originQ with the highest
// revenue; equal revenue goes to the higher quality.
func bestRevenueAtOrBelow(revByQuality map[int]revenue, originQ int) (int, revenue, bool) {
	bestQ := 0
	var best revenue
	found := false
	for q, rev := range revByQuality {
		if q > originQ {
			continue
		}
		if !found || rev.price > best.price || (rev.price == best.price && q > bestQ) {
			bestQ, best, found = q, rev, true
		}
	}
	return bestQ, best, found
}

func netRevenue(revenue int64, rate float64) int64 {
	return int64(math.RoundToEven(float64(revenue) * (1 - rate)))
}

// ApplyTax taxes revenue at rate and returns profit and margin against cost.
// Margin is 0 when cost is not positive.
func ApplyTax(revenue, cost int64, rate float64) (int64, float64) {
	profit := netRevenue(revenue, rate) - cost
	if cost <= 0 {
		return profit, 0
	}
	return profit, float64(profit) / float64(cost)
}

// FilterFlips drops results below the net-profit or net-margin threshold.
func FilterFlips(results []FlipResult, minProfitNet int64, minMarginNet float64) []FlipResult {
	out := results[:0:0]
	for _, r := range results {
		if r.ProfitNet < minProfitNet || r.MarginNet < minMarginNet {
			continue
		}
		out = append(out, r)
	}
	return out
}

// SortFlips ranks by (IsRobust, ProfitNet, MarginNet) descending; ties keep input order.
func SortFlips(results []FlipResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return flipLess(results[j], results[i])
	})
}

// flipLess reports whether a ranks strictly below b.
func flipLess(a, b FlipResult) bool {
	if a.IsRobust != b.IsRobust {
		return !a.IsRobust
	}
	if a.ProfitNet != b.ProfitNet {
		return a.ProfitNet < b.ProfitNet
	}
	return a.MarginNet < b.MarginNet
}

func truncateFlips(results []FlipResult, topN int) []FlipResult {
	if topN > 0 && len(results) > topN {
		return results[:topN]
	}
	return results
}
