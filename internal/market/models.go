package market

import (
	"sort"
	"time"
)

// Quality levels run from Normal (1) to Masterpiece (5).
const (
	MinQuality = 1
	MaxQuality = 5
)

// Quote is the best known ask/bid window for one item at one location and quality.
// "Sell" prices are what a buyer pays to acquire; "buy" prices are what a seller receives.
type Quote struct {
	SellMin int64 `json:"sell_min"`
	SellMax int64 `json:"sell_max"`
	BuyMin  int64 `json:"buy_min"`
	BuyMax  int64 `json:"buy_max"`

	SellMinAt time.Time `json:"sell_min_at"`
	SellMaxAt time.Time `json:"sell_max_at"`
	BuyMinAt  time.Time `json:"buy_min_at"`
	BuyMaxAt  time.Time `json:"buy_max_at"`
}

// HasSignal reports whether at least one price field is non-zero.
func (q Quote) HasSignal() bool {
	return q.SellMin != 0 || q.SellMax != 0 || q.BuyMin != 0 || q.BuyMax != 0
}

// QualityMap holds the quotes of one item at one location, keyed by quality.
type QualityMap map[int]Quote

// LocationMap holds the quotes of one item, keyed by location name.
type LocationMap map[string]QualityMap

// Index is the item -> location -> quality -> Quote lookup built on every fetch cycle.
// Consumers treat it as an immutable snapshot.
type Index map[string]LocationMap

// Set stores q under (itemID, location, quality). Later writes win.
func (idx Index) Set(itemID, location string, quality int, q Quote) {
	locs, ok := idx[itemID]
	if !ok {
		locs = make(LocationMap)
		idx[itemID] = locs
	}
	quals, ok := locs[location]
	if !ok {
		quals = make(QualityMap)
		locs[location] = quals
	}
	quals[quality] = q
}

// Get returns the quote for (itemID, location, quality).
func (idx Index) Get(itemID, location string, quality int) (Quote, bool) {
	q, ok := idx[itemID][location][quality]
	return q, ok
}

// Len returns the number of quotes stored in the index.
func (idx Index) Len() int {
	n := 0
	for _, locs := range idx {
		for _, quals := range locs {
			n += len(quals)
		}
	}
	return n
}

// ItemIDs returns the item identifiers in ascending order.
func (idx Index) ItemIDs() []string {
	ids := make([]string, 0, len(idx))
	for id := range idx {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Locations returns the location names of m in ascending order.
func (m LocationMap) Locations() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Qualities returns the quality levels of m in ascending order.
func (m QualityMap) Qualities() []int {
	qs := make([]int, 0, len(m))
	for q := range m {
		qs = append(qs, q)
	}
	sort.Ints(qs)
	return qs
}

// Sub returns a new Index restricted to exactly the given item identifiers.
// Inner maps are shared with the receiver; neither side is mutated after build.
func (idx Index) Sub(itemIDs []string) Index {
	out := make(Index, len(itemIDs))
	for _, id := range itemIDs {
		if locs, ok := idx[id]; ok {
			out[id] = locs
		}
	}
	return out
}

// Merge copies every quote of other into idx (other wins on conflicts).
func (idx Index) Merge(other Index) {
	for item, locs := range other {
		for loc, quals := range locs {
			for q, quote := range quals {
				idx.Set(item, loc, q, quote)
			}
		}
	}
}
