package market

import (
	"sort"
	"strconv"
	"strings"
)

// Row is one flat price observation: the input shape of the route analyzer.
// Tier carries the feed's quality level.
type Row struct {
	Item      string
	Location  string
	Tier      int
	SellPrice int64
	BuyPrice  int64
}

// Rows flattens an Index into (item, location, quality, sell_min, buy_max) rows.
// Rows where neither price is positive are dropped. Output is ordered by item,
// location and quality so repeated calls yield the same sequence.
func Rows(idx Index) []Row {
	var rows []Row
	for _, item := range idx.ItemIDs() {
		locs := idx[item]
		for _, loc := range locs.Locations() {
			quals := locs[loc]
			for _, q := range quals.Qualities() {
				quote := quals[q]
				if quote.SellMin <= 0 && quote.BuyMax <= 0 {
					continue
				}
				rows = append(rows, Row{
					Item:      item,
					Location:  loc,
					Tier:      q,
					SellPrice: quote.SellMin,
					BuyPrice:  quote.BuyMax,
				})
			}
		}
	}
	return rows
}

// AllQualities is the full quality set used when a configured list is empty.
var AllQualities = []int{1, 2, 3, 4, 5}

// ParseQualities parses a comma-separated quality list such as "1,2,3".
// Values outside 1..5 or unparseable parts are silently dropped; duplicates
// collapse. An empty result falls back to AllQualities.
func ParseQualities(csv string) []int {
	seen := make(map[int]bool)
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < MinQuality || n > MaxQuality {
			continue
		}
		seen[n] = true
	}
	if len(seen) == 0 {
		out := make([]int, len(AllQualities))
		copy(out, AllQualities)
		return out
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// FormatQualities renders a quality list back to its CSV form.
func FormatQualities(qs []int) string {
	parts := make([]string, len(qs))
	for i, q := range qs {
		parts[i] = strconv.Itoa(q)
	}
	return strings.Join(parts, ",")
}
