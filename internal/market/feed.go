package market

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// feedTimeLayout is the timestamp format used by the price feed (UTC, no zone suffix).
const feedTimeLayout = "2006-01-02T15:04:05"

// FeedRecord mirrors one entry of the price feed response.
// City is preferred over Location when both are present.
type FeedRecord struct {
	ItemID       string      `json:"item_id"`
	City         string      `json:"city"`
	Location     string      `json:"location"`
	Quality      json.Number `json:"quality"`
	SellPriceMin int64       `json:"sell_price_min"`
	SellPriceMax int64       `json:"sell_price_max"`
	BuyPriceMin  int64       `json:"buy_price_min"`
	BuyPriceMax  int64       `json:"buy_price_max"`

	SellPriceMinDate string `json:"sell_price_min_date"`
	SellPriceMaxDate string `json:"sell_price_max_date"`
	BuyPriceMinDate  string `json:"buy_price_min_date"`
	BuyPriceMaxDate  string `json:"buy_price_max_date"`
}

// LocationName returns the record's location, falling back from city to location.
func (r FeedRecord) LocationName() string {
	if r.City != "" {
		return r.City
	}
	return r.Location
}

// Quote converts the record's price fields into a Quote.
func (r FeedRecord) Quote() Quote {
	return Quote{
		SellMin:   r.SellPriceMin,
		SellMax:   r.SellPriceMax,
		BuyMin:    r.BuyPriceMin,
		BuyMax:    r.BuyPriceMax,
		SellMinAt: parseFeedTime(r.SellPriceMinDate),
		SellMaxAt: parseFeedTime(r.SellPriceMaxDate),
		BuyMinAt:  parseFeedTime(r.BuyPriceMinDate),
		BuyMaxAt:  parseFeedTime(r.BuyPriceMaxDate),
	}
}

// AddRecords folds feed records into idx. Records without an item, location or
// quality in MinQuality..MaxQuality are skipped, as are records whose four
// prices are all zero.
// It returns the number of quotes stored.
func (idx Index) AddRecords(records []FeedRecord) int {
	added := 0
	for _, r := range records {
		item := r.ItemID
		loc := r.LocationName()
		if item == "" || loc == "" || r.Quality == "" {
			continue
		}
		quality, err := strconv.Atoi(strings.TrimSpace(r.Quality.String()))
		if err != nil || quality < MinQuality || quality > MaxQuality {
			continue
		}
		q := r.Quote()
		if !q.HasSignal() {
			continue
		}
		idx.Set(item, loc, quality, q)
		added++
	}
	return added
}

// BuildIndex builds a fresh Index from feed records.
func BuildIndex(records []FeedRecord) Index {
	idx := make(Index)
	idx.AddRecords(records)
	return idx
}

func parseFeedTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(feedTimeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
