package engine

import (
	"testing"

	"albion-flipper/internal/market"
)

func TestBestTrades_SingleRouteMargin(t *testing.T) {
	rows := []market.Row{
		{Item: "SWORD", Location: "A", Tier: 4, SellPrice: 100, BuyPrice: 0},
		{Item: "SWORD", Location: "B", Tier: 4, SellPrice: 0, BuyPrice: 150},
	}
	routes := NewRouteAnalyzer(rows).BestTrades("", "")
	if len(routes) != 1 {
		t.Fatalf("len(routes) = %d, want 1: %+v", len(routes), routes)
	}
	want := ArbitrageRoute{Item: "SWORD", Tier: 4, CityFrom: "A", SellPrice: 100, CityTo: "B", BuyPrice: 150, MarginPct: 50.0}
	if routes[0] != want {
		t.Errorf("route = %+v, want %+v", routes[0], want)
	}
}

func TestBestTrades_ReducesToBestPricePerLocation(t *testing.T) {
	rows := []market.Row{
		{Item: "BAG", Location: "A", Tier: 1, SellPrice: 120, BuyPrice: 10},
		{Item: "BAG", Location: "A", Tier: 1, SellPrice: 90, BuyPrice: 0},
		{Item: "BAG", Location: "A", Tier: 1, SellPrice: -5, BuyPrice: 0},
		{Item: "BAG", Location: "B", Tier: 1, SellPrice: 0, BuyPrice: 100},
		{Item: "BAG", Location: "B", Tier: 1, SellPrice: 0, BuyPrice: 130},
	}
	top, ok := NewRouteAnalyzer(rows).TopTrade("", "")
	if !ok {
		t.Fatal("TopTrade found nothing")
	}
	if top.SellPrice != 90 || top.BuyPrice != 130 {
		t.Errorf("top = %+v, want sell 90 buy 130", top)
	}
	if top.MarginPct != 44.44 {
		t.Errorf("MarginPct = %v, want 44.44", top.MarginPct)
	}
}

func TestBestTrades_NeverUnprofitableOrSelfRoute(t *testing.T) {
	rows := []market.Row{
		{Item: "X", Location: "A", Tier: 4, SellPrice: 100, BuyPrice: 140},
		{Item: "X", Location: "B", Tier: 4, SellPrice: 120, BuyPrice: 100},
		{Item: "X", Location: "C", Tier: 4, SellPrice: 0, BuyPrice: 125},
		{Item: "X", Location: "D", Tier: 4, SellPrice: 200, BuyPrice: 0},
		{Item: "Y", Location: "A", Tier: 5, SellPrice: 10, BuyPrice: 0},
		{Item: "Y", Location: "B", Tier: 5, SellPrice: 0, BuyPrice: 10},
	}
	routes := NewRouteAnalyzer(rows).BestTrades("", "")
	if len(routes) == 0 {
		t.Fatal("expected some routes")
	}
	for _, r := range routes {
		if r.BuyPrice <= r.SellPrice {
			t.Errorf("unprofitable route %+v", r)
		}
		if r.CityFrom == r.CityTo {
			t.Errorf("self route %+v", r)
		}
		if r.CityFrom == "C" {
			t.Errorf("route from location without asks: %+v", r)
		}
	}
	for i := 1; i < len(routes); i++ {
		if routes[i].MarginPct > routes[i-1].MarginPct {
			t.Errorf("routes not sorted at %d: %v > %v", i, routes[i].MarginPct, routes[i-1].MarginPct)
		}
	}
}

func TestBestTrades_TiersAreSeparateGroups(t *testing.T) {
	rows := []market.Row{
		{Item: "X", Location: "A", Tier: 4, SellPrice: 100},
		{Item: "X", Location: "B", Tier: 5, BuyPrice: 500},
	}
	if routes := NewRouteAnalyzer(rows).BestTrades("", ""); len(routes) != 0 {
		t.Errorf("cross-tier route produced: %+v", routes)
	}
}

func TestBestTrades_LocationFilters(t *testing.T) {
	rows := []market.Row{
		{Item: "X", Location: "A", Tier: 4, SellPrice: 100},
		{Item: "X", Location: "B", Tier: 4, SellPrice: 110, BuyPrice: 150},
		{Item: "X", Location: "C", Tier: 4, BuyPrice: 200},
	}
	a := NewRouteAnalyzer(rows)

	for _, r := range a.BestTrades("A", "") {
		if r.CityFrom != "A" {
			t.Errorf("from filter leaked %+v", r)
		}
	}
	toB := a.BestTrades("", "B")
	if len(toB) != 1 || toB[0].CityFrom != "A" {
		t.Errorf("to=B routes = %+v", toB)
	}
	if _, ok := a.TopTrade("C", ""); ok {
		t.Error("C has no asks, TopTrade(from=C) should be empty")
	}

	all := a.BestTrades("", "")
	filtered := FilterRoutes(all, "B", "C")
	if len(filtered) != 1 || filtered[0].CityFrom != "B" || filtered[0].CityTo != "C" {
		t.Errorf("FilterRoutes = %+v", filtered)
	}
}

func TestBestTrades_StableOnEqualMargins(t *testing.T) {
	rows := []market.Row{
		{Item: "FIRST", Location: "A", Tier: 1, SellPrice: 100},
		{Item: "FIRST", Location: "B", Tier: 1, BuyPrice: 200},
		{Item: "SECOND", Location: "A", Tier: 1, SellPrice: 50},
		{Item: "SECOND", Location: "B", Tier: 1, BuyPrice: 100},
	}
	routes := NewRouteAnalyzer(rows).BestTrades("", "")
	if len(routes) != 2 {
		t.Fatalf("len = %d, want 2", len(routes))
	}
	if routes[0].Item != "FIRST" || routes[1].Item != "SECOND" {
		t.Errorf("order = %s, %s; want FIRST, SECOND", routes[0].Item, routes[1].Item)
	}
}

func TestBestTrades_EmptyInput(t *testing.T) {
	if routes := NewRouteAnalyzer(nil).BestTrades("", ""); len(routes) != 0 {
		t.Errorf("routes = %+v, want none", routes)
	}
	if _, ok := NewRouteAnalyzer(nil).TopTrade("", ""); ok {
		t.Error("TopTrade on empty input should report false")
	}
}
