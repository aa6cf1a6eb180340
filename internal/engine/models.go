package engine

// ArbitrageRoute is a cross-location trade: buy at CityFrom for SellPrice, sell at CityTo for BuyPrice.
type ArbitrageRoute struct {
	Item      string  `json:"item"`
	Tier      int     `json:"tier"`
	CityFrom  string  `json:"city_from"`
	SellPrice int64   `json:"sell_price"`
	CityTo    string  `json:"city_to"`
	BuyPrice  int64   `json:"buy_price"`
	MarginPct float64 `json:"margin_pct"`
}

// PriceSource tags which quote field a price was taken from.
type PriceSource string

const (
	SourceSellMin PriceSource = "sell_min"
	SourceSellMax PriceSource = "sell_max"
	SourceBuyMin  PriceSource = "buy_min"
	SourceBuyMax  PriceSource = "buy_max"
)

// Tax rates applied to clearinghouse revenue.
const (
	TaxNet   = 0.08  // conservative reference, used for filtering
	TaxFlip  = 0.04  // instant sell
	TaxOrder = 0.065 // sell order
)

// FlipResult is one origin-location -> clearinghouse opportunity.
type FlipResult struct {
	ItemID        string `json:"item_id"`
	OriginQuality int    `json:"origin_quality"`
	BMQualityUsed int    `json:"bm_quality_used"`
	OriginCity    string `json:"origin_city"`

	OriginPrice       int64       `json:"origin_price"`
	OriginPriceSource PriceSource `json:"origin_price_source"`
	BMPrice           int64       `json:"bm_price"`
	BMPriceSource     PriceSource `json:"bm_price_source"`

	ProfitNet   int64   `json:"profit_net"` // 8%
	MarginNet   float64 `json:"margin_net"`
	ProfitFlip  int64   `json:"profit_flip"` // 4%
	MarginFlip  float64 `json:"margin_flip"`
	ProfitOrder int64   `json:"profit_order"` // 6.5%
	MarginOrder float64 `json:"margin_order"`

	IsRobust bool `json:"is_robust"`
}

// FlipParams holds the post-computation filter and truncation settings.
type FlipParams struct {
	MinProfitNet int64   // results below are dropped
	MinMarginNet float64 // results below are dropped
	TopN         int     // 0 = keep all
}

// DefaultFlipParams mirrors the defaults exposed by the API.
func DefaultFlipParams() FlipParams {
	return FlipParams{MinProfitNet: 1}
}

// TemplateRun holds the ranked flips of one template.
type TemplateRun struct {
	TemplateKey string       `json:"template_key"`
	Results     []FlipResult `json:"results"`
}

// CategoryRun holds per-template runs plus the category-wide ranking.
type CategoryRun struct {
	CategorySlug string        `json:"category_slug"`
	Templates    []TemplateRun `json:"templates"`
	TopResults   []FlipResult  `json:"top_results"`
}

// CatalogReport holds every category run plus the global ranking.
type CatalogReport struct {
	Categories []CategoryRun `json:"categories"`
	TopGlobal  []FlipResult  `json:"top_global"`
}

// CatalogParams configures a multi-category scan.
type CatalogParams struct {
	Categories      []string // empty = every category with templates
	IncludeChildren bool
	TopPerTemplate  int
	TopPerCategory  int
	TopGlobal       int
	MinProfitNet    int64
	MinMarginNet    float64
}

// DefaultCatalogParams returns the default scan settings.
func DefaultCatalogParams() CatalogParams {
	return CatalogParams{
		TopPerTemplate: 25,
		TopPerCategory: 100,
		TopGlobal:      200,
		MinProfitNet:   1,
	}
}

// flipParams returns the per-template analyzer settings.
func (p CatalogParams) flipParams() FlipParams {
	return FlipParams{
		MinProfitNet: p.MinProfitNet,
		MinMarginNet: p.MinMarginNet,
		TopN:         p.TopPerTemplate,
	}
}
