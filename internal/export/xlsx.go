package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"albion-flipper/internal/engine"
)

// Sheet names.
const (
	FlipsSheet  = "Flips"
	RoutesSheet = "Routes"
)

var flipHeader = []interface{}{
	"Item", "Origin Quality", "Clearinghouse Quality", "Origin City",
	"Origin Price", "Origin Source", "Clearinghouse Price", "Clearinghouse Source",
	"Profit Net", "Margin Net", "Profit Flip", "Margin Flip", "Profit Order", "Margin Order", "Robust",
}

var routeHeader = []interface{}{
	"Item", "Tier", "From", "Buy At", "To", "Sell At", "Margin %",
}

// WriteFlips writes flips as a single-sheet workbook to w.
func WriteFlips(w io.Writer, flips []engine.FlipResult) error {
	rows := make([][]interface{}, 0, len(flips))
	for _, r := range flips {
		rows = append(rows, []interface{}{
			r.ItemID, r.OriginQuality, r.BMQualityUsed, r.OriginCity,
			r.OriginPrice, string(r.OriginPriceSource), r.BMPrice, string(r.BMPriceSource),
			r.ProfitNet, r.MarginNet, r.ProfitFlip, r.MarginFlip, r.ProfitOrder, r.MarginOrder, r.IsRobust,
		})
	}
	return writeSheet(w, FlipsSheet, flipHeader, rows)
}

// WriteRoutes writes routes as a single-sheet workbook to w.
func WriteRoutes(w io.Writer, routes []engine.ArbitrageRoute) error {
	rows := make([][]interface{}, 0, len(routes))
	for _, r := range routes {
		rows = append(rows, []interface{}{
			r.Item, r.Tier, r.CityFrom, r.SellPrice, r.CityTo, r.BuyPrice, r.MarginPct,
		})
	}
	return writeSheet(w, RoutesSheet, routeHeader, rows)
}

func writeSheet(w io.Writer, sheet string, header []interface{}, rows [][]interface{}) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("header: %w", err)
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return err
	}

	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
	}
	return f.Write(w)
}
