package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"albion-flipper/internal/engine"
)

// insertFlipResults bulk-inserts ranked flips linked to a history record.
func insertFlipResults(ctx context.Context, tx *sql.Tx, scanID int64, results []engine.FlipResult) error {
	if len(results) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO flip_results (
		scan_id, rank, item_id, origin_quality, bm_quality, origin_city,
		origin_price, origin_source, bm_price, bm_source,
		profit_net, margin_net, profit_flip, margin_flip, profit_order, margin_order,
		is_robust
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		log.Printf("[DB] InsertFlipResults prepare: %v", err)
		return err
	}
	defer stmt.Close()

	for i, r := range results {
		if _, err := stmt.ExecContext(ctx,
			scanID, i+1, r.ItemID, r.OriginQuality, r.BMQualityUsed, r.OriginCity,
			r.OriginPrice, string(r.OriginPriceSource), r.BMPrice, string(r.BMPriceSource),
			r.ProfitNet, r.MarginNet, r.ProfitFlip, r.MarginFlip, r.ProfitOrder, r.MarginOrder,
			r.IsRobust,
		); err != nil {
			return fmt.Errorf("insert flip %s: %w", r.ItemID, err)
		}
	}
	return nil
}

// GetFlipResults returns the flips stored for a history record in rank order.
func (d *DB) GetFlipResults(ctx context.Context, scanID int64) ([]engine.FlipResult, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT item_id, origin_quality, bm_quality, origin_city,
		       origin_price, origin_source, bm_price, bm_source,
		       profit_net, margin_net, profit_flip, margin_flip, profit_order, margin_order,
		       is_robust
		  FROM flip_results WHERE scan_id = ? ORDER BY rank`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []engine.FlipResult{}
	for rows.Next() {
		var r engine.FlipResult
		var originSrc, bmSrc string
		if err := rows.Scan(
			&r.ItemID, &r.OriginQuality, &r.BMQualityUsed, &r.OriginCity,
			&r.OriginPrice, &originSrc, &r.BMPrice, &bmSrc,
			&r.ProfitNet, &r.MarginNet, &r.ProfitFlip, &r.MarginFlip, &r.ProfitOrder, &r.MarginOrder,
			&r.IsRobust,
		); err != nil {
			return nil, err
		}
		r.OriginPriceSource = engine.PriceSource(originSrc)
		r.BMPriceSource = engine.PriceSource(bmSrc)
		results = append(results, r)
	}
	return results, rows.Err()
}
