package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"albion-flipper/internal/engine"
)

// SnapshotRecord is one refresh kept in the history.
type SnapshotRecord struct {
	ID         int64     `json:"id"`
	SnapshotID string    `json:"snapshot_id"`
	Timestamp  time.Time `json:"timestamp"`
	Categories []string  `json:"categories"`
	ItemCount  int       `json:"item_count"`
	RouteCount int       `json:"route_count"`
	FlipCount  int       `json:"flip_count"`
	TopProfit  int64     `json:"top_profit"`
	DurationMs int64     `json:"duration_ms"`
}

// InsertHistory stores rec together with its ranked flips and returns the new row id.
// FlipCount and TopProfit are derived from flips.
func (d *DB) InsertHistory(ctx context.Context, rec SnapshotRecord, flips []engine.FlipResult) (int64, error) {
	cats, _ := json.Marshal(rec.Categories)
	if rec.Categories == nil {
		cats = []byte("[]")
	}
	rec.FlipCount = len(flips)
	rec.TopProfit = 0
	for _, f := range flips {
		if f.ProfitNet > rec.TopProfit {
			rec.TopProfit = f.ProfitNet
		}
	}

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO snapshot_history
			(snapshot_id, timestamp, categories, item_count, route_count, flip_count, top_profit, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SnapshotID, rec.Timestamp.UTC().Format(time.RFC3339), string(cats),
		rec.ItemCount, rec.RouteCount, rec.FlipCount, rec.TopProfit, rec.DurationMs,
	)
	if err != nil {
		return 0, fmt.Errorf("insert history %s: %w", rec.SnapshotID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := insertFlipResults(ctx, tx, id, flips); err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

const historyColumns = `id, snapshot_id, timestamp, categories, item_count, route_count, flip_count, top_profit, duration_ms`

func scanHistory(r rowScanner) (SnapshotRecord, error) {
	var rec SnapshotRecord
	var ts, cats string
	if err := r.Scan(&rec.ID, &rec.SnapshotID, &ts, &cats, &rec.ItemCount, &rec.RouteCount,
		&rec.FlipCount, &rec.TopProfit, &rec.DurationMs); err != nil {
		return rec, err
	}
	rec.Timestamp, _ = time.Parse(time.RFC3339, ts)
	if err := json.Unmarshal([]byte(cats), &rec.Categories); err != nil || rec.Categories == nil {
		rec.Categories = []string{}
	}
	return rec, nil
}

// GetHistory returns the last limit records, newest first (50 when limit <= 0).
func (d *DB) GetHistory(ctx context.Context, limit int) ([]SnapshotRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM snapshot_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []SnapshotRecord{}
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetHistoryByID returns a single record; ok is false when id does not exist.
func (d *DB) GetHistoryByID(ctx context.Context, id int64) (SnapshotRecord, bool, error) {
	rec, err := scanHistory(d.sql.QueryRowContext(ctx,
		`SELECT `+historyColumns+` FROM snapshot_history WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotRecord{}, false, nil
	}
	if err != nil {
		return SnapshotRecord{}, false, err
	}
	return rec, true, nil
}

// DeleteHistory deletes a record and its flips. Deleting a missing id is not an error.
func (d *DB) DeleteHistory(ctx context.Context, id int64) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM flip_results WHERE scan_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshot_history WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// ClearHistory deletes records older than olderThan and returns how many went.
func (d *DB) ClearHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM flip_results
		 WHERE scan_id IN (SELECT id FROM snapshot_history WHERE timestamp < ?)`, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM snapshot_history WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
