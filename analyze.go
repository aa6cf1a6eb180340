package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"albion-flipper/internal/config"
	"albion-flipper/internal/db"
	"albion-flipper/internal/engine"
	"albion-flipper/internal/logger"
)

// runAnalyze fetches one category from the live feed and prints its ranking.
func runAnalyze(ctx context.Context, cfg *config.Config, database *db.DB, source engine.IndexSource, slug string, children bool) error {
	params := cfg.CatalogParams()
	params.IncludeChildren = children

	an := engine.NewCatalogAnalyzer(database, source, engine.NewFlipAnalyzer(cfg.Clearinghouse))
	start := time.Now()
	run, err := an.AnalyzeCategory(ctx, slug, params)
	if err != nil {
		return err
	}

	logger.Section("Category " + slug)
	logger.Stats("Templates", len(run.Templates))
	logger.Stats("Flips", len(run.TopResults))
	logger.Stats("Took", time.Since(start).Round(time.Millisecond))

	if len(run.TopResults) == 0 {
		logger.Info("Analyze", "No profitable flips")
		return nil
	}

	logger.Section("Top flips")
	for i, r := range run.TopResults {
		robust := ""
		if r.IsRobust {
			robust = " robust"
		}
		fmt.Printf("  %3d. %-28s q%d->q%d  %-14s buy %s  sell %s  profit %s (%.1f%%)%s\n",
			i+1, r.ItemID, r.OriginQuality, r.BMQualityUsed, r.OriginCity,
			humanize.Comma(r.OriginPrice), humanize.Comma(r.BMPrice),
			humanize.Comma(r.ProfitNet), r.MarginNet*100, robust)
	}
	return nil
}
