package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"albion-flipper/internal/api"
	"albion-flipper/internal/config"
	"albion-flipper/internal/db"
	"albion-flipper/internal/engine"
	"albion-flipper/internal/logger"
	"albion-flipper/internal/prices"
	"albion-flipper/internal/publish"
	"albion-flipper/internal/refresh"
)

var version = "dev"

func main() {
	cfg := config.Load()

	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	seedFile := flag.String("seed", "", "reseed the catalog from a YAML file")
	analyze := flag.String("analyze", "", "analyze one category against the live feed and exit")
	children := flag.Bool("children", false, "with -analyze, include subcategories")
	flag.Parse()

	logger.Banner(version)

	database, err := db.Open(*dbPath)
	if err != nil {
		logger.Error("DB", fmt.Sprintf("Failed to open database: %v", err))
		os.Exit(1)
	}
	defer database.Close()

	cfg = database.LoadConfig(cfg)
	cfg.Port = *port
	if err := cfg.Validate(); err != nil {
		logger.Error("Config", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedCatalog(ctx, database, *seedFile); err != nil {
		logger.Error("Seed", err.Error())
		os.Exit(1)
	}

	client := prices.NewClient(prices.Options{
		BaseURL:       cfg.PriceAPIBaseURL,
		Locations:     cfg.Locations,
		Qualities:     cfg.Qualities,
		BatchSize:     cfg.BatchSize,
		Timeout:       cfg.RequestTimeout(),
		MaxConcurrent: cfg.MaxConcurrentRequests,
		CacheTTL:      cfg.CacheTTL(),
	})

	if *analyze != "" {
		if err := runAnalyze(ctx, cfg, database, client, *analyze, *children); err != nil {
			logger.Error("Analyze", err.Error())
			os.Exit(1)
		}
		return
	}

	refresher := refresh.New(database, client, refresh.Options{
		Interval: cfg.RefreshInterval(),
		Flips:    engine.NewFlipAnalyzer(cfg.Clearinghouse),
		Params:   cfg.CatalogParams(),
	})

	if cfg.RedisURL != "" {
		pub, rdb, err := publish.Connect(ctx, cfg.RedisURL, cfg.RedisStream, cfg.TopGlobal)
		if err != nil {
			logger.Warn("Redis", fmt.Sprintf("Publishing disabled: %v", err))
		} else {
			defer rdb.Close()
			refresher.OnRefresh(pub.Hook())
			logger.Success("Redis", "Publishing flips to stream "+cfg.RedisStream)
		}
	}

	srv := api.NewServer(cfg, database, client, refresher)
	srv.SetHistory(database)
	refresher.OnRefresh(srv.RecordHook())

	go refresher.Run(ctx)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("Server", "Shutting down")
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Server(addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server", fmt.Sprintf("Failed: %v", err))
		os.Exit(1)
	}
}

// seedCatalog loads path into the catalog, or the embedded default catalog
// when the database has no categories yet.
func seedCatalog(ctx context.Context, database *db.DB, path string) error {
	if path == "" {
		seeded, err := database.SeedDefault(ctx)
		if err != nil {
			return err
		}
		if seeded {
			logger.Success("Seed", "Loaded default catalog")
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	stats, err := database.Seed(ctx, data)
	if err != nil {
		return err
	}
	logger.Success("Seed", fmt.Sprintf("%s: %d categories, %d templates, %d links",
		path, stats.Categories, stats.Templates, stats.Links))
	return nil
}
