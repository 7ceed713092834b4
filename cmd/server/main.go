// Package main is the entry point for the SunnyD tile server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sunnyd/server/internal/api"
	"github.com/sunnyd/server/internal/cache"
	"github.com/sunnyd/server/internal/config"
	"github.com/sunnyd/server/internal/data/grid"
	"github.com/sunnyd/server/internal/render"
	"github.com/sunnyd/server/internal/service"
	"github.com/sunnyd/server/internal/tilestore"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting SunnyD server v%s on port %d", cfg.Model.Version, cfg.Server.Port)

	ctx, cancelPrefetch := context.WithCancel(context.Background())
	defer cancelPrefetch()

	// Grid source: files on disk, or synthetic climatology when no directory is set.
	var source grid.Source
	if cfg.Data.Dir != "" {
		fs, err := grid.NewFileSource(cfg.Data.Dir, cfg.Data.Pattern)
		if err != nil {
			log.Fatalf("Failed to initialize grid source: %v", err)
		}
		defer fs.Close()
		source = fs
		log.Printf("Grids loaded from: %s (pattern %q)", cfg.Data.Dir, cfg.Data.Pattern)
	} else {
		source = &grid.SyntheticSource{Step: cfg.Data.SyntheticStep, Encodings: cfg.Encodings()}
		log.Printf("No data directory configured, using synthetic grids (step %.2f°)", cfg.Data.SyntheticStep)
	}
	grids := grid.NewStore(source)

	// Initialize cache manager
	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: cfg.Cache.TileSizeMB,
		TileTTL:         time.Duration(cfg.Cache.TileTTLMinutes) * time.Minute,
		QueryCacheSize:  cfg.Cache.QueryCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Optional persistent tile cache
	var disk *tilestore.Store
	if cfg.Cache.SQLitePath != "" {
		disk, err = tilestore.NewStore(cfg.Cache.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to initialize tile store: %v", err)
		}
		defer disk.Close()

		janitor := tilestore.NewJanitor(disk, tilestore.JanitorConfig{
			ModelVersion:  cfg.Model.Version,
			RetentionDays: cfg.Cache.RetentionDays,
			CleanupPeriod: 1 * time.Hour,
		})
		janitor.Start()
		defer janitor.Stop()
		log.Printf("Tile store: sqlite=%s, retention_days=%d", cfg.Cache.SQLitePath, cfg.Cache.RetentionDays)
	}

	// Initialize tile renderer
	tileRenderer := render.NewTileRenderer(render.Config{
		TileSize:     cfg.Render.TileSize,
		LegendWidth:  cfg.Render.LegendWidth,
		LegendHeight: cfg.Render.LegendHeight,
	})

	encodings := cfg.Encodings()
	model := service.Model{
		Constants: cfg.Constants(),
		UV:        encodings[grid.LayerUV],
		Temp:      encodings[grid.LayerTemp],
	}

	tileService := service.NewTileService(service.TileServiceConfig{
		Grids:        grids,
		Cache:        cacheManager,
		Disk:         disk,
		Renderer:     tileRenderer,
		ModelVersion: model.Constants.Version,
		MaxZoom:      cfg.Render.MaxZoom,
	})
	estimateService := service.NewEstimateService(grids, model, cacheManager)

	// Warm the grid store in the background; requests load on demand meanwhile.
	if cfg.Data.PrefetchWorkers >= 0 {
		go func() {
			start := time.Now()
			layers := []grid.Layer{grid.LayerUV, grid.LayerTemp}
			if err := grids.Prefetch(ctx, layers, cfg.Data.PrefetchWorkers); err != nil {
				log.Printf("Grid prefetch incomplete: %v", err)
				return
			}
			log.Printf("Prefetched %d grids in %s", len(grids.Stats()), time.Since(start).Round(time.Millisecond))
		}()
	}

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Tiles:       tileService,
		Estimates:   estimateService,
		Grids:       grids,
		Cache:       cacheManager,
		Model:       model,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancelPrefetch()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
