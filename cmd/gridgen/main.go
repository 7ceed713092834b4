// Command gridgen writes synthetic UV-dose and temperature grid files in the
// format the server reads, optionally pre-compressed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/sunnyd/server/internal/config"
	"github.com/sunnyd/server/internal/data/grid"
)

func main() {
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file (layer encodings)")
	outDir := flag.String("out", "data", "Output directory")
	codec := flag.String("codec", "zst", "Compression codec: none, br, zst or gz")
	step := flag.Float64("step", 0.5, "Cell size in degrees")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	src := &grid.SyntheticSource{Step: *step, Encodings: cfg.Encodings()}
	ctx := context.Background()

	var total int64
	for _, layer := range []grid.Layer{grid.LayerUV, grid.LayerTemp} {
		for month := 1; month <= 12; month++ {
			raw, err := src.Fetch(ctx, layer, month)
			if err != nil {
				log.Fatalf("Failed to generate %s month %d: %v", layer, month, err)
			}
			data, suffix, err := grid.Compress(*codec, raw)
			if err != nil {
				log.Fatalf("Failed to compress %s month %d: %v", layer, month, err)
			}
			path := filepath.Join(*outDir, fmt.Sprintf(cfg.Data.Pattern, layer, month)+suffix)
			if err := os.WriteFile(path, data, 0644); err != nil {
				log.Fatalf("Failed to write %s: %v", path, err)
			}
			total += int64(len(data))
		}
	}

	log.Printf("Wrote 24 grids to %s (%d bytes, codec %s)", *outDir, total, *codec)
}
