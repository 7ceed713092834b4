// Package service provides business logic for the tile server.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/sunnyd/server/internal/cache"
	"github.com/sunnyd/server/internal/data/grid"
	"github.com/sunnyd/server/internal/render"
	"github.com/sunnyd/server/internal/tilestore"
	"github.com/sunnyd/server/internal/vitd"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrInvalidTileCoordinate is returned when z, x or y is out of range.
	ErrInvalidTileCoordinate = errors.New("invalid tile coordinate")
	// ErrGridUnavailable is returned when a required grid cannot be loaded.
	ErrGridUnavailable = errors.New("grid unavailable")
)

// DefaultMaxZoom bounds tile requests when no limit is configured.
const DefaultMaxZoom = 10

// TileServiceConfig contains tile service configuration.
type TileServiceConfig struct {
	Grids        *grid.Store
	Cache        *cache.Manager   // optional
	Disk         *tilestore.Store // optional
	Renderer     *render.TileRenderer
	ModelVersion string
	MaxZoom      int
}

// TileService handles tile rendering and serving.
type TileService struct {
	grids        *grid.Store
	cache        *cache.Manager
	disk         *tilestore.Store
	renderer     *render.TileRenderer
	modelVersion string
	maxZoom      int
	tileSize     int

	rendering singleflight.Group
}

// NewTileService creates a new tile service.
func NewTileService(cfg TileServiceConfig) *TileService {
	maxZoom := cfg.MaxZoom
	if maxZoom <= 0 {
		maxZoom = DefaultMaxZoom
	}
	return &TileService{
		grids:        cfg.Grids,
		cache:        cfg.Cache,
		disk:         cfg.Disk,
		renderer:     cfg.Renderer,
		modelVersion: cfg.ModelVersion,
		maxZoom:      maxZoom,
		tileSize:     cfg.Renderer.TileSize(),
	}
}

// MaxZoom returns the deepest zoom level served.
func (s *TileService) MaxZoom() int {
	return s.maxZoom
}

// ValidateTile checks z against the zoom limit and x, y against 2^z.
func (s *TileService) ValidateTile(z, x, y int) error {
	if z < 0 || z > s.maxZoom {
		return fmt.Errorf("%w: zoom %d out of range (0-%d)", ErrInvalidTileCoordinate, z, s.maxZoom)
	}
	n := 1 << z
	if x < 0 || x >= n || y < 0 || y >= n {
		return fmt.Errorf("%w: %d/%d/%d", ErrInvalidTileCoordinate, z, x, y)
	}
	return nil
}

func (s *TileService) loadGrid(ctx context.Context, layer grid.Layer, month int) (*grid.MonthGrid, error) {
	g, err := s.grids.Load(ctx, layer, month)
	if err != nil {
		if errors.Is(err, grid.ErrInvalidMonth) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrGridUnavailable, err)
	}
	return g, nil
}

// Render produces the PNG for one tile without consulting any cache.
func (s *TileService) Render(ctx context.Context, month, z, x, y int, p vitd.ExposureParams) ([]byte, error) {
	if err := s.ValidateTile(z, x, y); err != nil {
		return nil, err
	}

	uvGrid, err := s.loadGrid(ctx, grid.LayerUV, month)
	if err != nil {
		return nil, err
	}
	var tempGrid *grid.MonthGrid
	if p.WeatherAdjusted {
		if tempGrid, err = s.loadGrid(ctx, grid.LayerTemp, month); err != nil {
			return nil, err
		}
	}

	uv := uvGrid.SampleTile(z, x, y, s.tileSize)
	var temp []uint16
	if tempGrid != nil {
		temp = tempGrid.SampleTile(z, x, y, s.tileSize)
	}

	data, err := s.renderer.RenderTile(uv, temp, p)
	if err != nil {
		return nil, fmt.Errorf("failed to render tile: %w", err)
	}
	return data, nil
}

// GetTile returns a tile from the memory cache, then the disk cache, and
// renders it on a miss. Concurrent misses for the same tile render once.
func (s *TileService) GetTile(ctx context.Context, month, z, x, y int, p vitd.ExposureParams) ([]byte, error) {
	if err := s.ValidateTile(z, x, y); err != nil {
		return nil, err
	}
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("%w: %d", grid.ErrInvalidMonth, month)
	}

	paramsKey := p.Key()
	cacheKey := cache.TileKey(month, z, x, y, map[string]string{
		"model":  s.modelVersion,
		"params": paramsKey,
	})
	if s.cache != nil {
		if data, ok := s.cache.GetTile(cacheKey); ok {
			return data, nil
		}
	}

	v, err, _ := s.rendering.Do(cacheKey, func() (interface{}, error) {
		diskKey := tilestore.Tile{
			ModelVersion: s.modelVersion,
			Month:        month,
			Z:            z,
			X:            x,
			Y:            y,
			Params:       paramsKey,
		}
		if s.disk != nil {
			data, ok, err := s.disk.Get(diskKey)
			if err != nil {
				log.Printf("[TileService] disk cache read failed for %s: %v", cacheKey, err)
			} else if ok {
				s.remember(cacheKey, data)
				return data, nil
			}
		}

		data, err := s.Render(ctx, month, z, x, y, p)
		if err != nil {
			return nil, err
		}

		s.remember(cacheKey, data)
		if s.disk != nil {
			if err := s.disk.Put(diskKey, data); err != nil {
				log.Printf("[TileService] disk cache write failed for %s: %v", cacheKey, err)
			}
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *TileService) remember(key string, data []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetTile(key, data); err != nil {
		log.Printf("[TileService] memory cache write failed for %s: %v", key, err)
	}
}

// RenderLegend renders the color scale legend.
func (s *TileService) RenderLegend() ([]byte, error) {
	return s.renderer.RenderLegend()
}
