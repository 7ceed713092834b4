package grid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Source supplies the raw bytes of one (layer, month) grid file.
type Source interface {
	Fetch(ctx context.Context, layer Layer, month int) ([]byte, error)
}

type key struct {
	layer Layer
	month int
}

func (k key) String() string {
	return fmt.Sprintf("%s_%d", k.layer, k.month)
}

// GridInfo describes one loaded grid.
type GridInfo struct {
	Layer  Layer  `json:"layer"`
	Month  int    `json:"month"`
	Header Header `json:"header"`
}

// Store decodes grids on first access and keeps them for the process lifetime.
// Concurrent first loads of the same key share a single fetch and decode.
// Failed loads are not cached, so a later call retries.
type Store struct {
	source Source

	mu    sync.RWMutex
	grids map[key]*MonthGrid

	inflight singleflight.Group
}

// NewStore creates a store backed by src.
func NewStore(src Source) *Store {
	return &Store{
		source: src,
		grids:  make(map[key]*MonthGrid),
	}
}

// Get is a non-blocking cache probe.
func (s *Store) Get(layer Layer, month int) (*MonthGrid, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grids[key{layer, month}]
	return g, ok
}

// Load returns the grid for (layer, month), fetching and decoding it if needed.
func (s *Store) Load(ctx context.Context, layer Layer, month int) (*MonthGrid, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMonth, month)
	}
	k := key{layer, month}
	if g, ok := s.Get(layer, month); ok {
		return g, nil
	}

	// The shared load outlives the caller that started it.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := s.inflight.Do(k.String(), func() (interface{}, error) {
		if g, ok := s.Get(layer, month); ok {
			return g, nil
		}

		buf, err := s.source.Fetch(loadCtx, layer, month)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch grid %s: %w", k, err)
		}
		g, err := Decode(buf)
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				de.Layer, de.Month = layer, month
			}
			return nil, err
		}

		s.mu.Lock()
		s.grids[k] = g
		s.mu.Unlock()

		log.Printf("[GridStore] loaded %s: %dx%d", k, g.Header.LatCount, g.Header.LonCount)
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*MonthGrid), nil
}

// Prefetch loads all twelve months of each layer with at most workers loads in
// flight. It returns the first error; grids that loaded stay cached.
func (s *Store) Prefetch(ctx context.Context, layers []Layer, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, layer := range layers {
		for month := 1; month <= 12; month++ {
			layer, month := layer, month
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				_, err := s.Load(gctx, layer, month)
				return err
			})
		}
	}
	return g.Wait()
}

// Ready reports whether every month of the given layers is loaded.
func (s *Store) Ready(layers ...Layer) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, layer := range layers {
		for month := 1; month <= 12; month++ {
			if _, ok := s.grids[key{layer, month}]; !ok {
				return false
			}
		}
	}
	return true
}

// Stats lists the loaded grids ordered by layer and month.
func (s *Store) Stats() []GridInfo {
	s.mu.RLock()
	out := make([]GridInfo, 0, len(s.grids))
	for k, g := range s.grids {
		out = append(out, GridInfo{Layer: k.layer, Month: k.month, Header: g.Header})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Layer != out[j].Layer {
			return out[i].Layer < out[j].Layer
		}
		return out[i].Month < out[j].Month
	})
	return out
}
