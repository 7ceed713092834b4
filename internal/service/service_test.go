package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"math"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sunnyd/server/internal/cache"
	"github.com/sunnyd/server/internal/data/grid"
	"github.com/sunnyd/server/internal/render"
	"github.com/sunnyd/server/internal/tilestore"
	"github.com/sunnyd/server/internal/vitd"
)

const testTileSize = 16

var testModel = Model{
	Constants: vitd.DefaultConstants(),
	UV:        grid.Encoding{Scale: 3},
	Temp:      grid.Encoding{Scale: 100, Offset: 50},
}

// memSource serves grid files from memory and counts fetches.
type memSource struct {
	files   map[string][]byte
	fetches atomic.Int32
}

func newMemSource() *memSource {
	return &memSource{files: make(map[string][]byte)}
}

func (s *memSource) put(layer grid.Layer, month int, data []byte) {
	s.files[fmt.Sprintf("%s_%d", layer, month)] = data
}

func (s *memSource) Fetch(_ context.Context, layer grid.Layer, month int) ([]byte, error) {
	s.fetches.Add(1)
	data, ok := s.files[fmt.Sprintf("%s_%d", layer, month)]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

// uniformGrid is a 1×1 global grid holding one raw sample.
func uniformGrid(raw uint16) []byte {
	return grid.Encode(grid.Header{
		LatCount: 1,
		LonCount: 1,
		Lat0:     0,
		LatStep:  180,
		Lon0:     0,
		LonStep:  360,
	}, []uint16{raw})
}

func newTileService(t *testing.T, src grid.Source, disk *tilestore.Store) *TileService {
	t.Helper()
	mgr, err := cache.NewManager(cache.Config{TileCacheSizeMB: 8, TileTTL: time.Minute, QueryCacheSize: 16})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })
	return NewTileService(TileServiceConfig{
		Grids:        grid.NewStore(src),
		Cache:        mgr,
		Disk:         disk,
		Renderer:     render.NewTileRenderer(render.Config{TileSize: testTileSize}),
		ModelVersion: "1.0.0",
		MaxZoom:      6,
	})
}

func decodePNG(t *testing.T, data []byte) *image.NRGBA {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode error: %v", err)
	}
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		t.Fatalf("expected *image.NRGBA, got %T", img)
	}
	return nrgba
}

func defaultParams(t *testing.T) vitd.ExposureParams {
	t.Helper()
	p, err := testModel.Params(2, Coverage{Preset: "tshirt_shorts"})
	if err != nil {
		t.Fatalf("Params error: %v", err)
	}
	return p
}

func TestRender_AllSentinelIsTransparent(t *testing.T) {
	src := newMemSource()
	samples := make([]uint16, 4*8)
	for i := range samples {
		samples[i] = grid.Sentinel
	}
	src.put(grid.LayerUV, 1, grid.Encode(grid.Header{
		LatCount: 4, LonCount: 8, Lat0: 67.5, LatStep: -45, Lon0: -157.5, LonStep: 45,
	}, samples))

	svc := newTileService(t, src, nil)
	data, err := svc.Render(context.Background(), 1, 0, 0, 0, defaultParams(t))
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	img := decodePNG(t, data)
	if img.Bounds().Dx() != testTileSize || img.Bounds().Dy() != testTileSize {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 {
			t.Fatalf("pixel %d is not transparent", i/4)
		}
	}
}

func TestRender_ColorsUniformGrid(t *testing.T) {
	src := newMemSource()
	src.put(grid.LayerUV, 6, uniformGrid(grid.EncodeValue(20200, 3, 0)))

	svc := newTileService(t, src, nil)
	data, err := svc.Render(context.Background(), 6, 2, 1, 1, defaultParams(t))
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	img := decodePNG(t, data)
	first := img.Pix[:4]
	if first[3] != 255 {
		t.Fatalf("expected opaque pixels, got %v", first)
	}
	for i := 0; i < len(img.Pix); i += 4 {
		if !bytes.Equal(img.Pix[i:i+4], first) {
			t.Fatalf("pixel %d differs in a uniform grid", i/4)
		}
	}
}

func TestValidateTile(t *testing.T) {
	svc := newTileService(t, newMemSource(), nil)
	tests := []struct {
		name    string
		z, x, y int
		wantErr bool
	}{
		{"root", 0, 0, 0, false},
		{"corner", 3, 7, 7, false},
		{"negativeZoom", -1, 0, 0, true},
		{"tooDeep", 7, 0, 0, true},
		{"xTooLarge", 2, 4, 0, true},
		{"yTooLarge", 2, 0, 4, true},
		{"negativeX", 2, -1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ValidateTile(tt.z, tt.x, tt.y)
			if tt.wantErr != (err != nil) {
				t.Fatalf("ValidateTile(%d,%d,%d) error = %v", tt.z, tt.x, tt.y, err)
			}
			if err != nil && !errors.Is(err, ErrInvalidTileCoordinate) {
				t.Fatalf("expected ErrInvalidTileCoordinate, got %v", err)
			}
		})
	}
}

func TestRender_GridUnavailable(t *testing.T) {
	src := newMemSource()
	src.put(grid.LayerUV, 2, []byte{1, 2, 3})
	svc := newTileService(t, src, nil)

	_, err := svc.Render(context.Background(), 1, 0, 0, 0, defaultParams(t))
	if !errors.Is(err, ErrGridUnavailable) || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected grid unavailable wrapping not-exist, got %v", err)
	}

	_, err = svc.Render(context.Background(), 2, 0, 0, 0, defaultParams(t))
	var de *grid.DecodeError
	if !errors.Is(err, ErrGridUnavailable) || !errors.As(err, &de) {
		t.Fatalf("expected grid unavailable wrapping a decode error, got %v", err)
	}

	_, err = svc.Render(context.Background(), 13, 0, 0, 0, defaultParams(t))
	if !errors.Is(err, grid.ErrInvalidMonth) {
		t.Fatalf("expected ErrInvalidMonth, got %v", err)
	}
}

func TestRender_WeatherAdjustedNeedsTemperature(t *testing.T) {
	src := newMemSource()
	src.put(grid.LayerUV, 3, uniformGrid(grid.EncodeValue(20200, 3, 0)))
	svc := newTileService(t, src, nil)

	p, err := testModel.Params(2, Coverage{Preset: vitd.WeatherAdjustedPreset})
	if err != nil {
		t.Fatalf("Params error: %v", err)
	}
	if _, err := svc.Render(context.Background(), 3, 0, 0, 0, p); !errors.Is(err, ErrGridUnavailable) {
		t.Fatalf("expected ErrGridUnavailable without a temperature grid, got %v", err)
	}

	src.put(grid.LayerTemp, 3, uniformGrid(grid.Sentinel))
	if _, err := svc.Render(context.Background(), 3, 0, 0, 0, p); err != nil {
		t.Fatalf("Render error: %v", err)
	}
}

func TestGetTile_CachesInMemoryAndOnDisk(t *testing.T) {
	disk, err := tilestore.NewStore(filepath.Join(t.TempDir(), "tiles.db"))
	if err != nil {
		t.Fatalf("tilestore.NewStore error: %v", err)
	}
	t.Cleanup(func() { disk.Close() })

	src := newMemSource()
	src.put(grid.LayerUV, 6, uniformGrid(grid.EncodeValue(20200, 3, 0)))
	svc := newTileService(t, src, disk)
	p := defaultParams(t)

	first, err := svc.GetTile(context.Background(), 6, 1, 0, 1, p)
	if err != nil {
		t.Fatalf("GetTile error: %v", err)
	}
	second, err := svc.GetTile(context.Background(), 6, 1, 0, 1, p)
	if err != nil {
		t.Fatalf("GetTile error: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("cached tile differs from rendered tile")
	}
	if n := src.fetches.Load(); n != 1 {
		t.Fatalf("expected 1 fetch, got %d", n)
	}
	if n, _ := disk.Count(); n != 1 {
		t.Fatalf("expected 1 tile on disk, got %d", n)
	}

	// A fresh service with an empty source is served from disk.
	empty := newMemSource()
	fresh := newTileService(t, empty, disk)
	third, err := fresh.GetTile(context.Background(), 6, 1, 0, 1, p)
	if err != nil {
		t.Fatalf("GetTile from disk error: %v", err)
	}
	if !bytes.Equal(first, third) {
		t.Fatal("disk tile differs from rendered tile")
	}
	if empty.fetches.Load() != 0 {
		t.Fatal("disk hit should not touch the grid source")
	}
}

func TestGetTile_RejectsBadInput(t *testing.T) {
	svc := newTileService(t, newMemSource(), nil)
	if _, err := svc.GetTile(context.Background(), 0, 0, 0, 0, defaultParams(t)); !errors.Is(err, grid.ErrInvalidMonth) {
		t.Fatalf("expected ErrInvalidMonth, got %v", err)
	}
	if _, err := svc.GetTile(context.Background(), 1, 1, 2, 0, defaultParams(t)); !errors.Is(err, ErrInvalidTileCoordinate) {
		t.Fatalf("expected ErrInvalidTileCoordinate, got %v", err)
	}
}

func TestModelParams(t *testing.T) {
	half := 0.5
	bad := 1.5

	p, err := testModel.Params(3, Coverage{Fraction: &half, Preset: "swimsuit"})
	if err != nil || p.FCover != 0.5 || p.KSkin != 1.5 || p.WeatherAdjusted {
		t.Fatalf("explicit fraction: %+v, %v", p, err)
	}
	if p.UVScale != 3 || p.TempScale != 100 || p.TempOffset != 50 || p.KMinutes != 20.2 {
		t.Fatalf("encodings and constants not carried: %+v", p)
	}

	p, err = testModel.Params(1, Coverage{})
	if err != nil || p.FCover != 0.05 {
		t.Fatalf("default preset: %+v, %v", p, err)
	}

	p, err = testModel.Params(1, Coverage{Preset: vitd.WeatherAdjustedPreset})
	if err != nil || !p.WeatherAdjusted {
		t.Fatalf("weather preset: %+v, %v", p, err)
	}

	for name, tc := range map[string]struct {
		skin int
		cov  Coverage
	}{
		"badSkin":     {7, Coverage{}},
		"badPreset":   {1, Coverage{Preset: "parka"}},
		"badFraction": {1, Coverage{Fraction: &bad}},
	} {
		if _, err := testModel.Params(tc.skin, tc.cov); !errors.Is(err, ErrInvalidParams) {
			t.Errorf("%s: expected ErrInvalidParams, got %v", name, err)
		}
	}
}

func TestNormalizeLon(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{190, -170},
		{-190, 170},
		{180, -180},
		{-180, -180},
		{360, 0},
		{-360, 0},
	}
	for _, tt := range tests {
		if got := NormalizeLon(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeLon(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEstimate(t *testing.T) {
	src := newMemSource()
	src.put(grid.LayerUV, 6, uniformGrid(grid.EncodeValue(20200, 3, 0)))
	src.put(grid.LayerUV, 12, uniformGrid(grid.Sentinel))
	src.put(grid.LayerTemp, 6, uniformGrid(grid.EncodeValue(30, 100, 50)))
	svc := NewEstimateService(grid.NewStore(src), testModel, nil)

	cov := 0.25
	resp, err := svc.Estimate(context.Background(), EstimateRequest{Lat: 40, Lon: 200, Month: 6, SkinType: 2, Coverage: Coverage{Fraction: &cov}})
	if err != nil {
		t.Fatalf("Estimate error: %v", err)
	}
	if resp.Outputs.IsInfinite || resp.Outputs.MinutesRequired == nil {
		t.Fatalf("expected finite minutes, got %+v", resp.Outputs)
	}
	if math.Abs(*resp.Outputs.MinutesRequired-4.80) > 0.005 {
		t.Errorf("expected ~4.80 minutes, got %v", *resp.Outputs.MinutesRequired)
	}
	if resp.Inputs.Lon != -160 {
		t.Errorf("expected normalized lon -160, got %v", resp.Inputs.Lon)
	}
	if resp.Intermediate.Temperature == nil || *resp.Intermediate.Temperature != 30 {
		t.Errorf("expected temperature 30, got %v", resp.Intermediate.Temperature)
	}
	if resp.ModelVersion != "1.0.0" || resp.Inputs.CoveragePreset != "" {
		t.Errorf("unexpected response %+v", resp)
	}

	resp, err = svc.Estimate(context.Background(), EstimateRequest{Lat: 40, Lon: 0, Month: 6, SkinType: 2, Coverage: Coverage{Preset: vitd.WeatherAdjustedPreset}})
	if err != nil {
		t.Fatalf("Estimate error: %v", err)
	}
	if resp.ConstantsUsed.FCover != vitd.WarmExposure {
		t.Errorf("expected warm exposure at 30°C, got %v", resp.ConstantsUsed.FCover)
	}

	// No UV data is treated as zero dose; missing temperature stays null.
	resp, err = svc.Estimate(context.Background(), EstimateRequest{Lat: 0, Lon: 0, Month: 12, SkinType: 1})
	if err != nil {
		t.Fatalf("Estimate error: %v", err)
	}
	if !resp.Outputs.IsInfinite || resp.Outputs.MinutesRequired != nil || resp.Intermediate.HDMonth != 0 {
		t.Errorf("expected infinite result, got %+v", resp)
	}
	if resp.Intermediate.Temperature != nil {
		t.Errorf("expected no temperature, got %v", *resp.Intermediate.Temperature)
	}
	if resp.Inputs.CoveragePreset != DefaultPreset {
		t.Errorf("expected default preset, got %q", resp.Inputs.CoveragePreset)
	}
}

func TestEstimate_Errors(t *testing.T) {
	svc := NewEstimateService(grid.NewStore(newMemSource()), testModel, nil)
	tests := []struct {
		name string
		req  EstimateRequest
		want error
	}{
		{"lat", EstimateRequest{Lat: 91, Month: 1, SkinType: 1}, ErrInvalidParams},
		{"lon", EstimateRequest{Lon: 400, Month: 1, SkinType: 1}, ErrInvalidParams},
		{"month", EstimateRequest{Month: 0, SkinType: 1}, grid.ErrInvalidMonth},
		{"skin", EstimateRequest{Month: 1, SkinType: 0}, ErrInvalidParams},
		{"noGrid", EstimateRequest{Month: 1, SkinType: 1}, ErrGridUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Estimate(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestEstimateJSON_UsesQueryCache(t *testing.T) {
	src := newMemSource()
	src.put(grid.LayerUV, 6, uniformGrid(grid.EncodeValue(20200, 3, 0)))
	mgr, err := cache.NewManager(cache.Config{TileCacheSizeMB: 8, TileTTL: time.Minute, QueryCacheSize: 16})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	defer mgr.Close()
	svc := NewEstimateService(grid.NewStore(src), testModel, mgr)

	req := EstimateRequest{Lat: 10, Lon: 10, Month: 6, SkinType: 2}
	a, err := svc.EstimateJSON(context.Background(), req)
	if err != nil {
		t.Fatalf("EstimateJSON error: %v", err)
	}
	b, err := svc.EstimateJSON(context.Background(), req)
	if err != nil {
		t.Fatalf("EstimateJSON error: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("cached estimate differs")
	}
	if mgr.Stats()["query_cache_len"] != 1 {
		t.Fatalf("expected one cached query, got %v", mgr.Stats())
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(a, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	for _, k := range []string{"inputs", "intermediate", "outputs", "constants_used", "model_version"} {
		if _, ok := decoded[k]; !ok {
			t.Errorf("missing %q in %s", k, a)
		}
	}
}

func TestDescribe(t *testing.T) {
	m := testModel.Describe()
	if m.ModelVersion != "1.0.0" || m.Disclaimer == "" {
		t.Fatalf("unexpected methodology %+v", m)
	}
	if m.Encoding[grid.LayerUV].Scale != 3 || m.Encoding[grid.LayerTemp].Offset != 50 {
		t.Errorf("unexpected encodings %+v", m.Encoding)
	}
	if m.FitzpatrickTable[6] != 3.8 || len(m.ExposurePresets) != 3 {
		t.Errorf("unexpected tables %+v %+v", m.FitzpatrickTable, m.ExposurePresets)
	}
	if _, err := json.Marshal(m); err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
}
