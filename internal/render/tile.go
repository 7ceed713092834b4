// Package render turns sampled grid values into PNG tiles and legends.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"
	"github.com/sunnyd/server/internal/data/grid"
	"github.com/sunnyd/server/internal/vitd"
	"github.com/sunnyd/server/pkg/colormap"
	"github.com/sunnyd/server/pkg/rawpng"
)

// Config contains renderer configuration.
type Config struct {
	TileSize     int
	LegendWidth  int
	LegendHeight int
}

// TileRenderer renders exposure tiles.
type TileRenderer struct {
	config      Config
	pixelPool   sync.Pool
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewTileRenderer creates a new tile renderer.
func NewTileRenderer(cfg Config) *TileRenderer {
	if cfg.TileSize <= 0 {
		cfg.TileSize = 256
	}
	if cfg.LegendWidth <= 0 {
		cfg.LegendWidth = 320
	}
	if cfg.LegendHeight <= 0 {
		cfg.LegendHeight = 48
	}
	n := cfg.TileSize * cfg.TileSize * 4
	return &TileRenderer{
		config: cfg,
		pixelPool: sync.Pool{
			New: func() interface{} {
				b := make([]byte, n)
				return &b
			},
		},
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.LegendWidth, cfg.LegendHeight)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 16*1024))
			},
		},
	}
}

// TileSize returns the edge length of rendered tiles in pixels.
func (r *TileRenderer) TileSize() int {
	return r.config.TileSize
}

// Colorize writes one RGBA pixel per sample into dst. temp may be nil unless
// p.WeatherAdjusted is set; a nil temp then counts as missing everywhere.
func Colorize(dst []byte, uv, temp []uint16, p vitd.ExposureParams) {
	for i, raw := range uv {
		px := dst[i*4 : i*4+4]
		if raw == grid.Sentinel {
			colormap.PutPixel(px, colormap.MinutesToColorPacked(0, false, true))
			continue
		}
		hd := grid.DecodeValue(raw, p.UVScale, p.UVOffset)

		fCover := p.FCover
		if p.WeatherAdjusted {
			fCover = vitd.NoDataExposure
			if temp != nil && temp[i] != grid.Sentinel {
				fCover = vitd.WeatherExposure(grid.DecodeValue(temp[i], p.TempScale, p.TempOffset))
			}
		}

		minutes, ok := vitd.RequiredMinutes(hd, p.KSkin, fCover, p.KMinutes)
		colormap.PutPixel(px, colormap.MinutesToColorPacked(minutes, ok, false))
	}
}

// RenderTile colors a tileSize×tileSize sample set and encodes it as PNG.
func (r *TileRenderer) RenderTile(uv, temp []uint16, p vitd.ExposureParams) ([]byte, error) {
	size := r.config.TileSize
	if len(uv) != size*size {
		return nil, fmt.Errorf("got %d UV samples, want %d", len(uv), size*size)
	}
	if temp != nil && len(temp) != len(uv) {
		return nil, fmt.Errorf("got %d temperature samples, want %d", len(temp), len(uv))
	}

	bp := r.pixelPool.Get().(*[]byte)
	defer r.pixelPool.Put(bp)

	Colorize(*bp, uv, temp, p)
	return rawpng.Encode(*bp, size, size)
}

// CreateEmptyTile creates a fully transparent tile.
func (r *TileRenderer) CreateEmptyTile() ([]byte, error) {
	size := r.config.TileSize
	return rawpng.Encode(make([]byte, size*size*4), size, size)
}

// RenderLegend draws the minutes color scale with tick labels.
func (r *TileRenderer) RenderLegend() ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	w := float64(r.config.LegendWidth)
	h := float64(r.config.LegendHeight)
	const pad = 6.0
	barH := h / 2

	dc.SetColor(color.White)
	dc.Clear()

	barW := w - 2*pad
	for x := 0; x < int(barW); x++ {
		dc.SetColor(colormap.Exposure.At(float64(x) / (barW - 1)))
		dc.DrawRectangle(pad+float64(x), pad, 1, barH)
		dc.Fill()
	}
	dc.SetColor(color.Black)
	dc.SetLineWidth(1)
	dc.DrawRectangle(pad, pad, barW, barH)
	dc.Stroke()

	entries := colormap.Legend(5)
	for i, e := range entries {
		x := pad + barW*float64(i)/float64(len(entries)-1)
		ax := 0.5
		switch i {
		case 0:
			ax = 0
		case len(entries) - 1:
			ax = 1
		}
		dc.DrawStringAnchored(fmt.Sprintf("%.0f", e.Minutes), x, pad+barH+4, ax, 1)
	}

	return r.encodeContext(dc)
}

func (r *TileRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
