package render

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/sunnyd/server/internal/data/grid"
	"github.com/sunnyd/server/internal/vitd"
	"github.com/sunnyd/server/pkg/colormap"
)

func testParams() vitd.ExposureParams {
	return vitd.ExposureParams{
		KSkin:      1.2,
		KMinutes:   20.2,
		FCover:     0.25,
		UVScale:    3,
		TempScale:  100,
		TempOffset: 50,
	}
}

func pixel(buf []byte, i int) []byte {
	return buf[i*4 : i*4+4]
}

func TestColorize(t *testing.T) {
	p := testParams()
	uv := []uint16{
		grid.Sentinel,
		grid.EncodeValue(20200, p.UVScale, p.UVOffset),
		0,
	}
	dst := make([]byte, len(uv)*4)
	Colorize(dst, uv, nil, p)

	if !bytes.Equal(pixel(dst, 0), []byte{0, 0, 0, 0}) {
		t.Errorf("sentinel should be transparent, got %v", pixel(dst, 0))
	}

	minutes, _ := vitd.RequiredMinutes(grid.DecodeValue(uv[1], p.UVScale, p.UVOffset), p.KSkin, p.FCover, p.KMinutes)
	want := colormap.MinutesToColor(minutes, true, false)
	if got := pixel(dst, 1); got[0] != want.R || got[1] != want.G || got[2] != want.B || got[3] != 255 {
		t.Errorf("expected %v, got %v", want, got)
	}

	ins := colormap.InsufficientUV
	if got := pixel(dst, 2); !bytes.Equal(got, []byte{ins.R, ins.G, ins.B, ins.A}) {
		t.Errorf("zero dose should be insufficient, got %v", got)
	}
}

func TestColorize_WeatherAdjusted(t *testing.T) {
	p := testParams()
	p.WeatherAdjusted = true
	p.FCover = 0.85 // ignored in weather mode

	uvRaw := grid.EncodeValue(20200, p.UVScale, p.UVOffset)
	uv := []uint16{uvRaw, uvRaw, uvRaw}
	temp := []uint16{
		grid.Sentinel,
		grid.EncodeValue(-10, p.TempScale, p.TempOffset),
		grid.EncodeValue(35, p.TempScale, p.TempOffset),
	}
	dst := make([]byte, len(uv)*4)
	Colorize(dst, uv, temp, p)

	hd := grid.DecodeValue(uvRaw, p.UVScale, p.UVOffset)
	for i, fCover := range []float64{vitd.NoDataExposure, vitd.ColdExposure, vitd.WarmExposure} {
		minutes, ok := vitd.RequiredMinutes(hd, p.KSkin, fCover, p.KMinutes)
		want := colormap.MinutesToColorPacked(minutes, ok, false)
		buf := make([]byte, 4)
		colormap.PutPixel(buf, want)
		if got := pixel(dst, i); !bytes.Equal(got, buf) {
			t.Errorf("pixel %d: expected %v, got %v", i, buf, got)
		}
	}
}

func TestRenderTile_Transparent(t *testing.T) {
	r := NewTileRenderer(Config{TileSize: 32})
	uv := make([]uint16, 32*32)
	for i := range uv {
		uv[i] = grid.Sentinel
	}
	data, err := r.RenderTile(uv, nil, testParams())
	if err != nil {
		t.Fatalf("RenderTile error: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode error: %v", err)
	}
	nrgba := img.(*image.NRGBA)
	for i := 3; i < len(nrgba.Pix); i += 4 {
		if nrgba.Pix[i] != 0 {
			t.Fatalf("pixel %d is not transparent", i/4)
		}
	}
}

func TestRenderTile_SizeMismatch(t *testing.T) {
	r := NewTileRenderer(Config{TileSize: 8})
	if _, err := r.RenderTile(make([]uint16, 10), nil, testParams()); err == nil {
		t.Error("expected error for wrong sample count")
	}
	if _, err := r.RenderTile(make([]uint16, 64), make([]uint16, 3), testParams()); err == nil {
		t.Error("expected error for wrong temperature count")
	}
}

func TestCreateEmptyTile(t *testing.T) {
	r := NewTileRenderer(Config{TileSize: 16})
	data, err := r.CreateEmptyTile()
	if err != nil {
		t.Fatalf("CreateEmptyTile error: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode error: %v", err)
	}
	if img.Bounds().Dx() != 16 {
		t.Fatalf("unexpected size %v", img.Bounds())
	}
}

func TestRenderLegend(t *testing.T) {
	r := NewTileRenderer(Config{TileSize: 16, LegendWidth: 200, LegendHeight: 40})
	data, err := r.RenderLegend()
	if err != nil {
		t.Fatalf("RenderLegend error: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode error: %v", err)
	}
	if img.Bounds().Dx() != 200 || img.Bounds().Dy() != 40 {
		t.Fatalf("unexpected legend size %v", img.Bounds())
	}
	// Left end of the bar is green, right end red.
	r0, g0, _, _ := img.At(10, 15).RGBA()
	if g0 <= r0 {
		t.Errorf("expected green at bar start, got %v", img.At(10, 15))
	}
	r1, g1, _, _ := img.At(190, 15).RGBA()
	if r1 <= g1 {
		t.Errorf("expected red at bar end, got %v", img.At(190, 15))
	}
}
