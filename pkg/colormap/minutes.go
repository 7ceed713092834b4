package colormap

import (
	"encoding/binary"
	"fmt"
	"image/color"
	"math"
)

const (
	// MaxMinutes is the top of the scale; longer exposures render as InsufficientUV.
	MaxMinutes = 240.0
	// MinMinutes is where the log scale starts; anything shorter is fully green.
	MinMinutes = 5.0
	// LUTSize is the number of precomputed colors.
	LUTSize = 4096

	// lutFloor stands in for zero minutes so the first entry avoids log10(0).
	lutFloor = 0.01
)

var (
	logMin   = math.Log10(MinMinutes)
	logRange = math.Log10(MaxMinutes) - logMin
)

var (
	// InsufficientUV marks places where the target cannot be reached.
	InsufficientUV = color.RGBA{120, 10, 10, 255}
	// Transparent marks cells without data.
	Transparent = color.RGBA{0, 0, 0, 0}
)

var (
	lut                [LUTSize]uint32
	insufficientPacked uint32
	transparentPacked  uint32
)

func init() {
	for i := range lut {
		minutes := float64(i) / (LUTSize - 1) * MaxMinutes
		lut[i] = Pack(Exposure.RGBA(scalePosition(math.Max(minutes, lutFloor))))
	}
	insufficientPacked = Pack(InsufficientUV)
	transparentPacked = Pack(Transparent)
}

// Pack packs a color so that writing it little-endian yields R, G, B, A bytes.
func Pack(c color.RGBA) uint32 {
	return uint32(c.R) | uint32(c.G)<<8 | uint32(c.B)<<16 | uint32(c.A)<<24
}

// Unpack is the inverse of Pack.
func Unpack(p uint32) color.RGBA {
	return color.RGBA{R: uint8(p), G: uint8(p >> 8), B: uint8(p >> 16), A: uint8(p >> 24)}
}

// PutPixel writes a packed color at the start of dst.
func PutPixel(dst []byte, p uint32) {
	binary.LittleEndian.PutUint32(dst, p)
}

// scalePosition maps minutes onto [0,1] logarithmically between MinMinutes
// and MaxMinutes.
func scalePosition(minutes float64) float64 {
	t := (math.Log10(minutes) - logMin) / logRange
	return math.Max(0, math.Min(1, t))
}

// MinutesToColor evaluates the color scale directly. finite is false when
// the exposure can never reach the target.
func MinutesToColor(minutes float64, finite, noData bool) color.RGBA {
	if noData {
		return Transparent
	}
	if !finite || minutes > MaxMinutes {
		return InsufficientUV
	}
	return Exposure.RGBA(scalePosition(minutes))
}

// MinutesToColorPacked is MinutesToColor through the precomputed table.
func MinutesToColorPacked(minutes float64, finite, noData bool) uint32 {
	if noData {
		return transparentPacked
	}
	if !finite || minutes > MaxMinutes {
		return insufficientPacked
	}
	// Nearest entry, not truncation: keeps the LUT within one unit of the direct ramp.
	idx := int(math.Round(minutes / MaxMinutes * (LUTSize - 1)))
	if idx < 0 {
		idx = 0
	} else if idx >= LUTSize {
		idx = LUTSize - 1
	}
	return lut[idx]
}

// LegendEntry is one evenly spaced stop of the legend.
type LegendEntry struct {
	Minutes float64 `json:"minutes"`
	Color   string  `json:"color"`
}

// Legend returns n entries spread evenly over the log scale.
func Legend(n int) []LegendEntry {
	if n < 2 {
		n = 2
	}
	entries := make([]LegendEntry, n)
	for i := range entries {
		t := float64(i) / float64(n-1)
		c := Exposure.RGBA(t)
		entries[i] = LegendEntry{
			Minutes: math.Pow(10, logMin+t*logRange),
			Color:   fmt.Sprintf("rgb(%d,%d,%d)", c.R, c.G, c.B),
		}
	}
	return entries
}
