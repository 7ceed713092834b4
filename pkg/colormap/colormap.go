// Package colormap provides color schemes for visualization.
package colormap

import (
	"image/color"
	"math"
)

// Colormap maps normalized values [0, 1] to colors.
type Colormap interface {
	At(t float64) color.Color
	AtIndex(i int) color.Color
}

// LinearColormap is a linear interpolation colormap over evenly spaced stops.
type LinearColormap struct {
	colors []color.RGBA
}

// NewLinearColormap creates a colormap from evenly spaced stops.
func NewLinearColormap(stops ...color.RGBA) LinearColormap {
	return LinearColormap{colors: stops}
}

// At returns the color at position t (0-1).
func (c LinearColormap) At(t float64) color.Color {
	return c.RGBA(t)
}

// RGBA is At without the interface conversion.
func (c LinearColormap) RGBA(t float64) color.RGBA {
	if !(t > 0) {
		return c.colors[0]
	}
	if t >= 1 {
		return c.colors[len(c.colors)-1]
	}

	idx := t * float64(len(c.colors)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(c.colors) {
		upper = len(c.colors) - 1
	}

	frac := idx - float64(lower)
	return interpolate(c.colors[lower], c.colors[upper], frac)
}

// AtIndex returns color at index i (wraps around).
func (c LinearColormap) AtIndex(i int) color.Color {
	return c.colors[i%len(c.colors)]
}

// Len returns the number of stops.
func (c LinearColormap) Len() int {
	return len(c.colors)
}

// interpolate rounds each channel to the nearest integer.
func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(math.Round(float64(c1.R) + t*(float64(c2.R)-float64(c1.R)))),
		G: uint8(math.Round(float64(c1.G) + t*(float64(c2.G)-float64(c1.G)))),
		B: uint8(math.Round(float64(c1.B) + t*(float64(c2.B)-float64(c1.B)))),
		A: 255,
	}
}

// Exposure runs from few minutes of sun (green) to many (red).
var Exposure = NewLinearColormap(
	color.RGBA{34, 139, 34, 255}, // forest green
	color.RGBA{50, 205, 50, 255}, // lime
	color.RGBA{255, 215, 0, 255}, // gold
	color.RGBA{255, 120, 0, 255}, // orange
	color.RGBA{200, 30, 30, 255}, // red
)
