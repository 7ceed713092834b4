package grid

import "math"

// MercatorLatitudes returns the latitude (degrees) at the vertical center of
// each of the n pixel rows of tile row y at zoom z.
func MercatorLatitudes(z, y, n int) []float64 {
	tiles := math.Exp2(float64(z))
	lats := make([]float64, n)
	for row := 0; row < n; row++ {
		yFrac := float64(y) + (float64(row)+0.5)/float64(n)
		latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*yFrac/tiles)))
		lats[row] = latRad * 180 / math.Pi
	}
	return lats
}

// TileLongitudes returns the longitude (degrees) at the horizontal center of
// each of the n pixel columns of tile column x at zoom z.
func TileLongitudes(z, x, n int) []float64 {
	tiles := math.Exp2(float64(z))
	lonMin := float64(x)/tiles*360 - 180
	lonMax := float64(x+1)/tiles*360 - 180
	step := (lonMax - lonMin) / float64(n)
	lons := make([]float64, n)
	for col := 0; col < n; col++ {
		lons[col] = lonMin + (float64(col)+0.5)*step
	}
	return lons
}

// nearestIndex maps a coordinate to the closest grid index, clamped to the
// grid edge. Halves round up.
func nearestIndex(value float64, origin, step float32, count uint16) int {
	if step == 0 || math.IsNaN(value) {
		return 0
	}
	idx := math.Floor((value-float64(origin))/float64(step) + 0.5)
	if idx < 0 {
		return 0
	}
	if idx >= float64(count) {
		return int(count) - 1
	}
	return int(idx)
}

// SampleTile resamples the grid onto a tileSize x tileSize Web-Mercator tile
// by nearest neighbour. The result holds raw encoded samples in row-major order.
func (g *MonthGrid) SampleTile(z, x, y, tileSize int) []uint16 {
	h := g.Header

	rows := make([]int, tileSize)
	for r, lat := range MercatorLatitudes(z, y, tileSize) {
		rows[r] = nearestIndex(lat, h.Lat0, h.LatStep, h.LatCount) * int(h.LonCount)
	}
	cols := make([]int, tileSize)
	for c, lon := range TileLongitudes(z, x, tileSize) {
		cols[c] = nearestIndex(lon, h.Lon0, h.LonStep, h.LonCount)
	}

	out := make([]uint16, tileSize*tileSize)
	for r, rowBase := range rows {
		line := out[r*tileSize : (r+1)*tileSize]
		for c, col := range cols {
			line[c] = g.Data[rowBase+col]
		}
	}
	return out
}

// SamplePoint returns the raw sample nearest to (lat, lon).
func (g *MonthGrid) SamplePoint(lat, lon float64) uint16 {
	h := g.Header
	row := nearestIndex(lat, h.Lat0, h.LatStep, h.LatCount)
	col := nearestIndex(lon, h.Lon0, h.LonStep, h.LonCount)
	return g.At(row, col)
}
