package grid

import (
	"context"
	"fmt"
	"math"
)

// Encoding holds the scale and offset a layer is stored with.
type Encoding struct {
	Scale  float64 `json:"scale"`
	Offset float64 `json:"offset"`
}

// SyntheticSource generates plausible UV-dose and temperature grids so the
// server runs without real climate data. Output is encoded in the regular
// grid file format.
type SyntheticSource struct {
	// Step is the cell size in degrees.
	Step      float64
	Encodings map[Layer]Encoding
}

// MinSyntheticStep is the finest cell size whose longitude count still fits
// the header's uint16 dimensions.
const MinSyntheticStep = 360.0 / math.MaxUint16

// PeakDose is the synthetic UV dose at the equator in high summer, J/m²/day.
const PeakDose = 12000.0

// SyntheticDose is a latitude/season cosine model of the daily vitamin-D
// weighted UV dose in J/m²/day.
func SyntheticDose(lat float64, month int) float64 {
	latFactor := math.Cos(lat * math.Pi / 180)
	seasonAngle := 2 * math.Pi * float64(month-1) / 12
	hemisphere := 1.0
	if lat < 0 {
		hemisphere = -1
	}
	season := 0.5 + 0.5*math.Cos(seasonAngle-math.Pi)*hemisphere
	return math.Max(PeakDose*latFactor*season, 0)
}

// SyntheticTemperature estimates the monthly mean temperature in °C: colder
// toward the poles, with a seasonal swing growing with latitude and opposite
// seasons per hemisphere.
func SyntheticTemperature(lat float64, month int) float64 {
	absLat := math.Abs(lat)
	annualMean := 28 - 0.55*absLat
	amplitude := 0.3 * absLat
	season := math.Cos(2 * math.Pi * float64(month-7) / 12)
	if lat < 0 {
		season = -season
	}
	return annualMean + amplitude*season
}

// Fetch implements Source.
func (s *SyntheticSource) Fetch(_ context.Context, layer Layer, month int) ([]byte, error) {
	enc, ok := s.Encodings[layer]
	if !ok {
		return nil, fmt.Errorf("no encoding configured for layer %q", layer)
	}

	var field func(lat float64, month int) float64
	switch layer {
	case LayerUV:
		field = SyntheticDose
	case LayerTemp:
		field = SyntheticTemperature
	default:
		return nil, fmt.Errorf("unknown layer %q", layer)
	}

	step := s.Step
	if step <= 0 {
		step = 1
	}
	if step < MinSyntheticStep {
		return nil, fmt.Errorf("synthetic step %v below minimum %v", step, MinSyntheticStep)
	}
	nlat := int(math.Round(180 / step))
	nlon := int(math.Round(360 / step))
	h := Header{
		LatCount: uint16(nlat),
		LonCount: uint16(nlon),
		Lat0:     float32(90 - step/2),
		LatStep:  float32(-step),
		Lon0:     float32(-180 + step/2),
		LonStep:  float32(step),
	}

	samples := make([]uint16, nlat*nlon)
	for row := 0; row < nlat; row++ {
		lat := float64(h.Lat0) + float64(row)*float64(h.LatStep)
		v := EncodeValue(field(lat, month), enc.Scale, enc.Offset)
		line := samples[row*nlon : (row+1)*nlon]
		for col := range line {
			line[col] = v
		}
	}
	return Encode(h, samples), nil
}
