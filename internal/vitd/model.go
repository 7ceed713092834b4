// Package vitd implements the vitamin-D sun exposure model.
package vitd

import (
	"fmt"
	"math"
	"sort"
)

// Exposed-skin fractions.
const (
	ColdExposure = 0.05 // winter clothing, face and hands
	WarmExposure = 0.85 // swimsuit

	// NoDataExposure is used by the weather-adjusted mode when the temperature
	// sample is missing. It is a fixed calibration value, not WeatherExposure
	// of any temperature.
	NoDataExposure = 0.25
)

// Temperatures (°C) bounding the clothing transition.
const (
	TMin = 5.0
	TMax = 30.0
)

// RequiredMinutes returns the minutes of midday sun needed to reach the
// vitamin-D target. hDMonth is the daily UV dose in J/m²/day; kMinutes is
// calibrated against kJ/m²/day. The second result is false when the target
// cannot be reached (no UV or no exposed skin).
func RequiredMinutes(hDMonth, kSkin, fCover, kMinutes float64) (float64, bool) {
	if !(hDMonth > 0) || !(fCover > 0) {
		return 0, false
	}
	hdKJ := hDMonth / 1000
	return (kMinutes * kSkin) / (hdKJ * fCover), true
}

func smoothstep(t float64) float64 {
	c := math.Max(0, math.Min(1, t))
	return c * c * (3 - 2*c)
}

// WeatherExposure maps a monthly mean temperature to the fraction of skin
// people typically expose, easing from ColdExposure at TMin to WarmExposure
// at TMax.
func WeatherExposure(tempC float64) float64 {
	if math.IsNaN(tempC) {
		return NoDataExposure
	}
	t := (tempC - TMin) / (TMax - TMin)
	// The endpoints are returned verbatim; 0.05+0.80 does not round to 0.85.
	if t <= 0 {
		return ColdExposure
	}
	if t >= 1 {
		return WarmExposure
	}
	return math.Min(ColdExposure+(WarmExposure-ColdExposure)*smoothstep(t), WarmExposure)
}

// ExposureParams are the per-request model inputs for one tile render.
type ExposureParams struct {
	KSkin           float64
	KMinutes        float64
	FCover          float64
	UVScale         float64
	UVOffset        float64
	WeatherAdjusted bool
	TempScale       float64
	TempOffset      float64
}

// Key returns a stable string identifying the parameters, for cache keys.
func (p ExposureParams) Key() string {
	return fmt.Sprintf("ks=%g:km=%g:fc=%g:uv=%g/%g:w=%t:t=%g/%g",
		p.KSkin, p.KMinutes, p.FCover, p.UVScale, p.UVOffset, p.WeatherAdjusted, p.TempScale, p.TempOffset)
}

// WeatherAdjustedPreset names the coverage mode driven by temperature.
const WeatherAdjustedPreset = "weather_adjusted"

// Constants is the immutable model configuration bundle.
type Constants struct {
	Version         string
	KMinutes        float64
	SkinTypes       map[int]float64
	ExposurePresets map[string]float64
}

// DefaultConstants returns the stock calibration.
func DefaultConstants() Constants {
	return Constants{
		Version:  "1.0.0",
		KMinutes: 20.2,
		SkinTypes: map[int]float64{
			1: 1.0,
			2: 1.2,
			3: 1.5,
			4: 2.0,
			5: 2.8,
			6: 3.8,
		},
		ExposurePresets: map[string]float64{
			"face_hands":    0.05,
			"tshirt_shorts": 0.25,
			"swimsuit":      0.85,
		},
	}
}

// SkinMultiplier returns k_skin for a Fitzpatrick skin type.
func (c Constants) SkinMultiplier(skinType int) (float64, error) {
	k, ok := c.SkinTypes[skinType]
	if !ok {
		return 0, fmt.Errorf("unknown skin type: %d", skinType)
	}
	return k, nil
}

// Preset returns the exposed-skin fraction of a named preset.
func (c Constants) Preset(name string) (float64, error) {
	f, ok := c.ExposurePresets[name]
	if !ok {
		return 0, fmt.Errorf("unknown preset %q (choose from %v)", name, c.PresetNames())
	}
	return f, nil
}

// PresetNames lists the preset names in sorted order.
func (c Constants) PresetNames() []string {
	names := make([]string, 0, len(c.ExposurePresets))
	for name := range c.ExposurePresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
