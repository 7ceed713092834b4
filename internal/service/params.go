package service

import (
	"errors"
	"fmt"

	"github.com/sunnyd/server/internal/data/grid"
	"github.com/sunnyd/server/internal/vitd"
)

// ErrInvalidParams is returned for exposure inputs outside their domain.
var ErrInvalidParams = errors.New("invalid parameters")

// DefaultPreset is used when neither a coverage fraction nor a preset is given.
const DefaultPreset = "face_hands"

// Coverage selects how much skin is exposed. Fraction wins over Preset; an
// empty Preset means DefaultPreset.
type Coverage struct {
	Fraction *float64
	Preset   string
}

// Model bundles the immutable model constants with the layer encodings.
type Model struct {
	Constants vitd.Constants
	UV        grid.Encoding
	Temp      grid.Encoding
}

// Params resolves a skin type and coverage choice into render parameters.
func (m Model) Params(skinType int, cov Coverage) (vitd.ExposureParams, error) {
	kSkin, err := m.Constants.SkinMultiplier(skinType)
	if err != nil {
		return vitd.ExposureParams{}, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	p := vitd.ExposureParams{
		KSkin:      kSkin,
		KMinutes:   m.Constants.KMinutes,
		UVScale:    m.UV.Scale,
		UVOffset:   m.UV.Offset,
		TempScale:  m.Temp.Scale,
		TempOffset: m.Temp.Offset,
	}

	switch {
	case cov.Fraction != nil:
		f := *cov.Fraction
		if !(f >= 0 && f <= 1) {
			return vitd.ExposureParams{}, fmt.Errorf("%w: coverage %v outside [0, 1]", ErrInvalidParams, f)
		}
		p.FCover = f
	case cov.Preset == vitd.WeatherAdjustedPreset:
		p.WeatherAdjusted = true
		p.FCover = vitd.NoDataExposure
	default:
		name := cov.Preset
		if name == "" {
			name = DefaultPreset
		}
		f, err := m.Constants.Preset(name)
		if err != nil {
			return vitd.ExposureParams{}, fmt.Errorf("%w: %w", ErrInvalidParams, err)
		}
		p.FCover = f
	}
	return p, nil
}
