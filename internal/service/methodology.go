package service

import (
	"github.com/sunnyd/server/internal/data/grid"
	"github.com/sunnyd/server/internal/vitd"
	"github.com/sunnyd/server/pkg/colormap"
)

// Disclaimer accompanies every model description.
const Disclaimer = "This is an EDUCATIONAL MODEL. " +
	"It is NOT medical advice. " +
	"It does NOT diagnose vitamin D deficiency."

var equations = map[string]string{
	"t_minutes":        "(K_minutes * k_skin) / ((H_D_month / 1000) * f_cover)",
	"infinity_rule":    "H_D_month <= 0 OR f_cover <= 0 -> Infinity",
	"weather_exposure": "0.05 + 0.80 * smoothstep((T - T_min) / (T_max - T_min))",
	"no_data_exposure": "f_cover = 0.25 when the temperature sample is missing",
	"color_scale":      "log10(minutes) between log10(5) and log10(240); above 240 -> insufficient",
}

// Methodology describes the model for display next to the map.
type Methodology struct {
	ModelVersion     string                       `json:"model_version"`
	Equations        map[string]string            `json:"equations"`
	Constants        map[string]float64           `json:"constants"`
	FitzpatrickTable map[int]float64              `json:"fitzpatrick_table"`
	ExposurePresets  map[string]float64           `json:"exposure_presets"`
	Encoding         map[grid.Layer]grid.Encoding `json:"encoding"`
	Disclaimer       string                       `json:"disclaimer"`
}

// Describe returns the methodology for the configured model.
func (m Model) Describe() Methodology {
	return Methodology{
		ModelVersion: m.Constants.Version,
		Equations:    equations,
		Constants: map[string]float64{
			"K_minutes":        m.Constants.KMinutes,
			"T_min":            vitd.TMin,
			"T_max":            vitd.TMax,
			"cold_exposure":    vitd.ColdExposure,
			"warm_exposure":    vitd.WarmExposure,
			"no_data_exposure": vitd.NoDataExposure,
			"max_minutes":      colormap.MaxMinutes,
		},
		FitzpatrickTable: m.Constants.SkinTypes,
		ExposurePresets:  m.Constants.ExposurePresets,
		Encoding: map[grid.Layer]grid.Encoding{
			grid.LayerUV:   m.UV,
			grid.LayerTemp: m.Temp,
		},
		Disclaimer: Disclaimer,
	}
}
