package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strconv"

	"github.com/sunnyd/server/internal/cache"
	"github.com/sunnyd/server/internal/data/grid"
	"github.com/sunnyd/server/internal/vitd"
)

// EstimateRequest is a point query.
type EstimateRequest struct {
	Lat      float64
	Lon      float64
	Month    int
	SkinType int
	Coverage Coverage
}

// EstimateInputs echoes the normalized request.
type EstimateInputs struct {
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	Month          int     `json:"month"`
	SkinType       int     `json:"skin_type"`
	Coverage       float64 `json:"coverage"`
	CoveragePreset string  `json:"coverage_preset,omitempty"`
}

// EstimateIntermediate holds the sampled grid values.
type EstimateIntermediate struct {
	HDMonth     float64  `json:"H_D_month"`
	Temperature *float64 `json:"temperature"`
}

// EstimateOutputs holds the result. MinutesRequired is null when infinite.
type EstimateOutputs struct {
	MinutesRequired *float64 `json:"minutes_required"`
	IsInfinite      bool     `json:"is_infinite"`
}

// ConstantsUsed lists the model constants that produced the result.
type ConstantsUsed struct {
	KMinutes float64 `json:"K_minutes"`
	KSkin    float64 `json:"k_skin"`
	FCover   float64 `json:"f_cover"`
}

// EstimateResponse is the full point estimate.
type EstimateResponse struct {
	Inputs        EstimateInputs       `json:"inputs"`
	Intermediate  EstimateIntermediate `json:"intermediate"`
	Outputs       EstimateOutputs      `json:"outputs"`
	ConstantsUsed ConstantsUsed        `json:"constants_used"`
	ModelVersion  string               `json:"model_version"`
}

// EstimateService answers single-location queries from the same grids the
// tiles are rendered from.
type EstimateService struct {
	grids *grid.Store
	model Model
	cache *cache.Manager // optional
}

// NewEstimateService creates a new estimate service.
func NewEstimateService(grids *grid.Store, model Model, c *cache.Manager) *EstimateService {
	return &EstimateService{grids: grids, model: model, cache: c}
}

// NormalizeLon wraps a longitude into [-180, 180).
func NormalizeLon(lon float64) float64 {
	l := math.Mod(lon+180, 360)
	if l < 0 {
		l += 360
	}
	return l - 180
}

// Estimate computes the required exposure minutes at one location.
func (s *EstimateService) Estimate(ctx context.Context, req EstimateRequest) (*EstimateResponse, error) {
	if !(req.Lat >= -90 && req.Lat <= 90) {
		return nil, fmt.Errorf("%w: lat %v outside [-90, 90]", ErrInvalidParams, req.Lat)
	}
	if !(req.Lon >= -360 && req.Lon <= 360) {
		return nil, fmt.Errorf("%w: lon %v outside [-360, 360]", ErrInvalidParams, req.Lon)
	}
	if req.Month < 1 || req.Month > 12 {
		return nil, fmt.Errorf("%w: %d", grid.ErrInvalidMonth, req.Month)
	}
	p, err := s.model.Params(req.SkinType, req.Coverage)
	if err != nil {
		return nil, err
	}

	lon := NormalizeLon(req.Lon)

	uvGrid, err := s.grids.Load(ctx, grid.LayerUV, req.Month)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGridUnavailable, err)
	}
	hd := grid.DecodeValue(uvGrid.SamplePoint(req.Lat, lon), p.UVScale, p.UVOffset)
	if math.IsNaN(hd) {
		hd = 0
	}

	// Temperature is reported whenever it is available; it only feeds the
	// model in weather-adjusted mode.
	var temperature *float64
	if tempGrid, err := s.grids.Load(ctx, grid.LayerTemp, req.Month); err != nil {
		log.Printf("[EstimateService] temperature unavailable for month %d: %v", req.Month, err)
	} else if t := grid.DecodeValue(tempGrid.SamplePoint(req.Lat, lon), p.TempScale, p.TempOffset); !math.IsNaN(t) {
		rounded := math.Round(t*10) / 10
		temperature = &rounded
	}

	fCover := p.FCover
	if p.WeatherAdjusted {
		fCover = vitd.NoDataExposure
		if temperature != nil {
			fCover = vitd.WeatherExposure(*temperature)
		}
	}

	resp := &EstimateResponse{
		Inputs: EstimateInputs{
			Lat:      req.Lat,
			Lon:      lon,
			Month:    req.Month,
			SkinType: req.SkinType,
			Coverage: fCover,
		},
		Intermediate: EstimateIntermediate{
			HDMonth:     hd,
			Temperature: temperature,
		},
		ConstantsUsed: ConstantsUsed{
			KMinutes: p.KMinutes,
			KSkin:    p.KSkin,
			FCover:   fCover,
		},
		ModelVersion: s.model.Constants.Version,
	}
	if req.Coverage.Fraction == nil {
		resp.Inputs.CoveragePreset = req.Coverage.Preset
		if resp.Inputs.CoveragePreset == "" {
			resp.Inputs.CoveragePreset = DefaultPreset
		}
	}

	if minutes, ok := vitd.RequiredMinutes(hd, p.KSkin, fCover, p.KMinutes); ok {
		resp.Outputs.MinutesRequired = &minutes
	} else {
		resp.Outputs.IsInfinite = true
	}
	return resp, nil
}

// EstimateJSON is Estimate encoded as JSON, memoized in the query cache.
func (s *EstimateService) EstimateJSON(ctx context.Context, req EstimateRequest) ([]byte, error) {
	var key string
	if s.cache != nil {
		params := map[string]string{
			"lat":    strconv.FormatFloat(req.Lat, 'g', -1, 64),
			"lon":    strconv.FormatFloat(NormalizeLon(req.Lon), 'g', -1, 64),
			"month":  strconv.Itoa(req.Month),
			"skin":   strconv.Itoa(req.SkinType),
			"preset": req.Coverage.Preset,
			"model":  s.model.Constants.Version,
		}
		if req.Coverage.Fraction != nil {
			params["cov"] = strconv.FormatFloat(*req.Coverage.Fraction, 'g', -1, 64)
		}
		key = cache.QueryKey("estimate", params)
		if data, ok := s.cache.GetQuery(key); ok {
			return data, nil
		}
	}

	resp, err := s.Estimate(ctx, req)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode estimate: %w", err)
	}
	if s.cache != nil {
		s.cache.SetQuery(key, data)
	}
	return data, nil
}
