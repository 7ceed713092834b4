// Package api provides HTTP handlers for the SunnyD tile server.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sunnyd/server/internal/cache"
	"github.com/sunnyd/server/internal/data/grid"
	"github.com/sunnyd/server/internal/service"
	"github.com/sunnyd/server/internal/vitd"
	"github.com/sunnyd/server/pkg/colormap"
)

// Defaults applied to tile requests that omit a parameter.
const (
	DefaultSkinType   = 2
	DefaultTilePreset = vitd.WeatherAdjustedPreset
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Tiles       *service.TileService
	Estimates   *service.EstimateService
	Grids       *grid.Store
	Cache       *cache.Manager // optional
	Model       service.Model
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Stored-block PNGs are uncompressed, so tiles are worth compressing on the wire.
	r.Use(middleware.Compress(5, "application/json", "text/plain", "image/png"))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/tiles/{z}/{x}/{y}.png", tileHandler(cfg.Tiles, cfg.Model))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler(cfg.Model, cfg.Grids, cfg.Cache))
		r.Get("/methodology", methodologyHandler(cfg.Model))
		r.Get("/estimate", estimateHandler(cfg.Estimates))
		r.Get("/legend", legendHandler)
		r.Get("/legend.png", legendImageHandler(cfg.Tiles))
		r.Get("/grids", gridsHandler(cfg.Grids))
	})

	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] failed to encode response: %v", err)
	}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidParams),
		errors.Is(err, service.ErrInvalidTileCoordinate),
		errors.Is(err, grid.ErrInvalidMonth):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrGridUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[API] %v", err)
	}
	http.Error(w, err.Error(), status)
}

func badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	writeError(w, fmt.Errorf("%w: "+format, append([]interface{}{service.ErrInvalidParams}, args...)...))
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func queryFloat(r *http.Request, name string) (*float64, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(name)))
	return err == nil && v
}

// parseCoverage reads cov, preset and weather. defaultPreset applies when
// none of them is present.
func parseCoverage(r *http.Request, covParam, presetParam, defaultPreset string) (service.Coverage, error) {
	var cov service.Coverage
	frac, err := queryFloat(r, covParam)
	if err != nil {
		return cov, fmt.Errorf("invalid %s", covParam)
	}
	cov.Fraction = frac
	cov.Preset = strings.TrimSpace(r.URL.Query().Get(presetParam))
	if queryBool(r, "weather") {
		cov.Fraction = nil
		cov.Preset = vitd.WeatherAdjustedPreset
	}
	if cov.Fraction == nil && cov.Preset == "" {
		cov.Preset = defaultPreset
	}
	return cov, nil
}

func tileHandler(svc *service.TileService, model service.Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		z, err := strconv.Atoi(chi.URLParam(r, "z"))
		if err != nil {
			badRequest(w, "invalid z")
			return
		}
		x, err := strconv.Atoi(chi.URLParam(r, "x"))
		if err != nil {
			badRequest(w, "invalid x")
			return
		}
		y, err := strconv.Atoi(chi.URLParam(r, "y"))
		if err != nil {
			badRequest(w, "invalid y")
			return
		}

		month, err := queryInt(r, "month", 0)
		if err != nil || month == 0 {
			badRequest(w, "missing or invalid month")
			return
		}
		skin, err := queryInt(r, "skin", DefaultSkinType)
		if err != nil {
			badRequest(w, "invalid skin")
			return
		}
		cov, err := parseCoverage(r, "cov", "preset", DefaultTilePreset)
		if err != nil {
			badRequest(w, "%v", err)
			return
		}
		params, err := model.Params(skin, cov)
		if err != nil {
			writeError(w, err)
			return
		}

		data, err := svc.GetTile(r.Context(), month, z, x, y, params)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write(data)
	}
}

func healthHandler(model service.Model, grids *grid.Store, c *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"status":        "ok",
			"model_version": model.Constants.Version,
			"grids_loaded":  len(grids.Stats()),
			"ready":         grids.Ready(grid.LayerUV),
		}
		if c != nil {
			resp["cache"] = c.Stats()
		}
		writeJSON(w, resp)
	}
}

func methodologyHandler(model service.Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, model.Describe())
	}
}

func estimateHandler(svc *service.EstimateService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var req service.EstimateRequest

		lat, err := queryFloat(r, "lat")
		if err != nil || lat == nil {
			badRequest(w, "missing or invalid lat")
			return
		}
		lon, err := queryFloat(r, "lon")
		if err != nil || lon == nil {
			badRequest(w, "missing or invalid lon")
			return
		}
		req.Lat, req.Lon = *lat, *lon

		if req.Month, err = strconv.Atoi(q.Get("month")); err != nil {
			badRequest(w, "missing or invalid month")
			return
		}
		if req.SkinType, err = strconv.Atoi(q.Get("skin_type")); err != nil {
			badRequest(w, "missing or invalid skin_type")
			return
		}
		if req.Coverage, err = parseCoverage(r, "coverage", "coverage_preset", ""); err != nil {
			badRequest(w, "%v", err)
			return
		}

		data, err := svc.EstimateJSON(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func legendHandler(w http.ResponseWriter, r *http.Request) {
	n, err := queryInt(r, "n", 7)
	if err != nil || n < 2 || n > 64 {
		badRequest(w, "n must be between 2 and 64")
		return
	}
	ins := colormap.InsufficientUV
	writeJSON(w, map[string]interface{}{
		"min_minutes":  colormap.MinMinutes,
		"max_minutes":  colormap.MaxMinutes,
		"entries":      colormap.Legend(n),
		"insufficient": fmt.Sprintf("rgb(%d,%d,%d)", ins.R, ins.G, ins.B),
	})
}

func legendImageHandler(svc *service.TileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := svc.RenderLegend()
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write(data)
	}
}

func gridsHandler(grids *grid.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, grids.Stats())
	}
}
