// Package handlers contains the HTTP handlers for the PraiaFinder API.
//
// Routes (mounted under /v1):
//   - GET  /top        ranked locations for a mode and instant
//   - GET  /locations  the catalog being served
//   - POST /reload     reload catalog and snapshot (GET kept for old clients)
package handlers

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"praiafinder/internal/core"
	"praiafinder/internal/query"
	"praiafinder/internal/types"
)

// RankingService is the slice of query.Service the handler needs.
type RankingService interface {
	Top(ctx context.Context, p query.Params) (*query.TopResult, error)
	Locations() []types.Location
	Reload(ctx context.Context) query.ReloadReport
}

// RankingMetrics receives per-request ranking stats. Optional.
type RankingMetrics interface {
	RecordRanked(mode, source string, n int)
	RecordDataset(generation uint64, locations, records int, horizon *time.Time)
}

// RankingHandler maps HTTP requests onto a RankingService.
type RankingHandler struct {
	service   RankingService
	validator *core.Validator
	metrics   RankingMetrics
	logger    *slog.Logger
}

// NewRankingHandler creates a RankingHandler. metrics may be nil.
func NewRankingHandler(svc RankingService, val *core.Validator, metrics RankingMetrics, logger *slog.Logger) *RankingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if val == nil {
		val = core.NewValidator(logger)
	}
	return &RankingHandler{
		service:   svc,
		validator: val,
		metrics:   metrics,
		logger:    logger,
	}
}

// RegisterRoutes mounts the ranking endpoints.
func (h *RankingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/top", h.HandleTop)
	r.Get("/locations", h.HandleLocations)
	r.Post("/reload", h.HandleReload)
	r.Get("/reload", h.HandleReload)
}

// topQuery is the raw /top query string after type conversion.
type topQuery struct {
	Lat      *float64 `query:"lat" validate:"omitempty,latitude" errcode:"validation_invalid_latitude"`
	Lon      *float64 `query:"lon" validate:"omitempty,longitude" errcode:"validation_invalid_longitude"`
	RadiusKm *float64 `query:"radius_km"`
	Zone     string   `query:"zone" validate:"max=100"`
	Water    string   `query:"water" validate:"omitempty,water" errcode:"validation_invalid_water_type"`
	Mode     string   `query:"mode" validate:"omitempty,mode" errcode:"validation_invalid_mode"`
	Order    string   `query:"order" validate:"omitempty,oneof=score distance dist" errcode:"validation_invalid_order"`
	When     *time.Time
	Limit    int `query:"limit"`
}

// HandleTop handles GET /v1/top.
//
//  1. Convert and validate the query string.
//  2. Rank through the service.
//  3. Expose the data horizon in X-Available-Until and the response meta.
func (h *RankingHandler) HandleTop(w http.ResponseWriter, r *http.Request) {
	q, err := parseTopQuery(r.URL.Query())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(q); err != nil {
		core.Error(w, r, err)
		return
	}

	p := query.Params{
		Lat:      q.Lat,
		Lon:      q.Lon,
		RadiusKm: q.RadiusKm,
		Zone:     q.Zone,
		Water:    q.Water,
		Mode:     types.Mode(q.Mode),
		Order:    q.Order,
		Limit:    q.Limit,
	}
	if q.When != nil {
		p.When = *q.When
	}

	res, err := h.service.Top(r.Context(), p)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if h.metrics != nil {
		counts := make(map[string]int, 2)
		for _, e := range res.Results {
			counts[e.Source]++
		}
		for source, n := range counts {
			h.metrics.RecordRanked(string(res.Mode), source, n)
		}
	}

	if res.DataHorizon != nil {
		w.Header().Set(core.HeaderAvailableUntil, res.DataHorizon.UTC().Format(time.RFC3339))
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: res,
		Meta: &core.ResponseMeta{Generation: res.Generation, DataHorizon: res.DataHorizon},
	})
}

// HandleLocations handles GET /v1/locations.
func (h *RankingHandler) HandleLocations(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.service.Locations()})
}

// HandleReload handles POST (and legacy GET) /v1/reload.
func (h *RankingHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	report := h.service.Reload(r.Context())
	if h.metrics != nil {
		h.metrics.RecordDataset(report.Generation, report.Locations, report.Records, report.DataHorizon)
	}
	types.LoggerFromContext(r.Context(), h.logger).InfoContext(r.Context(), "reload requested",
		"generation", report.Generation,
		"method", r.Method,
	)
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: report,
		Meta: &core.ResponseMeta{Generation: report.Generation, DataHorizon: report.DataHorizon},
	})
}

func parseTopQuery(v url.Values) (topQuery, error) {
	var (
		q   topQuery
		err error
	)
	if q.Lat, err = optionalFloat(v, "lat", types.ErrCodeValidationInvalidLat); err != nil {
		return q, err
	}
	if q.Lon, err = optionalFloat(v, "lon", types.ErrCodeValidationInvalidLon); err != nil {
		return q, err
	}
	if (q.Lat == nil) != (q.Lon == nil) {
		return q, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"lat and lon must be given together", nil, map[string]any{"field": "lat,lon"})
	}

	radiusKey := "radius_km"
	if v.Get(radiusKey) == "" && v.Get("radius") != "" {
		radiusKey = "radius"
	}
	if q.RadiusKm, err = optionalFloat(v, radiusKey, types.ErrCodeValidationInvalidNumber); err != nil {
		return q, err
	}

	if s := strings.TrimSpace(v.Get("limit")); s != "" {
		n, convErr := strconv.Atoi(s)
		if convErr != nil {
			return q, invalidParam(types.ErrCodeValidationInvalidNumber, "limit", s)
		}
		q.Limit = n
	}

	if s := strings.TrimSpace(v.Get("when")); s != "" {
		t, ok := parseWhen(s)
		if !ok {
			return q, invalidParam(types.ErrCodeValidationInvalidTime, "when", s)
		}
		q.When = &t
	}

	q.Zone = strings.TrimSpace(v.Get("zone"))
	q.Water = strings.ToLower(strings.TrimSpace(v.Get("water")))
	q.Mode = strings.ToLower(strings.TrimSpace(v.Get("mode")))
	q.Order = strings.ToLower(strings.TrimSpace(v.Get("order")))
	return q, nil
}

func optionalFloat(v url.Values, key string, code types.ErrorCode) (*float64, error) {
	s := strings.TrimSpace(v.Get(key))
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, invalidParam(code, key, s)
	}
	return &f, nil
}

// whenLayouts are tried in order; layouts without an offset are read as UTC.
var whenLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func parseWhen(s string) (time.Time, bool) {
	for _, layout := range whenLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func invalidParam(code types.ErrorCode, field, value string) error {
	return types.NewAppErrorWithDetails(code, "invalid value for "+field, nil,
		map[string]any{"field": field, "value": value})
}
