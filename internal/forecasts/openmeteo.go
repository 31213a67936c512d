// Package forecasts fetches hourly atmospheric and marine forecasts from
// Open-Meteo. Both endpoints return column-oriented hourly arrays that share a
// single "time" axis; missing values are JSON nulls and decode to nil.
package forecasts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"praiafinder/internal/external"
	"praiafinder/internal/types"
)

// TimeLayout is the hourly timestamp format returned with timezone=UTC.
const TimeLayout = "2006-01-02T15:04"

const (
	minForecastDays = 1
	maxForecastDays = 7

	// maxErrorBody bounds how much of a failed response is read for logging.
	maxErrorBody = 4 << 10
)

var (
	atmosphericVars = []string{"temperature_2m", "precipitation", "cloudcover", "windspeed_10m", "winddirection_10m"}
	marineVars      = []string{"wave_height", "wave_direction", "wave_period", "sea_surface_temperature"}
)

// Atmospheric is the hourly weather for one grid point.
type Atmospheric struct {
	Latitude  float64
	Longitude float64
	Times     []time.Time

	TemperatureC    []*float64
	PrecipitationMM []*float64
	CloudCoverPct   []*float64
	WindSpeedKmh    []*float64
	WindFromDeg     []*float64
}

// Marine is the hourly sea state for the nearest sea grid point.
type Marine struct {
	Latitude  float64
	Longitude float64
	Times     []time.Time

	WaveHeightM []*float64
	WaveFromDeg []*float64
	WavePeriodS []*float64
	SeaSurfaceC []*float64
	byTimestamp map[int64]int
}

// MarineHour is the sea state at one hour.
type MarineHour struct {
	WaveHeightM *float64
	WaveFromDeg *float64
	WavePeriodS *float64
	SeaSurfaceC *float64
}

// At returns the marine values for the hour t, matched by exact timestamp.
func (m *Marine) At(t time.Time) (MarineHour, bool) {
	if m == nil {
		return MarineHour{}, false
	}
	i, ok := m.index(t)
	if !ok {
		return MarineHour{}, false
	}
	return MarineHour{
		WaveHeightM: valueAt(m.WaveHeightM, i),
		WaveFromDeg: valueAt(m.WaveFromDeg, i),
		WavePeriodS: valueAt(m.WavePeriodS, i),
		SeaSurfaceC: valueAt(m.SeaSurfaceC, i),
	}, true
}

func (m *Marine) index(t time.Time) (int, bool) {
	if m.byTimestamp != nil {
		i, ok := m.byTimestamp[t.Unix()]
		return i, ok
	}
	for i, ts := range m.Times {
		if ts.Equal(t) {
			return i, true
		}
	}
	return 0, false
}

// Config holds the endpoint and retry settings for a Client.
type Config struct {
	WeatherURL string
	MarineURL  string
	UserAgent  string
	Timeout    time.Duration
	Retry      external.RetryPolicy
}

// Client talks to both Open-Meteo endpoints through one BaseClient, so the
// two request types share a circuit breaker.
type Client struct {
	base       *external.BaseClient
	weatherURL string
	marineURL  string
	logger     *slog.Logger
}

// NewClient builds a Client. httpClient may be nil, in which case one with
// cfg.Timeout as its per-attempt deadline is created.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger, opts ...external.BaseClientOption) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:       external.NewBaseClient(httpClient, "open-meteo", cfg.Retry, cfg.UserAgent, opts...),
		weatherURL: cfg.WeatherURL,
		marineURL:  cfg.MarineURL,
		logger:     logger,
	}
}

// hourlyResponse is the common envelope of both endpoints.
type hourlyResponse struct {
	Latitude  float64                    `json:"latitude"`
	Longitude float64                    `json:"longitude"`
	Hourly    map[string]json.RawMessage `json:"hourly"`
}

type errorResponse struct {
	Error  bool   `json:"error"`
	Reason string `json:"reason"`
}

// Atmospheric fetches the hourly weather around (lat, lon) for days days,
// clamped to [1, 7].
func (c *Client) Atmospheric(ctx context.Context, lat, lon float64, days int) (*Atmospheric, error) {
	resp, err := c.fetch(ctx, c.weatherURL, lat, lon, days, atmosphericVars, nil)
	if err != nil {
		return nil, err
	}

	times, cols, err := decodeColumns(resp, atmosphericVars)
	if err != nil {
		return nil, err
	}
	return &Atmospheric{
		Latitude:        resp.Latitude,
		Longitude:       resp.Longitude,
		Times:           times,
		TemperatureC:    cols["temperature_2m"],
		PrecipitationMM: cols["precipitation"],
		CloudCoverPct:   cols["cloudcover"],
		WindSpeedKmh:    cols["windspeed_10m"],
		WindFromDeg:     cols["winddirection_10m"],
	}, nil
}

// Marine fetches the hourly sea state at the sea grid point nearest to
// (lat, lon). The returned coordinates are that grid point, which can be far
// from the request for inland or enclosed positions.
func (c *Client) Marine(ctx context.Context, lat, lon float64, days int) (*Marine, error) {
	extra := url.Values{"cell_selection": {"sea"}}
	resp, err := c.fetch(ctx, c.marineURL, lat, lon, days, marineVars, extra)
	if err != nil {
		return nil, err
	}

	times, cols, err := decodeColumns(resp, marineVars)
	if err != nil {
		return nil, err
	}
	m := &Marine{
		Latitude:    resp.Latitude,
		Longitude:   resp.Longitude,
		Times:       times,
		WaveHeightM: cols["wave_height"],
		WaveFromDeg: cols["wave_direction"],
		WavePeriodS: cols["wave_period"],
		SeaSurfaceC: cols["sea_surface_temperature"],
		byTimestamp: make(map[int64]int, len(times)),
	}
	for i, t := range times {
		m.byTimestamp[t.Unix()] = i
	}
	return m, nil
}

func (c *Client) fetch(
	ctx context.Context,
	endpoint string,
	lat, lon float64,
	days int,
	vars []string,
	extra url.Values,
) (*hourlyResponse, error) {
	q := url.Values{
		"latitude":      {strconv.FormatFloat(lat, 'f', 4, 64)},
		"longitude":     {strconv.FormatFloat(lon, 'f', 4, 64)},
		"hourly":        {strings.Join(vars, ",")},
		"timezone":      {"UTC"},
		"forecast_days": {strconv.Itoa(ClampDays(days))},
	}
	for k, v := range extra {
		q[k] = v
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build forecast request", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var e errorResponse
		reason := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Reason != "" {
			reason = e.Reason
		}
		c.logger.WarnContext(ctx, "forecast request rejected",
			"endpoint", endpoint,
			"status", resp.StatusCode,
			"reason", reason,
		)
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamForecast,
			fmt.Sprintf("forecast provider returned %d", resp.StatusCode),
			nil,
			map[string]any{"status": resp.StatusCode, "reason": reason},
		)
	}

	var out hourlyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamInvalidResponse, "failed to decode forecast response", err)
	}
	return &out, nil
}

// decodeColumns parses the time axis and each requested column. Columns that
// are absent or shorter than the time axis are padded with nil.
func decodeColumns(resp *hourlyResponse, vars []string) ([]time.Time, map[string][]*float64, error) {
	rawTimes, ok := resp.Hourly["time"]
	if !ok {
		return nil, nil, types.NewAppError(types.ErrCodeUpstreamInvalidResponse, "forecast response has no hourly time axis", nil)
	}
	var stamps []string
	if err := json.Unmarshal(rawTimes, &stamps); err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeUpstreamInvalidResponse, "invalid hourly time axis", err)
	}

	times := make([]time.Time, len(stamps))
	for i, s := range stamps {
		t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
		if err != nil {
			return nil, nil, types.NewAppError(types.ErrCodeUpstreamInvalidResponse,
				fmt.Sprintf("invalid timestamp %q", s), err)
		}
		times[i] = t
	}

	cols := make(map[string][]*float64, len(vars))
	for _, v := range vars {
		col := make([]*float64, len(times))
		if raw, ok := resp.Hourly[v]; ok {
			var values []*float64
			if err := json.Unmarshal(raw, &values); err != nil {
				return nil, nil, types.NewAppError(types.ErrCodeUpstreamInvalidResponse,
					fmt.Sprintf("invalid hourly column %s", v), err)
			}
			copy(col, values)
		}
		cols[v] = col
	}
	return times, cols, nil
}

// ClampDays bounds a requested horizon to what the provider serves.
func ClampDays(days int) int {
	return min(max(days, minForecastDays), maxForecastDays)
}

func valueAt(col []*float64, i int) *float64 {
	if i < 0 || i >= len(col) {
		return nil
	}
	return col[i]
}
