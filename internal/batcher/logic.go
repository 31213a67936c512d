// Package batcher precomputes suitability scores. A run groups catalog
// locations into grid cells, fetches one atmospheric (and, for cells with
// marine members, one marine) forecast per cell, scores every location, hour
// and mode in the horizon, and replaces the stored snapshot.
package batcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"praiafinder/internal/catalog"
	"praiafinder/internal/forecasts"
	"praiafinder/internal/geo"
	"praiafinder/internal/queue"
	"praiafinder/internal/scorestore"
	"praiafinder/internal/scoring"
	"praiafinder/internal/types"
)

const (
	MinDays = 1
	MaxDays = 6
)

// ForecastSource is satisfied by *forecasts.Client.
type ForecastSource interface {
	Atmospheric(ctx context.Context, lat, lon float64, days int) (*forecasts.Atmospheric, error)
	Marine(ctx context.Context, lat, lon float64, days int) (*forecasts.Marine, error)
}

// Notifier announces a freshly written snapshot.
type Notifier interface {
	NotifySnapshot(ctx context.Context, ev queue.SnapshotEvent) error
}

// MetricPublisher records run statistics.
type MetricPublisher interface {
	PublishRun(ctx context.Context, report *RunReport) error
}

// Config holds the tunables of a run.
type Config struct {
	Days                int
	Zones               []string
	CellResolution      float64
	Concurrency         int
	SkipMarine          bool
	MaxCells            int
	MaxMarineDistanceKm float64
	Stagger             time.Duration
}

// RunOptions overrides Config for a single run. Zero values keep the
// configured setting.
type RunOptions struct {
	Days       int      `json:"days,omitempty"`
	Zones      []string `json:"zones,omitempty"`
	SkipMarine *bool    `json:"skip_marine,omitempty"`
}

// RunReport summarizes a completed run.
type RunReport struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Days            int       `json:"days"`
	Locations       int       `json:"locations"`
	Cells           int       `json:"cells"`
	CellsFailed     int       `json:"cells_failed"`
	MarineDiscarded int       `json:"marine_discarded"`
	Records         int       `json:"records"`
	DataHorizon     time.Time `json:"data_horizon,omitzero"`
}

// Batcher runs the score precomputation.
type Batcher struct {
	Config    Config
	Log       *slog.Logger
	Catalog   catalog.Source
	Forecasts ForecastSource
	Store     scorestore.Store
	Notifier  Notifier        // optional
	Metrics   MetricPublisher // optional
	Clock     types.Clock
	Sleep     func(ctx context.Context, d time.Duration) error
}

// cell is a group of locations sharing one forecast request.
type cell struct {
	key     string
	lat     float64
	lon     float64
	members []types.Location
}

func (c cell) hasMarine() bool {
	for _, m := range c.members {
		if m.WaterType == types.WaterTypeMarine {
			return true
		}
	}
	return false
}

type cellResult struct {
	records         []types.ScoreRecord
	failed          bool
	marineDiscarded bool
}

// Run executes one batch run. Cell-level forecast failures are logged and
// counted; the run fails only when the catalog cannot be read, every cell
// failed, or the snapshot cannot be written.
func (b *Batcher) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	log := b.logger()
	clock := b.clock()

	days := b.Config.Days
	if opts.Days != 0 {
		days = opts.Days
	}
	if days < MinDays || days > MaxDays {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationHorizon,
			fmt.Sprintf("horizon must be between %d and %d days", MinDays, MaxDays), nil,
			map[string]any{"days": days})
	}
	zones := b.Config.Zones
	if len(opts.Zones) > 0 {
		zones = opts.Zones
	}
	skipMarine := b.Config.SkipMarine
	if opts.SkipMarine != nil {
		skipMarine = *opts.SkipMarine
	}

	report := &RunReport{
		RunID:     uuid.New().String(),
		StartedAt: clock.Now(),
		Days:      days,
	}
	log = log.With("run_id", report.RunID)

	locs, err := catalog.Load(ctx, b.Catalog, log)
	if err != nil {
		return nil, fmt.Errorf("batcher: loading catalog: %w", err)
	}
	locs = filterZones(locs, zones)
	report.Locations = len(locs)

	cells := groupCells(locs, b.resolution())
	if b.Config.MaxCells > 0 && len(cells) > b.Config.MaxCells {
		log.WarnContext(ctx, "truncating cells", "cells", len(cells), "max_cells", b.Config.MaxCells)
		cells = cells[:b.Config.MaxCells]
	}
	report.Cells = len(cells)

	log.InfoContext(ctx, "batch run starting",
		"days", days,
		"zones", zones,
		"locations", report.Locations,
		"cells", report.Cells,
		"skip_marine", skipMarine,
	)

	results := make([]cellResult, len(cells))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, b.Config.Concurrency))
	for i, c := range cells {
		g.Go(func() error {
			results[i] = b.processCell(gctx, log, c, days, skipMarine)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batcher: run cancelled: %w", err)
	}

	var merged []types.ScoreRecord
	for _, r := range results {
		if r.failed {
			report.CellsFailed++
		}
		if r.marineDiscarded {
			report.MarineDiscarded++
		}
		merged = append(merged, r.records...)
	}

	if report.Cells > 0 && report.CellsFailed == report.Cells {
		return report, types.NewAppError(types.ErrCodeUpstreamForecast,
			"every cell failed; previous snapshot kept", nil)
	}

	records := Dedup(merged)
	report.Records = len(records)
	report.DataHorizon = DataHorizon(records)

	if err := b.Store.Save(ctx, records); err != nil {
		return report, fmt.Errorf("batcher: saving snapshot to %s: %w", b.Store.Name(), err)
	}
	report.FinishedAt = clock.Now()

	log.InfoContext(ctx, "batch run complete",
		"records", report.Records,
		"cells_failed", report.CellsFailed,
		"marine_discarded", report.MarineDiscarded,
		"data_horizon", report.DataHorizon,
		"store", b.Store.Name(),
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)

	if b.Notifier != nil {
		ev := queue.SnapshotEvent{
			Type:        queue.EventSnapshotPublished,
			RunID:       report.RunID,
			Records:     report.Records,
			DataHorizon: report.DataHorizon,
			PublishedAt: report.FinishedAt,
		}
		if err := b.Notifier.NotifySnapshot(ctx, ev); err != nil {
			log.WarnContext(ctx, "failed to announce snapshot", "error", err)
		}
	}
	if b.Metrics != nil {
		if err := b.Metrics.PublishRun(ctx, report); err != nil {
			log.WarnContext(ctx, "failed to publish run metrics", "error", err)
		}
	}

	return report, nil
}

// processCell fetches and scores one cell. It never returns an error: a
// failed atmospheric fetch marks the cell failed, a failed or distant marine
// fetch only drops the marine inputs.
func (b *Batcher) processCell(ctx context.Context, log *slog.Logger, c cell, days int, skipMarine bool) cellResult {
	log = log.With("cell", c.key)

	if b.Config.Stagger > 0 {
		if err := b.sleep(ctx, rand.N(b.Config.Stagger)); err != nil {
			return cellResult{failed: true}
		}
	}

	// Hours in [now, now+days] are scored, both ends inclusive.
	start := b.clock().Now()
	end := start.Add(time.Duration(days) * 24 * time.Hour)
	// Calendar days requested from the provider start at midnight today.
	fetchDays := days + 1

	atm, err := b.Forecasts.Atmospheric(ctx, c.lat, c.lon, fetchDays)
	if err != nil {
		log.WarnContext(ctx, "atmospheric forecast failed; skipping cell", "error", err)
		return cellResult{failed: true}
	}

	var res cellResult
	var marine *forecasts.Marine
	if c.hasMarine() && !skipMarine {
		marine, err = b.Forecasts.Marine(ctx, c.lat, c.lon, fetchDays)
		switch {
		case err != nil:
			log.WarnContext(ctx, "marine forecast failed; scoring without sea state", "error", err)
			marine = nil
		case geo.HaversineKm(c.lat, c.lon, marine.Latitude, marine.Longitude) > b.maxMarineDistance():
			log.InfoContext(ctx, "marine grid point too far; discarding",
				"grid_lat", marine.Latitude,
				"grid_lon", marine.Longitude,
			)
			marine = nil
			res.marineDiscarded = true
		}
	}

	for i, ts := range atm.Times {
		if ts.Before(start) || ts.After(end) {
			continue
		}
		speed, from := valueAt(atm.WindSpeedKmh, i), valueAt(atm.WindFromDeg, i)
		if speed == nil || from == nil {
			continue
		}
		base := types.Conditions{
			WindSpeedKmh:    *speed,
			WindFromDeg:     *from,
			CloudCoverPct:   valueAt(atm.CloudCoverPct, i),
			PrecipitationMM: valueAt(atm.PrecipitationMM, i),
			AirTempC:        valueAt(atm.TemperatureC, i),
		}

		var sea forecasts.MarineHour
		hasSea := false
		if marine != nil {
			sea, hasSea = marine.At(ts)
		}

		for _, loc := range c.members {
			cond := base
			if loc.WaterType == types.WaterTypeMarine && hasSea {
				cond.WaveHeightM = sea.WaveHeightM
				cond.WavePeriodS = sea.WavePeriodS
				cond.WaveFromDeg = sea.WaveFromDeg
				cond.WaterTempC = sea.SeaSurfaceC
			}
			for _, mode := range types.AllModes {
				if !mode.AppliesTo(loc.WaterType) {
					continue
				}
				r := scoring.Score(loc, cond, mode)
				res.records = append(res.records, types.ScoreRecord{
					LocationID: loc.ID,
					Mode:       mode,
					Timestamp:  ts,
					WaterType:  loc.WaterType,
					Score:      r.Score,
					Breakdown:  r.Breakdown,
					Inputs:     cond,
				})
			}
		}
	}

	log.DebugContext(ctx, "cell scored", "members", len(c.members), "records", len(res.records))
	return res
}

// groupCells snaps every location to the grid and returns the cells in key
// order. The cell center is the snapped coordinate.
func groupCells(locs []types.Location, res float64) []cell {
	byKey := make(map[string]*cell)
	for _, loc := range locs {
		lat, lon := geo.SnapToGrid(loc.Lat, res), geo.SnapToGrid(loc.Lon, res)
		key := strconv.FormatFloat(lat, 'f', 4, 64) + "," + strconv.FormatFloat(lon, 'f', 4, 64)
		c, ok := byKey[key]
		if !ok {
			c = &cell{key: key, lat: lat, lon: lon}
			byKey[key] = c
		}
		c.members = append(c.members, loc)
	}

	cells := make([]cell, 0, len(byKey))
	for _, c := range byKey {
		cells = append(cells, *c)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].key < cells[j].key })
	return cells
}

func filterZones(locs []types.Location, zones []string) []types.Location {
	if len(zones) == 0 {
		return locs
	}
	out := make([]types.Location, 0, len(locs))
	for _, l := range locs {
		if l.HasZone(zones...) {
			out = append(out, l)
		}
	}
	return out
}

// Dedup keeps one record per (location, mode, timestamp); a later record
// replaces an earlier one in place.
func Dedup(records []types.ScoreRecord) []types.ScoreRecord {
	pos := make(map[types.RecordKey]int, len(records))
	out := make([]types.ScoreRecord, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if i, ok := pos[k]; ok {
			out[i] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}

// DataHorizon returns the latest timestamp in records, or the zero time.
func DataHorizon(records []types.ScoreRecord) time.Time {
	var latest time.Time
	for _, r := range records {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	return latest
}

func valueAt(col []*float64, i int) *float64 {
	if i < 0 || i >= len(col) {
		return nil
	}
	return col[i]
}

func (b *Batcher) logger() *slog.Logger {
	if b.Log != nil {
		return b.Log
	}
	return slog.Default()
}

func (b *Batcher) clock() types.Clock {
	if b.Clock != nil {
		return b.Clock
	}
	return types.RealClock{}
}

func (b *Batcher) sleep(ctx context.Context, d time.Duration) error {
	if b.Sleep != nil {
		return b.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (b *Batcher) resolution() float64 {
	if b.Config.CellResolution > 0 {
		return b.Config.CellResolution
	}
	return 0.1
}

func (b *Batcher) maxMarineDistance() float64 {
	if b.Config.MaxMarineDistanceKm > 0 {
		return b.Config.MaxMarineDistanceKm
	}
	return 25
}
