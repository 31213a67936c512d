// Package query serves ranked location lists from the current dataset: the
// location catalog plus the temporal index over the latest score snapshot.
//
// The dataset is immutable once built. Reload builds a new one and swaps it
// in with a single atomic store; a request reads the pointer once and works
// on that dataset until it returns.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"praiafinder/internal/catalog"
	"praiafinder/internal/geo"
	"praiafinder/internal/index"
	"praiafinder/internal/scorestore"
	"praiafinder/internal/scoring"
	"praiafinder/internal/types"
)

const (
	MinLimit = 1
	MaxLimit = 50

	OrderScore    = "score"
	OrderDistance = "distance"

	WaterAll = "all"

	SourceForecast = "forecast"
	SourceFallback = "fallback"
)

// Dataset is one immutable view of the catalog and scores.
type Dataset struct {
	Locations  []types.Location
	Index      *index.Index
	Generation uint64
	LoadedAt   time.Time
}

// Params describes a ranking request. Nil coordinates mean no spatial filter.
type Params struct {
	Lat      *float64
	Lon      *float64
	RadiusKm *float64 // nil uses the configured default; <= 0 disables the bound
	Zone     string
	Water    string // all, marine or inland_water
	Mode     types.Mode
	Order    string // score or distance ("dist" is accepted)
	When     time.Time
	Limit    int
}

// Entry is one ranked location.
type Entry struct {
	LocationID string          `json:"location_id"`
	Name       string          `json:"name"`
	Score      float64         `json:"score"`
	DistanceKm *float64        `json:"distance_km"`
	Breakdown  types.Breakdown `json:"breakdown"`
	Timestamp  time.Time       `json:"timestamp"`
	WaterType  types.WaterType `json:"water_type"`
	Source     string          `json:"source"`
}

// TopResult is the response to Top.
type TopResult struct {
	Generation  uint64     `json:"-"`
	Mode        types.Mode `json:"mode"`
	When        time.Time  `json:"when"`
	Count       int        `json:"count"`
	Results     []Entry    `json:"results"`
	DataHorizon *time.Time `json:"data_horizon"`
}

// ReloadReport describes the dataset installed by Reload.
type ReloadReport struct {
	Generation  uint64     `json:"generation"`
	Locations   int        `json:"locations"`
	Records     int        `json:"records"`
	DataHorizon *time.Time `json:"data_horizon"`
	CatalogErr  string     `json:"catalog_error,omitempty"`
	ScoresErr   string     `json:"scores_error,omitempty"`
}

// Config holds the defaults applied to incomplete Params.
type Config struct {
	DefaultRadiusKm float64
	DefaultLimit    int
	CacheTTL        time.Duration
}

// Service answers ranking queries.
type Service struct {
	cfg     Config
	catalog catalog.Source
	scores  scorestore.Store
	clock   types.Clock
	logger  *slog.Logger

	current atomic.Pointer[Dataset]
	gen     atomic.Uint64
	reload  sync.Mutex
	cache   *gocache.Cache
}

// NewService builds a Service with an empty dataset; call Reload to load data.
func NewService(cfg Config, src catalog.Source, scores scorestore.Store, clock types.Clock, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 5
	}
	s := &Service{
		cfg:     cfg,
		catalog: src,
		scores:  scores,
		clock:   clock,
		logger:  logger,
	}
	if cfg.CacheTTL > 0 {
		s.cache = gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	s.current.Store(&Dataset{Index: index.Build(nil), LoadedAt: clock.Now()})
	return s
}

// Dataset returns the dataset currently being served.
func (s *Service) Dataset() *Dataset {
	return s.current.Load()
}

// Loaded reports whether a reload has installed a dataset.
func (s *Service) Loaded() bool {
	return s.current.Load().Generation > 0
}

// Reload re-reads the catalog and the snapshot and installs them together.
// A failing source degrades to an empty collection; Reload itself never
// fails. Concurrent reloads are serialized.
func (s *Service) Reload(ctx context.Context) ReloadReport {
	s.reload.Lock()
	defer s.reload.Unlock()

	var report ReloadReport

	locs, err := catalog.Load(ctx, s.catalog, s.logger)
	if err != nil {
		s.logger.ErrorContext(ctx, "catalog load failed; serving empty catalog", "error", err)
		report.CatalogErr = err.Error()
		locs = []types.Location{}
	}

	records, err := s.scores.Load(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "snapshot load failed; serving without scores",
			"store", s.scores.Name(),
			"error", err,
		)
		report.ScoresErr = err.Error()
		records = nil
	}

	ds := &Dataset{
		Locations:  locs,
		Index:      index.Build(records),
		Generation: s.gen.Add(1),
		LoadedAt:   s.clock.Now(),
	}
	s.current.Store(ds)
	if s.cache != nil {
		s.cache.Flush()
	}

	report.Generation = ds.Generation
	report.Locations = len(ds.Locations)
	report.Records = ds.Index.Len()
	if h, ok := ds.Index.DataHorizon(); ok {
		report.DataHorizon = &h
	}

	s.logger.InfoContext(ctx, "dataset reloaded",
		"generation", report.Generation,
		"locations", report.Locations,
		"records", report.Records,
	)
	return report
}

// Locations returns a copy of the current catalog.
func (s *Service) Locations() []types.Location {
	ds := s.current.Load()
	out := make([]types.Location, len(ds.Locations))
	copy(out, ds.Locations)
	return out
}

// Top ranks the catalog for p. Missing scores are filled in with the
// fallback score, so every candidate appears in the result.
func (s *Service) Top(ctx context.Context, p Params) (*TopResult, error) {
	ds := s.current.Load()

	p, err := s.normalize(p)
	if err != nil {
		return nil, err
	}

	key := cacheKey(ds.Generation, p)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.(*TopResult), nil
		}
	}

	res := rank(ds, p)
	if s.cache != nil {
		s.cache.SetDefault(key, res)
	}

	types.LoggerFromContext(ctx, s.logger).DebugContext(ctx, "ranking computed",
		"mode", p.Mode,
		"candidates", res.Count,
		"generation", ds.Generation,
	)
	return res, nil
}

// normalize validates p and fills in defaults.
func (s *Service) normalize(p Params) (Params, error) {
	if (p.Lat == nil) != (p.Lon == nil) {
		return p, types.NewAppError(types.ErrCodeValidationMissingField, "lat and lon must be given together", nil)
	}
	if p.Lat != nil && !geo.ValidLatLon(*p.Lat, *p.Lon) {
		return p, types.NewAppError(types.ErrCodeValidationInvalidLat, "coordinates out of range", nil)
	}

	if p.Mode == "" {
		p.Mode = types.ModeFamily
	}
	if _, ok := types.ParseMode(string(p.Mode)); !ok {
		return p, types.NewAppError(types.ErrCodeValidationInvalidMode, fmt.Sprintf("unknown mode %q", p.Mode), nil)
	}
	p.Mode, _ = types.ParseMode(string(p.Mode))

	switch p.Water {
	case "", WaterAll:
		p.Water = WaterAll
	case string(types.WaterTypeMarine), string(types.WaterTypeInland):
	default:
		return p, types.NewAppError(types.ErrCodeValidationInvalidWaterType, fmt.Sprintf("unknown water filter %q", p.Water), nil)
	}

	switch p.Order {
	case "":
		p.Order = OrderScore
	case "dist":
		p.Order = OrderDistance
	case OrderScore, OrderDistance:
	default:
		return p, types.NewAppError(types.ErrCodeValidationInvalidOrder, fmt.Sprintf("unknown order %q", p.Order), nil)
	}

	if p.RadiusKm == nil {
		r := s.cfg.DefaultRadiusKm
		p.RadiusKm = &r
	}
	if p.Limit == 0 {
		p.Limit = s.cfg.DefaultLimit
	}
	p.Limit = min(max(p.Limit, MinLimit), MaxLimit)

	if p.When.IsZero() {
		// Snapshots are hourly, so "now" resolves to the next full hour; this
		// also lets requests within the same hour share a cache entry.
		now := s.clock.Now()
		p.When = now.Truncate(time.Hour)
		if p.When.Before(now) {
			p.When = p.When.Add(time.Hour)
		}
	}
	p.When = p.When.UTC()
	p.Zone = strings.TrimSpace(p.Zone)
	return p, nil
}

func rank(ds *Dataset, p Params) *TopResult {
	type candidate struct {
		loc  types.Location
		dist *float64
	}

	var cands []candidate
	for _, loc := range ds.Locations {
		switch {
		case p.Lat != nil:
			d := geo.HaversineKm(*p.Lat, *p.Lon, loc.Lat, loc.Lon)
			if *p.RadiusKm > 0 && d > *p.RadiusKm {
				continue
			}
			cands = append(cands, candidate{loc: loc, dist: &d})
		case p.Zone != "":
			if loc.HasZone(p.Zone) {
				cands = append(cands, candidate{loc: loc})
			}
		default:
			cands = append(cands, candidate{loc: loc})
		}
	}

	entries := make([]Entry, 0, len(cands))
	for _, c := range cands {
		if p.Water != WaterAll && string(c.loc.WaterType) != p.Water {
			continue
		}
		e := Entry{
			LocationID: c.loc.ID,
			Name:       c.loc.Name,
			DistanceKm: c.dist,
			WaterType:  c.loc.WaterType,
		}
		if rec, ok := ds.Index.Nearest(c.loc.ID, p.Mode, p.When); ok {
			e.Score = rec.Score
			e.Breakdown = rec.Breakdown
			e.Timestamp = rec.Timestamp
			e.Source = SourceForecast
		} else {
			fb := scoring.Fallback(c.loc, p.Mode)
			e.Score = fb.Score
			e.Breakdown = fb.Breakdown
			e.Timestamp = p.When
			e.Source = SourceFallback
		}
		entries = append(entries, e)
	}

	if p.Order == OrderDistance {
		sort.SliceStable(entries, func(i, j int) bool {
			a, b := entries[i].DistanceKm, entries[j].DistanceKm
			switch {
			case a == nil:
				return false
			case b == nil:
				return true
			default:
				return *a < *b
			}
		})
	} else {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })
	}

	if len(entries) > p.Limit {
		entries = entries[:p.Limit]
	}

	res := &TopResult{
		Generation: ds.Generation,
		Mode:       p.Mode,
		When:       p.When,
		Count:      len(entries),
		Results:    entries,
	}
	if h, ok := ds.Index.DataHorizon(); ok {
		res.DataHorizon = &h
	}
	return res
}

func cacheKey(gen uint64, p Params) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(gen, 10))
	b.WriteByte('|')
	if p.Lat != nil {
		b.WriteString(strconv.FormatFloat(*p.Lat, 'g', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(*p.Lon, 'g', -1, 64))
	}
	b.WriteByte('|')
	b.WriteString(strconv.FormatFloat(*p.RadiusKm, 'g', -1, 64))
	b.WriteByte('|')
	b.WriteString(strings.ToLower(p.Zone))
	b.WriteByte('|')
	b.WriteString(p.Water)
	b.WriteByte('|')
	b.WriteString(string(p.Mode))
	b.WriteByte('|')
	b.WriteString(p.Order)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(p.When.UnixNano(), 10))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(p.Limit))
	return b.String()
}
