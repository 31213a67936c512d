package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"praiafinder/internal/types"
)

type staticSource struct {
	mu   sync.Mutex
	locs []types.Location
	err  error
}

func (s *staticSource) Locations(context.Context) ([]types.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]types.Location, len(s.locs))
	copy(out, s.locs)
	return out, nil
}

type memStore struct {
	mu      sync.Mutex
	records []types.ScoreRecord
	err     error
}

func (m *memStore) Load(context.Context) ([]types.ScoreRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]types.ScoreRecord(nil), m.records...), nil
}

func (m *memStore) Save(_ context.Context, records []types.ScoreRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
	return nil
}

func (m *memStore) Name() string { return "memory" }

var now = time.Date(2026, 7, 1, 10, 20, 0, 0, time.UTC)

func marineA() types.Location {
	return types.Location{
		ID:             "a",
		Name:           "Praia A",
		Lat:            38.70,
		Lon:            -9.40,
		ZoneTags:       []string{"lisboa"},
		OrientationDeg: types.Float(270),
		WaterType:      types.WaterTypeMarine,
	}
}

func inlandB() types.Location {
	return types.Location{
		ID:        "b",
		Name:      "Albufeira B",
		Lat:       40.35,
		Lon:       -8.20,
		ZoneTags:  []string{"centro"},
		WaterType: types.WaterTypeInland,
	}
}

func newTestService(t *testing.T, locs []types.Location, records []types.ScoreRecord) (*Service, *staticSource, *memStore) {
	t.Helper()
	src := &staticSource{locs: locs}
	store := &memStore{records: records}
	svc := NewService(Config{DefaultRadiusKm: 50, DefaultLimit: 5, CacheTTL: time.Minute}, src, store, types.FixedClock{T: now}, nil)
	svc.Reload(context.Background())
	return svc, src, store
}

func TestTop_ForecastAndFallback(t *testing.T) {
	past := time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)
	rec := types.ScoreRecord{
		LocationID: "a",
		Mode:       types.ModeFamily,
		Timestamp:  past,
		WaterType:  types.WaterTypeMarine,
		Score:      9.7,
		Breakdown:  types.Breakdown{Wind: types.Float(9.5)},
	}
	svc, _, _ := newTestService(t, []types.Location{inlandB(), marineA()}, []types.ScoreRecord{rec})

	res, err := svc.Top(context.Background(), Params{Mode: types.ModeFamily})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)

	byID := map[string]Entry{}
	for _, e := range res.Results {
		byID[e.LocationID] = e
	}
	assert.Equal(t, SourceForecast, byID["a"].Source)
	assert.Equal(t, 9.7, byID["a"].Score)
	assert.Equal(t, past, byID["a"].Timestamp)
	assert.Equal(t, SourceFallback, byID["b"].Source)
	assert.Equal(t, types.WaterTypeInland, byID["b"].WaterType)

	assert.GreaterOrEqual(t, res.Results[0].Score, res.Results[1].Score)
	require.NotNil(t, res.DataHorizon)
	assert.Equal(t, past, *res.DataHorizon)
	assert.Equal(t, time.Date(2026, 7, 1, 11, 0, 0, 0, time.UTC), res.When, "now rounds up to the next hour")
}

func TestTop_RadiusIsInclusive(t *testing.T) {
	origin := types.Location{ID: "origin", Lat: 38.0, Lon: -9.0, WaterType: types.WaterTypeMarine}
	north := types.Location{ID: "north", Lat: 38.1, Lon: -9.0, WaterType: types.WaterTypeMarine}
	svc, _, _ := newTestService(t, []types.Location{origin, north}, nil)

	lat, lon := 38.0, -9.0
	// Distance from origin to north, computed the same way the service does.
	res, err := svc.Top(context.Background(), Params{Lat: &lat, Lon: &lon, RadiusKm: types.Float(100), Order: OrderDistance})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	exact := *res.Results[1].DistanceKm

	res, err = svc.Top(context.Background(), Params{Lat: &lat, Lon: &lon, RadiusKm: &exact})
	require.NoError(t, err)
	assert.Len(t, res.Results, 2, "a location exactly at the radius is included")

	smaller := exact - 0.001
	res, err = svc.Top(context.Background(), Params{Lat: &lat, Lon: &lon, RadiusKm: &smaller})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "origin", res.Results[0].LocationID)
	assert.InDelta(t, 0, *res.Results[0].DistanceKm, 1e-9)

	res, err = svc.Top(context.Background(), Params{Lat: &lat, Lon: &lon, RadiusKm: types.Float(0), Limit: 50})
	require.NoError(t, err)
	assert.Len(t, res.Results, 2, "non-positive radius is unbounded")
}

func TestTop_CacheKeepsFullPrecision(t *testing.T) {
	origin := types.Location{ID: "origin", Lat: 38.0, Lon: -9.0, WaterType: types.WaterTypeMarine}
	north := types.Location{ID: "north", Lat: 38.1, Lon: -9.0, WaterType: types.WaterTypeMarine}
	svc, _, _ := newTestService(t, []types.Location{origin, north}, nil)
	ctx := context.Background()

	lat1, lat2, lon := 38.0, 38.000004, -9.0
	first, err := svc.Top(ctx, Params{Lat: &lat1, Lon: &lon, Order: OrderDistance})
	require.NoError(t, err)
	second, err := svc.Top(ctx, Params{Lat: &lat2, Lon: &lon, Order: OrderDistance})
	require.NoError(t, err)
	assert.NotEqual(t, *first.Results[0].DistanceKm, *second.Results[0].DistanceKm,
		"nearby coordinates get their own distances")

	res, err := svc.Top(ctx, Params{Lat: &lat1, Lon: &lon, RadiusKm: types.Float(100), Order: OrderDistance})
	require.NoError(t, err)
	exact := *res.Results[1].DistanceKm
	under := exact - 1e-4
	res, err = svc.Top(ctx, Params{Lat: &lat1, Lon: &lon, RadiusKm: &exact})
	require.NoError(t, err)
	assert.Len(t, res.Results, 2)
	res, err = svc.Top(ctx, Params{Lat: &lat1, Lon: &lon, RadiusKm: &under})
	require.NoError(t, err)
	assert.Len(t, res.Results, 1, "a radius just under the boundary is not served from the cache")
}

func TestTop_ZoneAndWaterFilters(t *testing.T) {
	svc, _, _ := newTestService(t, []types.Location{marineA(), inlandB()}, nil)
	ctx := context.Background()

	res, err := svc.Top(ctx, Params{Zone: "Lisboa"})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "a", res.Results[0].LocationID)
	assert.Nil(t, res.Results[0].DistanceKm)

	res, err = svc.Top(ctx, Params{Water: string(types.WaterTypeInland)})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "b", res.Results[0].LocationID)

	res, err = svc.Top(ctx, Params{Zone: "algarve"})
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Equal(t, 0, res.Count)
}

func TestTop_DistanceOrderIsStable(t *testing.T) {
	locs := []types.Location{
		{ID: "far", Lat: 39.0, Lon: -9.0, WaterType: types.WaterTypeMarine},
		{ID: "near", Lat: 38.01, Lon: -9.0, WaterType: types.WaterTypeMarine},
		{ID: "twin1", Lat: 38.5, Lon: -9.0, WaterType: types.WaterTypeMarine},
		{ID: "twin2", Lat: 38.5, Lon: -9.0, WaterType: types.WaterTypeMarine},
	}
	svc, _, _ := newTestService(t, locs, nil)

	lat, lon := 38.0, -9.0
	res, err := svc.Top(context.Background(), Params{Lat: &lat, Lon: &lon, RadiusKm: types.Float(0), Order: OrderDistance, Limit: 10})
	require.NoError(t, err)

	var ids []string
	for _, e := range res.Results {
		ids = append(ids, e.LocationID)
	}
	assert.Equal(t, []string{"near", "twin1", "twin2", "far"}, ids)
}

func TestTop_DistanceOrderWithoutCoordinatesKeepsInsertionOrder(t *testing.T) {
	svc, _, _ := newTestService(t, []types.Location{inlandB(), marineA()}, nil)
	res, err := svc.Top(context.Background(), Params{Order: OrderDistance})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "b", res.Results[0].LocationID)
	assert.Equal(t, "a", res.Results[1].LocationID)
}

func TestTop_LimitIsClamped(t *testing.T) {
	var locs []types.Location
	for i := range 60 {
		locs = append(locs, types.Location{
			ID:        string(rune('A'+i%26)) + string(rune('a'+i/26)),
			Lat:       38 + float64(i)*0.01,
			Lon:       -9,
			WaterType: types.WaterTypeMarine,
		})
	}
	svc, _, _ := newTestService(t, locs, nil)
	ctx := context.Background()

	for _, tc := range []struct {
		limit int
		want  int
	}{
		{limit: 0, want: 5},
		{limit: -3, want: MinLimit},
		{limit: 7, want: 7},
		{limit: 500, want: MaxLimit},
	} {
		res, err := svc.Top(ctx, Params{Limit: tc.limit})
		require.NoError(t, err)
		assert.Len(t, res.Results, tc.want, "limit %d", tc.limit)
	}
}

func TestTop_InvalidParams(t *testing.T) {
	svc, _, _ := newTestService(t, []types.Location{marineA()}, nil)
	lat := 38.0

	tests := []struct {
		name string
		p    Params
		code types.ErrorCode
	}{
		{"lat without lon", Params{Lat: &lat}, types.ErrCodeValidationMissingField},
		{"lat out of range", Params{Lat: types.Float(91), Lon: types.Float(0)}, types.ErrCodeValidationInvalidLat},
		{"unknown mode", Params{Mode: "kitesurf"}, types.ErrCodeValidationInvalidMode},
		{"unknown water", Params{Water: "pool"}, types.ErrCodeValidationInvalidWaterType},
		{"unknown order", Params{Order: "name"}, types.ErrCodeValidationInvalidOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Top(context.Background(), tt.p)
			var appErr *types.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestTop_LegacyModeAlias(t *testing.T) {
	svc, _, _ := newTestService(t, []types.Location{marineA()}, nil)
	res, err := svc.Top(context.Background(), Params{Mode: "familia"})
	require.NoError(t, err)
	assert.Equal(t, types.ModeFamily, res.Mode)
}

func TestReload_SwapsDatasetAndInvalidatesCache(t *testing.T) {
	ts := time.Date(2026, 7, 1, 11, 0, 0, 0, time.UTC)
	svc, src, store := newTestService(t, []types.Location{marineA()}, []types.ScoreRecord{
		{LocationID: "a", Mode: types.ModeFamily, Timestamp: ts, WaterType: types.WaterTypeMarine, Score: 4.0},
	})
	ctx := context.Background()

	first, err := svc.Top(ctx, Params{})
	require.NoError(t, err)
	assert.Equal(t, 4.0, first.Results[0].Score)

	require.NoError(t, store.Save(ctx, []types.ScoreRecord{
		{LocationID: "a", Mode: types.ModeFamily, Timestamp: ts, WaterType: types.WaterTypeMarine, Score: 8.0},
	}))
	src.mu.Lock()
	src.locs = append(src.locs, inlandB())
	src.mu.Unlock()

	cached, err := svc.Top(ctx, Params{})
	require.NoError(t, err)
	assert.Equal(t, 4.0, cached.Results[0].Score, "dataset is unchanged until reload")

	report := svc.Reload(ctx)
	assert.Equal(t, uint64(2), report.Generation)
	assert.Equal(t, 2, report.Locations)
	assert.Equal(t, 1, report.Records)

	after, err := svc.Top(ctx, Params{})
	require.NoError(t, err)
	require.Len(t, after.Results, 2)
	assert.Equal(t, 8.0, after.Results[0].Score)
}

func TestReload_DegradesToEmpty(t *testing.T) {
	svc, src, store := newTestService(t, []types.Location{marineA()}, nil)
	src.err = errors.New("catalog gone")
	store.err = errors.New("bucket gone")

	report := svc.Reload(context.Background())
	assert.Equal(t, 0, report.Locations)
	assert.Equal(t, 0, report.Records)
	assert.Nil(t, report.DataHorizon)
	assert.Contains(t, report.CatalogErr, "catalog gone")
	assert.Contains(t, report.ScoresErr, "bucket gone")
	assert.True(t, svc.Loaded())

	res, err := svc.Top(context.Background(), Params{})
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Nil(t, res.DataHorizon)
}

func TestReload_ConcurrentReadersSeeWholeDatasets(t *testing.T) {
	ts := time.Date(2026, 7, 1, 11, 0, 0, 0, time.UTC)
	svc, _, store := newTestService(t, []types.Location{marineA()}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ds := svc.Dataset()
				if ds.Generation > 0 {
					assert.Len(t, ds.Locations, 1)
				}
				_, err := svc.Top(ctx, Params{})
				assert.NoError(t, err)
			}
		}()
	}

	for i := range 20 {
		_ = store.Save(ctx, []types.ScoreRecord{
			{LocationID: "a", Mode: types.ModeFamily, Timestamp: ts, WaterType: types.WaterTypeMarine, Score: float64(i % 10)},
		})
		svc.Reload(ctx)
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, uint64(21), svc.Dataset().Generation)
}

func TestLocations_ReturnsCopy(t *testing.T) {
	svc, _, _ := newTestService(t, []types.Location{marineA()}, nil)
	locs := svc.Locations()
	locs[0].Name = "mutated"
	assert.Equal(t, "Praia A", svc.Locations()[0].Name)
}
