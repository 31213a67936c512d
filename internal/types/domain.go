package types

import (
	"encoding/json"
	"strings"
	"time"
)

// WaterType distinguishes open-sea locations from rivers, lakes and reservoirs.
type WaterType string

const (
	WaterTypeMarine WaterType = "marine"
	WaterTypeInland WaterType = "inland_water"
)

// Mode is the activity a score is computed for.
type Mode string

const (
	ModeFamily  Mode = "family"
	ModeSurf    Mode = "surf"
	ModeSnorkel Mode = "snorkel"
)

// AllModes lists the supported modes in a stable order.
var AllModes = []Mode{ModeFamily, ModeSurf, ModeSnorkel}

// ParseMode resolves a boundary string into a Mode. The legacy Portuguese
// alias "familia" is accepted for family.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "family", "familia", "família":
		return ModeFamily, true
	case "surf":
		return ModeSurf, true
	case "snorkel":
		return ModeSnorkel, true
	}
	return "", false
}

// AppliesTo reports whether a mode is scored for a water type at all.
// Surfing is never computed for inland water.
func (m Mode) AppliesTo(wt WaterType) bool {
	return !(m == ModeSurf && wt == WaterTypeInland)
}

// Location is a single recreation site from the catalog.
type Location struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Lat            float64   `json:"lat"`
	Lon            float64   `json:"lon"`
	ZoneTags       []string  `json:"zone_tags,omitempty"`
	OrientationDeg *float64  `json:"orientation_deg,omitempty"`
	WaterType      WaterType `json:"water_type,omitempty"`
	Shelter        float64   `json:"shelter,omitempty"`
}

// UnmarshalJSON accepts both the current keys and the legacy Portuguese ones
// (nome, orientacao_graus, abrigo) found in older catalog files.
func (l *Location) UnmarshalJSON(data []byte) error {
	type plain Location
	var aux struct {
		plain
		Nome            string   `json:"nome"`
		OrientacaoGraus *float64 `json:"orientacao_graus"`
		Abrigo          *float64 `json:"abrigo"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*l = Location(aux.plain)
	if l.Name == "" {
		l.Name = aux.Nome
	}
	if l.OrientationDeg == nil {
		l.OrientationDeg = aux.OrientacaoGraus
	}
	if l.Shelter == 0 && aux.Abrigo != nil {
		l.Shelter = *aux.Abrigo
	}
	return nil
}

// HasZone reports whether any of the location's zone tags matches one of
// zones, ignoring case.
func (l Location) HasZone(zones ...string) bool {
	for _, tag := range l.ZoneTags {
		for _, z := range zones {
			if strings.EqualFold(strings.TrimSpace(tag), strings.TrimSpace(z)) {
				return true
			}
		}
	}
	return false
}

// Conditions is one hour of environmental readings for a location.
// Nil pointers mean the reading was not available.
type Conditions struct {
	WindSpeedKmh    float64  `json:"wind_speed_kmh"`
	WindFromDeg     float64  `json:"wind_from_deg"`
	WaveHeightM     *float64 `json:"wave_height_m,omitempty"`
	WavePeriodS     *float64 `json:"wave_period_s,omitempty"`
	WaveFromDeg     *float64 `json:"wave_from_deg,omitempty"`
	CloudCoverPct   *float64 `json:"cloud_cover_pct,omitempty"`
	PrecipitationMM *float64 `json:"precipitation_mm,omitempty"`
	AirTempC        *float64 `json:"air_temp_c,omitempty"`
	WaterTempC      *float64 `json:"water_temp_c,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Breakdown holds the per-factor sub-scores (0-10) behind a score. Factors
// that did not take part are nil.
type Breakdown struct {
	Wind      *float64
	Wave      *float64
	Current   *float64
	Weather   *float64
	WaterTemp *float64
}

// Breakdown keys as they appear on the wire.
const (
	FactorWind      = "wind"
	FactorWave      = "wave"
	FactorCurrent   = "current"
	FactorWeather   = "weather"
	FactorWaterTemp = "water_temp"
)

// Map returns the present factors keyed by their wire name.
func (b Breakdown) Map() map[string]float64 {
	m := make(map[string]float64, 5)
	add := func(k string, v *float64) {
		if v != nil {
			m[k] = *v
		}
	}
	add(FactorWind, b.Wind)
	add(FactorWave, b.Wave)
	add(FactorCurrent, b.Current)
	add(FactorWeather, b.Weather)
	add(FactorWaterTemp, b.WaterTemp)
	return m
}

// MarshalJSON encodes the breakdown as a flat {factor: sub-score} object.
func (b Breakdown) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Map())
}

// UnmarshalJSON decodes the flat object form. Unknown keys are ignored.
func (b *Breakdown) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*b = Breakdown{}
	for k, v := range m {
		v := v
		switch k {
		case FactorWind:
			b.Wind = &v
		case FactorWave:
			b.Wave = &v
		case FactorCurrent:
			b.Current = &v
		case FactorWeather:
			b.Weather = &v
		case FactorWaterTemp:
			b.WaterTemp = &v
		}
	}
	return nil
}

// ScoreRecord is the precomputed score of one location, mode and hour.
type ScoreRecord struct {
	LocationID string     `json:"location_id"`
	Mode       Mode       `json:"mode"`
	Timestamp  time.Time  `json:"ts"`
	WaterType  WaterType  `json:"water_type"`
	Score      float64    `json:"score"`
	Breakdown  Breakdown  `json:"breakdown"`
	Inputs     Conditions `json:"inputs"`
}

// RecordKey identifies a record within a snapshot.
type RecordKey struct {
	LocationID string
	Mode       Mode
	Unix       int64
}

// Key returns the (location, mode, timestamp) identity of r.
func (r ScoreRecord) Key() RecordKey {
	return RecordKey{LocationID: r.LocationID, Mode: r.Mode, Unix: r.Timestamp.Unix()}
}
