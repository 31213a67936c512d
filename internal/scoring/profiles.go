package scoring

import "praiafinder/internal/types"

// Factor names a scoring dimension.
type Factor string

const (
	FactorWind      Factor = types.FactorWind
	FactorWave      Factor = types.FactorWave
	FactorCurrent   Factor = types.FactorCurrent
	FactorWeather   Factor = types.FactorWeather
	FactorWaterTemp Factor = types.FactorWaterTemp
)

// trapezoid is 0 outside (lo, hi), 1 inside [fullLo, fullHi] and linear between.
type trapezoid struct {
	lo, fullLo, fullHi, hi float64
}

func (t trapezoid) at(x float64) float64 {
	switch {
	case x <= t.lo || x >= t.hi:
		return 0
	case x < t.fullLo:
		return (x - t.lo) / (t.fullLo - t.lo)
	case x <= t.fullHi:
		return 1
	default:
		return (t.hi - x) / (t.hi - t.fullHi)
	}
}

// ramp rises linearly from 0 at from to 1 at to.
type ramp struct {
	from, to float64
}

func (r ramp) at(x float64) float64 {
	return clamp01((x - r.from) / (r.to - r.from))
}

type tempCap struct {
	below float64
	cap   float64
}

// profile is the per-mode parameter set behind every factor curve.
type profile struct {
	// wind speed membership, km/h
	windCalm       float64
	windPeak       float64
	windMax        float64
	offshoreWeight float64

	// waves, metres of effective height (family and snorkel)
	waveCalm  float64
	waveRough float64
	// waves for surf
	surfBand trapezoid

	cloudFull  float64 // cover at or below which cloud costs nothing, %
	cloudFloor float64 // membership at 100% cover
	airTemp    trapezoid
	rainFloor  float64
	waterTemp  ramp

	caps    []tempCap // ascending by below
	weights map[types.WaterType]map[Factor]float64
}

var profiles = map[types.Mode]profile{
	types.ModeFamily: {
		windCalm:       0.9,
		windPeak:       8,
		windMax:        40,
		offshoreWeight: 0.4,
		waveCalm:       0.3,
		waveRough:      1.5,
		cloudFull:      20,
		cloudFloor:     0.1,
		airTemp:        trapezoid{lo: 14, fullLo: 24, fullHi: 30, hi: 40},
		rainFloor:      0.1,
		waterTemp:      ramp{from: 14, to: 21},
		caps:           []tempCap{{below: 12, cap: 4.5}, {below: 16, cap: 6.5}, {below: 19, cap: 8.0}},
		weights: map[types.WaterType]map[Factor]float64{
			types.WaterTypeMarine: {FactorWind: 0.30, FactorWeather: 0.50, FactorWave: 0.10, FactorWaterTemp: 0.10},
			types.WaterTypeInland: {FactorWind: 0.30, FactorWeather: 0.50, FactorCurrent: 0.10, FactorWaterTemp: 0.10},
		},
	},
	types.ModeSurf: {
		windCalm:       1.0,
		windPeak:       5,
		windMax:        35,
		offshoreWeight: 0.7,
		surfBand:       trapezoid{lo: 0.3, fullLo: 0.8, fullHi: 2.0, hi: 3.5},
		cloudFull:      60,
		cloudFloor:     0.5,
		airTemp:        trapezoid{lo: 5, fullLo: 15, fullHi: 32, hi: 42},
		rainFloor:      0.5,
		waterTemp:      ramp{from: 10, to: 18},
		caps:           []tempCap{{below: 5, cap: 4.5}, {below: 10, cap: 7.0}},
		weights: map[types.WaterType]map[Factor]float64{
			types.WaterTypeMarine: {FactorWave: 0.50, FactorWind: 0.30, FactorWeather: 0.10, FactorWaterTemp: 0.10},
			types.WaterTypeInland: {FactorCurrent: 0.30, FactorWind: 0.35, FactorWeather: 0.25, FactorWaterTemp: 0.10},
		},
	},
	types.ModeSnorkel: {
		windCalm:       1.0,
		windPeak:       5,
		windMax:        30,
		offshoreWeight: 0.5,
		waveCalm:       0.2,
		waveRough:      1.0,
		cloudFull:      20,
		cloudFloor:     0,
		airTemp:        trapezoid{lo: 15, fullLo: 24, fullHi: 32, hi: 40},
		rainFloor:      0.2,
		waterTemp:      ramp{from: 15, to: 22},
		caps:           []tempCap{{below: 14, cap: 4.0}, {below: 18, cap: 6.0}, {below: 21, cap: 8.0}},
		weights: map[types.WaterType]map[Factor]float64{
			types.WaterTypeMarine: {FactorWave: 0.40, FactorWind: 0.20, FactorWeather: 0.25, FactorWaterTemp: 0.15},
			types.WaterTypeInland: {FactorCurrent: 0.35, FactorWind: 0.20, FactorWeather: 0.30, FactorWaterTemp: 0.15},
		},
	},
}

// profileFor falls back to the family profile for unknown modes so scoring
// stays total.
func profileFor(m types.Mode) profile {
	if p, ok := profiles[m]; ok {
		return p
	}
	return profiles[types.ModeFamily]
}
