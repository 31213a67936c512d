package scoring

import "praiafinder/internal/types"

const defaultOrientationDeg = 270.0

// NeutralConditions is the placeholder used when no precomputed score exists:
// a light breeze from the landward side, a small medium-period swell, mostly
// clear skies and mild temperatures.
func NeutralConditions(loc types.Location) types.Conditions {
	orientation := defaultOrientationDeg
	if loc.OrientationDeg != nil {
		orientation = *loc.OrientationDeg
	}
	return types.Conditions{
		WindSpeedKmh:    10.8,
		WindFromDeg:     normalizeDeg(orientation + 180),
		WaveHeightM:     types.Float(0.6),
		WavePeriodS:     types.Float(10),
		CloudCoverPct:   types.Float(30),
		PrecipitationMM: types.Float(0),
		AirTempC:        types.Float(22),
		WaterTempC:      types.Float(19),
	}
}

// Fallback scores loc under NeutralConditions. It never fails.
func Fallback(loc types.Location, mode types.Mode) Result {
	return Score(loc, NeutralConditions(loc), mode)
}
