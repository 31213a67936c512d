package scoring

import (
	"math"

	"praiafinder/internal/types"
)

const (
	// inlandWindDiscount scales the measured wind speed over inland water.
	inlandWindDiscount = 0.6

	// currentWindScale and currentRainScale are the wind (km/h, discounted)
	// and rain (mm/h) at which inland water is considered fully agitated.
	currentWindScale = 25.0
	currentRainScale = 5.0

	rainFree  = 0.2 // mm/h
	rainHeavy = 1.0 // mm/h

	// surf period modulation: 0.4 at or below shortPeriod, 1.0 at or above longPeriod
	shortPeriod = 5.0
	longPeriod  = 12.0
)

// Offshore returns how much the wind blows from land to water, in [0,1]:
// 1 for wind from the landward side, 0 for wind straight off the water,
// 0.5 when the orientation is unknown.
func Offshore(windFromDeg float64, orientationDeg *float64) float64 {
	if orientationDeg == nil {
		return 0.5
	}
	landward := *orientationDeg + 180
	d := angleDiff(windFromDeg, landward) * math.Pi / 180
	return (1 + math.Cos(d)) / 2
}

// speedMembership peaks at the mode's comfortable speed and reaches 0 at its
// upper bound.
func speedMembership(speedKmh float64, p profile) float64 {
	switch {
	case speedKmh <= 0:
		return p.windCalm
	case speedKmh <= p.windPeak:
		return p.windCalm + (1-p.windCalm)*speedKmh/p.windPeak
	case speedKmh >= p.windMax:
		return 0
	default:
		return (p.windMax - speedKmh) / (p.windMax - p.windPeak)
	}
}

func windScore(speedKmh, fromDeg float64, loc types.Location, wt types.WaterType, p profile) float64 {
	if wt == types.WaterTypeInland {
		speedKmh *= inlandWindDiscount
	}
	off := Offshore(fromDeg, loc.OrientationDeg)
	return 10 * speedMembership(speedKmh, p) * ((1 - p.offshoreWeight) + p.offshoreWeight*off)
}

// waveScore handles marine water only. ok is false when there is no wave height.
func waveScore(c types.Conditions, loc types.Location, mode types.Mode, p profile) (float64, bool) {
	if c.WaveHeightM == nil {
		return 0, false
	}
	eff := math.Max(0, *c.WaveHeightM*(1-clamp01(loc.Shelter)))

	if mode != types.ModeSurf {
		if eff <= p.waveCalm {
			return 10, true
		}
		return 10 * clamp01((p.waveRough-eff)/(p.waveRough-p.waveCalm)), true
	}

	s := p.surfBand.at(eff)
	if c.WavePeriodS != nil {
		s *= 0.4 + 0.6*clamp01((*c.WavePeriodS-shortPeriod)/(longPeriod-shortPeriod))
	}
	if c.WaveFromDeg != nil && loc.OrientationDeg != nil {
		s *= swellAlignment(angleDiff(*c.WaveFromDeg, *loc.OrientationDeg))
	}
	return 10 * s, true
}

// swellAlignment rewards swell arriving head-on to the shore.
func swellAlignment(d float64) float64 {
	switch {
	case d <= 30:
		return 1.0
	case d <= 60:
		return 0.8
	case d <= 80:
		return 0.5
	default:
		return 0.2
	}
}

// currentScore stands in for waves on inland water: calm and dry is best.
func currentScore(c types.Conditions) float64 {
	windPart := 1 - clamp01(c.WindSpeedKmh*inlandWindDiscount/currentWindScale)
	if c.PrecipitationMM == nil {
		return 10 * windPart
	}
	rainPart := 1 - clamp01(*c.PrecipitationMM/currentRainScale)
	return 10 * (0.7*windPart + 0.3*rainPart)
}

// weatherScore averages the cloud and air temperature memberships and applies
// the rain penalty. ok is false when none of the three readings is present.
func weatherScore(c types.Conditions, p profile) (float64, bool) {
	var sum float64
	var n int
	if c.CloudCoverPct != nil {
		sum += cloudMembership(*c.CloudCoverPct, p)
		n++
	}
	if c.AirTempC != nil {
		sum += p.airTemp.at(*c.AirTempC)
		n++
	}
	if n == 0 && c.PrecipitationMM == nil {
		return 0, false
	}

	base := 1.0
	if n > 0 {
		base = sum / float64(n)
	}
	if c.PrecipitationMM != nil {
		base *= rainPenalty(*c.PrecipitationMM, p)
	}
	return 10 * base, true
}

func cloudMembership(pct float64, p profile) float64 {
	if pct <= p.cloudFull {
		return 1
	}
	return 1 - (1-p.cloudFloor)*(pct-p.cloudFull)/(100-p.cloudFull)
}

func rainPenalty(mm float64, p profile) float64 {
	switch {
	case mm <= rainFree:
		return 1
	case mm >= rainHeavy:
		return p.rainFloor
	default:
		return 1 - (1-p.rainFloor)*(mm-rainFree)/(rainHeavy-rainFree)
	}
}

func waterTempScore(c types.Conditions, p profile) (float64, bool) {
	if c.WaterTempC == nil {
		return 0, false
	}
	return 10 * p.waterTemp.at(*c.WaterTempC), true
}

// angleDiff returns the absolute difference between two bearings, in [0,180].
func angleDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(normalizeDeg(a)-normalizeDeg(b)), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

func normalizeDeg(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}

func clamp01(x float64) float64 {
	return clamp(x, 0, 1)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
