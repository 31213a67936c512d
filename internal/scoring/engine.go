// Package scoring turns one hour of environmental readings into a 0-10
// suitability score for a location and activity mode, with a per-factor
// breakdown. Everything here is pure and total: absent readings drop their
// factor, bad numbers are sanitized, and the result is always in range.
package scoring

import (
	"math"

	"praiafinder/internal/types"
)

// Epsilon floors each normalized sub-score before the geometric mean so a
// single zero factor drags the score down without forcing it to zero.
const Epsilon = 1e-3

// surfNoWaveCap bounds surf scores when no wave factor could be computed.
const surfNoWaveCap = 3.0

// Result is the outcome of scoring one set of conditions.
type Result struct {
	Score     float64
	Breakdown types.Breakdown
	// Weights are the renormalized weights of the factors that took part.
	Weights map[Factor]float64
}

// Score computes the suitability of loc under c for mode. loc.WaterType is
// expected to be resolved already; anything other than inland water is
// scored as marine.
func Score(loc types.Location, c types.Conditions, mode types.Mode) Result {
	p := profileFor(mode)
	c = sanitize(c)
	if o := loc.OrientationDeg; o != nil && (math.IsNaN(*o) || math.IsInf(*o, 0)) {
		loc.OrientationDeg = nil
	}
	loc.Shelter = clamp01(finiteOr(loc.Shelter, 0))
	wt := types.WaterTypeMarine
	if loc.WaterType == types.WaterTypeInland {
		wt = types.WaterTypeInland
	}

	subs := make(map[Factor]float64, 4)
	subs[FactorWind] = windScore(c.WindSpeedKmh, c.WindFromDeg, loc, wt, p)

	if wt == types.WaterTypeInland {
		subs[FactorCurrent] = currentScore(c)
	} else if s, ok := waveScore(c, loc, mode, p); ok {
		subs[FactorWave] = s
	}
	if s, ok := weatherScore(c, p); ok {
		subs[FactorWeather] = s
	}
	if s, ok := waterTempScore(c, p); ok {
		subs[FactorWaterTemp] = s
	}

	weights := normalizeWeights(p.weights[wt], subs)
	score := combine(subs, weights)

	if c.AirTempC != nil {
		for _, tc := range p.caps {
			if *c.AirTempC < tc.below {
				score = math.Min(score, tc.cap)
				break
			}
		}
	}
	if _, hasWave := subs[FactorWave]; mode == types.ModeSurf && !hasWave {
		score = math.Min(score, surfNoWaveCap)
	}

	return Result{
		Score:     round1(clamp(score, 0, 10)),
		Breakdown: toBreakdown(subs),
		Weights:   weights,
	}
}

// normalizeWeights keeps the weights of present factors and rescales them to
// sum to 1.
func normalizeWeights(table map[Factor]float64, present map[Factor]float64) map[Factor]float64 {
	out := make(map[Factor]float64, len(present))
	var total float64
	for f := range present {
		if w := table[f]; w > 0 {
			out[f] = w
			total += w
		}
	}
	if total == 0 {
		return out
	}
	for f, w := range out {
		out[f] = w / total
	}
	return out
}

// combine is a weighted geometric mean of sub-scores normalized to [Epsilon,1],
// scaled back to 0-10.
func combine(subs, weights map[Factor]float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	var logSum float64
	for f, w := range weights {
		logSum += w * math.Log(math.Max(subs[f]/10, Epsilon))
	}
	return 10 * math.Exp(logSum)
}

func toBreakdown(subs map[Factor]float64) types.Breakdown {
	get := func(f Factor) *float64 {
		if v, ok := subs[f]; ok {
			return types.Float(round1(clamp(v, 0, 10)))
		}
		return nil
	}
	return types.Breakdown{
		Wind:      get(FactorWind),
		Wave:      get(FactorWave),
		Current:   get(FactorCurrent),
		Weather:   get(FactorWeather),
		WaterTemp: get(FactorWaterTemp),
	}
}

// sanitize clamps readings into their physical ranges. Non-finite required
// readings become 0; non-finite optional ones become absent.
func sanitize(c types.Conditions) types.Conditions {
	c.WindSpeedKmh = math.Max(0, finiteOr(c.WindSpeedKmh, 0))
	c.WindFromDeg = normalizeDeg(finiteOr(c.WindFromDeg, 0))
	c.WaveHeightM = optional(c.WaveHeightM, 0, math.Inf(1))
	c.WavePeriodS = optional(c.WavePeriodS, 0, math.Inf(1))
	c.WaveFromDeg = optional(c.WaveFromDeg, math.Inf(-1), math.Inf(1))
	if c.WaveFromDeg != nil {
		c.WaveFromDeg = types.Float(normalizeDeg(*c.WaveFromDeg))
	}
	c.CloudCoverPct = optional(c.CloudCoverPct, 0, 100)
	c.PrecipitationMM = optional(c.PrecipitationMM, 0, math.Inf(1))
	c.AirTempC = optional(c.AirTempC, -60, 60)
	c.WaterTempC = optional(c.WaterTempC, -5, 40)
	return c
}

func optional(v *float64, lo, hi float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return types.Float(clamp(*v, lo, hi))
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
