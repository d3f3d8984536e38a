package align

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FindBestMapping searches the registry for the proposition with the most
// support and returns it with its aggregate strength.
//
// The search seeds from the single strongest mapping, replaces it with the
// support-weighted consensus of every point's best mapping, then hill-climbs
// rotation and translation at decreasing step scales. A strength of 0 means
// there is nothing (left) to report.
func (c *Correlator) FindBestMapping() (float64, Proposition) {
	current, ok := c.seedProposition()
	if !ok {
		return 0, Proposition{}
	}

	passes := c.params.ConsensusPasses
	if passes < 1 {
		passes = 1
	}
	for pass := 0; pass < passes; pass++ {
		next, weight := c.weightedConsensus(current)
		if weight == 0 {
			return 0, Proposition{}
		}
		current = next
	}

	strength := c.totalStrengthOf(current)
	for _, step := range c.params.StepScales {
		current, strength = c.tweakProposition(current, step)
	}

	return strength, current
}

// seedProposition returns the proposition of the mapping with the highest
// raw strength across all points.
func (c *Correlator) seedProposition() (Proposition, bool) {
	var seed *Mapping
	seedStrength := 0.0
	for _, mp := range c.points {
		m, s := mp.FindStrongestBelief(nil)
		if m == nil {
			continue
		}
		if seed == nil || s > seedStrength {
			seed = m
			seedStrength = s
		}
	}
	if seed == nil {
		return Proposition{}, false
	}
	return seed.Proposition, true
}

// weightedConsensus averages each point's best supporting proposition,
// weighted by the point's total belief in current. Rotation uses the
// circular mean. Returns the total weight.
func (c *Correlator) weightedConsensus(current Proposition) (Proposition, float64) {
	n := len(c.points)
	weights := make([]float64, 0, n)
	tx := make([]float64, 0, n)
	ty := make([]float64, 0, n)
	scales := make([]float64, 0, n)
	rotations := make([]float64, 0, n)

	for _, mp := range c.points {
		best, _ := mp.FindStrongestBelief(&current)
		if best == nil {
			continue
		}
		weights = append(weights, mp.StrengthInBelief(current))
		tx = append(tx, best.Proposition.Translation.X)
		ty = append(ty, best.Proposition.Translation.Y)
		scales = append(scales, best.Proposition.Scale)
		rotations = append(rotations, best.Proposition.Rotation)
	}

	total := floats.Sum(weights)
	if total == 0 {
		return Proposition{}, 0
	}

	return Proposition{
		Translation: Point{X: stat.Mean(tx, weights), Y: stat.Mean(ty, weights)},
		Rotation:    stat.CircularMean(rotations, weights),
		Scale:       stat.Mean(scales, weights),
	}, total
}

// totalStrengthOf sums, over all points, the best single-mapping positional
// strength under candidate.
func (c *Correlator) totalStrengthOf(candidate Proposition) float64 {
	total := 0.0
	for _, mp := range c.points {
		if _, s := mp.FindStrongestBelief(&candidate); s > 0 {
			total += s
		}
	}
	return total
}

// tweakProposition performs a first-improvement hill climb on rotation and
// translation. Each accepted nudge is kept before the next one is tried.
func (c *Correlator) tweakProposition(current Proposition, step float64) (Proposition, float64) {
	coarseRot := 0.3 * step * math.Pi / 180
	fineRot := 0.1 * step * math.Pi / 180
	shift := 0.1 * step

	nudges := []func(Proposition) Proposition{
		func(p Proposition) Proposition { p.Rotation = NormalizeAngle(p.Rotation + coarseRot); return p },
		func(p Proposition) Proposition { p.Rotation = NormalizeAngle(p.Rotation - coarseRot); return p },
		func(p Proposition) Proposition { p.Rotation = NormalizeAngle(p.Rotation + fineRot); return p },
		func(p Proposition) Proposition { p.Rotation = NormalizeAngle(p.Rotation - fineRot); return p },
		func(p Proposition) Proposition { p.Translation.X += shift; return p },
		func(p Proposition) Proposition { p.Translation.X -= shift; return p },
		func(p Proposition) Proposition { p.Translation.Y += shift; return p },
		func(p Proposition) Proposition { p.Translation.Y -= shift; return p },
	}

	strength := c.totalStrengthOf(current)
	for round := 0; round < c.params.MaxTweakRounds; round++ {
		roundStart := strength
		for _, nudge := range nudges {
			candidate := nudge(current)
			if s := c.totalStrengthOf(candidate); s > strength {
				current = candidate
				strength = s
			}
		}
		if strength <= roundStart {
			break
		}
	}
	return current, strength
}
