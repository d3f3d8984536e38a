package align

import "math"

// DistFactor controls how quickly positional strength falls off with
// projection error: a miss of DistFactor units halves the strength.
const DistFactor = 2.0

// Params holds the thresholds used to derive and refine propositions.
type Params struct {
	MinPhaseAgreement float64   // Minimum cos() between phase and geometric rotations
	MinScale          float64   // Smallest accepted pairwise scale
	MaxScale          float64   // Largest accepted pairwise scale
	StrengthScale     float64   // Mapping strength is StrengthScale * power0 * power1
	StepScales        []float64 // Refinement step scales, coarse to fine
	MaxTweakRounds    int       // Rounds per step scale
	ConsensusPasses   int       // Weighted consensus iterations (1 = single pass)
}

// DefaultParams returns the thresholds of the reference matcher
func DefaultParams() Params {
	return Params{
		MinPhaseAgreement: 0.90, // ~25.8 degrees
		MinScale:          0.95,
		MaxScale:          1.05,
		StrengthScale:     100,
		StepScales:        []float64{10.0, 1.0, 0.1},
		MaxTweakRounds:    30,
		ConsensusPasses:   1,
	}
}

// Mapping is a pairwise hypothesis: two source anchors with one candidate
// correspondence each, and the proposition derived from their geometry.
type Mapping struct {
	// Points holds the arena indices of the primary and other mapping points
	Points [2]int
	// Sources holds the coordinates of the primary and other mapping points
	Sources [2]Point
	// Targets are copied at creation; later edits to the point do not leak in
	Targets [2]Correspondence

	Proposition     Proposition
	Strength        float64
	InitialStrength float64
}

// deriveProposition solves the similarity transform implied by two
// (anchor, correspondence) pairs. ok is false when the pair is rejected.
func (p Params) deriveProposition(p0 Point, c0 Correspondence, p1 Point, c1 Correspondence) (Proposition, float64, bool) {
	// Cheap rejection: the two local phase rotations must agree
	if math.Cos(c0.PhaseRotation-c1.PhaseRotation) < p.MinPhaseAgreement {
		return Proposition{}, 0, false
	}

	rotation, scale, ok := similarityFromPairs(p0.Sub(p1), c0.Target.Sub(c1.Target))
	if !ok {
		return Proposition{}, 0, false
	}

	if scale < p.MinScale || scale > p.MaxScale {
		return Proposition{}, 0, false
	}

	// The phase rotation must also agree with the geometric rotation
	if math.Cos(c0.PhaseRotation-rotation) < p.MinPhaseAgreement {
		return Proposition{}, 0, false
	}

	prop := Proposition{
		Translation: c0.Target.Sub(Rotate(rotation, p0).Scale(scale)),
		Rotation:    rotation,
		Scale:       scale,
	}
	return prop, p.StrengthScale * c0.Power * c1.Power, true
}

// MapStrength compares the mapping's own proposition with a candidate,
// without reference to point positions.
func (m *Mapping) MapStrength(candidate Proposition) float64 {
	own := m.Proposition
	s := m.Strength
	s *= math.Min(candidate.Scale, own.Scale) / math.Max(candidate.Scale, own.Scale)
	s *= distanceDecay(Distance(own.Translation, candidate.Translation))
	s *= rotationAgreement(own.Rotation, candidate.Rotation)
	return s
}

// PositionMapStrength measures how well the candidate explains this
// mapping's observed geometry: the primary anchor is projected through the
// candidate and compared with the recorded target.
func (m *Mapping) PositionMapStrength(candidate Proposition) float64 {
	predicted := candidate.Apply(m.Sources[0])
	miss := Distance(predicted, m.Targets[0].Target)
	return m.Strength * distanceDecay(miss) * rotationAgreement(m.Proposition.Rotation, candidate.Rotation)
}

// diminish suppresses the mapping in proportion to how strongly it supports
// the accepted proposition.
func (m *Mapping) diminish(accepted Proposition) {
	s := m.PositionMapStrength(accepted)
	if s <= 0 {
		return
	}
	ratio := s / m.Strength
	m.Strength *= (1 - ratio) * (1 - ratio)
}

// reset restores the undiminished strength
func (m *Mapping) reset() {
	m.Strength = m.InitialStrength
}
