package align

import (
	"fmt"
	"math"
)

// Correlator owns a registry of mapping points and searches it for the
// similarity transforms best supported by their correspondences.
//
// Points are kept in registration order; every traversal (and therefore every
// floating point summation) follows that order, so results are reproducible.
// A Correlator is not safe for concurrent use.
type Correlator struct {
	params Params
	points []*MappingPoint
	index  map[string]int
}

// NewCorrelator creates an empty correlator with DefaultParams
func NewCorrelator() *Correlator {
	return NewCorrelatorWithParams(DefaultParams())
}

// NewCorrelatorWithParams creates an empty correlator with custom thresholds
func NewCorrelatorWithParams(params Params) *Correlator {
	return &Correlator{
		params: params,
		index:  make(map[string]int),
	}
}

// Params returns the thresholds in use
func (c *Correlator) Params() Params {
	return c.params
}

// AddMappingPoint registers a named anchor at (x, y)
func (c *Correlator) AddMappingPoint(name string, x, y float64) error {
	if _, ok := c.index[name]; ok {
		return fmt.Errorf("add mapping point %q: %w", name, ErrDuplicatePoint)
	}
	c.index[name] = len(c.points)
	c.points = append(c.points, newMappingPoint(name, x, y))
	return nil
}

// AddCorrespondence adds a candidate target location for a registered point.
// power must be non-negative.
func (c *Correlator) AddCorrespondence(pointName, corrName string, x, y, power, vecX, vecY float64) error {
	mp, ok := c.MappingPoint(pointName)
	if !ok {
		return fmt.Errorf("add correspondence %q to %q: %w", corrName, pointName, ErrPointNotFound)
	}
	if !(power >= 0) {
		return fmt.Errorf("add correspondence %q to %q: power %v: %w", corrName, pointName, power, ErrInvalidPower)
	}
	mp.Correspondences = append(mp.Correspondences, NewCorrespondence(corrName, x, y, power, vecX, vecY))
	return nil
}

// MappingPoint looks up a registered point by name
func (c *Correlator) MappingPoint(name string) (*MappingPoint, bool) {
	i, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return c.points[i], true
}

// MappingPoints returns the registered points in registration order
func (c *Correlator) MappingPoints() []*MappingPoint {
	result := make([]*MappingPoint, len(c.points))
	copy(result, c.points)
	return result
}

// CreatePropositions enumerates every ordered pair of distinct points and
// every pair of their correspondences, and attaches a Mapping to the first
// point of the pair whenever a proposition can be derived with at least
// minStrength. A negative minStrength is treated as 0.
func (c *Correlator) CreatePropositions(minStrength float64) {
	minStrength = math.Max(minStrength, 0)
	for i, p0 := range c.points {
		for j, p1 := range c.points {
			if i == j {
				continue
			}
			for _, c0 := range p0.Correspondences {
				for _, c1 := range p1.Correspondences {
					prop, strength, ok := c.params.deriveProposition(p0.Coords, c0, p1.Coords, c1)
					if !ok || strength < minStrength {
						continue
					}
					p0.Mappings = append(p0.Mappings, &Mapping{
						Points:          [2]int{i, j},
						Sources:         [2]Point{p0.Coords, p1.Coords},
						Targets:         [2]Correspondence{c0, c1},
						Proposition:     prop,
						Strength:        strength,
						InitialStrength: strength,
					})
				}
			}
		}
	}
}

// NumberOfPropositions returns how many mappings the named point owns
func (c *Correlator) NumberOfPropositions(pointName string) (int, error) {
	mp, ok := c.MappingPoint(pointName)
	if !ok {
		return 0, fmt.Errorf("number of propositions for %q: %w", pointName, ErrPointNotFound)
	}
	return len(mp.Mappings), nil
}

// GetProposition returns the proposition of the index'th mapping of the named
// point. ok is false for an unknown point or an out-of-range index.
func (c *Correlator) GetProposition(pointName string, index int) (Proposition, bool) {
	mp, ok := c.MappingPoint(pointName)
	if !ok || index < 0 || index >= len(mp.Mappings) {
		return Proposition{}, false
	}
	return mp.Mappings[index].Proposition, true
}

// MappingCount returns the total number of mappings across all points
func (c *Correlator) MappingCount() int {
	n := 0
	for _, mp := range c.points {
		n += len(mp.Mappings)
	}
	return n
}

// DiminishMappingsByProposition suppresses every mapping that supports the
// accepted proposition, so the next FindBestMapping reports a different
// cluster. Mappings are never removed; ResetDiminishments undoes this.
func (c *Correlator) DiminishMappingsByProposition(accepted Proposition) {
	for _, mp := range c.points {
		for _, m := range mp.Mappings {
			m.diminish(accepted)
		}
	}
}

// ResetDiminishments restores every mapping to its initial strength
func (c *Correlator) ResetDiminishments() {
	for _, mp := range c.points {
		for _, m := range mp.Mappings {
			m.reset()
		}
	}
}
