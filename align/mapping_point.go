package align

// MappingPoint is a named anchor in the source image. It owns the candidate
// correspondences for that anchor and the mappings that use it as primary.
type MappingPoint struct {
	Name            string
	Coords          Point
	Correspondences []Correspondence
	Mappings        []*Mapping
}

func newMappingPoint(name string, x, y float64) *MappingPoint {
	return &MappingPoint{
		Name:   name,
		Coords: Point{X: x, Y: y},
	}
}

// Correspondence returns the first correspondence registered under name
func (mp *MappingPoint) Correspondence(name string) (Correspondence, bool) {
	for _, c := range mp.Correspondences {
		if c.Name == name {
			return c, true
		}
	}
	return Correspondence{}, false
}

// StrengthInBelief sums the positional strength of every mapping of this
// point under the candidate.
func (mp *MappingPoint) StrengthInBelief(candidate Proposition) float64 {
	total := 0.0
	for _, m := range mp.Mappings {
		total += m.PositionMapStrength(candidate)
	}
	return total
}

// FindStrongestBelief returns the mapping with the highest positional
// strength under candidate, or the highest raw strength when candidate is
// nil. Ties keep the earliest mapping. Returns nil if the point owns no
// mappings.
func (mp *MappingPoint) FindStrongestBelief(candidate *Proposition) (*Mapping, float64) {
	var best *Mapping
	bestStrength := 0.0

	for _, m := range mp.Mappings {
		var s float64
		if candidate == nil {
			s = m.Strength
		} else {
			s = m.PositionMapStrength(*candidate)
		}
		if best == nil || s > bestStrength {
			best = m
			bestStrength = s
		}
	}
	return best, bestStrength
}
