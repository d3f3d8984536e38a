package align

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// DefaultInlierRadius is the projection error, in target units, within which
// an anchor counts as explained by a cluster
const DefaultInlierRadius = 5 * DistFactor

// Inlier is an anchor explained by a proposition: its projection lands near
// one of its own correspondences.
type Inlier struct {
	Point          string  `json:"point"`
	Correspondence string  `json:"correspondence"`
	Source         Point   `json:"source"`
	Projected      Point   `json:"projected"`
	Target         Point   `json:"target"`
	Residual       float64 `json:"residual"`
}

// FindInliers projects every anchor of fs through prop and keeps those whose
// nearest correspondence lies within radius. Results follow document order.
func FindInliers(fs *FeatureSet, prop Proposition, radius float64) []Inlier {
	var inliers []Inlier
	for _, p := range fs.Points {
		src := Point{X: p.X, Y: p.Y}
		projected := prop.Apply(src)

		best := -1
		bestDist := math.Inf(1)
		for i, fc := range p.Correspondences {
			if d := Distance(projected, Point{X: fc.X, Y: fc.Y}); d < bestDist {
				best, bestDist = i, d
			}
		}
		if best < 0 || bestDist > radius {
			continue
		}

		fc := p.Correspondences[best]
		inliers = append(inliers, Inlier{
			Point:          p.Name,
			Correspondence: fc.Name,
			Source:         src,
			Projected:      projected,
			Target:         Point{X: fc.X, Y: fc.Y},
			Residual:       bestDist,
		})
	}
	return inliers
}

// MeanResidual returns the average residual, 0 for no inliers
func MeanResidual(inliers []Inlier) float64 {
	if len(inliers) == 0 {
		return 0
	}
	residuals := make([]float64, len(inliers))
	for i, in := range inliers {
		residuals[i] = in.Residual
	}
	return stat.Mean(residuals, nil)
}
