package align

import "math"

// Rotate rotates a point around the origin by angle radians (counter-clockwise)
func Rotate(angle float64, p Point) Point {
	cos := math.Cos(angle)
	sin := math.Sin(angle)
	return Point{
		X: cos*p.X - sin*p.Y,
		Y: sin*p.X + cos*p.Y,
	}
}

// NormalizeAngle normalizes an angle in radians to the range (-pi, pi].
func NormalizeAngle(radians float64) float64 {
	radians = math.Mod(radians, 2*math.Pi)
	if radians <= -math.Pi {
		radians += 2 * math.Pi
	} else if radians > math.Pi {
		radians -= 2 * math.Pi
	}
	return radians
}

// Distance calculates Euclidean distance between two points
func Distance(p1, p2 Point) float64 {
	return p2.Sub(p1).Length()
}

// Centroid calculates the center of mass of a set of points
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}
	n := float64(len(points))
	return Point{X: sumX / n, Y: sumY / n}
}

// similarityFromPairs computes the rotation and uniform scale that carry the
// source displacement onto the target displacement.
// ok is false when either displacement has zero length.
func similarityFromPairs(srcDelta, tgtDelta Point) (rotation, scale float64, ok bool) {
	srcLen := srcDelta.Length()
	tgtLen := tgtDelta.Length()
	if srcLen == 0 || tgtLen == 0 {
		return 0, 0, false
	}

	scale = tgtLen / srcLen

	srcAngle := math.Atan2(srcDelta.Y, srcDelta.X)
	tgtAngle := math.Atan2(tgtDelta.Y, tgtDelta.X)
	rotation = NormalizeAngle(tgtAngle - srcAngle)

	return rotation, scale, true
}

// rotationAgreement is the (1 + cos) / 2 weight of two rotations, 1 when they
// coincide and 0 when they are opposite
func rotationAgreement(a, b float64) float64 {
	return (1 + math.Cos(a-b)) / 2
}

// distanceDecay is DistFactor / (DistFactor + d)
func distanceDecay(d float64) float64 {
	return DistFactor / (DistFactor + d)
}
