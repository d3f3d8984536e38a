package align

import (
	"errors"
	"math"
)

var (
	// ErrPointNotFound is returned when a mapping point name is not registered.
	ErrPointNotFound = errors.New("mapping point not found")

	// ErrDuplicatePoint is returned when a mapping point name is registered twice.
	ErrDuplicatePoint = errors.New("mapping point already registered")

	// ErrInvalidPower is returned for a correspondence whose power is negative
	// or NaN.
	ErrInvalidPower = errors.New("correspondence power must be non-negative")
)

// Point represents a 2D coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p + q
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

// Sub returns p - q
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Scale returns p scaled by f
func (p Point) Scale(f float64) Point {
	return Point{X: p.X * f, Y: p.Y * f}
}

// Length returns the Euclidean length of p taken as a vector
func (p Point) Length() float64 {
	return math.Hypot(p.X, p.Y)
}

// Proposition is a candidate global similarity transform.
// A source point s maps to Translation + Scale*Rotate(Rotation, s).
type Proposition struct {
	Translation Point   `json:"translation"`
	Rotation    float64 `json:"rotation"` // radians, kept in (-pi, pi]
	Scale       float64 `json:"scale"`
}

// IdentityProposition returns the transform that leaves points unchanged
func IdentityProposition() Proposition {
	return Proposition{Scale: 1}
}

// Apply maps a source point through the proposition
func (p Proposition) Apply(src Point) Point {
	return p.Translation.Add(Rotate(p.Rotation, src).Scale(p.Scale))
}

// RotationDeg returns the rotation in degrees
func (p Proposition) RotationDeg() float64 {
	return p.Rotation * 180 / math.Pi
}

// Correspondence is one candidate target location for a source anchor.
// Power is the matching confidence; PhaseVec is a 2-vector whose phase
// encodes an independently estimated local rotation.
type Correspondence struct {
	Name          string  `json:"name"`
	Target        Point   `json:"target"`
	Power         float64 `json:"power"`
	PhaseVec      Point   `json:"phaseVec"`
	PhaseRotation float64 `json:"phaseRotation"`
}

// NewCorrespondence builds a correspondence and caches its phase rotation
func NewCorrespondence(name string, x, y, power, vecX, vecY float64) Correspondence {
	return Correspondence{
		Name:          name,
		Target:        Point{X: x, Y: y},
		Power:         power,
		PhaseVec:      Point{X: vecX, Y: vecY},
		PhaseRotation: -math.Atan2(vecY, vecX),
	}
}
