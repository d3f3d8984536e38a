package align

import (
	"math"
	"testing"
)

const epsilon = 1e-10

// almostEqual checks if two floats are equal within epsilon tolerance
func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

// pointsEqual checks if two points are equal within epsilon tolerance
func pointsEqual(p1, p2 Point) bool {
	return almostEqual(p1.X, p2.X) && almostEqual(p1.Y, p2.Y)
}

func TestRotate(t *testing.T) {
	tests := []struct {
		name  string
		angle float64
		point Point
		want  Point
	}{
		{"zero angle", 0, Point{X: 3, Y: 4}, Point{X: 3, Y: 4}},
		{"quarter turn", math.Pi / 2, Point{X: 1, Y: 0}, Point{X: 0, Y: 1}},
		{"half turn", math.Pi, Point{X: 1, Y: 2}, Point{X: -1, Y: -2}},
		{"negative quarter turn", -math.Pi / 2, Point{X: 0, Y: 1}, Point{X: 1, Y: 0}},
		{"origin is fixed", 1.234, Point{}, Point{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rotate(tt.angle, tt.point)
			if !pointsEqual(got, tt.want) {
				t.Errorf("Rotate(%v, %v) = %v, want %v", tt.angle, tt.point, got, tt.want)
			}
		})
	}
}

func TestNormalizeAngle(t *testing.T) {
	tests := []struct {
		name  string
		input float64
		want  float64
	}{
		{"zero", 0, 0},
		{"already in range", 1, 1},
		{"pi stays pi", math.Pi, math.Pi},
		{"minus pi becomes pi", -math.Pi, math.Pi},
		{"three halves pi", 3 * math.Pi / 2, -math.Pi / 2},
		{"minus three halves pi", -3 * math.Pi / 2, math.Pi / 2},
		{"full turn", 2 * math.Pi, 0},
		{"several turns", 0.5 + 6*math.Pi, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeAngle(tt.input)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("NormalizeAngle(%v) = %v, want %v", tt.input, got, tt.want)
			}
			if got <= -math.Pi || got > math.Pi {
				t.Errorf("NormalizeAngle(%v) = %v, outside (-pi, pi]", tt.input, got)
			}
		})
	}
}

func TestProposition_Apply(t *testing.T) {
	p := Proposition{Translation: Point{X: 10, Y: 20}, Rotation: math.Pi / 2, Scale: 2}
	got := p.Apply(Point{X: 1, Y: 0})
	want := Point{X: 10, Y: 22}
	if !pointsEqual(got, want) {
		t.Errorf("Apply() = %v, want %v", got, want)
	}

	if got := IdentityProposition().Apply(Point{X: 7, Y: -3}); !pointsEqual(got, Point{X: 7, Y: -3}) {
		t.Errorf("identity Apply() = %v", got)
	}
}

func TestSimilarityFromPairs(t *testing.T) {
	t.Run("rotation and scale", func(t *testing.T) {
		rot, scale, ok := similarityFromPairs(Point{X: 10, Y: 0}, Point{X: 0, Y: 20})
		if !ok {
			t.Fatal("expected a solution")
		}
		if !almostEqual(rot, math.Pi/2) || !almostEqual(scale, 2) {
			t.Errorf("got rotation %v scale %v, want pi/2 and 2", rot, scale)
		}
	})

	t.Run("zero source displacement", func(t *testing.T) {
		if _, _, ok := similarityFromPairs(Point{}, Point{X: 1}); ok {
			t.Error("expected rejection for zero source displacement")
		}
	})

	t.Run("zero target displacement", func(t *testing.T) {
		if _, _, ok := similarityFromPairs(Point{X: 1}, Point{}); ok {
			t.Error("expected rejection for zero target displacement")
		}
	})
}

func TestCentroid(t *testing.T) {
	if got := Centroid(nil); got != (Point{}) {
		t.Errorf("Centroid(nil) = %v", got)
	}
	got := Centroid([]Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}})
	if !pointsEqual(got, Point{X: 5, Y: 5}) {
		t.Errorf("Centroid() = %v, want (5, 5)", got)
	}
}

func TestNewCorrespondence_PhaseRotation(t *testing.T) {
	tests := []struct {
		name       string
		vecX, vecY float64
		want       float64
	}{
		{"aligned with x axis", 1, 0, 0},
		{"negative y", 0, -1, math.Pi / 2},
		{"positive y", 0, 1, -math.Pi / 2},
		{"magnitude ignored", 5, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCorrespondence("c", 0, 0, 1, tt.vecX, tt.vecY)
			if !almostEqual(c.PhaseRotation, tt.want) {
				t.Errorf("PhaseRotation = %v, want %v", c.PhaseRotation, tt.want)
			}
		})
	}
}
