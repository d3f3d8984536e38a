package align

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type anchor struct {
	name       string
	x, y       float64
	tx, ty     float64
	power, rot float64
}

func newTestCorrelator(t *testing.T, params Params, anchors []anchor) *Correlator {
	t.Helper()
	c := NewCorrelatorWithParams(params)
	for _, a := range anchors {
		require.NoError(t, c.AddMappingPoint(a.name, a.x, a.y))
		vx, vy := phaseVec(a.rot)
		require.NoError(t, c.AddCorrespondence(a.name, a.name+"'", a.tx, a.ty, a.power, vx, vy))
	}
	return c
}

// two anchors seen through translation (50,50), no rotation, unit scale
var plantedAnchors = []anchor{
	{name: "p0", x: 0, y: 0, tx: 50, ty: 50, power: 1},
	{name: "p1", x: 100, y: 0, tx: 150, ty: 50, power: 1},
}

// clusterA: translation (50,50), rotation 0, scale 1
var clusterA = []anchor{
	{name: "a0", x: 0, y: 0, tx: 50, ty: 50, power: 1},
	{name: "a1", x: 100, y: 0, tx: 150, ty: 50, power: 1},
	{name: "a2", x: 0, y: 100, tx: 50, ty: 150, power: 1},
}

// clusterB: translation (1100,1100), rotation pi, scale 1. Opposed to
// clusterA in rotation, so neither cluster pulls the other's consensus.
var clusterB = []anchor{
	{name: "b0", x: 500, y: 500, tx: 600, ty: 600, power: 0.8, rot: math.Pi},
	{name: "b1", x: 600, y: 500, tx: 500, ty: 600, power: 0.8, rot: math.Pi},
	{name: "b2", x: 500, y: 600, tx: 600, ty: 500, power: 0.8, rot: math.Pi},
}

func twoClusters() []anchor {
	all := make([]anchor, 0, len(clusterA)+len(clusterB))
	all = append(all, clusterA...)
	return append(all, clusterB...)
}

// angleBetween returns the unsigned angular distance between two rotations
func angleBetween(a, b float64) float64 {
	return math.Abs(NormalizeAngle(a - b))
}

func TestCorrelator_AddMappingPoint(t *testing.T) {
	c := NewCorrelator()
	require.NoError(t, c.AddMappingPoint("a", 1, 2))
	require.NoError(t, c.AddMappingPoint("b", 3, 4))

	err := c.AddMappingPoint("a", 5, 6)
	require.ErrorIs(t, err, ErrDuplicatePoint)

	mp, ok := c.MappingPoint("a")
	require.True(t, ok)
	assert.Equal(t, Point{X: 1, Y: 2}, mp.Coords, "duplicate must not overwrite")

	points := c.MappingPoints()
	require.Len(t, points, 2)
	assert.Equal(t, "a", points[0].Name)
	assert.Equal(t, "b", points[1].Name)

	_, ok = c.MappingPoint("missing")
	assert.False(t, ok)
}

func TestCorrelator_AddCorrespondence(t *testing.T) {
	c := NewCorrelator()
	require.NoError(t, c.AddMappingPoint("a", 0, 0))

	require.NoError(t, c.AddCorrespondence("a", "x", 10, 20, 0.7, 0, -1))
	err := c.AddCorrespondence("nope", "x", 10, 20, 0.7, 0, -1)
	require.ErrorIs(t, err, ErrPointNotFound)

	mp, _ := c.MappingPoint("a")
	got, ok := mp.Correspondence("x")
	require.True(t, ok)
	assert.Equal(t, Point{X: 10, Y: 20}, got.Target)
	assert.Equal(t, 0.7, got.Power)
	assert.InDelta(t, math.Pi/2, got.PhaseRotation, 1e-12)

	_, ok = mp.Correspondence("y")
	assert.False(t, ok)
}

func TestCorrelator_AddCorrespondence_InvalidPower(t *testing.T) {
	c := NewCorrelator()
	require.NoError(t, c.AddMappingPoint("a", 0, 0))

	for _, power := range []float64{-0.5, math.Inf(-1), math.NaN()} {
		err := c.AddCorrespondence("a", "bad", 10, 20, power, 1, 0)
		assert.ErrorIs(t, err, ErrInvalidPower, "power %v", power)
	}
	mp, _ := c.MappingPoint("a")
	assert.Empty(t, mp.Correspondences)

	assert.NoError(t, c.AddCorrespondence("a", "zero", 10, 20, 0, 1, 0))
}

func TestCorrelator_CreatePropositions_NegativeMinStrength(t *testing.T) {
	anchors := []anchor{
		{name: "p0", x: 0, y: 0, tx: 50, ty: 50, power: 0},
		{name: "p1", x: 100, y: 0, tx: 150, ty: 50, power: 1},
	}
	c := newTestCorrelator(t, DefaultParams(), anchors)
	c.CreatePropositions(-10)

	require.Equal(t, 2, c.MappingCount())
	for _, mp := range c.MappingPoints() {
		for _, m := range mp.Mappings {
			assert.GreaterOrEqual(t, m.Strength, 0.0)
		}
	}
	assert.Empty(t, c.Extract(0, -10), "zero-strength mappings never form a cluster")
}

func TestCorrelator_CreatePropositions(t *testing.T) {
	c := newTestCorrelator(t, DefaultParams(), plantedAnchors)
	c.CreatePropositions(0)

	for _, name := range []string{"p0", "p1"} {
		n, err := c.NumberOfPropositions(name)
		require.NoError(t, err)
		assert.Equal(t, 1, n, name)

		prop, ok := c.GetProposition(name, 0)
		require.True(t, ok)
		assert.InDelta(t, 50.0, prop.Translation.X, 1e-9)
		assert.InDelta(t, 50.0, prop.Translation.Y, 1e-9)
		assert.InDelta(t, 0.0, prop.Rotation, 1e-9)
		assert.InDelta(t, 1.0, prop.Scale, 1e-9)
	}
	assert.Equal(t, 2, c.MappingCount())

	mp, _ := c.MappingPoint("p1")
	m := mp.Mappings[0]
	assert.Equal(t, [2]int{1, 0}, m.Points)
	assert.Equal(t, Point{X: 100, Y: 0}, m.Sources[0])
	assert.Equal(t, 100.0, m.Strength)
	assert.Equal(t, m.Strength, m.InitialStrength)

	_, ok := c.GetProposition("p0", 1)
	assert.False(t, ok)
	_, ok = c.GetProposition("p0", -1)
	assert.False(t, ok)
	_, ok = c.GetProposition("ghost", 0)
	assert.False(t, ok)

	_, err := c.NumberOfPropositions("ghost")
	assert.ErrorIs(t, err, ErrPointNotFound)
}

func TestCorrelator_CreatePropositions_TargetsAreCopied(t *testing.T) {
	c := newTestCorrelator(t, DefaultParams(), plantedAnchors)
	c.CreatePropositions(0)

	mp, _ := c.MappingPoint("p0")
	mp.Correspondences[0].Target = Point{X: -1, Y: -1}

	assert.Equal(t, Point{X: 50, Y: 50}, mp.Mappings[0].Targets[0].Target)
}

func TestCorrelator_CreatePropositions_MinStrength(t *testing.T) {
	weak := []anchor{
		{name: "p0", x: 0, y: 0, tx: 50, ty: 50, power: 0.5},
		{name: "p1", x: 100, y: 0, tx: 150, ty: 50, power: 0.5},
	}

	c := newTestCorrelator(t, DefaultParams(), weak)
	c.CreatePropositions(30)
	assert.Equal(t, 0, c.MappingCount())

	c = newTestCorrelator(t, DefaultParams(), weak)
	c.CreatePropositions(25)
	assert.Equal(t, 2, c.MappingCount(), "strength equal to the minimum is kept")
}

func TestCorrelator_CreatePropositions_ScaleRejection(t *testing.T) {
	tests := []struct {
		name string
		tx   float64
		want int
	}{
		{"too large", 160, 0},
		{"too small", 140, 0},
		{"within window", 154, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anchors := []anchor{
				{name: "p0", x: 0, y: 0, tx: 50, ty: 50, power: 1},
				{name: "p1", x: 100, y: 0, tx: tt.tx, ty: 50, power: 1},
			}
			c := newTestCorrelator(t, DefaultParams(), anchors)
			c.CreatePropositions(0)
			assert.Equal(t, tt.want, c.MappingCount())
		})
	}
}

func TestCorrelator_CreatePropositions_CrossClusterPhaseRejected(t *testing.T) {
	c := newTestCorrelator(t, DefaultParams(), twoClusters())
	c.CreatePropositions(0)

	// Each point pairs only with the two other members of its cluster
	for _, mp := range c.MappingPoints() {
		assert.Len(t, mp.Mappings, 2, mp.Name)
	}
	assert.Equal(t, 12, c.MappingCount())
}

func TestFindBestMapping_Empty(t *testing.T) {
	t.Run("no points", func(t *testing.T) {
		c := NewCorrelator()
		c.CreatePropositions(0)
		s, prop := c.FindBestMapping()
		assert.Equal(t, 0.0, s)
		assert.Equal(t, Proposition{}, prop)
	})

	t.Run("points without correspondences", func(t *testing.T) {
		c := NewCorrelator()
		require.NoError(t, c.AddMappingPoint("a", 0, 0))
		require.NoError(t, c.AddMappingPoint("b", 10, 0))
		c.CreatePropositions(0)
		s, _ := c.FindBestMapping()
		assert.Equal(t, 0.0, s)
	})

	t.Run("every pair rejected", func(t *testing.T) {
		anchors := []anchor{
			{name: "p0", x: 0, y: 0, tx: 50, ty: 50, power: 1},
			{name: "p1", x: 100, y: 0, tx: 300, ty: 50, power: 1},
		}
		c := newTestCorrelator(t, DefaultParams(), anchors)
		c.CreatePropositions(0)
		s, prop := c.FindBestMapping()
		assert.Equal(t, 0.0, s)
		assert.Equal(t, Proposition{}, prop)
	})
}

func TestFindBestMapping_PlantedTransform(t *testing.T) {
	c := newTestCorrelator(t, DefaultParams(), plantedAnchors)
	c.CreatePropositions(0)

	strength, prop := c.FindBestMapping()

	assert.Equal(t, 200.0, strength)
	assert.Equal(t, Proposition{Translation: Point{X: 50, Y: 50}, Rotation: 0, Scale: 1}, prop)
}

func TestFindBestMapping_ConsensusPasses(t *testing.T) {
	params := DefaultParams()
	params.ConsensusPasses = 3

	c := newTestCorrelator(t, params, plantedAnchors)
	c.CreatePropositions(0)

	strength, prop := c.FindBestMapping()
	assert.Equal(t, 200.0, strength)
	assert.InDelta(t, 50.0, prop.Translation.X, 1e-9)
	assert.InDelta(t, 50.0, prop.Translation.Y, 1e-9)
}

func TestFindBestMapping_Deterministic(t *testing.T) {
	run := func() (float64, Proposition) {
		c := newTestCorrelator(t, DefaultParams(), twoClusters())
		c.CreatePropositions(0)
		return c.FindBestMapping()
	}

	s1, p1 := run()
	s2, p2 := run()
	assert.Equal(t, s1, s2)
	assert.Equal(t, p1, p2)
}

func TestFindBestMapping_RotationNearPi(t *testing.T) {
	// Source points seen through a half turn around the origin
	anchors := []anchor{
		{name: "r0", x: 10, y: 10, tx: -10, ty: -10, power: 1, rot: math.Pi},
		{name: "r1", x: 110, y: 10, tx: -110, ty: -10, power: 1, rot: math.Pi},
		{name: "r2", x: 10, y: 110, tx: -10, ty: -110, power: 1, rot: math.Pi},
	}
	c := newTestCorrelator(t, DefaultParams(), anchors)
	c.CreatePropositions(0)
	require.Equal(t, 6, c.MappingCount())

	strength, prop := c.FindBestMapping()

	assert.Greater(t, strength, 290.0)
	assert.Less(t, angleBetween(prop.Rotation, math.Pi), 0.5*math.Pi/180)
	assert.InDelta(t, 0.0, prop.Translation.X, 1.0)
	assert.InDelta(t, 0.0, prop.Translation.Y, 1.0)
}

func TestWeightedConsensus_CircularRotation(t *testing.T) {
	c := NewCorrelator()
	require.NoError(t, c.AddMappingPoint("a", 0, 0))
	require.NoError(t, c.AddMappingPoint("b", 0, 0))

	at := func(rot float64) *Mapping {
		return &Mapping{
			Targets:         [2]Correspondence{{Target: Point{}}},
			Proposition:     Proposition{Rotation: rot, Scale: 1},
			Strength:        10,
			InitialStrength: 10,
		}
	}
	a, _ := c.MappingPoint("a")
	b, _ := c.MappingPoint("b")
	a.Mappings = []*Mapping{at(math.Pi - 0.01)}
	b.Mappings = []*Mapping{at(-math.Pi + 0.01)}

	got, weight := c.weightedConsensus(Proposition{Rotation: math.Pi, Scale: 1})

	assert.Greater(t, weight, 0.0)
	assert.Less(t, angleBetween(got.Rotation, math.Pi), 1e-9, "naive averaging would give 0")
	assert.InDelta(t, 1.0, got.Scale, 1e-12)
}

func TestFindBestMapping_DistinctClusters(t *testing.T) {
	c := newTestCorrelator(t, DefaultParams(), twoClusters())
	c.CreatePropositions(0)

	s1, t1 := c.FindBestMapping()
	assert.InDelta(t, 300.0, s1, 1e-6)
	assert.InDelta(t, 50.0, t1.Translation.X, 1.0)
	assert.InDelta(t, 50.0, t1.Translation.Y, 1.0)
	assert.Less(t, angleBetween(t1.Rotation, 0), 0.5*math.Pi/180)

	c.DiminishMappingsByProposition(t1)

	s2, t2 := c.FindBestMapping()
	assert.InDelta(t, 192.0, s2, 1e-6)
	assert.Less(t, s2, s1)
	assert.InDelta(t, 1100.0, t2.Translation.X, 1.0)
	assert.InDelta(t, 1100.0, t2.Translation.Y, 1.0)
	assert.Less(t, angleBetween(t2.Rotation, math.Pi), 0.5*math.Pi/180)
}

func TestCorrelator_DiminishAndReset(t *testing.T) {
	c := newTestCorrelator(t, DefaultParams(), twoClusters())
	c.CreatePropositions(0)

	initial := make(map[*Mapping]float64)
	for _, mp := range c.MappingPoints() {
		for _, m := range mp.Mappings {
			initial[m] = m.Strength
		}
	}

	firstStrength, firstProp := c.FindBestMapping()
	c.DiminishMappingsByProposition(firstProp)

	for m, before := range initial {
		assert.LessOrEqual(t, m.Strength, before)
		assert.GreaterOrEqual(t, m.Strength, 0.0)
	}

	// Second diminishment by the same proposition never raises anything
	after := make(map[*Mapping]float64)
	for m := range initial {
		after[m] = m.Strength
	}
	c.DiminishMappingsByProposition(firstProp)
	for m, prev := range after {
		assert.LessOrEqual(t, m.Strength, prev)
	}

	c.ResetDiminishments()
	for m, before := range initial {
		assert.Equal(t, before, m.Strength)
		assert.Equal(t, m.InitialStrength, m.Strength)
	}

	again, againProp := c.FindBestMapping()
	assert.Equal(t, firstStrength, again)
	assert.Equal(t, firstProp, againProp)
}
