package align

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Feature kinds, stored in the "kind" property
const (
	KindAnchor         = "anchor"
	KindCorrespondence = "correspondence"
	KindCluster        = "cluster"
	KindResidual       = "residual"
)

// ReportToFeatureCollection exports the anchors, the correspondences and, for
// every cluster of the report, its footprint in target space plus one
// residual line per inlier. Coordinates are in the feature set's units.
func ReportToFeatureCollection(fs *FeatureSet, r *Report, inlierRadius float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	bound := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{0, 0}}
	first := true
	extend := func(b orb.Bound) {
		if first {
			bound = b
			first = false
			return
		}
		bound = bound.Union(b)
	}

	if fs != nil {
		for _, p := range fs.Points {
			pt := orb.Point{p.X, p.Y}
			f := geojson.NewFeature(pt)
			f.Properties["kind"] = KindAnchor
			f.Properties["name"] = p.Name
			fc.Append(f)
			extend(pt.Bound())

			for _, c := range p.Correspondences {
				cp := orb.Point{c.X, c.Y}
				cf := geojson.NewFeature(cp)
				cf.Properties["kind"] = KindCorrespondence
				cf.Properties["point"] = p.Name
				cf.Properties["name"] = c.Name
				cf.Properties["power"] = c.Power
				fc.Append(cf)
				extend(cp.Bound())
			}
		}
	}

	if fs != nil && r != nil {
		for _, cl := range r.Clusters {
			inliers := FindInliers(fs, cl.Proposition, inlierRadius)
			if f := clusterFeature(cl, inliers); f != nil {
				fc.Append(f)
				extend(f.Geometry.Bound())
			}
			for _, in := range inliers {
				line := orb.LineString{
					{in.Projected.X, in.Projected.Y},
					{in.Target.X, in.Target.Y},
				}
				lf := geojson.NewFeature(line)
				lf.Properties["kind"] = KindResidual
				lf.Properties["cluster"] = cl.Index
				lf.Properties["point"] = in.Point
				lf.Properties["residual"] = in.Residual
				fc.Append(lf)
			}
		}
	}

	if !first {
		fc.BBox = geojson.NewBBox(bound)
	}
	return fc
}

// clusterFeature builds the footprint of a cluster: the convex hull of its
// inlier targets as a Polygon, or a MultiPoint when fewer than three distinct
// targets exist. Returns nil when there are no inliers.
func clusterFeature(cl Cluster, inliers []Inlier) *geojson.Feature {
	if len(inliers) == 0 {
		return nil
	}

	pts := make([]orb.Point, len(inliers))
	for i, in := range inliers {
		pts[i] = orb.Point{in.Target.X, in.Target.Y}
	}

	var geom orb.Geometry
	area := 0.0
	hull := convexHull(pts)
	if len(hull) >= 3 {
		ring := append(orb.Ring(hull), hull[0])
		poly := orb.Polygon{ring}
		area = planar.Area(poly)
		geom = poly
	} else {
		geom = orb.MultiPoint(pts)
	}

	p := cl.Proposition
	f := geojson.NewFeature(geom)
	f.ID = cl.Index
	f.Properties["kind"] = KindCluster
	f.Properties["index"] = cl.Index
	f.Properties["strength"] = cl.Strength
	f.Properties["translationX"] = p.Translation.X
	f.Properties["translationY"] = p.Translation.Y
	f.Properties["rotationDeg"] = p.RotationDeg()
	f.Properties["scale"] = p.Scale
	f.Properties["inliers"] = len(inliers)
	f.Properties["meanResidual"] = MeanResidual(inliers)
	f.Properties["area"] = area
	return f
}

// convexHull computes the convex hull of a set of 2D points using
// Andrew's monotone chain. Returns points in counter-clockwise order without
// repeating the first point. Collinear and duplicate points are dropped.
func convexHull(points []orb.Point) []orb.Point {
	sorted := make([]orb.Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})
	if len(sorted) < 3 {
		return sorted
	}

	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	n := len(sorted)
	hull := make([]orb.Point, 0, 2*n)
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := n - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}
