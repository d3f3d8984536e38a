package align

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// VectorRenderer renders a report over its feature set as vector graphics
type VectorRenderer struct {
	FeatureSet   *FeatureSet
	Report       *Report
	Padding      float64           // Padding in target units
	Resolution   canvas.Resolution // PNG resolution; canvas units are target units (default: 1 px per unit)
	GridSpacing  float64           // Grid line spacing in target units; 0 disables
	MarkerRadius float64           // Radius of correspondence and anchor markers
	InlierRadius float64
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(fs *FeatureSet, r *Report) *VectorRenderer {
	return &VectorRenderer{
		FeatureSet:   fs,
		Report:       r,
		Padding:      20,
		Resolution:   canvas.DPMM(1),
		GridSpacing:  100,
		MarkerRadius: 3,
		InlierRadius: DefaultInlierRadius,
	}
}

// HasDrawableContent returns true if the feature set holds at least one
// correspondence.
func (r *VectorRenderer) HasDrawableContent() bool {
	return hasCorrespondences(r.FeatureSet)
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// size returns the drawing bounds and the canvas size
func (r *VectorRenderer) size() (bounds, float64, float64) {
	b := overlayBounds(r.FeatureSet, r.Report)
	if !b.valid() {
		b = bounds{}
	}
	return b, (b.maxX - b.minX) + 2*r.Padding, (b.maxY - b.minY) + 2*r.Padding
}

// RenderToSVG writes the overlay as an SVG to the provided writer
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	b, width, height := r.size()
	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, b, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the overlay as a PNG to the provided writer
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	b, width, height := r.size()
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, b, width, height)
	return png.Encode(w, rast)
}

func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, b bounds, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(p Point) (float64, float64) {
		return (p.X - b.minX) + r.Padding, (p.Y - b.minY) + r.Padding
	}

	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.5
		gridStyle.Dashes = []float64{4.0, 4.0}

		for x := math.Ceil(b.minX/r.GridSpacing) * r.GridSpacing; x <= b.maxX; x += r.GridSpacing {
			renderer.RenderPath(r.line(toCanvas, Point{X: x, Y: b.minY}, Point{X: x, Y: b.maxY}), gridStyle, canvas.Identity)
		}
		for y := math.Ceil(b.minY/r.GridSpacing) * r.GridSpacing; y <= b.maxY; y += r.GridSpacing {
			renderer.RenderPath(r.line(toCanvas, Point{X: b.minX, Y: y}, Point{X: b.maxX, Y: y}), gridStyle, canvas.Identity)
		}
	}

	var clusters []Cluster
	if r.Report != nil && r.FeatureSet != nil {
		clusters = r.Report.Clusters
	}
	inliers := make([][]Inlier, len(clusters))
	for i, cl := range clusters {
		inliers[i] = FindInliers(r.FeatureSet, cl.Proposition, r.InlierRadius)
	}

	// Cluster footprints underneath everything else
	for i, cl := range clusters {
		pts := make([]orb.Point, len(inliers[i]))
		for j, in := range inliers[i] {
			pts[j] = orb.Point{in.Target.X, in.Target.Y}
		}
		hull := convexHull(pts)
		if len(hull) < 3 {
			continue
		}
		fill := ClusterColor(cl.Index)
		fill.A = 60
		hullStyle := canvas.DefaultStyle
		hullStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(fill)}
		hullStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

		cp := &canvas.Path{}
		for j, p := range hull {
			cx, cy := toCanvas(Point{X: p[0], Y: p[1]})
			if j == 0 {
				cp.MoveTo(cx, cy)
			} else {
				cp.LineTo(cx, cy)
			}
		}
		cp.Close()
		renderer.RenderPath(cp, hullStyle, canvas.Identity)
	}

	if r.FeatureSet != nil {
		for _, p := range r.FeatureSet.Points {
			for _, c := range p.Correspondences {
				grey := uint8(200 - 150*math.Min(1, math.Max(0, c.Power)))
				style := canvas.DefaultStyle
				style.Fill = canvas.Paint{Color: color.RGBA{grey, grey, grey, 255}}
				style.Stroke = canvas.Paint{Color: canvas.Transparent}
				cx, cy := toCanvas(Point{X: c.X, Y: c.Y})
				renderer.RenderPath(canvas.Circle(r.MarkerRadius).Translate(cx, cy), style, canvas.Identity)
			}
		}
	}

	for i, cl := range clusters {
		col := nrgbaToRGBA(ClusterColor(cl.Index))

		residualStyle := canvas.DefaultStyle
		residualStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		residualStyle.Stroke = canvas.Paint{Color: col}
		residualStyle.StrokeWidth = 1.0

		anchorStyle := canvas.DefaultStyle
		anchorStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		anchorStyle.Stroke = canvas.Paint{Color: col}
		anchorStyle.StrokeWidth = 1.5

		for _, in := range inliers[i] {
			renderer.RenderPath(r.line(toCanvas, in.Projected, in.Target), residualStyle, canvas.Identity)
			cx, cy := toCanvas(in.Projected)
			renderer.RenderPath(canvas.Circle(2*r.MarkerRadius).Translate(cx, cy), anchorStyle, canvas.Identity)
		}
	}
}

func (r *VectorRenderer) line(toCanvas func(Point) (float64, float64), from, to Point) *canvas.Path {
	p := &canvas.Path{}
	x1, y1 := toCanvas(from)
	x2, y2 := toCanvas(to)
	p.MoveTo(x1, y1)
	p.LineTo(x2, y2)
	return p
}
