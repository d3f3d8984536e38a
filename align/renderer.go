package align

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// maxRasterSize caps either raster dimension
const maxRasterSize = 4000

var clusterPalette = []color.NRGBA{
	{0, 0, 139, 255},   // Dark blue
	{139, 0, 0, 255},   // Dark red
	{0, 100, 0, 255},   // Dark green
	{255, 140, 0, 255}, // Dark orange
	{128, 0, 128, 255}, // Purple
	{0, 128, 128, 255}, // Teal
}

var (
	correspondenceColor = color.RGBA{150, 150, 150, 255}
	backgroundColor     = color.RGBA{240, 240, 240, 255}
)

// ClusterColor returns the display color of the i'th cluster
func ClusterColor(i int) color.NRGBA {
	if i < 0 {
		i = -i
	}
	return clusterPalette[i%len(clusterPalette)]
}

// bounds is an axis-aligned box in target space
type bounds struct {
	minX, minY, maxX, maxY float64
}

func emptyBounds() bounds {
	return bounds{math.MaxFloat64, math.MaxFloat64, -math.MaxFloat64, -math.MaxFloat64}
}

func (b *bounds) extend(p Point) {
	b.minX = math.Min(b.minX, p.X)
	b.minY = math.Min(b.minY, p.Y)
	b.maxX = math.Max(b.maxX, p.X)
	b.maxY = math.Max(b.maxY, p.Y)
}

func (b bounds) valid() bool {
	return b.minX <= b.maxX && b.minY <= b.maxY
}

// overlayBounds covers every correspondence and every projected anchor of
// every cluster
func overlayBounds(fs *FeatureSet, r *Report) bounds {
	b := emptyBounds()
	if fs == nil {
		return b
	}
	for _, p := range fs.Points {
		for _, c := range p.Correspondences {
			b.extend(Point{X: c.X, Y: c.Y})
		}
	}
	if r != nil {
		for _, cl := range r.Clusters {
			for _, p := range fs.Points {
				b.extend(cl.Proposition.Apply(Point{X: p.X, Y: p.Y}))
			}
		}
	}
	return b
}

// OverlayRenderer draws a report over its feature set as a raster image:
// grey squares for correspondences, one colored circle per inlier anchor
// projection and a line from each projection to its matched target.
type OverlayRenderer struct {
	FeatureSet   *FeatureSet
	Report       *Report
	Scale        float64 // Pixels per target unit
	Padding      int
	InlierRadius float64
}

// NewOverlayRenderer creates a raster renderer with default settings
func NewOverlayRenderer(fs *FeatureSet, r *Report) *OverlayRenderer {
	return &OverlayRenderer{
		FeatureSet:   fs,
		Report:       r,
		Scale:        1.0,
		Padding:      40,
		InlierRadius: DefaultInlierRadius,
	}
}

// HasDrawableContent returns true if the feature set holds at least one
// correspondence.
func (r *OverlayRenderer) HasDrawableContent() bool {
	return hasCorrespondences(r.FeatureSet)
}

func hasCorrespondences(fs *FeatureSet) bool {
	if fs == nil {
		return false
	}
	for _, p := range fs.Points {
		if len(p.Correspondences) > 0 {
			return true
		}
	}
	return false
}

// Render draws the overlay
func (r *OverlayRenderer) Render() *image.RGBA {
	b := overlayBounds(r.FeatureSet, r.Report)
	if !b.valid() {
		b = bounds{}
	}

	scale := r.Scale
	if scale <= 0 {
		scale = 1
	}
	spanX, spanY := b.maxX-b.minX, b.maxY-b.minY
	if limit := float64(maxRasterSize - 2*r.Padding); spanX*scale > limit || spanY*scale > limit {
		scale = limit / math.Max(spanX, spanY)
	}

	width := int(spanX*scale) + 2*r.Padding + 1
	height := int(spanY*scale) + 2*r.Padding + 1

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, backgroundColor)
		}
	}

	toImage := func(p Point) (int, int) {
		return int(math.Round((p.X-b.minX)*scale)) + r.Padding,
			int(math.Round((p.Y-b.minY)*scale)) + r.Padding
	}

	if r.FeatureSet != nil {
		for _, p := range r.FeatureSet.Points {
			for _, c := range p.Correspondences {
				x, y := toImage(Point{X: c.X, Y: c.Y})
				drawSquare(img, x, y, 4, correspondenceColor)
			}
		}
	}

	if r.FeatureSet != nil && r.Report != nil {
		for _, cl := range r.Report.Clusters {
			col := nrgbaToRGBA(ClusterColor(cl.Index))
			for _, in := range FindInliers(r.FeatureSet, cl.Proposition, r.InlierRadius) {
				px, py := toImage(in.Projected)
				tx, ty := toImage(in.Target)
				drawLine(img, px, py, tx, ty, col)
				drawCircle(img, px, py, 4, col)
			}
		}
	}

	r.drawLegend(img)
	return img
}

// EncodePNG renders the overlay and writes it as PNG
func (r *OverlayRenderer) EncodePNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

// SavePNG renders the overlay to a PNG file
func (r *OverlayRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return r.EncodePNG(f)
}

// drawLegend lists the clusters in the top-left corner
func (r *OverlayRenderer) drawLegend(img *image.RGBA) {
	if r.Report == nil {
		return
	}
	y := 15
	for _, cl := range r.Report.Clusters {
		col := nrgbaToRGBA(ClusterColor(cl.Index))
		for dy := 0; dy < 12; dy++ {
			for dx := 0; dx < 12; dx++ {
				img.Set(10+dx, y+dy-10, col)
			}
		}
		label := fmt.Sprintf("#%d  s=%.1f  rot=%.1f", cl.Index, cl.Strength, cl.Proposition.RotationDeg())
		drawText(img, 28, y, label, color.RGBA{0, 0, 0, 255})
		y += 18
	}
}

// nrgbaToRGBA premultiplies alpha
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}

func inImage(img *image.RGBA, x, y int) bool {
	return image.Pt(x, y).In(img.Bounds())
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius && inImage(img, cx+dx, cy+dy) {
				img.SetRGBA(cx+dx, cy+dy, c)
			}
		}
	}
}

// drawSquare draws a filled square
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			if inImage(img, cx+dx, cy+dy) {
				img.SetRGBA(cx+dx, cy+dy, c)
			}
		}
	}
}

// drawLine draws a one pixel line (Bresenham)
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		if inImage(img, x0, y0) {
			img.SetRGBA(x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
