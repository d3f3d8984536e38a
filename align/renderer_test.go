package align

import (
	"bytes"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestOverlayRenderer_HasDrawableContent(t *testing.T) {
	r := NewOverlayRenderer(nil, nil)
	if r.HasDrawableContent() {
		t.Fatalf("expected no drawable content without a feature set")
	}

	r.FeatureSet = &FeatureSet{Points: []FeaturePoint{{Name: "p"}}}
	if r.HasDrawableContent() {
		t.Fatalf("expected no drawable content when no point has correspondences")
	}

	fs, err := ParseFeatureSetFile(twoClustersPath)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r.FeatureSet = fs
	if !r.HasDrawableContent() {
		t.Fatalf("expected drawable content")
	}
}

func TestOverlayRenderer_Render(t *testing.T) {
	fs, err := ParseFeatureSetFile(twoClustersPath)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	img := NewOverlayRenderer(fs, fixedReport()).Render()

	// x spans 50..1100, y spans 50..1100.125 across targets and projections
	b := img.Bounds()
	if b.Dx() != 1131 || b.Dy() != 1131 {
		t.Fatalf("unexpected image size %dx%d", b.Dx(), b.Dy())
	}

	if got := img.RGBAAt(0, b.Dy()-1); got != backgroundColor {
		t.Errorf("expected background in the bottom-left corner, got %v", got)
	}

	// a2 projects onto (50, 150) under the first cluster
	want := nrgbaToRGBA(ClusterColor(0))
	if got := img.RGBAAt(40, 140); got != want {
		t.Errorf("expected cluster color at projected anchor, got %v", got)
	}
}

func TestOverlayRenderer_ClampsSize(t *testing.T) {
	fs, err := ParseFeatureSetFile(twoClustersPath)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	r := NewOverlayRenderer(fs, fixedReport())
	r.Scale = 50
	b := r.Render().Bounds()
	if b.Dx() > maxRasterSize+1 || b.Dy() > maxRasterSize+1 {
		t.Errorf("image %dx%d exceeds the raster cap", b.Dx(), b.Dy())
	}
}

func TestOverlayRenderer_Empty(t *testing.T) {
	img := NewOverlayRenderer(nil, nil).Render()
	if img.Bounds().Dx() != 81 || img.Bounds().Dy() != 81 {
		t.Errorf("expected padding-only image, got %v", img.Bounds())
	}
}

func TestOverlayRenderer_SavePNG(t *testing.T) {
	fs, err := ParseFeatureSetFile(twoClustersPath)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	path := filepath.Join(t.TempDir(), "overlay.png")
	if err := NewOverlayRenderer(fs, fixedReport()).SavePNG(path); err != nil {
		t.Fatalf("SavePNG: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := png.Decode(f); err != nil {
		t.Errorf("saved file is not a PNG: %v", err)
	}
}

func TestDrawLine(t *testing.T) {
	var buf bytes.Buffer
	r := NewOverlayRenderer(nil, nil)
	if err := r.EncodePNG(&buf); err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}

	img := r.Render()
	red := color.RGBA{255, 0, 0, 255}
	drawLine(img, 10, 10, 20, 15, red)
	if img.RGBAAt(10, 10) != red || img.RGBAAt(20, 15) != red {
		t.Errorf("line endpoints not drawn")
	}
	drawLine(img, 30, 30, 25, 60, red)
	if img.RGBAAt(30, 30) != red || img.RGBAAt(25, 60) != red {
		t.Errorf("steep line endpoints not drawn")
	}
}

func TestClusterColor(t *testing.T) {
	if ClusterColor(0) != ClusterColor(len(clusterPalette)) {
		t.Errorf("palette should wrap")
	}
	if ClusterColor(-1) != ClusterColor(1) {
		t.Errorf("negative index should mirror")
	}
}
