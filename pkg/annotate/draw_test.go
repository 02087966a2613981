//go:build unit

package annotate

import (
	"image"
	"image/color"
	"testing"

	"github.com/emergingrobotics/npudetect/pkg/detect"
	"github.com/emergingrobotics/npudetect/pkg/transform"
)

func countColor(img *image.RGBA, c color.RGBA) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) == c {
				n++
			}
		}
	}
	return n
}

func TestRectangleOutline(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))

	Rectangle(img, 2, 2, 10, 6, ColorBlue, 1)

	// Perimeter of a 10x6 one pixel outline
	if got := countColor(img, ColorBlue); got != 2*10+2*6-4 {
		t.Errorf("outline pixels = %d, expected %d", got, 2*10+2*6-4)
	}
	if img.RGBAAt(5, 4) == ColorBlue {
		t.Error("interior should not be painted")
	}
	if img.RGBAAt(2, 2) != ColorBlue || img.RGBAAt(11, 7) != ColorBlue {
		t.Error("corners should be painted")
	}
}

func TestRectangleThickness(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))

	Rectangle(img, 0, 0, 10, 10, ColorBlue, 3)

	if img.RGBAAt(2, 5) != ColorBlue {
		t.Error("third inner column should be painted")
	}
	if img.RGBAAt(3, 5) == ColorBlue {
		t.Error("fourth inner column should not be painted")
	}
}

func TestRectangleClipped(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))

	// Must not panic
	Rectangle(img, -5, -5, 30, 30, ColorBlue, 3)
	Rectangle(img, 3, 3, 0, 5, ColorBlue, 3)
}

func TestTextDrawsPixels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 30))

	Text(img, "cat", 2, 2, ColorRed, LabelFontSize)

	if countColor(img, ColorRed) == 0 {
		t.Error("expected text pixels to be drawn")
	}
}

func TestTextScales(t *testing.T) {
	small := image.NewRGBA(image.Rect(0, 0, 200, 80))
	large := image.NewRGBA(image.Rect(0, 0, 200, 80))

	Text(small, "A", 0, 0, ColorRed, 10)
	Text(large, "A", 0, 0, ColorRed, 20)

	if got, want := countColor(large, ColorRed), 4*countColor(small, ColorRed); got != want {
		t.Errorf("scaled pixels = %d, expected %d", got, want)
	}
}

func TestTextAboveImageIsClipped(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 50))

	Text(img, "person 99.0%", 0, -20, ColorRed, LabelFontSize)
}

func TestLabel(t *testing.T) {
	if got := Label("person", 0.8765); got != "person 87.7%" {
		t.Errorf("Label = %q, expected %q", got, "person 87.7%")
	}
}

func TestDetections(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	results := detect.NewResultList(detect.MaxResults)
	results.Add(detect.Result{ClassID: 0, Prop: 0.9, Box: detect.Box{Left: 20, Top: 40, Right: 80, Bottom: 120}})
	results.Add(detect.Result{ClassID: 16, Prop: 0.5, Box: detect.Box{Left: 100, Top: 100, Right: 150, Bottom: 180}})

	n := Detections(img, results, transform.DefaultLabels())

	if n != 2 {
		t.Errorf("drew %d detections, expected 2", n)
	}
	if img.RGBAAt(20, 40) != ColorBlue || img.RGBAAt(100, 100) != ColorBlue {
		t.Error("expected box corners to be blue")
	}
	if countColor(img, ColorRed) == 0 {
		t.Error("expected label pixels")
	}
}
