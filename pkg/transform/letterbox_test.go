//go:build unit

package transform

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestLetterboxLandscape(t *testing.T) {
	src := solidImage(200, 100, color.RGBA{R: 255, A: 255})

	dst, info := Letterbox(src, 64)

	if dst.Bounds().Dx() != 64 || dst.Bounds().Dy() != 64 {
		t.Fatalf("letterbox size = %v, expected 64x64", dst.Bounds())
	}
	if info.Scale != 0.32 {
		t.Errorf("Scale = %f, expected 0.32", info.Scale)
	}
	if info.PadX != 0 || info.PadY != 16 {
		t.Errorf("pad = (%d, %d), expected (0, 16)", info.PadX, info.PadY)
	}

	if got := dst.NRGBAAt(32, 2); got != LetterboxPadColor {
		t.Errorf("padding pixel = %v, expected %v", got, LetterboxPadColor)
	}
	if got := dst.NRGBAAt(32, 32); got.R < 250 || got.G > 5 {
		t.Errorf("content pixel = %v, expected red", got)
	}
}

func TestLetterboxRestoreRoundTrip(t *testing.T) {
	info := LetterboxInfo{Scale: 0.5, PadX: 0, PadY: 80, SrcW: 1280, SrcH: 960}

	got := info.Restore(BBox{XMin: 100, YMin: 130, XMax: 200, YMax: 230})

	want := BBox{XMin: 200, YMin: 100, XMax: 400, YMax: 300}
	if got != want {
		t.Errorf("Restore = %+v, expected %+v", got, want)
	}
}

func TestLetterboxRestoreClamps(t *testing.T) {
	info := LetterboxInfo{Scale: 1, SrcW: 100, SrcH: 50}

	got := info.Restore(BBox{XMin: -10, YMin: -5, XMax: 120, YMax: 70})

	want := BBox{XMin: 0, YMin: 0, XMax: 100, YMax: 50}
	if got != want {
		t.Errorf("Restore = %+v, expected %+v", got, want)
	}
}

func TestImageToNCHW(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 0, G: 255, B: 102, A: 255})

	dst := make([]float32, 6)
	ImageToNCHW(img, dst)

	expected := []float32{1, 0, 0, 1, 0.2, 0.4}
	for i, e := range expected {
		if math.Abs(float64(dst[i]-e)) > 1e-6 {
			t.Errorf("dst[%d] = %f, expected %f", i, dst[i], e)
		}
	}
}
