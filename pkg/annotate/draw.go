// Package annotate draws detection boxes and labels onto images.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/emergingrobotics/npudetect/pkg/detect"
	"github.com/emergingrobotics/npudetect/pkg/transform"
)

// Colours used for detection overlays
var (
	ColorBlue = color.RGBA{R: 0, G: 0, B: 255, A: 255}
	ColorRed  = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// Overlay style used by Detections
const (
	BoxThickness  = 3
	LabelFontSize = 10
	LabelOffsetY  = 20
)

// baseFontSize is the pixel size rendered at scale 1
const baseFontSize = 10

// Rectangle draws the outline of a w x h rectangle whose top-left corner
// is (x, y). The outline grows inwards by thickness pixels. Pixels outside
// the image are clipped.
func Rectangle(img draw.Image, x, y, w, h int, c color.Color, thickness int) {
	if w <= 0 || h <= 0 {
		return
	}
	thickness = max(1, thickness)
	bounds := img.Bounds()
	x2, y2 := x+w-1, y+h-1

	setPixel := func(px, py int) {
		if (image.Point{X: px, Y: py}).In(bounds) {
			img.Set(px, py, c)
		}
	}

	for t := 0; t < thickness; t++ {
		for px := x; px <= x2; px++ {
			setPixel(px, y+t)
			setPixel(px, y2-t)
		}
		for py := y; py <= y2; py++ {
			setPixel(x+t, py)
			setPixel(x2-t, py)
		}
	}
}

// Text draws s with its top-left corner at (x, y). size is the nominal
// glyph height in pixels; glyphs are scaled up by whole multiples of 10.
func Text(img draw.Image, s string, x, y int, c color.Color, size int) {
	if s == "" {
		return
	}
	face := basicfont.Face7x13
	scale := max(1, (size+baseFontSize/2)/baseFontSize)

	// Render unscaled into an alpha mask, then blit scaled
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	height := (metrics.Ascent + metrics.Descent).Ceil()
	width := font.MeasureString(face, s).Ceil()

	mask := image.NewAlpha(image.Rect(0, 0, width, height))
	d := &font.Drawer{
		Dst:  mask,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.P(0, ascent),
	}
	d.DrawString(s)

	bounds := img.Bounds()
	for my := 0; my < height; my++ {
		for mx := 0; mx < width; mx++ {
			if mask.AlphaAt(mx, my).A < 0x80 {
				continue
			}
			for sy := 0; sy < scale; sy++ {
				for sx := 0; sx < scale; sx++ {
					p := image.Point{X: x + mx*scale + sx, Y: y + my*scale + sy}
					if p.In(bounds) {
						img.Set(p.X, p.Y, c)
					}
				}
			}
		}
	}
}

// Label formats the overlay caption for a detection, e.g. "person 87.5%"
func Label(name string, prop float32) string {
	return fmt.Sprintf("%s %.1f%%", name, prop*100)
}

// Detections draws a box and caption for every result and returns the
// number drawn
func Detections(img draw.Image, results *detect.ResultList, labels *transform.Labels) int {
	n := results.Len()
	for i := 0; i < n; i++ {
		r := results.At(i)
		x1, y1 := r.Box.Left, r.Box.Top

		Rectangle(img, x1, y1, r.Box.Width(), r.Box.Height(), ColorBlue, BoxThickness)
		Text(img, Label(labels.Name(r.ClassID), r.Prop), x1, y1-LabelOffsetY, ColorRed, LabelFontSize)
	}
	return n
}
