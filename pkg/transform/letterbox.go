package transform

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// LetterboxPadColor is the gray used by YOLO exports to pad letterboxed input
var LetterboxPadColor = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// LetterboxInfo records how a source image was placed in the model input
type LetterboxInfo struct {
	Scale float32
	PadX  int
	PadY  int
	SrcW  int
	SrcH  int
}

// Letterbox resizes img to fit a size x size square, keeping the aspect
// ratio and centring it on a gray background
func Letterbox(img image.Image, size int) (*image.NRGBA, LetterboxInfo) {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	scale := min(float32(size)/float32(srcW), float32(size)/float32(srcH))
	newW := max(1, int(float32(srcW)*scale+0.5))
	newH := max(1, int(float32(srcH)*scale+0.5))

	info := LetterboxInfo{
		Scale: scale,
		PadX:  (size - newW) / 2,
		PadY:  (size - newH) / 2,
		SrcW:  srcW,
		SrcH:  srcH,
	}

	dst := imaging.New(size, size, LetterboxPadColor)
	var resized image.Image = img
	if newW != srcW || newH != srcH {
		resized = imaging.Resize(img, newW, newH, imaging.Linear)
	}
	dst = imaging.Paste(dst, resized, image.Pt(info.PadX, info.PadY))

	return dst, info
}

// Restore maps a box from model input coordinates back to the source
// image, clamped to its bounds
func (li LetterboxInfo) Restore(b BBox) BBox {
	if li.Scale <= 0 {
		return b
	}
	w, h := float32(li.SrcW), float32(li.SrcH)
	px, py := float32(li.PadX), float32(li.PadY)
	return BBox{
		XMin: clamp((b.XMin-px)/li.Scale, 0, w),
		YMin: clamp((b.YMin-py)/li.Scale, 0, h),
		XMax: clamp((b.XMax-px)/li.Scale, 0, w),
		YMax: clamp((b.YMax-py)/li.Scale, 0, h),
	}
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
