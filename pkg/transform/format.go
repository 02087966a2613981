package transform

import "image"

// ImageToNCHW writes img as normalised [0, 1] float32 planes (R, G, B) into
// dst, which must hold 3*w*h values
func ImageToNCHW(img *image.NRGBA, dst []float32) {
	bounds := img.Bounds()
	height, width := bounds.Dy(), bounds.Dx()
	plane := height * width

	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			src := x * 4
			dstIdx := y*width + x
			dst[dstIdx] = float32(row[src]) / 255.0
			dst[plane+dstIdx] = float32(row[src+1]) / 255.0
			dst[2*plane+dstIdx] = float32(row[src+2]) / 255.0
		}
	}
}
