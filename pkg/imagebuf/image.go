package imagebuf

import (
	"image"
	"image/color"
)

// RGBImage is a draw.Image view over an RGB888 Buffer. Writes go straight
// to the buffer's memory; pixels outside the bounds are ignored.
type RGBImage struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle
}

// Image returns a drawable view of the buffer. Only RGB888 buffers are
// supported.
func (b *Buffer) Image() (*RGBImage, error) {
	if b.Format != FormatRGB888 {
		return nil, ErrUnsupportedFormat
	}
	data := b.Data()
	if data == nil {
		return nil, ErrReleased
	}
	return &RGBImage{
		Pix:    data,
		Stride: b.Stride(),
		Rect:   image.Rect(0, 0, b.Width, b.Height),
	}, nil
}

func (p *RGBImage) ColorModel() color.Model { return color.RGBAModel }

func (p *RGBImage) Bounds() image.Rectangle { return p.Rect }

func (p *RGBImage) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return color.RGBA{}
	}
	i := p.PixOffset(x, y)
	return color.RGBA{R: p.Pix[i], G: p.Pix[i+1], B: p.Pix[i+2], A: 0xff}
}

func (p *RGBImage) Set(x, y int, c color.Color) {
	if !(image.Point{X: x, Y: y}.In(p.Rect)) {
		return
	}
	i := p.PixOffset(x, y)
	c1 := color.RGBAModel.Convert(c).(color.RGBA)
	p.Pix[i] = c1.R
	p.Pix[i+1] = c1.G
	p.Pix[i+2] = c1.B
}

// PixOffset returns the index of the first byte of the pixel at (x, y)
func (p *RGBImage) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*3
}
