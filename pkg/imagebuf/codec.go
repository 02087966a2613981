package imagebuf

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
)

// JPEGQuality is the quality used when writing JPEG files
const JPEGQuality = 95

// Read decodes the image at path into RGB888 memory from alloc and syncs
// it for device access. The caller owns the returned buffer.
func Read(path string, alloc Allocator) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}

	return FromImage(img, alloc)
}

// FromImage copies img into a new RGB888 buffer from alloc. Alpha is
// dropped and colour values are kept unpremultiplied.
func FromImage(img image.Image, alloc Allocator) (*Buffer, error) {
	bounds := img.Bounds()
	buf, err := NewBuffer(alloc, bounds.Dx(), bounds.Dy(), FormatRGB888)
	if err != nil {
		return nil, err
	}

	err = buf.CPUAccess(func(dst *RGBImage) error {
		copyPixels(dst, img)
		return nil
	})
	if err != nil {
		buf.Release()
		return nil, err
	}
	return buf, nil
}

func copyPixels(dst *RGBImage, src image.Image) {
	bounds := src.Bounds()

	// Fast path for the formats the decoders usually return
	if rgba, ok := src.(*image.RGBA); ok {
		for y := 0; y < bounds.Dy(); y++ {
			srcRow := rgba.Pix[rgba.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
			dstRow := dst.Pix[y*dst.Stride:]
			for x := 0; x < bounds.Dx(); x++ {
				dstRow[x*3] = srcRow[x*4]
				dstRow[x*3+1] = srcRow[x*4+1]
				dstRow[x*3+2] = srcRow[x*4+2]
			}
		}
		return
	}

	// PNGs with an alpha channel decode to NRGBA
	if nrgba, ok := src.(*image.NRGBA); ok {
		for y := 0; y < bounds.Dy(); y++ {
			srcRow := nrgba.Pix[nrgba.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
			dstRow := dst.Pix[y*dst.Stride:]
			for x := 0; x < bounds.Dx(); x++ {
				dstRow[x*3] = srcRow[x*4]
				dstRow[x*3+1] = srcRow[x*4+1]
				dstRow[x*3+2] = srcRow[x*4+2]
			}
		}
		return
	}

	// At().RGBA() is premultiplied, so go through NRGBA to keep the
	// straight colour of translucent pixels
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			c := color.NRGBAModel.Convert(src.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			i := y*dst.Stride + x*3
			dst.Pix[i] = c.R
			dst.Pix[i+1] = c.G
			dst.Pix[i+2] = c.B
		}
	}
}

// Write encodes buf to path, choosing the encoder from the file extension
func Write(path string, buf *Buffer) error {
	if buf.Released() {
		return ErrReleased
	}

	encode, err := encoderFor(path)
	if err != nil {
		return err
	}

	// The encoders have fast paths for *image.RGBA
	var rgba *image.RGBA
	err = buf.CPUAccess(func(src *RGBImage) error {
		rgba = image.NewRGBA(src.Bounds())
		draw.Draw(rgba, rgba.Bounds(), src, image.Point{}, draw.Src)
		return nil
	})
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	if err := encode(f, rgba); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

type encodeFunc func(f *os.File, img image.Image) error

func encoderFor(path string) (encodeFunc, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return func(f *os.File, img image.Image) error {
			return jpeg.Encode(f, img, &jpeg.Options{Quality: JPEGQuality})
		}, nil
	case ".png":
		return func(f *os.File, img image.Image) error {
			return png.Encode(f, img)
		}, nil
	case ".bmp":
		return func(f *os.File, img image.Image) error {
			return bmp.Encode(f, img)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}
