// Package imagebuf holds decoded images in caller-owned pixel buffers.
//
// Pixel memory comes from an Allocator so the same loading code can place
// images in ordinary heap memory or in DMA-heap memory shared with an NPU.
// A Buffer must be released exactly once with Release.
package imagebuf

import (
	"errors"
	"fmt"
	"sync"
)

// Format is the pixel layout of a Buffer
type Format int

const (
	FormatRGB888 Format = iota
	FormatRGBA8888
	FormatGray8
)

// BytesPerPixel returns the number of bytes per pixel for the format
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA8888:
		return 4
	case FormatGray8:
		return 1
	default:
		return 3
	}
}

func (f Format) String() string {
	switch f {
	case FormatRGB888:
		return "RGB888"
	case FormatRGBA8888:
		return "RGBA8888"
	case FormatGray8:
		return "GRAY8"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Buffer is an image held in allocator-provided memory
type Buffer struct {
	Width  int
	Height int
	Format Format

	mem      Memory
	mu       sync.Mutex
	released bool
}

// NewBuffer allocates an uninitialised buffer of the given geometry
func NewBuffer(alloc Allocator, width, height int, format Format) (*Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyImage, width, height)
	}
	size := width * height * format.BytesPerPixel()
	mem, err := alloc.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("allocating %d bytes with %s allocator: %w", size, alloc.Name(), err)
	}
	return &Buffer{
		Width:  width,
		Height: height,
		Format: format,
		mem:    mem,
	}, nil
}

// Size returns the pixel data size in bytes
func (b *Buffer) Size() int {
	return b.Width * b.Height * b.Format.BytesPerPixel()
}

// Stride returns the number of bytes per row
func (b *Buffer) Stride() int {
	return b.Width * b.Format.BytesPerPixel()
}

// Data returns the pixel data. It is nil once the buffer is released.
func (b *Buffer) Data() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil
	}
	return b.mem.Bytes()[:b.Size()]
}

// Fd returns the file descriptor backing the buffer, or -1 for heap memory
func (b *Buffer) Fd() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return -1
	}
	return b.mem.Fd()
}

// BeginCPUAccess makes device writes visible to the CPU. Every call must be
// followed by EndCPUAccess once the CPU is done with the pixels.
func (b *Buffer) BeginCPUAccess() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrReleased
	}
	return b.mem.BeginCPUAccess()
}

// EndCPUAccess flushes CPU writes so a device can read the pixels
func (b *Buffer) EndCPUAccess() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrReleased
	}
	return b.mem.EndCPUAccess()
}

// CPUAccess runs fn between BeginCPUAccess and EndCPUAccess. The access is
// ended even when fn fails.
func (b *Buffer) CPUAccess(fn func(img *RGBImage) error) error {
	if err := b.BeginCPUAccess(); err != nil {
		return fmt.Errorf("syncing image for CPU: %w", err)
	}
	var fnErr error
	img, err := b.Image()
	if err != nil {
		fnErr = err
	} else {
		fnErr = fn(img)
	}
	if err := b.EndCPUAccess(); err != nil {
		return errors.Join(fnErr, fmt.Errorf("syncing image for device: %w", err))
	}
	return fnErr
}

// Released reports whether Release has been called
func (b *Buffer) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// Release frees the pixel memory. A second call returns ErrReleased and
// does not free again.
func (b *Buffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrReleased
	}
	b.released = true
	if err := b.mem.Free(); err != nil {
		return fmt.Errorf("freeing image memory: %w", err)
	}
	return nil
}
