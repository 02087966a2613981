package imagebuf

import "errors"

// Errors for image buffer operations
var (
	ErrReleased          = errors.New("imagebuf: buffer already released")
	ErrUnsupportedFormat = errors.New("imagebuf: unsupported image format")
	ErrEmptyImage        = errors.New("imagebuf: empty image")
	ErrZeroSize          = errors.New("imagebuf: allocation size cannot be zero")
	ErrDMAUnsupported    = errors.New("imagebuf: DMA heap allocation is not supported on this platform")
	ErrUnknownAllocator  = errors.New("imagebuf: unknown allocator")
)
