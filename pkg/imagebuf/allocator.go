package imagebuf

import (
	"fmt"
	"strings"
)

// Memory is a block of pixel memory obtained from an Allocator
type Memory interface {
	Bytes() []byte
	// Fd returns the backing file descriptor, or -1 if there is none
	Fd() int
	// BeginCPUAccess and EndCPUAccess bracket every CPU read or write
	BeginCPUAccess() error
	EndCPUAccess() error
	Free() error
}

// Allocator provides pixel memory for image buffers
type Allocator interface {
	Alloc(size int) (Memory, error)
	Name() string
}

// Allocator kinds accepted by NewAllocator
const (
	AllocatorHeap = "heap"
	AllocatorDMA  = "dma"
)

// DefaultDMAHeapPath is the CMA heap exposed by Rockchip RV1106/RV1103 kernels
const DefaultDMAHeapPath = "/dev/rk_dma_heap/rk-dma-heap-cma"

// NewAllocator returns the allocator for kind. heapPath is only used by the
// DMA allocator; an empty path selects DefaultDMAHeapPath.
func NewAllocator(kind, heapPath string) (Allocator, error) {
	switch strings.ToLower(kind) {
	case "", AllocatorHeap:
		return HeapAllocator{}, nil
	case AllocatorDMA:
		if heapPath == "" {
			heapPath = DefaultDMAHeapPath
		}
		return &DMAAllocator{HeapPath: heapPath}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAllocator, kind)
	}
}

// HeapAllocator allocates pixel memory on the Go heap
type HeapAllocator struct{}

// Name returns the allocator name
func (HeapAllocator) Name() string { return AllocatorHeap }

// Alloc allocates size bytes
func (HeapAllocator) Alloc(size int) (Memory, error) {
	if size <= 0 {
		return nil, ErrZeroSize
	}
	return &heapMemory{data: make([]byte, size)}, nil
}

type heapMemory struct {
	data []byte
}

func (m *heapMemory) Bytes() []byte         { return m.data }
func (m *heapMemory) Fd() int               { return -1 }
func (m *heapMemory) BeginCPUAccess() error { return nil }
func (m *heapMemory) EndCPUAccess() error   { return nil }

func (m *heapMemory) Free() error {
	m.data = nil
	return nil
}
