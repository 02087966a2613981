package imagebuf

// DMAAllocator allocates pixel memory from a Linux DMA heap so the buffer
// can be handed to an accelerator by file descriptor without a copy
type DMAAllocator struct {
	HeapPath string
}

// Name returns the allocator name
func (a *DMAAllocator) Name() string { return AllocatorDMA }
