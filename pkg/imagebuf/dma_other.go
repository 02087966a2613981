//go:build !linux

package imagebuf

// Alloc always fails outside Linux
func (a *DMAAllocator) Alloc(size int) (Memory, error) {
	return nil, ErrDMAUnsupported
}
