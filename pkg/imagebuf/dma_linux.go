//go:build linux

package imagebuf

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// IOCTL encoding, see include/uapi/asm-generic/ioctl.h
const (
	iocNrShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, iocType, nr, size uintptr) uintptr {
	return dir<<iocDirShift | iocType<<iocTypeShift | nr<<iocNrShift | size<<iocSizeShift
}

// dmaHeapAllocationData mirrors struct dma_heap_allocation_data
type dmaHeapAllocationData struct {
	Len       uint64
	Fd        uint32
	FdFlags   uint32
	HeapFlags uint64
}

// dmaBufSync mirrors struct dma_buf_sync
type dmaBufSync struct {
	Flags uint64
}

const (
	dmaBufSyncRead  = 1 << 0
	dmaBufSyncWrite = 2 << 0
	dmaBufSyncRW    = dmaBufSyncRead | dmaBufSyncWrite
	dmaBufSyncStart = 0 << 2
	dmaBufSyncEnd   = 1 << 2
)

var (
	ioctlDMAHeapAlloc = ioc(iocRead|iocWrite, 'H', 0, unsafe.Sizeof(dmaHeapAllocationData{}))
	ioctlDMABufSync   = ioc(iocWrite, 'b', 0, unsafe.Sizeof(dmaBufSync{}))
)

// Alloc allocates size bytes from the DMA heap and maps them
func (a *DMAAllocator) Alloc(size int) (Memory, error) {
	if size <= 0 {
		return nil, ErrZeroSize
	}

	heap, err := unix.Open(a.HeapPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening DMA heap %s: %w", a.HeapPath, err)
	}
	defer unix.Close(heap)

	req := dmaHeapAllocationData{
		Len:     uint64(size),
		FdFlags: unix.O_RDWR | unix.O_CLOEXEC,
	}
	if err := ioctl(heap, ioctlDMAHeapAlloc, unsafe.Pointer(&req)); err != nil {
		return nil, fmt.Errorf("DMA heap alloc of %d bytes: %w", size, err)
	}
	fd := int(req.Fd)

	// mmap needs a page multiple
	pageSize := os.Getpagesize()
	mapped := ((size + pageSize - 1) / pageSize) * pageSize

	data, err := unix.Mmap(fd, 0, mapped, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap DMA buffer: %w", err)
	}

	return &dmaMemory{
		fd:     fd,
		data:   data,
		size:   size,
		mapped: true,
	}, nil
}

type dmaMemory struct {
	mu     sync.Mutex
	fd     int
	data   []byte
	size   int
	mapped bool
}

func (m *dmaMemory) Bytes() []byte {
	return m.data[:m.size]
}

func (m *dmaMemory) Fd() int {
	return m.fd
}

func (m *dmaMemory) BeginCPUAccess() error {
	return m.sync(dmaBufSyncStart | dmaBufSyncRW)
}

func (m *dmaMemory) EndCPUAccess() error {
	return m.sync(dmaBufSyncEnd | dmaBufSyncRW)
}

func (m *dmaMemory) sync(flags uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mapped {
		return fmt.Errorf("DMA buffer not mapped")
	}
	req := dmaBufSync{Flags: flags}
	return ioctl(m.fd, ioctlDMABufSync, unsafe.Pointer(&req))
}

// Replaced in tests
var (
	munmap  = unix.Munmap
	closeFd = unix.Close
)

// Free unmaps the buffer and closes its fd. The fd is closed even when
// munmap fails.
func (m *dmaMemory) Free() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var unmapErr, closeErr error
	if m.mapped {
		if err := munmap(m.data); err != nil {
			unmapErr = fmt.Errorf("munmap DMA buffer: %w", err)
		}
		m.mapped = false
		m.data = nil
	}
	if m.fd >= 0 {
		if err := closeFd(m.fd); err != nil {
			closeErr = fmt.Errorf("closing DMA buffer fd: %w", err)
		}
		m.fd = -1
	}
	return errors.Join(unmapErr, closeErr)
}

func ioctl(fd int, cmd uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), cmd, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
