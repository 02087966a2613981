package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/emergingrobotics/npudetect/pkg/detect"
	"github.com/emergingrobotics/npudetect/pkg/imagebuf"
)

// ErrFakeInfer is returned by FakeDetector when inference is set to fail
var ErrFakeInfer = errors.New("fake infer error")

// FakeDetector implements detect.Detector for testing
type FakeDetector struct {
	mu          sync.Mutex
	results     []detect.Result
	failOnInfer bool
	failWidths  map[int]bool
	detects     int
	closes      int
	closed      bool
	lastSize    [2]int
}

// NewFakeDetector creates a fake detector that returns results for every image
func NewFakeDetector(results ...detect.Result) *FakeDetector {
	return &FakeDetector{
		results:    results,
		failWidths: make(map[int]bool),
	}
}

// Detect simulates running inference
func (d *FakeDetector) Detect(ctx context.Context, img *imagebuf.Buffer) (*detect.ResultList, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, detect.ErrClosed
	}
	if img == nil {
		return nil, detect.ErrNilImage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img.Released() {
		return nil, imagebuf.ErrReleased
	}

	d.detects++
	d.lastSize = [2]int{img.Width, img.Height}

	if d.failOnInfer || d.failWidths[img.Width] {
		return nil, ErrFakeInfer
	}

	list := detect.NewResultList(detect.MaxResults)
	for _, r := range d.results {
		if err := list.Add(r); err != nil {
			break
		}
	}
	return list, nil
}

// Close simulates releasing the model
func (d *FakeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closes++
	d.closed = true
	return nil
}

// SetFailOnInfer makes every Detect() fail
func (d *FakeDetector) SetFailOnInfer(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOnInfer = fail
}

// FailForWidth makes Detect() fail for images of the given width
func (d *FakeDetector) FailForWidth(width int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWidths[width] = true
}

// DetectCount returns number of Detect calls that reached inference
func (d *FakeDetector) DetectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detects
}

// CloseCount returns number of Close calls
func (d *FakeDetector) CloseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// LastSize returns the width and height of the last image seen
func (d *FakeDetector) LastSize() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSize[0], d.lastSize[1]
}

// RecordingAllocator wraps the heap allocator and counts allocations and
// frees so tests can check buffer ownership
type RecordingAllocator struct {
	mu     sync.Mutex
	allocs int
	frees  int
}

// Name returns the allocator name
func (a *RecordingAllocator) Name() string { return "recording" }

// Alloc allocates size bytes on the heap
func (a *RecordingAllocator) Alloc(size int) (imagebuf.Memory, error) {
	mem, err := imagebuf.HeapAllocator{}.Alloc(size)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.allocs++
	a.mu.Unlock()
	return &recordedMemory{Memory: mem, owner: a}, nil
}

// Allocs returns number of successful allocations
func (a *RecordingAllocator) Allocs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocs
}

// Frees returns number of frees
func (a *RecordingAllocator) Frees() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frees
}

// Outstanding returns allocations not yet freed
func (a *RecordingAllocator) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocs - a.frees
}

type recordedMemory struct {
	imagebuf.Memory
	owner *RecordingAllocator
}

func (m *recordedMemory) Free() error {
	m.owner.mu.Lock()
	m.owner.frees++
	m.owner.mu.Unlock()
	return m.Memory.Free()
}
