package detect

import (
	"context"

	"github.com/emergingrobotics/npudetect/pkg/imagebuf"
)

// MaxResults is the capacity of a ResultList returned by a Detector
const MaxResults = 128

// Box is an axis-aligned bounding box in source image pixels
type Box struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Width returns the width of the box
func (b Box) Width() int {
	return b.Right - b.Left
}

// Height returns the height of the box
func (b Box) Height() int {
	return b.Bottom - b.Top
}

// Result is a single detected object
type Result struct {
	ClassID int     `json:"class_id"`
	Prop    float32 `json:"prop"`
	Box     Box     `json:"box"`
}

// ResultList is a bounded list of detections. The zero value has no
// capacity; use NewResultList.
type ResultList struct {
	items    []Result
	capacity int
}

// NewResultList creates an empty list holding at most capacity results
func NewResultList(capacity int) *ResultList {
	if capacity < 0 {
		capacity = 0
	}
	return &ResultList{
		items:    make([]Result, 0, capacity),
		capacity: capacity,
	}
}

// Add appends a result, failing once the list is at capacity
func (l *ResultList) Add(r Result) error {
	if len(l.items) >= l.capacity {
		return ErrResultListFull
	}
	l.items = append(l.items, r)
	return nil
}

// Len returns the number of results
func (l *ResultList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// Cap returns the capacity of the list
func (l *ResultList) Cap() int {
	if l == nil {
		return 0
	}
	return l.capacity
}

// Full reports whether no more results can be added
func (l *ResultList) Full() bool {
	return l.Len() >= l.Cap()
}

// At returns the i-th result
func (l *ResultList) At(i int) Result {
	return l.items[i]
}

// Results returns a copy of the results
func (l *ResultList) Results() []Result {
	if l == nil {
		return nil
	}
	out := make([]Result, len(l.items))
	copy(out, l.items)
	return out
}

// Reset empties the list, keeping its capacity
func (l *ResultList) Reset() {
	l.items = l.items[:0]
}

// Detector runs object detection on image buffers. A Detector owns its
// runtime resources until Close is called; it must not be used afterwards.
type Detector interface {
	// Detect runs the model on img and returns the detections in img's
	// pixel coordinates
	Detect(ctx context.Context, img *imagebuf.Buffer) (*ResultList, error)

	// Close releases the model and its runtime resources
	Close() error
}
