package transform

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// UnknownLabel is returned for class ids outside the label table
const UnknownLabel = "null"

// Labels maps class ids to names
type Labels struct {
	names []string
}

// NewLabels creates a label table from names
func NewLabels(names []string) *Labels {
	l := &Labels{names: make([]string, len(names))}
	copy(l.names, names)
	return l
}

// DefaultLabels returns the 80 COCO class names
func DefaultLabels() *Labels {
	return NewLabels(cocoLabels)
}

// LoadLabels reads one class name per line. Blank lines are skipped.
func LoadLabels(path string) (*Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening labels file: %w", err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading labels file: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return &Labels{names: names}, nil
}

// Name returns the class name for id, or UnknownLabel
func (l *Labels) Name(id int) string {
	if l == nil || id < 0 || id >= len(l.names) {
		return UnknownLabel
	}
	return l.names[id]
}

// Len returns the number of classes
func (l *Labels) Len() int {
	if l == nil {
		return 0
	}
	return len(l.names)
}

var cocoLabels = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck",
	"boat", "traffic light", "fire hydrant", "stop sign", "parking meter", "bench",
	"bird", "cat", "dog", "horse", "sheep", "cow", "elephant", "bear", "zebra",
	"giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase", "frisbee",
	"skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup",
	"fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch",
	"potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}
