package transform

import (
	"fmt"
	"math"
)

// Default post-processing thresholds for YOLO11 detection heads
const (
	DefaultBoxThreshold = 0.25
	DefaultNMSThreshold = 0.45
	DefaultNumClasses   = 80
	DefaultMaxResults   = 128
)

// Layout describes how a YOLO output tensor is ordered
type Layout int

const (
	// LayoutChannelsFirst is [1, 4+C, N], the default ultralytics export
	LayoutChannelsFirst Layout = iota
	// LayoutAnchorsFirst is [1, N, 4+C]
	LayoutAnchorsFirst
)

// PostProcessConfig holds YOLO post-processing parameters
type PostProcessConfig struct {
	NumClasses   int
	BoxThreshold float32
	NMSThreshold float32
	MaxResults   int
	Layout       Layout
}

// DefaultPostProcessConfig returns the thresholds used by the YOLO11 demo
func DefaultPostProcessConfig() PostProcessConfig {
	return PostProcessConfig{
		NumClasses:   DefaultNumClasses,
		BoxThreshold: DefaultBoxThreshold,
		NMSThreshold: DefaultNMSThreshold,
		MaxResults:   DefaultMaxResults,
		Layout:       LayoutChannelsFirst,
	}
}

// AnchorCount returns the number of anchor points for a square input of
// the given size with strides 8, 16 and 32
func AnchorCount(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := inputSize / stride
		n += side * side
	}
	return n
}

// DecodeYOLO decodes a raw YOLO detection head. Each anchor carries a box
// as (cx, cy, w, h) in input pixels followed by one score per class; the
// best class is kept if its score reaches cfg.BoxThreshold.
func DecodeYOLO(out []float32, anchors int, cfg PostProcessConfig) ([]Detection, error) {
	stride := 4 + cfg.NumClasses
	if anchors <= 0 || cfg.NumClasses <= 0 || len(out) < stride*anchors {
		return nil, fmt.Errorf("YOLO output has %d values, expected %d x %d", len(out), stride, anchors)
	}

	at := func(anchor, channel int) float32 {
		if cfg.Layout == LayoutAnchorsFirst {
			return out[anchor*stride+channel]
		}
		return out[channel*anchors+anchor]
	}

	var detections []Detection
	for i := 0; i < anchors; i++ {
		bestClass := -1
		bestScore := float32(math.Inf(-1))
		for c := 0; c < cfg.NumClasses; c++ {
			if s := at(i, 4+c); s > bestScore {
				bestScore = s
				bestClass = c
			}
		}
		if bestScore < cfg.BoxThreshold {
			continue
		}

		cx, cy, w, h := at(i, 0), at(i, 1), at(i, 2), at(i, 3)
		detections = append(detections, Detection{
			BBox: BBox{
				XMin: cx - w/2,
				YMin: cy - h/2,
				XMax: cx + w/2,
				YMax: cy + h/2,
			},
			Score:   bestScore,
			ClassID: bestClass,
		})
	}

	return detections, nil
}

// PostProcess decodes a YOLO head, applies NMS, maps boxes back through
// the letterbox and keeps at most cfg.MaxResults detections by score
func PostProcess(out []float32, anchors int, lb LetterboxInfo, cfg PostProcessConfig) ([]Detection, error) {
	decoded, err := DecodeYOLO(out, anchors, cfg)
	if err != nil {
		return nil, err
	}

	kept := ApplyNms(decoded, cfg.NMSThreshold)
	for i := range kept {
		kept[i].BBox = lb.Restore(kept[i].BBox)
	}

	return Limit(kept, cfg.MaxResults), nil
}
