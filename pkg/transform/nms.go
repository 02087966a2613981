package transform

import "sort"

// BBox is a bounding box in pixel coordinates
type BBox struct {
	XMin, YMin, XMax, YMax float32
}

// Detection is a decoded detection before it is handed to callers
type Detection struct {
	BBox    BBox
	Score   float32
	ClassID int
}

// Width returns the width of the bounding box
func (b BBox) Width() float32 {
	return b.XMax - b.XMin
}

// Height returns the height of the bounding box
func (b BBox) Height() float32 {
	return b.YMax - b.YMin
}

// Area returns the area of the bounding box
func (b BBox) Area() float32 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// SortDetectionsByScore sorts detections by score in descending order
func SortDetectionsByScore(detections []Detection) []Detection {
	sorted := make([]Detection, len(detections))
	copy(sorted, detections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	return sorted
}

// FilterByScore filters detections by minimum score threshold
func FilterByScore(detections []Detection, threshold float32) []Detection {
	var filtered []Detection
	for _, d := range detections {
		if d.Score >= threshold {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

// ApplyNms applies per-class non-maximum suppression. The result is
// sorted by score.
func ApplyNms(detections []Detection, iouThreshold float32) []Detection {
	sorted := SortDetectionsByScore(detections)
	var kept []Detection
	suppressed := make([]bool, len(sorted))

	for i, d := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, d)

		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].ClassID != d.ClassID {
				continue
			}
			if CalculateIou(d.BBox, sorted[j].BBox) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}

// Limit keeps at most n detections
func Limit(detections []Detection, n int) []Detection {
	if n >= 0 && len(detections) > n {
		return detections[:n]
	}
	return detections
}

// CalculateIou calculates the Intersection over Union of two bounding boxes
func CalculateIou(b1, b2 BBox) float32 {
	inter := BBox{
		XMin: max(b1.XMin, b2.XMin),
		YMin: max(b1.YMin, b2.YMin),
		XMax: min(b1.XMax, b2.XMax),
		YMax: min(b1.YMax, b2.YMax),
	}
	intersection := inter.Area()
	if intersection == 0 {
		return 0
	}

	union := b1.Area() + b2.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
