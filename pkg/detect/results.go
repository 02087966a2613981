package detect

import (
	"math"

	"github.com/emergingrobotics/npudetect/pkg/transform"
)

// ToResultList converts post-processed detections into a bounded result
// list, dropping anything beyond MaxResults
func ToResultList(detections []transform.Detection) *ResultList {
	list := NewResultList(MaxResults)
	for _, d := range detections {
		r := Result{
			ClassID: d.ClassID,
			Prop:    d.Score,
			Box: Box{
				Left:   roundPixel(d.BBox.XMin),
				Top:    roundPixel(d.BBox.YMin),
				Right:  roundPixel(d.BBox.XMax),
				Bottom: roundPixel(d.BBox.YMax),
			},
		}
		if err := list.Add(r); err != nil {
			break
		}
	}
	return list
}

func roundPixel(v float32) int {
	return int(math.Round(float64(v)))
}
