package runner

// Stats accumulates inference timings over a run
type Stats struct {
	Processed int
	Failed    int
	TotalMs   int64
	MinMs     int64
	MaxMs     int64
}

// Add records a successful inference that took ms milliseconds
func (s *Stats) Add(ms int64) {
	if s.Processed == 0 || ms < s.MinMs {
		s.MinMs = ms
	}
	if ms > s.MaxMs {
		s.MaxMs = ms
	}
	s.Processed++
	s.TotalMs += ms
}

// Fail records an image that could not be loaded or inferred
func (s *Stats) Fail() {
	s.Failed++
}

// Average returns the mean inference time in milliseconds. ok is false
// when no image was processed.
func (s Stats) Average() (avg float64, ok bool) {
	if s.Processed == 0 {
		return 0, false
	}
	return float64(s.TotalMs) / float64(s.Processed), true
}
