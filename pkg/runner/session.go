package runner

import (
	"sync"

	"github.com/emergingrobotics/npudetect/pkg/detect"
	"github.com/emergingrobotics/npudetect/pkg/transform"
)

// Session owns the detector and label table for the lifetime of a run
type Session struct {
	detector detect.Detector
	labels   *transform.Labels

	once     sync.Once
	closeErr error
}

// NewSession takes ownership of detector. labels may be nil, in which
// case every class is reported as transform.UnknownLabel.
func NewSession(detector detect.Detector, labels *transform.Labels) *Session {
	return &Session{detector: detector, labels: labels}
}

// Detector returns the session detector
func (s *Session) Detector() detect.Detector {
	return s.detector
}

// Label returns the name of a class id
func (s *Session) Label(classID int) string {
	return s.labels.Name(classID)
}

// Labels returns the label table
func (s *Session) Labels() *transform.Labels {
	return s.labels
}

// Teardown drops the label table and closes the detector. Only the first
// call does any work; later calls return the first result.
func (s *Session) Teardown() error {
	s.once.Do(func() {
		s.labels = nil
		if s.detector != nil {
			s.closeErr = s.detector.Close()
		}
	})
	return s.closeErr
}
