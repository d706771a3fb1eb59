// Package detector holds backend-independent Detector decorators.
package detector

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"roadscan/internal/domain"
	"roadscan/internal/ports"
)

// Serialized bounds the number of in-flight calls to the wrapped detector.
type Serialized struct {
	next ports.Detector
	sem  *semaphore.Weighted
}

var _ ports.Detector = (*Serialized)(nil)

// Serialize wraps next so at most n Detect calls run at once. n < 1 means 1.
func Serialize(next ports.Detector, n int64) *Serialized {
	if n < 1 {
		n = 1
	}
	return &Serialized{next: next, sem: semaphore.NewWeighted(n)}
}

func (s *Serialized) Detect(ctx context.Context, img domain.Image, cfg domain.DetectorConfig) ([]domain.RawDetection, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: waiting for detector: %v", domain.ErrModelFailure, err)
	}
	defer s.sem.Release(1)
	return s.next.Detect(ctx, img, cfg)
}

func (s *Serialized) Info() domain.DetectorInfo { return s.next.Info() }
