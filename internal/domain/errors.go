package domain

import "errors"

// Error kinds. Adapters and services wrap these with fmt.Errorf("%w: ...")
// and callers match them with errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidImage = errors.New("invalid image")
	ErrModelFailure = errors.New("model failure")
	ErrPersistence  = errors.New("persistence error")
	ErrNotFound     = errors.New("not found")
)

// Kind returns the sentinel err wraps, or nil for unclassified errors.
func Kind(err error) error {
	for _, k := range []error{ErrInvalidInput, ErrInvalidImage, ErrModelFailure, ErrPersistence, ErrNotFound} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
