package ports

import (
	"context"

	"roadscan/internal/domain"
)

// DetectionTx is an explicit batch write boundary: records added to it become
// visible together on Commit or not at all.
type DetectionTx interface {
	Add(ctx context.Context, rec domain.DetectionRecord) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DetectionRepository stores detection records. Implementations wrap storage
// failures in domain.ErrPersistence and missing ids in domain.ErrNotFound.
type DetectionRepository interface {
	Begin(ctx context.Context) (DetectionTx, error)

	// Page returns records newest first together with the unfiltered total.
	Page(ctx context.Context, limit, offset int) (records []domain.DetectionRecord, total int64, err error)
	// Geotagged returns every record with both coordinates, newest first.
	Geotagged(ctx context.Context) ([]domain.DetectionRecord, error)
	Get(ctx context.Context, id string) (domain.DetectionRecord, error)
	// Summary aggregates count and confidence sum per damage code.
	Summary(ctx context.Context) ([]domain.CodeCount, error)

	Delete(ctx context.Context, id string) error
	UpdateNotes(ctx context.Context, id string, notes *string) error
}

// ImageReferences answers whether any record still points at a stored image.
type ImageReferences interface {
	ImageReferenced(ctx context.Context, ref string) (bool, error)
}
