package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roadscan/internal/catalog"
	"roadscan/internal/domain"
	"roadscan/internal/ports"
)

// Recorder turns raw detections into records and persists one image's batch
// atomically.
type Recorder struct {
	catalog *catalog.Catalog
	repo    ports.DetectionRepository
	now     func() time.Time
}

func NewRecorder(c *catalog.Catalog, repo ports.DetectionRepository) *Recorder {
	return &Recorder{catalog: c, repo: repo, now: time.Now}
}

// Record builds one record per raw detection, all sharing geotag, imageRef
// and timestamp. With persist set and a non-empty batch, the records are
// written in a single transaction; otherwise nothing is stored.
func (r *Recorder) Record(ctx context.Context, raws []domain.RawDetection, geotag *domain.Geotag, imageRef string, persist bool) ([]domain.DetectionRecord, error) {
	ts := r.now().UTC()
	records := make([]domain.DetectionRecord, 0, len(raws))
	for _, raw := range raws {
		rec, err := domain.NewDetectionRecord(ts, geotag, imageRef, r.catalog.Resolve(raw.ClassID, raw.Label), raw)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if !persist || len(records) == 0 {
		return records, nil
	}
	if err := r.persist(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *Recorder) persist(ctx context.Context, records []domain.DetectionRecord) (err error) {
	tx, err := r.repo.Begin(ctx)
	if err != nil {
		return asPersistence(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	for _, rec := range records {
		if err = tx.Add(ctx, rec); err != nil {
			return asPersistence(err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return asPersistence(err)
	}
	return nil
}

func asPersistence(err error) error {
	if errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
}
