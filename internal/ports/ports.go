package ports

import (
	"context"
	"io"
	"time"

	"roadscan/internal/domain"
)

// Detector finds road damage in a decoded image. Implementations are not
// assumed to be safe for concurrent use; see detector.Serialize.
type Detector interface {
	Detect(ctx context.Context, img domain.Image, cfg domain.DetectorConfig) ([]domain.RawDetection, error)
	Info() domain.DetectorInfo
}

// ImageIngestor decodes an upload and stores its canonical copy.
type ImageIngestor interface {
	Ingest(ctx context.Context, raw []byte) (img domain.Image, ref string, err error)
}

// StoredImage describes one file in the image store.
type StoredImage struct {
	Ref     string
	Size    int64
	ModTime time.Time
	// Pending is set until the upload that wrote the image has settled it.
	Pending bool
}

// ImageStore is an append-only content area keyed by generated references.
// Put leaves the image pending; Settle marks it as owned by a finished
// request.
type ImageStore interface {
	Put(ctx context.Context, data []byte) (ref string, err error)
	Settle(ctx context.Context, ref string) error
	Open(ctx context.Context, ref string) (io.ReadSeekCloser, StoredImage, error)
	Remove(ctx context.Context, ref string) error
	List(ctx context.Context) ([]StoredImage, error)
}

// EventPublisher fans committed batches out to other systems.
type EventPublisher interface {
	PublishDetections(ctx context.Context, records []domain.DetectionRecord) error
}

// Detections runs the ingest, detect, record pipeline.
type Detections interface {
	Detect(ctx context.Context, req domain.DetectRequest) (domain.DetectResult, error)
}

// History serves the read side and single-record maintenance.
type History interface {
	List(ctx context.Context, limit, offset int) (domain.Page, error)
	MapMarkers(ctx context.Context) ([]domain.DetectionRecord, error)
	Stats(ctx context.Context) (domain.Stats, error)
	Get(ctx context.Context, id string) (domain.DetectionRecord, error)
	Delete(ctx context.Context, id string) error
	UpdateNotes(ctx context.Context, id string, notes *string) error
}
