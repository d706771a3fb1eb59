package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"roadscan/internal/domain"
	"roadscan/internal/observability"
	"roadscan/internal/ports"
)

// Service runs ingest, detect and record for one upload.
type Service struct {
	ingestor  ports.ImageIngestor
	detector  ports.Detector
	recorder  *Recorder
	images    ports.ImageStore
	publisher ports.EventPublisher
	metrics   *observability.Metrics
	log       *slog.Logger
	cfg       domain.DetectorConfig
}

var _ ports.Detections = (*Service)(nil)

type Option func(*Service)

// WithPublisher fans committed batches out; publish errors are logged only.
func WithPublisher(p ports.EventPublisher) Option { return func(s *Service) { s.publisher = p } }

func WithMetrics(m *observability.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func New(ingestor ports.ImageIngestor, detector ports.Detector, recorder *Recorder, images ports.ImageStore, opts ...Option) *Service {
	s := &Service{
		ingestor: ingestor,
		detector: detector,
		recorder: recorder,
		images:   images,
		log:      slog.Default(),
		cfg:      domain.DefaultDetectorConfig,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "detection")
	return s
}

func (s *Service) Detect(ctx context.Context, req domain.DetectRequest) (res domain.DetectResult, err error) {
	defer func() { s.metrics.ObserveDetect(outcome(err)) }()

	if len(req.Image) == 0 {
		return res, fmt.Errorf("%w: no image provided", domain.ErrInvalidInput)
	}

	img, ref, err := s.ingestor.Ingest(ctx, req.Image)
	if err != nil {
		return res, err
	}

	started := time.Now()
	raws, err := s.detector.Detect(ctx, img, s.cfg)
	if err != nil {
		s.discardImage(ref, err)
		if !errors.Is(err, domain.ErrModelFailure) {
			err = fmt.Errorf("%w: %v", domain.ErrModelFailure, err)
		}
		return res, err
	}
	s.metrics.ObserveInference(time.Since(started), len(raws))

	records, err := s.recorder.Record(ctx, raws, req.Geotag, ref, req.Save)
	if err != nil {
		s.discardImage(ref, err)
		return res, err
	}

	if err := s.images.Settle(ctx, ref); err != nil {
		s.log.ErrorContext(ctx, "settle image", "image_ref", ref, "error", err)
	}

	saved := req.Save && len(records) > 0
	if saved {
		s.metrics.AddRecorded(records)
		s.publish(ctx, records)
	}
	s.log.InfoContext(ctx, "image processed",
		"image_ref", ref, "detections", len(records), "saved", saved, "geotagged", req.Geotag != nil)

	return domain.DetectResult{
		Records:  records,
		ImageRef: ref,
		Width:    img.Width,
		Height:   img.Height,
		Saved:    saved,
	}, nil
}

// discardImage removes the stored copy of an upload whose records could not
// be produced or written, so it does not linger unreferenced. Failures are
// left to the sweeper.
func (s *Service) discardImage(ref string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.images.Remove(ctx, ref); err != nil {
		s.log.Warn("could not remove orphaned image", "image_ref", ref, "cause", cause, "error", err)
		return
	}
	s.metrics.AddImagesRemoved("failed_batch", 1)
	s.log.Debug("removed orphaned image", "image_ref", ref, "cause", cause)
}

func (s *Service) publish(ctx context.Context, records []domain.DetectionRecord) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDetections(ctx, records); err != nil {
		s.log.WarnContext(ctx, "publish detections", "image_ref", records[0].ImageRef, "error", err)
	}
}

func outcome(err error) string {
	switch domain.Kind(err) {
	case nil:
		if err != nil {
			return observability.OutcomeError
		}
		return observability.OutcomeOK
	case domain.ErrInvalidInput, domain.ErrInvalidImage:
		return observability.OutcomeInvalid
	case domain.ErrModelFailure:
		return observability.OutcomeModelFailure
	case domain.ErrPersistence:
		return observability.OutcomePersistence
	default:
		return observability.OutcomeError
	}
}
