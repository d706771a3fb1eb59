package httpadapter

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"roadscan/internal/catalog"
	"roadscan/internal/observability"
	"roadscan/internal/ports"
)

const (
	appName    = "Road Damage Detection API"
	appVersion = "1.0.0"
)

// Options tune the HTTP surface. Zero values pick the defaults.
type Options struct {
	MaxUploadBytes int64
	RequestTimeout time.Duration
	// ModelPath is reported as custom_model on the health endpoint when it exists.
	ModelPath string
}

const defaultMaxUploadBytes = 32 << 20

// Server binds the detection and history services to HTTP.
type Server struct {
	detections ports.Detections
	history    ports.History
	images     ports.ImageStore
	detector   ports.Detector
	catalog    *catalog.Catalog
	metrics    *observability.Metrics
	log        *slog.Logger
	opts       Options
}

func New(detections ports.Detections, history ports.History, images ports.ImageStore, detector ports.Detector,
	cat *catalog.Catalog, metrics *observability.Metrics, log *slog.Logger, opts Options) *Server {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Server{
		detections: detections,
		history:    history,
		images:     images,
		detector:   detector,
		catalog:    cat,
		metrics:    metrics,
		log:        log.With("component", "http"),
		opts:       opts,
	}
}

// Routes returns the router with all middleware applied.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors)
	if s.opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
	}

	r.Get("/", s.health)
	r.Post("/detect", s.detect)
	r.Route("/history", func(r chi.Router) {
		r.Get("/", s.listHistory)
		r.Get("/map", s.mapMarkers)
		r.Get("/stats", s.stats)
		r.Get("/{id}", s.getDetection)
		r.Patch("/{id}", s.updateNotes)
		r.Delete("/{id}", s.deleteDetection)
	})
	r.Get("/uploads/{ref}", s.serveUpload)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}
