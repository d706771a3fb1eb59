package domain

import (
	"fmt"
	"image"
	"math"
	"time"

	"github.com/google/uuid"
)

// Core domain models used internally. HTTP payloads live in the http adapter;
// keep these decoupled from the wire format.

// Geotag is an optional latitude/longitude pair attached to a detection batch.
type Geotag struct {
	Latitude  float64
	Longitude float64
}

// NewGeotag validates the coordinate ranges.
func NewGeotag(lat, lon float64) (*Geotag, error) {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return nil, fmt.Errorf("%w: latitude %v out of range", ErrInvalidInput, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w: longitude %v out of range", ErrInvalidInput, lon)
	}
	return &Geotag{Latitude: lat, Longitude: lon}, nil
}

// BBox is an axis-aligned rectangle in pixel coordinates of the input image.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Normalize orders the corners so that X1 <= X2 and Y1 <= Y2.
func (b BBox) Normalize() BBox {
	return BBox{
		X1: math.Min(b.X1, b.X2),
		Y1: math.Min(b.Y1, b.Y2),
		X2: math.Max(b.X1, b.X2),
		Y2: math.Max(b.Y1, b.Y2),
	}
}

// Valid reports whether the box is finite with strictly positive area.
func (b BBox) Valid() bool {
	for _, v := range [...]float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// LabelEntry is one row of the damage taxonomy.
type LabelEntry struct {
	ClassID  int
	Code     string
	Name     string
	Color    string
	Severity string
}

// RawDetection is what a Detector returns for one object.
type RawDetection struct {
	ClassID    int
	Label      string // model-supplied label, optional
	Confidence float64
	Box        BBox
}

// DetectorConfig is passed unchanged to every Detector call.
type DetectorConfig struct {
	ConfidenceThreshold float64
	OverlapThreshold    float64
	MaxDetections       int
}

// DefaultDetectorConfig holds the operational thresholds the service runs with.
var DefaultDetectorConfig = DetectorConfig{
	ConfidenceThreshold: 0.40,
	OverlapThreshold:    0.45,
	MaxDetections:       20,
}

// DetectorInfo describes the configured detection backend for health reporting.
type DetectorInfo struct {
	Backend string
	Model   string
	Loaded  bool
}

// Image is a decoded upload in canonical form.
type Image struct {
	Pixels  image.Image
	Width   int
	Height  int
	Encoded []byte // canonical JPEG bytes, as stored
}

// DetectionRecord is one persisted damage observation.
type DetectionRecord struct {
	ID         string
	Timestamp  time.Time
	Geotag     *Geotag
	ImageRef   string
	DamageCode string
	DamageName string
	Confidence float64
	Box        BBox
	Notes      *string
}

// NewDetectionRecord builds a fully populated record for one raw detection.
// All records of a batch are created with the same ts, geotag and imageRef.
func NewDetectionRecord(ts time.Time, geotag *Geotag, imageRef string, label LabelEntry, raw RawDetection) (DetectionRecord, error) {
	box := raw.Box.Normalize()
	if !box.Valid() {
		return DetectionRecord{}, fmt.Errorf("%w: degenerate bounding box %+v", ErrModelFailure, raw.Box)
	}
	if math.IsNaN(raw.Confidence) || raw.Confidence < 0 || raw.Confidence > 1 {
		return DetectionRecord{}, fmt.Errorf("%w: confidence %v outside [0,1]", ErrModelFailure, raw.Confidence)
	}
	var tag *Geotag
	if geotag != nil {
		g := *geotag
		tag = &g
	}
	return DetectionRecord{
		ID:         uuid.NewString(),
		Timestamp:  ts.UTC(),
		Geotag:     tag,
		ImageRef:   imageRef,
		DamageCode: label.Code,
		DamageName: label.Name,
		Confidence: raw.Confidence,
		Box:        box,
	}, nil
}

// DetectRequest is one upload submitted for detection.
type DetectRequest struct {
	Image  []byte
	Geotag *Geotag
	Save   bool
}

// DetectResult is the outcome of the ingest, detect, record pipeline.
type DetectResult struct {
	Records  []DetectionRecord
	ImageRef string
	Width    int
	Height   int
	Saved    bool
}

// Page is one slice of the detection history.
type Page struct {
	Records []DetectionRecord
	Total   int64
	Limit   int
	Offset  int
}

// CodeCount is a per damage code aggregate as computed by the store.
type CodeCount struct {
	Code          string
	Count         int64
	ConfidenceSum float64
}

// TypeCount is one bucket of the statistics breakdown.
type TypeCount struct {
	Code  string
	Name  string
	Count int64
}

type Stats struct {
	Total             int64
	ByType            []TypeCount
	AverageConfidence float64
}
