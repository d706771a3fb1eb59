package httpadapter

import (
	"math"
	"time"

	"roadscan/internal/catalog"
	"roadscan/internal/domain"
)

// Wire shapes. Keys follow the JSON the web front end already consumes.

type bboxDTO struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

type detectionDTO struct {
	DamageType string  `json:"damage_type"`
	DamageCode string  `json:"damage_code"`
	Confidence float64 `json:"confidence"`
	Color      string  `json:"color"`
	Severity   string  `json:"severity"`
	BBox       bboxDTO `json:"bbox"`
}

type imageSizeDTO struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type detectResponse struct {
	Success       bool           `json:"success"`
	Detections    []detectionDTO `json:"detections"`
	Count         int            `json:"count"`
	ImageFilename string         `json:"image_filename"`
	ImageSize     imageSizeDTO   `json:"image_size"`
	Saved         bool           `json:"saved"`
}

type recordDTO struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Latitude      *float64  `json:"latitude"`
	Longitude     *float64  `json:"longitude"`
	ImageFilename string    `json:"image_filename"`
	DamageType    string    `json:"damage_type"`
	DamageCode    string    `json:"damage_code"`
	Severity      string    `json:"severity"`
	Color         string    `json:"color"`
	Confidence    float64   `json:"confidence"`
	BBox          bboxDTO   `json:"bbox"`
	Notes         *string   `json:"notes"`
}

type historyResponse struct {
	Success bool        `json:"success"`
	Records []recordDTO `json:"records"`
	Total   int64       `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
}

type mapResponse struct {
	Success bool        `json:"success"`
	Markers []recordDTO `json:"markers"`
	Total   int         `json:"total"`
}

type statsResponse struct {
	Success           bool             `json:"success"`
	TotalDetections   int64            `json:"total_detections"`
	ByType            map[string]int64 `json:"by_type"`
	ByCode            map[string]int64 `json:"by_code"`
	AverageConfidence float64          `json:"average_confidence"`
}

type recordResponse struct {
	Success bool      `json:"success"`
	Record  recordDTO `json:"record"`
}

type damageTypeDTO struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Severity string `json:"severity"`
}

type healthResponse struct {
	Status      string          `json:"status"`
	App         string          `json:"app"`
	Version     string          `json:"version"`
	ModelLoaded bool            `json:"model_loaded"`
	CustomModel bool            `json:"custom_model"`
	Detector    string          `json:"detector"`
	DamageTypes []damageTypeDTO `json:"damage_types"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func toBBox(b domain.BBox) bboxDTO {
	return bboxDTO{X1: round(b.X1, 2), Y1: round(b.Y1, 2), X2: round(b.X2, 2), Y2: round(b.Y2, 2)}
}

func toDetection(c *catalog.Catalog, r domain.DetectionRecord) detectionDTO {
	e := c.Describe(r.DamageCode, r.DamageName)
	return detectionDTO{
		DamageType: r.DamageName,
		DamageCode: r.DamageCode,
		Confidence: round(r.Confidence, 4),
		Color:      e.Color,
		Severity:   e.Severity,
		BBox:       toBBox(r.Box),
	}
}

func toRecord(c *catalog.Catalog, r domain.DetectionRecord) recordDTO {
	e := c.Describe(r.DamageCode, r.DamageName)
	dto := recordDTO{
		ID:            r.ID,
		Timestamp:     r.Timestamp,
		ImageFilename: r.ImageRef,
		DamageType:    r.DamageName,
		DamageCode:    r.DamageCode,
		Severity:      e.Severity,
		Color:         e.Color,
		Confidence:    round(r.Confidence, 4),
		BBox:          toBBox(r.Box),
		Notes:         r.Notes,
	}
	if r.Geotag != nil {
		lat, lon := r.Geotag.Latitude, r.Geotag.Longitude
		dto.Latitude, dto.Longitude = &lat, &lon
	}
	return dto
}

func toRecords(c *catalog.Catalog, recs []domain.DetectionRecord) []recordDTO {
	out := make([]recordDTO, 0, len(recs))
	for _, r := range recs {
		out = append(out, toRecord(c, r))
	}
	return out
}
