// Package remote runs detection on an HTTP inference service.
//
// The service takes a multipart upload in field "file" plus the thresholds as
// form fields and answers with
//
//	{"detections":[{"class":3,"name":"Pothole","confidence":0.91,"xmin":..,"ymin":..,"xmax":..,"ymax":..}]}
//
// in pixel coordinates of the uploaded image.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"roadscan/internal/domain"
	"roadscan/internal/ports"
)

const backendName = "remote"

type Client struct {
	inferenceURL string
	healthURL    string
	http         *http.Client
	loaded       atomic.Bool
}

var _ ports.Detector = (*Client)(nil)

// New validates inferenceURL. The health endpoint is the /health path on the
// same host.
func New(inferenceURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(inferenceURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote detector: invalid inference url %q", inferenceURL)
	}
	health := *u
	health.Path = "/health"
	health.RawQuery = ""
	return &Client{
		inferenceURL: u.String(),
		healthURL:    health.String(),
		http:         &http.Client{Timeout: timeout},
	}, nil
}

type detection struct {
	Class      int     `json:"class"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	XMin       float64 `json:"xmin"`
	YMin       float64 `json:"ymin"`
	XMax       float64 `json:"xmax"`
	YMax       float64 `json:"ymax"`
}

func (c *Client) Detect(ctx context.Context, img domain.Image, cfg domain.DetectorConfig) ([]domain.RawDetection, error) {
	body, contentType, err := encodeRequest(img.Encoded, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: build inference request: %v", domain.ErrModelFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.inferenceURL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build inference request: %v", domain.ErrModelFailure, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.loaded.Store(false)
		return nil, fmt.Errorf("%w: send inference request: %v", domain.ErrModelFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: inference failed with status %d: %s", domain.ErrModelFailure, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result struct {
		Detections []detection `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode inference response: %v", domain.ErrModelFailure, err)
	}
	c.loaded.Store(true)

	out := make([]domain.RawDetection, 0, len(result.Detections))
	for _, d := range result.Detections {
		if d.Confidence < cfg.ConfidenceThreshold {
			continue
		}
		out = append(out, domain.RawDetection{
			ClassID:    d.Class,
			Label:      d.Name,
			Confidence: d.Confidence,
			Box:        domain.BBox{X1: d.XMin, Y1: d.YMin, X2: d.XMax, Y2: d.YMax},
		})
		if cfg.MaxDetections > 0 && len(out) == cfg.MaxDetections {
			break
		}
	}
	return out, nil
}

func encodeRequest(image []byte, cfg domain.DetectorConfig) (io.Reader, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	part, err := w.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	fields := map[string]string{
		"conf":    strconv.FormatFloat(cfg.ConfidenceThreshold, 'f', -1, 64),
		"iou":     strconv.FormatFloat(cfg.OverlapThreshold, 'f', -1, 64),
		"max_det": strconv.Itoa(cfg.MaxDetections),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

// CheckHealth probes the service and records the result for Info.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.loaded.Store(false)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.loaded.Store(false)
		return fmt.Errorf("inference service unhealthy: %d", resp.StatusCode)
	}
	c.loaded.Store(true)
	return nil
}

func (c *Client) Info() domain.DetectorInfo {
	return domain.DetectorInfo{Backend: backendName, Model: c.inferenceURL, Loaded: c.loaded.Load()}
}
