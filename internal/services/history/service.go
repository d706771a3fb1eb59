// Package history serves the read side of the detection store.
package history

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"roadscan/internal/catalog"
	"roadscan/internal/domain"
	"roadscan/internal/ports"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

type Service struct {
	catalog *catalog.Catalog
	repo    ports.DetectionRepository
}

var _ ports.History = (*Service)(nil)

func New(c *catalog.Catalog, repo ports.DetectionRepository) *Service {
	return &Service{catalog: c, repo: repo}
}

// List returns one page, newest first. limit is capped at MaxLimit.
func (s *Service) List(ctx context.Context, limit, offset int) (domain.Page, error) {
	if limit < 0 || offset < 0 {
		return domain.Page{}, fmt.Errorf("%w: limit and offset must be non-negative", domain.ErrInvalidInput)
	}
	limit = min(limit, MaxLimit)
	records, total, err := s.repo.Page(ctx, limit, offset)
	if err != nil {
		return domain.Page{}, err
	}
	return domain.Page{Records: records, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *Service) MapMarkers(ctx context.Context) ([]domain.DetectionRecord, error) {
	return s.repo.Geotagged(ctx)
}

// Stats lists every catalog entry, observed or not, followed by any codes
// outside the catalog in code order.
func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	summary, err := s.repo.Summary(ctx)
	if err != nil {
		return domain.Stats{}, err
	}

	observed := make(map[string]int64, len(summary))
	var stats domain.Stats
	var confSum float64
	for _, c := range summary {
		observed[c.Code] = c.Count
		stats.Total += c.Count
		confSum += c.ConfidenceSum
	}

	for _, e := range s.catalog.Entries() {
		stats.ByType = append(stats.ByType, domain.TypeCount{Code: e.Code, Name: e.Name, Count: observed[e.Code]})
	}
	var extra []domain.TypeCount
	for _, c := range summary {
		if !s.catalog.Known(c.Code) {
			extra = append(extra, domain.TypeCount{Code: c.Code, Name: c.Code, Count: c.Count})
		}
	}
	slices.SortFunc(extra, func(a, b domain.TypeCount) int { return strings.Compare(a.Code, b.Code) })
	stats.ByType = append(stats.ByType, extra...)

	if stats.Total > 0 {
		stats.AverageConfidence = math.Round(confSum/float64(stats.Total)*1e4) / 1e4
	}
	return stats, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.DetectionRecord, error) {
	if id == "" {
		return domain.DetectionRecord{}, fmt.Errorf("%w: empty id", domain.ErrInvalidInput)
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", domain.ErrInvalidInput)
	}
	return s.repo.Delete(ctx, id)
}

// MaxNotesLength bounds the free-text notes field, in bytes.
const MaxNotesLength = 4096

// UpdateNotes replaces the notes of one record; nil clears them.
func (s *Service) UpdateNotes(ctx context.Context, id string, notes *string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", domain.ErrInvalidInput)
	}
	if notes != nil && len(*notes) > MaxNotesLength {
		return fmt.Errorf("%w: notes longer than %d bytes", domain.ErrInvalidInput, MaxNotesLength)
	}
	return s.repo.UpdateNotes(ctx, id, notes)
}
