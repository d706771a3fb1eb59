// Package cache decorates a DetectionRepository with a short-lived summary
// cache. Writes made through the decorator invalidate it immediately; writes
// made by other processes become visible once the TTL expires.
package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"roadscan/internal/domain"
	"roadscan/internal/ports"
)

const summaryKey = "summary"

type Repository struct {
	ports.DetectionRepository
	cache *gocache.Cache

	// gen is bumped on every write; a read that raced a write does not
	// store its result.
	mu  sync.Mutex
	gen uint64
}

// Wrap returns repo with Summary cached for ttl.
func Wrap(repo ports.DetectionRepository, ttl time.Duration) *Repository {
	return &Repository{
		DetectionRepository: repo,
		cache:               gocache.New(ttl, 2*ttl),
	}
}

func (r *Repository) Summary(ctx context.Context) ([]domain.CodeCount, error) {
	if v, ok := r.cache.Get(summaryKey); ok {
		return slices.Clone(v.([]domain.CodeCount)), nil
	}
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()

	sum, err := r.DetectionRepository.Summary(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.gen == gen {
		r.cache.SetDefault(summaryKey, slices.Clone(sum))
	}
	r.mu.Unlock()
	return sum, nil
}

func (r *Repository) Begin(ctx context.Context) (ports.DetectionTx, error) {
	tx, err := r.DetectionRepository.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &invalidatingTx{DetectionTx: tx, repo: r}, nil
}

func (r *Repository) invalidate() {
	r.mu.Lock()
	r.gen++
	r.cache.Flush()
	r.mu.Unlock()
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	defer r.invalidate()
	return r.DetectionRepository.Delete(ctx, id)
}

func (r *Repository) UpdateNotes(ctx context.Context, id string, notes *string) error {
	defer r.invalidate()
	return r.DetectionRepository.UpdateNotes(ctx, id, notes)
}

// ImageReferenced forwards when the wrapped repository supports it.
func (r *Repository) ImageReferenced(ctx context.Context, ref string) (bool, error) {
	if refs, ok := r.DetectionRepository.(ports.ImageReferences); ok {
		return refs.ImageReferenced(ctx, ref)
	}
	return true, nil
}

type invalidatingTx struct {
	ports.DetectionTx
	repo *Repository
}

func (t *invalidatingTx) Commit(ctx context.Context) error {
	defer t.repo.invalidate()
	return t.DetectionTx.Commit(ctx)
}
