// Package sweeper removes stored images whose upload never completed.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"roadscan/internal/domain"
	"roadscan/internal/observability"
	"roadscan/internal/ports"
)

// Sweeper reclaims images left behind by uploads that never finished. Only
// pending images are considered, and those younger than MinAge are left
// alone so in-flight uploads are not raced. A pending image that is already
// referenced is settled instead.
type Sweeper struct {
	Images  ports.ImageStore
	Refs    ports.ImageReferences
	MinAge  time.Duration
	Metrics *observability.Metrics
	Log     *slog.Logger

	now func() time.Time
}

// Result summarises one pass.
type Result struct {
	Scanned int
	Removed int
	Kept    int
}

// Sweep makes one pass over the image store.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	log := s.logger()
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	cutoff := now().Add(-s.MinAge)

	images, err := s.Images.List(ctx)
	if err != nil {
		return Result{}, err
	}
	var res Result
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++
		if !img.Pending || img.ModTime.After(cutoff) {
			res.Kept++
			continue
		}
		used, err := s.Refs.ImageReferenced(ctx, img.Ref)
		if err != nil {
			return res, err
		}
		if used {
			res.Kept++
			if err := s.Images.Settle(ctx, img.Ref); err != nil {
				log.Warn("settle referenced image", "image_ref", img.Ref, "error", err)
			}
			continue
		}
		if err := s.Images.Remove(ctx, img.Ref); err != nil && !errors.Is(err, domain.ErrNotFound) {
			log.Warn("remove abandoned image", "image_ref", img.Ref, "error", err)
			continue
		}
		res.Removed++
		log.Debug("removed abandoned image", "image_ref", img.Ref, "modified", img.ModTime)
	}
	s.Metrics.AddImagesRemoved("sweep", res.Removed)
	return res, nil
}

// Run sweeps every interval until ctx is cancelled. The returned channel is
// closed once the loop has exited.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	log := s.logger()
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, err := s.Sweep(ctx)
				if err != nil {
					if ctx.Err() == nil {
						log.Error("image sweep failed", "error", err)
					}
					continue
				}
				if res.Removed > 0 {
					log.Info("image sweep", "scanned", res.Scanned, "removed", res.Removed)
				}
			}
		}
	}()
	return done
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}
