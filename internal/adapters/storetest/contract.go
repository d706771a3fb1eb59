// Package storetest holds the behaviour every DetectionRepository must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadscan/internal/domain"
	"roadscan/internal/ports"
)

// Repository is what the contract needs from a store under test.
type Repository interface {
	ports.DetectionRepository
	ports.ImageReferences
}

// Factory returns an empty repository for one subtest.
type Factory func(t *testing.T) Repository

var base = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

// Record builds a valid record for tests.
func Record(t *testing.T, ts time.Time, code string, conf float64, geo *domain.Geotag, imageRef string) domain.DetectionRecord {
	t.Helper()
	rec, err := domain.NewDetectionRecord(ts, geo, imageRef,
		domain.LabelEntry{Code: code, Name: "name " + code},
		domain.RawDetection{Confidence: conf, Box: domain.BBox{X1: 10.123, Y1: 10, X2: 50.5, Y2: 60.456}})
	require.NoError(t, err)
	return rec
}

// Save writes recs as one committed batch.
func Save(t *testing.T, repo ports.DetectionRepository, recs ...domain.DetectionRecord) {
	t.Helper()
	ctx := context.Background()
	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	for _, r := range recs {
		require.NoError(t, tx.Add(ctx, r))
	}
	require.NoError(t, tx.Commit(ctx))
}

// Run executes the contract against repositories produced by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newRepo(t)) })
	t.Run("RollbackHidesBatch", func(t *testing.T) { testRollback(t, newRepo(t)) })
	t.Run("FailedBatchLeavesNoRows", func(t *testing.T) { testFailedBatch(t, newRepo(t)) })
	t.Run("PageOrderingAndTotal", func(t *testing.T) { testPage(t, newRepo(t)) })
	t.Run("Geotagged", func(t *testing.T) { testGeotagged(t, newRepo(t)) })
	t.Run("Summary", func(t *testing.T) { testSummary(t, newRepo(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newRepo(t)) })
	t.Run("UpdateNotes", func(t *testing.T) { testUpdateNotes(t, newRepo(t)) })
	t.Run("ImageReferenced", func(t *testing.T) { testImageReferenced(t, newRepo(t)) })
	t.Run("ConcurrentBatches", func(t *testing.T) { testConcurrentBatches(t, newRepo(t)) })
}

func testRoundTrip(t *testing.T, repo Repository) {
	ctx := context.Background()
	geo := &domain.Geotag{Latitude: 60.1699, Longitude: 24.9384}
	want := Record(t, base, "D40", 0.8123456, geo, "aaaaaaaaaaaa.jpg")
	Save(t, repo, want)

	got, err := repo.Get(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.True(t, want.Timestamp.Equal(got.Timestamp), "timestamp %v != %v", want.Timestamp, got.Timestamp)
	assert.Equal(t, want.ImageRef, got.ImageRef)
	assert.Equal(t, want.DamageCode, got.DamageCode)
	assert.Equal(t, want.DamageName, got.DamageName)
	assert.InDelta(t, want.Confidence, got.Confidence, 1e-9)
	assert.Equal(t, want.Box, got.Box)
	require.NotNil(t, got.Geotag)
	assert.Equal(t, *geo, *got.Geotag)
	assert.Nil(t, got.Notes)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testRollback(t *testing.T, repo Repository) {
	ctx := context.Background()
	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Add(ctx, Record(t, base, "D00", 0.5, nil, "bbbbbbbbbbbb.jpg")))
	require.NoError(t, tx.Add(ctx, Record(t, base, "D10", 0.6, nil, "bbbbbbbbbbbb.jpg")))
	require.NoError(t, tx.Rollback(ctx))

	_, total, err := repo.Page(ctx, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func testFailedBatch(t *testing.T, repo Repository) {
	ctx := context.Background()
	dup := Record(t, base, "D00", 0.5, nil, "cccccccccccc.jpg")

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Add(ctx, Record(t, base, "D20", 0.7, nil, "cccccccccccc.jpg")))
	err = tx.Add(ctx, dup)
	if err == nil {
		err = tx.Add(ctx, dup)
	}
	if err == nil {
		err = tx.Commit(ctx)
	}
	require.Error(t, err, "duplicate id must fail the batch")
	assert.ErrorIs(t, err, domain.ErrPersistence)
	require.NoError(t, tx.Rollback(ctx))

	_, total, err := repo.Page(ctx, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total, "no record of a failed batch may be visible")
}

func testPage(t *testing.T, repo Repository) {
	ctx := context.Background()
	for i := range 7 {
		ts := base.Add(time.Duration(i) * time.Minute)
		Save(t, repo,
			Record(t, ts, "D00", 0.5, nil, fmt.Sprintf("%012d.jpg", i)),
			Record(t, ts, "D10", 0.6, nil, fmt.Sprintf("%012d.jpg", i)))
	}

	recs, total, err := repo.Page(ctx, 5, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 14, total)
	require.Len(t, recs, 5)
	for i := 1; i < len(recs); i++ {
		assert.False(t, recs[i].Timestamp.After(recs[i-1].Timestamp), "history must be newest first")
	}
	assert.True(t, recs[0].Timestamp.Equal(base.Add(6*time.Minute)))

	seen := make(map[string]bool)
	for offset := 0; offset < 14; offset += 5 {
		page, total, err := repo.Page(ctx, 5, offset)
		require.NoError(t, err)
		assert.EqualValues(t, 14, total)
		for _, r := range page {
			assert.False(t, seen[r.ID], "record %s returned on two pages", r.ID)
			seen[r.ID] = true
		}
	}
	assert.Len(t, seen, 14)

	recs, total, err = repo.Page(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.EqualValues(t, 14, total)

	recs, total, err = repo.Page(ctx, 10, 100)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.EqualValues(t, 14, total)
}

func testGeotagged(t *testing.T, repo Repository) {
	ctx := context.Background()
	Save(t, repo,
		Record(t, base, "D00", 0.5, nil, "dddddddddddd.jpg"),
		Record(t, base.Add(time.Minute), "D40", 0.9, &domain.Geotag{Latitude: 1, Longitude: 2}, "eeeeeeeeeeee.jpg"),
		Record(t, base.Add(2*time.Minute), "D20", 0.7, &domain.Geotag{Latitude: 3, Longitude: 4}, "ffffffffffff.jpg"))

	recs, err := repo.Geotagged(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		require.NotNil(t, r.Geotag)
	}
	assert.Equal(t, "D20", recs[0].DamageCode)
	assert.Equal(t, "D40", recs[1].DamageCode)
}

func testSummary(t *testing.T, repo Repository) {
	ctx := context.Background()
	sum, err := repo.Summary(ctx)
	require.NoError(t, err)
	assert.Empty(t, sum)

	Save(t, repo,
		Record(t, base, "D40", 0.8, nil, "aaaaaaaaaaab.jpg"),
		Record(t, base, "D40", 0.6, nil, "aaaaaaaaaaab.jpg"),
		Record(t, base, "D99", 0.5, nil, "aaaaaaaaaaab.jpg"))

	sum, err = repo.Summary(ctx)
	require.NoError(t, err)
	byCode := make(map[string]domain.CodeCount)
	for _, c := range sum {
		byCode[c.Code] = c
	}
	require.Len(t, byCode, 2)
	assert.EqualValues(t, 2, byCode["D40"].Count)
	assert.InDelta(t, 1.4, byCode["D40"].ConfidenceSum, 1e-9)
	assert.EqualValues(t, 1, byCode["D99"].Count)
}

func testDelete(t *testing.T, repo Repository) {
	ctx := context.Background()
	a := Record(t, base, "D00", 0.5, nil, "aaaaaaaaaaac.jpg")
	b := Record(t, base, "D10", 0.5, nil, "aaaaaaaaaaac.jpg")
	Save(t, repo, a, b)

	require.NoError(t, repo.Delete(ctx, a.ID))
	assert.ErrorIs(t, repo.Delete(ctx, a.ID), domain.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "never-existed"), domain.ErrNotFound)

	_, err := repo.Get(ctx, b.ID)
	assert.NoError(t, err, "sibling records from the same batch survive")
}

func testUpdateNotes(t *testing.T, repo Repository) {
	ctx := context.Background()
	rec := Record(t, base, "D00", 0.5, nil, "aaaaaaaaaaad.jpg")
	Save(t, repo, rec)

	note := "patched by crew 7"
	require.NoError(t, repo.UpdateNotes(ctx, rec.ID, &note))
	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Notes)
	assert.Equal(t, note, *got.Notes)

	require.NoError(t, repo.UpdateNotes(ctx, rec.ID, nil))
	got, err = repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Notes)

	assert.ErrorIs(t, repo.UpdateNotes(ctx, "missing", &note), domain.ErrNotFound)
}

func testImageReferenced(t *testing.T, repo Repository) {
	ctx := context.Background()
	Save(t, repo, Record(t, base, "D00", 0.5, nil, "aaaaaaaaaaae.jpg"))

	ok, err := repo.ImageReferenced(ctx, "aaaaaaaaaaae.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ImageReferenced(ctx, "aaaaaaaaaaaf.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testConcurrentBatches(t *testing.T, repo Repository) {
	ctx := context.Background()
	const workers, perBatch = 8, 3

	batches := make([][]domain.DetectionRecord, workers)
	for w := range batches {
		ref := fmt.Sprintf("%012d.jpg", 1000+w)
		for range perBatch {
			batches[w] = append(batches[w], Record(t, base, "D00", 0.5, nil, ref))
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for _, batch := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := repo.Begin(ctx)
			if err != nil {
				errs <- err
				return
			}
			for _, rec := range batch {
				if err := tx.Add(ctx, rec); err != nil {
					_ = tx.Rollback(ctx)
					errs <- err
					return
				}
			}
			errs <- tx.Commit(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	_, total, err := repo.Page(ctx, 1, 0)
	require.NoError(t, err)
	assert.EqualValues(t, workers*perBatch, total)
}
