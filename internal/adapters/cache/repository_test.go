package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadscan/internal/adapters/sqlite"
	"roadscan/internal/adapters/storetest"
	"roadscan/internal/domain"
	"roadscan/internal/ports"
)

type countingRepo struct {
	ports.DetectionRepository
	summaries int
}

func (c *countingRepo) Summary(ctx context.Context) ([]domain.CodeCount, error) {
	c.summaries++
	return c.DetectionRepository.Summary(ctx)
}

func setup(t *testing.T, ttl time.Duration) (*Repository, *countingRepo) {
	t.Helper()
	store, err := sqlite.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	inner := &countingRepo{DetectionRepository: store}
	return Wrap(inner, ttl), inner
}

func TestSummary_Cached(t *testing.T) {
	ctx := context.Background()
	repo, inner := setup(t, time.Minute)

	_, err := repo.Summary(ctx)
	require.NoError(t, err)
	_, err = repo.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.summaries)
}

func TestSummary_InvalidatedByCommitAndDelete(t *testing.T) {
	ctx := context.Background()
	repo, inner := setup(t, time.Minute)
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	sum, err := repo.Summary(ctx)
	require.NoError(t, err)
	assert.Empty(t, sum)

	rec := storetest.Record(t, ts, "D40", 0.81, nil, "abcabcabcabc.jpg")
	storetest.Save(t, repo, rec)

	sum, err = repo.Summary(ctx)
	require.NoError(t, err)
	require.Len(t, sum, 1)
	assert.EqualValues(t, 1, sum[0].Count)
	assert.Equal(t, 2, inner.summaries)

	require.NoError(t, repo.Delete(ctx, rec.ID))
	sum, err = repo.Summary(ctx)
	require.NoError(t, err)
	assert.Empty(t, sum)
	assert.Equal(t, 3, inner.summaries)
}

func TestSummary_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo, _ := setup(t, time.Minute)
	storetest.Save(t, repo, storetest.Record(t, time.Now(), "D00", 0.5, nil, "abcabcabcabd.jpg"))

	first, err := repo.Summary(ctx)
	require.NoError(t, err)
	first[0].Count = 1000

	second, err := repo.Summary(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, second[0].Count)
}

// stallingRepo holds a Summary result until released.
type stallingRepo struct {
	ports.DetectionRepository
	read    chan struct{}
	release chan struct{}
}

func (s *stallingRepo) Summary(ctx context.Context) ([]domain.CodeCount, error) {
	sum, err := s.DetectionRepository.Summary(ctx)
	close(s.read)
	<-s.release
	return sum, err
}

func TestSummary_ReadRacingCommitIsNotCached(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(":memory:", nil)
	require.NoError(t, err)
	defer store.Close()
	inner := &stallingRepo{DetectionRepository: store, read: make(chan struct{}), release: make(chan struct{})}
	repo := Wrap(inner, time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = repo.Summary(ctx)
	}()
	<-inner.read

	storetest.Save(t, repo, storetest.Record(t, time.Now(), "D40", 0.81, nil, "abcabcabcabf.jpg"))
	close(inner.release)
	<-done

	inner.read, inner.release = make(chan struct{}), make(chan struct{})
	close(inner.release)
	sum, err := repo.Summary(ctx)
	require.NoError(t, err)
	require.Len(t, sum, 1)
	assert.EqualValues(t, 1, sum[0].Count)
}

func TestImageReferenced_Forwards(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(":memory:", nil)
	require.NoError(t, err)
	defer store.Close()
	repo := Wrap(store, time.Minute)

	ok, err := repo.ImageReferenced(ctx, "abcabcabcabe.jpg")
	require.NoError(t, err)
	assert.False(t, ok)
}
