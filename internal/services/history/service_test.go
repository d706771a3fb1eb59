package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadscan/internal/adapters/sqlite"
	"roadscan/internal/adapters/storetest"
	"roadscan/internal/catalog"
	"roadscan/internal/domain"
)

func newService(t *testing.T) (*Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(catalog.Default(), store), store
}

var t0 = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func TestStats_EmptyStoreListsWholeCatalog(t *testing.T) {
	svc, _ := newService(t)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Total)
	assert.Equal(t, 0.0, stats.AverageConfidence)
	require.Len(t, stats.ByType, 4)
	for _, bucket := range stats.ByType {
		assert.EqualValues(t, 0, bucket.Count, bucket.Name)
	}
	assert.Equal(t, "Pothole", stats.ByType[3].Name)
}

func TestStats_CountsAndAverage(t *testing.T) {
	svc, store := newService(t)
	storetest.Save(t, store,
		storetest.Record(t, t0, "D40", 0.81, nil, "aaaaaaaaaaaa.jpg"),
		storetest.Record(t, t0, "D40", 0.6, nil, "aaaaaaaaaaaa.jpg"),
		storetest.Record(t, t0, "D7", 0.33333, nil, "aaaaaaaaaaaa.jpg"),
	)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Total)
	assert.InDelta(t, 0.5811, stats.AverageConfidence, 1e-9)
	require.Len(t, stats.ByType, 5)
	assert.EqualValues(t, 2, stats.ByType[3].Count)
	assert.Equal(t, domain.TypeCount{Code: "D7", Name: "D7", Count: 1}, stats.ByType[4])
}

func TestStats_UncataloguedCodesSortedAfterCatalog(t *testing.T) {
	svc, store := newService(t)
	storetest.Save(t, store,
		storetest.Record(t, t0, "D99", 0.5, nil, "aaaaaaaaaaaa.jpg"),
		storetest.Record(t, t0, "D7", 0.5, nil, "aaaaaaaaaaaa.jpg"),
		storetest.Record(t, t0, "D12", 0.5, nil, "aaaaaaaaaaaa.jpg"),
	)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats.ByType, 7)
	codes := make([]string, 0, 3)
	for _, b := range stats.ByType[4:] {
		codes = append(codes, b.Code)
	}
	assert.Equal(t, []string{"D12", "D7", "D99"}, codes)
}

func TestList(t *testing.T) {
	svc, store := newService(t)
	for i := range 3 {
		storetest.Save(t, store, storetest.Record(t, t0.Add(time.Duration(i)*time.Minute), "D00", 0.5, nil, "aaaaaaaaaaaa.jpg"))
	}
	ctx := context.Background()

	page, err := svc.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, page.Total)
	require.Len(t, page.Records, 2)
	assert.True(t, page.Records[0].Timestamp.After(page.Records[1].Timestamp))

	page, err = svc.List(ctx, 10_000, 2)
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, page.Limit)
	assert.Len(t, page.Records, 1)

	_, err = svc.List(ctx, -1, 0)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	_, err = svc.List(ctx, 1, -1)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestMapMarkers_OnlyGeotagged(t *testing.T) {
	svc, store := newService(t)
	storetest.Save(t, store,
		storetest.Record(t, t0, "D00", 0.5, &domain.Geotag{Latitude: 1, Longitude: 2}, "aaaaaaaaaaaa.jpg"),
		storetest.Record(t, t0, "D00", 0.5, nil, "aaaaaaaaaaab.jpg"),
	)
	markers, err := svc.MapMarkers(context.Background())
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.NotNil(t, markers[0].Geotag)
}

func TestGetDeleteUpdateNotes(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	rec := storetest.Record(t, t0, "D20", 0.7, nil, "aaaaaaaaaaaa.jpg")
	storetest.Save(t, store, rec)

	note := "reported to city"
	require.NoError(t, svc.UpdateNotes(ctx, rec.ID, &note))
	got, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Notes)
	assert.Equal(t, note, *got.Notes)

	long := string(make([]byte, MaxNotesLength+1))
	assert.True(t, errors.Is(svc.UpdateNotes(ctx, rec.ID, &long), domain.ErrInvalidInput))

	require.NoError(t, svc.Delete(ctx, rec.ID))
	_, err = svc.Get(ctx, rec.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.True(t, errors.Is(svc.Delete(ctx, rec.ID), domain.ErrNotFound))
	assert.True(t, errors.Is(svc.Delete(ctx, ""), domain.ErrInvalidInput))
}
