package domain

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDetectionRecord(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("EEST", 3*3600))
	geo := &Geotag{Latitude: 60.17, Longitude: 24.94}
	label := LabelEntry{ClassID: 3, Code: "D40", Name: "Pothole"}

	rec, err := NewDetectionRecord(ts, geo, "abc.jpg", label, RawDetection{
		ClassID:    3,
		Confidence: 0.81,
		Box:        BBox{X1: 50, Y1: 60, X2: 10, Y2: 10},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, time.UTC, rec.Timestamp.Location())
	assert.True(t, rec.Timestamp.Equal(ts))
	assert.Equal(t, "D40", rec.DamageCode)
	assert.Equal(t, "Pothole", rec.DamageName)
	assert.Equal(t, BBox{X1: 10, Y1: 10, X2: 50, Y2: 60}, rec.Box, "corners should be normalized")
	require.NotNil(t, rec.Geotag)
	assert.NotSame(t, geo, rec.Geotag, "geotag must be copied")
	assert.Nil(t, rec.Notes)
}

func TestNewDetectionRecord_UniqueIDs(t *testing.T) {
	raw := RawDetection{Confidence: 0.5, Box: BBox{X1: 0, Y1: 0, X2: 1, Y2: 1}}
	seen := make(map[string]bool)
	for range 100 {
		rec, err := NewDetectionRecord(time.Now(), nil, "x.jpg", LabelEntry{Code: "D00"}, raw)
		require.NoError(t, err)
		require.False(t, seen[rec.ID], "duplicate id %s", rec.ID)
		seen[rec.ID] = true
	}
}

func TestNewDetectionRecord_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  RawDetection
	}{
		{"zero width", RawDetection{Confidence: 0.5, Box: BBox{X1: 5, Y1: 0, X2: 5, Y2: 10}}},
		{"zero height", RawDetection{Confidence: 0.5, Box: BBox{X1: 0, Y1: 3, X2: 10, Y2: 3}}},
		{"nan coordinate", RawDetection{Confidence: 0.5, Box: BBox{X1: math.NaN(), Y1: 0, X2: 10, Y2: 10}}},
		{"confidence above one", RawDetection{Confidence: 1.2, Box: BBox{X2: 1, Y2: 1}}},
		{"negative confidence", RawDetection{Confidence: -0.1, Box: BBox{X2: 1, Y2: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDetectionRecord(time.Now(), nil, "x.jpg", LabelEntry{}, tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrModelFailure)
		})
	}
}

func TestNewGeotag(t *testing.T) {
	g, err := NewGeotag(-33.86, 151.21)
	require.NoError(t, err)
	assert.Equal(t, -33.86, g.Latitude)

	_, err = NewGeotag(91, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = NewGeotag(0, -180.5)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestKind(t *testing.T) {
	wrapped := fmt.Errorf("saving batch: %w", fmt.Errorf("%w: disk full", ErrPersistence))
	assert.Equal(t, ErrPersistence, Kind(wrapped))
	assert.Nil(t, Kind(errors.New("boom")))
}
