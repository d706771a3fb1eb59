package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadscan/internal/adapters/storetest"
	"roadscan/internal/logging"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Repository { return openMemory(t) })
}

func TestOpen_FileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "detections.db")

	s, err := Open(path, logging.Discard())
	require.NoError(t, err)
	rec := storetest.Record(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), "D40", 0.81, nil, "abcdefabcdef.jpg")
	storetest.Save(t, s, rec)
	require.NoError(t, s.Close())

	s, err = Open(path, logging.Discard())
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(t.Context(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "D40", got.DamageCode)
}

func TestCommitTwice(t *testing.T) {
	s := openMemory(t)
	tx, err := s.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, tx.Commit(t.Context()))
	assert.Error(t, tx.Commit(t.Context()))
	assert.NoError(t, tx.Rollback(t.Context()), "rollback after commit is a no-op")
}
