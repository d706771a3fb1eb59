package filestore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadscan/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)
	return s
}

func TestPutOpen(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ref, err := s.Put(ctx, []byte("jpeg bytes"))
	require.NoError(t, err)
	assert.True(t, ValidRef(ref), "generated ref %q should be valid", ref)

	f, info, err := s.Open(ctx, ref)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))
	assert.Equal(t, int64(len("jpeg bytes")), info.Size)
	assert.Equal(t, ref, info.Ref)
}

func TestPut_FreshReferences(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seen := make(map[string]bool)
	for range 50 {
		ref, err := s.Put(ctx, []byte("x"))
		require.NoError(t, err)
		require.False(t, seen[ref], "reference reused: %s", ref)
		seen[ref] = true
	}
}

func TestOpen_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, _, err := s.Open(ctx, "0123456789abcdef0123456789abcdef.jpg")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = s.Open(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ref, err := s.Put(ctx, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, ref))
	assert.ErrorIs(t, s.Remove(ctx, ref), domain.ErrNotFound)
}

func TestList_IgnoresForeignFiles(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ref, err := s.Put(ctx, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "abcdefabcdef.jpg"), 0o755))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ref, list[0].Ref)
}

func TestSettle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ref, err := s.Put(ctx, []byte("x"))
	require.NoError(t, err)
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Pending)

	require.NoError(t, s.Settle(ctx, ref))
	require.NoError(t, s.Settle(ctx, ref))
	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Pending)

	assert.ErrorIs(t, s.Settle(ctx, "../x.jpg"), domain.ErrNotFound)
}

func TestRemove_ClearsPendingMarker(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ref, err := s.Put(ctx, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, ref))
	_, err = os.Stat(filepath.Join(s.Dir(), pendingDir, ref))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidRef(t *testing.T) {
	assert.True(t, ValidRef("a1b2c3d4e5f6.jpg"))
	assert.False(t, ValidRef("A1B2C3D4E5F6.jpg"))
	assert.False(t, ValidRef("short.jpg"))
	assert.False(t, ValidRef("a1b2c3d4e5f6.png"))
	assert.False(t, ValidRef("../a1b2c3d4e5f6.jpg"))
}
