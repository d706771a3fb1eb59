// Package filestore keeps canonical upload images on the local filesystem.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"roadscan/internal/domain"
	"roadscan/internal/ports"
)

// refPattern accepts generated references. Twelve hex digits is the legacy
// length still found in older upload directories.
var refPattern = regexp.MustCompile(`^[0-9a-f]{12,32}\.jpg$`)

// ValidRef reports whether ref could have been produced by a Store.
func ValidRef(ref string) bool { return refPattern.MatchString(ref) }

// pendingDir holds one empty marker per image whose upload has not been
// settled yet. Only pending images are candidates for the sweeper.
const pendingDir = ".pending"

type Store struct {
	dir string
}

var _ ports.ImageStore = (*Store)(nil)

// New creates dir if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, pendingDir), 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) markerPath(ref string) string { return filepath.Join(s.dir, pendingDir, ref) }

// Put writes data under a fresh reference and marks it pending. The marker
// is written first so a crash never leaves an unmarked, unreferenced image.
// Existing files are never overwritten.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := strings.ReplaceAll(uuid.NewString(), "-", "") + ".jpg"
	marker := s.markerPath(ref)
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return "", fmt.Errorf("%w: create pending marker: %v", domain.ErrPersistence, err)
	}

	path := filepath.Join(s.dir, ref)
	fail := func(step string, err error) (string, error) {
		os.Remove(path)
		os.Remove(marker)
		return "", fmt.Errorf("%w: %s image file: %v", domain.ErrPersistence, step, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		os.Remove(marker)
		return "", fmt.Errorf("%w: create image file: %v", domain.ErrPersistence, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fail("write", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fail("sync", err)
	}
	if err := f.Close(); err != nil {
		return fail("close", err)
	}
	return ref, nil
}

// Settle clears the pending marker of ref. Settling twice is a no-op.
func (s *Store) Settle(ctx context.Context, ref string) error {
	if !ValidRef(ref) {
		return fmt.Errorf("%w: image %q", domain.ErrNotFound, ref)
	}
	if err := os.Remove(s.markerPath(ref)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: settle image: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (s *Store) Open(ctx context.Context, ref string) (io.ReadSeekCloser, ports.StoredImage, error) {
	if !ValidRef(ref) {
		return nil, ports.StoredImage{}, fmt.Errorf("%w: image %q", domain.ErrNotFound, ref)
	}
	f, err := os.Open(filepath.Join(s.dir, ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ports.StoredImage{}, fmt.Errorf("%w: image %q", domain.ErrNotFound, ref)
	}
	if err != nil {
		return nil, ports.StoredImage{}, fmt.Errorf("%w: open image: %v", domain.ErrPersistence, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ports.StoredImage{}, fmt.Errorf("%w: stat image: %v", domain.ErrPersistence, err)
	}
	return f, ports.StoredImage{Ref: ref, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (s *Store) Remove(ctx context.Context, ref string) error {
	if !ValidRef(ref) {
		return fmt.Errorf("%w: image %q", domain.ErrNotFound, ref)
	}
	err := os.Remove(filepath.Join(s.dir, ref))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: image %q", domain.ErrNotFound, ref)
	}
	if err != nil {
		return fmt.Errorf("%w: remove image: %v", domain.ErrPersistence, err)
	}
	if err := os.Remove(s.markerPath(ref)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove pending marker: %v", domain.ErrPersistence, err)
	}
	return nil
}

// List returns every stored image. Files that do not look like generated
// references are ignored.
func (s *Store) List(ctx context.Context) ([]ports.StoredImage, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read upload dir: %v", domain.ErrPersistence, err)
	}
	markers, err := os.ReadDir(filepath.Join(s.dir, pendingDir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: read pending markers: %v", domain.ErrPersistence, err)
	}
	pending := make(map[string]bool, len(markers))
	for _, m := range markers {
		pending[m.Name()] = true
	}
	out := make([]ports.StoredImage, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !ValidRef(e.Name()) {
			continue
		}
		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: stat %s: %v", domain.ErrPersistence, e.Name(), err)
		}
		out = append(out, ports.StoredImage{Ref: e.Name(), Size: info.Size(), ModTime: info.ModTime(), Pending: pending[e.Name()]})
	}
	return out, nil
}
