package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	uploads := filepath.Join(dir, "uploads")
	cfg := "store_driver: sqlite\n" +
		"sqlite_path: " + filepath.Join(dir, "db", "detections.db") + "\n" +
		"upload_dir: " + uploads + "\n" +
		"log_level: error\n"
	path := filepath.Join(dir, "roadscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path, uploads
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateAndSweep(t *testing.T) {
	cfgPath, uploads := writeConfig(t)

	_, err := run(t, "--config", cfgPath, "migrate")
	require.NoError(t, err)

	// One abandoned upload still carrying its pending marker, one settled.
	require.NoError(t, os.MkdirAll(filepath.Join(uploads, ".pending"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(uploads, "0123456789ab.jpg"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(uploads, ".pending", "0123456789ab.jpg"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(uploads, "ba9876543210.jpg"), []byte("x"), 0o644))

	out, err := run(t, "--config", cfgPath, "sweep", "--min-age", "0s")
	require.NoError(t, err)
	assert.Equal(t, "scanned 2, removed 1, kept 1\n", out)
	assert.FileExists(t, filepath.Join(uploads, "ba9876543210.jpg"))
	assert.NoFileExists(t, filepath.Join(uploads, "0123456789ab.jpg"))
}

func TestInvalidConfig(t *testing.T) {
	_, err := run(t, "--store", "mongo", "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER")
}
