package cca

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWritePEMFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, writePEMFiles(dir,
		pemFile{name: caKeyFile, data: []byte("key"), perm: 0o600},
		pemFile{name: caCertFile, data: []byte("cert"), perm: 0o644},
	))

	got, err := os.ReadFile(filepath.Join(dir, caKeyFile))
	require.NoError(t, err)
	require.Equal(t, "key", string(got))

	info, err := os.Stat(filepath.Join(dir, caCertFile))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestWritePEMFiles_failureLeavesNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	// The key is moved into place first; the certificate's destination
	// directory does not exist, so its rename fails.
	err := writePEMFiles(dir,
		pemFile{name: caKeyFile, data: []byte("key"), perm: 0o600},
		pemFile{name: filepath.Join("missing", caCertFile), data: []byte("cert"), perm: 0o644},
	)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)

	// With nothing left behind, the next start generates a fresh CA.
	_, err = LoadOrCreateCA(dir, CAConfig{})
	require.NoError(t, err)
}
