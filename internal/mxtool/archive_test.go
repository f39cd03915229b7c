package mxtool

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTarGz(t *testing.T, dir string, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, "dist.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := pgzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return path
}

func TestUnpackDistributionStripsTopLevelDir(t *testing.T) {
	tmp := t.TempDir()
	archive := writeTarGz(t, tmp, map[string]string{
		"graalvm-1.0/bin/java":       "binary",
		"graalvm-1.0/release":        "GRAAL_VERSION=1.0",
		"graalvm-1.0/jre/lib/rt.jar": "classes",
	})

	dest := filepath.Join(tmp, "graal")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, unpackDistribution(archive, dest))

	data, err := os.ReadFile(filepath.Join(dest, "bin", "java"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))

	data, err = os.ReadFile(filepath.Join(dest, "jre", "lib", "rt.jar"))
	require.NoError(t, err)
	assert.Equal(t, "classes", string(data))

	_, err = os.Stat(filepath.Join(dest, "graalvm-1.0"))
	assert.True(t, os.IsNotExist(err), "wrapper directory must be stripped")
}

func TestUnpackDistributionZip(t *testing.T) {
	tmp := t.TempDir()
	archive := filepath.Join(tmp, "dist.zip")
	require.NoError(t, os.WriteFile(archive, zipWithEntry(t, "doc/readme.txt", []byte("hello")), 0o644))

	dest := filepath.Join(tmp, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, unpackDistribution(archive, dest))

	data, err := os.ReadFile(filepath.Join(dest, "doc", "readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestUnpackDistributionRejectsUnknownFormat(t *testing.T) {
	tmp := t.TempDir()
	archive := filepath.Join(tmp, "dist.rar")
	require.NoError(t, os.WriteFile(archive, []byte("junk"), 0o644))

	err := unpackDistribution(archive, tmp)
	assert.ErrorContains(t, err, "unsupported archive format")
}

func TestUnpackDistributionRejectsPathTraversal(t *testing.T) {
	tmp := t.TempDir()
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "dist/../../escape.txt",
		Mode:     0o644,
		Size:     4,
		Typeflag: tar.TypeReg,
	}))
	_, err := tw.Write([]byte("evil"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	archive := filepath.Join(tmp, "dist.tar.gz")
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o644))

	dest := filepath.Join(tmp, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	assert.Error(t, unpackDistribution(archive, dest))
}
