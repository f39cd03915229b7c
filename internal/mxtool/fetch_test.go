package mxtool

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipWithEntry(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newFetchServer(t *testing.T, jarBytes, zipBytes []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/lib.jar", func(w http.ResponseWriter, r *http.Request) {
		w.Write(jarBytes)
	})
	mux.HandleFunc("/dist.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipBytes)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchPlainURL(t *testing.T) {
	jar := []byte("jar bytes")
	srv := newFetchServer(t, jar, nil)

	dest := filepath.Join(t.TempDir(), "lib", "checkstyle.jar")
	f := NewFetcher(testRunner())
	require.NoError(t, f.Fetch(dest, []string{srv.URL + "/lib.jar"}))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, jar, data)
}

func TestFetchFallsThroughToArchiveSource(t *testing.T) {
	entry := []byte("the embedded jar")
	archive := zipWithEntry(t, "lib/inner.jar", entry)
	srv := newFetchServer(t, nil, archive)

	dest := filepath.Join(t.TempDir(), "inner.jar")
	f := NewFetcher(testRunner())
	sources := []string{
		srv.URL + "/broken",
		srv.URL + "/dist.zip!lib/inner.jar",
	}
	require.NoError(t, f.Fetch(dest, sources))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, entry, data, "destination must hold exactly the entry bytes")
}

func TestFetchMissingArchiveEntryAdvances(t *testing.T) {
	jar := []byte("fallback jar")
	archive := zipWithEntry(t, "other/name.jar", []byte("wrong"))
	srv := newFetchServer(t, jar, archive)

	dest := filepath.Join(t.TempDir(), "lib.jar")
	f := NewFetcher(testRunner())
	sources := []string{
		srv.URL + "/dist.zip!lib/inner.jar",
		srv.URL + "/lib.jar",
	}
	require.NoError(t, f.Fetch(dest, sources))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, jar, data)
}

func TestFetchVerifiedAcceptsMatchingDigest(t *testing.T) {
	jar := []byte("real content")
	srv := newFetchServer(t, jar, nil)

	dest := filepath.Join(t.TempDir(), "lib.jar")
	f := NewFetcher(testRunner())

	good := hashBytes(jar)
	require.NoError(t, f.FetchVerified(dest, good, []string{srv.URL + "/lib.jar"}))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, jar, data)
}

func TestFetchVerifiedRejectsWrongDigest(t *testing.T) {
	jar := []byte("real content")
	srv := newFetchServer(t, jar, nil)

	prev := fetchHelper
	fetchHelper = "false"
	t.Cleanup(func() { fetchHelper = prev })

	dest := filepath.Join(t.TempDir(), "lib.jar")
	f := NewFetcher(testRunner())
	err := f.FetchVerified(dest, hashBytes([]byte("something else")), []string{srv.URL + "/lib.jar"})

	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "mismatching content must not be materialized")
}

func TestFetchExhaustedSourcesUsesDelegatedHelper(t *testing.T) {
	srv := newFetchServer(t, nil, nil)

	helper := filepath.Join(t.TempDir(), "mx-fetch")
	script := "#!/bin/sh\nprintf 'delegated content' > \"$1\"\nexit 0\n"
	require.NoError(t, os.WriteFile(helper, []byte(script), 0o755))

	prev := fetchHelper
	fetchHelper = helper
	t.Cleanup(func() { fetchHelper = prev })

	dest := filepath.Join(t.TempDir(), "lib.jar")
	f := NewFetcher(testRunner())
	require.NoError(t, f.Fetch(dest, []string{srv.URL + "/broken"}))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "delegated content", string(data))
}

func TestFetchAbortsWhenEverythingFails(t *testing.T) {
	srv := newFetchServer(t, nil, nil)

	prev := fetchHelper
	fetchHelper = "false"
	t.Cleanup(func() { fetchHelper = prev })

	dest := filepath.Join(t.TempDir(), "lib.jar")
	f := NewFetcher(testRunner())
	err := f.Fetch(dest, []string{srv.URL + "/broken", srv.URL + "/also-broken"})

	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Contains(t, abort.Msg, "/broken", "abort must list the attempted sources")
	assert.Contains(t, abort.Msg, "/also-broken")
}

func TestFetcherSendsUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "f")
	require.NoError(t, NewFetcher(testRunner()).Fetch(dest, []string{srv.URL}))
	assert.Equal(t, fetchUserAgent, got)
}

func TestExtractZipEntry(t *testing.T) {
	archive := zipWithEntry(t, "a/b/c.txt", []byte("payload"))

	data, err := extractZipEntry(archive, "a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = extractZipEntry(archive, "missing")
	assert.ErrorIs(t, err, errEntryNotFound)

	_, err = extractZipEntry([]byte("not a zip"), "x")
	assert.Error(t, err)
}
