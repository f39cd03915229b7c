package mxtool

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const fetchUserAgent = "mxtool/1.0"

func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	// Some library hosts are slow to complete the handshake; default 10s is
	// not enough.
	transport.TLSHandshakeTimeout = 30 * time.Second

	return &http.Client{
		Transport: transport,
		Timeout:   300 * time.Second, // 5 min total timeout for large downloads
	}
}

// Fetcher acquires external content (library jars, toolchain archives) from
// an ordered list of sources, falling back to the delegated fetch helper
// when every source fails.
type Fetcher struct {
	runner *Runner
	client *http.Client
}

func NewFetcher(runner *Runner) *Fetcher {
	return &Fetcher{runner: runner, client: newHTTPClient()}
}

// Fetch writes the content of the first reachable source to dest. A locator
// is either a plain URL or "archiveURL!entry" naming a member of a zip/jar
// archive. Per-source failures are logged and the next source is tried;
// only full exhaustion, including the delegated helper, is fatal.
func (f *Fetcher) Fetch(dest string, sources []string) error {
	return f.FetchVerified(dest, "", sources)
}

// FetchVerified additionally checks the acquired bytes against a BLAKE3
// digest when one is known. A mismatch counts as a source failure.
func (f *Fetcher) FetchVerified(dest, digest string, sources []string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return abortf(1, "could not create parent directory for %s: %v", dest, err)
	}

	for _, locator := range sources {
		data, err := f.fetchOne(locator)
		if err == nil {
			err = verifyDigest(data, digest)
		}
		if err != nil {
			colWarn.Printf("source %s failed: %v\n", locator, err)
			continue
		}
		if err := writeLocked(dest, data); err != nil {
			return err
		}
		return nil
	}

	return f.delegatedFetch(dest, sources)
}

// fetchOne acquires the bytes behind one locator.
func (f *Fetcher) fetchOne(locator string) ([]byte, error) {
	archiveURL, entry, qualified := strings.Cut(locator, "!")
	if !qualified {
		return f.download(locator)
	}
	if entry == "" {
		return nil, fmt.Errorf("%w: %s", errUnknownLocator, locator)
	}

	// The whole archive is loaded into memory; library jars and their
	// enclosing distributions are small enough for that.
	archive, err := f.download(archiveURL)
	if err != nil {
		return nil, err
	}
	return extractZipEntry(archive, entry)
}

// download GETs a URL and returns the full body, showing a progress bar on a
// terminal.
func (f *Fetcher) download(url string) ([]byte, error) {
	debugf("Downloading %s\n", url)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %s", resp.Status)
	}

	var buf bytes.Buffer
	var dst io.Writer = &buf
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(url))
		defer bar.Close()
		dst = io.MultiWriter(&buf, bar)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeLocked writes the fetched bytes under an exclusive flock so that an
// overlapping fetch of the same destination from another process never
// interleaves partial content.
func writeLocked(dest string, data []byte) error {
	lockPath := dest + ".lock"
	lFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return abortf(1, "could not create lock file for %s: %v", dest, err)
	}
	defer lFile.Close()

	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return abortf(1, "could not lock %s: %v", dest, err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return abortf(1, "could not write %s: %v", dest, err)
	}
	_ = os.Remove(lockPath)
	return nil
}

// extractZipEntry returns the bytes of the named member of an in-memory
// zip/jar archive.
func extractZipEntry(archive []byte, entry string) ([]byte, error) {
	r, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("malformed archive: %w", err)
	}
	for _, f := range r.File {
		if f.Name != entry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%w: %s", errEntryNotFound, entry)
}

// delegatedFetch is the last resort: an independently built helper gets the
// destination and the raw source list and is trusted to know retrieval
// tricks we do not. A nonzero exit exhausts all options.
func (f *Fetcher) delegatedFetch(dest string, sources []string) error {
	plain := make([]string, 0, len(sources))
	for _, locator := range sources {
		archiveURL, _, qualified := strings.Cut(locator, "!")
		if qualified {
			plain = append(plain, archiveURL)
		} else {
			plain = append(plain, locator)
		}
	}

	inv := Command(append([]string{fetchHelper, dest}, plain...)...)
	inv.NonZeroIsFatal = false
	code, err := f.runner.Run(inv)
	if err != nil || code != 0 {
		return abortf(1, "could not download %s from any of:\n  %s\nplease retrieve it manually and place it at %s",
			filepath.Base(dest), strings.Join(sources, "\n  "), dest)
	}
	return nil
}
