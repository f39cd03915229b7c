package mxtool

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	"lukechampine.com/blake3"
)

// hashBytes returns the BLAKE3 digest of data as a hex string. It prefers
// the system b3sum when installed and falls back to the internal
// implementation (32-byte output, no key).
func hashBytes(data []byte) string {
	if _, err := exec.LookPath("b3sum"); err == nil {
		cmd := exec.Command("b3sum")
		cmd.Stdin = bytes.NewReader(data)
		var out bytes.Buffer
		cmd.Stdout = &out
		if err := cmd.Run(); err == nil {
			fields := strings.Fields(out.String())
			if len(fields) > 0 {
				return fields[0]
			}
		}
	}

	h := blake3.New(32, nil)
	h.Write(data)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// verifyDigest checks downloaded content against a known digest. An empty
// expected digest means the source carries no digest and always passes.
func verifyDigest(data []byte, expected string) error {
	if expected == "" {
		return nil
	}
	actual := hashBytes(data)
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: expected %s, got %s", errDigestMismatch, expected, actual)
	}
	return nil
}
