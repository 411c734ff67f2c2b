// Package checksum computes content digests used to detect corrupted or
// tampered backup archives.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrMismatch is returned by Verify when a file's digest differs from the expected one.
var ErrMismatch = errors.New("checksum mismatch")

// Digest streams the file at path through SHA-256 and returns the hex digest.
// The result depends only on the file's bytes.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	return DigestReader(f)
}

// DigestReader hashes everything read from r.
func DigestReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the digest of path and compares it with expected.
func Verify(path, expected string) error {
	actual, err := Digest(path)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrMismatch, expected, actual)
	}
	return nil
}
