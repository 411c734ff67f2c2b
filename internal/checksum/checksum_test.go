package checksum

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestDigest_KnownValue(t *testing.T) {
	path := write(t, t.TempDir(), "empty", nil)
	sum, err := Digest(path)
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", sum)
}

func TestDigest_IndependentOfPathAndMtime(t *testing.T) {
	data := []byte(strings.Repeat("portal backup ", 10000))
	a := write(t, t.TempDir(), "a.bin", data)
	b := write(t, t.TempDir(), "nested-b.bin", data)
	old := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(b, old, old))

	sumA, err := Digest(a)
	require.NoError(t, err)
	sumB, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, sumA, sumB)
	assert.Len(t, sumA, 64)
}

func TestDigest_SingleByteMutation(t *testing.T) {
	data := []byte(strings.Repeat("x", 4096))
	dir := t.TempDir()
	a := write(t, dir, "a", data)

	mutated := append([]byte(nil), data...)
	mutated[2048] = 'y'
	b := write(t, dir, "b", mutated)

	sumA, err := Digest(a)
	require.NoError(t, err)
	sumB, err := Digest(b)
	require.NoError(t, err)
	assert.NotEqual(t, sumA, sumB)
}

func TestDigest_MissingFile(t *testing.T) {
	_, err := Digest(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestVerify(t *testing.T) {
	path := write(t, t.TempDir(), "f", []byte("hello"))
	sum, err := Digest(path)
	require.NoError(t, err)

	require.NoError(t, Verify(path, sum))

	err = Verify(path, strings.Repeat("0", 64))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMismatch)
}
