package encryption

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestEncryptDecryptFile_RoundTrip(t *testing.T) {
	sizes := []int{0, 1, chunkSize - 1, chunkSize, chunkSize + 1, 3*chunkSize + 17}
	for _, size := range sizes {
		plain := randomBytes(t, size)
		path := filepath.Join(t.TempDir(), "archive.tar.zst")
		require.NoError(t, os.WriteFile(path, plain, 0o600))

		require.NoError(t, EncryptFile(path, "correct horse"))

		enc, err := IsEncrypted(path)
		require.NoError(t, err)
		assert.True(t, enc, "size %d", size)

		cipherText, err := os.ReadFile(path)
		require.NoError(t, err)
		if size > 0 {
			assert.False(t, bytes.Contains(cipherText, plain), "size %d", size)
		}

		require.NoError(t, DecryptFile(path, "correct horse"))
		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, plain, got, "size %d", size)
	}
}

func TestDecryptFile_WrongKeyLeavesFileIntact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a")
	require.NoError(t, os.WriteFile(path, []byte("rows"), 0o600))
	require.NoError(t, EncryptFile(path, "right"))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = DecryptFile(path, "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be removed")
}

func TestDecrypt_DetectsTampering(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encrypt(&buf, bytes.NewReader(randomBytes(t, 2*chunkSize+10)), "k"))
	data := buf.Bytes()

	t.Run("flipped byte", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[len(bad)/2] ^= 0xff
		err := Decrypt(&bytes.Buffer{}, bytes.NewReader(bad), "k")
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("truncated at frame boundary", func(t *testing.T) {
		header := len(magic) + saltSize + nonceSize
		frame := 4 + chunkSize + 16
		bad := data[:header+2*frame]
		err := Decrypt(&bytes.Buffer{}, bytes.NewReader(bad), "k")
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("not encrypted", func(t *testing.T) {
		err := Decrypt(&bytes.Buffer{}, bytes.NewReader([]byte("plain tar bytes here....")), "k")
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})
}

func TestEncryptFile_RequiresKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	assert.ErrorIs(t, EncryptFile(path, ""), ErrNoKey)
	assert.ErrorIs(t, DecryptFile(path, ""), ErrNoKey)
}

func TestIsEncrypted_PlainAndShortFiles(t *testing.T) {
	dir := t.TempDir()
	short := filepath.Join(dir, "short")
	require.NoError(t, os.WriteFile(short, []byte("ab"), 0o600))
	enc, err := IsEncrypted(short)
	require.NoError(t, err)
	assert.False(t, enc)

	plain := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(plain, bytes.Repeat([]byte("z"), 64), 0o600))
	enc, err = IsEncrypted(plain)
	require.NoError(t, err)
	assert.False(t, enc)
}
