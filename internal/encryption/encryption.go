// Package encryption encrypts backup archives in place.
//
// File layout:
//
//	magic (8) | salt (16) | base nonce (12) | frame...
//	frame = uint32 big-endian length | AES-256-GCM sealed chunk
//
// Plaintext is cut into 64 KiB chunks. Each chunk nonce is the base nonce
// XOR'd with the chunk counter, and the additional data carries the counter
// and a final-chunk flag so reordered, dropped or truncated frames fail to
// authenticate. The AES key is derived from the configured secret with
// HKDF-SHA256 and the per-file salt.
package encryption

import (
	"bufio"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

const (
	chunkSize = 64 * 1024
	saltSize  = 16
	nonceSize = 12
	keySize   = 32
	hkdfInfo  = "portalbackup-archive-v1"
)

var magic = []byte("PBKENC1\x00")

var (
	// ErrNoKey is returned when encryption or decryption is requested without a key.
	ErrNoKey = errors.New("encryption key is not configured")

	// ErrDecryptionFailed is returned for malformed or tampered ciphertext and for a wrong key.
	ErrDecryptionFailed = errors.New("decryption failed: invalid ciphertext or authentication tag")
)

// EncryptFile replaces the file at path with its encrypted form.
func EncryptFile(path, key string) error {
	if key == "" {
		return ErrNoKey
	}
	return rewrite(path, func(dst io.Writer, src io.Reader) error {
		return Encrypt(dst, src, key)
	})
}

// DecryptFile replaces the encrypted file at path with its plaintext. The
// original is left untouched when decryption fails.
func DecryptFile(path, key string) error {
	if key == "" {
		return ErrNoKey
	}
	return rewrite(path, func(dst io.Writer, src io.Reader) error {
		return Decrypt(dst, src, key)
	})
}

// IsEncrypted reports whether the file starts with the encryption header.
func IsEncrypted(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	head := make([]byte, len(magic))
	if _, err := io.ReadFull(f, head); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(head, magic), nil
}

// Encrypt streams src into dst in the chunked format.
func Encrypt(dst io.Writer, src io.Reader, key string) error {
	if key == "" {
		return ErrNoKey
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	aead, err := newAEAD(key, salt)
	if err != nil {
		return err
	}

	header := make([]byte, 0, len(magic)+saltSize+nonceSize)
	header = append(header, magic...)
	header = append(header, salt...)
	header = append(header, nonce...)
	if _, err := dst.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	w := &chunkWriter{dest: dst, aead: aead, nonce: nonce}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	return w.Close()
}

// Decrypt streams the chunked ciphertext from src into dst.
func Decrypt(dst io.Writer, src io.Reader, key string) error {
	if key == "" {
		return ErrNoKey
	}
	br := bufio.NewReader(src)

	header := make([]byte, len(magic)+saltSize+nonceSize)
	if _, err := io.ReadFull(br, header); err != nil {
		return fmt.Errorf("%w: short header", ErrDecryptionFailed)
	}
	if !bytes.Equal(header[:len(magic)], magic) {
		return fmt.Errorf("%w: not an encrypted archive", ErrDecryptionFailed)
	}
	salt := header[len(magic) : len(magic)+saltSize]
	nonce := header[len(magic)+saltSize:]

	aead, err := newAEAD(key, salt)
	if err != nil {
		return err
	}

	var (
		counter uint64
		lenBuf  [4]byte
		sealed  = make([]byte, chunkSize+aead.Overhead())
	)
	for {
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			return fmt.Errorf("%w: missing final chunk", ErrDecryptionFailed)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n < uint32(aead.Overhead()) || n > uint32(len(sealed)) {
			return fmt.Errorf("%w: bad frame length %d", ErrDecryptionFailed, n)
		}
		frame := sealed[:n]
		if _, err := io.ReadFull(br, frame); err != nil {
			return fmt.Errorf("%w: truncated frame", ErrDecryptionFailed)
		}

		_, peekErr := br.Peek(1)
		final := errors.Is(peekErr, io.EOF)
		if peekErr != nil && !final {
			return fmt.Errorf("read ciphertext: %w", peekErr)
		}

		plain, err := aead.Open(nil, chunkNonce(nonce, counter), frame, additionalData(counter, final))
		if err != nil {
			return fmt.Errorf("%w: chunk %d", ErrDecryptionFailed, counter)
		}
		if _, err := dst.Write(plain); err != nil {
			return fmt.Errorf("write plaintext: %w", err)
		}
		if final {
			return nil
		}
		counter++
	}
}

func newAEAD(secret string, salt []byte) (cipher.AEAD, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return aead, nil
}

func chunkNonce(base []byte, counter uint64) []byte {
	nonce := make([]byte, len(base))
	copy(nonce, base)
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], counter)
	off := len(nonce) - len(num)
	for i := range num {
		nonce[off+i] ^= num[i]
	}
	return nonce
}

func additionalData(counter uint64, final bool) []byte {
	ad := make([]byte, 9)
	binary.BigEndian.PutUint64(ad, counter)
	if final {
		ad[8] = 1
	}
	return ad
}

// chunkWriter buffers plaintext and seals it in chunkSize pieces. At least
// one byte beyond a full chunk is held back so Close always emits the final
// frame, even for empty input.
type chunkWriter struct {
	dest    io.Writer
	aead    cipher.AEAD
	nonce   []byte
	counter uint64
	buf     []byte
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for len(w.buf) > chunkSize {
		if err := w.flush(w.buf[:chunkSize], false); err != nil {
			return 0, err
		}
		w.buf = append(w.buf[:0], w.buf[chunkSize:]...)
	}
	return len(p), nil
}

func (w *chunkWriter) Close() error {
	return w.flush(w.buf, true)
}

func (w *chunkWriter) flush(data []byte, final bool) error {
	sealed := w.aead.Seal(nil, chunkNonce(w.nonce, w.counter), data, additionalData(w.counter, final))
	w.counter++

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sealed)))
	if _, err := w.dest.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.dest.Write(sealed)
	return err
}

// rewrite runs transform from path into a sibling temp file and renames it
// over path only if transform succeeds.
func rewrite(path string, transform func(dst io.Writer, src io.Reader) error) (err error) {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = transform(bw, bufio.NewReader(src)); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("flush %q: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %q: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %q: %w", tmp.Name(), err)
	}
	src.Close()
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %q: %w", path, err)
	}
	return nil
}
