package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers the handful of path-style S3 calls S3Store makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	headers map[string]http.Header
	deleted []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, headers: map[string]http.Header{}}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// /bucket/key...
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	switch {
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.headers[key] = r.Header.Clone()
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && key == "":
		prefix := r.URL.Query().Get("prefix")
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>portal</Name>`)
		count := 0
		for k, v := range f.objects {
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			count++
			fmt.Fprintf(&b, `<Contents><Key>%s</Key><LastModified>2026-10-01T02:00:00.000Z</LastModified><Size>%d</Size></Contents>`, k, len(v))
		}
		fmt.Fprintf(&b, `<KeyCount>%d</KeyCount><IsTruncated>false</IsTruncated></ListBucketResult>`, count)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(b.String()))
	case r.Method == http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		_, _ = w.Write(body)
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		f.deleted = append(f.deleted, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewS3Store(context.Background(), S3Options{
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
		Region:          "us-east-1",
		Bucket:          "portal",
		Endpoint:        srv.URL,
	})
	require.NoError(t, err)
	return store, fake
}

func TestNewS3Store_RequiresCredentials(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Options{Region: "us-east-1", Bucket: "b"})
	assert.ErrorIs(t, err, ErrIncompleteCredentials)
}

func TestS3Store_UploadRequestsEncryptionAndStorageClass(t *testing.T) {
	store, fake := newTestStore(t)
	local := filepath.Join(t.TempDir(), "b.tar.zst")
	require.NoError(t, os.WriteFile(local, []byte("archive bytes"), 0o600))

	require.NoError(t, store.Upload(context.Background(), local, "backups/b.tar.zst"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Contains(t, fake.objects, "backups/b.tar.zst")
	h := fake.headers["backups/b.tar.zst"]
	assert.Equal(t, "AES256", h.Get("X-Amz-Server-Side-Encryption"))
	assert.Equal(t, "STANDARD_IA", h.Get("X-Amz-Storage-Class"))
}

func TestS3Store_DownloadListDelete(t *testing.T) {
	store, fake := newTestStore(t)
	fake.objects["backups/a.tar.zst"] = []byte("first")
	fake.objects["backups/b.tar.zst"] = []byte("second")
	fake.objects["other/c"] = []byte("ignored")
	ctx := context.Background()

	dest := filepath.Join(t.TempDir(), "restore", "a.tar.zst")
	require.NoError(t, store.Download(ctx, "backups/a.tar.zst", dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	objects, err := store.List(ctx, "backups/")
	require.NoError(t, err)
	assert.Len(t, objects, 2)
	for _, o := range objects {
		assert.True(t, strings.HasPrefix(o.Key, "backups/"))
		assert.False(t, o.LastModified.IsZero())
	}

	require.NoError(t, store.Delete(ctx, "backups/a.tar.zst"))
	assert.Equal(t, []string{"backups/a.tar.zst"}, fake.deleted)
}

func TestS3Store_DownloadMissing(t *testing.T) {
	store, _ := newTestStore(t)
	dest := filepath.Join(t.TempDir(), "x")

	err := store.Download(context.Background(), "backups/none.tar.zst", dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrObjectNotFound)

	_, statErr := os.Stat(dest)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "backups/x.tar.zst", Key("backups", "x.tar.zst"))
	assert.Equal(t, "x.tar.zst", Key("", "x.tar.zst"))
}
