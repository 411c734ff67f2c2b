// Package storagetest provides an in-memory storage.Store for tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kebairia/portalbackup/internal/storage"
)

// MemStore keeps objects in memory. Fail* fields inject errors.
type MemStore struct {
	mu       sync.Mutex
	objects  map[string]memObject
	Uploads  []string
	Deletes  []string
	Now      func() time.Time
	FailPut  error
	FailGet  error
	FailList error
}

type memObject struct {
	data     []byte
	modified time.Time
}

var _ storage.Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{objects: map[string]memObject{}, Now: time.Now}
}

// Put stores data under key with the given modification time.
func (m *MemStore) Put(key string, data []byte, modified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: append([]byte(nil), data...), modified: modified}
}

// Has reports whether key is stored.
func (m *MemStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// Keys returns every stored key in order.
func (m *MemStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemStore) Upload(ctx context.Context, localPath, key string) error {
	if m.FailPut != nil {
		return m.FailPut
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.Put(key, data, m.Now())
	m.mu.Lock()
	m.Uploads = append(m.Uploads, key)
	m.mu.Unlock()
	return ctx.Err()
}

func (m *MemStore) Download(_ context.Context, key, localPath string) error {
	if m.FailGet != nil {
		return m.FailGet
	}
	m.mu.Lock()
	obj, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, obj.data, 0o600)
}

func (m *MemStore) List(_ context.Context, prefix string) ([]storage.Object, error) {
	if m.FailList != nil {
		return nil, m.FailList
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Object
	for k, obj := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.Object{Key: k, Size: int64(len(obj.data)), LastModified: obj.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return errors.New("no such key: " + key)
	}
	delete(m.objects, key)
	m.Deletes = append(m.Deletes, key)
	return nil
}
