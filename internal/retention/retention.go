// Package retention deletes backup archives older than a configured age,
// both in the local backup directory and in the remote store.
package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/kebairia/portalbackup/internal/archive"
	"github.com/kebairia/portalbackup/internal/logger"
	"github.com/kebairia/portalbackup/internal/storage"
)

// Locations reported in Result.
const (
	LocationLocal  = "local"
	LocationRemote = "remote"
)

type Option func(*Enforcer)

// WithStore enables remote retention for objects under prefix.
func WithStore(store storage.Store, prefix string) Option {
	return func(e *Enforcer) {
		e.store = store
		e.prefix = prefix
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) {
		e.now = now
	}
}

func WithLogger(log logger.Logger) Option {
	return func(e *Enforcer) {
		e.log = log
	}
}

// Enforcer prunes archives from one backup directory and, optionally, one
// remote prefix.
type Enforcer struct {
	dir    string
	store  storage.Store
	prefix string
	now    func() time.Time
	log    logger.Logger
}

// NewEnforcer returns an Enforcer over the archives in dir.
func NewEnforcer(dir string, opts ...Option) *Enforcer {
	e := &Enforcer{
		dir: dir,
		now: time.Now,
		log: logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result lists what one Enforce call removed.
type Result struct {
	Local  []string
	Remote []string
}

// Count returns the number of deletions at the given location.
func (r *Result) Count(location string) int {
	if location == LocationRemote {
		return len(r.Remote)
	}
	return len(r.Local)
}

// Enforce deletes archives last modified more than retentionDays ago.
// Archives whose base name is listed in keep are never deleted.
// A non-positive retentionDays disables deletion.
//
// Individual deletion failures do not stop the sweep; they are joined into
// the returned error alongside the partial Result.
func (e *Enforcer) Enforce(ctx context.Context, retentionDays int, keep ...string) (*Result, error) {
	res := &Result{}
	if retentionDays <= 0 {
		return res, nil
	}

	cutoff := e.now().AddDate(0, 0, -retentionDays)
	kept := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		kept[filepath.Base(k)] = struct{}{}
	}

	var errs []error
	if err := e.pruneLocal(cutoff, kept, res); err != nil {
		errs = append(errs, err)
	}
	if e.store != nil {
		if err := e.pruneRemote(ctx, cutoff, kept, res); err != nil {
			errs = append(errs, err)
		}
	}

	e.log.Info("Retention enforced",
		"retention_days", retentionDays,
		"cutoff", cutoff,
		"local_deleted", len(res.Local),
		"remote_deleted", len(res.Remote),
	)
	return res, errors.Join(errs...)
}

func (e *Enforcer) pruneLocal(cutoff time.Time, keep map[string]struct{}, res *Result) error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read backup directory %q: %w", e.dir, err)
	}

	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, archive.Extension) {
			continue
		}
		if _, ok := keep[name]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		p := filepath.Join(e.dir, name)
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.log.Warn("Failed to delete expired archive", "path", p, "error", err)
			errs = append(errs, fmt.Errorf("delete %q: %w", p, err))
			continue
		}
		e.log.Debug("Deleted expired archive", "path", p, "modified", info.ModTime())
		res.Local = append(res.Local, p)
	}
	return errors.Join(errs...)
}

func (e *Enforcer) pruneRemote(ctx context.Context, cutoff time.Time, keep map[string]struct{}, res *Result) error {
	objects, err := e.store.List(ctx, e.listPrefix())
	if err != nil {
		return fmt.Errorf("list remote archives: %w", err)
	}

	var errs []error
	for _, obj := range objects {
		name := path.Base(obj.Key)
		if !strings.HasSuffix(name, archive.Extension) {
			continue
		}
		if _, ok := keep[name]; ok {
			continue
		}
		if obj.LastModified.IsZero() || !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := e.store.Delete(ctx, obj.Key); err != nil {
			e.log.Warn("Failed to delete expired remote archive", "key", obj.Key, "error", err)
			errs = append(errs, fmt.Errorf("delete remote %q: %w", obj.Key, err))
			continue
		}
		e.log.Debug("Deleted expired remote archive", "key", obj.Key, "modified", obj.LastModified)
		res.Remote = append(res.Remote, obj.Key)
	}
	return errors.Join(errs...)
}

func (e *Enforcer) listPrefix() string {
	if e.prefix == "" {
		return ""
	}
	return strings.TrimSuffix(e.prefix, "/") + "/"
}
