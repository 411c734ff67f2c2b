package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kebairia/portalbackup/internal/archive"
	"github.com/kebairia/portalbackup/internal/audit"
	"github.com/kebairia/portalbackup/internal/checksum"
	"github.com/kebairia/portalbackup/internal/database"
	"github.com/kebairia/portalbackup/internal/encryption"
	"github.com/kebairia/portalbackup/internal/ledger"
	"github.com/kebairia/portalbackup/internal/logger"
	"github.com/kebairia/portalbackup/internal/metrics"
	"github.com/kebairia/portalbackup/internal/storage"
)

// Archive sources reported in RecoveryResult.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// RecoveryOptions controls one recovery.
type RecoveryOptions struct {
	// Tables restricts the restore; empty means the tables recorded for
	// the backup.
	Tables []string
	// SkipValidation restores without a ledger record or checksum check.
	SkipValidation bool
}

// RecoveryResult reports what a recovery restored.
type RecoveryResult struct {
	BackupID string         `json:"backup_id"`
	Source   string         `json:"source"`
	Restored map[string]int `json:"restored"`
	Skipped  []string       `json:"skipped,omitempty"`
	Files    []string       `json:"files,omitempty"`
}

// PerformRecovery restores the portal tables, and any captured file trees,
// from the archive of backup id. The archive is verified against its
// ledger checksum before any table is modified unless
// opts.SkipValidation is set.
func (o *Orchestrator) PerformRecovery(ctx context.Context, id string, opts RecoveryOptions) (*RecoveryResult, error) {
	if !o.acquire() {
		o.metrics.ObserveOperation(metrics.OperationRecovery, metrics.StatusInProgress, 0)
		return nil, ErrInProgress
	}
	defer o.release()

	start := o.now()
	log := o.log.With("backup_id", id)
	log.Info("Recovery started", "tables", opts.Tables, "skip_validation", opts.SkipValidation)

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	res, err := o.runRecovery(ctx, id, opts, log)
	if err != nil {
		o.setState(StateFailed)
		log.Error("Recovery failed", "error", err)
		o.emit(ctx, audit.EventRecoveryFailed, Event{BackupID: id, Recovery: res, Error: err.Error()}, log)
		o.metrics.ObserveOperation(metrics.OperationRecovery, metrics.StatusFailure, o.now().Sub(start))
		return res, err
	}

	o.setState(StateCompleted)
	o.emit(ctx, audit.EventRecoveryCompleted, Event{BackupID: id, Recovery: res}, log)
	o.metrics.ObserveOperation(metrics.OperationRecovery, metrics.StatusSuccess, o.now().Sub(start))
	log.Info("Recovery completed", "source", res.Source, "tables", len(res.Restored), "skipped", res.Skipped, "files", res.Files)
	return res, nil
}

func (o *Orchestrator) runRecovery(ctx context.Context, id string, opts RecoveryOptions, log logger.Logger) (*RecoveryResult, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return nil, fmt.Errorf("%w: invalid backup id %q", ErrNotFound, id)
	}

	o.setState(StateResolving)
	rec, err := o.ledger.Get(id)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		rec = nil
	case err != nil:
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if !opts.SkipValidation {
		if rec == nil {
			return nil, fmt.Errorf("%w: no ledger record for %s", ErrNotFound, id)
		}
		if rec.Status != ledger.StatusCompleted {
			return nil, fmt.Errorf("%w: backup %s did not complete (status %s)", ErrNotFound, id, rec.Status)
		}
	}

	work, err := o.newWorkDir("restore-" + id + "-")
	if err != nil {
		return nil, fmt.Errorf("create extraction directory: %w", err)
	}
	defer func() {
		o.setState(StateCleaningUp)
		o.removeWorkDir(work, log)
	}()

	archivePath, source, err := o.resolveArchive(ctx, id, rec, work, log)
	if err != nil {
		return nil, err
	}
	res := &RecoveryResult{BackupID: id, Source: source}

	if !opts.SkipValidation {
		o.setState(StateVerifying)
		if err := checksum.Verify(archivePath, rec.Checksum); err != nil {
			if errors.Is(err, checksum.ErrMismatch) {
				return res, fmt.Errorf("%w: %v", ErrIntegrity, err)
			}
			return res, fmt.Errorf("verify archive: %w", err)
		}
	}

	encrypted, err := encryption.IsEncrypted(archivePath)
	if err != nil {
		return res, fmt.Errorf("inspect archive: %w", err)
	}
	if encrypted {
		o.setState(StateDecrypting)
		if o.key == "" {
			return res, fmt.Errorf("%w: archive is encrypted but no encryption key is configured", ErrConfiguration)
		}
		plain := filepath.Join(work, "archive"+archive.Extension)
		if err := decryptTo(archivePath, plain, o.key); err != nil {
			if errors.Is(err, encryption.ErrDecryptionFailed) {
				return res, fmt.Errorf("%w: %w", ErrIntegrity, err)
			}
			return res, fmt.Errorf("decrypt archive: %w", err)
		}
		archivePath = plain
	}

	o.setState(StateUnpacking)
	if !opts.SkipValidation {
		if err := checkTableFiles(archivePath, rec.Tables); err != nil {
			return res, err
		}
	}
	extract := filepath.Join(work, "extract")
	if err := archive.Unpack(archivePath, extract); err != nil {
		return res, fmt.Errorf("unpack archive: %w", err)
	}

	tables := opts.Tables
	if len(tables) == 0 {
		if tables, err = recordedTables(rec, extract); err != nil {
			return res, err
		}
	}

	o.setState(StateRestoring)
	imported, err := o.exporter.ImportTables(ctx, tables, extract)
	if imported != nil {
		res.Restored = imported.Restored
		res.Skipped = imported.Skipped
	}
	if err != nil {
		return res, fmt.Errorf("restore tables: %w", err)
	}

	if res.Files, err = o.restoreFiles(filepath.Join(extract, "files"), log); err != nil {
		return res, err
	}
	return res, nil
}

// resolveArchive returns the local archive for id, downloading it into
// work when only the remote copy exists.
func (o *Orchestrator) resolveArchive(ctx context.Context, id string, rec *ledger.Record, work string, log logger.Logger) (string, string, error) {
	local := o.archivePath(id)
	ok, err := fileExists(local)
	if err != nil {
		return "", "", fmt.Errorf("stat archive: %w", err)
	}
	if ok {
		return local, SourceLocal, nil
	}
	if o.store == nil {
		return "", "", fmt.Errorf("%w: no archive for %s in %s", ErrNotFound, id, o.dir)
	}

	key := storage.Key(o.prefix, filepath.Base(local))
	if rec != nil && rec.RemoteKey != "" {
		key = rec.RemoteKey
	}
	dest := filepath.Join(work, "download"+archive.Extension)
	log.Info("Archive not found locally, downloading", "key", key)
	if err := o.store.Download(ctx, key, dest); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return "", "", fmt.Errorf("%w: no archive for %s locally or at %s", ErrNotFound, id, key)
		}
		return "", "", fmt.Errorf("download archive: %w", err)
	}
	return dest, SourceRemote, nil
}

// decryptTo writes the plaintext of src to dst. The stored archive is
// never modified.
func decryptTo(src, dst, key string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()
	return encryption.Decrypt(out, in, key)
}

// checkTableFiles fails unless the table files at the archive root are
// exactly the tables the ledger says were exported.
func checkTableFiles(archivePath string, tables []string) error {
	entries, err := archive.List(archivePath)
	if err != nil {
		return fmt.Errorf("list archive: %w", err)
	}
	present := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e == ManifestFilename || strings.Contains(e, "/") || filepath.Ext(e) != database.FileExtension {
			continue
		}
		present[strings.TrimSuffix(e, database.FileExtension)] = struct{}{}
	}
	for _, t := range tables {
		if _, ok := present[t]; !ok {
			return fmt.Errorf("%w: archive has no data file for table %q", ErrIntegrity, t)
		}
		delete(present, t)
	}
	if len(present) > 0 {
		extra := make([]string, 0, len(present))
		for t := range present {
			extra = append(extra, t)
		}
		sort.Strings(extra)
		return fmt.Errorf("%w: archive has data for unrecorded tables %v", ErrIntegrity, extra)
	}
	return nil
}

// recordedTables returns the tables to restore when none were requested:
// the ledger's list, else the manifest's, else every table file present.
func recordedTables(rec *ledger.Record, extract string) ([]string, error) {
	if rec != nil && len(rec.Tables) > 0 {
		return rec.Tables, nil
	}

	var m Manifest
	if err := m.Load(filepath.Join(extract, ManifestFilename)); err == nil && len(m.Tables) > 0 {
		return m.Tables, nil
	}

	entries, err := os.ReadDir(extract)
	if err != nil {
		return nil, fmt.Errorf("read extracted archive: %w", err)
	}
	var tables []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == ManifestFilename || filepath.Ext(name) != database.FileExtension {
			continue
		}
		tables = append(tables, strings.TrimSuffix(name, database.FileExtension))
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: archive contains no table data", archive.ErrCorrupt)
	}
	sort.Strings(tables)
	return tables, nil
}

// restoreFiles copies each captured tree back to the configured path with
// the same base name. Trees without a configured destination are skipped.
func (o *Orchestrator) restoreFiles(src string, log logger.Logger) ([]string, error) {
	entries, err := os.ReadDir(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read captured files: %w", err)
	}

	targets := make(map[string]string, len(o.filePaths))
	for _, p := range o.filePaths {
		targets[filepath.Base(filepath.Clean(p))] = p
	}

	var restored []string
	for _, e := range entries {
		dest, ok := targets[e.Name()]
		if !ok {
			log.Warn("No configured destination for captured files", "name", e.Name())
			continue
		}
		n, err := copyPath(filepath.Join(src, e.Name()), dest)
		if err != nil {
			return restored, fmt.Errorf("restore files to %q: %w", dest, err)
		}
		log.Info("Files restored", "path", dest, "count", n)
		restored = append(restored, dest)
	}
	return restored, nil
}
