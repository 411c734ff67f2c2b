package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kebairia/portalbackup/internal/audit"
	"github.com/kebairia/portalbackup/internal/ledger"
	"github.com/kebairia/portalbackup/internal/logger"
	"github.com/kebairia/portalbackup/internal/metrics"
	"github.com/kebairia/portalbackup/internal/storage"
)

// Options controls one backup attempt.
type Options struct {
	// Tables restricts the export; empty means every registered table.
	Tables       []string
	IncludeFiles bool
	IncludeLogs  bool
	Encrypt      bool
	// RetentionDays prunes older archives after a successful backup.
	// Zero disables pruning.
	RetentionDays int
}

// Event is the payload sent to the audit sink.
type Event struct {
	BackupID string          `json:"backup_id"`
	Record   *ledger.Record  `json:"record,omitempty"`
	Recovery *RecoveryResult `json:"recovery,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// PerformBackup exports the portal tables into a new archive in the backup
// directory, optionally encrypts and uploads it, and records the attempt
// in the ledger. The returned record is non-nil whenever an attempt was
// started, including failed ones.
func (o *Orchestrator) PerformBackup(ctx context.Context, origin ledger.Origin, opts Options) (*ledger.Record, error) {
	if !o.acquire() {
		o.metrics.ObserveOperation(metrics.OperationBackup, metrics.StatusInProgress, 0)
		return nil, ErrInProgress
	}
	defer o.release()

	start := o.now()
	rec := ledger.NewRecord(start, ledger.KindFull, origin, opts.Encrypt)
	if err := rec.Transition(ledger.StatusInProgress); err != nil {
		return nil, err
	}
	log := o.log.With("backup_id", rec.ID, "origin", origin)
	log.Info("Backup started", "encrypt", opts.Encrypt, "include_files", opts.IncludeFiles, "include_logs", opts.IncludeLogs)

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()

	if err := o.runBackup(ctx, rec, opts, log); err != nil {
		o.failBackup(ctx, rec, err, log)
		o.metrics.ObserveOperation(metrics.OperationBackup, metrics.StatusFailure, o.now().Sub(start))
		return rec, err
	}

	if opts.RetentionDays > 0 {
		o.setState(StatePruning)
		res, err := o.retention.Enforce(ctx, opts.RetentionDays, rec.Archive)
		o.recordRetention(res)
		if err != nil {
			return rec, o.abandon(ctx, rec, fmt.Errorf("enforce retention: %w", err), start, log)
		}
	}

	done := *rec
	if err := done.Complete(o.now()); err != nil {
		return rec, err
	}
	if err := o.ledger.Append(&done); err != nil {
		return rec, o.abandon(ctx, rec, fmt.Errorf("record backup %s: %w", rec.ID, err), start, log)
	}
	*rec = done
	o.setState(StateCompleted)

	o.emit(ctx, audit.EventBackupCompleted, Event{BackupID: rec.ID, Record: rec}, log)
	o.metrics.ObserveOperation(metrics.OperationBackup, metrics.StatusSuccess, o.now().Sub(start))
	o.metrics.BackupCompleted(rec.SizeBytes, rec.CompletedAt)

	log.Info("Backup completed",
		"archive", rec.Archive,
		"size_bytes", rec.SizeBytes,
		"tables", len(rec.Tables),
		"remote_key", rec.RemoteKey,
		"duration", rec.CompletedAt.Sub(rec.Timestamp),
	)
	return rec, nil
}

// runBackup stages, packs, encrypts, checksums and uploads one archive.
// On error the archive is removed from the backup directory; the working
// directory is removed on every path.
func (o *Orchestrator) runBackup(ctx context.Context, rec *ledger.Record, opts Options, log logger.Logger) (err error) {
	if opts.Encrypt && o.key == "" {
		return fmt.Errorf("%w: encryption requested but no encryption key is configured", ErrConfiguration)
	}

	archivePath := o.archivePath(rec.ID)
	defer func() {
		if err == nil {
			return
		}
		for _, p := range []string{archivePath, archivePath + ".tmp"} {
			if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				log.Warn("Failed to remove partial archive", "path", p, "error", rmErr)
			}
		}
	}()

	work, err := o.newWorkDir(rec.ID + "-")
	if err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}
	defer func() {
		o.setState(StateCleaningUp)
		o.removeWorkDir(work, log)
	}()

	o.setState(StateExporting)
	tables, err := o.exporter.ExportTables(ctx, opts.Tables, work)
	rec.Tables = tables
	if err != nil {
		return fmt.Errorf("export tables: %w", err)
	}

	manifest := Manifest{
		Version:   ManifestVersion,
		BackupID:  rec.ID,
		CreatedAt: rec.Timestamp,
		Kind:      rec.Kind,
		Tables:    tables,
	}
	if opts.IncludeFiles {
		if manifest.Files, err = o.captureFiles(filepath.Join(work, "files"), log); err != nil {
			return err
		}
	}
	if opts.IncludeLogs {
		if manifest.Logs, err = o.captureLogs(filepath.Join(work, "logs"), log); err != nil {
			return err
		}
	}
	if err := manifest.Write(work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	o.setState(StateArchiving)
	if err := o.pack(work, archivePath); err != nil {
		return fmt.Errorf("pack archive: %w", err)
	}
	rec.Archive = filepath.Base(archivePath)

	if opts.Encrypt {
		o.setState(StateEncrypting)
		if err := o.encrypt(archivePath, o.key); err != nil {
			return fmt.Errorf("encrypt archive: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	o.setState(StateChecksumming)
	sum, err := o.digest(archivePath)
	if err != nil {
		return fmt.Errorf("checksum archive: %w", err)
	}
	info, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}
	rec.Checksum = sum
	rec.SizeBytes = info.Size()

	if o.store != nil {
		o.setState(StateUploading)
		key := storage.Key(o.prefix, rec.Archive)
		if err := o.store.Upload(ctx, archivePath, key); err != nil {
			return fmt.Errorf("upload archive: %w", err)
		}
		rec.RemoteKey = key
		log.Info("Archive uploaded", "key", key)
	}
	return nil
}

// abandon fails an attempt whose archive was already stored: the archive
// and its uploaded copy are removed before the failure is recorded.
func (o *Orchestrator) abandon(ctx context.Context, rec *ledger.Record, cause error, start time.Time, log logger.Logger) error {
	o.discardArchive(ctx, rec, log)
	o.failBackup(ctx, rec, cause, log)
	o.metrics.ObserveOperation(metrics.OperationBackup, metrics.StatusFailure, o.now().Sub(start))
	return cause
}

func (o *Orchestrator) failBackup(ctx context.Context, rec *ledger.Record, cause error, log logger.Logger) {
	o.setState(StateFailed)
	if err := rec.Fail(cause, o.now()); err != nil {
		log.Error("Failed to mark backup as failed", "error", err)
	}
	log.Error("Backup failed", "error", cause)
	if err := o.ledger.Append(rec); err != nil {
		log.Error("Failed to record failed backup", "error", err)
	}
	o.emit(ctx, audit.EventBackupFailed, Event{BackupID: rec.ID, Record: rec, Error: cause.Error()}, log)
}

// discardArchive removes the local archive and its uploaded copy of an
// attempt that could not be recorded, since no validated recovery could
// use them.
func (o *Orchestrator) discardArchive(ctx context.Context, rec *ledger.Record, log logger.Logger) {
	o.setState(StateCleaningUp)
	if rec.Archive != "" {
		path := filepath.Join(o.dir, rec.Archive)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to remove unrecorded archive", "path", path, "error", err)
		} else {
			rec.Archive = ""
		}
	}
	if rec.RemoteKey != "" && o.store != nil {
		if err := o.store.Delete(context.WithoutCancel(ctx), rec.RemoteKey); err != nil {
			log.Warn("Failed to remove unrecorded remote archive", "key", rec.RemoteKey, "error", err)
		} else {
			rec.RemoteKey = ""
		}
	}
}

// captureFiles copies every configured path into dest/<base name>.
func (o *Orchestrator) captureFiles(dest string, log logger.Logger) ([]string, error) {
	seen := make(map[string]string, len(o.filePaths))
	var captured []string
	for _, src := range o.filePaths {
		name := filepath.Base(filepath.Clean(src))
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: file paths %q and %q share the name %q", ErrConfiguration, prev, src, name)
		}
		seen[name] = src

		n, err := copyPath(src, filepath.Join(dest, name))
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("Skipping missing file path", "path", src)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("capture files from %q: %w", src, err)
		}
		log.Debug("Captured files", "path", src, "count", n)
		captured = append(captured, name)
	}
	return captured, nil
}

// captureLogs copies log files modified within the configured window.
func (o *Orchestrator) captureLogs(dest string, log logger.Logger) (int, error) {
	if o.logDir == "" {
		log.Warn("Log capture requested but no log directory is configured")
		return 0, nil
	}
	since := o.now().Add(-o.logMaxAge)
	n, err := copyTree(o.logDir, dest, since)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("Skipping missing log directory", "path", o.logDir)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("capture logs from %q: %w", o.logDir, err)
	}
	log.Debug("Captured logs", "path", o.logDir, "count", n)
	return n, nil
}
