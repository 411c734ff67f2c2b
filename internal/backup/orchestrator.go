// Package backup runs the backup and recovery pipelines for the portal
// database: export, archive, encrypt, checksum, upload, retention, and the
// reverse path on recovery.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kebairia/portalbackup/internal/archive"
	"github.com/kebairia/portalbackup/internal/audit"
	"github.com/kebairia/portalbackup/internal/checksum"
	"github.com/kebairia/portalbackup/internal/database"
	"github.com/kebairia/portalbackup/internal/encryption"
	"github.com/kebairia/portalbackup/internal/ledger"
	"github.com/kebairia/portalbackup/internal/logger"
	"github.com/kebairia/portalbackup/internal/metrics"
	"github.com/kebairia/portalbackup/internal/retention"
	"github.com/kebairia/portalbackup/internal/storage"
)

// workDirName is the staging area under the backup path. Working and
// extraction directories are created inside it and removed on return.
const workDirName = ".work"

// Exporter moves table snapshots between the database and a directory.
type Exporter interface {
	ExportTables(ctx context.Context, names []string, destDir string) ([]string, error)
	ImportTables(ctx context.Context, names []string, sourceDir string) (*database.ImportResult, error)
}

type Option func(*Orchestrator)

// WithStore uploads archives to store under prefix and lets recovery and
// retention reach them. A nil store means local-only operation.
func WithStore(store storage.Store, prefix string) Option {
	return func(o *Orchestrator) {
		o.store = store
		o.prefix = prefix
	}
}

func WithLedger(l ledger.Ledger) Option {
	return func(o *Orchestrator) {
		o.ledger = l
	}
}

func WithSink(sink audit.Sink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithLogger(log logger.Logger) Option {
	return func(o *Orchestrator) {
		o.log = log
	}
}

func WithEncryptionKey(key string) Option {
	return func(o *Orchestrator) {
		o.key = key
	}
}

// WithTimeout bounds every backup and recovery attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// WithFilePaths sets the trees captured under files/ when IncludeFiles is
// requested, and restored from there on recovery.
func WithFilePaths(paths ...string) Option {
	return func(o *Orchestrator) {
		o.filePaths = paths
	}
}

// WithLogCapture sets where IncludeLogs reads from and how far back.
func WithLogCapture(dir string, maxAge time.Duration) Option {
	return func(o *Orchestrator) {
		o.logDir = dir
		o.logMaxAge = maxAge
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// Orchestrator owns one backup directory. At most one backup, recovery or
// prune runs on it at a time.
type Orchestrator struct {
	dir       string
	exporter  Exporter
	ledger    ledger.Ledger
	store     storage.Store
	prefix    string
	sink      audit.Sink
	metrics   *metrics.Metrics
	log       logger.Logger
	key       string
	timeout   time.Duration
	filePaths []string
	logDir    string
	logMaxAge time.Duration
	now       func() time.Time
	retention *retention.Enforcer

	running atomic.Bool
	mu      sync.RWMutex
	state   State

	// pipeline steps, replaced in tests to inject failures
	pack    func(sourceDir, dest string) error
	encrypt func(path, key string) error
	digest  func(path string) (string, error)
}

// New returns an Orchestrator writing archives to dir. Without WithLedger
// the ledger is <dir>/ledger.jsonl.
func New(dir string, exporter Exporter, opts ...Option) (*Orchestrator, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: backup path is empty", ErrConfiguration)
	}
	if exporter == nil {
		return nil, fmt.Errorf("%w: no table exporter", ErrConfiguration)
	}

	o := &Orchestrator{
		dir:       dir,
		exporter:  exporter,
		sink:      audit.Nop{},
		log:       logger.Nop(),
		logMaxAge: 7 * 24 * time.Hour,
		now:       time.Now,
		state:     StateIdle,
		pack:      archive.Pack,
		encrypt:   encryption.EncryptFile,
		digest:    checksum.Digest,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sink == nil {
		o.sink = audit.Nop{}
	}

	if err := EnsureDirectoryExist(dir); err != nil {
		return nil, err
	}
	if o.ledger == nil {
		l, err := ledger.NewFileLedger(dir)
		if err != nil {
			return nil, err
		}
		o.ledger = l
	}

	ropts := []retention.Option{retention.WithClock(o.now), retention.WithLogger(o.log)}
	if o.store != nil {
		ropts = append(ropts, retention.WithStore(o.store, o.prefix))
	}
	o.retention = retention.NewEnforcer(dir, ropts...)

	return o, nil
}

// State reports the current pipeline stage.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Running reports whether an operation currently holds the orchestrator.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

func (o *Orchestrator) acquire() bool {
	return o.running.CompareAndSwap(false, true)
}

func (o *Orchestrator) release() {
	o.setState(StateIdle)
	o.running.Store(false)
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout > 0 {
		return context.WithTimeout(ctx, o.timeout)
	}
	return context.WithCancel(ctx)
}

// newWorkDir creates a private directory under <dir>/.work.
func (o *Orchestrator) newWorkDir(pattern string) (string, error) {
	root := filepath.Join(o.dir, workDirName)
	if err := EnsureDirectoryExist(root); err != nil {
		return "", err
	}
	return os.MkdirTemp(root, pattern)
}

func (o *Orchestrator) removeWorkDir(dir string, log logger.Logger) {
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("Failed to remove working directory", "path", dir, "error", err)
	}
}

func (o *Orchestrator) archivePath(id string) string {
	return filepath.Join(o.dir, id+archive.Extension)
}

func (o *Orchestrator) emit(ctx context.Context, event string, payload any, log logger.Logger) {
	// A cancelled attempt still reports its outcome.
	ctx = context.WithoutCancel(ctx)
	if err := o.sink.Record(ctx, event, payload); err != nil {
		log.Warn("Failed to record audit event", "event", event, "error", err)
	}
}

// RecoveryPoint summarises one completed backup whose archive still exists.
type RecoveryPoint struct {
	BackupID    string        `json:"backup_id"`
	Description string        `json:"description"`
	Origin      ledger.Origin `json:"origin"`
	CreatedAt   time.Time     `json:"created_at"`
	SizeBytes   int64         `json:"size_bytes"`
	Encrypted   bool          `json:"encrypted"`
	Local       bool          `json:"local"`
	Remote      bool          `json:"remote"`
}

// ListRecoveryPoints returns completed backups, newest first. Backups whose
// archive is gone both locally and remotely, typically pruned by retention,
// are left out.
func (o *Orchestrator) ListRecoveryPoints(ctx context.Context) ([]RecoveryPoint, error) {
	records, err := o.ledger.List()
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	remote := o.remoteKeys(ctx)

	points := make([]RecoveryPoint, 0, len(records))
	for _, rec := range records {
		if rec.Status != ledger.StatusCompleted {
			continue
		}
		name := rec.Archive
		if name == "" {
			name = filepath.Base(o.archivePath(rec.ID))
		}
		local, err := fileExists(filepath.Join(o.dir, name))
		if err != nil {
			return nil, fmt.Errorf("stat archive: %w", err)
		}
		var inStore bool
		if rec.RemoteKey != "" {
			if remote == nil {
				inStore = o.store != nil
			} else {
				_, inStore = remote[rec.RemoteKey]
			}
		}
		if !local && !inStore {
			o.log.Debug("Skipping recovery point without archive", "backup_id", rec.ID)
			continue
		}

		desc := fmt.Sprintf("%s %s backup, %d tables", rec.Origin, rec.Kind, len(rec.Tables))
		if rec.Encrypted {
			desc += ", encrypted"
		}
		points = append(points, RecoveryPoint{
			BackupID:    rec.ID,
			Description: desc,
			Origin:      rec.Origin,
			CreatedAt:   rec.Timestamp,
			SizeBytes:   rec.SizeBytes,
			Encrypted:   rec.Encrypted,
			Local:       local,
			Remote:      inStore,
		})
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].CreatedAt.After(points[j].CreatedAt)
	})
	return points, nil
}

// remoteKeys lists the archive keys held by the store. It returns nil when
// there is no store or the listing fails, in which case the ledger's remote
// keys are trusted.
func (o *Orchestrator) remoteKeys(ctx context.Context) map[string]struct{} {
	if o.store == nil {
		return nil
	}
	prefix := ""
	if o.prefix != "" {
		prefix = strings.TrimSuffix(o.prefix, "/") + "/"
	}
	objects, err := o.store.List(ctx, prefix)
	if err != nil {
		o.log.Warn("Failed to list remote archives", "prefix", prefix, "error", err)
		return nil
	}
	keys := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		keys[obj.Key] = struct{}{}
	}
	return keys
}

// Prune applies retention outside a backup run. It shares the
// single-flight guard with backup and recovery.
func (o *Orchestrator) Prune(ctx context.Context, retentionDays int) (*retention.Result, error) {
	if !o.acquire() {
		o.metrics.ObserveOperation(metrics.OperationPrune, metrics.StatusInProgress, 0)
		return nil, ErrInProgress
	}
	defer o.release()

	start := o.now()
	o.setState(StatePruning)
	res, err := o.retention.Enforce(ctx, retentionDays)
	o.recordRetention(res)

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailure
	}
	o.metrics.ObserveOperation(metrics.OperationPrune, status, o.now().Sub(start))
	return res, err
}

func (o *Orchestrator) recordRetention(res *retention.Result) {
	if res == nil {
		return
	}
	o.metrics.RetentionDeletedAdd(retention.LocationLocal, res.Count(retention.LocationLocal))
	o.metrics.RetentionDeletedAdd(retention.LocationRemote, res.Count(retention.LocationRemote))
}
