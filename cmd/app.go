package cmd

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/kebairia/portalbackup/internal/audit"
	"github.com/kebairia/portalbackup/internal/backup"
	"github.com/kebairia/portalbackup/internal/config"
	"github.com/kebairia/portalbackup/internal/database"
	"github.com/kebairia/portalbackup/internal/logger"
	"github.com/kebairia/portalbackup/internal/metrics"
	"github.com/kebairia/portalbackup/internal/storage"
	"github.com/kebairia/portalbackup/internal/vault"
)

// app holds the components one command invocation needs.
type app struct {
	db           *gorm.DB
	orchestrator *backup.Orchestrator
	metrics      *metrics.Metrics
}

// newApp wires the database, object store, encryption key, audit sinks and
// metrics into an orchestrator.
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN, database.WithDebug(cfg.Database.Debug))
	if err != nil {
		return nil, err
	}
	a := &app{db: db, metrics: metrics.New()}

	key, err := vault.ResolveEncryptionKey(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("%w: %v", backup.ErrConfiguration, err)
	}

	registry := database.NewRegistry(db)
	exporter := database.NewExporter(registry, log.With("component", "database"))

	opts := []backup.Option{
		backup.WithLogger(log.With("component", "backup")),
		backup.WithEncryptionKey(key),
		backup.WithTimeout(cfg.Backup.Timeout),
		backup.WithFilePaths(cfg.Files.Paths...),
		backup.WithLogCapture(cfg.Logs.Directory, cfg.Logs.MaxAge),
		backup.WithMetrics(a.metrics),
		backup.WithSink(audit.MultiSink{
			audit.NewLogSink(log.With("component", "audit")),
			audit.NewDBSink(db),
		}),
	}

	if cfg.Cloud.Enabled() {
		store, err := storage.NewS3Store(ctx, storage.S3Options{
			AccessKeyID:     cfg.Cloud.AccessKeyID,
			SecretAccessKey: cfg.Cloud.SecretAccessKey,
			Region:          cfg.Cloud.Region,
			Bucket:          cfg.Cloud.Bucket,
			Endpoint:        cfg.Cloud.Endpoint,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, backup.WithStore(store, cfg.Cloud.Prefix))
	} else {
		log.Debug("Object storage not configured, running local-only")
	}

	a.orchestrator, err = backup.New(cfg.Backup.Path, exporter, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	if a.db == nil {
		return
	}
	if err := database.Close(a.db); err != nil {
		log.Warn("Failed to close database", "error", err)
	}
}
