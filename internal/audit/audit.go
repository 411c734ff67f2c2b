// Package audit delivers backup lifecycle events to the log and to the
// portal's audit_logs table.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kebairia/portalbackup/internal/database"
	"github.com/kebairia/portalbackup/internal/logger"
)

// Lifecycle events.
const (
	EventBackupCompleted   = "backup.completed"
	EventBackupFailed      = "backup.failed"
	EventRecoveryCompleted = "recovery.completed"
	EventRecoveryFailed    = "recovery.failed"
)

// Actor is written to audit_logs.actor for every event.
const Actor = "portalbackup"

// Sink receives lifecycle events. payload must be JSON-serialisable.
type Sink interface {
	Record(ctx context.Context, event string, payload any) error
}

// LogSink writes events to a logger.
type LogSink struct {
	log logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Record(_ context.Context, event string, payload any) error {
	if event == EventBackupFailed || event == EventRecoveryFailed {
		s.log.Error("Audit event", "event", event, "payload", payload)
		return nil
	}
	s.log.Info("Audit event", "event", event, "payload", payload)
	return nil
}

// DBSink inserts events into audit_logs.
type DBSink struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDBSink(db *gorm.DB) *DBSink {
	return &DBSink{db: db, now: time.Now}
}

func (s *DBSink) Record(ctx context.Context, event string, payload any) error {
	details, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}
	entry := &database.AuditLog{
		Action:    event,
		Actor:     Actor,
		Details:   string(details),
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("insert audit event %s: %w", event, err)
	}
	return nil
}

// MultiSink fans an event out to every sink. All sinks are tried; their
// errors are joined.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, event string, payload any) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, string, any) error { return nil }
