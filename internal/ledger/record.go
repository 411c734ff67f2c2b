package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind of backup. Only full backups are produced today.
type Kind string

const (
	KindFull        Kind = "full"
	KindIncremental Kind = "incremental"
)

// Origin records what triggered a backup.
type Origin string

const (
	OriginAutomatic Origin = "automatic"
	OriginManual    Origin = "manual"
)

// Status is the lifecycle state of a backup attempt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress},
	StatusInProgress: {StatusCompleted, StatusFailed},
}

// Record describes one backup attempt.
type Record struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        Kind      `json:"kind"`
	Origin      Origin    `json:"origin"`
	SizeBytes   int64     `json:"size_bytes"`
	Tables      []string  `json:"tables"`
	Checksum    string    `json:"checksum,omitempty"`
	Encrypted   bool      `json:"encrypted"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Archive     string    `json:"archive,omitempty"`
	RemoteKey   string    `json:"remote_key,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// NewRecord returns a pending record with a fresh id derived from now.
func NewRecord(now time.Time, kind Kind, origin Origin, encrypted bool) *Record {
	return &Record{
		ID:        NewID(now),
		Timestamp: now.UTC(),
		Kind:      kind,
		Origin:    origin,
		Encrypted: encrypted,
		Status:    StatusPending,
	}
}

// NewID returns "backup-<utc timestamp>-<random suffix>".
func NewID(now time.Time) string {
	return fmt.Sprintf("backup-%s-%s", now.UTC().Format("20060102-150405"), uuid.NewString()[:8])
}

// Transition moves the record to next, rejecting moves the lifecycle does not allow.
func (r *Record) Transition(next Status) error {
	for _, allowed := range transitions[r.Status] {
		if allowed == next {
			r.Status = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
}

// Fail moves the record to failed and stores the cause.
func (r *Record) Fail(cause error, at time.Time) error {
	if err := r.Transition(StatusFailed); err != nil {
		return err
	}
	if cause != nil {
		r.Error = cause.Error()
	}
	r.CompletedAt = at.UTC()
	return nil
}

// Complete moves the record to completed.
func (r *Record) Complete(at time.Time) error {
	if err := r.Transition(StatusCompleted); err != nil {
		return err
	}
	r.CompletedAt = at.UTC()
	return nil
}
