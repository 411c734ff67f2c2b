package backup

import "errors"

// State is the pipeline stage an orchestrator is in.
type State string

const (
	StateIdle         State = "idle"
	StateExporting    State = "exporting"
	StateArchiving    State = "archiving"
	StateEncrypting   State = "encrypting"
	StateChecksumming State = "checksumming"
	StateUploading    State = "uploading"
	StateCleaningUp   State = "cleaning_up"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"

	StateResolving  State = "resolving"
	StateVerifying  State = "verifying"
	StateDecrypting State = "decrypting"
	StateUnpacking  State = "unpacking"
	StateRestoring  State = "restoring"
	StatePruning    State = "pruning"
)

var (
	// ErrInProgress is returned when a backup, recovery or prune is
	// requested while another one is running on the same orchestrator.
	ErrInProgress = errors.New("backup operation already in progress")

	// ErrConfiguration marks attempts that cannot run with the current
	// settings, such as encryption requested without a key.
	ErrConfiguration = errors.New("backup configuration error")

	// ErrIntegrity marks archives that fail checksum verification,
	// decryption or the table list check.
	ErrIntegrity = errors.New("backup integrity check failed")

	// ErrNotFound is returned when no local or remote archive exists for
	// a backup id.
	ErrNotFound = errors.New("backup not found")
)
