package cmd

import (
	"errors"

	"github.com/kebairia/portalbackup/internal/archive"
	"github.com/kebairia/portalbackup/internal/backup"
	"github.com/kebairia/portalbackup/internal/config"
	"github.com/kebairia/portalbackup/internal/encryption"
	"github.com/kebairia/portalbackup/internal/storage"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitInProgress    = 2
	ExitNotFound      = 3
	ExitIntegrity     = 4
	ExitConfiguration = 5
)

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, backup.ErrInProgress):
		return ExitInProgress
	case errors.Is(err, backup.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, backup.ErrIntegrity), errors.Is(err, archive.ErrCorrupt):
		return ExitIntegrity
	case errors.Is(err, backup.ErrConfiguration),
		errors.Is(err, config.ErrLoadConfig),
		errors.Is(err, config.ErrValidateConfig),
		errors.Is(err, encryption.ErrNoKey),
		errors.Is(err, storage.ErrIncompleteCredentials):
		return ExitConfiguration
	default:
		return ExitFailure
	}
}
