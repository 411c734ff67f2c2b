package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kebairia/portalbackup/internal/archive"
	"github.com/kebairia/portalbackup/internal/backup"
	"github.com/kebairia/portalbackup/internal/config"
	"github.com/kebairia/portalbackup/internal/encryption"
)

func TestExitCode(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("context: %w", err) }

	cases := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{errors.New("disk full"), ExitFailure},
		{wrap(backup.ErrInProgress), ExitInProgress},
		{wrap(backup.ErrNotFound), ExitNotFound},
		{wrap(backup.ErrIntegrity), ExitIntegrity},
		{wrap(archive.ErrCorrupt), ExitIntegrity},
		{wrap(backup.ErrConfiguration), ExitConfiguration},
		{wrap(config.ErrValidateConfig), ExitConfiguration},
		{wrap(encryption.ErrNoKey), ExitConfiguration},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, exitCode(tc.err), "%v", tc.err)
	}
}
