package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/portalbackup/internal/archive"
)

func TestCheckTableFiles(t *testing.T) {
	src := t.TempDir()
	for _, name := range []string{"teams.json", "chat_logs.json", ManifestFilename, "files/uploads/meta.json"} {
		path := filepath.Join(src, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("[]"), 0o600))
	}
	packed := filepath.Join(t.TempDir(), "b"+archive.Extension)
	require.NoError(t, archive.Pack(src, packed))

	assert.NoError(t, checkTableFiles(packed, []string{"teams", "chat_logs"}))

	err := checkTableFiles(packed, []string{"teams", "chat_logs", "notifications"})
	require.ErrorIs(t, err, ErrIntegrity)
	assert.Contains(t, err.Error(), "notifications")

	err = checkTableFiles(packed, []string{"teams"})
	require.ErrorIs(t, err, ErrIntegrity)
	assert.Contains(t, err.Error(), "chat_logs")
}
