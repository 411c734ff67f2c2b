package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kebairia/portalbackup/internal/storage/storagetest"
)

var now = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func writeArchive(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(name), 0o600))
	mtime := now.Add(-age)
	require.NoError(t, os.Chtimes(p, mtime, mtime))
	return p
}

func day(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func TestEnforce_DeletesOnlyExpiredLocalArchives(t *testing.T) {
	dir := t.TempDir()
	for _, d := range []int{0, 5, 10} {
		writeArchive(t, dir, fmt.Sprintf("backup-day%d.tar.zst", d), day(d))
	}
	old := writeArchive(t, dir, "backup-old.tar.zst", day(40))

	res, err := NewEnforcer(dir, WithClock(clock)).Enforce(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, []string{old}, res.Local)
	assert.Empty(t, res.Remote)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.NoFileExists(t, old)
}

func TestEnforce_NonPositiveRetentionIsNoop(t *testing.T) {
	dir := t.TempDir()
	old := writeArchive(t, dir, "backup-old.tar.zst", day(400))

	for _, days := range []int{0, -3} {
		res, err := NewEnforcer(dir, WithClock(clock)).Enforce(context.Background(), days)
		require.NoError(t, err)
		assert.Empty(t, res.Local)
	}
	assert.FileExists(t, old)
}

func TestEnforce_KeepsNamedArchivesAndOtherFiles(t *testing.T) {
	dir := t.TempDir()
	kept := writeArchive(t, dir, "backup-current.tar.zst", day(90))
	ledger := writeArchive(t, dir, "ledger.jsonl", day(90))

	res, err := NewEnforcer(dir, WithClock(clock)).Enforce(context.Background(), 30, "backup-current.tar.zst")
	require.NoError(t, err)
	assert.Empty(t, res.Local)
	assert.FileExists(t, kept)
	assert.FileExists(t, ledger)
}

func TestEnforce_MissingDirectory(t *testing.T) {
	res, err := NewEnforcer(filepath.Join(t.TempDir(), "absent"), WithClock(clock)).
		Enforce(context.Background(), 30)
	require.NoError(t, err)
	assert.Empty(t, res.Local)
}

func TestEnforce_RemoteObjects(t *testing.T) {
	store := storagetest.NewMemStore()
	store.Put("backups/backup-new.tar.zst", []byte("n"), now.Add(-day(5)))
	store.Put("backups/backup-old.tar.zst", []byte("o"), now.Add(-day(40)))
	store.Put("backups/backup-keep.tar.zst", []byte("k"), now.Add(-day(40)))
	store.Put("elsewhere/backup-old.tar.zst", []byte("x"), now.Add(-day(40)))

	e := NewEnforcer(t.TempDir(), WithClock(clock), WithStore(store, "backups"))
	res, err := e.Enforce(context.Background(), 30, "backup-keep.tar.zst")
	require.NoError(t, err)

	assert.Equal(t, []string{"backups/backup-old.tar.zst"}, res.Remote)
	assert.Equal(t, 1, res.Count(LocationRemote))
	assert.Equal(t, 0, res.Count(LocationLocal))
	assert.ElementsMatch(t, []string{
		"backups/backup-keep.tar.zst",
		"backups/backup-new.tar.zst",
		"elsewhere/backup-old.tar.zst",
	}, store.Keys())
}

func TestEnforce_RemoteFailureStillPrunesLocal(t *testing.T) {
	dir := t.TempDir()
	old := writeArchive(t, dir, "backup-old.tar.zst", day(40))
	store := storagetest.NewMemStore()
	store.FailList = errors.New("bucket unreachable")

	res, err := NewEnforcer(dir, WithClock(clock), WithStore(store, "backups")).
		Enforce(context.Background(), 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unreachable")
	assert.Equal(t, []string{old}, res.Local)
}
