package ledger

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completed(t *testing.T, at time.Time) *Record {
	t.Helper()
	rec := NewRecord(at, KindFull, OriginManual, false)
	require.NoError(t, rec.Transition(StatusInProgress))
	rec.Tables = []string{"organizations", "teams"}
	rec.Checksum = strings.Repeat("a", 64)
	require.NoError(t, rec.Complete(at.Add(time.Minute)))
	return rec
}

func TestRecord_Transitions(t *testing.T) {
	rec := NewRecord(time.Now(), KindFull, OriginAutomatic, true)
	assert.Equal(t, StatusPending, rec.Status)
	assert.True(t, strings.HasPrefix(rec.ID, "backup-"))

	assert.ErrorIs(t, rec.Transition(StatusCompleted), ErrInvalidTransition)
	require.NoError(t, rec.Transition(StatusInProgress))
	require.NoError(t, rec.Fail(errors.New("disk full"), time.Now()))
	assert.Equal(t, "disk full", rec.Error)
	assert.False(t, rec.CompletedAt.IsZero())

	assert.ErrorIs(t, rec.Transition(StatusInProgress), ErrInvalidTransition)
	assert.ErrorIs(t, rec.Complete(time.Now()), ErrInvalidTransition)
}

func TestNewID_Unique(t *testing.T) {
	now := time.Now()
	assert.NotEqual(t, NewID(now), NewID(now))
}

func TestFileLedger_AppendGetList(t *testing.T) {
	l, err := NewFileLedger(t.TempDir())
	require.NoError(t, err)

	empty, err := l.List()
	require.NoError(t, err)
	assert.Empty(t, empty)

	base := time.Date(2026, 10, 1, 2, 0, 0, 0, time.UTC)
	second := completed(t, base.Add(24*time.Hour))
	first := completed(t, base)
	require.NoError(t, l.Append(second))
	require.NoError(t, l.Append(first))

	got, err := l.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Tables, got.Tables)
	assert.Equal(t, first.Checksum, got.Checksum)
	assert.True(t, first.Timestamp.Equal(got.Timestamp))

	all, err := l.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)

	_, err = l.Get("backup-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileLedger_AppendOnlyOnce(t *testing.T) {
	l, err := NewFileLedger(t.TempDir())
	require.NoError(t, err)

	rec := completed(t, time.Now())
	require.NoError(t, l.Append(rec))
	assert.ErrorIs(t, l.Append(rec), ErrDuplicate)
}

func TestFileLedger_RejectsNonTerminal(t *testing.T) {
	l, err := NewFileLedger(t.TempDir())
	require.NoError(t, err)

	rec := NewRecord(time.Now(), KindFull, OriginManual, false)
	require.NoError(t, rec.Transition(StatusInProgress))
	assert.ErrorIs(t, l.Append(rec), ErrNotTerminal)
}

func TestFileLedger_ToleratesTornLastLine(t *testing.T) {
	l, err := NewFileLedger(t.TempDir())
	require.NoError(t, err)

	kept := completed(t, time.Now())
	require.NoError(t, l.Append(kept))

	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"backup-torn","stat`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	all, err := l.List()
	require.NoError(t, err)
	require.Len(t, all, 1)

	next := completed(t, time.Now().Add(time.Hour))
	require.NoError(t, l.Append(next))
	all, err = l.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
