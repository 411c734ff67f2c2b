// Package ledger persists one record per backup attempt in an append-only
// JSON-lines file.
package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Filename is the ledger file inside the backup directory.
const Filename = "ledger.jsonl"

var (
	ErrNotFound          = errors.New("backup record not found")
	ErrDuplicate         = errors.New("backup record already exists")
	ErrNotTerminal       = errors.New("backup record is not in a terminal state")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Ledger is an append-only store of backup records.
type Ledger interface {
	Append(rec *Record) error
	Get(id string) (*Record, error)
	List() ([]*Record, error)
}

// FileLedger stores records as one JSON object per line.
type FileLedger struct {
	path string
	mu   sync.Mutex
}

var _ Ledger = (*FileLedger)(nil)

// NewFileLedger returns a ledger stored in dir/ledger.jsonl.
func NewFileLedger(dir string) (*FileLedger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory %q: %w", dir, err)
	}
	return &FileLedger{path: filepath.Join(dir, Filename)}, nil
}

// Path returns the ledger file location.
func (l *FileLedger) Path() string {
	return l.path
}

// Append writes a terminal record. Records are written once; a record id
// already present is rejected.
func (l *FileLedger) Append(rec *Record) error {
	if !rec.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotTerminal, rec.ID, rec.Status)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	records, t, err := l.read()
	if err != nil {
		return err
	}
	switch {
	case t.truncateTo >= 0:
		// Drop the torn tail so the new record starts on its own line.
		if err := os.Truncate(l.path, t.truncateTo); err != nil {
			return fmt.Errorf("truncate torn ledger tail: %w", err)
		}
	case t.unterminated:
		line = append([]byte{'\n'}, line...)
	}
	for _, r := range records {
		if r.ID == rec.ID {
			return fmt.Errorf("%w: %s", ErrDuplicate, rec.ID)
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger %q: %w", l.path, err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append to ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	return f.Close()
}

// Get returns the record with the given id.
func (l *FileLedger) Get(id string) (*Record, error) {
	records, err := l.List()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns every record ordered by timestamp.
func (l *FileLedger) List() ([]*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, _, err := l.read()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// tail describes how the ledger file ends.
type tail struct {
	// truncateTo is the length of the well-formed prefix when the last
	// line is torn, or -1.
	truncateTo int64
	// unterminated is set when the last line is complete but lacks its newline.
	unterminated bool
}

func (l *FileLedger) read() ([]*Record, tail, error) {
	t := tail{truncateTo: -1}
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, t, nil
	}
	if err != nil {
		return nil, t, fmt.Errorf("read ledger %q: %w", l.path, err)
	}
	partial := len(data) > 0 && data[len(data)-1] != '\n'
	t.unterminated = partial

	var records []*Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// A write cut short by a crash leaves an unterminated last line.
			if partial && bytes.HasSuffix(bytes.TrimSpace(data), line) {
				t.truncateTo = int64(bytes.LastIndexByte(data, '\n') + 1)
				t.unterminated = false
				break
			}
			return nil, t, fmt.Errorf("decode ledger line %d: %w", lineNo, err)
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, t, fmt.Errorf("scan ledger: %w", err)
	}
	return records, t, nil
}
