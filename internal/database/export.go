package database

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/kebairia/portalbackup/internal/logger"
)

// FileExtension is the suffix of per-table data files.
const FileExtension = ".json"

// TableFile returns the data file path for a table inside dir.
func TableFile(dir, table string) string {
	return filepath.Join(dir, table+FileExtension)
}

// Exporter reads and writes table snapshots through a Registry.
type Exporter struct {
	registry *Registry
	log      logger.Logger
}

// NewExporter returns an Exporter over the registry.
func NewExporter(registry *Registry, log logger.Logger) *Exporter {
	if log == nil {
		log = logger.Nop()
	}
	return &Exporter{registry: registry, log: log}
}

// ExportTables writes every row of each named table (all registered tables
// when names is empty) to <destDir>/<table>.json and returns the exported
// names in order. Rows are loaded in one query per table with no
// pagination. The first failing table aborts the export.
func (e *Exporter) ExportTables(ctx context.Context, names []string, destDir string) ([]string, error) {
	tables, err := e.registry.resolve(names)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory %q: %w", destDir, err)
	}

	exported := make([]string, 0, len(tables))
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return exported, err
		}
		rows, err := t.FindAll(ctx, e.registry.db)
		if err != nil {
			return exported, fmt.Errorf("export table %q: %w", t.Name, err)
		}
		if err := writeJSON(TableFile(destDir, t.Name), rows); err != nil {
			return exported, fmt.Errorf("write table %q: %w", t.Name, err)
		}
		e.log.Debug("table exported", "table", t.Name)
		exported = append(exported, t.Name)
	}
	return exported, nil
}

// ImportResult reports what ImportTables did per table.
type ImportResult struct {
	Restored map[string]int
	Skipped  []string
}

// ImportTables replaces the contents of each named table with the rows in
// <sourceDir>/<table>.json. Existing rows are deleted first: this is a
// restore, not a merge. Each table is replaced inside its own transaction.
// A table without a data file is logged and skipped.
func (e *Exporter) ImportTables(ctx context.Context, names []string, sourceDir string) (*ImportResult, error) {
	tables, err := e.registry.resolve(names)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Restored: make(map[string]int, len(tables))}
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		raw, err := os.ReadFile(TableFile(sourceDir, t.Name))
		if errors.Is(err, os.ErrNotExist) {
			e.log.Warn("skipping table without data file",
				"table", t.Name,
				"error", fmt.Errorf("%w: %s", ErrMissingTableData, t.Name).Error(),
			)
			result.Skipped = append(result.Skipped, t.Name)
			continue
		}
		if err != nil {
			return result, fmt.Errorf("read table %q: %w", t.Name, err)
		}

		var count int
		err = e.registry.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := t.DeleteAll(ctx, tx); err != nil {
				return fmt.Errorf("delete rows: %w", err)
			}
			n, err := t.InsertMany(ctx, tx, raw)
			if err != nil {
				return fmt.Errorf("insert rows: %w", err)
			}
			count = n
			return nil
		})
		if err != nil {
			return result, fmt.Errorf("restore table %q: %w", t.Name, err)
		}
		e.log.Info("table restored", "table", t.Name, "rows", count)
		result.Restored[t.Name] = count
	}
	return result, nil
}

func writeJSON(path string, data any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
