package database

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// Table binds a logical table name to the three operations backups need.
// Closures receive the *gorm.DB to run against, which may be a transaction.
type Table struct {
	Name       string
	FindAll    func(ctx context.Context, db *gorm.DB) (any, error)
	DeleteAll  func(ctx context.Context, db *gorm.DB) error
	InsertMany func(ctx context.Context, db *gorm.DB, raw []byte) (int, error)
}

const insertBatchSize = 500

// ModelTable builds the Table for model type T stored under name.
func ModelTable[T any](name string) Table {
	return Table{
		Name: name,
		FindAll: func(ctx context.Context, db *gorm.DB) (any, error) {
			rows := []T{}
			if err := db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
				return nil, err
			}
			return rows, nil
		},
		DeleteAll: func(ctx context.Context, db *gorm.DB) error {
			var zero T
			return db.WithContext(ctx).
				Session(&gorm.Session{AllowGlobalUpdate: true}).
				Delete(&zero).Error
		},
		InsertMany: func(ctx context.Context, db *gorm.DB, raw []byte) (int, error) {
			var rows []T
			if err := json.Unmarshal(raw, &rows); err != nil {
				return 0, fmt.Errorf("decode rows: %w", err)
			}
			if len(rows) == 0 {
				return 0, nil
			}
			if err := db.WithContext(ctx).CreateInBatches(&rows, insertBatchSize).Error; err != nil {
				return 0, err
			}
			var zero T
			if err := resetSequence(ctx, db, &zero); err != nil {
				return 0, fmt.Errorf("reset id sequence: %w", err)
			}
			return len(rows), nil
		},
	}
}

// sequenceResetSQL builds the statement that moves a Postgres id sequence
// past the highest id in the model's table. Rows restored with explicit ids
// leave the sequence behind otherwise. Other dialects derive the next id
// from the table and get an empty statement.
func sequenceResetSQL(db *gorm.DB, model any) (string, []any, error) {
	if db.Dialector.Name() != "postgres" {
		return "", nil, nil
	}
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return "", nil, err
	}
	pk := stmt.Schema.PrioritizedPrimaryField
	if pk == nil || !pk.AutoIncrement {
		return "", nil, nil
	}
	sql := fmt.Sprintf("SELECT setval(pg_get_serial_sequence(?, ?), COALESCE(MAX(%s), 0) + 1, false) FROM %s",
		stmt.Quote(pk.DBName), stmt.Quote(stmt.Schema.Table))
	return sql, []any{stmt.Schema.Table, pk.DBName}, nil
}

func resetSequence(ctx context.Context, db *gorm.DB, model any) error {
	sql, vars, err := sequenceResetSQL(db, model)
	if err != nil || sql == "" {
		return err
	}
	return db.WithContext(ctx).Exec(sql, vars...).Error
}

// DefaultTables returns the portal's fixed table set in export order.
func DefaultTables() []Table {
	return []Table{
		ModelTable[LicenseRecord]("license_records"),
		ModelTable[ChatLog]("chat_logs"),
		ModelTable[UsageMetric]("usage_metrics"),
		ModelTable[Notification]("notifications"),
		ModelTable[InsightRecord]("insight_records"),
		ModelTable[Organization]("organizations"),
		ModelTable[Team]("teams"),
		ModelTable[TeamMember]("team_members"),
		ModelTable[AuditLog]("audit_logs"),
	}
}

// Registry is the dispatch table from logical table name to Table.
type Registry struct {
	db     *gorm.DB
	tables map[string]Table
	order  []string
}

// NewRegistry returns a registry over db holding the given tables, or
// DefaultTables when none are given.
func NewRegistry(db *gorm.DB, tables ...Table) *Registry {
	if len(tables) == 0 {
		tables = DefaultTables()
	}
	r := &Registry{db: db, tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a table.
func (r *Registry) Register(t Table) {
	if _, ok := r.tables[t.Name]; !ok {
		r.order = append(r.order, t.Name)
	}
	r.tables[t.Name] = t
}

// Names returns the registered table names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Lookup returns the table registered under name.
func (r *Registry) Lookup(name string) (Table, error) {
	t, ok := r.tables[name]
	if !ok {
		return Table{}, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

func (r *Registry) resolve(names []string) ([]Table, error) {
	if len(names) == 0 {
		names = r.order
	}
	tables := make([]Table, 0, len(names))
	for _, name := range names {
		t, err := r.Lookup(name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}
