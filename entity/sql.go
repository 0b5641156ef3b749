package entity

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Definition describes one entity the data layer manages.
type Definition struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Field describes one entity field.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
	Primary  bool   `json:"primary,omitempty"`
}

// SQLManager implements Manager against a SQL database. Synchronization is
// additive: missing tables and columns are created, surplus columns force a
// table rebuild only when SyncOptions.Force is set.
type SQLManager struct {
	db   *sql.DB
	defs []Definition
}

// NewSQLManager builds a manager over the given connection and entity
// definitions.
func NewSQLManager(db *sql.DB, defs []Definition) *SQLManager {
	return &SQLManager{db: db, defs: defs}
}

// Schema returns the manager itself; it carries the schema operations.
func (m *SQLManager) Schema() SchemaAPI { return m }

// Sync reconciles the database with the entity definitions.
func (m *SQLManager) Sync(ctx context.Context, opts SyncOptions) (ChangeSet, error) {
	var cs ChangeSet
	for _, def := range m.defs {
		existing, err := m.tableColumns(ctx, def.Name)
		if err != nil {
			return ChangeSet{}, err
		}
		if existing == nil {
			cs.CreatedTables = append(cs.CreatedTables, def.Name)
			if opts.DryRun {
				continue
			}
			if _, err := m.db.ExecContext(ctx, createTableDDL(def)); err != nil {
				return ChangeSet{}, fmt.Errorf("create table %s: %w", def.Name, err)
			}
			continue
		}

		missing, surplus := diffColumns(def, existing)
		if len(surplus) > 0 {
			if !opts.Force {
				continue
			}
			cs.AlteredTables = append(cs.AlteredTables, def.Name)
			if opts.DryRun {
				continue
			}
			if err := m.rebuildTable(ctx, def); err != nil {
				return ChangeSet{}, err
			}
			continue
		}
		if len(missing) == 0 {
			continue
		}
		cs.AlteredTables = append(cs.AlteredTables, def.Name)
		if opts.DryRun {
			continue
		}
		for _, f := range missing {
			stmt := fmt.Sprintf("ALTER TABLE %q ADD COLUMN %s", def.Name, columnDDL(f))
			if _, err := m.db.ExecContext(ctx, stmt); err != nil {
				return ChangeSet{}, fmt.Errorf("alter table %s: %w", def.Name, err)
			}
		}
	}
	return cs, nil
}

// Introspect lists every user table with its columns.
func (m *SQLManager) Introspect(ctx context.Context) ([]TableInfo, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	out := make([]TableInfo, 0, len(names))
	for _, name := range names {
		cols, err := m.tableColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, TableInfo{Name: name, Columns: cols})
	}
	return out, nil
}

// tableColumns returns the columns of a table, or nil when the table does
// not exist.
func (m *SQLManager) tableColumns(ctx context.Context, table string) ([]ColumnInfo, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var (
			cid, notnull, pk int
			name, ctype      string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, ColumnInfo{
			Name:     name,
			Type:     ctype,
			Nullable: notnull == 0,
			Primary:  pk > 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	return cols, nil
}

func (m *SQLManager) rebuildTable(ctx context.Context, def Definition) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %q", def.Name)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("drop table %s: %w", def.Name, err)
	}
	if _, err := tx.ExecContext(ctx, createTableDDL(def)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("recreate table %s: %w", def.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}
	return nil
}

func diffColumns(def Definition, existing []ColumnInfo) (missing []Field, surplus []string) {
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c.Name] = true
	}
	want := make(map[string]bool, len(def.Fields))
	for _, f := range def.Fields {
		want[f.Name] = true
		if !have[f.Name] {
			missing = append(missing, f)
		}
	}
	for _, c := range existing {
		if !want[c.Name] {
			surplus = append(surplus, c.Name)
		}
	}
	sort.Strings(surplus)
	return missing, surplus
}

func createTableDDL(def Definition) string {
	parts := make([]string, 0, len(def.Fields))
	for _, f := range def.Fields {
		parts = append(parts, columnDDL(f))
	}
	return fmt.Sprintf("CREATE TABLE %q (%s)", def.Name, strings.Join(parts, ", "))
}

func columnDDL(f Field) string {
	out := fmt.Sprintf("%q %s", f.Name, sqlType(f.Type))
	if f.Primary {
		out += " PRIMARY KEY"
	}
	if f.Required && !f.Primary {
		out += " NOT NULL DEFAULT ''"
	}
	return out
}

func sqlType(t string) string {
	switch t {
	case "int", "bool":
		return "INTEGER"
	case "float":
		return "REAL"
	default:
		// string, json, date
		return "TEXT"
	}
}
