package store

import (
	"errors"
	"fmt"
	"strings"
)

// Common store errors
var (
	ErrTableNotFound  = errors.New("table not found")
	ErrColumnMismatch = errors.New("row does not match table columns")
)

// Store defines the interface for flat-file table storage
type Store interface {
	// Write replaces the named table with t
	Write(name string, t *Table) error

	// Read loads the named table
	Read(name string) (*Table, error)

	// Close cleans up the store resources
	Close() error
}

// Table is a header-first tabular file. Cells are already formatted strings;
// an empty cell means the value is absent.
type Table struct {
	Columns []string
	Rows    [][]string
}

// NewTable creates an empty table with a fixed column set
func NewTable(columns ...string) *Table {
	return &Table{Columns: columns}
}

// Append adds a row. The row must have exactly one cell per column.
func (t *Table) Append(row ...string) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("%w: got %d cells, want %d", ErrColumnMismatch, len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Len returns the number of data rows
func (t *Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of a column, or -1
func (t *Table) Index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Concat stacks tables that share the same column set. Tables with no
// columns are skipped so callers can fold from an empty value.
func Concat(tables ...*Table) (*Table, error) {
	var out *Table
	for _, t := range tables {
		if t == nil || len(t.Columns) == 0 {
			continue
		}
		if out == nil {
			out = NewTable(t.Columns...)
		} else if strings.Join(out.Columns, ",") != strings.Join(t.Columns, ",") {
			return nil, fmt.Errorf("%w: %v vs %v", ErrColumnMismatch, out.Columns, t.Columns)
		}
		out.Rows = append(out.Rows, t.Rows...)
	}
	if out == nil {
		return &Table{}, nil
	}
	return out, nil
}

// NameBuilder helps build consistent table names
type NameBuilder struct {
	prefix string
}

func NewNameBuilder(prefix string) *NameBuilder {
	return &NameBuilder{prefix: prefix}
}

// RepoTable names a per-repository table, e.g. raw/prs__owner__repo.csv
func (b *NameBuilder) RepoTable(kind, owner, repo string) string {
	return b.buildName(kind, owner, repo)
}

// Table names a table shared by every repository, e.g. raw/prs.csv
func (b *NameBuilder) Table(kind string) string {
	return b.buildName(kind)
}

func (b *NameBuilder) buildName(parts ...string) string {
	cleaned := make([]string, len(parts))
	for i, p := range parts {
		cleaned[i] = strings.ReplaceAll(p, "/", "__")
	}
	name := strings.Join(cleaned, "__") + ".csv"
	if b.prefix == "" {
		return name
	}
	return b.prefix + "/" + name
}
