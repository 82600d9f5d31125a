// Package table exposes host facts as named tables of string-valued rows.
package table

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownTable is returned when a table name is not registered.
var ErrUnknownTable = errors.New("unknown table")

// ColumnType is the declared SQL-ish type of a column.
type ColumnType string

const (
	Integer ColumnType = "INTEGER"
	Text    ColumnType = "TEXT"
)

// Column describes one column of a table.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Row maps column names to rendered values.
type Row map[string]string

// Table generates rows on demand.
type Table interface {
	Name() string
	Columns() []Column
	Generate(ctx context.Context) ([]Row, error)
}

// Registry holds tables by name.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]Table
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]Table)}
}

// Register adds t. Registering the same name twice is an error.
func (r *Registry) Register(t Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tables[t.Name()]; exists {
		return fmt.Errorf("table %s already registered", t.Name())
	}
	r.tables[t.Name()] = t
	return nil
}

// Get looks up a table by name.
func (r *Registry) Get(name string) (Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return t, nil
}

// Names returns the registered table names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
