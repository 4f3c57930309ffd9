package database

import (
	"fmt"
	"strings"
)

// Entity is the minimal contract for rows handled by Add, AddAll and
// Delete. Columns and Values must align.
type Entity interface {
	TableName() string
	Columns() []string
	Values() []any
	PrimaryKey() (column string, value any)
}

// Refreshable extends Entity with scan destinations so Refresh can re-read
// the row from the database. ScanDestinations must align with Columns.
type Refreshable interface {
	Entity
	ScanDestinations() []any
}

func insertQuery(e Entity) (string, []any) {
	cols := e.Columns()
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		e.TableName(), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return query, e.Values()
}

func deleteQuery(e Entity) (string, []any) {
	col, val := e.PrimaryKey()
	return fmt.Sprintf("DELETE FROM %s WHERE %s = $1", e.TableName(), col), []any{val}
}

func refreshQuery(e Refreshable) (string, []any) {
	col, val := e.PrimaryKey()
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1",
		strings.Join(e.Columns(), ", "), e.TableName(), col)
	return query, []any{val}
}
