// Package query implements the raw SQL query builder: a mutable, inspectable
// list of predicates, joins, ordering and paging that compiles to
// dialect-specific SQL and executes through an Executor.
package query

import (
	"context"
	"database/sql"

	"github.com/coregx/relicorm/internal/dialects"
)

// Row is a single result row keyed by column name.
type Row map[string]interface{}

// Executor runs compiled statements. It is implemented by the connection
// layer (core.DB and core.Tx).
type Executor interface {
	Dialect() dialects.Dialect
	Select(ctx context.Context, query string, args []interface{}) ([]Row, error)
	Exec(ctx context.Context, query string, args []interface{}) (sql.Result, error)
}
