package core

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/coregx/relicorm/internal/dialects"
	"github.com/coregx/relicorm/internal/query"
)

// Tx is a database transaction. Statements run through the parent DB's
// statement cache, logger, tracer and hook.
type Tx struct {
	db *DB
	tx *sqlx.Tx
}

// Dialect returns the connection's SQL dialect.
func (tx *Tx) Dialect() dialects.Dialect {
	return tx.db.dialect
}

// Query returns a query builder bound to this transaction.
func (tx *Tx) Query() *query.Builder {
	return query.New(tx)
}

// Select runs a statement inside the transaction.
func (tx *Tx) Select(ctx context.Context, sqlStr string, args []interface{}) ([]query.Row, error) {
	return tx.db.selectWith(ctx, sqlStr, args, func(stmt *sqlx.Stmt) *sqlx.Stmt {
		return tx.tx.StmtxContext(ctx, stmt)
	})
}

// Exec runs a statement that returns no rows inside the transaction.
func (tx *Tx) Exec(ctx context.Context, sqlStr string, args []interface{}) (sql.Result, error) {
	return tx.db.execWith(ctx, sqlStr, args, func(stmt *sqlx.Stmt) *sqlx.Stmt {
		return tx.tx.StmtxContext(ctx, stmt)
	})
}

// Commit commits the transaction.
func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

// Rollback rolls back the transaction.
func (tx *Tx) Rollback() error {
	return tx.tx.Rollback()
}
