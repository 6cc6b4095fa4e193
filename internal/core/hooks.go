package core

import (
	"context"
	"time"
)

// QueryEvent describes an executed statement.
type QueryEvent struct {
	SQL          string
	Args         []interface{}
	Duration     time.Duration
	RowsAffected int64
	// Rows is the number of rows a SELECT returned.
	Rows      int
	Error     error
	Operation string
}

// QueryHook is invoked after each statement, successful or not.
//
// Example:
//
//	db, _ := relicorm.Open("sqlite", ":memory:",
//	    relicorm.WithQueryHook(func(ctx context.Context, e relicorm.QueryEvent) {
//	        slog.Info("query", "sql", e.SQL, "duration", e.Duration, "err", e.Error)
//	    }))
type QueryHook func(ctx context.Context, event QueryEvent)

// ChainHooks returns a hook calling each of hooks in order.
func ChainHooks(hooks ...QueryHook) QueryHook {
	return func(ctx context.Context, e QueryEvent) {
		for _, h := range hooks {
			if h != nil {
				h(ctx, e)
			}
		}
	}
}

func (db *DB) invokeHook(ctx context.Context, event QueryEvent) {
	if db.queryHook != nil {
		db.queryHook(ctx, event)
	}
}
