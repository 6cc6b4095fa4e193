// Package core provides the database connection: a sqlx handle bound to a
// dialect, with statement caching, logging, tracing and query hooks. DB and
// Tx both satisfy query.Executor.
package core

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/coregx/relicorm/internal/cache"
	"github.com/coregx/relicorm/internal/dialects"
	"github.com/coregx/relicorm/internal/logger"
	"github.com/coregx/relicorm/internal/query"
	"github.com/coregx/relicorm/internal/tracer"
)

// DB is a database connection with caching, logging and tracing.
type DB struct {
	sqlxDB     *sqlx.DB
	driverName string
	dialect    dialects.Dialect
	stmtCache  *cache.StmtCache
	logger     logger.Logger
	sanitizer  *logger.Sanitizer
	tracer     tracer.Tracer
	queryHook  QueryHook
	health     *healthChecker
}

// Option configures a DB.
type Option func(*DB)

// WithMaxOpenConns sets the maximum number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(db *DB) {
		db.sqlxDB.SetMaxOpenConns(n)
	}
}

// WithMaxIdleConns sets the maximum number of idle connections.
func WithMaxIdleConns(n int) Option {
	return func(db *DB) {
		db.sqlxDB.SetMaxIdleConns(n)
	}
}

// WithConnMaxLifetime sets the maximum connection lifetime.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(db *DB) {
		db.sqlxDB.SetConnMaxLifetime(d)
	}
}

// WithStmtCacheCapacity sets the prepared statement cache capacity.
func WithStmtCacheCapacity(capacity int) Option {
	return func(db *DB) {
		db.stmtCache = cache.NewStmtCacheWithCapacity(capacity)
	}
}

// WithLogger sets the statement logger.
func WithLogger(l logger.Logger) Option {
	return func(db *DB) {
		db.logger = l
	}
}

// WithSensitiveFields replaces the column names whose values are masked in
// logs.
func WithSensitiveFields(fields ...string) Option {
	return func(db *DB) {
		db.sanitizer = logger.NewSanitizer(fields)
	}
}

// WithTracer sets the tracer.
func WithTracer(t tracer.Tracer) Option {
	return func(db *DB) {
		db.tracer = t
	}
}

// WithQueryHook sets a callback invoked after every statement.
func WithQueryHook(hook QueryHook) Option {
	return func(db *DB) {
		db.queryHook = hook
	}
}

// WithHealthCheck pings the database every interval in the background.
func WithHealthCheck(interval time.Duration) Option {
	return func(db *DB) {
		if interval > 0 {
			db.health = newHealthChecker(db.sqlxDB, interval)
		}
	}
}

// Open opens a connection for driverName. The driver must be registered with
// database/sql and have a matching dialect.
func Open(driverName, dsn string, opts ...Option) (*DB, error) {
	d, ok := dialects.LookupDialect(driverName)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedDialect, "driver %q", driverName)
	}

	sqlxDB, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %s database", driverName)
	}

	return newDB(sqlxDB, driverName, d, opts), nil
}

// NewDB opens a connection without options.
func NewDB(driverName, dsn string) (*DB, error) {
	return Open(driverName, dsn)
}

// WrapDB wraps an existing *sql.DB. Closing the returned DB closes sqlDB.
func WrapDB(sqlDB *sql.DB, driverName string, opts ...Option) (*DB, error) {
	d, ok := dialects.LookupDialect(driverName)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedDialect, "driver %q", driverName)
	}
	return newDB(sqlx.NewDb(sqlDB, driverName), driverName, d, opts), nil
}

func newDB(sqlxDB *sqlx.DB, driverName string, d dialects.Dialect, opts []Option) *DB {
	db := &DB{
		sqlxDB:     sqlxDB,
		driverName: driverName,
		dialect:    d,
		stmtCache:  cache.NewStmtCache(),
		logger:     logger.NoopLogger{},
		sanitizer:  logger.NewSanitizer(nil),
		tracer:     tracer.NoopTracer{},
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.health != nil {
		db.health.logger = db.logger
		db.health.start()
	}
	return db
}

// Close stops the health checker, closes cached statements and the pool.
func (db *DB) Close() error {
	if db.health != nil {
		db.health.shutdown()
	}
	db.stmtCache.Clear()
	return db.sqlxDB.Close()
}

// DriverName returns the driver the connection was opened with.
func (db *DB) DriverName() string {
	return db.driverName
}

// Dialect returns the connection's SQL dialect.
func (db *DB) Dialect() dialects.Dialect {
	return db.dialect
}

// SQLX returns the underlying sqlx handle.
func (db *DB) SQLX() *sqlx.DB {
	return db.sqlxDB
}

// StmtCacheStats reports prepared statement cache usage.
func (db *DB) StmtCacheStats() cache.Stats {
	return db.stmtCache.Stats()
}

// IsHealthy reports the result of the last background ping. It is true when
// health checks are disabled or have not run yet.
func (db *DB) IsHealthy() bool {
	if db.health == nil {
		return true
	}
	return db.health.isHealthy()
}

// LastHealthCheck returns the time of the last background ping.
func (db *DB) LastHealthCheck() time.Time {
	if db.health == nil {
		return time.Time{}
	}
	return db.health.lastCheck()
}

// Query returns a query builder bound to this connection.
func (db *DB) Query() *query.Builder {
	return query.New(db)
}

// Select runs a statement and returns its rows as column maps.
func (db *DB) Select(ctx context.Context, sqlStr string, args []interface{}) ([]query.Row, error) {
	return db.selectWith(ctx, sqlStr, args, func(stmt *sqlx.Stmt) *sqlx.Stmt { return stmt })
}

// Exec runs a statement that returns no rows.
func (db *DB) Exec(ctx context.Context, sqlStr string, args []interface{}) (sql.Result, error) {
	return db.execWith(ctx, sqlStr, args, func(stmt *sqlx.Stmt) *sqlx.Stmt { return stmt })
}

// Begin starts a transaction with default options.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	return db.BeginTx(ctx, nil)
}

// BeginTx starts a transaction.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.sqlxDB.BeginTxx(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "can't start transaction")
	}
	return &Tx{db: db, tx: tx}, nil
}

// Transactional runs fn in a transaction, committing when fn returns nil and
// rolling back otherwise. A panic in fn rolls back and is re-raised.
func (db *DB) Transactional(ctx context.Context, fn func(*Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("transaction rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// prepare returns a cached statement for sqlStr, preparing it on a miss.
func (db *DB) prepare(ctx context.Context, sqlStr string) (*sqlx.Stmt, error) {
	if stmt, ok := db.stmtCache.Get(sqlStr); ok {
		return stmt, nil
	}
	stmt, err := db.sqlxDB.PreparexContext(ctx, sqlStr)
	if err != nil {
		return nil, errors.Wrap(err, "can't prepare statement")
	}
	db.stmtCache.Set(sqlStr, stmt)
	return stmt, nil
}

func (db *DB) selectWith(ctx context.Context, sqlStr string, args []interface{}, bind func(*sqlx.Stmt) *sqlx.Stmt) ([]query.Row, error) {
	ctx, span := db.tracer.StartSpan(ctx, "relicorm.query")
	defer span.End()

	start := time.Now()
	rows, err := db.queryRows(ctx, sqlStr, args, bind)
	event := QueryEvent{
		SQL:       sqlStr,
		Args:      args,
		Duration:  time.Since(start),
		Rows:      len(rows),
		Error:     err,
		Operation: tracer.DetectOperation(sqlStr),
	}
	db.finish(ctx, span, event)

	return rows, err
}

func (db *DB) queryRows(ctx context.Context, sqlStr string, args []interface{}, bind func(*sqlx.Stmt) *sqlx.Stmt) ([]query.Row, error) {
	stmt, err := db.prepare(ctx, sqlStr)
	if err != nil {
		return nil, err
	}

	rs, err := bind(stmt).QueryxContext(ctx, args...)
	if err != nil {
		return nil, errors.Wrap(err, "can't perform query")
	}
	defer func() { _ = rs.Close() }()

	var rows []query.Row
	for rs.Next() {
		m := make(map[string]interface{})
		if err := rs.MapScan(m); err != nil {
			return nil, errors.Wrap(err, "can't scan row")
		}
		rows = append(rows, normalizeRow(m))
	}
	if err := rs.Err(); err != nil {
		return nil, errors.Wrap(err, "can't iterate rows")
	}
	return rows, nil
}

func (db *DB) execWith(ctx context.Context, sqlStr string, args []interface{}, bind func(*sqlx.Stmt) *sqlx.Stmt) (sql.Result, error) {
	ctx, span := db.tracer.StartSpan(ctx, "relicorm.exec")
	defer span.End()

	start := time.Now()
	var res sql.Result
	stmt, err := db.prepare(ctx, sqlStr)
	if err == nil {
		res, err = bind(stmt).ExecContext(ctx, args...)
		if err != nil {
			err = errors.Wrap(err, "can't perform statement")
		}
	}

	event := QueryEvent{
		SQL:       sqlStr,
		Args:      args,
		Duration:  time.Since(start),
		Error:     err,
		Operation: tracer.DetectOperation(sqlStr),
	}
	if res != nil {
		event.RowsAffected, _ = res.RowsAffected()
	}
	db.finish(ctx, span, event)

	return res, err
}

// finish logs, traces and reports an executed statement.
func (db *DB) finish(ctx context.Context, span tracer.Span, e QueryEvent) {
	tracer.AddQueryAttributes(span, &tracer.QueryMetadata{
		SQL:          e.SQL,
		Duration:     e.Duration,
		RowsAffected: e.RowsAffected,
		Rows:         e.Rows,
		Error:        e.Error,
		Database:     db.dialect.Name(),
		Operation:    e.Operation,
	})

	params := db.sanitizer.FormatParams(db.sanitizer.MaskParams(e.SQL, e.Args))
	if e.Error != nil {
		db.logger.Error("query execution failed",
			"sql", e.SQL,
			"params", params,
			"duration_ms", e.Duration.Milliseconds(),
			"database", db.dialect.Name(),
			"error", e.Error)
	} else {
		db.logger.Debug("query executed",
			"sql", e.SQL,
			"params", params,
			"duration_ms", e.Duration.Milliseconds(),
			"database", db.dialect.Name())
	}

	db.invokeHook(ctx, e)
}

// normalizeRow converts driver byte slices to strings so values compare and
// serialize as text.
func normalizeRow(m map[string]interface{}) query.Row {
	for k, v := range m {
		if b, ok := v.([]byte); ok {
			m[k] = string(b)
		}
	}
	return query.Row(m)
}
