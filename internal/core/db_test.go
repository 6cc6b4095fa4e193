package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	_ "modernc.org/sqlite"

	"github.com/coregx/relicorm/internal/logger"
	"github.com/coregx/relicorm/internal/tracer"
)

func openTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	opts = append([]Option{WithMaxOpenConns(1)}, opts...)
	db, err := Open("sqlite", ":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	_, err = db.Exec(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, password TEXT)", nil)
	require.NoError(t, err)
	return db
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "dsn")
	assert.ErrorIs(t, err, ErrUnsupportedDialect)
}

func TestDB_SelectAndExec(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	res, err := db.Exec(ctx, "INSERT INTO users (name) VALUES (?)", []interface{}{"alice"})
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := db.Select(ctx, "SELECT id, name FROM users WHERE name = ?", []interface{}{"alice"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0]["name"])
	assert.EqualValues(t, 1, rows[0]["id"])
}

func TestDB_QueryBuilder(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.Query().From("users").InsertGetID(ctx, map[string]interface{}{"name": "bob"}, "id")
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	count, err := db.Query().From("users").Where("name", "=", "bob").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDB_StatementCache(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := db.Select(ctx, "SELECT * FROM users", nil)
		require.NoError(t, err)
	}

	stats := db.StmtCacheStats()
	assert.Equal(t, uint64(2), stats.Hits)
}

func TestDB_QueryHook(t *testing.T) {
	var events []QueryEvent
	db := openTestDB(t, WithQueryHook(func(_ context.Context, e QueryEvent) {
		events = append(events, e)
	}))
	ctx := context.Background()

	_, err := db.Exec(ctx, "INSERT INTO users (name) VALUES (?)", []interface{}{"carol"})
	require.NoError(t, err)
	_, err = db.Select(ctx, "SELECT * FROM missing", nil)
	require.Error(t, err)

	// The CREATE TABLE in openTestDB is the first event.
	require.Len(t, events, 3)
	assert.Equal(t, "INSERT", events[1].Operation)
	assert.Equal(t, int64(1), events[1].RowsAffected)
	assert.Equal(t, "SELECT", events[2].Operation)
	assert.Error(t, events[2].Error)
}

func TestChainHooks(t *testing.T) {
	var calls []string
	hook := ChainHooks(
		func(context.Context, QueryEvent) { calls = append(calls, "a") },
		nil,
		func(context.Context, QueryEvent) { calls = append(calls, "b") },
	)
	hook(context.Background(), QueryEvent{})
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestDB_LogsMaskSensitiveParams(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	db := openTestDB(t, WithLogger(logger.NewZapAdapter(zap.New(core).Sugar())))
	ctx := context.Background()

	_, err := db.Exec(ctx, "INSERT INTO users (name, password) VALUES (?, ?)", []interface{}{"dave", "hunter2"})
	require.NoError(t, err)

	entries := logs.FilterMessage("query executed").All()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1].ContextMap()
	assert.NotContains(t, last["params"], "hunter2")
	assert.Contains(t, last["params"], "REDACTED")
	assert.Equal(t, "sqlite", last["database"])
}

func TestDB_Tracing(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	db := openTestDB(t, WithTracer(tracer.NewOtelTracer(tp.Tracer("test"))))

	_, err := db.Select(context.Background(), "SELECT * FROM users", nil)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "relicorm.exec", spans[0].Name())
	assert.Equal(t, "relicorm.query", spans[1].Name())
}

func TestDB_Transactional(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.Transactional(ctx, func(tx *Tx) error {
		return tx.Query().From("users").Insert(ctx, map[string]interface{}{"name": "erin"})
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.Transactional(ctx, func(tx *Tx) error {
		if err := tx.Query().From("users").Insert(ctx, map[string]interface{}{"name": "frank"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	names, err := db.Query().From("users").OrderBy("id", "asc").Pluck(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"erin"}, names)
}

func TestDB_TransactionalPanic(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = db.Transactional(ctx, func(tx *Tx) error {
			_ = tx.Query().From("users").Insert(ctx, map[string]interface{}{"name": "gina"})
			panic("boom")
		})
	})

	count, err := db.Query().From("users").Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDB_HealthCheck(t *testing.T) {
	db := openTestDB(t, WithHealthCheck(10*time.Millisecond))

	require.Eventually(t, func() bool {
		return !db.LastHealthCheck().IsZero()
	}, time.Second, 5*time.Millisecond)
	assert.True(t, db.IsHealthy())
}
