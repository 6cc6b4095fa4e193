package orm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/relicorm/internal/query"
)

func orScope(a, b string) Scope {
	return ScopeFunc(func(q *Builder) {
		q.OrWhere(a, 1).OrWhere(b, 1)
	})
}

func TestApplyScopes_OrInsideScopeDoesNotLeak(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Every combination of a, b and c.
	for i := 0; i < 8; i++ {
		env.seed(t, "flags", map[string]interface{}{"id": i + 1, "a": i & 1, "b": (i >> 1) & 1, "c": (i >> 2) & 1})
	}

	b := env.schema("Flag").Query().Where("c", 1).WithGlobalScope("a_or_b", orScope("a", "b"))

	sql, args := b.ToSQL()
	assert.Equal(t, `SELECT * FROM "flags" WHERE "c" = ? AND ("a" = ? OR "b" = ?)`, sql)
	assert.Equal(t, []interface{}{1, 1, 1}, args)

	flags, err := b.OrderBy("id", "asc").Get(ctx)
	require.NoError(t, err)

	var want []int64
	for i := 0; i < 8; i++ {
		a, bb, c := i&1 == 1, (i>>1)&1 == 1, (i>>2)&1 == 1
		if c && (a || bb) {
			want = append(want, int64(i+1))
		}
	}
	assert.Equal(t, want, keysOf(flags))
}

func TestApplyScopes_Grouping(t *testing.T) {
	tests := []struct {
		name   string
		build  func(b *Builder) *Builder
		scopes []Scope
		want   string
	}{
		{
			name:   "scope on empty query",
			build:  func(b *Builder) *Builder { return b },
			scopes: []Scope{orScope("a", "b")},
			want:   `SELECT * FROM "flags" WHERE ("a" = ? OR "b" = ?)`,
		},
		{
			name:   "or before a plain scope is grouped",
			build:  func(b *Builder) *Builder { return b.Where("x", 1).OrWhere("y", 1) },
			scopes: []Scope{ScopeFunc(func(q *Builder) { q.Where("a", 1) })},
			want:   `SELECT * FROM "flags" WHERE ("x" = ? OR "y" = ?) AND "a" = ?`,
		},
		{
			name:   "plain predicates stay flat",
			build:  func(b *Builder) *Builder { return b.Where("x", 1) },
			scopes: []Scope{ScopeFunc(func(q *Builder) { q.Where("a", 1) })},
			want:   `SELECT * FROM "flags" WHERE "x" = ? AND "a" = ?`,
		},
		{
			name:   "both sides grouped",
			build:  func(b *Builder) *Builder { return b.Where("x", 1).OrWhere("y", 1) },
			scopes: []Scope{orScope("a", "b")},
			want:   `SELECT * FROM "flags" WHERE ("x" = ? OR "y" = ?) AND ("a" = ? OR "b" = ?)`,
		},
		{
			name:   "leading or of a scope becomes and",
			build:  func(b *Builder) *Builder { return b.Where("x", 1) },
			scopes: []Scope{ScopeFunc(func(q *Builder) { q.OrWhere("a", 1) })},
			want:   `SELECT * FROM "flags" WHERE "x" = ? AND "a" = ?`,
		},
		{
			name:   "each scope is its own group",
			build:  func(b *Builder) *Builder { return b },
			scopes: []Scope{orScope("a", "b"), orScope("c", "d")},
			want:   `SELECT * FROM "flags" WHERE ("a" = ? OR "b" = ?) AND ("c" = ? OR "d" = ?)`,
		},
		{
			name:   "scope adding nothing",
			build:  func(b *Builder) *Builder { return b.Where("x", 1).OrWhere("y", 1) },
			scopes: []Scope{ScopeFunc(func(*Builder) {})},
			want:   `SELECT * FROM "flags" WHERE "x" = ? OR "y" = ?`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			b := tt.build(env.schema("Flag").Query())
			for i, s := range tt.scopes {
				b.WithGlobalScope(string(rune('a'+i)), s)
			}
			sql, _ := b.ToSQL()
			assert.Equal(t, tt.want, sql)
		})
	}
}

func TestApplyScopes_LeavesReceiverUntouched(t *testing.T) {
	env := newTestEnv(t)
	b := env.schema("Flag").Query().Where("x", 1).WithGlobalScope("ab", orScope("a", "b"))

	applied := b.ApplyScopes()

	assert.Len(t, b.Query().Wheres(), 1)
	assert.Equal(t, []string{"ab"}, b.Scopes())
	assert.Empty(t, applied.Scopes())
	assert.Len(t, applied.Query().Wheres(), 2)
}

func TestGlobalScopes_RegisteredAtBoot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "tasks",
		map[string]interface{}{"id": 1, "title": "live", "archived": 0},
		map[string]interface{}{"id": 2, "title": "old", "archived": 1},
	)

	task := env.schema("Task")
	assert.True(t, task.HasGlobalScope("unarchived"))

	sql, _ := task.Query().ToSQL()
	assert.Equal(t, `SELECT * FROM "tasks" WHERE "archived" = ?`, sql)

	n, err := task.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	b := task.Query().WithoutGlobalScope("unarchived")
	assert.Equal(t, []string{"unarchived"}, b.RemovedScopes())
	n, err = b.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = task.Query().WithoutGlobalScopes().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = task.NewQueryWithoutScopes().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestWithGlobalScope_ReRegisteringClearsRemovedMark(t *testing.T) {
	env := newTestEnv(t)
	b := env.schema("Flag").Query().
		WithGlobalScope("c", ScopeFunc(func(q *Builder) { q.Where("c", 1) })).
		WithoutGlobalScope("c")

	sql, _ := b.ToSQL()
	assert.Equal(t, `SELECT * FROM "flags"`, sql)

	b.WithGlobalScope("c", ScopeFunc(func(q *Builder) { q.Where("c", 2) }))
	assert.Empty(t, b.RemovedScopes())
	sql, args := b.ToSQL()
	assert.Equal(t, `SELECT * FROM "flags" WHERE "c" = ?`, sql)
	assert.Equal(t, []interface{}{2}, args)
}

func TestBoot_RunsOncePerSchema(t *testing.T) {
	env := newTestEnv(t)
	task := env.schema("Task")
	start := atomic.LoadInt32(&taskBoots)

	task.Query()
	task.Query()
	_, err := task.NewInstance(nil, false)
	require.NoError(t, err)
	assert.True(t, task.IsBooted())
	assert.Equal(t, start+1, atomic.LoadInt32(&taskBoots))

	ResetBootState()
	assert.False(t, task.IsBooted())

	// The scopes registered by Boot went with the flag, and come back with
	// the next boot.
	assert.True(t, task.HasGlobalScope("unarchived"))
	assert.Equal(t, start+2, atomic.LoadInt32(&taskBoots))
	assert.Len(t, task.globalScopes, 1)
}

func TestBoot_ConcurrentFirstUseWaitsForBoot(t *testing.T) {
	env := newTestEnv(t)
	started := make(chan struct{})
	release := make(chan struct{})
	flag := &Schema{Name: "Flag", Boot: func(s *Schema) {
		close(started)
		<-release
		s.AddGlobalScope("c", ScopeFunc(func(q *Builder) { q.Where("c", 1) }))
	}}
	env.reg.Register(flag)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		flag.Query()
	}()
	<-started

	sqls := make(chan string, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sql, _ := flag.Query().ToSQL()
			sqls <- sql
		}()
	}
	assert.False(t, flag.IsBooted())

	close(release)
	wg.Wait()
	close(sqls)

	for sql := range sqls {
		assert.Equal(t, `SELECT * FROM "flags" WHERE "c" = ?`, sql)
	}
	assert.True(t, flag.IsBooted())
}

func TestBoot_QueryFromInsideBoot(t *testing.T) {
	env := newTestEnv(t)
	var inside string
	flag := &Schema{Name: "Flag", Boot: func(s *Schema) {
		s.AddGlobalScope("c", ScopeFunc(func(q *Builder) { q.Where("c", 1) }))
		inside, _ = s.Query().ToSQL()
		s.AddGlobalScope("a", ScopeFunc(func(q *Builder) { q.Where("a", 1) }))
	}}
	env.reg.Register(flag)

	sql, _ := flag.Query().ToSQL()
	assert.Equal(t, `SELECT * FROM "flags" WHERE "c" = ?`, inside)
	assert.Equal(t, `SELECT * FROM "flags" WHERE "c" = ? AND "a" = ?`, sql)
}

func scopeIDs(s *Schema) []string {
	var ids []string
	for _, ns := range s.globalScopes {
		ids = append(ids, ns.id)
	}
	return ids
}

func TestResetBootState_KeepsRegistrationsOutsideBoot(t *testing.T) {
	env := newTestEnv(t)
	task := env.schema("Task")
	noop := func(*Model) error { return nil }

	task.AddGlobalScope("only_a", ScopeFunc(func(q *Builder) { q.Where("a", 1) }))
	task.AddGlobalScope("unarchived", ScopeFunc(func(q *Builder) { q.Where("archived", 2) }))
	task.On(EventSaved, noop)

	sql, args := task.Query().ToSQL()
	assert.Equal(t, `SELECT * FROM "tasks" WHERE "a" = ? AND "archived" = ?`, sql)
	assert.Equal(t, []interface{}{1, 0}, args, "Boot replaced the unarchived body")
	assert.Len(t, task.hooks[EventCreating], 1)

	task.AddGlobalScope("late", ScopeFunc(func(q *Builder) { q.Where("title", "x") }))
	task.On(EventCreating, noop)

	ResetBootState()
	assert.False(t, task.IsBooted())
	assert.Equal(t, []string{"only_a", "unarchived", "late"}, scopeIDs(task))
	assert.Len(t, task.hooks[EventSaved], 1)
	assert.Len(t, task.hooks[EventCreating], 1, "only the Boot hook is dropped")

	restored := task.globalScopes[1].scope
	sql, args = task.NewQueryWithoutScopes().WithGlobalScope("u", restored).ToSQL()
	assert.Equal(t, `SELECT * FROM "tasks" WHERE "archived" = ?`, sql)
	assert.Equal(t, []interface{}{2}, args, "the body from before Boot is back")

	sql, args = task.Query().ToSQL()
	assert.Equal(t, `SELECT * FROM "tasks" WHERE "a" = ? AND "archived" = ? AND "title" = ?`, sql)
	assert.Equal(t, []interface{}{1, 0, "x"}, args)
	assert.Len(t, task.hooks[EventCreating], 2)
}

func TestLocalScopes(t *testing.T) {
	env := newTestEnv(t)
	post := env.schema("Post")

	sql, args := post.Query().Scope("published").Scope("titled", "First").ToSQL()
	assert.Equal(t, `SELECT * FROM "posts" WHERE "published" = ? AND "title" = ?`, sql)
	assert.Equal(t, []interface{}{1, "First"}, args)

	sql, _ = post.Query().Where("user_id", 1).OrWhere("user_id", 2).Scope("published").ToSQL()
	assert.Equal(t, `SELECT * FROM "posts" WHERE ("user_id" = ? OR "user_id" = ?) AND "published" = ?`, sql)

	le := requireLogicPanic(t, func() { post.Query().Scope("titled") })
	assert.Contains(t, le.Error(), "requires 1 parameters")
	assert.ErrorIs(t, le, ErrLogic)

	le = requireLogicPanic(t, func() { post.Query().Scope("popular") })
	assert.Contains(t, le.Error(), "[popular]")
}

func TestMacros(t *testing.T) {
	env := newTestEnv(t)

	RegisterMacro("titled", func(b *Builder, args ...interface{}) *Builder {
		return b.Where("title", args[0])
	})
	assert.True(t, HasMacro("titled"))

	sql, args := env.schema("Post").Query().Macro("titled", "First").ToSQL()
	assert.Equal(t, `SELECT * FROM "posts" WHERE "title" = ?`, sql)
	assert.Equal(t, []interface{}{"First"}, args)

	le := requireLogicPanic(t, func() { env.schema("Post").Query().Macro("missing") })
	assert.Contains(t, le.Error(), "undefined macro [missing]")

	ResetMacros()
	assert.False(t, HasMacro("titled"))
}

func TestWhere_ArgumentForms(t *testing.T) {
	env := newTestEnv(t)
	post := env.schema("Post")

	tests := []struct {
		name  string
		build func(b *Builder) *Builder
		want  string
	}{
		{
			name:  "column and value",
			build: func(b *Builder) *Builder { return b.Where("title", "x") },
			want:  `SELECT * FROM "posts" WHERE "title" = ?`,
		},
		{
			name:  "column operator value",
			build: func(b *Builder) *Builder { return b.Where("id", ">", 1) },
			want:  `SELECT * FROM "posts" WHERE "id" > ?`,
		},
		{
			name: "nested group",
			build: func(b *Builder) *Builder {
				return b.Where("published", 1).Where(func(q *Builder) {
					q.Where("title", "a").OrWhere("title", "b")
				})
			},
			want: `SELECT * FROM "posts" WHERE "published" = ? AND ("title" = ? OR "title" = ?)`,
		},
		{
			name:  "map",
			build: func(b *Builder) *Builder { return b.Where(map[string]interface{}{"user_id": 1, "published": 1}) },
			want:  `SELECT * FROM "posts" WHERE ("published" = ? AND "user_id" = ?)`,
		},
		{
			name:  "expression",
			build: func(b *Builder) *Builder { return b.Where(query.Eq("title", "x")) },
			want:  `SELECT * FROM "posts" WHERE "title" = ?`,
		},
		{
			name:  "key",
			build: func(b *Builder) *Builder { return b.WhereKey(1).WhereKeyNot([]interface{}{2, 3}) },
			want:  `SELECT * FROM "posts" WHERE "posts"."id" = ? AND "posts"."id" NOT IN (?, ?)`,
		},
		{
			name:  "null and latest",
			build: func(b *Builder) *Builder { return b.WhereNull("user_id").Latest("") },
			want:  `SELECT * FROM "posts" WHERE "user_id" IS NULL ORDER BY "created_at" DESC`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, _ := tt.build(post.Query()).ToSQL()
			assert.Equal(t, tt.want, sql)
		})
	}

	requireLogicPanic(t, func() { post.Query().Where(42) })
	requireLogicPanic(t, func() { post.Query().Where("title") })
}

func TestWhere_RejectsUnknownOperators(t *testing.T) {
	env := newTestEnv(t)
	post := env.schema("Post")

	for _, op := range []string{"= 0 OR 1 = 1 OR 0 <>", "==", "between", ""} {
		t.Run(op, func(t *testing.T) {
			le := requireLogicPanic(t, func() { post.Query().Where("published", 1).Where("id", op, 999) })
			assert.ErrorIs(t, le, query.ErrInvalidOperator)
			assert.ErrorIs(t, le, ErrLogic)

			requireLogicPanic(t, func() { post.Query().OrWhere("id", op, 999) })
			requireLogicPanic(t, func() { post.Query().WhereColumn("id", op, "user_id") })
			requireLogicPanic(t, func() { post.Query().Join("users", "users.id", op, "posts.user_id") })
		})
	}

	sql, _ := post.Query().Where("title", "NOT  LIKE", "a%").WhereColumn("created_at", "<=", "updated_at").ToSQL()
	assert.Equal(t, `SELECT * FROM "posts" WHERE "title" NOT LIKE ? AND "created_at" <= "updated_at"`, sql)
}
