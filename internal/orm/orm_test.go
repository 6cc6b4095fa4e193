package orm

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/coregx/relicorm/internal/core"
)

var taskBoots int32

var schemaDDL = []string{
	`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, email TEXT, password TEXT,
		is_admin INTEGER DEFAULT 0, settings TEXT, created_at TEXT, updated_at TEXT)`,
	`CREATE TABLE profiles (id INTEGER PRIMARY KEY, user_id INTEGER, bio TEXT)`,
	`CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER, title TEXT,
		published INTEGER DEFAULT 0, created_at TEXT, updated_at TEXT)`,
	`CREATE TABLE comments (id INTEGER PRIMARY KEY, post_id INTEGER, body TEXT, approved INTEGER DEFAULT 0)`,
	`CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT)`,
	`CREATE TABLE post_tag (post_id INTEGER, tag_id INTEGER, weight INTEGER)`,
	`CREATE TABLE images (id INTEGER PRIMARY KEY, url TEXT, imageable_type TEXT, imageable_id INTEGER)`,
	`CREATE TABLE documents (id TEXT PRIMARY KEY, title TEXT)`,
	`CREATE TABLE tasks (id INTEGER PRIMARY KEY, title TEXT, archived INTEGER DEFAULT 0)`,
	`CREATE TABLE flags (id INTEGER PRIMARY KEY, a INTEGER, b INTEGER, c INTEGER)`,
}

func hasMany(related string) RelationFactory {
	return func(m *Model) Relation { return m.HasMany(related, "", "") }
}

func belongsTo(related, foreignKey string) RelationFactory {
	return func(m *Model) Relation { return m.BelongsTo(related, foreignKey, "") }
}

// testSchemas returns fresh schemas so registration state does not leak
// between tests.
func testSchemas() []*Schema {
	return []*Schema{
		{
			Name:       "User",
			Fillable:   []string{"name", "email", "password", "is_admin", "settings"},
			Hidden:     []string{"password"},
			Casts:      map[string]CastType{"is_admin": CastBool, "settings": CastJSON},
			Timestamps: true,
			Relations: map[string]RelationFactory{
				"posts":   hasMany("Post"),
				"profile": func(m *Model) Relation { return m.HasOne("Profile", "", "") },
				"images":  func(m *Model) Relation { return m.MorphMany("Image", "imageable", "") },
			},
		},
		{
			Name:    "Profile",
			Guarded: []string{},
			Relations: map[string]RelationFactory{
				"user": belongsTo("User", ""),
			},
		},
		{
			Name:       "Post",
			Fillable:   []string{"title", "user_id", "published"},
			Casts:      map[string]CastType{"published": CastBool, "user_id": CastInt},
			Timestamps: true,
			Relations: map[string]RelationFactory{
				"author":   belongsTo("User", "user_id"),
				"comments": hasMany("Comment"),
				"tags": func(m *Model) Relation {
					return m.BelongsToMany("Tag", "", "", "").WithPivot("weight")
				},
				"images": func(m *Model) Relation { return m.MorphMany("Image", "imageable", "") },
			},
			LocalScopes: map[string]LocalScope{
				"published": {Apply: func(b *Builder, _ ...interface{}) { b.Where("published", 1) }},
				"titled": {Params: 1, Apply: func(b *Builder, params ...interface{}) {
					b.Where("title", params[0])
				}},
			},
		},
		{
			Name:    "Comment",
			Guarded: []string{},
			Relations: map[string]RelationFactory{
				"post": belongsTo("Post", ""),
			},
		},
		{
			Name:     "Tag",
			Fillable: []string{"name"},
			Relations: map[string]RelationFactory{
				"posts": func(m *Model) Relation { return m.BelongsToMany("Post", "", "", "") },
			},
		},
		{
			Name:     "Image",
			Fillable: []string{"url"},
			Relations: map[string]RelationFactory{
				"imageable": func(m *Model) Relation { return m.MorphTo("imageable", "") },
			},
		},
		{
			Name:     "Document",
			KeyType:  KeyString,
			Fillable: []string{"title"},
		},
		{
			Name: "Task",
			Boot: func(s *Schema) {
				atomic.AddInt32(&taskBoots, 1)
				s.AddGlobalScope("unarchived", ScopeFunc(func(b *Builder) {
					b.Where("archived", 0)
				}))
				s.On(EventCreating, func(m *Model) error {
					if m.GetString("title") == "forbidden" {
						return errors.New("forbidden title")
					}
					return nil
				})
			},
		},
		{
			Name: "Flag",
		},
	}
}

type testEnv struct {
	db  *core.DB
	reg *Registry

	mu      sync.Mutex
	queries []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{}

	db, err := core.Open("sqlite", ":memory:",
		core.WithMaxOpenConns(1),
		core.WithQueryHook(func(_ context.Context, e core.QueryEvent) {
			env.mu.Lock()
			env.queries = append(env.queries, e.SQL)
			env.mu.Unlock()
		}))
	require.NoError(t, err)

	ctx := context.Background()
	for _, ddl := range schemaDDL {
		_, err := db.Exec(ctx, ddl, nil)
		require.NoError(t, err)
	}

	env.db = db
	env.reg = NewRegistry()
	env.reg.AddConnection(DefaultConnection, db)
	env.reg.Register(testSchemas()...)

	t.Cleanup(func() {
		ResetBootState()
		ResetMacros()
		_ = db.Close()
	})
	env.reset()
	return env
}

func (e *testEnv) schema(name string) *Schema {
	return e.reg.MustSchema(name)
}

func (e *testEnv) seed(t *testing.T, table string, rows ...map[string]interface{}) {
	t.Helper()
	for _, row := range rows {
		require.NoError(t, e.db.Query().From(table).Insert(context.Background(), row))
	}
}

// seedBlog stores two users, three posts, three comments, two tags and two
// images, then clears the query log.
func (e *testEnv) seedBlog(t *testing.T) {
	t.Helper()
	e.seed(t, "users",
		map[string]interface{}{"id": 1, "name": "alice", "email": "alice@example.com", "password": "secret",
			"is_admin": 1, "settings": `{"theme":"dark"}`},
		map[string]interface{}{"id": 2, "name": "bob", "email": "bob@example.com", "password": "hunter2"},
	)
	e.seed(t, "profiles", map[string]interface{}{"id": 1, "user_id": 1, "bio": "hi"})
	e.seed(t, "posts",
		map[string]interface{}{"id": 1, "user_id": 1, "title": "First", "published": 1},
		map[string]interface{}{"id": 2, "user_id": 2, "title": "Second", "published": 0},
		map[string]interface{}{"id": 3, "user_id": 1, "title": "Third", "published": 1},
	)
	e.seed(t, "comments",
		map[string]interface{}{"id": 1, "post_id": 1, "body": "c1", "approved": 1},
		map[string]interface{}{"id": 2, "post_id": 1, "body": "c2", "approved": 0},
		map[string]interface{}{"id": 3, "post_id": 2, "body": "c3", "approved": 1},
	)
	e.seed(t, "tags",
		map[string]interface{}{"id": 1, "name": "go"},
		map[string]interface{}{"id": 2, "name": "sql"},
	)
	e.seed(t, "post_tag",
		map[string]interface{}{"post_id": 1, "tag_id": 1, "weight": 10},
		map[string]interface{}{"post_id": 1, "tag_id": 2, "weight": 5},
		map[string]interface{}{"post_id": 2, "tag_id": 2, "weight": 1},
	)
	e.seed(t, "images",
		map[string]interface{}{"id": 1, "url": "a.png", "imageable_type": "Post", "imageable_id": 1},
		map[string]interface{}{"id": 2, "url": "b.png", "imageable_type": "User", "imageable_id": 1},
	)
	e.reset()
}

func (e *testEnv) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = nil
}

func (e *testEnv) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queries)
}

// countFrom returns how many logged statements read from table.
func (e *testEnv) countFrom(table string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, q := range e.queries {
		if strings.Contains(q, `FROM "`+table+`"`) {
			n++
		}
	}
	return n
}

func (e *testEnv) log() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.queries...)
}

// requireLogicPanic runs fn and requires it to panic with a *LogicError.
func requireLogicPanic(t *testing.T, fn func()) *LogicError {
	t.Helper()
	var got interface{}
	func() {
		defer func() { got = recover() }()
		fn()
	}()
	require.NotNil(t, got, "expected a panic")
	le, ok := got.(*LogicError)
	require.True(t, ok, "expected *LogicError, got %T", got)
	return le
}

func keysOf(c *Collection) []int64 {
	out := make([]int64, 0, c.Len())
	for _, m := range c.All() {
		out = append(out, m.GetRaw("id").(int64))
	}
	return out
}
