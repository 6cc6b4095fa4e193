package orm

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/coregx/relicorm/internal/query"
)

// Builder is a model-aware query. It wraps a query.Builder, which it owns,
// and references a Model of the queried schema, which it shares with its
// clones. Builders are mutated in place and are not safe for concurrent use.
type Builder struct {
	query         *query.Builder
	model         *Model
	schema        *Schema
	eagerLoad     map[string]Constraint
	scopes        []namedScope
	removedScopes map[string]struct{}
	withCount     []string
}

func newBuilder(q *query.Builder, m *Model) *Builder {
	return &Builder{
		query:         q,
		model:         m,
		schema:        m.schema,
		eagerLoad:     make(map[string]Constraint),
		removedScopes: make(map[string]struct{}),
	}
}

// Model returns the model the builder is bound to.
func (b *Builder) Model() *Model {
	return b.model
}

// Schema returns the queried schema.
func (b *Builder) Schema() *Schema {
	return b.schema
}

// Query returns the underlying query builder without scopes applied.
func (b *Builder) Query() *query.Builder {
	return b.query
}

// ToBase returns the underlying query builder with scopes applied.
func (b *Builder) ToBase() *query.Builder {
	return b.ApplyScopes().query
}

// ToSQL compiles the query with scopes applied.
func (b *Builder) ToSQL() (string, []interface{}) {
	return b.ToBase().ToSQL()
}

// Clone returns an independent copy. The query builder is deep-cloned; the
// model is shared.
func (b *Builder) Clone() *Builder {
	c := &Builder{
		query:         b.query.Clone(),
		model:         b.model,
		schema:        b.schema,
		eagerLoad:     make(map[string]Constraint, len(b.eagerLoad)),
		scopes:        append([]namedScope(nil), b.scopes...),
		removedScopes: make(map[string]struct{}, len(b.removedScopes)),
		withCount:     append([]string(nil), b.withCount...),
	}
	for k, v := range b.eagerLoad {
		c.eagerLoad[k] = v
	}
	for k := range b.removedScopes {
		c.removedScopes[k] = struct{}{}
	}
	return c
}

// forNestedWhere returns a composer over an empty predicate group.
func (b *Builder) forNestedWhere() *Builder {
	return newBuilder(b.query.ForNestedWhere(), b.model)
}

// Where adds a predicate joined with AND. column is one of:
//
//   - a column name, followed by a value or by an operator and a value
//   - a func(*Builder) filling a parenthesized group
//   - a query.Expression
//   - a map[string]interface{} of column = value pairs, grouped
//
// Anything else panics with a *LogicError.
func (b *Builder) Where(column interface{}, args ...interface{}) *Builder {
	return b.where(column, args, query.BoolAnd)
}

// OrWhere adds a predicate joined with OR. It accepts what Where accepts.
func (b *Builder) OrWhere(column interface{}, args ...interface{}) *Builder {
	return b.where(column, args, query.BoolOr)
}

func (b *Builder) where(column interface{}, args []interface{}, boolean string) *Builder {
	switch c := column.(type) {
	case string:
		switch len(args) {
		case 1:
			b.addBasic(c, "=", args[0], boolean)
		case 2:
			op, ok := args[0].(string)
			if !ok {
				panic(logicErrorf("where operator must be a string, got %T", args[0]))
			}
			b.addBasic(c, op, args[1], boolean)
		default:
			panic(logicErrorf("where on [%s] expects a value or an operator and a value", c))
		}

	case func(*Builder):
		group := b.forNestedWhere()
		c(group)
		b.query.AddNestedWhereQuery(group.query, boolean)

	case query.Expression:
		b.query.WhereExp(c, boolean)

	case map[string]interface{}:
		group := b.forNestedWhere()
		for _, k := range sortedKeys(c) {
			group.Where(k, c[k])
		}
		b.query.AddNestedWhereQuery(group.query, boolean)

	default:
		panic(logicErrorf("where expects a column, func(*Builder), Expression or map, got %T", column))
	}
	return b
}

func (b *Builder) addBasic(column, op string, value interface{}, boolean string) {
	op = checkOperator(op)
	if boolean == query.BoolOr {
		b.query.OrWhere(column, op, value)
		return
	}
	b.query.Where(column, op, value)
}

// WhereIn adds "column IN (values)".
func (b *Builder) WhereIn(column string, values []interface{}) *Builder {
	b.query.WhereIn(column, values)
	return b
}

// OrWhereIn adds "column IN (values)" joined with OR.
func (b *Builder) OrWhereIn(column string, values []interface{}) *Builder {
	b.query.OrWhereIn(column, values)
	return b
}

// WhereNotIn adds "column NOT IN (values)".
func (b *Builder) WhereNotIn(column string, values []interface{}) *Builder {
	b.query.WhereNotIn(column, values)
	return b
}

// WhereNull adds "column IS NULL".
func (b *Builder) WhereNull(column string) *Builder {
	b.query.WhereNull(column, query.BoolAnd)
	return b
}

// OrWhereNull adds "column IS NULL" joined with OR.
func (b *Builder) OrWhereNull(column string) *Builder {
	b.query.WhereNull(column, query.BoolOr)
	return b
}

// WhereNotNull adds "column IS NOT NULL".
func (b *Builder) WhereNotNull(column string) *Builder {
	b.query.WhereNotNull(column, query.BoolAnd)
	return b
}

// WhereColumn compares two columns.
func (b *Builder) WhereColumn(first, op, second string) *Builder {
	b.query.WhereColumn(first, checkOperator(op), second, query.BoolAnd)
	return b
}

// WhereRaw adds a raw predicate with "?" placeholders.
func (b *Builder) WhereRaw(sql string, args ...interface{}) *Builder {
	b.query.WhereRaw(sql, query.BoolAnd, args...)
	return b
}

// WhereKey constrains the primary key to id, or to any of ids when given a
// []interface{}.
func (b *Builder) WhereKey(id interface{}) *Builder {
	if ids, ok := id.([]interface{}); ok {
		return b.WhereIn(b.schema.QualifiedKeyName(), ids)
	}
	b.query.Where(b.schema.QualifiedKeyName(), "=", id)
	return b
}

// WhereKeyNot excludes id, or each of ids.
func (b *Builder) WhereKeyNot(id interface{}) *Builder {
	if ids, ok := id.([]interface{}); ok {
		return b.WhereNotIn(b.schema.QualifiedKeyName(), ids)
	}
	b.query.Where(b.schema.QualifiedKeyName(), "<>", id)
	return b
}

// Select replaces the select list.
func (b *Builder) Select(columns ...string) *Builder {
	b.query.Select(columns...)
	return b
}

// AddSelect appends to the select list.
func (b *Builder) AddSelect(columns ...string) *Builder {
	b.query.AddSelect(columns...)
	return b
}

// Distinct selects distinct rows.
func (b *Builder) Distinct() *Builder {
	b.query.Distinct()
	return b
}

// Join adds an INNER JOIN.
func (b *Builder) Join(table, first, op, second string) *Builder {
	b.query.Join(table, first, checkOperator(op), second)
	return b
}

// LeftJoin adds a LEFT JOIN.
func (b *Builder) LeftJoin(table, first, op, second string) *Builder {
	b.query.LeftJoin(table, first, checkOperator(op), second)
	return b
}

// GroupBy adds GROUP BY columns.
func (b *Builder) GroupBy(columns ...string) *Builder {
	b.query.GroupBy(columns...)
	return b
}

// OrderBy adds an ORDER BY column.
func (b *Builder) OrderBy(column, direction string) *Builder {
	b.query.OrderBy(column, direction)
	return b
}

// Latest orders by column, "created_at" when empty, descending.
func (b *Builder) Latest(column string) *Builder {
	if column == "" {
		column = "created_at"
	}
	return b.OrderBy(column, "desc")
}

// Oldest orders by column, "created_at" when empty, ascending.
func (b *Builder) Oldest(column string) *Builder {
	if column == "" {
		column = "created_at"
	}
	return b.OrderBy(column, "asc")
}

// Limit sets the row limit.
func (b *Builder) Limit(n int) *Builder {
	b.query.Limit(n)
	return b
}

// Offset sets the row offset.
func (b *Builder) Offset(n int) *Builder {
	b.query.Offset(n)
	return b
}

// ForPage limits the query to one page. Pages start at 1.
func (b *Builder) ForPage(page, perPage int) *Builder {
	if page < 1 {
		page = 1
	}
	return b.Offset((page - 1) * perPage).Limit(perPage)
}

// WithCount selects the number of related rows of each relation as
// "<relation>_count".
func (b *Builder) WithCount(relations ...string) *Builder {
	b.withCount = append(b.withCount, relations...)
	return b
}

func (b *Builder) addCountSelects() error {
	if len(b.withCount) == 0 {
		return nil
	}
	if !b.query.HasSelect() {
		b.query.Select(b.schema.Table + ".*")
	}
	for _, name := range b.withCount {
		rel, err := b.model.relationWithoutConstraints(name)
		if err != nil {
			return err
		}
		sub, err := rel.ExistenceCountQuery(b)
		if err != nil {
			return err
		}
		b.query.SelectSub(sub.ToBase(), name+"_count")
	}
	b.withCount = nil
	return nil
}

// prepare applies scopes and count sub-selects and checks the eager-load
// paths, before anything runs.
func (b *Builder) prepare() (*Builder, error) {
	applied := b.ApplyScopes()
	if err := applied.validateEagerLoads(); err != nil {
		return nil, err
	}
	if err := applied.addCountSelects(); err != nil {
		return nil, err
	}
	return applied, nil
}

// Get runs the query and eager loads the requested relations.
func (b *Builder) Get(ctx context.Context) (*Collection, error) {
	applied, err := b.prepare()
	if err != nil {
		return nil, err
	}

	models, err := applied.GetModels(ctx)
	if err != nil {
		return nil, err
	}
	if len(models) > 0 {
		if models, err = applied.EagerLoadRelations(ctx, models); err != nil {
			return nil, err
		}
	}
	return b.schema.NewCollection(models), nil
}

// GetModels runs the query as is and hydrates the rows, without scopes or
// eager loading.
func (b *Builder) GetModels(ctx context.Context) ([]*Model, error) {
	rows, err := b.query.Get(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "can't query %s", b.schema.Name)
	}
	return b.hydrate(rows), nil
}

func (b *Builder) hydrate(rows []query.Row) []*Model {
	models := make([]*Model, len(rows))
	for i, row := range rows {
		m := b.schema.NewFromBuilder(row)
		m.connection = b.model.connection
		models[i] = m
	}
	return models
}

// Hydrate turns rows into existing models on the builder's connection.
func (b *Builder) Hydrate(rows []query.Row) *Collection {
	return b.schema.NewCollection(b.hydrate(rows))
}

// FromQuery runs raw SQL on the builder's connection and hydrates the rows.
func (b *Builder) FromQuery(ctx context.Context, sql string, args ...interface{}) (*Collection, error) {
	exec := b.query.Executor()
	if exec == nil {
		return nil, query.ErrNoExecutor
	}
	rows, err := exec.Select(ctx, sql, args)
	if err != nil {
		return nil, errors.Wrapf(err, "can't query %s", b.schema.Name)
	}
	return b.Hydrate(rows), nil
}

// First returns the first matching model, or nil.
func (b *Builder) First(ctx context.Context) (*Model, error) {
	c, err := b.Clone().Limit(1).Get(ctx)
	if err != nil {
		return nil, err
	}
	return c.First(), nil
}

// FirstOrFail is First, failing with *ModelNotFoundError when nothing
// matches.
func (b *Builder) FirstOrFail(ctx context.Context) (*Model, error) {
	m, err := b.First(ctx)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &ModelNotFoundError{Model: b.schema.Name}
	}
	return m, nil
}

// Find returns the model with primary key id, or nil.
func (b *Builder) Find(ctx context.Context, id interface{}) (*Model, error) {
	return b.Clone().WhereKey(id).First(ctx)
}

// FindMany returns the models with the given keys. No query runs for an
// empty ids.
func (b *Builder) FindMany(ctx context.Context, ids []interface{}) (*Collection, error) {
	if len(ids) == 0 {
		return NewCollection(), nil
	}
	return b.Clone().WhereKey(ids).Get(ctx)
}

// FindOrFail is Find, failing with *ModelNotFoundError carrying id.
func (b *Builder) FindOrFail(ctx context.Context, id interface{}) (*Model, error) {
	m, err := b.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &ModelNotFoundError{Model: b.schema.Name, IDs: []interface{}{id}}
	}
	return m, nil
}

// FindManyOrFail is FindMany, failing with *ModelNotFoundError when fewer
// models than unique ids were found.
func (b *Builder) FindManyOrFail(ctx context.Context, ids []interface{}) (*Collection, error) {
	c, err := b.FindMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	unique := uniqueKeys(ids)
	if c.Len() < len(unique) {
		found := c.Dictionary()
		var missing []interface{}
		for _, id := range unique {
			if _, ok := found[keyString(id)]; !ok {
				missing = append(missing, id)
			}
		}
		return nil, &ModelNotFoundError{Model: b.schema.Name, IDs: missing}
	}
	return c, nil
}

// FirstOrNew returns the first model matching attrs, or a new unsaved model
// filled with attrs and values.
func (b *Builder) FirstOrNew(ctx context.Context, attrs, values map[string]interface{}) (*Model, error) {
	m, err := b.Clone().Where(attrs).First(ctx)
	if err != nil || m != nil {
		return m, err
	}
	return b.newModelInstance(merge(attrs, values))
}

// FirstOrCreate returns the first model matching attrs, or creates one from
// attrs and values.
func (b *Builder) FirstOrCreate(ctx context.Context, attrs, values map[string]interface{}) (*Model, error) {
	m, err := b.FirstOrNew(ctx, attrs, values)
	if err != nil {
		return nil, err
	}
	if !m.exists {
		if err := m.Save(ctx); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// UpdateOrCreate updates the first model matching attrs with values, or
// creates one from both.
func (b *Builder) UpdateOrCreate(ctx context.Context, attrs, values map[string]interface{}) (*Model, error) {
	m, err := b.FirstOrNew(ctx, attrs, nil)
	if err != nil {
		return nil, err
	}
	if err := m.Fill(values); err != nil {
		return nil, err
	}
	if err := m.Save(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Create fills a new model with attrs and saves it.
func (b *Builder) Create(ctx context.Context, attrs map[string]interface{}) (*Model, error) {
	m, err := b.newModelInstance(attrs)
	if err != nil {
		return nil, err
	}
	if err := m.Save(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (b *Builder) newModelInstance(attrs map[string]interface{}) (*Model, error) {
	m, err := b.schema.NewInstance(attrs, false)
	if err != nil {
		return nil, err
	}
	m.connection = b.model.connection
	return m, nil
}

// Count returns the number of matching rows.
func (b *Builder) Count(ctx context.Context) (int64, error) {
	n, err := b.ToBase().Count(ctx)
	return n, errors.Wrapf(err, "can't count %s", b.schema.Name)
}

// Exists reports whether any row matches.
func (b *Builder) Exists(ctx context.Context) (bool, error) {
	n, err := b.Count(ctx)
	return n > 0, err
}

// Pluck returns one column of the matching rows, cast like the attribute.
func (b *Builder) Pluck(ctx context.Context, column string) ([]interface{}, error) {
	values, err := b.ToBase().Pluck(ctx, column)
	if err != nil {
		return nil, errors.Wrapf(err, "can't pluck %s.%s", b.schema.Name, column)
	}
	if cast, ok := b.schema.Casts[column]; ok {
		for i, v := range values {
			if cv, err := castValue(cast, v); err == nil {
				values[i] = cv
			}
		}
	}
	return values, nil
}

// Update updates the matching rows, touching updated_at on timestamped
// schemas.
func (b *Builder) Update(ctx context.Context, values map[string]interface{}) (int64, error) {
	if b.schema.Timestamps {
		if _, ok := values["updated_at"]; !ok {
			values = merge(values, map[string]interface{}{"updated_at": now()})
		}
	}
	n, err := b.ToBase().Update(ctx, values)
	return n, errors.Wrapf(err, "can't update %s", b.schema.Name)
}

// Upsert inserts each row, updating the existing row when uniqueBy
// conflicts. A nil update refreshes every inserted column outside uniqueBy.
// Lifecycle hooks do not fire.
func (b *Builder) Upsert(ctx context.Context, rows []map[string]interface{}, uniqueBy, update []string) (int64, error) {
	var total int64
	for _, row := range rows {
		if b.schema.Timestamps {
			ts := now()
			row = merge(map[string]interface{}{"created_at": ts, "updated_at": ts}, row)
		}
		cols := update
		if cols == nil {
			for _, k := range sortedKeys(row) {
				if !contains(uniqueBy, k) && k != "created_at" {
					cols = append(cols, k)
				}
			}
		}
		if len(cols) == 0 {
			cols = nil
		}
		n, err := b.ToBase().Upsert(ctx, row, uniqueBy, cols)
		if err != nil {
			return total, errors.Wrapf(err, "can't upsert %s", b.schema.Name)
		}
		total += n
	}
	return total, nil
}

// Delete deletes the matching rows. Lifecycle hooks do not fire.
func (b *Builder) Delete(ctx context.Context) (int64, error) {
	n, err := b.ToBase().Delete(ctx)
	return n, errors.Wrapf(err, "can't delete %s", b.schema.Name)
}

// Paginator is one page of results.
type Paginator struct {
	Items       *Collection
	Total       int64
	PerPage     int
	CurrentPage int
}

// LastPage returns the number of the last page, at least 1.
func (p *Paginator) LastPage() int {
	if p.PerPage <= 0 || p.Total == 0 {
		return 1
	}
	return int(math.Ceil(float64(p.Total) / float64(p.PerPage)))
}

// HasMorePages reports whether pages follow the current one.
func (p *Paginator) HasMorePages() bool {
	return p.CurrentPage < p.LastPage()
}

// ToMap returns the page and its items for serialization.
func (p *Paginator) ToMap() (map[string]interface{}, error) {
	items, err := p.Items.ToMaps()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"data":         items,
		"total":        p.Total,
		"per_page":     p.PerPage,
		"current_page": p.CurrentPage,
		"last_page":    p.LastPage(),
	}, nil
}

// Paginate counts the matching rows and returns page (1-based) of perPage
// items. A non-positive perPage uses 15.
func (b *Builder) Paginate(ctx context.Context, perPage, page int) (*Paginator, error) {
	if perPage <= 0 {
		perPage = 15
	}
	if page < 1 {
		page = 1
	}

	total, err := b.Count(ctx)
	if err != nil {
		return nil, err
	}

	items := NewCollection()
	if total > 0 {
		if items, err = b.Clone().ForPage(page, perPage).Get(ctx); err != nil {
			return nil, err
		}
	}
	return &Paginator{Items: items, Total: total, PerPage: perPage, CurrentPage: page}, nil
}

// String returns the compiled SQL, for debugging.
func (b *Builder) String() string {
	sql, args := b.ToSQL()
	return fmt.Sprintf("%s %v", sql, args)
}

// checkOperator normalizes op, panicking with a *LogicError when it is not a
// supported comparison.
func checkOperator(op string) string {
	norm, ok := query.NormalizeOperator(op)
	if !ok {
		panic(&LogicError{Msg: fmt.Sprintf("unsupported where operator %q", op), Err: query.ErrInvalidOperator})
	}
	return norm
}

func merge(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func uniqueKeys(ids []interface{}) []interface{} {
	seen := make(map[string]struct{}, len(ids))
	var out []interface{}
	for _, id := range ids {
		k := keyString(id)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, id)
	}
	return out
}
