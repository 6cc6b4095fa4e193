package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/coregx/relicorm/internal/dialects"
)

// ErrNoExecutor is returned when a builder without an executor is run.
var ErrNoExecutor = errors.New("query: builder has no executor")

// ErrInvalidOperator is the panic value of a comparison built with an
// operator outside the supported set.
var ErrInvalidOperator = errors.New("query: invalid operator")

var operators = map[string]struct{}{
	"=": {}, "<": {}, ">": {}, "<=": {}, ">=": {}, "<>": {}, "!=": {},
	"like": {}, "not like": {}, "ilike": {}, "not ilike": {},
	"is": {}, "is not": {},
}

// NormalizeOperator lower-cases op and reports whether it is a supported
// comparison operator. Only supported operators are written into SQL.
func NormalizeOperator(op string) (string, bool) {
	op = strings.Join(strings.Fields(strings.ToLower(op)), " ")
	_, ok := operators[op]
	return op, ok
}

func mustOperator(op string) string {
	norm, ok := NormalizeOperator(op)
	if !ok {
		panic(fmt.Errorf("%w %q", ErrInvalidOperator, op))
	}
	return norm
}

type selectKind int

const (
	selectColumn selectKind = iota
	selectRaw
	selectSub
)

type selectItem struct {
	kind  selectKind
	value string
	args  []interface{}
	sub   *Builder
	alias string
}

type join struct {
	kind   string
	table  string
	first  string
	op     string
	second string
}

type order struct {
	column    string
	direction string
}

// Builder accumulates a SELECT statement (and the table for INSERT, UPDATE
// and DELETE). A builder is mutated in place by its methods; use Clone for an
// independent copy.
type Builder struct {
	exec     Executor
	dialect  dialects.Dialect
	table    string
	selects  []selectItem
	distinct bool
	joins    []join
	wheres   []Where
	groups   []string
	orders   []order
	limit    int
	offset   int
}

// New creates a builder bound to exec.
func New(exec Executor) *Builder {
	return &Builder{exec: exec, dialect: exec.Dialect(), limit: -1, offset: -1}
}

// NewWithDialect creates a builder that can compile SQL but not execute it.
func NewWithDialect(d dialects.Dialect) *Builder {
	return &Builder{dialect: d, limit: -1, offset: -1}
}

// Dialect returns the builder's SQL dialect.
func (b *Builder) Dialect() dialects.Dialect {
	return b.dialect
}

// Executor returns the executor the builder runs against.
func (b *Builder) Executor() Executor {
	return b.exec
}

// From sets the table.
func (b *Builder) From(table string) *Builder {
	b.table = table
	return b
}

// Table returns the table the builder targets.
func (b *Builder) Table() string {
	return b.table
}

// Select replaces the select list. Columns may be qualified ("posts.id"),
// wildcards ("posts.*") or aliased ("pivot.post_id as pivot_post_id").
func (b *Builder) Select(columns ...string) *Builder {
	b.selects = nil
	return b.AddSelect(columns...)
}

// AddSelect appends columns to the select list.
func (b *Builder) AddSelect(columns ...string) *Builder {
	for _, c := range columns {
		b.selects = append(b.selects, selectItem{kind: selectColumn, value: c})
	}
	return b
}

// SelectRaw appends a raw select expression.
func (b *Builder) SelectRaw(expr string, args ...interface{}) *Builder {
	b.selects = append(b.selects, selectItem{kind: selectRaw, value: expr, args: args})
	return b
}

// SelectSub appends a parenthesized sub-select under alias.
func (b *Builder) SelectSub(sub *Builder, alias string) *Builder {
	b.selects = append(b.selects, selectItem{kind: selectSub, sub: sub, alias: alias})
	return b
}

// HasSelect reports whether an explicit select list was given.
func (b *Builder) HasSelect() bool {
	return len(b.selects) > 0
}

// Columns returns the plain column entries of the select list.
func (b *Builder) Columns() []string {
	var cols []string
	for _, s := range b.selects {
		if s.kind == selectColumn {
			cols = append(cols, s.value)
		}
	}
	return cols
}

// Distinct makes the query return distinct rows.
func (b *Builder) Distinct() *Builder {
	b.distinct = true
	return b
}

// Join adds an INNER JOIN.
func (b *Builder) Join(table, first, op, second string) *Builder {
	b.joins = append(b.joins, join{kind: "INNER", table: table, first: first, op: mustOperator(op), second: second})
	return b
}

// LeftJoin adds a LEFT JOIN.
func (b *Builder) LeftJoin(table, first, op, second string) *Builder {
	b.joins = append(b.joins, join{kind: "LEFT", table: table, first: first, op: mustOperator(op), second: second})
	return b
}

// Where adds "column operator value" joined with AND. A nil value with "="
// or "<>" becomes an IS [NOT] NULL check.
func (b *Builder) Where(column, operator string, value interface{}) *Builder {
	return b.addBasic(column, operator, value, BoolAnd)
}

// OrWhere adds "column operator value" joined with OR.
func (b *Builder) OrWhere(column, operator string, value interface{}) *Builder {
	return b.addBasic(column, operator, value, BoolOr)
}

func (b *Builder) addBasic(column, operator string, value interface{}, boolean string) *Builder {
	operator = mustOperator(operator)
	if value == nil {
		switch operator {
		case "=", "is":
			return b.addWhere(Where{Kind: WhereNull, Column: column, Boolean: boolean})
		case "<>", "!=", "is not":
			return b.addWhere(Where{Kind: WhereNotNull, Column: column, Boolean: boolean})
		}
	}
	return b.addWhere(Where{Kind: WhereBasic, Column: column, Operator: operator, Value: value, Boolean: boolean})
}

// WhereIn adds "column IN (values)".
func (b *Builder) WhereIn(column string, values []interface{}) *Builder {
	return b.addWhere(Where{Kind: WhereIn, Column: column, Values: values, Boolean: BoolAnd})
}

// OrWhereIn adds "column IN (values)" joined with OR.
func (b *Builder) OrWhereIn(column string, values []interface{}) *Builder {
	return b.addWhere(Where{Kind: WhereIn, Column: column, Values: values, Boolean: BoolOr})
}

// WhereNotIn adds "column NOT IN (values)".
func (b *Builder) WhereNotIn(column string, values []interface{}) *Builder {
	return b.addWhere(Where{Kind: WhereNotIn, Column: column, Values: values, Boolean: BoolAnd})
}

// OrWhereNotIn adds "column NOT IN (values)" joined with OR.
func (b *Builder) OrWhereNotIn(column string, values []interface{}) *Builder {
	return b.addWhere(Where{Kind: WhereNotIn, Column: column, Values: values, Boolean: BoolOr})
}

// WhereNull adds "column IS NULL".
func (b *Builder) WhereNull(column string, boolean string) *Builder {
	return b.addWhere(Where{Kind: WhereNull, Column: column, Boolean: boolean})
}

// WhereNotNull adds "column IS NOT NULL".
func (b *Builder) WhereNotNull(column string, boolean string) *Builder {
	return b.addWhere(Where{Kind: WhereNotNull, Column: column, Boolean: boolean})
}

// WhereColumn compares two columns.
func (b *Builder) WhereColumn(first, operator, second, boolean string) *Builder {
	operator = mustOperator(operator)
	return b.addWhere(Where{Kind: WhereColumn, Column: first, Operator: operator, Second: second, Boolean: boolean})
}

// WhereExp adds an Expression predicate.
func (b *Builder) WhereExp(exp Expression, boolean string) *Builder {
	return b.addWhere(Where{Kind: WhereExpression, Exp: exp, Boolean: boolean})
}

// WhereRaw adds a raw SQL predicate with "?" placeholders.
func (b *Builder) WhereRaw(sql string, boolean string, args ...interface{}) *Builder {
	return b.addWhere(Where{Kind: WhereRaw, SQL: sql, Args: args, Boolean: boolean})
}

// WhereNested opens a parenthesized group, fills it with fn and appends it.
func (b *Builder) WhereNested(fn func(*Builder), boolean string) *Builder {
	group := b.ForNestedWhere()
	fn(group)
	return b.AddNestedWhereQuery(group, boolean)
}

// ForNestedWhere returns an empty builder for the same table, used to
// collect the predicates of a parenthesized group.
func (b *Builder) ForNestedWhere() *Builder {
	return &Builder{exec: b.exec, dialect: b.dialect, table: b.table, limit: -1, offset: -1}
}

// AddNestedWhereQuery appends q's predicates as a single group. A group
// without predicates is dropped.
func (b *Builder) AddNestedWhereQuery(q *Builder, boolean string) *Builder {
	if len(q.wheres) == 0 {
		return b
	}
	return b.addWhere(Where{Kind: WhereNested, Query: q, Boolean: boolean})
}

func (b *Builder) addWhere(w Where) *Builder {
	if w.Boolean == "" {
		w.Boolean = BoolAnd
	}
	b.wheres = append(b.wheres, w)
	return b
}

// Wheres returns the predicate list. The slice is the builder's own; use
// SetWheres to replace it.
func (b *Builder) Wheres() []Where {
	return b.wheres
}

// SetWheres replaces the predicate list.
func (b *Builder) SetWheres(wheres []Where) *Builder {
	b.wheres = wheres
	return b
}

// GroupBy adds GROUP BY columns.
func (b *Builder) GroupBy(columns ...string) *Builder {
	b.groups = append(b.groups, columns...)
	return b
}

// OrderBy adds an ORDER BY column. Direction is "asc" or "desc".
func (b *Builder) OrderBy(column, direction string) *Builder {
	direction = strings.ToUpper(direction)
	if direction != "DESC" {
		direction = "ASC"
	}
	b.orders = append(b.orders, order{column: column, direction: direction})
	return b
}

// ClearOrders drops every ORDER BY column.
func (b *Builder) ClearOrders() *Builder {
	b.orders = nil
	return b
}

// Limit sets the row limit. A negative value removes it.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

// Offset sets the row offset. A negative value removes it.
func (b *Builder) Offset(n int) *Builder {
	b.offset = n
	return b
}

// GetLimit returns the row limit, -1 when unset.
func (b *Builder) GetLimit() int {
	return b.limit
}

// Clone returns a deep copy; nested groups and sub-selects are cloned too.
func (b *Builder) Clone() *Builder {
	c := *b
	c.selects = make([]selectItem, len(b.selects))
	for i, s := range b.selects {
		if s.sub != nil {
			s.sub = s.sub.Clone()
		}
		c.selects[i] = s
	}
	c.joins = append([]join(nil), b.joins...)
	c.groups = append([]string(nil), b.groups...)
	c.orders = append([]order(nil), b.orders...)
	if b.wheres != nil {
		c.wheres = make([]Where, len(b.wheres))
		for i, w := range b.wheres {
			c.wheres[i] = w.clone()
		}
	}
	return &c
}

// ToSQL compiles the SELECT statement.
func (b *Builder) ToSQL() (string, []interface{}) {
	c := &compiler{dialect: b.dialect}
	sql := c.compileSelect(b)
	return c.finish(sql), c.args
}

// Get runs the SELECT statement and returns all rows.
func (b *Builder) Get(ctx context.Context) ([]Row, error) {
	if b.exec == nil {
		return nil, ErrNoExecutor
	}
	sql, args := b.ToSQL()
	return b.exec.Select(ctx, sql, args)
}

// First runs the statement with LIMIT 1 and returns the row, or nil.
func (b *Builder) First(ctx context.Context) (Row, error) {
	rows, err := b.Clone().Limit(1).Get(ctx)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Count returns the number of rows the statement matches.
func (b *Builder) Count(ctx context.Context) (int64, error) {
	q := b.Clone()
	q.selects = nil
	q.orders = nil
	q.limit, q.offset = -1, -1
	q.SelectRaw("count(*) as aggregate")

	row, err := q.First(ctx)
	if err != nil || row == nil {
		return 0, err
	}
	return toInt64(row["aggregate"]), nil
}

// Exists reports whether the statement matches at least one row.
func (b *Builder) Exists(ctx context.Context) (bool, error) {
	n, err := b.Count(ctx)
	return n > 0, err
}

// Pluck returns the values of one column.
func (b *Builder) Pluck(ctx context.Context, column string) ([]interface{}, error) {
	rows, err := b.Clone().Select(column).Get(ctx)
	if err != nil {
		return nil, err
	}

	name := column
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	values := make([]interface{}, len(rows))
	for i, r := range rows {
		values[i] = r[name]
	}
	return values, nil
}

// Insert inserts one row.
func (b *Builder) Insert(ctx context.Context, values map[string]interface{}) error {
	if b.exec == nil {
		return ErrNoExecutor
	}
	sql, args := b.compileInsert(values)
	_, err := b.exec.Exec(ctx, sql, args)
	return err
}

// InsertGetID inserts one row and returns the generated key.
func (b *Builder) InsertGetID(ctx context.Context, values map[string]interface{}, keyName string) (interface{}, error) {
	if b.exec == nil {
		return nil, ErrNoExecutor
	}
	sql, args := b.compileInsert(values)

	if b.dialect.SupportsReturning() {
		rows, err := b.exec.Select(ctx, sql+" RETURNING "+b.dialect.QuoteIdentifier(keyName), args)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return rows[0][keyName], nil
	}

	res, err := b.exec.Exec(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	return res.LastInsertId()
}

// Upsert inserts one row, resolving conflicts on conflictColumns by updating
// updateColumns. A nil updateColumns ignores the conflicting row.
func (b *Builder) Upsert(ctx context.Context, values map[string]interface{}, conflictColumns, updateColumns []string) (int64, error) {
	if b.exec == nil {
		return 0, ErrNoExecutor
	}
	sql, args := b.compileInsert(values)
	sql += b.dialect.UpsertSQL(b.table, conflictColumns, updateColumns)
	return b.affected(ctx, sql, args)
}

// Update updates every matched row and returns the affected row count.
func (b *Builder) Update(ctx context.Context, values map[string]interface{}) (int64, error) {
	if b.exec == nil {
		return 0, ErrNoExecutor
	}
	c := &compiler{dialect: b.dialect}
	keys := sortedKeys(values)
	sets := make([]string, len(keys))
	for i, k := range keys {
		sets[i] = c.wrap(k) + " = ?"
		c.args = append(c.args, values[k])
	}
	sql := "UPDATE " + c.wrap(b.table) + " SET " + strings.Join(sets, ", ") + c.compileWhereClause(b.wheres)
	return b.affected(ctx, c.finish(sql), c.args)
}

// Delete deletes every matched row and returns the affected row count.
func (b *Builder) Delete(ctx context.Context) (int64, error) {
	if b.exec == nil {
		return 0, ErrNoExecutor
	}
	c := &compiler{dialect: b.dialect}
	sql := "DELETE FROM " + c.wrap(b.table) + c.compileWhereClause(b.wheres)
	return b.affected(ctx, c.finish(sql), c.args)
}

func (b *Builder) affected(ctx context.Context, sql string, args []interface{}) (int64, error) {
	res, err := b.exec.Exec(ctx, sql, args)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (b *Builder) compileInsert(values map[string]interface{}) (string, []interface{}) {
	c := &compiler{dialect: b.dialect}
	keys := sortedKeys(values)
	cols := make([]string, len(keys))
	marks := make([]string, len(keys))
	for i, k := range keys {
		cols[i] = c.wrap(k)
		marks[i] = "?"
		c.args = append(c.args, values[k])
	}
	sql := "INSERT INTO " + c.wrap(b.table) + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
	return c.finish(sql), c.args
}

// sortedKeys returns sorted map keys for deterministic SQL generation.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
