package orm

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/coregx/relicorm/internal/query"
)

const (
	pivotRelation = "pivot"
	pivotPrefix   = "pivot_"
)

// BelongsToMany is a many-to-many relation through a pivot table. Pivot
// columns of each result are moved into a "pivot" relation model.
type BelongsToMany struct {
	relationBase
	table           string
	foreignPivotKey string
	relatedPivotKey string
	parentKey       string
	relatedKey      string
	pivotColumns    []string
	pivotSchema     *Schema
}

// BelongsToMany declares a many-to-many relation through table (default:
// both schema names in snake case, sorted and joined with "_"), which holds
// foreignPivotKey (default "<parent>_id") and relatedPivotKey (default
// "<related>_id").
func (m *Model) BelongsToMany(related, table, foreignPivotKey, relatedPivotKey string) *BelongsToMany {
	base := newRelationBase(m, related)
	if table == "" {
		names := []string{snakeCase(m.schema.Name), snakeCase(base.related.Name)}
		sort.Strings(names)
		table = strings.Join(names, "_")
	}
	if foreignPivotKey == "" {
		foreignPivotKey = m.schema.ForeignKey()
	}
	if relatedPivotKey == "" {
		relatedPivotKey = base.related.ForeignKey()
	}

	r := &BelongsToMany{
		relationBase:    base,
		table:           table,
		foreignPivotKey: foreignPivotKey,
		relatedPivotKey: relatedPivotKey,
		parentKey:       m.schema.PrimaryKey,
		relatedKey:      base.related.PrimaryKey,
	}
	r.pivotSchema = &Schema{Name: "Pivot", Table: table, Guarded: []string{}}
	r.pivotSchema.applyDefaults()

	r.query.Join(table, base.related.QualifyColumn(r.relatedKey), "=", r.qualifyPivot(relatedPivotKey))
	return r
}

// Kind returns KindBelongsToMany.
func (r *BelongsToMany) Kind() RelationKind {
	return KindBelongsToMany
}

// Table returns the pivot table.
func (r *BelongsToMany) Table() string {
	return r.table
}

// WithPivot adds pivot columns to load with each result.
func (r *BelongsToMany) WithPivot(columns ...string) *BelongsToMany {
	r.pivotColumns = append(r.pivotColumns, columns...)
	return r
}

// WherePivot constrains a pivot column.
func (r *BelongsToMany) WherePivot(column, op string, value interface{}) *BelongsToMany {
	r.query.Where(r.qualifyPivot(column), checkOperator(op), value)
	return r
}

func (r *BelongsToMany) qualifyPivot(column string) string {
	return r.table + "." + column
}

// AddConstraints limits the query to the parent's related rows.
func (r *BelongsToMany) AddConstraints() {
	r.query.Where(r.qualifyPivot(r.foreignPivotKey), "=", r.parent.GetRaw(r.parentKey))
}

// AddEagerConstraints limits the query to the related rows of models.
func (r *BelongsToMany) AddEagerConstraints(models []*Model) {
	r.query.WhereIn(r.qualifyPivot(r.foreignPivotKey), distinctKeys(models, r.parentKey))
}

// InitRelation sets an empty collection on every model.
func (r *BelongsToMany) InitRelation(models []*Model, relation string) []*Model {
	for _, m := range models {
		m.SetRelation(relation, NewCollection())
	}
	return models
}

// Match attaches each result to the parent named by its pivot row.
func (r *BelongsToMany) Match(models []*Model, results *Collection, relation string) []*Model {
	dictionary := make(map[string][]*Model, results.Len())
	for _, result := range results.items {
		pivot := result.RelatedModel(pivotRelation)
		if pivot == nil {
			continue
		}
		k := keyString(pivot.GetRaw(r.foreignPivotKey))
		dictionary[k] = append(dictionary[k], result)
	}

	for _, m := range models {
		if children, ok := dictionary[keyString(m.GetRaw(r.parentKey))]; ok {
			m.SetRelation(relation, NewCollection(children...))
		}
	}
	return models
}

// pivotSelects returns the aliased pivot columns.
func (r *BelongsToMany) pivotSelects() []string {
	cols := append([]string{r.foreignPivotKey, r.relatedPivotKey}, r.pivotColumns...)
	out := make([]string, 0, len(cols))
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, r.qualifyPivot(c)+" as "+pivotPrefix+c)
	}
	return out
}

func (r *BelongsToMany) get(ctx context.Context) (*Collection, error) {
	q := r.query.Clone()
	if !q.query.HasSelect() {
		q.Select(r.related.Table + ".*")
	}
	q.AddSelect(r.pivotSelects()...)

	c, err := q.Get(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range c.items {
		r.hydratePivot(m)
	}
	return c, nil
}

// hydratePivot moves the pivot_ attributes of m into a pivot model.
func (r *BelongsToMany) hydratePivot(m *Model) {
	pivot := &Model{
		schema:     r.pivotSchema,
		attributes: make(map[string]interface{}),
		relations:  make(map[string]interface{}),
		exists:     true,
		connection: m.connection,
	}
	for k, v := range m.attributes {
		if strings.HasPrefix(k, pivotPrefix) {
			pivot.attributes[strings.TrimPrefix(k, pivotPrefix)] = v
			delete(m.attributes, k)
		}
	}
	pivot.SyncOriginal()
	m.SyncOriginal()
	m.SetRelation(pivotRelation, pivot)
}

// GetEager runs the eager query.
func (r *BelongsToMany) GetEager(ctx context.Context) (*Collection, error) {
	return r.get(ctx)
}

// GetResults runs the lazily constrained query.
func (r *BelongsToMany) GetResults(ctx context.Context) (interface{}, error) {
	if r.parent.GetRaw(r.parentKey) == nil {
		return NewCollection(), nil
	}
	return r.get(ctx)
}

// ExistenceCountQuery counts the related rows of each parent row.
func (r *BelongsToMany) ExistenceCountQuery(parent *Builder) (*Builder, error) {
	return r.countQuery().WhereColumn(
		r.qualifyPivot(r.foreignPivotKey), "=", parent.schema.QualifyColumn(r.parentKey)), nil
}

func (r *BelongsToMany) pivotQuery() *query.Builder {
	return query.New(r.query.query.Executor()).From(r.table)
}

// Attach inserts pivot rows linking the parent to ids, with extra pivot
// attributes.
func (r *BelongsToMany) Attach(ctx context.Context, ids []interface{}, attrs map[string]interface{}) error {
	parentKey := r.parent.GetRaw(r.parentKey)
	for _, id := range ids {
		row := merge(attrs, map[string]interface{}{
			r.foreignPivotKey: parentKey,
			r.relatedPivotKey: id,
		})
		if err := r.pivotQuery().Insert(ctx, row); err != nil {
			return errors.Wrapf(err, "can't attach to %s", r.table)
		}
	}
	return nil
}

// Detach deletes the pivot rows linking the parent to ids, or all of the
// parent's pivot rows when ids is empty.
func (r *BelongsToMany) Detach(ctx context.Context, ids ...interface{}) (int64, error) {
	q := r.pivotQuery().Where(r.foreignPivotKey, "=", r.parent.GetRaw(r.parentKey))
	if len(ids) > 0 {
		q.WhereIn(r.relatedPivotKey, ids)
	}
	n, err := q.Delete(ctx)
	return n, errors.Wrapf(err, "can't detach from %s", r.table)
}
