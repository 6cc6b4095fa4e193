package orm

import "context"

// RelationKind identifies a relationship type.
type RelationKind int

// Relationship kinds.
const (
	KindHasOne RelationKind = iota
	KindHasMany
	KindBelongsTo
	KindBelongsToMany
	KindMorphOne
	KindMorphMany
	KindMorphTo
)

var relationKindNames = [...]string{
	KindHasOne:        "has_one",
	KindHasMany:       "has_many",
	KindBelongsTo:     "belongs_to",
	KindBelongsToMany: "belongs_to_many",
	KindMorphOne:      "morph_one",
	KindMorphMany:     "morph_many",
	KindMorphTo:       "morph_to",
}

func (k RelationKind) String() string {
	if int(k) < len(relationKindNames) {
		return relationKindNames[k]
	}
	return "unknown"
}

// Relation resolves one relationship of a parent model. A relation is built
// without parent constraints: lazy loading adds them with AddConstraints,
// eager loading adds a key set over many parents with AddEagerConstraints.
type Relation interface {
	Kind() RelationKind
	// Query is the related query, to be constrained further by callers.
	Query() *Builder
	Parent() *Model
	// Related is the related schema, nil for MorphTo.
	Related() *Schema
	AddConstraints()
	AddEagerConstraints(models []*Model)
	// InitRelation sets the empty result on every model.
	InitRelation(models []*Model, relation string) []*Model
	// Match attaches results to their parents by key.
	Match(models []*Model, results *Collection, relation string) []*Model
	GetEager(ctx context.Context) (*Collection, error)
	// GetResults returns a *Model (possibly nil) for to-one relations and a
	// *Collection for to-many relations.
	GetResults(ctx context.Context) (interface{}, error)
	// ExistenceCountQuery returns a query counting the related rows of the
	// rows of parent.
	ExistenceCountQuery(parent *Builder) (*Builder, error)
}

type relationBase struct {
	query   *Builder
	parent  *Model
	related *Schema
}

func newRelationBase(parent *Model, related string) relationBase {
	if parent.schema.registry == nil {
		panic(logicErrorf("schema [%s] is not registered", parent.schema.Name))
	}
	schema := parent.schema.registry.MustSchema(related)
	return relationBase{
		query:   parent.newRelatedInstance(schema).NewQuery(),
		parent:  parent,
		related: schema,
	}
}

func (r *relationBase) Query() *Builder {
	return r.query
}

func (r *relationBase) Parent() *Model {
	return r.parent
}

func (r *relationBase) Related() *Schema {
	return r.related
}

func (r *relationBase) GetEager(ctx context.Context) (*Collection, error) {
	return r.query.Get(ctx)
}

// countQuery returns a copy of the relation query selecting count(*).
func (r *relationBase) countQuery() *Builder {
	q := r.query.Clone()
	q.query.Select().SelectRaw("count(*)")
	return q
}

// distinctKeys returns the distinct non-nil values of key across models, in
// first-seen order.
func distinctKeys(models []*Model, key string) []interface{} {
	seen := make(map[string]struct{}, len(models))
	keys := make([]interface{}, 0, len(models))
	for _, m := range models {
		v := m.GetRaw(key)
		if v == nil {
			continue
		}
		k := keyString(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, v)
	}
	return keys
}

// plainColumn strips a table qualifier.
func plainColumn(column string) string {
	for i := len(column) - 1; i >= 0; i-- {
		if column[i] == '.' {
			return column[i+1:]
		}
	}
	return column
}
