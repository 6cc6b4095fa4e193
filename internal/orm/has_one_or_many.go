package orm

import (
	"context"
)

// HasOneOrMany is a relation whose related rows hold the foreign key.
type HasOneOrMany struct {
	relationBase
	many       bool
	foreignKey string
	localKey   string
}

// HasOne declares a to-one relation to related, whose foreignKey (default
// "<parent>_id") references the parent's localKey (default its primary key).
func (m *Model) HasOne(related, foreignKey, localKey string) *HasOneOrMany {
	return m.newHasOneOrMany(related, foreignKey, localKey, false)
}

// HasMany declares a to-many relation; see HasOne for the keys.
func (m *Model) HasMany(related, foreignKey, localKey string) *HasOneOrMany {
	return m.newHasOneOrMany(related, foreignKey, localKey, true)
}

func (m *Model) newHasOneOrMany(related, foreignKey, localKey string, many bool) *HasOneOrMany {
	base := newRelationBase(m, related)
	if foreignKey == "" {
		foreignKey = m.schema.ForeignKey()
	}
	if localKey == "" {
		localKey = m.schema.PrimaryKey
	}
	return &HasOneOrMany{
		relationBase: base,
		many:         many,
		foreignKey:   base.related.QualifyColumn(foreignKey),
		localKey:     localKey,
	}
}

// Kind returns KindHasMany or KindHasOne.
func (r *HasOneOrMany) Kind() RelationKind {
	if r.many {
		return KindHasMany
	}
	return KindHasOne
}

// ForeignKeyName returns the qualified foreign key.
func (r *HasOneOrMany) ForeignKeyName() string {
	return r.foreignKey
}

// LocalKeyName returns the parent key the foreign key references.
func (r *HasOneOrMany) LocalKeyName() string {
	return r.localKey
}

func (r *HasOneOrMany) parentKey() interface{} {
	return r.parent.GetRaw(r.localKey)
}

// AddConstraints limits the query to the parent's children.
func (r *HasOneOrMany) AddConstraints() {
	r.query.Where(r.foreignKey, "=", r.parentKey())
	r.query.WhereNotNull(r.foreignKey)
}

// AddEagerConstraints limits the query to the children of models.
func (r *HasOneOrMany) AddEagerConstraints(models []*Model) {
	r.query.WhereIn(r.foreignKey, distinctKeys(models, r.localKey))
}

// InitRelation sets an empty collection, or nil for HasOne.
func (r *HasOneOrMany) InitRelation(models []*Model, relation string) []*Model {
	for _, m := range models {
		if r.many {
			m.SetRelation(relation, NewCollection())
		} else {
			m.SetRelation(relation, (*Model)(nil))
		}
	}
	return models
}

// Match attaches each child to the parent whose local key equals the
// child's foreign key.
func (r *HasOneOrMany) Match(models []*Model, results *Collection, relation string) []*Model {
	fk := plainColumn(r.foreignKey)
	dictionary := make(map[string][]*Model, results.Len())
	for _, child := range results.items {
		k := keyString(child.GetRaw(fk))
		dictionary[k] = append(dictionary[k], child)
	}

	for _, m := range models {
		key := m.GetRaw(r.localKey)
		if key == nil {
			continue
		}
		children, ok := dictionary[keyString(key)]
		if !ok {
			continue
		}
		if r.many {
			m.SetRelation(relation, NewCollection(children...))
		} else {
			m.SetRelation(relation, children[0])
		}
	}
	return models
}

// GetResults runs the lazily constrained query.
func (r *HasOneOrMany) GetResults(ctx context.Context) (interface{}, error) {
	if r.parentKey() == nil {
		if r.many {
			return NewCollection(), nil
		}
		return (*Model)(nil), nil
	}
	if r.many {
		return r.query.Get(ctx)
	}
	return r.query.First(ctx)
}

// ExistenceCountQuery counts the children of each parent row.
func (r *HasOneOrMany) ExistenceCountQuery(parent *Builder) (*Builder, error) {
	return r.countQuery().WhereColumn(r.foreignKey, "=", parent.schema.QualifyColumn(r.localKey)), nil
}

// Make returns an unsaved child filled with attrs and linked to the parent.
func (r *HasOneOrMany) Make(attrs map[string]interface{}) (*Model, error) {
	m, err := r.related.NewInstance(attrs, false)
	if err != nil {
		return nil, err
	}
	m.connection = r.query.model.connection
	m.attributes[plainColumn(r.foreignKey)] = r.parentKey()
	return m, nil
}

// Create saves a new child linked to the parent.
func (r *HasOneOrMany) Create(ctx context.Context, attrs map[string]interface{}) (*Model, error) {
	m, err := r.Make(attrs)
	if err != nil {
		return nil, err
	}
	if err := m.Save(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Save links m to the parent and saves it.
func (r *HasOneOrMany) Save(ctx context.Context, m *Model) error {
	m.attributes[plainColumn(r.foreignKey)] = r.parentKey()
	return m.Save(ctx)
}
