package orm

import "context"

// BelongsTo is the inverse of HasOne and HasMany: the child holds the
// foreign key.
type BelongsTo struct {
	relationBase
	foreignKey string
	ownerKey   string
}

// BelongsTo declares that this model's foreignKey (default "<related>_id")
// references related's ownerKey (default its primary key).
func (m *Model) BelongsTo(related, foreignKey, ownerKey string) *BelongsTo {
	base := newRelationBase(m, related)
	if foreignKey == "" {
		foreignKey = base.related.ForeignKey()
	}
	if ownerKey == "" {
		ownerKey = base.related.PrimaryKey
	}
	return &BelongsTo{relationBase: base, foreignKey: foreignKey, ownerKey: ownerKey}
}

// Kind returns KindBelongsTo.
func (r *BelongsTo) Kind() RelationKind {
	return KindBelongsTo
}

// ForeignKeyName returns the child's foreign key column.
func (r *BelongsTo) ForeignKeyName() string {
	return r.foreignKey
}

// OwnerKeyName returns the related key the foreign key references.
func (r *BelongsTo) OwnerKeyName() string {
	return r.ownerKey
}

// AddConstraints limits the query to the child's owner.
func (r *BelongsTo) AddConstraints() {
	r.query.Where(r.related.QualifyColumn(r.ownerKey), "=", r.parent.GetRaw(r.foreignKey))
}

// AddEagerConstraints limits the query to the owners of models.
func (r *BelongsTo) AddEagerConstraints(models []*Model) {
	r.query.WhereIn(r.related.QualifyColumn(r.ownerKey), distinctKeys(models, r.foreignKey))
}

// InitRelation sets nil on every model.
func (r *BelongsTo) InitRelation(models []*Model, relation string) []*Model {
	for _, m := range models {
		m.SetRelation(relation, (*Model)(nil))
	}
	return models
}

// Match attaches each owner to the children whose foreign key equals its
// owner key.
func (r *BelongsTo) Match(models []*Model, results *Collection, relation string) []*Model {
	dictionary := make(map[string]*Model, results.Len())
	for _, owner := range results.items {
		dictionary[keyString(owner.GetRaw(r.ownerKey))] = owner
	}

	for _, m := range models {
		fk := m.GetRaw(r.foreignKey)
		if fk == nil {
			continue
		}
		if owner, ok := dictionary[keyString(fk)]; ok {
			m.SetRelation(relation, owner)
		}
	}
	return models
}

// GetResults loads the owner, or returns nil when the foreign key is null.
func (r *BelongsTo) GetResults(ctx context.Context) (interface{}, error) {
	if r.parent.GetRaw(r.foreignKey) == nil {
		return (*Model)(nil), nil
	}
	return r.query.First(ctx)
}

// ExistenceCountQuery counts the owner of each child row.
func (r *BelongsTo) ExistenceCountQuery(parent *Builder) (*Builder, error) {
	return r.countQuery().WhereColumn(
		r.related.QualifyColumn(r.ownerKey), "=", parent.schema.QualifyColumn(r.foreignKey)), nil
}

// Associate points the child at owner.
func (r *BelongsTo) Associate(owner *Model) *Model {
	r.parent.attributes[r.foreignKey] = owner.GetRaw(r.ownerKey)
	return r.parent
}

// Dissociate clears the foreign key.
func (r *BelongsTo) Dissociate() *Model {
	r.parent.attributes[r.foreignKey] = nil
	return r.parent
}
