package orm

import (
	"context"
	"sort"

	"github.com/pkg/errors"
)

// MorphOneOrMany is a HasOneOrMany whose children also store the parent's
// morph class in a type column, so one table can belong to several parent
// schemas.
type MorphOneOrMany struct {
	*HasOneOrMany
	morphType  string
	morphClass string
}

// MorphOne declares a polymorphic to-one relation. name is the morph name on
// the related table: children store "<name>_type" and "<name>_id".
func (m *Model) MorphOne(related, name, localKey string) *MorphOneOrMany {
	return m.newMorphOneOrMany(related, name, localKey, false)
}

// MorphMany declares a polymorphic to-many relation; see MorphOne.
func (m *Model) MorphMany(related, name, localKey string) *MorphOneOrMany {
	return m.newMorphOneOrMany(related, name, localKey, true)
}

func (m *Model) newMorphOneOrMany(related, name, localKey string, many bool) *MorphOneOrMany {
	inner := m.newHasOneOrMany(related, name+"_id", localKey, many)
	return &MorphOneOrMany{
		HasOneOrMany: inner,
		morphType:    inner.related.QualifyColumn(name + "_type"),
		morphClass:   m.schema.MorphClass,
	}
}

// Kind returns KindMorphMany or KindMorphOne.
func (r *MorphOneOrMany) Kind() RelationKind {
	if r.many {
		return KindMorphMany
	}
	return KindMorphOne
}

// MorphType returns the qualified type column.
func (r *MorphOneOrMany) MorphType() string {
	return r.morphType
}

// AddConstraints limits the query to the parent's children.
func (r *MorphOneOrMany) AddConstraints() {
	r.HasOneOrMany.AddConstraints()
	r.query.Where(r.morphType, "=", r.morphClass)
}

// AddEagerConstraints limits the query to the children of models.
func (r *MorphOneOrMany) AddEagerConstraints(models []*Model) {
	r.HasOneOrMany.AddEagerConstraints(models)
	r.query.Where(r.morphType, "=", r.morphClass)
}

// ExistenceCountQuery counts the children of each parent row.
func (r *MorphOneOrMany) ExistenceCountQuery(parent *Builder) (*Builder, error) {
	q, err := r.HasOneOrMany.ExistenceCountQuery(parent)
	if err != nil {
		return nil, err
	}
	return q.Where(r.morphType, "=", r.morphClass), nil
}

// Make returns an unsaved child linked to the parent.
func (r *MorphOneOrMany) Make(attrs map[string]interface{}) (*Model, error) {
	m, err := r.HasOneOrMany.Make(attrs)
	if err != nil {
		return nil, err
	}
	m.attributes[plainColumn(r.morphType)] = r.morphClass
	return m, nil
}

// Create saves a new child linked to the parent.
func (r *MorphOneOrMany) Create(ctx context.Context, attrs map[string]interface{}) (*Model, error) {
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
func (r *MorphOneOrMany) Save(ctx context.Context, m *Model) error {
	m.attributes[plainColumn(r.morphType)] = r.morphClass
	return r.HasOneOrMany.Save(ctx, m)
}

// MorphTo is the inverse of MorphOne and MorphMany: the child stores the
// parent's morph class and key. Eager loading runs one query per distinct
// morph class.
type MorphTo struct {
	parent     *Model
	morphType  string
	foreignKey string
	ownerKey   string
	// template collects constraints and nested eager loads, which are
	// copied onto each per-type query.
	template *Builder
	models   []*Model
}

// MorphTo declares a polymorphic to-one relation stored in "<name>_type"
// and "<name>_id" of this model. ownerKey defaults to each type's primary
// key.
func (m *Model) MorphTo(name, ownerKey string) *MorphTo {
	return &MorphTo{
		parent:     m,
		morphType:  name + "_type",
		foreignKey: name + "_id",
		ownerKey:   ownerKey,
		template:   newBuilder(m.newBaseQuery(), m),
	}
}

// Kind returns KindMorphTo.
func (r *MorphTo) Kind() RelationKind {
	return KindMorphTo
}

// Query returns the template query whose predicates, select list and eager
// loads apply to every morph type.
func (r *MorphTo) Query() *Builder {
	return r.template
}

// Parent returns the child model holding the type and key columns.
func (r *MorphTo) Parent() *Model {
	return r.parent
}

// Related returns nil: the related schema depends on each row.
func (r *MorphTo) Related() *Schema {
	return nil
}

// AddConstraints does nothing; the type is resolved by GetResults.
func (r *MorphTo) AddConstraints() {}

// AddEagerConstraints records models for GetEager.
func (r *MorphTo) AddEagerConstraints(models []*Model) {
	r.models = models
}

// InitRelation sets nil on every model.
func (r *MorphTo) InitRelation(models []*Model, relation string) []*Model {
	for _, m := range models {
		m.SetRelation(relation, (*Model)(nil))
	}
	return models
}

func (r *MorphTo) keysByType() ([]string, map[string][]*Model) {
	byType := make(map[string][]*Model)
	for _, m := range r.models {
		t := m.GetString(r.morphType)
		if t == "" || m.GetRaw(r.foreignKey) == nil {
			continue
		}
		byType[t] = append(byType[t], m)
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types, byType
}

func (r *MorphTo) schemaFor(class string) (*Schema, error) {
	s, ok := r.parent.schema.registry.SchemaForMorph(class)
	if !ok {
		return nil, logicErrorf("no schema registered for morph class [%s]", class)
	}
	return s, nil
}

func (r *MorphTo) ownerKeyFor(s *Schema) string {
	if r.ownerKey != "" {
		return r.ownerKey
	}
	return s.PrimaryKey
}

// typeQuery builds the query for one morph type with the template merged in.
func (r *MorphTo) typeQuery(s *Schema) *Builder {
	q := r.parent.newRelatedInstance(s).NewQuery()
	q.query.SetWheres(append(q.query.Wheres(), r.template.query.Wheres()...))
	if cols := r.template.query.Columns(); len(cols) > 0 {
		q.Select(cols...)
	}
	return q.With(r.template.EagerLoads())
}

// GetEager runs one query per morph type.
func (r *MorphTo) GetEager(ctx context.Context) (*Collection, error) {
	types, byType := r.keysByType()
	results := NewCollection()
	for _, t := range types {
		s, err := r.schemaFor(t)
		if err != nil {
			return nil, err
		}
		c, err := r.typeQuery(s).
			WhereIn(s.QualifyColumn(r.ownerKeyFor(s)), distinctKeys(byType[t], r.foreignKey)).
			Get(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "can't load morph type %s", t)
		}
		results.Push(c.items...)
	}
	return results, nil
}

// Match attaches each result to the children whose type and key point at it.
func (r *MorphTo) Match(models []*Model, results *Collection, relation string) []*Model {
	dictionary := make(map[string]map[string][]*Model)
	for _, m := range models {
		t := m.GetString(r.morphType)
		if dictionary[t] == nil {
			dictionary[t] = make(map[string][]*Model)
		}
		k := keyString(m.GetRaw(r.foreignKey))
		dictionary[t][k] = append(dictionary[t][k], m)
	}

	for _, result := range results.items {
		s := result.schema
		for _, m := range dictionary[s.MorphClass][keyString(result.GetRaw(r.ownerKeyFor(s)))] {
			m.SetRelation(relation, result)
		}
	}
	return models
}

// GetResults loads the parent of the child model.
func (r *MorphTo) GetResults(ctx context.Context) (interface{}, error) {
	t := r.parent.GetString(r.morphType)
	id := r.parent.GetRaw(r.foreignKey)
	if t == "" || id == nil {
		return (*Model)(nil), nil
	}
	s, err := r.schemaFor(t)
	if err != nil {
		return nil, err
	}
	return r.typeQuery(s).Where(s.QualifyColumn(r.ownerKeyFor(s)), id).First(ctx)
}

// ExistenceCountQuery is not supported for MorphTo.
func (r *MorphTo) ExistenceCountQuery(_ *Builder) (*Builder, error) {
	return nil, logicErrorf("counting is not supported on morph-to relations of [%s]", r.parent.schema.Name)
}

// Associate points the child at m.
func (r *MorphTo) Associate(m *Model) *Model {
	r.parent.attributes[r.morphType] = m.schema.MorphClass
	r.parent.attributes[r.foreignKey] = m.GetRaw(r.ownerKeyFor(m.schema))
	return r.parent
}

// Dissociate clears the type and key.
func (r *MorphTo) Dissociate() *Model {
	r.parent.attributes[r.morphType] = nil
	r.parent.attributes[r.foreignKey] = nil
	return r.parent
}
