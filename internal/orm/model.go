package orm

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/coregx/relicorm/internal/query"
)

// Model is one record of a Schema. The attribute map is compared against the
// original snapshot taken at hydration or after a save to find dirty
// attributes.
//
// Loaded relations hold a *Model (possibly nil) for to-one relations and a
// *Collection for to-many relations.
type Model struct {
	schema             *Schema
	attributes         map[string]interface{}
	original           map[string]interface{}
	relations          map[string]interface{}
	exists             bool
	wasRecentlyCreated bool
	connection         string
}

// Schema returns the model's schema.
func (m *Model) Schema() *Schema {
	return m.schema
}

// Exists reports whether the model is stored.
func (m *Model) Exists() bool {
	return m.exists
}

// WasRecentlyCreated reports whether the model was inserted by this process.
func (m *Model) WasRecentlyCreated() bool {
	return m.wasRecentlyCreated
}

// Connection returns the model's connection name.
func (m *Model) Connection() string {
	return m.connection
}

// SetConnection changes the connection the model is read from and saved to.
func (m *Model) SetConnection(name string) *Model {
	m.connection = name
	return m
}

// Get returns an attribute with its cast applied, falling back to a loaded
// relation of the same name. A value that can't be cast is returned as
// stored.
func (m *Model) Get(key string) interface{} {
	if v, ok := m.attributes[key]; ok {
		cast, hasCast := m.schema.Casts[key]
		if !hasCast {
			return v
		}
		out, err := castValue(cast, v)
		if err != nil {
			return v
		}
		return out
	}
	if rel, ok := m.relations[key]; ok {
		return rel
	}
	return nil
}

// GetString returns an attribute formatted as a string, or "" when unset.
func (m *Model) GetString(key string) string {
	v := m.Get(key)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return keyString(v)
}

// GetRaw returns an attribute as stored.
func (m *Model) GetRaw(key string) interface{} {
	return m.attributes[key]
}

// Has reports whether the attribute is set.
func (m *Model) Has(key string) bool {
	_, ok := m.attributes[key]
	return ok
}

// Set sets an attribute, encoding it for its cast.
func (m *Model) Set(key string, value interface{}) error {
	if cast, ok := m.schema.Casts[key]; ok {
		stored, err := storeValue(cast, value)
		if err != nil {
			return &SerializationError{Model: m.schema.Name, Key: key, Cause: err}
		}
		value = stored
	}
	m.attributes[key] = value
	return nil
}

// Fill mass-assigns attrs. Attributes that are not fillable are skipped,
// unless the schema is totally guarded, in which case the first one is
// reported as a *MassAssignmentError.
func (m *Model) Fill(attrs map[string]interface{}) error {
	totallyGuarded := m.schema.totallyGuarded()
	for _, key := range sortedKeys(attrs) {
		if m.schema.isFillable(key) {
			if err := m.Set(key, attrs[key]); err != nil {
				return err
			}
			continue
		}
		if totallyGuarded {
			return &MassAssignmentError{Model: m.schema.Name, Key: key}
		}
	}
	return nil
}

// ForceFill sets attrs regardless of the fillable and guarded lists.
// Values that can't be encoded for their cast are stored as given.
func (m *Model) ForceFill(attrs map[string]interface{}) *Model {
	for k, v := range attrs {
		if err := m.Set(k, v); err != nil {
			m.attributes[k] = v
		}
	}
	return m
}

func (s *Schema) totallyGuarded() bool {
	return len(s.Fillable) == 0 && len(s.Guarded) == 1 && s.Guarded[0] == "*"
}

func (s *Schema) isGuarded(key string) bool {
	if len(s.Guarded) == 1 && s.Guarded[0] == "*" {
		return true
	}
	return contains(s.Guarded, key)
}

func (s *Schema) isFillable(key string) bool {
	if contains(s.Fillable, key) {
		return true
	}
	if s.isGuarded(key) {
		return false
	}
	return len(s.Fillable) == 0 && !strings.Contains(key, ".") && !strings.HasPrefix(key, "_")
}

// GetKey returns the primary key value.
func (m *Model) GetKey() interface{} {
	return m.attributes[m.schema.PrimaryKey]
}

// GetAttributes returns a copy of the stored attributes.
func (m *Model) GetAttributes() map[string]interface{} {
	out := make(map[string]interface{}, len(m.attributes))
	for k, v := range m.attributes {
		out[k] = v
	}
	return out
}

// GetOriginal returns the attribute as of the last sync.
func (m *Model) GetOriginal(key string) interface{} {
	return m.original[key]
}

// SyncOriginal makes the current attributes the clean snapshot.
func (m *Model) SyncOriginal() *Model {
	m.original = make(map[string]interface{}, len(m.attributes))
	for k, v := range m.attributes {
		m.original[k] = v
	}
	return m
}

// GetDirty returns the attributes changed since the last sync.
func (m *Model) GetDirty() map[string]interface{} {
	dirty := make(map[string]interface{})
	for k, v := range m.attributes {
		orig, ok := m.original[k]
		if !ok || !equivalent(v, orig) {
			dirty[k] = v
		}
	}
	return dirty
}

// IsDirty reports whether any of keys, or any attribute when keys is empty,
// changed since the last sync.
func (m *Model) IsDirty(keys ...string) bool {
	dirty := m.GetDirty()
	if len(keys) == 0 {
		return len(dirty) > 0
	}
	for _, k := range keys {
		if _, ok := dirty[k]; ok {
			return true
		}
	}
	return false
}

// IsClean is the inverse of IsDirty.
func (m *Model) IsClean(keys ...string) bool {
	return !m.IsDirty(keys...)
}

// Is reports whether other is the same stored record.
func (m *Model) Is(other *Model) bool {
	return other != nil &&
		m.GetKey() != nil &&
		keyString(m.GetKey()) == keyString(other.GetKey()) &&
		m.schema.Table == other.schema.Table &&
		m.connection == other.connection
}

// Relation returns a loaded relation.
func (m *Model) Relation(name string) (interface{}, bool) {
	v, ok := m.relations[name]
	return v, ok
}

// RelatedModel returns a loaded to-one relation, or nil.
func (m *Model) RelatedModel(name string) *Model {
	v, _ := m.relations[name].(*Model)
	return v
}

// RelatedCollection returns a loaded to-many relation, or an empty collection.
func (m *Model) RelatedCollection(name string) *Collection {
	if c, ok := m.relations[name].(*Collection); ok {
		return c
	}
	return NewCollection()
}

// SetRelation stores a loaded relation.
func (m *Model) SetRelation(name string, value interface{}) *Model {
	m.relations[name] = value
	return m
}

// RelationLoaded reports whether name was loaded.
func (m *Model) RelationLoaded(name string) bool {
	_, ok := m.relations[name]
	return ok
}

// UnsetRelation forgets a loaded relation.
func (m *Model) UnsetRelation(name string) *Model {
	delete(m.relations, name)
	return m
}

// LoadedRelations returns the names of the loaded relations, sorted.
func (m *Model) LoadedRelations() []string {
	names := make([]string, 0, len(m.relations))
	for name := range m.relations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewQuery starts a query on the model's connection with global scopes.
func (m *Model) NewQuery() *Builder {
	b := m.NewQueryWithoutScopes()
	for _, ns := range m.schema.globalScopes {
		b.WithGlobalScope(ns.id, ns.scope)
	}
	return b
}

// NewQueryWithoutScopes starts a query without global scopes.
func (m *Model) NewQueryWithoutScopes() *Builder {
	m.schema.bootIfNotBooted()
	return newBuilder(m.newBaseQuery(), m)
}

func (m *Model) newBaseQuery() *query.Builder {
	if m.schema.registry == nil {
		panic(logicErrorf("schema [%s] is not registered", m.schema.Name))
	}
	exec, err := m.schema.registry.Connection(m.connection)
	if err != nil {
		panic(&LogicError{Msg: "can't build query for [" + m.schema.Name + "]", Err: err})
	}
	return query.New(exec).From(m.schema.Table)
}

// newRelatedInstance returns a blank model of related on the parent's
// connection unless related names its own.
func (m *Model) newRelatedInstance(related *Schema) *Model {
	inst := related.newModel()
	if inst.connection == "" {
		inst.connection = m.connection
	}
	return inst
}

func (m *Model) relationWithoutConstraints(name string) (Relation, error) {
	factory, ok := m.schema.Relations[name]
	if !ok || factory == nil {
		return nil, &RelationNotFoundError{Model: m.schema.Name, Relation: name}
	}
	rel := factory(m)
	if rel == nil {
		return nil, &RelationNotFoundError{Model: m.schema.Name, Relation: name}
	}
	return rel, nil
}

// RelationQuery returns the named relation constrained to this model, ready
// for further querying.
func (m *Model) RelationQuery(name string) (Relation, error) {
	rel, err := m.relationWithoutConstraints(name)
	if err != nil {
		return nil, err
	}
	rel.AddConstraints()
	return rel, nil
}

// GetRelationResults lazily loads the named relation and stores it.
func (m *Model) GetRelationResults(ctx context.Context, name string) (interface{}, error) {
	rel, err := m.RelationQuery(name)
	if err != nil {
		return nil, err
	}
	res, err := rel.GetResults(ctx)
	if err != nil {
		return nil, err
	}
	m.SetRelation(name, res)
	return res, nil
}

// Load eager loads relations onto the model.
func (m *Model) Load(ctx context.Context, relations ...interface{}) error {
	return NewCollection(m).Load(ctx, relations...)
}

// LoadMissing loads the relations that are not loaded yet.
func (m *Model) LoadMissing(ctx context.Context, relations ...interface{}) error {
	return NewCollection(m).LoadMissing(ctx, relations...)
}

// LoadCount sets "<relation>_count" attributes.
func (m *Model) LoadCount(ctx context.Context, relations ...string) error {
	return NewCollection(m).LoadCount(ctx, relations...)
}

// Save inserts the model, or updates its dirty attributes when it exists.
func (m *Model) Save(ctx context.Context) error {
	if err := m.schema.fire(EventSaving, m); err != nil {
		return err
	}

	if m.exists {
		if m.IsDirty() {
			if err := m.performUpdate(ctx); err != nil {
				return err
			}
		}
	} else if err := m.performInsert(ctx); err != nil {
		return err
	}

	if err := m.schema.fire(EventSaved, m); err != nil {
		return err
	}
	m.SyncOriginal()
	return nil
}

func (m *Model) performUpdate(ctx context.Context) error {
	if err := m.schema.fire(EventUpdating, m); err != nil {
		return err
	}
	if m.schema.Timestamps && !m.IsDirty("updated_at") {
		m.attributes["updated_at"] = now()
	}

	dirty := m.GetDirty()
	if len(dirty) == 0 {
		return nil
	}
	q := m.newBaseQuery().Where(m.schema.PrimaryKey, "=", m.keyForSave())
	if _, err := q.Update(ctx, dirty); err != nil {
		return errors.Wrapf(err, "can't update %s", m.schema.Name)
	}
	return m.schema.fire(EventUpdated, m)
}

func (m *Model) performInsert(ctx context.Context) error {
	if err := m.schema.fire(EventCreating, m); err != nil {
		return err
	}
	if m.schema.Timestamps {
		ts := now()
		if !m.Has("created_at") {
			m.attributes["created_at"] = ts
		}
		if !m.Has("updated_at") {
			m.attributes["updated_at"] = ts
		}
	}
	if m.schema.KeyType == KeyString && m.GetKey() == nil {
		m.attributes[m.schema.PrimaryKey] = uuid.NewString()
	}

	q := m.newBaseQuery()
	if m.schema.Incrementing() && m.GetKey() == nil {
		id, err := q.InsertGetID(ctx, m.GetAttributes(), m.schema.PrimaryKey)
		if err != nil {
			return errors.Wrapf(err, "can't insert %s", m.schema.Name)
		}
		m.attributes[m.schema.PrimaryKey] = id
	} else if err := q.Insert(ctx, m.GetAttributes()); err != nil {
		return errors.Wrapf(err, "can't insert %s", m.schema.Name)
	}

	m.exists = true
	m.wasRecentlyCreated = true
	return m.schema.fire(EventCreated, m)
}

// keyForSave is the key the row was loaded with, so a changed key still
// updates the right row.
func (m *Model) keyForSave() interface{} {
	if orig, ok := m.original[m.schema.PrimaryKey]; ok {
		return orig
	}
	return m.GetKey()
}

// Delete deletes the stored row and clears the existence flag. Deleting a
// model that does not exist is a no-op.
func (m *Model) Delete(ctx context.Context) error {
	if !m.exists {
		return nil
	}
	if m.GetKey() == nil {
		return logicErrorf("no primary key defined on model [%s]", m.schema.Name)
	}
	if err := m.schema.fire(EventDeleting, m); err != nil {
		return err
	}

	q := m.newBaseQuery().Where(m.schema.PrimaryKey, "=", m.keyForSave())
	if _, err := q.Delete(ctx); err != nil {
		return errors.Wrapf(err, "can't delete %s", m.schema.Name)
	}
	m.exists = false
	return m.schema.fire(EventDeleted, m)
}

// Fresh reads the model again from storage, returning a new instance.
func (m *Model) Fresh(ctx context.Context, with ...interface{}) (*Model, error) {
	if !m.exists {
		return nil, nil
	}
	return m.NewQueryWithoutScopes().With(with...).WhereKey(m.GetKey()).First(ctx)
}

// Refresh reloads the attributes and the loaded relations from storage.
func (m *Model) Refresh(ctx context.Context) error {
	if !m.exists {
		return nil
	}
	fresh, err := m.NewQueryWithoutScopes().WhereKey(m.GetKey()).First(ctx)
	if err != nil {
		return err
	}
	if fresh == nil {
		return &ModelNotFoundError{Model: m.schema.Name, IDs: []interface{}{m.GetKey()}}
	}
	m.attributes = fresh.attributes
	m.SyncOriginal()

	var reload []interface{}
	for _, name := range m.LoadedRelations() {
		if name != pivotRelation {
			reload = append(reload, name)
		}
	}
	if len(reload) == 0 {
		return nil
	}
	return m.Load(ctx, reload...)
}

// ToMap returns the attributes with casts applied, minus hidden ones, plus
// the loaded relations.
func (m *Model) ToMap() (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(m.attributes)+len(m.relations))
	for k, v := range m.attributes {
		if contains(m.schema.Hidden, k) {
			continue
		}
		if cast, ok := m.schema.Casts[k]; ok {
			cv, err := castValue(cast, v)
			if err != nil {
				return nil, &SerializationError{Model: m.schema.Name, Key: k, Cause: err}
			}
			v = cv
		}
		out[k] = v
	}

	for name, rel := range m.relations {
		if contains(m.schema.Hidden, name) {
			continue
		}
		switch r := rel.(type) {
		case *Model:
			if r == nil {
				out[name] = nil
				continue
			}
			sub, err := r.ToMap()
			if err != nil {
				return nil, err
			}
			out[name] = sub
		case *Collection:
			sub, err := r.ToMaps()
			if err != nil {
				return nil, err
			}
			out[name] = sub
		default:
			out[name] = rel
		}
	}
	return out, nil
}

// MarshalJSON implements json.Marshaler.
func (m *Model) MarshalJSON() ([]byte, error) {
	data, err := m.ToMap()
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, &SerializationError{Model: m.schema.Name, Cause: err}
	}
	return b, nil
}

// ToJSON returns the JSON encoding of ToMap.
func (m *Model) ToJSON() (string, error) {
	b, err := m.MarshalJSON()
	return string(b), err
}

func now() string {
	return time.Now().UTC().Format(DateFormat)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
