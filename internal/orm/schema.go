package orm

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"

	"github.com/coregx/relicorm/internal/query"
)

// KeyType is the declared type of a primary key.
type KeyType int

const (
	// KeyInt keys are generated by the database on insert.
	KeyInt KeyType = iota
	// KeyString keys are generated as UUIDs on insert when left empty.
	KeyString
)

// Event names a model lifecycle hook.
type Event string

// Lifecycle events. A hook error on an "-ing" event aborts the operation.
const (
	EventRetrieved Event = "retrieved"
	EventSaving    Event = "saving"
	EventSaved     Event = "saved"
	EventCreating  Event = "creating"
	EventCreated   Event = "created"
	EventUpdating  Event = "updating"
	EventUpdated   Event = "updated"
	EventDeleting  Event = "deleting"
	EventDeleted   Event = "deleted"
)

// Hook is a lifecycle callback.
type Hook func(m *Model) error

// RelationFactory builds the named relation for parent. Factories must not
// read parent attributes; per-parent constraints are added by the relation's
// AddConstraints when loading lazily.
type RelationFactory func(parent *Model) Relation

// LocalScope is a named, parameterized scope invoked with Builder.Scope.
type LocalScope struct {
	// Params is the number of parameters Apply requires.
	Params int
	Apply  func(b *Builder, params ...interface{})
}

// Schema maps an entity type to its table. Declare schemas as package-level
// values and register them with a Registry; related schemas are referenced
// by Name.
type Schema struct {
	Name       string
	Table      string
	PrimaryKey string
	KeyType    KeyType
	// Fillable lists the attributes Fill may set. When empty, every attribute
	// not Guarded may be set.
	Fillable []string
	// Guarded defaults to ["*"], which together with an empty Fillable makes
	// the schema totally guarded.
	Guarded    []string
	Hidden     []string
	Casts      map[string]CastType
	Timestamps bool
	Connection string
	// MorphClass is stored in polymorphic type columns. Defaults to Name.
	MorphClass  string
	Relations   map[string]RelationFactory
	LocalScopes map[string]LocalScope
	// Boot runs once per process before the schema is first used. Register
	// global scopes and hooks from here. Boot receives a staging copy of the
	// schema; it must not query other schemas whose queries load this one.
	Boot func(s *Schema)

	registry     *Registry
	globalScopes []namedScope
	hooks        map[Event][]Hook

	// Set on the staging copy handed to Boot.
	booting      bool
	bootScopeIDs []string
}

func (s *Schema) applyDefaults() {
	if s.Table == "" {
		s.Table = inflection.Plural(snakeCase(s.Name))
	}
	if s.PrimaryKey == "" {
		s.PrimaryKey = "id"
	}
	if s.Guarded == nil {
		s.Guarded = []string{"*"}
	}
	if s.MorphClass == "" {
		s.MorphClass = s.Name
	}
}

// Registry returns the registry the schema belongs to.
func (s *Schema) Registry() *Registry {
	return s.registry
}

// Incrementing reports whether the database generates the primary key.
func (s *Schema) Incrementing() bool {
	return s.KeyType == KeyInt
}

// QualifyColumn prefixes column with the table unless already qualified.
func (s *Schema) QualifyColumn(column string) string {
	if strings.Contains(column, ".") {
		return column
	}
	return s.Table + "." + column
}

// QualifiedKeyName returns "table.key".
func (s *Schema) QualifiedKeyName() string {
	return s.QualifyColumn(s.PrimaryKey)
}

// ForeignKey returns the default foreign key other tables use to reference
// this schema, e.g. "post_id".
func (s *Schema) ForeignKey() string {
	return snakeCase(s.Name) + "_" + s.PrimaryKey
}

// AddGlobalScope registers a scope applied to every query of the schema.
// Registering an existing id replaces it.
func (s *Schema) AddGlobalScope(id string, scope Scope) {
	if s.booting {
		s.bootScopeIDs = append(s.bootScopeIDs, id)
	}
	for i := range s.globalScopes {
		if s.globalScopes[i].id == id {
			s.globalScopes[i].scope = scope
			return
		}
	}
	s.globalScopes = append(s.globalScopes, namedScope{id: id, scope: scope})
}

// HasGlobalScope reports whether id is registered.
func (s *Schema) HasGlobalScope(id string) bool {
	s.bootIfNotBooted()
	for _, ns := range s.globalScopes {
		if ns.id == id {
			return true
		}
	}
	return false
}

// On registers a lifecycle hook. An error from a hook on an "-ing" event
// aborts the operation and is returned by it. Errors from EventRetrieved
// hooks are logged by the registry's logger and do not stop hydration; the
// remaining retrieved hooks of that model are skipped.
func (s *Schema) On(event Event, hook Hook) {
	if s.hooks == nil {
		s.hooks = make(map[Event][]Hook)
	}
	s.hooks[event] = append(s.hooks[event], hook)
}

func (s *Schema) fire(event Event, m *Model) error {
	for _, h := range s.hooks[event] {
		if err := h(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Schema) newModel() *Model {
	s.bootIfNotBooted()
	return &Model{
		schema:     s,
		attributes: make(map[string]interface{}),
		original:   make(map[string]interface{}),
		relations:  make(map[string]interface{}),
		connection: s.Connection,
	}
}

// NewInstance creates a model mass-filled with attrs.
func (s *Schema) NewInstance(attrs map[string]interface{}, exists bool) (*Model, error) {
	m := s.newModel()
	m.exists = exists
	if err := m.Fill(attrs); err != nil {
		return nil, err
	}
	return m, nil
}

// Make creates a model from attrs without mass-assignment checks.
func (s *Schema) Make(attrs map[string]interface{}) *Model {
	m := s.newModel()
	m.ForceFill(attrs)
	return m
}

// NewFromBuilder hydrates a stored row: the original snapshot is synced, the
// model is marked existing and the retrieved hook fires.
func (s *Schema) NewFromBuilder(row query.Row) *Model {
	m := s.newModel()
	for k, v := range row {
		m.attributes[k] = v
	}
	m.exists = true
	m.SyncOriginal()
	if err := s.fire(EventRetrieved, m); err != nil && s.registry != nil {
		s.registry.logger.Warn("retrieved hook failed", "model", s.Name, "key", m.GetKey(), "error", err)
	}
	return m
}

// NewCollection wraps models.
func (s *Schema) NewCollection(models []*Model) *Collection {
	return NewCollection(models...)
}

// Query starts a query with the schema's global scopes.
func (s *Schema) Query() *Builder {
	return s.newModel().NewQuery()
}

// NewQueryWithoutScopes starts a query without global scopes.
func (s *Schema) NewQueryWithoutScopes() *Builder {
	return s.newModel().NewQueryWithoutScopes()
}

// Hydrate turns rows into existing models.
func (s *Schema) Hydrate(rows []query.Row) *Collection {
	return s.Query().Hydrate(rows)
}

func snakeCase(name string) string {
	var sb strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				sb.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
