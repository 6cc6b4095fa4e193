package orm

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/coregx/relicorm/internal/logger"
	"github.com/coregx/relicorm/internal/query"
	"github.com/coregx/relicorm/internal/tracer"
)

// DefaultConnection is the connection name used when none is configured.
const DefaultConnection = "main"

// Registry holds the schemas and connections of an application.
type Registry struct {
	mu          sync.RWMutex
	schemas     map[string]*Schema
	morphs      map[string]*Schema
	connections map[string]query.Executor
	defaultConn string
	logger      logger.Logger
	tracer      tracer.Tracer
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used by eager loading.
func WithRegistryLogger(l logger.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithRegistryTracer sets the tracer used by eager loading.
func WithRegistryTracer(t tracer.Tracer) RegistryOption {
	return func(r *Registry) {
		r.tracer = t
	}
}

// WithDefaultConnection sets the connection used by schemas without one.
func WithDefaultConnection(name string) RegistryOption {
	return func(r *Registry) {
		r.defaultConn = name
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		schemas:     make(map[string]*Schema),
		morphs:      make(map[string]*Schema),
		connections: make(map[string]query.Executor),
		defaultConn: DefaultConnection,
		logger:      logger.NoopLogger{},
		tracer:      tracer.NoopTracer{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddConnection registers exec under name.
func (r *Registry) AddConnection(name string, exec query.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[name] = exec
}

// Connection returns the executor registered under name; an empty name
// selects the default connection.
func (r *Registry) Connection(name string) (query.Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultConn
	}
	exec, ok := r.connections[name]
	if !ok {
		return nil, errors.Wrapf(ErrNoConnection, "connection %q", name)
	}
	return exec, nil
}

// Register fills in schema defaults and makes the schemas resolvable by name
// and morph class.
func (r *Registry) Register(schemas ...*Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range schemas {
		s.applyDefaults()
		s.registry = r
		r.schemas[s.Name] = s
		r.morphs[s.MorphClass] = s
	}
}

// Schema returns the schema registered under name.
func (r *Registry) Schema(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// MustSchema returns the schema registered under name and panics with a
// *LogicError when there is none.
func (r *Registry) MustSchema(name string) *Schema {
	s, ok := r.Schema(name)
	if !ok {
		panic(logicErrorf("schema [%s] is not registered", name))
	}
	return s
}

// SchemaForMorph returns the schema whose MorphClass is class.
func (r *Registry) SchemaForMorph(class string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.morphs[class]
	return s, ok
}

// Schemas returns the registered schema names, sorted.
func (r *Registry) Schemas() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
