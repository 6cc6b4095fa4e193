// Package relicorm is an active-record ORM for Go on top of a small query
// builder. Schemas declare tables, relations, scopes and casts; builders
// compose queries with global and local scopes and eager-load relations in
// batches. PostgreSQL, MySQL and SQLite are supported, with prepared
// statement caching, structured logging and OpenTelemetry tracing.
package relicorm

import (
	"github.com/pkg/errors"

	"github.com/coregx/relicorm/internal/config"
	"github.com/coregx/relicorm/internal/core"
	"github.com/coregx/relicorm/internal/logger"
	"github.com/coregx/relicorm/internal/metrics"
	"github.com/coregx/relicorm/internal/orm"
	"github.com/coregx/relicorm/internal/query"
	"github.com/coregx/relicorm/internal/tracer"
)

type (
	// DB represents a database connection with statement caching and tracing.
	DB = core.DB
	// Option is a functional option for configuring DB.
	Option = core.Option
	// Tx represents a database transaction.
	Tx = core.Tx
	// QueryEvent describes one executed statement.
	QueryEvent = core.QueryEvent
	// QueryHook observes executed statements.
	QueryHook = core.QueryHook

	// Registry holds schemas and the connections they run on.
	Registry = orm.Registry
	// RegistryOption configures a Registry.
	RegistryOption = orm.RegistryOption
	// Schema describes one model: table, key, relations, scopes and casts.
	Schema = orm.Schema
	// Model is one record of a schema.
	Model = orm.Model
	// Builder composes queries for a schema.
	Builder = orm.Builder
	// Collection is an ordered set of models.
	Collection = orm.Collection
	// Paginator is one page of results.
	Paginator = orm.Paginator
	// Relation is implemented by every relation kind.
	Relation = orm.Relation
	// RelationKind names a relation kind.
	RelationKind = orm.RelationKind
	// RelationFactory declares a relation on a parent model.
	RelationFactory = orm.RelationFactory
	// Constraint restricts an eager load.
	Constraint = orm.Constraint
	// Scope is a named global scope.
	Scope = orm.Scope
	// ScopeFunc adapts a function to Scope.
	ScopeFunc = orm.ScopeFunc
	// LocalScope is a scope applied on demand by name.
	LocalScope = orm.LocalScope
	// MacroFunc extends every builder.
	MacroFunc = orm.MacroFunc
	// Hook runs on a model lifecycle event.
	Hook = orm.Hook
	// Event names a model lifecycle event.
	Event = orm.Event
	// CastType names an attribute cast.
	CastType = orm.CastType
	// KeyType is the type of a primary key.
	KeyType = orm.KeyType

	// ModelNotFoundError reports keys that matched no row.
	ModelNotFoundError = orm.ModelNotFoundError
	// RelationNotFoundError reports an undefined relation.
	RelationNotFoundError = orm.RelationNotFoundError
	// MassAssignmentError reports an attribute that can't be filled.
	MassAssignmentError = orm.MassAssignmentError
	// SerializationError reports an attribute that can't be encoded.
	SerializationError = orm.SerializationError
	// LogicError is raised for programming mistakes.
	LogicError = orm.LogicError

	// Expression is a WHERE clause fragment.
	Expression = query.Expression
	// HashExp is a column to value map joined with AND.
	HashExp = query.HashExp
	// LikeExp is a LIKE expression with automatic escaping.
	LikeExp = query.LikeExp
	// Row is a result row.
	Row = query.Row
	// Executor runs statements.
	Executor = query.Executor

	// Logger is the logging interface used by connections and registries.
	Logger = logger.Logger
	// Tracer is the tracing interface used by connections and registries.
	Tracer = tracer.Tracer
	// Config is a YAML connection configuration.
	Config = config.Config
	// Collector exports statement metrics to Prometheus.
	Collector = metrics.Collector
)

const (
	KindHasOne        = orm.KindHasOne
	KindHasMany       = orm.KindHasMany
	KindBelongsTo     = orm.KindBelongsTo
	KindBelongsToMany = orm.KindBelongsToMany
	KindMorphOne      = orm.KindMorphOne
	KindMorphMany     = orm.KindMorphMany
	KindMorphTo       = orm.KindMorphTo

	KeyInt    = orm.KeyInt
	KeyString = orm.KeyString

	CastInt      = orm.CastInt
	CastFloat    = orm.CastFloat
	CastBool     = orm.CastBool
	CastString   = orm.CastString
	CastJSON     = orm.CastJSON
	CastDatetime = orm.CastDatetime

	EventRetrieved = orm.EventRetrieved
	EventSaving    = orm.EventSaving
	EventSaved     = orm.EventSaved
	EventCreating  = orm.EventCreating
	EventCreated   = orm.EventCreated
	EventUpdating  = orm.EventUpdating
	EventUpdated   = orm.EventUpdated
	EventDeleting  = orm.EventDeleting
	EventDeleted   = orm.EventDeleted
)

// Sentinel errors, matched with errors.Is.
var (
	ErrModelNotFound    = orm.ErrModelNotFound
	ErrRelationNotFound = orm.ErrRelationNotFound
	ErrMassAssignment   = orm.ErrMassAssignment
	ErrSerialization    = orm.ErrSerialization
	ErrLogic            = orm.ErrLogic
	ErrNoConnection     = orm.ErrNoConnection
	ErrInvalidOperator  = query.ErrInvalidOperator
)

// Re-export core functions.
var (
	Open                  = core.Open
	NewDB                 = core.NewDB
	WrapDB                = core.WrapDB
	ChainHooks            = core.ChainHooks
	WithMaxOpenConns      = core.WithMaxOpenConns
	WithMaxIdleConns      = core.WithMaxIdleConns
	WithConnMaxLifetime   = core.WithConnMaxLifetime
	WithStmtCacheCapacity = core.WithStmtCacheCapacity
	WithLogger            = core.WithLogger
	WithSensitiveFields   = core.WithSensitiveFields
	WithTracer            = core.WithTracer
	WithQueryHook         = core.WithQueryHook
	WithHealthCheck       = core.WithHealthCheck
)

// Re-export ORM functions.
var (
	NewRegistry           = orm.NewRegistry
	WithRegistryLogger    = orm.WithRegistryLogger
	WithRegistryTracer    = orm.WithRegistryTracer
	WithDefaultConnection = orm.WithDefaultConnection
	NewCollection         = orm.NewCollection
	NoConstraint          = orm.NoConstraint
	SelectColumns         = orm.SelectColumns
	ConstrainWith         = orm.ConstrainWith
	RegisterMacro         = orm.RegisterMacro
	HasMacro              = orm.HasMacro
	ResetMacros           = orm.ResetMacros
	ResetBootState        = orm.ResetBootState
)

// Re-export expression builders.
var (
	NewExp         = query.NewExp
	Eq             = query.Eq
	NotEq          = query.NotEq
	GreaterThan    = query.GreaterThan
	LessThan       = query.LessThan
	GreaterOrEqual = query.GreaterOrEqual
	LessOrEqual    = query.LessOrEqual
	In             = query.In
	NotIn          = query.NotIn
	Between        = query.Between
	NotBetween     = query.NotBetween
	Like           = query.Like
	NotLike        = query.NotLike
	OrLike         = query.OrLike
	And            = query.And
	Or             = query.Or
	Not            = query.Not
)

// Re-export ambient constructors.
var (
	NewZapAdapter  = logger.NewZapAdapter
	NewSlogAdapter = logger.NewSlogAdapter
	NewOtelTracer  = tracer.NewOtelTracer
	NewCollector   = metrics.NewCollector
	LoadConfig     = config.Load
	FromYAMLFile   = config.FromYAMLFile
)

// Connect opens every connection in cfg and returns a registry bound to them.
// The returned function closes all connections. Extra options are applied to
// each connection after the configured ones.
func Connect(cfg *Config, opts ...Option) (*Registry, func() error, error) {
	log, err := cfg.Logging.NewLogger()
	if err != nil {
		return nil, nil, errors.Wrap(err, "can't build logger")
	}
	dbs, err := cfg.OpenAll(log, opts...)
	if err != nil {
		return nil, nil, err
	}

	reg := NewRegistry(WithRegistryLogger(log), WithDefaultConnection(cfg.Default))
	for name, db := range dbs {
		reg.AddConnection(name, db)
	}

	closeAll := func() error {
		var first error
		for _, name := range cfg.ConnectionNames() {
			if err := dbs[name].Close(); err != nil && first == nil {
				first = errors.Wrapf(err, "can't close connection %q", name)
			}
		}
		return first
	}
	return reg, closeAll, nil
}
