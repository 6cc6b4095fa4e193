package orm

import (
	"sort"

	"github.com/coregx/relicorm/internal/query"
)

// Scope adds predicates to a query.
type Scope interface {
	Apply(b *Builder)
}

// ScopeFunc adapts a function to Scope.
type ScopeFunc func(b *Builder)

// Apply calls f(b).
func (f ScopeFunc) Apply(b *Builder) {
	f(b)
}

type namedScope struct {
	id    string
	scope Scope
}

// WithGlobalScope registers a scope applied when the query runs. Scopes are
// applied in registration order. Registering an id that was removed clears
// its removed mark.
func (b *Builder) WithGlobalScope(id string, scope Scope) *Builder {
	delete(b.removedScopes, id)
	for i := range b.scopes {
		if b.scopes[i].id == id {
			b.scopes[i].scope = scope
			return b
		}
	}
	b.scopes = append(b.scopes, namedScope{id: id, scope: scope})
	return b
}

// WithoutGlobalScope unregisters a scope and records it as removed.
func (b *Builder) WithoutGlobalScope(id string) *Builder {
	for i := range b.scopes {
		if b.scopes[i].id == id {
			b.scopes = append(b.scopes[:i:i], b.scopes[i+1:]...)
			break
		}
	}
	b.removedScopes[id] = struct{}{}
	return b
}

// WithoutGlobalScopes removes ids, or every registered scope when ids is
// empty.
func (b *Builder) WithoutGlobalScopes(ids ...string) *Builder {
	if len(ids) == 0 {
		ids = b.Scopes()
	}
	for _, id := range ids {
		b.WithoutGlobalScope(id)
	}
	return b
}

// Scopes returns the registered scope ids in application order.
func (b *Builder) Scopes() []string {
	ids := make([]string, len(b.scopes))
	for i, ns := range b.scopes {
		ids[i] = ns.id
	}
	return ids
}

// RemovedScopes returns the ids removed from this query, sorted.
func (b *Builder) RemovedScopes() []string {
	ids := make([]string, 0, len(b.removedScopes))
	for id := range b.removedScopes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ApplyScopes returns a copy of the query with every registered scope
// applied. The receiver is not modified.
//
// Each scope's predicates are isolated: if the predicates before a scope, or
// those the scope added, contain an OR, that segment is wrapped in its own
// group so the OR can't combine with predicates outside it.
func (b *Builder) ApplyScopes() *Builder {
	c := b.Clone()
	if len(b.scopes) == 0 {
		return c
	}

	for _, ns := range b.scopes {
		if _, removed := c.removedScopes[ns.id]; removed {
			continue
		}
		scope := ns.scope
		c.callScope(func(q *Builder) { scope.Apply(q) })
	}
	c.scopes = nil
	return c
}

// Scope applies the schema's local scope name with params. It panics with a
// *LogicError when the scope is unknown or given fewer parameters than it
// requires.
func (b *Builder) Scope(name string, params ...interface{}) *Builder {
	ls, ok := b.schema.LocalScopes[name]
	if !ok || ls.Apply == nil {
		panic(logicErrorf("call to undefined scope [%s] on model [%s]", name, b.schema.Name))
	}
	if len(params) < ls.Params {
		panic(logicErrorf("scope [%s] on model [%s] requires %d parameters, %d given",
			name, b.schema.Name, ls.Params, len(params)))
	}
	b.callScope(func(q *Builder) { ls.Apply(q, params...) })
	return b
}

// callScope runs fn and regroups the predicate list around what it added.
// The first added predicate is joined with AND so the scope's contribution
// is always conjunctive.
func (b *Builder) callScope(fn func(*Builder)) {
	n0 := len(b.query.Wheres())
	fn(b)

	wheres := b.query.Wheres()
	if len(wheres) <= n0 {
		return
	}
	wheres[n0].Boolean = query.BoolAnd
	b.addNewWheresWithinGroup(n0)
}

func (b *Builder) addNewWheresWithinGroup(n0 int) {
	all := b.query.Wheres()
	out := make([]query.Where, 0, 2+len(all))
	out = b.groupWhereSlice(out, all[:n0])
	out = b.groupWhereSlice(out, all[n0:])
	b.query.SetWheres(out)
}

func (b *Builder) groupWhereSlice(out, slice []query.Where) []query.Where {
	if len(slice) == 0 {
		return out
	}

	hasOr := false
	for _, w := range slice {
		if w.IsOr() {
			hasOr = true
			break
		}
	}
	if !hasOr {
		return append(out, slice...)
	}

	group := b.query.ForNestedWhere()
	group.SetWheres(append([]query.Where(nil), slice...))
	return append(out, query.Where{Kind: query.WhereNested, Query: group, Boolean: slice[0].Boolean})
}
