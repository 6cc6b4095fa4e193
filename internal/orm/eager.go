package orm

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/coregx/relicorm/internal/tracer"
)

// With requests relations to be eager loaded. Each argument is one of:
//
//   - a dotted path such as "author.publisher", optionally suffixed with
//     ":col1,col2" to select only those columns of the last relation
//   - a []string of paths
//   - a map[string]Constraint or map[string]func(*Builder) of paths to
//     constraints
//
// Every prefix of a path is loaded too. Adding a path again without a
// constraint keeps the constraint it already has.
func (b *Builder) With(relations ...interface{}) *Builder {
	for _, r := range relations {
		switch v := r.(type) {
		case string:
			b.addEagerPath(v, nil)
		case []string:
			for _, p := range v {
				b.addEagerPath(p, nil)
			}
		case map[string]Constraint:
			for _, p := range sortedConstraintKeys(v) {
				c := v[p]
				b.addEagerPath(p, &c)
			}
		case map[string]func(*Builder):
			for p, fn := range v {
				if fn == nil {
					b.addEagerPath(p, nil)
					continue
				}
				c := ConstrainWith(fn)
				b.addEagerPath(p, &c)
			}
		case []interface{}:
			b.With(v...)
		default:
			panic(logicErrorf("with expects relation paths or a map of paths to constraints, got %T", r))
		}
	}
	return b
}

func (b *Builder) addEagerPath(path string, constraint *Constraint) {
	name, columns := parseEagerPath(path)
	if name == "" {
		return
	}

	segments := strings.Split(name, ".")
	for i := 1; i < len(segments); i++ {
		prefix := strings.Join(segments[:i], ".")
		if _, ok := b.eagerLoad[prefix]; !ok {
			b.eagerLoad[prefix] = NoConstraint()
		}
	}

	switch {
	case constraint != nil:
		b.eagerLoad[name] = *constraint
	case columns != nil:
		b.eagerLoad[name] = SelectColumns(columns...)
	default:
		if _, ok := b.eagerLoad[name]; !ok {
			b.eagerLoad[name] = NoConstraint()
		}
	}
}

// parseEagerPath splits "a.b:col1,col2" into "a.b" and its columns.
func parseEagerPath(path string) (string, []string) {
	path = strings.TrimSpace(path)
	i := strings.Index(path, ":")
	if i < 0 {
		return path, nil
	}

	var columns []string
	for _, c := range strings.Split(path[i+1:], ",") {
		if c = strings.TrimSpace(c); c != "" {
			columns = append(columns, c)
		}
	}
	return strings.TrimSpace(path[:i]), columns
}

// Without drops eager-load paths together with the paths nested under them.
func (b *Builder) Without(paths ...string) *Builder {
	for _, p := range paths {
		delete(b.eagerLoad, p)
		for name := range b.eagerLoad {
			if strings.HasPrefix(name, p+".") {
				delete(b.eagerLoad, name)
			}
		}
	}
	return b
}

// EagerLoads returns a copy of the eager-load map.
func (b *Builder) EagerLoads() map[string]Constraint {
	out := make(map[string]Constraint, len(b.eagerLoad))
	for k, v := range b.eagerLoad {
		out[k] = v
	}
	return out
}

// SetEagerLoads replaces the eager-load map.
func (b *Builder) SetEagerLoads(eagerLoad map[string]Constraint) *Builder {
	b.eagerLoad = make(map[string]Constraint, len(eagerLoad))
	for k, v := range eagerLoad {
		b.eagerLoad[k] = v
	}
	return b
}

// validateEagerLoads resolves every segment of every path so a misspelled
// relation fails before any query runs. Paths through a MorphTo can't be
// resolved past it.
func (b *Builder) validateEagerLoads() error {
	for _, path := range sortedConstraintKeys(b.eagerLoad) {
		s := b.schema
		for _, segment := range strings.Split(path, ".") {
			rel, err := b.blankModel(s).relationWithoutConstraints(segment)
			if err != nil {
				return err
			}
			if s = rel.Related(); s == nil {
				break
			}
		}
	}
	return nil
}

func (b *Builder) blankModel(s *Schema) *Model {
	m := s.newModel()
	if m.connection == "" {
		m.connection = b.model.connection
	}
	return m
}

// EagerLoadRelations loads the top-level paths onto models, one query per
// relation; nested paths are loaded by the relation queries themselves.
func (b *Builder) EagerLoadRelations(ctx context.Context, models []*Model) ([]*Model, error) {
	for _, name := range sortedConstraintKeys(b.eagerLoad) {
		if strings.Contains(name, ".") {
			continue
		}
		var err error
		if models, err = b.eagerLoadRelation(ctx, models, name, b.eagerLoad[name]); err != nil {
			return nil, err
		}
	}
	return models, nil
}

func (b *Builder) eagerLoadRelation(ctx context.Context, models []*Model, name string, constraint Constraint) ([]*Model, error) {
	rel, err := b.GetRelation(name)
	if err != nil {
		return nil, err
	}

	reg := b.schema.registry
	ctx, span := reg.tracer.StartSpan(ctx, "relicorm.eager_load")
	defer span.End()
	meta := &tracer.RelationMetadata{
		Model:    b.schema.Name,
		Relation: name,
		Kind:     rel.Kind().String(),
		Parents:  len(models),
	}

	rel.AddEagerConstraints(models)
	constraint.applyTo(rel)

	results, err := rel.GetEager(ctx)
	if err != nil {
		meta.Error = err
		tracer.AddRelationAttributes(span, meta)
		return nil, errors.Wrapf(err, "can't eager load %s.%s", b.schema.Name, name)
	}
	meta.Children = results.Len()
	tracer.AddRelationAttributes(span, meta)
	reg.logger.Debug("eager loaded relation",
		"model", b.schema.Name,
		"relation", name,
		"kind", meta.Kind,
		"parents", meta.Parents,
		"children", meta.Children)

	return rel.Match(rel.InitRelation(models, name), results, name), nil
}

// GetRelation returns the named relation without parent constraints, with
// the eager-load paths nested under name passed on to its query.
func (b *Builder) GetRelation(name string) (Relation, error) {
	rel, err := b.blankModel(b.schema).relationWithoutConstraints(name)
	if err != nil {
		return nil, err
	}
	if nested := b.nestedUnder(name); len(nested) > 0 {
		rel.Query().With(nested)
	}
	return rel, nil
}

// nestedUnder returns the paths below relation with its segment stripped.
func (b *Builder) nestedUnder(relation string) map[string]Constraint {
	prefix := relation + "."
	nested := make(map[string]Constraint)
	for path, c := range b.eagerLoad {
		if strings.HasPrefix(path, prefix) {
			nested[path[len(prefix):]] = c
		}
	}
	return nested
}

func sortedConstraintKeys(m map[string]Constraint) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
