package orm

import (
	"context"
	"encoding/json"
	"strings"
)

// Collection is an ordered list of models. Set operations compare models
// by primary key, through a dictionary rebuilt from the items on each call.
type Collection struct {
	items []*Model
}

// NewCollection wraps models.
func NewCollection(models ...*Model) *Collection {
	return &Collection{items: append([]*Model(nil), models...)}
}

// All returns the models.
func (c *Collection) All() []*Model {
	return c.items
}

// Len returns the number of models.
func (c *Collection) Len() int {
	return len(c.items)
}

// IsEmpty reports whether the collection has no models.
func (c *Collection) IsEmpty() bool {
	return len(c.items) == 0
}

// First returns the first model, or nil.
func (c *Collection) First() *Model {
	if len(c.items) == 0 {
		return nil
	}
	return c.items[0]
}

// Last returns the last model, or nil.
func (c *Collection) Last() *Model {
	if len(c.items) == 0 {
		return nil
	}
	return c.items[len(c.items)-1]
}

// Push appends models.
func (c *Collection) Push(models ...*Model) *Collection {
	c.items = append(c.items, models...)
	return c
}

// Each calls fn for every model until it returns false.
func (c *Collection) Each(fn func(i int, m *Model) bool) {
	for i, m := range c.items {
		if !fn(i, m) {
			return
		}
	}
}

// Filter returns the models fn accepts.
func (c *Collection) Filter(fn func(m *Model) bool) *Collection {
	out := NewCollection()
	for _, m := range c.items {
		if fn(m) {
			out.items = append(out.items, m)
		}
	}
	return out
}

// Dictionary maps each primary key to its model. Later duplicates win.
func (c *Collection) Dictionary() map[string]*Model {
	d := make(map[string]*Model, len(c.items))
	for _, m := range c.items {
		d[keyString(m.GetKey())] = m
	}
	return d
}

// keyOf accepts a model or a bare key.
func keyOf(key interface{}) string {
	if m, ok := key.(*Model); ok {
		return keyString(m.GetKey())
	}
	return keyString(key)
}

// Contains reports whether a model with the key (or the model's key) is in
// the collection.
func (c *Collection) Contains(key interface{}) bool {
	return c.Find(key) != nil
}

// Find returns the model with the key, or nil. key may be a model, whose
// key is used.
func (c *Collection) Find(key interface{}) *Model {
	return c.Dictionary()[keyOf(key)]
}

// FindMany returns the models whose keys are in keys.
func (c *Collection) FindMany(keys []interface{}) *Collection {
	wanted := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		wanted[keyOf(k)] = struct{}{}
	}
	return c.Filter(func(m *Model) bool {
		_, ok := wanted[keyString(m.GetKey())]
		return ok
	})
}

// ModelKeys returns the primary keys in order.
func (c *Collection) ModelKeys() []interface{} {
	keys := make([]interface{}, len(c.items))
	for i, m := range c.items {
		keys[i] = m.GetKey()
	}
	return keys
}

// byKey rebuilds an ordered dictionary from models. A repeated key keeps
// its first position and takes the later model.
func byKey(models ...[]*Model) *Collection {
	index := make(map[string]int)
	out := NewCollection()
	for _, list := range models {
		for _, m := range list {
			k := keyString(m.GetKey())
			if i, ok := index[k]; ok {
				out.items[i] = m
				continue
			}
			index[k] = len(out.items)
			out.items = append(out.items, m)
		}
	}
	return out
}

// Merge returns the models of both collections by key. Models of other
// replace models of c that share their key.
func (c *Collection) Merge(other *Collection) *Collection {
	return byKey(c.items, other.items)
}

// Diff returns the models whose keys are not in other.
func (c *Collection) Diff(other *Collection) *Collection {
	d := other.Dictionary()
	return c.Filter(func(m *Model) bool {
		_, ok := d[keyString(m.GetKey())]
		return !ok
	})
}

// Intersect returns the models whose keys are also in other.
func (c *Collection) Intersect(other *Collection) *Collection {
	d := other.Dictionary()
	return c.Filter(func(m *Model) bool {
		_, ok := d[keyString(m.GetKey())]
		return ok
	})
}

// Unique drops models with repeated keys.
func (c *Collection) Unique() *Collection {
	return byKey(c.items)
}

// UniqueBy drops models whose attribute value was already seen, keeping the
// first.
func (c *Collection) UniqueBy(attribute string) *Collection {
	seen := make(map[string]struct{}, len(c.items))
	return c.Filter(func(m *Model) bool {
		k := keyString(m.GetRaw(attribute))
		if _, ok := seen[k]; ok {
			return false
		}
		seen[k] = struct{}{}
		return true
	})
}

// Only returns the models whose keys are in keys. No keys returns a copy.
func (c *Collection) Only(keys ...interface{}) *Collection {
	if len(keys) == 0 {
		return NewCollection(c.items...)
	}
	return c.FindMany(keys)
}

// Except returns the models whose keys are not in keys.
func (c *Collection) Except(keys ...interface{}) *Collection {
	return c.Diff(c.FindMany(keys))
}

// Pluck returns one attribute of every model.
func (c *Collection) Pluck(attribute string) []interface{} {
	out := make([]interface{}, len(c.items))
	for i, m := range c.items {
		out[i] = m.Get(attribute)
	}
	return out
}

// Load eager loads relations onto every model with one query per relation.
func (c *Collection) Load(ctx context.Context, relations ...interface{}) error {
	if len(c.items) == 0 {
		return nil
	}
	b := c.items[0].NewQueryWithoutScopes().With(relations...)
	if err := b.validateEagerLoads(); err != nil {
		return err
	}
	_, err := b.EagerLoadRelations(ctx, c.items)
	return err
}

// LoadMissing loads the relations each model does not have loaded yet.
// Nested paths descend into the relations already loaded.
func (c *Collection) LoadMissing(ctx context.Context, relations ...interface{}) error {
	if len(c.items) == 0 {
		return nil
	}
	paths := c.items[0].NewQueryWithoutScopes().With(relations...)
	if err := paths.validateEagerLoads(); err != nil {
		return err
	}
	for _, path := range sortedConstraintKeys(paths.eagerLoad) {
		if err := loadMissingPath(ctx, c.items, strings.Split(path, "."), paths.eagerLoad[path]); err != nil {
			return err
		}
	}
	return nil
}

func loadMissingPath(ctx context.Context, models []*Model, segments []string, constraint Constraint) error {
	name := segments[0]

	var missing []*Model
	for _, m := range models {
		if !m.RelationLoaded(name) {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		c := NoConstraint()
		if len(segments) == 1 {
			c = constraint
		}
		b := missing[0].NewQueryWithoutScopes().With(map[string]Constraint{name: c})
		if _, err := b.EagerLoadRelations(ctx, missing); err != nil {
			return err
		}
	}
	if len(segments) == 1 {
		return nil
	}

	// A morph-to relation can hold several schemas.
	var order []*Schema
	groups := make(map[*Schema][]*Model)
	for _, m := range models {
		for _, child := range relatedModels(m, name) {
			if _, ok := groups[child.schema]; !ok {
				order = append(order, child.schema)
			}
			groups[child.schema] = append(groups[child.schema], child)
		}
	}
	for _, s := range order {
		if err := loadMissingPath(ctx, groups[s], segments[1:], constraint); err != nil {
			return err
		}
	}
	return nil
}

func relatedModels(m *Model, name string) []*Model {
	switch r := m.relations[name].(type) {
	case *Model:
		if r != nil {
			return []*Model{r}
		}
	case *Collection:
		return r.items
	}
	return nil
}

// LoadCount sets "<relation>_count" on every model with one query.
func (c *Collection) LoadCount(ctx context.Context, relations ...string) error {
	if len(c.items) == 0 || len(relations) == 0 {
		return nil
	}
	first := c.items[0]
	key := first.schema.QualifiedKeyName()
	counts, err := first.NewQueryWithoutScopes().
		WhereIn(key, c.ModelKeys()).
		Select(key).
		WithCount(relations...).
		Get(ctx)
	if err != nil {
		return err
	}

	d := counts.Dictionary()
	for _, m := range c.items {
		row := d[keyString(m.GetKey())]
		if row == nil {
			continue
		}
		for _, name := range relations {
			attr := name + "_count"
			v := row.GetRaw(attr)
			m.attributes[attr] = v
			m.original[attr] = v
		}
	}
	return nil
}

// ToMaps serializes every model.
func (c *Collection) ToMaps() ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, len(c.items))
	for i, m := range c.items {
		data, err := m.ToMap()
		if err != nil {
			return nil, err
		}
		out[i] = data
	}
	return out, nil
}

// MarshalJSON implements json.Marshaler.
func (c *Collection) MarshalJSON() ([]byte, error) {
	data, err := c.ToMaps()
	if err != nil {
		return nil, err
	}
	return json.Marshal(data)
}
