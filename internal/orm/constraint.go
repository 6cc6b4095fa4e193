package orm

import "strings"

// ConstraintKind tags what an eager-load constraint does.
type ConstraintKind int

const (
	// ConstraintNone leaves the relation query as built.
	ConstraintNone ConstraintKind = iota
	// ConstraintColumns restricts the relation query's select list.
	ConstraintColumns
	// ConstraintFunc runs a function against the relation query.
	ConstraintFunc
)

// Constraint customizes the query of one eager-loaded relation path.
type Constraint struct {
	kind    ConstraintKind
	columns []string
	fn      func(*Builder)
}

// NoConstraint loads the relation unchanged.
func NoConstraint() Constraint {
	return Constraint{kind: ConstraintNone}
}

// SelectColumns loads only columns of the related table. Include the key
// columns the relation matches on.
func SelectColumns(columns ...string) Constraint {
	return Constraint{kind: ConstraintColumns, columns: append([]string(nil), columns...)}
}

// ConstrainWith runs fn against the relation query. A nil fn is NoConstraint.
func ConstrainWith(fn func(*Builder)) Constraint {
	if fn == nil {
		return NoConstraint()
	}
	return Constraint{kind: ConstraintFunc, fn: fn}
}

// Kind returns the constraint's kind.
func (c Constraint) Kind() ConstraintKind {
	return c.kind
}

// Columns returns the columns of a ConstraintColumns constraint.
func (c Constraint) Columns() []string {
	return c.columns
}

func (c Constraint) applyTo(rel Relation) {
	switch c.kind {
	case ConstraintColumns:
		cols := c.columns
		// Pivot joins make bare column names ambiguous.
		if rel.Kind() == KindBelongsToMany {
			table := rel.Related().Table
			cols = make([]string, len(c.columns))
			for i, col := range c.columns {
				if !strings.Contains(col, ".") {
					col = table + "." + col
				}
				cols[i] = col
			}
		}
		rel.Query().Select(cols...)
	case ConstraintFunc:
		c.fn(rel.Query())
	}
}
