package query

// Boolean connectives joining a predicate to the one before it.
const (
	BoolAnd = "and"
	BoolOr  = "or"
)

// WhereKind identifies the shape of a predicate.
type WhereKind int

// Predicate kinds.
const (
	WhereBasic WhereKind = iota
	WhereIn
	WhereNotIn
	WhereNull
	WhereNotNull
	WhereColumn
	WhereNested
	WhereExpression
	WhereRaw
)

func (k WhereKind) String() string {
	switch k {
	case WhereBasic:
		return "basic"
	case WhereIn:
		return "in"
	case WhereNotIn:
		return "not_in"
	case WhereNull:
		return "null"
	case WhereNotNull:
		return "not_null"
	case WhereColumn:
		return "column"
	case WhereNested:
		return "nested"
	case WhereExpression:
		return "expression"
	case WhereRaw:
		return "raw"
	}
	return "unknown"
}

// Where is one entry of a builder's predicate list.
type Where struct {
	Kind     WhereKind
	Column   string
	Operator string
	Value    interface{}
	Values   []interface{}
	// Second is the right-hand column of a column comparison.
	Second string
	// Query holds the group of a nested predicate.
	Query *Builder
	Exp   Expression
	SQL   string
	Args  []interface{}
	// Boolean is BoolAnd or BoolOr.
	Boolean string
}

// IsOr reports whether the predicate is joined with OR.
func (w Where) IsOr() bool {
	return w.Boolean == BoolOr
}

func (w Where) clone() Where {
	c := w
	if w.Values != nil {
		c.Values = append([]interface{}(nil), w.Values...)
	}
	if w.Args != nil {
		c.Args = append([]interface{}(nil), w.Args...)
	}
	if w.Query != nil {
		c.Query = w.Query.Clone()
	}
	return c
}
