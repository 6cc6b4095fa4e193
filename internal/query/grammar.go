package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coregx/relicorm/internal/dialects"
)

// compiler turns a Builder into SQL. Fragments are produced with "?"
// placeholders and renumbered once for the whole statement in finish.
type compiler struct {
	dialect dialects.Dialect
	args    []interface{}
}

func (c *compiler) finish(sql string) string {
	if c.dialect.Placeholder(1) == "?" {
		return sql
	}

	var sb strings.Builder
	n := 0
	for _, r := range sql {
		if r == '?' {
			n++
			sb.WriteString(c.dialect.Placeholder(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// wrap quotes a column or table reference, honoring "x as y" aliases.
func (c *compiler) wrap(value string) string {
	lower := strings.ToLower(value)
	if i := strings.Index(lower, " as "); i >= 0 {
		return c.wrap(strings.TrimSpace(value[:i])) + " AS " + c.dialect.QuoteIdentifier(strings.TrimSpace(value[i+4:]))
	}
	if value == "*" {
		return value
	}
	return dialects.QuoteQualified(c.dialect, value)
}

func (c *compiler) compileSelect(b *Builder) string {
	var sb strings.Builder

	sb.WriteString("SELECT ")
	if b.distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(c.compileColumns(b.selects))
	sb.WriteString(" FROM ")
	sb.WriteString(c.wrap(b.table))

	for _, j := range b.joins {
		fmt.Fprintf(&sb, " %s JOIN %s ON %s %s %s", j.kind, c.wrap(j.table), c.wrap(j.first), j.op, c.wrap(j.second))
	}

	sb.WriteString(c.compileWhereClause(b.wheres))

	if len(b.groups) > 0 {
		cols := make([]string, len(b.groups))
		for i, g := range b.groups {
			cols[i] = c.wrap(g)
		}
		sb.WriteString(" GROUP BY " + strings.Join(cols, ", "))
	}

	if len(b.orders) > 0 {
		parts := make([]string, len(b.orders))
		for i, o := range b.orders {
			parts[i] = c.wrap(o.column) + " " + o.direction
		}
		sb.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}

	if b.limit >= 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(b.limit))
	}
	if b.offset >= 0 {
		if b.limit < 0 {
			// MySQL and SQLite need a LIMIT before OFFSET.
			switch c.dialect.Name() {
			case "mysql":
				sb.WriteString(" LIMIT 18446744073709551615")
			case "sqlite":
				sb.WriteString(" LIMIT -1")
			}
		}
		sb.WriteString(" OFFSET " + strconv.Itoa(b.offset))
	}

	return sb.String()
}

func (c *compiler) compileColumns(selects []selectItem) string {
	if len(selects) == 0 {
		return "*"
	}

	parts := make([]string, len(selects))
	for i, s := range selects {
		switch s.kind {
		case selectRaw:
			parts[i] = s.value
			c.args = append(c.args, s.args...)
		case selectSub:
			parts[i] = "(" + c.compileSelect(s.sub) + ") AS " + c.dialect.QuoteIdentifier(s.alias)
		default:
			parts[i] = c.wrap(s.value)
		}
	}
	return strings.Join(parts, ", ")
}

func (c *compiler) compileWhereClause(wheres []Where) string {
	sql := c.compileWheres(wheres)
	if sql == "" {
		return ""
	}
	return " WHERE " + sql
}

// compileWheres joins predicates with their connectives. The connective of
// the first emitted predicate is dropped.
func (c *compiler) compileWheres(wheres []Where) string {
	var sb strings.Builder
	for _, w := range wheres {
		frag := c.compileWhere(w)
		if frag == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(" " + strings.ToUpper(w.Boolean) + " ")
		}
		sb.WriteString(frag)
	}
	return sb.String()
}

func (c *compiler) compileWhere(w Where) string {
	switch w.Kind {
	case WhereBasic:
		if exp, ok := w.Value.(Expression); ok {
			sql, args := exp.Build(c.dialect)
			c.args = append(c.args, args...)
			return c.wrap(w.Column) + " " + strings.ToUpper(w.Operator) + " (" + sql + ")"
		}
		c.args = append(c.args, w.Value)
		return c.wrap(w.Column) + " " + strings.ToUpper(w.Operator) + " ?"

	case WhereIn, WhereNotIn:
		sql, args := (&InExp{Col: w.Column, Values: w.Values, Not: w.Kind == WhereNotIn}).Build(c.dialect)
		c.args = append(c.args, args...)
		return sql

	case WhereNull:
		return c.wrap(w.Column) + " IS NULL"

	case WhereNotNull:
		return c.wrap(w.Column) + " IS NOT NULL"

	case WhereColumn:
		return c.wrap(w.Column) + " " + strings.ToUpper(w.Operator) + " " + c.wrap(w.Second)

	case WhereNested:
		if w.Query == nil {
			return ""
		}
		inner := c.compileWheres(w.Query.wheres)
		if inner == "" {
			return ""
		}
		return "(" + inner + ")"

	case WhereExpression:
		if w.Exp == nil {
			return ""
		}
		sql, args := w.Exp.Build(c.dialect)
		if sql == "" {
			return ""
		}
		c.args = append(c.args, args...)
		if strings.Contains(sql, " OR ") {
			return "(" + sql + ")"
		}
		return sql

	case WhereRaw:
		c.args = append(c.args, w.Args...)
		return w.SQL
	}
	return ""
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case []byte:
		i, _ := strconv.ParseInt(string(n), 10, 64)
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
