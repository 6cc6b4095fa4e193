// Copyright (c) 2025 COREGX. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/coregx/relicorm/internal/dialects"
)

// Expression represents a database expression that can be embedded in a WHERE clause.
//
// Example:
//
//	orm.Query().Where(relicorm.And(
//	    relicorm.HashExp{"status": 1},
//	    relicorm.GreaterThan("age", 18),
//	))
type Expression interface {
	// Build converts the expression into a SQL fragment with "?" placeholders.
	// Placeholder renumbering happens when the whole statement is compiled.
	Build(dialect dialects.Dialect) (sql string, args []interface{})
}

// RawExp is a raw SQL fragment with optional parameter bindings.
type RawExp struct {
	SQL  string
	Args []interface{}
}

// NewExp creates a raw SQL expression.
func NewExp(sql string, args ...interface{}) Expression {
	return &RawExp{SQL: sql, Args: args}
}

// Build returns the fragment unchanged.
func (e *RawExp) Build(_ dialects.Dialect) (string, []interface{}) {
	return e.SQL, e.Args
}

// HashExp is a column => value map combined with AND.
//
// Special values:
//   - nil → "column IS NULL"
//   - []interface{} → "column IN (...)"
//   - Expression → nested expression in parentheses
type HashExp map[string]interface{}

// Build converts the map into a SQL fragment. Keys are sorted so the
// generated SQL is deterministic.
func (e HashExp) Build(dialect dialects.Dialect) (string, []interface{}) {
	if len(e) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	var args []interface{}
	for _, key := range keys {
		var sql string
		var sub []interface{}

		switch v := e[key].(type) {
		case nil:
			sql = dialects.QuoteQualified(dialect, key) + " IS NULL"
		case Expression:
			if s, a := v.Build(dialect); s != "" {
				sql, sub = "("+s+")", a
			}
		case []interface{}:
			sql, sub = In(key, v...).Build(dialect)
		default:
			sql, sub = dialects.QuoteQualified(dialect, key)+" = ?", []interface{}{v}
		}

		if sql != "" {
			parts = append(parts, sql)
			args = append(args, sub...)
		}
	}

	return strings.Join(parts, " AND "), args
}

// CompareExp is a binary comparison (=, <>, >, <, >=, <=).
type CompareExp struct {
	Col      string
	Operator string
	Value    interface{}
}

// Eq generates "column = value", or "column IS NULL" for a nil value.
func Eq(col string, value interface{}) Expression {
	return &CompareExp{Col: col, Operator: "=", Value: value}
}

// NotEq generates "column <> value", or "column IS NOT NULL" for a nil value.
func NotEq(col string, value interface{}) Expression {
	return &CompareExp{Col: col, Operator: "<>", Value: value}
}

// GreaterThan generates "column > value".
func GreaterThan(col string, value interface{}) Expression {
	return &CompareExp{Col: col, Operator: ">", Value: value}
}

// LessThan generates "column < value".
func LessThan(col string, value interface{}) Expression {
	return &CompareExp{Col: col, Operator: "<", Value: value}
}

// GreaterOrEqual generates "column >= value".
func GreaterOrEqual(col string, value interface{}) Expression {
	return &CompareExp{Col: col, Operator: ">=", Value: value}
}

// LessOrEqual generates "column <= value".
func LessOrEqual(col string, value interface{}) Expression {
	return &CompareExp{Col: col, Operator: "<=", Value: value}
}

// Build converts the comparison into a SQL fragment.
func (e *CompareExp) Build(dialect dialects.Dialect) (string, []interface{}) {
	col := dialects.QuoteQualified(dialect, e.Col)

	if e.Value == nil {
		switch e.Operator {
		case "=":
			return col + " IS NULL", nil
		case "<>":
			return col + " IS NOT NULL", nil
		}
	}

	if expr, ok := e.Value.(Expression); ok {
		sql, args := expr.Build(dialect)
		return col + " " + e.Operator + " (" + sql + ")", args
	}

	return col + " " + e.Operator + " ?", []interface{}{e.Value}
}

// InExp is an IN or NOT IN list.
type InExp struct {
	Col    string
	Values []interface{}
	Not    bool
}

// In generates "column IN (...)". An empty list is always false.
func In(col string, values ...interface{}) Expression {
	return &InExp{Col: col, Values: values}
}

// NotIn generates "column NOT IN (...)". An empty list is always true.
func NotIn(col string, values ...interface{}) Expression {
	return &InExp{Col: col, Values: values, Not: true}
}

// Build converts the list into a SQL fragment.
func (e *InExp) Build(dialect dialects.Dialect) (string, []interface{}) {
	if len(e.Values) == 0 {
		if e.Not {
			return "1 = 1", nil
		}
		return "0 = 1", nil
	}

	col := dialects.QuoteQualified(dialect, e.Col)
	placeholders := make([]string, 0, len(e.Values))
	args := make([]interface{}, 0, len(e.Values))
	for _, v := range e.Values {
		if v == nil {
			placeholders = append(placeholders, "NULL")
			continue
		}
		placeholders = append(placeholders, "?")
		args = append(args, v)
	}

	op := "IN"
	if e.Not {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", col, op, strings.Join(placeholders, ", ")), args
}

// BetweenExp is a BETWEEN or NOT BETWEEN range.
type BetweenExp struct {
	Col      string
	From, To interface{}
	Not      bool
}

// Between generates "column BETWEEN from AND to".
func Between(col string, from, to interface{}) Expression {
	return &BetweenExp{Col: col, From: from, To: to}
}

// NotBetween generates "column NOT BETWEEN from AND to".
func NotBetween(col string, from, to interface{}) Expression {
	return &BetweenExp{Col: col, From: from, To: to, Not: true}
}

// Build converts the range into a SQL fragment.
func (e *BetweenExp) Build(dialect dialects.Dialect) (string, []interface{}) {
	op := "BETWEEN"
	if e.Not {
		op = "NOT BETWEEN"
	}
	return fmt.Sprintf("%s %s ? AND ?", dialects.QuoteQualified(dialect, e.Col), op),
		[]interface{}{e.From, e.To}
}

// LikeExp is a LIKE / NOT LIKE match with escaping of wildcard characters.
type LikeExp struct {
	Col    string
	Values []string
	Like   string // "LIKE" or "NOT LIKE"
	Or     bool
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Like generates "column LIKE '%value%'" for every value, combined with AND.
func Like(col string, values ...string) Expression {
	return &LikeExp{Col: col, Values: values, Like: "LIKE"}
}

// NotLike generates "column NOT LIKE '%value%'".
func NotLike(col string, values ...string) Expression {
	return &LikeExp{Col: col, Values: values, Like: "NOT LIKE"}
}

// OrLike generates LIKE conditions combined with OR.
func OrLike(col string, values ...string) Expression {
	return &LikeExp{Col: col, Values: values, Like: "LIKE", Or: true}
}

// Build converts the match into a SQL fragment.
func (e *LikeExp) Build(dialect dialects.Dialect) (string, []interface{}) {
	if len(e.Values) == 0 {
		return "", nil
	}

	col := dialects.QuoteQualified(dialect, e.Col)
	parts := make([]string, len(e.Values))
	args := make([]interface{}, len(e.Values))
	for i, v := range e.Values {
		parts[i] = col + " " + e.Like + " ?"
		args[i] = "%" + likeEscaper.Replace(v) + "%"
	}

	join := " AND "
	if e.Or {
		join = " OR "
	}
	return strings.Join(parts, join), args
}

// AndOrExp joins expressions with AND or OR, parenthesizing each operand.
type AndOrExp struct {
	Exps []Expression
	Op   string
}

// And combines expressions with AND. Nil expressions are skipped.
func And(exps ...Expression) Expression {
	return &AndOrExp{Exps: exps, Op: "AND"}
}

// Or combines expressions with OR. Nil expressions are skipped.
func Or(exps ...Expression) Expression {
	return &AndOrExp{Exps: exps, Op: "OR"}
}

// Build converts the combination into a SQL fragment.
func (e *AndOrExp) Build(dialect dialects.Dialect) (string, []interface{}) {
	var parts []string
	var args []interface{}
	for _, exp := range e.Exps {
		if exp == nil {
			continue
		}
		if sql, sub := exp.Build(dialect); sql != "" {
			parts = append(parts, sql)
			args = append(args, sub...)
		}
	}

	switch len(parts) {
	case 0:
		return "", nil
	case 1:
		return parts[0], args
	}
	return "(" + strings.Join(parts, ") "+e.Op+" (") + ")", args
}

// NotExp negates an expression.
type NotExp struct {
	Exp Expression
}

// Not generates "NOT (expression)".
func Not(exp Expression) Expression {
	return &NotExp{Exp: exp}
}

// Build converts the negation into a SQL fragment.
func (e *NotExp) Build(dialect dialects.Dialect) (string, []interface{}) {
	if e.Exp == nil {
		return "", nil
	}
	sql, args := e.Exp.Build(dialect)
	if sql == "" {
		return "", nil
	}
	return "NOT (" + sql + ")", args
}
