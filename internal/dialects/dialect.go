// Package dialects provides database-specific SQL dialect implementations for
// PostgreSQL, MySQL, and SQLite, handling identifier quoting, placeholders,
// UPSERT clauses, and RETURNING support.
package dialects

import (
	"sort"
	"strings"
	"sync"
)

// Dialect defines database-specific behaviors.
type Dialect interface {
	// Name returns the canonical dialect name (postgres, mysql, sqlite).
	Name() string
	QuoteIdentifier(string) string
	Placeholder(int) string
	UpsertSQL(string, []string, []string) string
	// SupportsReturning reports whether INSERT ... RETURNING is available.
	SupportsReturning() bool
}

var (
	mu       sync.RWMutex
	dialects = make(map[string]Dialect)
)

// RegisterDialect registers a database dialect by driver name.
func RegisterDialect(name string, d Dialect) {
	mu.Lock()
	defer mu.Unlock()
	dialects[name] = d
}

// GetDialect retrieves a registered dialect by driver name, panics if not found.
func GetDialect(name string) Dialect {
	if d, ok := LookupDialect(name); ok {
		return d
	}
	panic("unsupported dialect: " + name)
}

// LookupDialect retrieves a registered dialect by driver name.
func LookupDialect(name string) (Dialect, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := dialects[name]
	return d, ok
}

// Drivers returns the sorted list of registered driver names.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// QuoteQualified quotes a possibly table-qualified identifier ("posts.id")
// segment by segment. A trailing "*" segment is left unquoted.
func QuoteQualified(d Dialect, identifier string) string {
	parts := strings.Split(identifier, ".")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "*" {
			parts[i] = part
			continue
		}
		parts[i] = d.QuoteIdentifier(part)
	}
	return strings.Join(parts, ".")
}

func quoteAll(d Dialect, columns []string) []string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = d.QuoteIdentifier(col)
	}
	return quoted
}

// onConflict builds the ON CONFLICT clause shared by PostgreSQL and SQLite.
// excluded names the pseudo table holding the rejected row.
func onConflict(d Dialect, conflictColumns, updateCols []string, excluded string) string {
	var target string
	if len(conflictColumns) > 0 {
		target = " (" + strings.Join(quoteAll(d, conflictColumns), ", ") + ")"
	}
	if updateCols == nil {
		return " ON CONFLICT" + target + " DO NOTHING"
	}

	sets := make([]string, len(updateCols))
	for i, col := range quoteAll(d, updateCols) {
		sets[i] = col + " = " + excluded + "." + col
	}
	return " ON CONFLICT" + target + " DO UPDATE SET " + strings.Join(sets, ", ")
}
