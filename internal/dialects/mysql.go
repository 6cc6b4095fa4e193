package dialects

import "strings"

// MySQLDialect implements MySQL-specific SQL dialect.
type MySQLDialect struct{}

func init() {
	RegisterDialect("mysql", &MySQLDialect{})
}

// Name returns "mysql".
func (d *MySQLDialect) Name() string {
	return "mysql"
}

// QuoteIdentifier quotes a MySQL identifier using backticks.
func (d *MySQLDialect) QuoteIdentifier(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// Placeholder returns MySQL placeholder format (always "?").
func (d *MySQLDialect) Placeholder(_ int) string {
	return "?"
}

// SupportsReturning reports false; last insert ids come from sql.Result.
func (d *MySQLDialect) SupportsReturning() bool {
	return false
}

// UpsertSQL generates MySQL UPSERT syntax using ON DUPLICATE KEY UPDATE.
// MySQL has no DO NOTHING form, so a nil update list yields a plain INSERT.
func (d *MySQLDialect) UpsertSQL(_ string, _, updateCols []string) string {
	if updateCols == nil {
		return ""
	}

	updates := make([]string, len(updateCols))
	for i, col := range quoteAll(d, updateCols) {
		updates[i] = col + " = VALUES(" + col + ")"
	}
	return " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
}
