package logger

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultSensitiveFields lists column names whose bound values are masked.
var DefaultSensitiveFields = []string{
	"password", "passwd", "pwd",
	"token", "api_key", "apikey", "api_token",
	"secret", "auth", "authorization",
	"credit_card", "card_number", "cvv", "cvc",
	"ssn", "social_security",
	"private_key", "priv_key",
}

// maxParamLen truncates long values in formatted parameter lists.
const maxParamLen = 100

// Sanitizer masks bound parameters of statements that mention sensitive
// columns, so secrets never reach the logs.
type Sanitizer struct {
	pattern   *regexp.Regexp
	maskValue string
}

// NewSanitizer creates a sanitizer for fields, or DefaultSensitiveFields when
// fields is empty.
func NewSanitizer(fields []string) *Sanitizer {
	if len(fields) == 0 {
		fields = DefaultSensitiveFields
	}

	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = regexp.QuoteMeta(f)
	}

	return &Sanitizer{
		pattern:   regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`),
		maskValue: "***REDACTED***",
	}
}

// MaskParams returns params with every value masked when sql mentions a
// sensitive column. The input slice is never modified.
func (s *Sanitizer) MaskParams(sql string, params []interface{}) []interface{} {
	if len(params) == 0 || !s.pattern.MatchString(sql) {
		return params
	}

	masked := make([]interface{}, len(params))
	for i := range params {
		masked[i] = s.maskValue
	}
	return masked
}

// FormatParams renders params for a log line.
func (s *Sanitizer) FormatParams(params []interface{}) string {
	if len(params) == 0 {
		return "[]"
	}

	parts := make([]string, len(params))
	for i, p := range params {
		if p == nil {
			parts[i] = "NULL"
			continue
		}
		str := fmt.Sprintf("%v", p)
		if len(str) > maxParamLen {
			str = str[:maxParamLen] + "..."
		}
		parts[i] = str
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
