package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Query validation errors.
var (
	ErrEmptyQuery          = errors.New("health check query cannot be empty")
	ErrQueryNotSelect      = errors.New("health check query must be a SELECT statement")
	ErrQueryForbidden      = errors.New("health check query contains a forbidden keyword")
	ErrQueryMultiStatement = errors.New("health check query cannot contain multiple statements")
)

var forbiddenKeywords = []string{
	"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "CREATE",
	"TRUNCATE", "GRANT", "REVOKE", "EXEC", "EXECUTE",
}

var forbiddenPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(forbiddenKeywords, "|") + `)\b`)

// ValidateQuery accepts a single SELECT statement that contains none of
// the data-modifying or privilege keywords. A single trailing semicolon is
// allowed.
func ValidateQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return ErrEmptyQuery
	}

	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return fmt.Errorf("%w: got %q", ErrQueryNotSelect, truncate(trimmed, 50))
	}

	if m := forbiddenPattern.FindString(trimmed); m != "" {
		return fmt.Errorf("%w: %s", ErrQueryForbidden, strings.ToUpper(m))
	}

	if strings.Contains(strings.TrimSuffix(trimmed, ";"), ";") {
		return ErrQueryMultiStatement
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
