package domain

import "strings"

// ValidateQuery rejects empty or whitespace-only queries. Callers must run
// this before spending an embedding call on the query text.
func ValidateQuery(q string) error {
	if strings.TrimSpace(q) == "" {
		return ErrEmptyQuery
	}
	return nil
}
