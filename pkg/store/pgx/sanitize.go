package pgx

import "strings"

// sanitizeText makes a string safe for Postgres text columns: invalid
// UTF-8 sequences are dropped and NUL bytes removed, both of which
// Postgres rejects. Model output occasionally carries either.
func sanitizeText(s string) string {
	if s == "" {
		return s
	}
	return strings.ReplaceAll(strings.ToValidUTF8(s, ""), "\x00", "")
}
