// Package sql screens the identifiers that connector strategies must splice
// into statements. Values are always bound as parameters; schema, table and
// column names cannot be, so they are validated here before quoting.
package sql

import (
	"fmt"
	"regexp"

	libinjection "github.com/corazawaf/libinjection-go"
)

// MaxIdentifierLength is the longest identifier accepted for any dialect.
// Oracle 12.2+ and MSSQL allow 128; Postgres truncates at 63, which it does
// silently and is therefore tolerated.
const MaxIdentifierLength = 128

// Letters (any script), digits, underscore, space and hyphen. Quote characters,
// brackets, semicolons and dots are never allowed inside a single identifier.
var identifierPattern = regexp.MustCompile(`^[\p{L}_][\p{L}\p{N}_ \-$]*$`)

// IdentifierError describes why an identifier was rejected.
type IdentifierError struct {
	Kind        string // "column", "table", "schema"
	Name        string
	Reason      string
	Fingerprint string // libinjection fingerprint when the screen fired
}

func (e *IdentifierError) Error() string {
	return fmt.Sprintf("invalid %s name %q: %s", e.Kind, e.Name, e.Reason)
}

// CheckIdentifier validates a single schema, table or column name.
// Returns nil when the name is safe to quote and splice into a statement.
func CheckIdentifier(kind, name string) error {
	if name == "" {
		return &IdentifierError{Kind: kind, Name: name, Reason: "must not be empty"}
	}
	if len(name) > MaxIdentifierLength {
		return &IdentifierError{Kind: kind, Name: name, Reason: fmt.Sprintf("longer than %d characters", MaxIdentifierLength)}
	}
	if !identifierPattern.MatchString(name) {
		return &IdentifierError{Kind: kind, Name: name, Reason: "contains characters that are not allowed"}
	}
	if isSQLi, fingerprint := libinjection.IsSQLi(name); isSQLi {
		return &IdentifierError{Kind: kind, Name: name, Reason: "looks like SQL injection", Fingerprint: string(fingerprint)}
	}
	return nil
}

// CheckQualifiedName validates an optional schema and a table.
func CheckQualifiedName(schema, table string) error {
	if schema != "" {
		if err := CheckIdentifier("schema", schema); err != nil {
			return err
		}
	}
	return CheckIdentifier("table", table)
}
