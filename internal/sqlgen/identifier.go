package sqlgen

import (
	"regexp"

	"github.com/lib/pq"

	apperrors "dynamic-table/internal/errors"
	"dynamic-table/internal/model"
)

// MaxIdentifierLength is the Postgres NAMEDATALEN limit minus the terminator.
const MaxIdentifierLength = 63

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name may be used as a table or column name.
func ValidIdentifier(name string) bool {
	return len(name) <= MaxIdentifierLength && identifierPattern.MatchString(name)
}

// ValidateIdentifier returns a validation error naming kind when name is not
// an allowed identifier.
func ValidateIdentifier(kind, name string) error {
	if !ValidIdentifier(name) {
		return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidIdentifier,
			"invalid %s name %q: must match %s and be at most %d bytes",
			kind, name, identifierPattern.String(), MaxIdentifierLength)
	}
	return nil
}

// ValidateFields checks the table name, every column name, every column type
// and every foreign key reference.
func ValidateFields(table string, fields model.FieldMap) error {
	if err := ValidateIdentifier("table", table); err != nil {
		return err
	}
	if len(fields) == 0 {
		return apperrors.New(apperrors.CategoryValidation, apperrors.CodeInvalidPayload, "at least one field is required")
	}
	for _, f := range fields {
		if err := ValidateIdentifier("column", f.Name); err != nil {
			return err
		}
		if !f.Definition.Type.Valid() {
			return apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidPayload,
				"column %q has unsupported type %q", f.Name, f.Definition.Type)
		}
		if ref := f.Definition.References; f.Definition.IsForeign && ref != nil {
			if err := ValidateIdentifier("referenced table", ref.Table); err != nil {
				return err
			}
			if err := ValidateIdentifier("referenced column", ref.Column); err != nil {
				return err
			}
		}
	}
	return nil
}

// Quote quotes an identifier for Postgres.
func Quote(name string) string {
	return pq.QuoteIdentifier(name)
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Quote(n)
	}
	return out
}
