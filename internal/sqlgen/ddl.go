// Package sqlgen renders the DDL and DML for dynamic tables. Identifiers are
// allow-listed and quoted, and row values are always bound parameters.
package sqlgen

import (
	"fmt"
	"strings"

	"dynamic-table/internal/model"
)

// Create renders CREATE TABLE for fields in their declared order. A single
// primary key is declared inline; a composite key becomes a table constraint.
func Create(table string, fields model.FieldMap) (string, error) {
	if err := ValidateFields(table, fields); err != nil {
		return "", err
	}

	keys := fields.PrimaryKeys()
	inlineKey := len(keys) == 1

	clauses := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		clause := Quote(f.Name) + " " + string(f.Definition.Type)
		if f.Definition.IsPrimary && inlineKey {
			clause += " PRIMARY KEY"
		}
		if ref := f.Definition.References; f.Definition.IsForeign && ref != nil {
			clause += fmt.Sprintf(" REFERENCES %s(%s)", Quote(ref.Table), Quote(ref.Column))
		}
		clauses = append(clauses, clause)
	}
	if len(keys) > 1 {
		clauses = append(clauses, "PRIMARY KEY ("+strings.Join(quoteAll(keys), ", ")+")")
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", Quote(table), strings.Join(clauses, ",\n  ")), nil
}

// Alter renders one ADD COLUMN per addition followed by one DROP COLUMN per
// removal.
func Alter(table string, toAdd model.FieldMap, toRemove []string) ([]string, error) {
	if err := ValidateIdentifier("table", table); err != nil {
		return nil, err
	}

	statements := make([]string, 0, len(toAdd)+len(toRemove))
	for _, f := range toAdd {
		if err := ValidateIdentifier("column", f.Name); err != nil {
			return nil, err
		}
		if !f.Definition.Type.Valid() {
			return nil, fmt.Errorf("column %q has unsupported type %q", f.Name, f.Definition.Type)
		}
		statements = append(statements,
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s;", Quote(table), Quote(f.Name), f.Definition.Type))
	}
	for _, name := range toRemove {
		if err := ValidateIdentifier("column", name); err != nil {
			return nil, err
		}
		statements = append(statements,
			fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s;", Quote(table), Quote(name)))
	}
	return statements, nil
}
