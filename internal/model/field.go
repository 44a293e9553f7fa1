package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Reference points a foreign key column at another table's column.
type Reference struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// FieldDefinition describes one column of a dynamic table.
type FieldDefinition struct {
	Type       ColumnType `json:"type"`
	IsPrimary  bool       `json:"isPrimary"`
	IsForeign  bool       `json:"isForeign"`
	References *Reference `json:"references,omitempty"`
}

// Field is a named column definition.
type Field struct {
	Name       string
	Definition FieldDefinition
}

// FieldMap is an ordered set of columns keyed by name. Its JSON form is an
// object whose key order is preserved in both directions, because column
// order decides how row cells line up with columns.
type FieldMap []Field

// Names returns the column names in order.
func (m FieldMap) Names() []string {
	names := make([]string, len(m))
	for i, f := range m {
		names[i] = f.Name
	}
	return names
}

// Get returns the definition for name.
func (m FieldMap) Get(name string) (FieldDefinition, bool) {
	for _, f := range m {
		if f.Name == name {
			return f.Definition, true
		}
	}
	return FieldDefinition{}, false
}

// Has reports whether the map contains a column called name.
func (m FieldMap) Has(name string) bool {
	_, ok := m.Get(name)
	return ok
}

// PrimaryKeys returns the names of the primary key columns in order.
func (m FieldMap) PrimaryKeys() []string {
	var keys []string
	for _, f := range m {
		if f.Definition.IsPrimary {
			keys = append(keys, f.Name)
		}
	}
	return keys
}

// Equal compares two maps including column order.
func (m FieldMap) Equal(other FieldMap) bool {
	if len(m) != len(other) {
		return false
	}
	for i := range m {
		a, b := m[i], other[i]
		if a.Name != b.Name || a.Definition.Type != b.Definition.Type ||
			a.Definition.IsPrimary != b.Definition.IsPrimary ||
			a.Definition.IsForeign != b.Definition.IsForeign {
			return false
		}
		if (a.Definition.References == nil) != (b.Definition.References == nil) {
			return false
		}
		if a.Definition.References != nil && *a.Definition.References != *b.Definition.References {
			return false
		}
	}
	return true
}

// MarshalJSON writes the map as a JSON object in column order.
func (m FieldMap) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		def, err := json.Marshal(f.Definition)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(def)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping key order and rejecting
// duplicate column names.
func (m *FieldMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("fields must be a JSON object")
	}

	out := FieldMap{}
	seen := make(map[string]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in fields", tok)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate column %q in fields", name)
		}
		seen[name] = struct{}{}

		var def FieldDefinition
		if err := dec.Decode(&def); err != nil {
			return fmt.Errorf("column %q: %w", name, err)
		}
		out = append(out, Field{Name: name, Definition: def})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

// Value implements driver.Valuer so a FieldMap can be stored in a text column.
func (m FieldMap) Value() (driver.Value, error) {
	b, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *FieldMap) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return m.UnmarshalJSON(v)
	case string:
		return m.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into FieldMap", value)
	}
}
