package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ColumnType is the closed set of column types a dynamic table may carry.
// The string value is the Postgres type name used in DDL.
type ColumnType string

const (
	ColumnInteger   ColumnType = "INTEGER"
	ColumnFloat     ColumnType = "FLOAT"
	ColumnBoolean   ColumnType = "BOOLEAN"
	ColumnDate      ColumnType = "DATE"
	ColumnTimestamp ColumnType = "TIMESTAMP"
	ColumnJSONB     ColumnType = "JSONB"
	ColumnText      ColumnType = "TEXT"
	ColumnTextArray ColumnType = "TEXT[]"
)

// ColumnTypes lists every supported type in inference order.
var ColumnTypes = []ColumnType{
	ColumnInteger,
	ColumnFloat,
	ColumnBoolean,
	ColumnDate,
	ColumnTimestamp,
	ColumnJSONB,
	ColumnTextArray,
	ColumnText,
}

// ParseColumnType accepts the SQL spelling in any case, plus TEXT-ARRAY.
func ParseColumnType(s string) (ColumnType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	if normalized == "TEXT-ARRAY" {
		return ColumnTextArray, nil
	}
	for _, t := range ColumnTypes {
		if string(t) == normalized {
			return t, nil
		}
	}
	return "", fmt.Errorf("unsupported column type %q", s)
}

// Valid reports whether t is one of the supported column types.
func (t ColumnType) Valid() bool {
	for _, known := range ColumnTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsNumeric reports whether values of this type are rendered as numbers.
func (t ColumnType) IsNumeric() bool {
	return t == ColumnInteger || t == ColumnFloat
}

func (t *ColumnType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("column type must be a string: %w", err)
	}
	parsed, err := ParseColumnType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
