// Package inference guesses a column type for each CSV header from the
// string values sampled under it.
package inference

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"dynamic-table/internal/model"
)

var (
	integerPattern = regexp.MustCompile(`^[+-]?\d+$`)
	decimalPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)
	datePattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// timestampLayouts are the ISO-8601 shapes accepted for TIMESTAMP columns.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05-07",
	"2006-01-02",
}

// Options tunes inference.
type Options struct {
	// SampleLimit caps the number of rows examined. Zero means all rows.
	SampleLimit int
}

// Engine infers column types. The zero value samples every row.
type Engine struct {
	opts Options
}

func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Infer returns the inferred type of every header.
func Infer(headers []string, rows [][]string) map[string]model.ColumnType {
	return (&Engine{}).Infer(headers, rows)
}

func (e *Engine) Infer(headers []string, rows [][]string) map[string]model.ColumnType {
	types := make(map[string]model.ColumnType, len(headers))
	for _, f := range e.InferFields(headers, rows) {
		types[f.Name] = f.Definition.Type
	}
	return types
}

// InferFields returns an ordered field map with the inferred types. No column
// is marked as a key; callers pick the primary key.
func (e *Engine) InferFields(headers []string, rows [][]string) model.FieldMap {
	sample := rows
	if e.opts.SampleLimit > 0 && len(sample) > e.opts.SampleLimit {
		sample = sample[:e.opts.SampleLimit]
	}

	fields := make(model.FieldMap, 0, len(headers))
	for i, header := range headers {
		fields = append(fields, model.Field{
			Name:       header,
			Definition: model.FieldDefinition{Type: classifyColumn(columnValues(sample, i))},
		})
	}
	return fields
}

// columnValues collects the non-empty trimmed cells of column i. Short rows
// count as empty for the missing cells.
func columnValues(rows [][]string, i int) []string {
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if i >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[i]); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func classifyColumn(values []string) model.ColumnType {
	if len(values) == 0 {
		return model.ColumnText
	}

	t := firstMatch(values)

	// A single repeated value is too little evidence for these types.
	switch t {
	case model.ColumnFloat, model.ColumnDate, model.ColumnTimestamp:
		if distinct(values) == 1 {
			return model.ColumnText
		}
	}
	return t
}

func firstMatch(values []string) model.ColumnType {
	switch {
	case all(values, IsInteger):
		return model.ColumnInteger
	case all(values, IsDecimal):
		return model.ColumnFloat
	case all(values, IsBoolean):
		return model.ColumnBoolean
	case all(values, IsDate):
		return model.ColumnDate
	case all(values, IsTimestamp):
		return model.ColumnTimestamp
	case all(values, IsJSON):
		return model.ColumnJSONB
	case all(values, IsArrayLiteral):
		return model.ColumnTextArray
	default:
		return model.ColumnText
	}
}

func all(values []string, pred func(string) bool) bool {
	for _, v := range values {
		if !pred(v) {
			return false
		}
	}
	return true
}

func distinct(values []string) int {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}
	return len(seen)
}

func IsInteger(v string) bool {
	return integerPattern.MatchString(v)
}

func IsDecimal(v string) bool {
	return decimalPattern.MatchString(v)
}

// IsBoolean matches "true" or "false" ignoring case and surrounding space.
// The SQL generator applies the same rule when binding BOOLEAN cells.
func IsBoolean(v string) bool {
	v = strings.TrimSpace(v)
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "false")
}

// IsDate matches a valid calendar date written as YYYY-MM-DD.
func IsDate(v string) bool {
	if !datePattern.MatchString(v) {
		return false
	}
	_, err := time.Parse("2006-01-02", v)
	return err == nil
}

func IsTimestamp(v string) bool {
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

// IsJSON matches JSON object or array text.
func IsJSON(v string) bool {
	if !strings.HasPrefix(v, "{") && !strings.HasPrefix(v, "[") {
		return false
	}
	return json.Valid([]byte(v))
}

// IsArrayLiteral matches a brace delimited Postgres array literal.
func IsArrayLiteral(v string) bool {
	return len(v) >= 2 && strings.HasPrefix(v, "{") && strings.HasSuffix(v, "}")
}
