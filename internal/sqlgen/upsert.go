package sqlgen

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	apperrors "dynamic-table/internal/errors"
	"dynamic-table/internal/model"
)

// MaxParams is the bind parameter limit of the Postgres wire protocol.
const MaxParams = 65535

var (
	integerPattern = regexp.MustCompile(`^[+-]?\d+$`)
	numericPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
)

// Statement is a parameterized statement ready for execution.
type Statement struct {
	SQL  string
	Args []interface{}
	// Table, Columns and Keys describe the target of the statement.
	Table   string
	Columns []string
	Keys    []string
	// Rows is the number of value tuples in the statement.
	Rows int
	// Downgraded counts non-empty cells bound as NULL, per column type.
	Downgraded map[model.ColumnType]int
}

// DowngradedTotal sums Downgraded.
func (s *Statement) DowngradedTotal() int {
	total := 0
	for _, n := range s.Downgraded {
		total += n
	}
	return total
}

// Upsert renders one INSERT ... ON CONFLICT statement for all rows. Rows
// sharing a primary key are collapsed to the last occurrence, since Postgres
// refuses to update the same row twice in one statement.
func Upsert(table string, fields model.FieldMap, rows [][]string) (*Statement, error) {
	if err := ValidateFields(table, fields); err != nil {
		return nil, err
	}
	keys := fields.PrimaryKeys()
	if len(keys) == 0 {
		return nil, apperrors.ErrNoPrimaryKey
	}
	if len(rows) == 0 {
		return nil, apperrors.New(apperrors.CategoryValidation, apperrors.CodeInvalidPayload, "upsert requires at least one row")
	}
	if len(fields)*len(rows) > MaxParams {
		return nil, apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidPayload,
			"%d rows of %d columns exceed %d parameters", len(rows), len(fields), MaxParams)
	}

	values, downgraded, err := bindRows(fields, rows)
	if err != nil {
		return nil, err
	}
	values = dedupeByKey(fields, values)

	columns := quoteAll(fields.Names())
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s)\nVALUES ", Quote(table), strings.Join(columns, ", "))

	args := make([]interface{}, 0, len(values)*len(fields))
	for i, row := range values {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j, v := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			args = append(args, v)
			sb.WriteString("$" + strconv.Itoa(len(args)))
		}
		sb.WriteByte(')')
	}

	fmt.Fprintf(&sb, "\nON CONFLICT (%s)", strings.Join(quoteAll(keys), ", "))
	var updates []string
	for _, f := range fields {
		if f.Definition.IsPrimary {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", Quote(f.Name), Quote(f.Name)))
	}
	if len(updates) == 0 {
		sb.WriteString(" DO NOTHING")
	} else {
		sb.WriteString(" DO UPDATE SET " + strings.Join(updates, ", "))
	}

	return &Statement{
		SQL:        sb.String(),
		Args:       args,
		Table:      table,
		Columns:    fields.Names(),
		Keys:       keys,
		Rows:       len(values),
		Downgraded: downgraded,
	}, nil
}

// MaxRowsPerStatement is how many rows of fields fit under MaxParams.
func MaxRowsPerStatement(fields model.FieldMap) int {
	if len(fields) == 0 {
		return 0
	}
	return MaxParams / len(fields)
}

// UpsertChunks splits rows so every statement stays under MaxParams. Each
// statement is idempotent on its own.
func UpsertChunks(table string, fields model.FieldMap, rows [][]string) ([]*Statement, error) {
	size := MaxRowsPerStatement(fields)
	if size == 0 {
		size = 1
	}
	var statements []*Statement
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		stmt, err := Upsert(table, fields, rows[start:end])
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}
	if len(statements) == 0 {
		return nil, apperrors.New(apperrors.CategoryValidation, apperrors.CodeInvalidPayload, "upsert requires at least one row")
	}
	return statements, nil
}

func bindRows(fields model.FieldMap, rows [][]string) ([][]interface{}, map[model.ColumnType]int, error) {
	downgraded := make(map[model.ColumnType]int)
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		if len(row) > len(fields) {
			return nil, nil, apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeRowWidth,
				"row %d has %d cells but only %d fields are defined", i+1, len(row), len(fields))
		}
		values := make([]interface{}, len(fields))
		for j, f := range fields {
			if j >= len(row) {
				continue
			}
			v, lost := CellArg(f.Definition.Type, row[j])
			if lost {
				downgraded[f.Definition.Type]++
			}
			values[j] = v
		}
		out[i] = values
	}
	return out, downgraded, nil
}

func dedupeByKey(fields model.FieldMap, rows [][]interface{}) [][]interface{} {
	var keyIdx []int
	for i, f := range fields {
		if f.Definition.IsPrimary {
			keyIdx = append(keyIdx, i)
		}
	}

	position := make(map[string]int, len(rows))
	out := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		parts := make([]string, len(keyIdx))
		for i, idx := range keyIdx {
			parts[i] = fmt.Sprintf("%T:%v", row[idx], row[idx])
		}
		key := strings.Join(parts, "\x00")
		if pos, ok := position[key]; ok {
			out[pos] = row
			continue
		}
		position[key] = len(out)
		out = append(out, row)
	}
	return out
}

// CellArg converts a raw cell to the bound value for a column of type t.
// Empty cells are NULL for every type. lost is true when a non-empty cell had
// to be bound as NULL because it does not fit the column type.
func CellArg(t model.ColumnType, cell string) (value interface{}, lost bool) {
	if cell == "" {
		return nil, false
	}
	switch t {
	case model.ColumnBoolean:
		return strings.EqualFold(strings.TrimSpace(cell), "true"), false
	case model.ColumnJSONB:
		if json.Valid([]byte(cell)) {
			return cell, false
		}
		return nil, true
	case model.ColumnInteger:
		if v, ok := integerText(cell); ok {
			return v, false
		}
		return nil, true
	case model.ColumnFloat:
		if v := strings.TrimSpace(cell); numericPattern.MatchString(v) {
			return v, false
		}
		return nil, true
	default:
		// TEXT, DATE, TIMESTAMP and TEXT[] are passed through unchanged.
		return cell, false
	}
}

// integerText accepts integer text as is and rounds other numeric text, the
// way Postgres assigns a numeric literal to an integer column.
func integerText(cell string) (string, bool) {
	v := strings.TrimSpace(cell)
	if integerPattern.MatchString(v) {
		return v, true
	}
	if !numericPattern.MatchString(v) {
		return "", false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsInf(f, 0) {
		return "", false
	}
	return strconv.FormatFloat(math.Round(f), 'f', 0, 64), true
}
