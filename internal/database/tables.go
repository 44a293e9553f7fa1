package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"dynamic-table/internal/sqlgen"
)

type pgTableStore struct {
	pool *Pool
}

// NewTableStore returns a TableStore backed by pool. Identifiers are
// validated and quoted and all values are bound.
func NewTableStore(pool *Pool) TableStore {
	return &pgTableStore{pool: pool}
}

func (s *pgTableStore) Rows(ctx context.Context, table string, orderBy []string, limit, offset int) (*RowPage, error) {
	if err := sqlgen.ValidateIdentifier("table", table); err != nil {
		return nil, err
	}
	order := ""
	if len(orderBy) > 0 {
		cols := make([]string, len(orderBy))
		for i, c := range orderBy {
			if err := sqlgen.ValidateIdentifier("column", c); err != nil {
				return nil, err
			}
			cols[i] = sqlgen.Quote(c)
		}
		order = " ORDER BY " + strings.Join(cols, ", ")
	}

	query := fmt.Sprintf("SELECT * FROM %s%s LIMIT $1 OFFSET $2", sqlgen.Quote(table), order)
	rows, err := s.pool.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, ClassifyError(err)
	}
	result, err := collectMaps(rows)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := s.pool.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+sqlgen.Quote(table)).Scan(&total); err != nil {
		return nil, ClassifyError(err)
	}
	return &RowPage{Rows: result, TotalCount: total}, nil
}

func (s *pgTableStore) Search(ctx context.Context, table, column, value string, limit int) ([]map[string]interface{}, error) {
	if err := sqlgen.ValidateIdentifier("table", table); err != nil {
		return nil, err
	}
	if err := sqlgen.ValidateIdentifier("column", column); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT * FROM %s WHERE CAST(%s AS TEXT) ILIKE $1 ESCAPE '\' LIMIT $2`,
		sqlgen.Quote(table), sqlgen.Quote(column))
	rows, err := s.pool.pool.Query(ctx, query, "%"+escapeLike(value)+"%", limit)
	if err != nil {
		return nil, ClassifyError(err)
	}
	return collectMaps(rows)
}

func (s *pgTableStore) UpdateRow(ctx context.Context, table, keyColumn, keyValue string, values map[string]interface{}) (int64, error) {
	if err := sqlgen.ValidateIdentifier("table", table); err != nil {
		return 0, err
	}
	if err := sqlgen.ValidateIdentifier("column", keyColumn); err != nil {
		return 0, err
	}

	columns := make([]string, 0, len(values))
	for c := range values {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	sets := make([]string, 0, len(columns))
	args := make([]interface{}, 0, len(columns)+1)
	for _, c := range columns {
		if err := sqlgen.ValidateIdentifier("column", c); err != nil {
			return 0, err
		}
		arg, err := bindValue(values[c])
		if err != nil {
			return 0, fmt.Errorf("column %q: %w", c, err)
		}
		args = append(args, arg)
		sets = append(sets, fmt.Sprintf("%s = $%d", sqlgen.Quote(c), len(args)))
	}
	if len(sets) == 0 {
		return 0, nil
	}
	args = append(args, keyValue)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		sqlgen.Quote(table), strings.Join(sets, ", "), sqlgen.Quote(keyColumn), len(args))
	tag, err := s.pool.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, ClassifyError(err)
	}
	return tag.RowsAffected(), nil
}

func (s *pgTableStore) DeleteRow(ctx context.Context, table, keyColumn, keyValue string) (int64, error) {
	if err := sqlgen.ValidateIdentifier("table", table); err != nil {
		return 0, err
	}
	if err := sqlgen.ValidateIdentifier("column", keyColumn); err != nil {
		return 0, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", sqlgen.Quote(table), sqlgen.Quote(keyColumn))
	tag, err := s.pool.pool.Exec(ctx, query, keyValue)
	if err != nil {
		return 0, ClassifyError(err)
	}
	return tag.RowsAffected(), nil
}

func collectMaps(rows pgx.Rows) ([]map[string]interface{}, error) {
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, ClassifyError(err)
	}
	if out == nil {
		out = []map[string]interface{}{}
	}
	return out, nil
}

// bindValue turns a decoded JSON value into a text-format argument so it can
// target a column of any type.
func bindValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil, string, bool:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case json.Number:
		return val.String(), nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
