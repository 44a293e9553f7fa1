package service

import (
	"context"
	"errors"
	"fmt"

	"dynamic-table/internal/database"
	apperrors "dynamic-table/internal/errors"
	"dynamic-table/internal/model"
	"dynamic-table/internal/repository"
	"dynamic-table/internal/sqlgen"
)

const (
	DefaultRowLimit = 100
	MaxRowLimit     = 1000
	SearchLimit     = 100
)

// TableService browses and edits the synced dynamic tables. Only tables and
// columns known to the stored schema can be addressed.
type TableService interface {
	ListTables(ctx context.Context) ([]TableSummary, error)
	GetSchema(ctx context.Context, table string) (*model.TableDefinition, error)
	GetRows(ctx context.Context, table string, limit, offset int) (*RowsResponse, error)
	Search(ctx context.Context, table, column, value string) ([]map[string]interface{}, error)
	UpdateRow(ctx context.Context, table, key string, values map[string]interface{}) (*RowChange, error)
	DeleteRow(ctx context.Context, table, key string) (*RowChange, error)
	AuditLog(ctx context.Context, table string) ([]*model.SchemaLog, error)
}

type TableSummary struct {
	TableName string `json:"tableName"`
}

type RowsResponse struct {
	Rows       []map[string]interface{} `json:"rows"`
	PrimaryKey *string                  `json:"primaryKey"`
	TotalCount int64                    `json:"totalCount"`
}

type RowChange struct {
	Message    string `json:"message"`
	PrimaryKey string `json:"primaryKey"`
	Value      string `json:"value"`
}

type tableService struct {
	schemas repository.SchemaRepository
	rows    database.TableStore
}

// NewTableService creates a new instance of TableService
func NewTableService(schemas repository.SchemaRepository, rows database.TableStore) TableService {
	return &tableService{schemas: schemas, rows: rows}
}

func (s *tableService) ListTables(ctx context.Context) ([]TableSummary, error) {
	names, err := s.schemas.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TableSummary, len(names))
	for i, n := range names {
		out[i] = TableSummary{TableName: n}
	}
	return out, nil
}

func (s *tableService) GetSchema(ctx context.Context, table string) (*model.TableDefinition, error) {
	if err := sqlgen.ValidateIdentifier("table", table); err != nil {
		return nil, err
	}
	def, err := s.schemas.GetSchema(ctx, table)
	if errors.Is(err, repository.ErrTableNotFound) {
		return nil, apperrors.Wrap(apperrors.CategoryNotFound, apperrors.CodeTableNotFound,
			fmt.Sprintf("table %q not found", table), err)
	}
	return def, err
}

// GetRows pages through a table ordered by its primary key.
func (s *tableService) GetRows(ctx context.Context, table string, limit, offset int) (*RowsResponse, error) {
	def, err := s.GetSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRowLimit
	}
	if limit > MaxRowLimit {
		limit = MaxRowLimit
	}
	if offset < 0 {
		offset = 0
	}

	keys := def.Fields.PrimaryKeys()
	page, err := s.rows.Rows(ctx, table, keys, limit, offset)
	if err != nil {
		return nil, err
	}
	resp := &RowsResponse{Rows: page.Rows, TotalCount: page.TotalCount}
	if len(keys) > 0 {
		resp.PrimaryKey = &keys[0]
	}
	return resp, nil
}

func (s *tableService) Search(ctx context.Context, table, column, value string) ([]map[string]interface{}, error) {
	if column == "" || value == "" {
		return nil, apperrors.New(apperrors.CategoryValidation, apperrors.CodeInvalidPayload, "missing 'column' or 'value'")
	}
	def, err := s.GetSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	if !def.Fields.Has(column) {
		return nil, apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidIdentifier,
			"table %q has no column %q", table, column)
	}
	return s.rows.Search(ctx, table, column, value, SearchLimit)
}

func (s *tableService) UpdateRow(ctx context.Context, table, key string, values map[string]interface{}) (*RowChange, error) {
	def, pk, err := s.keyed(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, apperrors.New(apperrors.CategoryValidation, apperrors.CodeInvalidPayload, "no columns to update")
	}
	for c := range values {
		if !def.Fields.Has(c) {
			return nil, apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidIdentifier,
				"table %q has no column %q", table, c)
		}
	}

	n, err := s.rows.UpdateRow(ctx, table, pk, key, values)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, rowNotFound(pk, key)
	}
	return &RowChange{Message: fmt.Sprintf("Row with %s=%s updated.", pk, key), PrimaryKey: pk, Value: key}, nil
}

func (s *tableService) DeleteRow(ctx context.Context, table, key string) (*RowChange, error) {
	_, pk, err := s.keyed(ctx, table)
	if err != nil {
		return nil, err
	}
	n, err := s.rows.DeleteRow(ctx, table, pk, key)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, rowNotFound(pk, key)
	}
	return &RowChange{Message: fmt.Sprintf("Row with %s=%s deleted.", pk, key), PrimaryKey: pk, Value: key}, nil
}

func (s *tableService) AuditLog(ctx context.Context, table string) ([]*model.SchemaLog, error) {
	if _, err := s.GetSchema(ctx, table); err != nil {
		return nil, err
	}
	return s.schemas.ListAuditLog(ctx, table)
}

// keyed loads the schema and its addressing column. Rows of composite key
// tables are addressed by the first key column.
func (s *tableService) keyed(ctx context.Context, table string) (*model.TableDefinition, string, error) {
	def, err := s.GetSchema(ctx, table)
	if err != nil {
		return nil, "", err
	}
	keys := def.Fields.PrimaryKeys()
	if len(keys) == 0 {
		return nil, "", apperrors.ErrNoPrimaryKey
	}
	return def, keys[0], nil
}

func rowNotFound(pk, key string) error {
	return apperrors.Newf(apperrors.CategoryNotFound, apperrors.CodeRowNotFound, "no row with %s=%s", pk, key)
}
