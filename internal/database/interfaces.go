package database

import (
	"context"

	"dynamic-table/internal/sqlgen"
)

// Executor runs generated statements against the store holding the dynamic
// tables. Errors are classified: a missing relation is transient, a duplicate
// table is a conflict, everything else is fatal.
type Executor interface {
	// ExecDDL runs the statements in one transaction.
	ExecDDL(ctx context.Context, statements []string) error
	// ExecUpsert runs one upsert and returns the rows affected.
	ExecUpsert(ctx context.Context, stmt *sqlgen.Statement) (int64, error)
}

// TableLocker serializes schema changes per table name across processes.
type TableLocker interface {
	Lock(ctx context.Context, table string) (unlock func(), err error)
}

// RowPage is one page of rows from a dynamic table.
type RowPage struct {
	Rows       []map[string]interface{} `json:"rows"`
	TotalCount int64                    `json:"totalCount"`
}

// TableStore reads and edits rows of dynamic tables.
type TableStore interface {
	Rows(ctx context.Context, table string, orderBy []string, limit, offset int) (*RowPage, error)
	Search(ctx context.Context, table, column, value string, limit int) ([]map[string]interface{}, error)
	UpdateRow(ctx context.Context, table, keyColumn, keyValue string, values map[string]interface{}) (int64, error)
	DeleteRow(ctx context.Context, table, keyColumn, keyValue string) (int64, error)
}
