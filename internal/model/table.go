package model

import (
	"time"

	"gorm.io/datatypes"
)

// SchemaAction is the kind of DDL a reconciliation ran.
type SchemaAction string

const (
	SchemaActionCreate SchemaAction = "CREATE"
	SchemaActionAlter  SchemaAction = "ALTER"
)

// TableDefinition is the stored, authoritative field map of a dynamic table.
type TableDefinition struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Table     string    `json:"tableName" gorm:"column:table_name;size:63;not null;uniqueIndex"`
	Fields    FieldMap  `json:"fields" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (TableDefinition) TableName() string {
	return "data_table_definitions"
}

// SchemaLog is an append-only audit entry written once per reconciliation
// that changed a table.
type SchemaLog struct {
	ID            uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	Table         string         `json:"tableName" gorm:"column:table_name;size:63;not null;index"`
	Action        SchemaAction   `json:"action" gorm:"size:16;not null"`
	Fields        datatypes.JSON `json:"fields"`
	ExecutedQuery string         `json:"executedQuery" gorm:"type:text"`
	CreatedAt     time.Time      `json:"createdAt"`
}

func (SchemaLog) TableName() string {
	return "schema_logs"
}
