package repository

import (
	"context"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"dynamic-table/internal/model"
)

type schemaRepository struct {
	db *gorm.DB
}

// NewSchemaRepository creates a new instance of SchemaRepository
func NewSchemaRepository(db *gorm.DB) SchemaRepository {
	return &schemaRepository{db: db}
}

// GetSchema retrieves the stored definition of a table
func (r *schemaRepository) GetSchema(ctx context.Context, table string) (*model.TableDefinition, error) {
	var def model.TableDefinition
	result := r.db.WithContext(ctx).Where("table_name = ?", table).First(&def)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTableNotFound
		}
		return nil, result.Error
	}
	return &def, nil
}

// CreateSchema records a table definition for the first time
func (r *schemaRepository) CreateSchema(ctx context.Context, table string, fields model.FieldMap) error {
	err := r.db.WithContext(ctx).Create(&model.TableDefinition{Table: table, Fields: fields}).Error
	if err != nil && isDuplicateKey(err) {
		return ErrTableExists
	}
	return err
}

// UpdateSchema replaces the stored field map; the incoming map is authoritative
func (r *schemaRepository) UpdateSchema(ctx context.Context, table string, fields model.FieldMap) error {
	result := r.db.WithContext(ctx).Model(&model.TableDefinition{}).
		Where("table_name = ?", table).
		Update("fields", fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTableNotFound
	}
	return nil
}

// AppendAuditLog writes one schema change entry
func (r *schemaRepository) AppendAuditLog(ctx context.Context, table string, action model.SchemaAction, fields model.FieldMap, query string) error {
	snapshot, err := fields.MarshalJSON()
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&model.SchemaLog{
		Table:         table,
		Action:        action,
		Fields:        datatypes.JSON(snapshot),
		ExecutedQuery: query,
	}).Error
}

// ListTables returns the names of all synced tables
func (r *schemaRepository) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Model(&model.TableDefinition{}).
		Order("table_name ASC").
		Pluck("table_name", &names).Error
	return names, err
}

// ListAuditLog returns the change log of a table, oldest first
func (r *schemaRepository) ListAuditLog(ctx context.Context, table string) ([]*model.SchemaLog, error) {
	var logs []*model.SchemaLog
	err := r.db.WithContext(ctx).Where("table_name = ?", table).Order("id ASC").Find(&logs).Error
	return logs, err
}
