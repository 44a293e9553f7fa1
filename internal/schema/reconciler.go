// Package schema converges the stored definition and the physical table of a
// dynamic table to an incoming field map.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"dynamic-table/internal/database"
	apperrors "dynamic-table/internal/errors"
	"dynamic-table/internal/metrics"
	"dynamic-table/internal/model"
	"dynamic-table/internal/repository"
	"dynamic-table/internal/sqlgen"
)

// Action is what a reconciliation did to the table.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionAlter  Action = "ALTER"
	ActionNone   Action = "NONE"
)

// Diff is the column level difference between a stored and an incoming map.
// Types of columns present on both sides are not compared.
type Diff struct {
	ToAdd    model.FieldMap `json:"toAdd"`
	ToRemove []string       `json:"toRemove"`
}

func (d Diff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// Compute returns the incoming columns missing from stored, in incoming
// order, and the stored columns missing from incoming, in stored order.
func Compute(stored, incoming model.FieldMap) Diff {
	var d Diff
	for _, f := range incoming {
		if !stored.Has(f.Name) {
			d.ToAdd = append(d.ToAdd, f)
		}
	}
	for _, f := range stored {
		if !incoming.Has(f.Name) {
			d.ToRemove = append(d.ToRemove, f.Name)
		}
	}
	return d
}

// Result describes a finished reconciliation.
type Result struct {
	Action     Action   `json:"action"`
	Diff       Diff     `json:"diff"`
	Statements []string `json:"statements,omitempty"`
}

// Reconciler decides between CREATE, ALTER and no-op for a table and applies
// the decision. With a locker, the decision and the DDL run under a per
// table lock.
type Reconciler struct {
	store  repository.SchemaRepository
	exec   database.Executor
	locker database.TableLocker
	log    *logrus.Entry
}

// NewReconciler creates a Reconciler. locker may be nil.
func NewReconciler(store repository.SchemaRepository, exec database.Executor, locker database.TableLocker, log *logrus.Entry) *Reconciler {
	return &Reconciler{store: store, exec: exec, locker: locker, log: log}
}

// Reconcile converges table to fields.
func (r *Reconciler) Reconcile(ctx context.Context, table string, fields model.FieldMap) (*Result, error) {
	if err := sqlgen.ValidateFields(table, fields); err != nil {
		return nil, err
	}

	if r.locker != nil {
		unlock, err := r.locker.Lock(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to lock table %q: %w", table, err)
		}
		defer unlock()
	}

	existing, err := r.store.GetSchema(ctx, table)
	if errors.Is(err, repository.ErrTableNotFound) {
		return r.create(ctx, table, fields)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFatalStore, apperrors.CodeExecutionFailed,
			"failed to load stored schema", err)
	}
	return r.alter(ctx, table, existing.Fields, fields)
}

func (r *Reconciler) create(ctx context.Context, table string, fields model.FieldMap) (*Result, error) {
	stmt, err := sqlgen.Create(table, fields)
	if err != nil {
		return nil, err
	}
	if err := r.exec.ExecDDL(ctx, []string{stmt}); err != nil {
		if errors.Is(err, apperrors.ErrDuplicateTable) {
			return r.resolveConflict(ctx, table, fields, err)
		}
		return nil, err
	}
	if err := r.store.AppendAuditLog(ctx, table, model.SchemaActionCreate, fields, stmt); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFatalStore, apperrors.CodeExecutionFailed,
			"failed to write schema log", err)
	}
	if err := r.store.CreateSchema(ctx, table, fields); err != nil {
		if errors.Is(err, repository.ErrTableExists) {
			return r.resolveConflict(ctx, table, fields, err)
		}
		return nil, apperrors.Wrap(apperrors.CategoryFatalStore, apperrors.CodeExecutionFailed,
			"failed to store table definition", err)
	}

	r.log.WithFields(logrus.Fields{"table": table, "columns": len(fields)}).Info("created table")
	metrics.RecordSchemaChange(string(ActionCreate))
	return &Result{Action: ActionCreate, Diff: Diff{ToAdd: fields}, Statements: []string{stmt}}, nil
}

func (r *Reconciler) alter(ctx context.Context, table string, stored, incoming model.FieldMap) (*Result, error) {
	diff := Compute(stored, incoming)
	if diff.Empty() {
		metrics.RecordSchemaChange(string(ActionNone))
		return &Result{Action: ActionNone}, nil
	}

	statements, err := sqlgen.Alter(table, diff.ToAdd, diff.ToRemove)
	if err != nil {
		return nil, err
	}
	if err := r.exec.ExecDDL(ctx, statements); err != nil {
		return nil, err
	}
	if err := r.store.AppendAuditLog(ctx, table, model.SchemaActionAlter, incoming, strings.Join(statements, "\n")); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFatalStore, apperrors.CodeExecutionFailed,
			"failed to write schema log", err)
	}
	if err := r.store.UpdateSchema(ctx, table, incoming); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFatalStore, apperrors.CodeExecutionFailed,
			"failed to store table definition", err)
	}

	r.log.WithFields(logrus.Fields{
		"table":   table,
		"added":   diff.ToAdd.Names(),
		"removed": diff.ToRemove,
	}).Info("altered table")
	metrics.RecordSchemaChange(string(ActionAlter))
	return &Result{Action: ActionAlter, Diff: diff, Statements: statements}, nil
}

// resolveConflict handles losing a CREATE race. When the winner stored the
// same columns there is nothing left to do. A table with no stored record is
// left over from a create whose bookkeeping failed, and is adopted.
func (r *Reconciler) resolveConflict(ctx context.Context, table string, fields model.FieldMap, cause error) (*Result, error) {
	existing, err := r.store.GetSchema(ctx, table)
	if errors.Is(err, repository.ErrTableNotFound) && errors.Is(cause, apperrors.ErrDuplicateTable) {
		return r.adopt(ctx, table, fields)
	}
	if err == nil && Compute(existing.Fields, fields).Empty() {
		r.log.WithField("table", table).Info("table created concurrently with the same columns")
		metrics.RecordSchemaChange(string(ActionNone))
		return &Result{Action: ActionNone}, nil
	}
	return nil, apperrors.Wrap(apperrors.CategoryConflict, apperrors.CodeSchemaConflict,
		fmt.Sprintf("table %q was created concurrently with different columns", table), cause)
}

// adopt records an existing table that has no stored definition, using the
// incoming columns. The CREATE statement is logged as if it had just run.
func (r *Reconciler) adopt(ctx context.Context, table string, fields model.FieldMap) (*Result, error) {
	stmt, err := sqlgen.Create(table, fields)
	if err != nil {
		return nil, err
	}
	if err := r.store.AppendAuditLog(ctx, table, model.SchemaActionCreate, fields, stmt); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryFatalStore, apperrors.CodeExecutionFailed,
			"failed to write schema log", err)
	}
	if err := r.store.CreateSchema(ctx, table, fields); err != nil {
		if errors.Is(err, repository.ErrTableExists) {
			return r.resolveConflict(ctx, table, fields, err)
		}
		return nil, apperrors.Wrap(apperrors.CategoryFatalStore, apperrors.CodeExecutionFailed,
			"failed to store table definition", err)
	}

	r.log.WithFields(logrus.Fields{"table": table, "columns": len(fields)}).Warn("adopted table with no stored definition")
	metrics.RecordSchemaChange(string(ActionCreate))
	return &Result{Action: ActionCreate, Diff: Diff{ToAdd: fields}}, nil
}
