package schema

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynamic-table/internal/database/dbtest"
	apperrors "dynamic-table/internal/errors"
	"dynamic-table/internal/model"
	"dynamic-table/internal/repository"
)

type auditEntry struct {
	table  string
	action model.SchemaAction
	fields model.FieldMap
	query  string
}

type fakeSchemaStore struct {
	mu      sync.Mutex
	schemas map[string]model.FieldMap
	audit   []auditEntry
	updates int
	creates int

	// beforeCreate runs inside CreateSchema before the existence check.
	beforeCreate func()
	// auditFailures makes the next AppendAuditLog calls fail.
	auditFailures int
}

func newFakeSchemaStore() *fakeSchemaStore {
	return &fakeSchemaStore{schemas: make(map[string]model.FieldMap)}
}

func (f *fakeSchemaStore) GetSchema(ctx context.Context, table string) (*model.TableDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fields, ok := f.schemas[table]
	if !ok {
		return nil, repository.ErrTableNotFound
	}
	return &model.TableDefinition{Table: table, Fields: fields}, nil
}

func (f *fakeSchemaStore) CreateSchema(ctx context.Context, table string, fields model.FieldMap) error {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if _, ok := f.schemas[table]; ok {
		return repository.ErrTableExists
	}
	f.schemas[table] = fields
	return nil
}

func (f *fakeSchemaStore) UpdateSchema(ctx context.Context, table string, fields model.FieldMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	f.schemas[table] = fields
	return nil
}

func (f *fakeSchemaStore) AppendAuditLog(ctx context.Context, table string, action model.SchemaAction, fields model.FieldMap, query string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auditFailures > 0 {
		f.auditFailures--
		return errors.New("connection reset")
	}
	f.audit = append(f.audit, auditEntry{table, action, fields, query})
	return nil
}

func (f *fakeSchemaStore) ListTables(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeSchemaStore) ListAuditLog(ctx context.Context, table string) ([]*model.SchemaLog, error) {
	return nil, nil
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func text(names ...string) model.FieldMap {
	fields := make(model.FieldMap, len(names))
	for i, n := range names {
		fields[i] = model.Field{Name: n, Definition: model.FieldDefinition{Type: model.ColumnText, IsPrimary: n == "id"}}
	}
	return fields
}

func TestCompute(t *testing.T) {
	d := Compute(text("a", "b"), text("b", "c"))
	assert.Equal(t, []string{"c"}, d.ToAdd.Names())
	assert.Equal(t, []string{"a"}, d.ToRemove)
	assert.False(t, d.Empty())

	assert.True(t, Compute(text("a", "b"), text("b", "a")).Empty(), "order alone is not a change")
}

func TestReconcileCreatesAbsentTable(t *testing.T) {
	store := newFakeSchemaStore()
	db := dbtest.NewStore()
	r := NewReconciler(store, db, dbtest.NewLocker(), testLogger())

	res, err := r.Reconcile(context.Background(), "people", text("id", "name"))
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, res.Action)

	assert.True(t, db.HasTable("people"))
	assert.Equal(t, []string{"id", "name"}, db.Columns("people"))
	require.Len(t, store.audit, 1)
	assert.Equal(t, model.SchemaActionCreate, store.audit[0].action)
	assert.Contains(t, store.audit[0].query, `CREATE TABLE "people"`)
	assert.Equal(t, []string{"id", "name"}, store.schemas["people"].Names())
}

func TestReconcileAltersToIncomingMap(t *testing.T) {
	store := newFakeSchemaStore()
	db := dbtest.NewStore()
	r := NewReconciler(store, db, nil, testLogger())
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "t", text("id", "a", "b"))
	require.NoError(t, err)

	res, err := r.Reconcile(ctx, "t", text("id", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, ActionAlter, res.Action)
	assert.Equal(t, []string{"c"}, res.Diff.ToAdd.Names())
	assert.Equal(t, []string{"a"}, res.Diff.ToRemove)
	assert.Equal(t, []string{
		`ALTER TABLE "t" ADD COLUMN "c" TEXT;`,
		`ALTER TABLE "t" DROP COLUMN "a";`,
	}, res.Statements)

	assert.Equal(t, []string{"id", "b", "c"}, store.schemas["t"].Names(), "incoming map becomes authoritative")
	assert.Equal(t, []string{"id", "b", "c"}, db.Columns("t"))
	require.Len(t, store.audit, 2)
	assert.Equal(t, model.SchemaActionAlter, store.audit[1].action)
	assert.Equal(t, 1, store.updates)
}

func TestReconcileIdenticalSchemaIsNoOp(t *testing.T) {
	store := newFakeSchemaStore()
	db := dbtest.NewStore()
	r := NewReconciler(store, db, nil, testLogger())
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "t", text("id", "a"))
	require.NoError(t, err)
	ddlBefore := len(db.DDL)

	res, err := r.Reconcile(ctx, "t", text("id", "a"))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.Len(t, db.DDL, ddlBefore, "no DDL")
	assert.Len(t, store.audit, 1, "no audit entry")
	assert.Equal(t, 0, store.updates, "no schema update")
}

func TestReconcileRejectsInvalidNames(t *testing.T) {
	store := newFakeSchemaStore()
	db := dbtest.NewStore()
	r := NewReconciler(store, db, nil, testLogger())

	_, err := r.Reconcile(context.Background(), `x"; DROP TABLE y; --`, text("id"))
	assert.Equal(t, apperrors.CategoryValidation, apperrors.GetCategory(err))
	assert.Empty(t, db.DDL)
}

func TestReconcileDDLFailureIsSurfaced(t *testing.T) {
	store := newFakeSchemaStore()
	db := dbtest.NewStore()
	db.DDLHook = func([]string) error { return errors.New("disk full") }
	r := NewReconciler(store, db, nil, testLogger())

	_, err := r.Reconcile(context.Background(), "t", text("id"))
	assert.Equal(t, apperrors.CategoryFatalStore, apperrors.GetCategory(err))
	assert.Empty(t, store.audit)
	assert.Empty(t, store.schemas)
}

func TestReconcileLosingCreateRaceWithSameColumns(t *testing.T) {
	store := newFakeSchemaStore()
	db := dbtest.NewStore()
	r := NewReconciler(store, db, nil, testLogger())
	ctx := context.Background()

	// Another writer created the table and its record first.
	require.NoError(t, db.ExecDDL(ctx, []string{"CREATE TABLE \"t\" (\n  \"id\" TEXT PRIMARY KEY\n);"}))
	store.schemas["t"] = text("id")

	// The stale reader saw no record, so simulate that path directly.
	res, err := r.create(ctx, "t", text("id"))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
}

func TestReconcileLosingCreateRaceWithDifferentColumns(t *testing.T) {
	store := newFakeSchemaStore()
	db := dbtest.NewStore()
	r := NewReconciler(store, db, nil, testLogger())
	ctx := context.Background()

	require.NoError(t, db.ExecDDL(ctx, []string{"CREATE TABLE \"t\" (\n  \"id\" TEXT PRIMARY KEY\n);"}))
	store.schemas["t"] = text("id", "other")

	_, err := r.create(ctx, "t", text("id"))
	assert.True(t, errors.Is(err, apperrors.ErrSchemaConflict))
}

func TestReconcileRecordRaceAfterDDL(t *testing.T) {
	store := newFakeSchemaStore()
	db := dbtest.NewStore()
	r := NewReconciler(store, db, nil, testLogger())

	store.beforeCreate = func() {
		store.mu.Lock()
		store.schemas["t"] = text("id")
		store.mu.Unlock()
	}

	res, err := r.Reconcile(context.Background(), "t", text("id"))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
}

func TestReconcileAdoptsTableLeftByFailedBookkeeping(t *testing.T) {
	store := newFakeSchemaStore()
	store.auditFailures = 1
	db := dbtest.NewStore()
	r := NewReconciler(store, db, dbtest.NewLocker(), testLogger())
	ctx := context.Background()

	_, err := r.Reconcile(ctx, "t", text("id", "v"))
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryFatalStore, apperrors.GetCategory(err))
	assert.Equal(t, []string{"id", "v"}, db.Columns("t"))
	assert.Empty(t, store.schemas)

	// The redelivered batch finds the table but no record of it.
	res, err := r.Reconcile(ctx, "t", text("id", "v"))
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, res.Action)
	assert.Equal(t, text("id", "v"), store.schemas["t"])
	require.Len(t, store.audit, 1)
	assert.Equal(t, model.SchemaActionCreate, store.audit[0].action)

	res, err = r.Reconcile(ctx, "t", text("id", "v"))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
}

func TestReconcileConcurrentFirstBatchesConverge(t *testing.T) {
	store := newFakeSchemaStore()
	db := dbtest.NewStore()
	locker := dbtest.NewLocker()
	r := NewReconciler(store, db, locker, testLogger())

	var wg sync.WaitGroup
	errs := make([]error, 8)
	actions := make([]Action, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Reconcile(context.Background(), "t", text("id", "v"))
			errs[i] = err
			if res != nil {
				actions[i] = res.Action
			}
		}(i)
	}
	wg.Wait()

	creates := 0
	for i, err := range errs {
		require.NoError(t, err)
		if actions[i] == ActionCreate {
			creates++
		}
	}
	assert.Equal(t, 1, creates)
	assert.Len(t, store.audit, 1)
	assert.Equal(t, 8, locker.Acquired)
}
