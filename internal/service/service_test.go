package service

import (
	"context"
	"io"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynamic-table/internal/database"
	"dynamic-table/internal/database/dbtest"
	apperrors "dynamic-table/internal/errors"
	"dynamic-table/internal/inference"
	"dynamic-table/internal/ingest"
	"dynamic-table/internal/model"
	"dynamic-table/internal/queue"
	"dynamic-table/internal/repository"
)

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestNotificationLifecycle(t *testing.T) {
	svc := NewNotificationService(repository.NewNotificationRepository(dbtest.OpenMetadata(t)))
	ctx := context.Background()

	n, err := svc.Create(ctx, "Uploading 'people' to server", "people", "people-1")
	require.NoError(t, err)
	assert.Equal(t, model.NotificationPending, n.Status)

	changed, err := svc.MarkCreatedByKey(ctx, "people-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	changed, err = svc.MarkCreatedByKey(ctx, "people-1")
	require.NoError(t, err)
	assert.Zero(t, changed, "CREATED only from PENDING")

	changed, err = svc.MarkFailedByKey(ctx, "people-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	changed, err = svc.MarkCreatedByKey(ctx, "people-1")
	require.NoError(t, err)
	assert.Zero(t, changed, "FAILED is sticky")

	changed, err = svc.MarkRecoveredByKey(ctx, "people-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed, "replay recovers FAILED")

	changed, err = svc.MarkRecoveredByKey(ctx, "people-1")
	require.NoError(t, err)
	assert.Zero(t, changed)

	read, err := svc.MarkRead(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)

	_, err = svc.MarkRead(ctx, 9999)
	assert.Equal(t, apperrors.CategoryNotFound, apperrors.GetCategory(err))

	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.NotificationCreated, all[0].Status)
}

type recordingIngester struct {
	batches []*model.Batch
	err     error
}

func (r *recordingIngester) Ingest(ctx context.Context, batch *model.Batch) (*ingest.Result, error) {
	r.batches = append(r.batches, batch)
	if r.err != nil {
		return nil, r.err
	}
	return &ingest.Result{Table: batch.CsvName, State: ingest.StateSucceeded, RowsAffected: int64(len(batch.Rows))}, nil
}

type nopNotifier struct{ created int }

func (n *nopNotifier) Create(ctx context.Context, message, table, key string) (*model.Notification, error) {
	n.created++
	return &model.Notification{NotificationKey: key}, nil
}
func (n *nopNotifier) MarkCreatedByKey(context.Context, string) (int64, error)   { return 1, nil }
func (n *nopNotifier) MarkFailedByKey(context.Context, string) (int64, error)    { return 1, nil }
func (n *nopNotifier) MarkRecoveredByKey(context.Context, string) (int64, error) { return 1, nil }

func upload(rows int) *model.Upload {
	u := &model.Upload{
		CsvName: "people",
		Fields: model.FieldMap{
			{Name: "id", Definition: model.FieldDefinition{Type: model.ColumnInteger, IsPrimary: true}},
		},
	}
	for i := 0; i < rows; i++ {
		u.Rows = append(u.Rows, []string{strconv.Itoa(i)})
	}
	return u
}

func TestUploadRouting(t *testing.T) {
	ing := &recordingIngester{}
	broker := queue.NewMemoryBroker()
	notifier := &nopNotifier{}
	svc := NewUploadService(ing, queue.NewDispatcher(broker, notifier, queue.DispatcherConfig{}, quietLog()))
	ctx := context.Background()

	res, err := svc.Route(ctx, upload(50))
	require.NoError(t, err)
	assert.Equal(t, ModeInline, res.Mode)
	require.Len(t, ing.batches, 1)
	assert.True(t, ing.batches[0].IsFirstBatch)

	res, err = svc.Route(ctx, upload(51))
	require.NoError(t, err)
	assert.Equal(t, ModeQueued, res.Mode)
	assert.Equal(t, 2, res.Dispatch.Batches)
	assert.Equal(t, 2, broker.Pending())
	assert.Equal(t, 1, notifier.created)
}

func TestUploadSyncHonoursFirstBatchFlag(t *testing.T) {
	ing := &recordingIngester{}
	svc := NewUploadService(ing, nil)
	u := upload(2)
	no := false
	u.IsFirstBatch = &no

	_, err := svc.Sync(context.Background(), u)
	require.NoError(t, err)
	assert.False(t, ing.batches[0].IsFirstBatch)

	_, err = svc.Enqueue(context.Background(), u)
	assert.Equal(t, apperrors.CategoryTransport, apperrors.GetCategory(err))

	res, err := svc.Route(context.Background(), upload(500))
	require.NoError(t, err)
	assert.Equal(t, ModeInline, res.Mode, "without a queue everything is inline")
}

type fakeTableStore struct {
	rows       []map[string]interface{}
	orderBy    []string
	limit      int
	updated    map[string]interface{}
	affected   int64
	lastKeyCol string
}

func (f *fakeTableStore) Rows(ctx context.Context, table string, orderBy []string, limit, offset int) (*database.RowPage, error) {
	f.orderBy, f.limit = orderBy, limit
	return &database.RowPage{Rows: f.rows, TotalCount: int64(len(f.rows))}, nil
}

func (f *fakeTableStore) Search(ctx context.Context, table, column, value string, limit int) ([]map[string]interface{}, error) {
	return f.rows, nil
}

func (f *fakeTableStore) UpdateRow(ctx context.Context, table, keyColumn, keyValue string, values map[string]interface{}) (int64, error) {
	f.lastKeyCol, f.updated = keyColumn, values
	return f.affected, nil
}

func (f *fakeTableStore) DeleteRow(ctx context.Context, table, keyColumn, keyValue string) (int64, error) {
	f.lastKeyCol = keyColumn
	return f.affected, nil
}

func newTableFixture(t *testing.T) (TableService, *fakeTableStore) {
	t.Helper()
	schemas := repository.NewSchemaRepository(dbtest.OpenMetadata(t))
	require.NoError(t, schemas.CreateSchema(context.Background(), "people", model.FieldMap{
		{Name: "id", Definition: model.FieldDefinition{Type: model.ColumnInteger, IsPrimary: true}},
		{Name: "name", Definition: model.FieldDefinition{Type: model.ColumnText}},
	}))
	store := &fakeTableStore{rows: []map[string]interface{}{{"id": 1, "name": "Ann"}}, affected: 1}
	return NewTableService(schemas, store), store
}

func TestTableRows(t *testing.T) {
	svc, store := newTableFixture(t)
	ctx := context.Background()

	resp, err := svc.GetRows(ctx, "people", 0, 0)
	require.NoError(t, err)
	require.NotNil(t, resp.PrimaryKey)
	assert.Equal(t, "id", *resp.PrimaryKey)
	assert.Equal(t, int64(1), resp.TotalCount)
	assert.Equal(t, DefaultRowLimit, store.limit)
	assert.Equal(t, []string{"id"}, store.orderBy)

	_, err = svc.GetRows(ctx, "people", 5000, 0)
	require.NoError(t, err)
	assert.Equal(t, MaxRowLimit, store.limit)

	_, err = svc.GetRows(ctx, "ghosts", 10, 0)
	assert.Equal(t, apperrors.CodeTableNotFound, apperrors.GetCode(err))

	_, err = svc.GetRows(ctx, `people"; --`, 10, 0)
	assert.Equal(t, apperrors.CodeInvalidIdentifier, apperrors.GetCode(err))
}

func TestTableSearchAndEdit(t *testing.T) {
	svc, store := newTableFixture(t)
	ctx := context.Background()

	_, err := svc.Search(ctx, "people", "", "x")
	assert.Equal(t, apperrors.CategoryValidation, apperrors.GetCategory(err))
	_, err = svc.Search(ctx, "people", "email", "x")
	assert.Equal(t, apperrors.CodeInvalidIdentifier, apperrors.GetCode(err))
	found, err := svc.Search(ctx, "people", "name", "an")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	change, err := svc.UpdateRow(ctx, "people", "1", map[string]interface{}{"name": "Anna"})
	require.NoError(t, err)
	assert.Equal(t, "Row with id=1 updated.", change.Message)
	assert.Equal(t, "id", store.lastKeyCol)

	_, err = svc.UpdateRow(ctx, "people", "1", map[string]interface{}{"nope": 1})
	assert.Equal(t, apperrors.CodeInvalidIdentifier, apperrors.GetCode(err))

	store.affected = 0
	_, err = svc.DeleteRow(ctx, "people", "42")
	assert.Equal(t, apperrors.CodeRowNotFound, apperrors.GetCode(err))
}

func TestInferNormalizesAndMarksPrimary(t *testing.T) {
	svc := NewInferService(inference.NewEngine(inference.Options{}))
	resp := svc.Infer(&InferRequest{
		Headers:    []string{"User ID", "Created At", "Score"},
		Rows:       [][]string{{"1", "2024-01-01", "1.5"}, {"2", "2024-02-01", "2.5"}},
		PrimaryKey: []string{"User ID"},
	})
	assert.Equal(t, []string{"user_id", "created_at", "score"}, resp.Headers)
	assert.Equal(t, []string{"user_id"}, resp.Fields.PrimaryKeys())

	def, ok := resp.Fields.Get("created_at")
	require.True(t, ok)
	assert.Equal(t, model.ColumnDate, def.Type)
	def, _ = resp.Fields.Get("score")
	assert.Equal(t, model.ColumnFloat, def.Type)
}
