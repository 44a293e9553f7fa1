package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynamic-table/internal/config"
	"dynamic-table/internal/controller"
	"dynamic-table/internal/database"
	"dynamic-table/internal/database/dbtest"
	"dynamic-table/internal/inference"
	"dynamic-table/internal/ingest"
	"dynamic-table/internal/model"
	"dynamic-table/internal/queue"
	"dynamic-table/internal/repository"
	"dynamic-table/internal/security"
	"dynamic-table/internal/service"
)

type okIngester struct{}

func (okIngester) Ingest(ctx context.Context, batch *model.Batch) (*ingest.Result, error) {
	return &ingest.Result{Table: batch.CsvName, State: ingest.StateSucceeded}, nil
}

type emptyTableStore struct{}

func (emptyTableStore) Rows(context.Context, string, []string, int, int) (*database.RowPage, error) {
	return &database.RowPage{}, nil
}
func (emptyTableStore) Search(context.Context, string, string, string, int) ([]map[string]interface{}, error) {
	return nil, nil
}
func (emptyTableStore) UpdateRow(context.Context, string, string, string, map[string]interface{}) (int64, error) {
	return 1, nil
}
func (emptyTableStore) DeleteRow(context.Context, string, string, string) (int64, error) {
	return 1, nil
}

func testHandlers(t *testing.T) handlers {
	t.Helper()
	db := dbtest.OpenMetadata(t)
	l := logrus.New()
	l.SetOutput(io.Discard)

	notifications := service.NewNotificationService(repository.NewNotificationRepository(db))
	dispatcher := queue.NewDispatcher(queue.NewMemoryBroker(), notifications, queue.DispatcherConfig{}, logrus.NewEntry(l))
	return handlers{
		upload:       controller.NewUploadController(service.NewUploadService(okIngester{}, dispatcher)),
		notification: controller.NewNotificationController(notifications),
		table:        controller.NewTableController(service.NewTableService(repository.NewSchemaRepository(db), emptyTableStore{})),
		infer:        controller.NewInferController(service.NewInferService(inference.NewEngine(inference.Options{}))),
		health:       controller.NewHealthController(db, nil, "test"),
	}
}

func request(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouterOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r, stop := newRouter(&config.Config{}, testHandlers(t))
	defer stop()

	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/metrics", "", "").Code)
	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/api/tables", "", "").Code)
	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/api/notifications", "", "").Code)
	assert.Equal(t, http.StatusNotFound, request(r, http.MethodGet, "/api/tables/people/schema", "", "").Code)

	w := request(r, http.MethodPost, "/api/upload-csv", "",
		`{"csvName":"people","fields":{"id":{"type":"INTEGER","isPrimary":true}},"rows":[["1"]]}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}

func TestRouterAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Security: config.SecurityConfig{
		EnableAuth:    true,
		JWTSecret:     "test-secret",
		JWTExpiration: time.Hour,
	}}
	r, stop := newRouter(cfg, testHandlers(t))
	defer stop()

	manager := security.NewJWTManager(cfg.Security.JWTSecret, time.Hour)
	reader, err := manager.GenerateToken("u1", "reader", nil)
	require.NoError(t, err)
	uploader, err := manager.GenerateToken("u2", "uploader", []string{security.RoleUploader})
	require.NoError(t, err)

	body := `{"csvName":"people","fields":{"id":{"type":"INTEGER","isPrimary":true}},"rows":[["1"]]}`

	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, request(r, http.MethodGet, "/api/tables", "", "").Code)
	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/api/tables", reader, "").Code)
	assert.Equal(t, http.StatusForbidden, request(r, http.MethodPost, "/api/upload-csv", reader, body).Code)
	assert.Equal(t, http.StatusOK, request(r, http.MethodPost, "/api/upload-csv", uploader, body).Code)
	assert.Equal(t, http.StatusForbidden, request(r, http.MethodDelete, "/api/tables/people/rows/1", uploader, "").Code)
}

func TestInferCSV(t *testing.T) {
	in := "User ID,Name,Joined,Active\n1,Ann,2024-01-02,true\n2,Bob,2024-03-04,false\n3,Cy,2024-05-06,TRUE\n"

	resp, err := inferCSV(strings.NewReader(in), []string{"User ID"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"user_id", "name", "joined", "active"}, resp.Headers)

	want := map[string]model.ColumnType{
		"user_id": model.ColumnInteger,
		"name":    model.ColumnText,
		"joined":  model.ColumnDate,
		"active":  model.ColumnBoolean,
	}
	for name, typ := range want {
		def, ok := resp.Fields.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, typ, def.Type, name)
	}
	def, _ := resp.Fields.Get("user_id")
	assert.True(t, def.IsPrimary)

	_, err = inferCSV(strings.NewReader(""), nil, 0)
	assert.Error(t, err)
}

func TestInferCSVSample(t *testing.T) {
	in := "n\n1\n2\nthree\n"
	resp, err := inferCSV(strings.NewReader(in), nil, 2)
	require.NoError(t, err)
	def, _ := resp.Fields.Get("n")
	assert.Equal(t, model.ColumnInteger, def.Type)
}
