package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freedkr/bc3tree/internal/config"
	"github.com/freedkr/bc3tree/internal/database"
	"github.com/freedkr/bc3tree/internal/importer"
	"github.com/freedkr/bc3tree/internal/logger"
	"github.com/freedkr/bc3tree/internal/queue"
	"github.com/freedkr/bc3tree/internal/storage"
	"github.com/freedkr/bc3tree/internal/testutil"
)

const budgetBC3 = `~V|FIEBDC-3/2020|Prog 1.0|
~C|OBRA||Obra completa|0|010121|0|
~C|CAP01|m|Capitulo 1|0|010121|0|
~C|P01|m2|Partida 1|10,5|010121|3|
~D|OBRA|CAP01\1\1\|
~D|CAP01|P01\2\1\|
~M|CAP01\P01|1\1|4|1\Tramo\2\2\\\|
`

type apiFixture struct {
	db      *testutil.MemDB
	queue   *testutil.MemQueue
	store   *testutil.MemStorage
	config  *config.Config
	handler *Handlers
	router  *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		APIServer: config.APIServerConfig{MaxUploadSize: 1 << 20},
		Importer: config.ImporterConfig{
			MaxRejectedRelations:   -1,
			MaxRejectedRatio:       0.5,
			FailOnValidationErrors: true,
			ExportFormats:          []string{"json", "xlsx"},
		},
	}
	f := &apiFixture{db: testutil.NewMemDB(), queue: testutil.NewMemQueue(), store: testutil.NewMemStorage(), config: cfg}
	f.handler = NewHandlers(f.db, f.queue, f.store, cfg, logger.Discard())

	r := gin.New()
	api := r.Group("/api/v1")
	api.GET("/health", f.handler.Health)
	api.GET("/ready", f.handler.Ready)
	imports := api.Group("/imports")
	imports.POST("", f.handler.UploadImport)
	imports.GET("", f.handler.ListImports)
	imports.GET("/:id", f.handler.GetImport)
	imports.DELETE("/:id", f.handler.DeleteImport)
	imports.GET("/:id/validation", f.handler.GetValidation)
	imports.GET("/:id/ws", f.handler.StreamImport)
	imports.GET("/:id/exports/:format", f.handler.DownloadExport)
	tree := imports.Group("/:id/tree")
	tree.GET("/roots", f.handler.GetRoots)
	tree.GET("/nodes/:code", f.handler.GetNode)
	tree.GET("/nodes/:code/children", f.handler.GetChildren)
	tree.GET("/nodes/:code/path", f.handler.GetPath)
	tree.GET("/levels/:level", f.handler.GetLevel)
	tree.GET("/measurements", f.handler.GetMeasurements)
	tree.GET("/statistics", f.handler.GetStatistics)
	f.router = r
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) upload(t *testing.T, fileName, content, formats string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	if formats != "" {
		require.NoError(t, mw.WriteField("formats", formats))
	}
	require.NoError(t, mw.Close())
	return f.do(t, http.MethodPost, "/api/v1/imports", &buf, mw.FormDataContentType())
}

// completedImport 上传并用导入器完成处理
func (f *apiFixture) completedImport(t *testing.T) string {
	t.Helper()
	w := f.upload(t, "obra.bc3", budgetBC3, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	im := importer.New(f.config, importer.Deps{DB: f.db, Storage: f.store}, logger.Discard())
	_, err := im.Run(context.Background(), resp.ImportID, resp.Formats)
	require.NoError(t, err)
	return resp.ImportID
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/ready", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	f.queue.PingErr = fmt.Errorf("redis down")
	w = f.do(t, http.MethodGet, "/api/v1/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "queue not available", decode(t, w)["reason"])
}

func TestUploadImport(t *testing.T) {
	f := newAPIFixture(t)

	w := f.upload(t, "obra.bc3", budgetBC3, "json")
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, database.ImportStatusPending, resp.Status)
	assert.Equal(t, []string{"json"}, resp.Formats)
	assert.Len(t, resp.MD5Hash, 32)

	rec, err := f.db.GetImport(context.Background(), resp.ImportID)
	require.NoError(t, err)
	assert.Equal(t, storage.SourceObjectKey(resp.ImportID, "obra.bc3"), rec.ObjectKey)
	assert.True(t, f.store.Has(rec.ObjectKey))

	task, err := f.queue.GetTaskStatus(context.Background(), resp.ImportID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskTypeImport, task.Type)
	assert.Equal(t, []string{"json"}, task.Formats)
}

func TestUploadImport_Rejections(t *testing.T) {
	f := newAPIFixture(t)

	w := f.upload(t, "obra.xlsx", "x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.upload(t, "obra.bc3", budgetBC3, "json,pdf")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "pdf")

	w = f.do(t, http.MethodPost, "/api/v1/imports", strings.NewReader("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetImport_NotFound(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/imports/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTreeEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	id := f.completedImport(t)
	base := "/api/v1/imports/" + id

	w := f.do(t, http.MethodGet, base, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, database.ImportStatusCompleted, decode(t, w)["status"])

	w = f.do(t, http.MethodGet, base+"/tree/roots", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var roots struct {
		Nodes []NodeDTO `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &roots))
	require.Len(t, roots.Nodes, 1)
	assert.Equal(t, "OBRA", roots.Nodes[0].Code)
	assert.True(t, roots.Nodes[0].HasChildren)

	w = f.do(t, http.MethodGet, base+"/tree/nodes/CAP01/children", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var children struct {
		Nodes []NodeDTO `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &children))
	require.Len(t, children.Nodes, 1)
	assert.Equal(t, "P01", children.Nodes[0].Code)
	assert.Equal(t, 2, children.Nodes[0].Level)

	w = f.do(t, http.MethodGet, base+"/tree/nodes/P01/path", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OBRA > CAP01 > P01", decode(t, w)["path_string"])

	w = f.do(t, http.MethodGet, base+"/tree/nodes/P01", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var node NodeDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &node))
	assert.True(t, node.UnitPrice.Valid)
	assert.NotEmpty(t, node.Measurements)

	w = f.do(t, http.MethodGet, base+"/tree/nodes/NOPE/children", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, base+"/tree/levels/1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["nodes"], 1)

	w = f.do(t, http.MethodGet, base+"/tree/levels/x", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, base+"/tree/measurements", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["nodes"], 1)

	w = f.do(t, http.MethodGet, base+"/tree/statistics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)["statistics"].(map[string]interface{})
	assert.EqualValues(t, 3, stats["total_nodes"])
	assert.EqualValues(t, 2, stats["max_level"])

	w = f.do(t, http.MethodGet, base+"/validation", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["valid"])
}

func TestDownloadExport(t *testing.T) {
	f := newAPIFixture(t)
	id := f.completedImport(t)

	w := f.do(t, http.MethodGet, "/api/v1/imports/"+id+"/exports/json", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "obra.json")
	assert.Contains(t, w.Body.String(), "CAP01")

	w = f.do(t, http.MethodGet, "/api/v1/imports/"+id+"/exports/xlsx?presign=true", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://minio.local/"+storage.ExportObjectKey(id, "xlsx"), decode(t, w)["url"])

	w = f.do(t, http.MethodGet, "/api/v1/imports/"+id+"/exports/csv", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteImport(t *testing.T) {
	f := newAPIFixture(t)
	id := f.completedImport(t)
	jsonKey := storage.ExportObjectKey(id, "json")
	require.True(t, f.store.Has(jsonKey))

	w := f.do(t, http.MethodDelete, "/api/v1/imports/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.store.Has(jsonKey))
	assert.False(t, f.store.Has(storage.SourceObjectKey(id, "obra.bc3")))

	w = f.do(t, http.MethodGet, "/api/v1/imports/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteImport_Processing(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.db.CreateImport(context.Background(), &database.ImportRecord{
		ID: "busy", Status: database.ImportStatusProcessing,
	}))
	w := f.do(t, http.MethodDelete, "/api/v1/imports/busy", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStreamImport(t *testing.T) {
	f := newAPIFixture(t)
	w := f.upload(t, "obra.bc3", budgetBC3, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/imports/" + resp.ImportID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first queue.Task
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, queue.StatusPending, first.Status)

	require.Eventually(t, func() bool { return f.queue.Subscribed(resp.ImportID) }, time.Second, 10*time.Millisecond)
	ctx := context.Background()
	require.NoError(t, f.queue.UpdateTaskStatus(ctx, resp.ImportID, queue.StatusProcessing, "parse", ""))
	require.NoError(t, f.queue.UpdateTaskStatus(ctx, resp.ImportID, queue.StatusCompleted, "", ""))

	var second, third queue.Task
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "parse", second.Stage)
	require.NoError(t, conn.ReadJSON(&third))
	assert.True(t, third.IsFinished())

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestStreamImport_UnknownTask(t *testing.T) {
	f := newAPIFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/imports/missing/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}
