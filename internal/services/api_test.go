package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/requirementflow/internal/content"
	"github.com/Lllllllleong/requirementflow/internal/exporter"
	"github.com/Lllllllleong/requirementflow/internal/models"
	"github.com/Lllllllleong/requirementflow/internal/parser"
	"github.com/Lllllllleong/requirementflow/internal/pipeline"
	"github.com/Lllllllleong/requirementflow/internal/query"
	"github.com/Lllllllleong/requirementflow/internal/rules"
	"github.com/Lllllllleong/requirementflow/internal/stagelock"
	"github.com/Lllllllleong/requirementflow/internal/store"
)

type testEnv struct {
	engine *pipeline.Engine
	docs   *store.MemoryStore
	blobs  *content.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	docs := store.NewMemoryStore()
	blobs := content.NewMemoryStore()
	exp, err := exporter.New(exporter.FormatJSON)
	require.NoError(t, err)

	var n int
	engine, err := pipeline.New(pipeline.Deps{
		Store:     docs,
		Content:   blobs,
		Locks:     stagelock.New(),
		Parser:    parser.NewHeadingParser(),
		Rules:     rules.DefaultCatalog(),
		Exporter:  exp,
		Inspector: parser.NewInspector(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewID: func() string {
			n++
			return fmt.Sprintf("D%d", n)
		},
	}, pipeline.Config{})
	require.NoError(t, err)
	return &testEnv{engine: engine, docs: docs, blobs: blobs}
}

func newTestServer(t *testing.T, maxUpload int64) (*httptest.Server, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	api := NewDocumentAPIWithEngine(env.engine, query.NewService(env.docs, env.blobs), DocumentAPIConfig{MaxUploadBytes: maxUpload})
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return srv, env
}

func upload(t *testing.T, srv *httptest.Server, filename, fileType string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	if fileType != "" {
		require.NoError(t, mw.WriteField("file_type", fileType))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func postStage(t *testing.T, srv *httptest.Server, stage, docID string) *http.Response {
	t.Helper()
	payload, err := json.Marshal(models.StageRequest{DocID: docID})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/"+stage, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAPIEndToEnd(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp := upload(t, srv, "reqs.txt", "txt", []byte("system shall log errors"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	up := decode[models.UploadResponse](t, resp)
	assert.Equal(t, "D1", up.DocID)
	assert.Equal(t, models.StageUploaded, up.Stage)
	assert.Equal(t, int64(1), up.Version)

	resp = postStage(t, srv, "parse", up.DocID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	parsed := decode[models.ParseResponse](t, resp)
	require.Len(t, parsed.Items, 1)
	assert.Equal(t, "R1", parsed.Items[0].ItemID)
	assert.Equal(t, "system shall log errors", parsed.Items[0].Text)
	assert.Equal(t, int64(2), parsed.Version)

	resp = postStage(t, srv, "validate", up.DocID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[models.ValidateResponse](t, resp)
	assert.False(t, report.HasErrors)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, models.SeverityWarning, report.Findings[0].Severity)
	assert.Equal(t, "R1", report.Findings[0].ItemID)
	assert.Equal(t, int64(3), report.Version)

	resp = postStage(t, srv, "export", up.DocID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	exported := decode[models.ExportResponse](t, resp)
	assert.Equal(t, "/download/D1", exported.DownloadURL)
	assert.Equal(t, int64(4), exported.Version)
	require.NotNil(t, exported.Artifact)
	assert.Equal(t, 1, exported.Artifact.ItemCount)

	resp = get(t, srv, exported.DownloadURL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "4", resp.Header.Get("X-Export-Version"))
	tree := decode[exporter.Tree](t, resp)
	assert.Equal(t, "D1", tree.DocumentID)
	require.Len(t, tree.Root.Children, 1)
	require.NotNil(t, tree.Root.Children[0].Content)
	assert.Equal(t, "system shall log errors", *tree.Root.Children[0].Content)

	resp = get(t, srv, "/document/D1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decode[models.Document](t, resp)
	assert.Equal(t, models.StageExported, doc.Stage)
	require.Len(t, doc.History, 4)
	assert.Equal(t, models.StageExported, doc.History[3].Stage)

	resp = get(t, srv, "/documents")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[models.DocumentListResponse](t, resp)
	require.Len(t, list.Documents, 1)
	assert.Equal(t, models.StageExported, list.Documents[0].Stage)
}

func TestAPIStageErrors(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	up := decode[models.UploadResponse](t, upload(t, srv, "reqs.md", "", []byte("# Scope\nThe system shall start.\n")))
	require.Equal(t, "md", up.FileType)

	tests := []struct {
		name   string
		stage  string
		docID  string
		status int
		code   string
	}{
		{"unknown document", "parse", "nope", http.StatusNotFound, "NotFound"},
		{"validate before parse", "validate", up.DocID, http.StatusConflict, "NoParsedData"},
		{"export before validate", "export", up.DocID, http.StatusConflict, "NotValidated"},
		{"missing id", "parse", "", http.StatusBadRequest, "InvalidInput"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postStage(t, srv, tt.stage, tt.docID)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode[models.ErrorResponse](t, resp)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, tt.docID, body.DocID)
		})
	}
}

func TestAPIBadRequestBody(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	resp, err := http.Post(srv.URL+"/parse", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidInput", decode[models.ErrorResponse](t, resp).Code)
}

func TestAPIUploadRejections(t *testing.T) {
	srv, _ := newTestServer(t, 16)

	resp := upload(t, srv, "tool.exe", "exe", []byte("MZ"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidFileType", decode[models.ErrorResponse](t, resp).Code)

	resp = upload(t, srv, "big.txt", "txt", bytes.Repeat([]byte("a"), 100))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "InvalidInput", decode[models.ErrorResponse](t, resp).Code)

	resp = upload(t, srv, "empty.txt", "txt", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Post(srv.URL+"/upload", "text/plain", strings.NewReader("no form"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIDownloadWithoutExport(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	up := decode[models.UploadResponse](t, upload(t, srv, "a.txt", "txt", []byte("the system shall start")))

	resp := get(t, srv, "/download/"+up.DocID)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = get(t, srv, "/document/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "missing", decode[models.ErrorResponse](t, resp).DocID)
}

func TestAPIEmptyListAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp := get(t, srv, "/documents")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"documents":[]}`, string(raw))

	resp = get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, srv, "/parse")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", fmt.Errorf("x: %w", pipeline.ErrInvalidInput), http.StatusBadRequest},
		{"invalid file type", pipeline.ErrInvalidFileType, http.StatusBadRequest},
		{"too large", pipeline.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{"not found", store.ErrNotFound, http.StatusNotFound},
		{"no export", query.ErrNoExport, http.StatusNotFound},
		{"illegal", pipeline.ErrIllegalTransition, http.StatusConflict},
		{"no parsed data", pipeline.ErrNoParsedData, http.StatusConflict},
		{"busy", pipeline.ErrBusy, http.StatusConflict},
		{"conflict", pipeline.ErrConflict, http.StatusConflict},
		{"version conflict", store.ErrVersionConflict, http.StatusConflict},
		{"timeout", &pipeline.StageError{DocID: "D1", Stage: models.StageParsing, Kind: pipeline.ErrParseFailed, Cause: pipeline.ErrTimeout}, http.StatusGatewayTimeout},
		{"parse failed", &pipeline.StageError{DocID: "D1", Stage: models.StageParsing, Kind: pipeline.ErrParseFailed, Cause: errors.New("boom")}, http.StatusInternalServerError},
		{"storage", pipeline.ErrStorageUnavailable, http.StatusBadGateway},
		{"missing bytes", content.ErrNotFound, http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestWriteErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, "D9", fmt.Errorf("open: %w", content.ErrNotFound))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "StorageUnavailable", body.Code)
	assert.Equal(t, "D9", body.DocID)
}

func TestAPIConcurrentParseOneWins(t *testing.T) {
	env := newTestEnv(t)
	doc, err := env.engine.UploadBytes(context.Background(), "a.txt", "txt", []byte("the system shall start"))
	require.NoError(t, err)

	api := NewDocumentAPIWithEngine(env.engine, query.NewService(env.docs, env.blobs), DocumentAPIConfig{})
	srv := httptest.NewServer(api)
	defer srv.Close()

	statuses := make(chan int, 4)
	for i := 0; i < 4; i++ {
		go func() {
			payload := fmt.Sprintf(`{"doc_id":%q}`, doc.ID)
			resp, err := http.Post(srv.URL+"/parse", "application/json", strings.NewReader(payload))
			if err != nil {
				statuses <- 0
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	var ok int
	for i := 0; i < 4; i++ {
		switch s := <-statuses; s {
		case http.StatusOK:
			ok++
		default:
			assert.Equal(t, http.StatusConflict, s)
		}
	}
	assert.GreaterOrEqual(t, ok, 1)
}
