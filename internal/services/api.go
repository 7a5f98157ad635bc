package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/requirementflow/internal/config"
	"github.com/Lllllllleong/requirementflow/internal/content"
	"github.com/Lllllllleong/requirementflow/internal/models"
	"github.com/Lllllllleong/requirementflow/internal/pipeline"
	"github.com/Lllllllleong/requirementflow/internal/query"
	"github.com/Lllllllleong/requirementflow/internal/store"
)

// slowRequest is the duration above which a request is logged at WARN.
const slowRequest = 5 * time.Second

// multipartOverhead is allowed on top of the upload limit for form framing.
const multipartOverhead = 1 << 20

type DocumentAPIConfig struct {
	MaxUploadBytes int64
}

// DocumentAPIFunction serves the document API over one engine.
type DocumentAPIFunction struct {
	engine     *pipeline.Engine
	query      *query.Service
	components *Components
	config     DocumentAPIConfig
	mux        *http.ServeMux
}

// NewDocumentAPI loads the environment configuration and builds the API.
func NewDocumentAPI(ctx context.Context) (*DocumentAPIFunction, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	components, err := NewComponents(ctx, cfg)
	if err != nil {
		return nil, err
	}
	f := NewDocumentAPIWithEngine(components.Engine, components.Query, DocumentAPIConfig{MaxUploadBytes: cfg.MaxUploadBytes})
	f.components = components
	slog.Info("Document API initialized.", "maxUploadBytes", cfg.MaxUploadBytes)
	return f, nil
}

// NewDocumentAPIWithEngine builds the API over an already assembled engine.
func NewDocumentAPIWithEngine(engine *pipeline.Engine, q *query.Service, cfg DocumentAPIConfig) *DocumentAPIFunction {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = pipeline.DefaultConfig().MaxContentBytes
	}
	f := &DocumentAPIFunction{engine: engine, query: q, config: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", f.handleUpload)
	mux.HandleFunc("POST /parse", f.handleParse)
	mux.HandleFunc("POST /validate", f.handleValidate)
	mux.HandleFunc("POST /export", f.handleExport)
	mux.HandleFunc("GET /documents", f.handleList)
	mux.HandleFunc("GET /document/{doc_id}", f.handleDetail)
	mux.HandleFunc("GET /download/{doc_id}", f.handleDownload)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	f.mux = mux
	return f
}

// ServeHTTP routes the request and logs it.
func (f *DocumentAPIFunction) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	f.mux.ServeHTTP(rec, r)

	elapsed := time.Since(start)
	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"durationMs", elapsed.Milliseconds(),
	}
	switch {
	case elapsed > slowRequest:
		slog.Warn("Slow request.", attrs...)
	case rec.status >= http.StatusInternalServerError:
		slog.Error("Request failed.", attrs...)
	default:
		slog.Info("Request served.", attrs...)
	}
}

// Close releases the clients created by NewDocumentAPI.
func (f *DocumentAPIFunction) Close() error {
	if f.components == nil {
		return nil
	}
	return f.components.Close()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (f *DocumentAPIFunction) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, f.config.MaxUploadBytes+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, "", fmt.Errorf("%w: upload exceeds %d bytes", pipeline.ErrTooLarge, f.config.MaxUploadBytes))
			return
		}
		writeError(w, "", fmt.Errorf("%w: multipart field \"file\" is required: %v", pipeline.ErrInvalidInput, err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, f.config.MaxUploadBytes+1))
	if err != nil {
		writeError(w, "", fmt.Errorf("%w: failed to read upload: %v", pipeline.ErrInvalidInput, err))
		return
	}
	if int64(len(data)) > f.config.MaxUploadBytes {
		writeError(w, "", fmt.Errorf("%w: upload exceeds %d bytes", pipeline.ErrTooLarge, f.config.MaxUploadBytes))
		return
	}

	fileType := r.FormValue("file_type")
	if fileType == "" {
		fileType = strings.TrimPrefix(path.Ext(header.Filename), ".")
	}
	doc, err := f.engine.UploadBytes(r.Context(), header.Filename, fileType, data)
	if err != nil {
		writeError(w, "", err)
		return
	}
	writeJSON(w, http.StatusCreated, models.UploadResponse{
		DocID:    doc.ID,
		Filename: doc.Filename,
		FileType: doc.FileType,
		Stage:    doc.Stage,
		Version:  doc.Version,
	})
}

// decodeStageRequest reads the {doc_id} body shared by the stage endpoints.
func decodeStageRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req models.StageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		writeError(w, "", fmt.Errorf("%w: could not parse JSON: %v", pipeline.ErrInvalidInput, err))
		return "", false
	}
	if strings.TrimSpace(req.DocID) == "" {
		writeError(w, "", fmt.Errorf("%w: doc_id is required", pipeline.ErrInvalidInput))
		return "", false
	}
	return req.DocID, true
}

func (f *DocumentAPIFunction) handleParse(w http.ResponseWriter, r *http.Request) {
	docID, ok := decodeStageRequest(w, r)
	if !ok {
		return
	}
	items, err := f.engine.Parse(r.Context(), docID)
	if err != nil {
		writeError(w, docID, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ParseResponse{DocID: docID, Version: items.Version, Items: items.Items})
}

func (f *DocumentAPIFunction) handleValidate(w http.ResponseWriter, r *http.Request) {
	docID, ok := decodeStageRequest(w, r)
	if !ok {
		return
	}
	report, err := f.engine.Validate(r.Context(), docID)
	if err != nil {
		writeError(w, docID, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ValidateResponse{
		DocID:     docID,
		Version:   report.Version,
		HasErrors: report.HasErrors(),
		Findings:  report.Findings,
	})
}

func (f *DocumentAPIFunction) handleExport(w http.ResponseWriter, r *http.Request) {
	docID, ok := decodeStageRequest(w, r)
	if !ok {
		return
	}
	art, err := f.engine.Export(r.Context(), docID)
	if err != nil {
		writeError(w, docID, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ExportResponse{
		DocID:       docID,
		Version:     art.Version,
		DownloadURL: "/download/" + docID,
		Artifact:    art,
	})
}

func (f *DocumentAPIFunction) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := f.query.ListDocuments(r.Context())
	if err != nil {
		writeError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, models.DocumentListResponse{Documents: docs})
}

func (f *DocumentAPIFunction) handleDetail(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("doc_id")
	doc, err := f.query.GetDetail(r.Context(), docID)
	if err != nil {
		writeError(w, docID, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (f *DocumentAPIFunction) handleDownload(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("doc_id")
	art, rc, err := f.query.OpenExport(r.Context(), docID)
	if err != nil {
		writeError(w, docID, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s-v%d.%s", docID, art.Version, art.Format)))
	w.Header().Set("X-Export-Version", strconv.FormatInt(art.Version, 10))
	w.Header().Set("X-Export-Stale", strconv.FormatBool(art.Stale))
	if art.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(art.Size, 10))
	}
	if _, err := io.Copy(w, rc); err != nil {
		slog.Error("Failed to stream export", "error", err, "documentId", docID)
	}
}

// StatusFor maps an engine or query error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, pipeline.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrIllegalTransition),
		errors.Is(err, pipeline.ErrBusy),
		errors.Is(err, pipeline.ErrConflict),
		errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, pipeline.ErrCapabilityFailure):
		return http.StatusInternalServerError
	case errors.Is(err, pipeline.ErrStorageUnavailable), errors.Is(err, content.ErrNotFound):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, docID string, err error) {
	status := StatusFor(err)
	code := pipeline.Code(err)
	if code == "Internal" && errors.Is(err, content.ErrNotFound) {
		code = "StorageUnavailable"
	}
	if status >= http.StatusInternalServerError {
		slog.Error("Request error", "error", err, "documentId", docID, "code", code)
	}
	writeJSON(w, status, models.ErrorResponse{Error: err.Error(), Code: code, DocID: docID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
