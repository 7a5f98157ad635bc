package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/Lllllllleong/requirementflow/internal/config"
	"github.com/Lllllllleong/requirementflow/internal/content"
	"github.com/Lllllllleong/requirementflow/internal/models"
	"github.com/Lllllllleong/requirementflow/internal/pipeline"
	"github.com/Lllllllleong/requirementflow/internal/store"
)

// GCSEvent is the payload of a storage object finalize event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

type UploadIngestConfig struct {
	MaxBytes int64
	// SkipPrefixes lists object prefixes the pipeline writes itself.
	SkipPrefixes []string
	// ObjectURI turns an event into a content store URI. Defaults to gs://.
	ObjectURI func(bucket, name string) string
}

// UploadIngestFunction registers every finalized upload object as an
// Uploaded document.
type UploadIngestFunction struct {
	engine     *pipeline.Engine
	components *Components
	config     UploadIngestConfig
}

// NewUploadIngest loads the environment configuration and builds the function.
func NewUploadIngest(ctx context.Context) (*UploadIngestFunction, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.ContentBackend != config.BackendGCS {
		return nil, fmt.Errorf("CONTENT_BACKEND must be %q for upload ingestion", config.BackendGCS)
	}
	components, err := NewComponents(ctx, cfg)
	if err != nil {
		return nil, err
	}
	f := NewUploadIngestWithEngine(components.Engine, UploadIngestConfig{
		MaxBytes:     cfg.MaxUploadBytes,
		SkipPrefixes: []string{"uploads/", cfg.ExportPrefix + "/"},
	})
	f.components = components
	slog.Info("Upload ingest logic initialized.", "skipPrefixes", f.config.SkipPrefixes)
	return f, nil
}

// NewUploadIngestWithEngine builds the function over an assembled engine.
func NewUploadIngestWithEngine(engine *pipeline.Engine, cfg UploadIngestConfig) *UploadIngestFunction {
	if cfg.ObjectURI == nil {
		cfg.ObjectURI = func(bucket, name string) string { return fmt.Sprintf("gs://%s/%s", bucket, name) }
	}
	return &UploadIngestFunction{engine: engine, config: cfg}
}

// Process ingests one object. Duplicates, pipeline-owned objects and
// unsupported files are skipped without error so the event is not retried.
func (f *UploadIngestFunction) Process(ctx context.Context, e GCSEvent) (*models.Document, error) {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	if e.Bucket == "" || e.Name == "" || strings.HasSuffix(e.Name, "/") {
		logCtx.Warn("Event does not name an object. Skipping.")
		return nil, nil
	}
	for _, prefix := range f.config.SkipPrefixes {
		if strings.HasPrefix(e.Name, prefix) {
			logCtx.Info("Object written by the pipeline. Skipping.", "prefix", prefix)
			return nil, nil
		}
	}

	uri := f.config.ObjectURI(e.Bucket, e.Name)
	ref, err := f.hashObject(ctx, uri)
	if err != nil {
		if errors.Is(err, content.ErrTooLarge) || errors.Is(err, content.ErrNotFound) {
			logCtx.Warn("Object cannot be ingested. Skipping.", "error", err)
			return nil, nil
		}
		logCtx.Error("Failed to read source object", "error", err)
		return nil, err
	}
	logCtx = logCtx.With("fileHash", ref.SHA256)

	existing, err := f.engine.Store().FindByHash(ctx, ref.SHA256)
	switch {
	case err == nil:
		logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", existing.ID)
		return nil, nil
	case !errors.Is(err, store.ErrNotFound):
		logCtx.Error("Failed to check for duplicate", "error", err)
		return nil, err
	}

	fileType := strings.TrimPrefix(strings.ToLower(path.Ext(e.Name)), ".")
	doc, err := f.engine.Upload(ctx, pipeline.UploadInput{
		Filename: path.Base(e.Name),
		FileType: fileType,
		Ref:      ref,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidInput) {
			logCtx.Warn("Object rejected. Skipping.", "error", err, "code", pipeline.Code(err))
			return nil, nil
		}
		logCtx.Error("Failed to register upload", "error", err)
		return nil, err
	}
	logCtx.Info("Upload registered.", "documentId", doc.ID, "version", doc.Version)
	return doc, nil
}

// hashObject streams the object once to compute its content ref.
func (f *UploadIngestFunction) hashObject(ctx context.Context, uri string) (models.ContentRef, error) {
	rc, err := f.engine.Content().Open(ctx, uri)
	if err != nil {
		return models.ContentRef{}, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if f.config.MaxBytes > 0 {
		r = io.LimitReader(rc, f.config.MaxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return models.ContentRef{}, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	if f.config.MaxBytes > 0 && int64(len(data)) > f.config.MaxBytes {
		return models.ContentRef{}, fmt.Errorf("%w: %s exceeds %d bytes", content.ErrTooLarge, uri, f.config.MaxBytes)
	}
	return models.ContentRef{URI: uri, SHA256: content.Hash(data), Size: int64(len(data))}, nil
}

// Close releases the clients created by NewUploadIngest.
func (f *UploadIngestFunction) Close() error {
	if f.components == nil {
		return nil
	}
	return f.components.Close()
}
