// Package query is the read-only view over documents. It never takes a stage
// guard, so a document may be observed mid-transition.
package query

import (
	"context"
	"fmt"
	"io"

	"github.com/Lllllllleong/requirementflow/internal/content"
	"github.com/Lllllllleong/requirementflow/internal/models"
	"github.com/Lllllllleong/requirementflow/internal/store"
)

// ErrNoExport indicates the document has no export artifact yet.
var ErrNoExport = fmt.Errorf("%w: no export artifact", store.ErrNotFound)

// Service answers list, detail and download queries.
type Service struct {
	store   store.DocumentStore
	content content.Store
}

// NewService returns a Service over the given stores.
func NewService(s store.DocumentStore, c content.Store) *Service {
	return &Service{store: s, content: c}
}

// ListDocuments returns summaries, newest first.
func (q *Service) ListDocuments(ctx context.Context) ([]models.DocumentSummary, error) {
	docs, err := q.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	if docs == nil {
		docs = []models.DocumentSummary{}
	}
	return docs, nil
}

// GetDetail returns the full document including artifacts and history.
func (q *Service) GetDetail(ctx context.Context, docID string) (*models.Document, error) {
	return q.store.Get(ctx, docID)
}

// OpenExport opens the current export artifact of docID for download. The
// caller closes the reader. A stale artifact is still returned; check
// ExportArtifact.Stale.
func (q *Service) OpenExport(ctx context.Context, docID string) (*models.ExportArtifact, io.ReadCloser, error) {
	doc, err := q.store.Get(ctx, docID)
	if err != nil {
		return nil, nil, err
	}
	art := doc.Artifacts.Exported
	if art == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoExport, docID)
	}
	rc, err := q.content.Open(ctx, art.URI)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open export of %s: %w", docID, err)
	}
	return art, rc, nil
}
