package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/Lllllllleong/requirementflow/internal/content"
	"github.com/Lllllllleong/requirementflow/internal/models"
	"github.com/Lllllllleong/requirementflow/internal/store"
)

// ErrTooLarge rejects uploads above Config.MaxContentBytes.
var ErrTooLarge = fmt.Errorf("%w: content too large", ErrInvalidInput)

// UploadInput registers bytes that already live in the content store.
type UploadInput struct {
	Filename string
	FileType string
	Ref      models.ContentRef
}

// Upload creates a document for content already held by the content store.
// The bytes are read back and checked against ref's hash before the record
// is created.
func (e *Engine) Upload(ctx context.Context, in UploadInput) (*models.Document, error) {
	fileType, err := e.checkFileType(in.FileType)
	if err != nil {
		return nil, err
	}
	if in.Ref.URI == "" || in.Ref.SHA256 == "" {
		return nil, fmt.Errorf("%w: content reference needs a uri and a sha256", ErrInvalidInput)
	}
	data, err := content.ReadVerified(ctx, e.deps.Content, in.Ref, e.cfg.MaxContentBytes)
	if err != nil {
		if errors.Is(err, content.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %w", ErrTooLarge, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return e.create(ctx, e.deps.NewID(), in.Filename, fileType, in.Ref, data)
}

// UploadBytes stores data through the content store and creates its document.
func (e *Engine) UploadBytes(ctx context.Context, filename, fileType string, data []byte) (*models.Document, error) {
	ft, err := e.checkFileType(fileType)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidInput)
	}
	if e.cfg.MaxContentBytes > 0 && int64(len(data)) > e.cfg.MaxContentBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), e.cfg.MaxContentBytes)
	}

	id := e.deps.NewID()
	name := path.Join("uploads", id, safeName(filename, "upload."+ft))
	ref, err := e.deps.Content.Put(ctx, name, data, contentTypeFor(ft))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if ref.SHA256 != content.Hash(data) {
		return nil, fmt.Errorf("%w: stored object %s does not match the upload", ErrStorageUnavailable, ref.URI)
	}
	return e.create(ctx, id, filename, ft, ref, data)
}

func (e *Engine) create(ctx context.Context, id, filename, fileType string, ref models.ContentRef, data []byte) (*models.Document, error) {
	var pages int
	if e.deps.Inspector != nil {
		n, err := e.deps.Inspector.PageCount(fileType, data)
		if err != nil {
			return nil, fmt.Errorf("%w: unreadable %s file: %w", ErrInvalidInput, fileType, err)
		}
		pages = n
	}

	doc, err := e.deps.Store.Create(ctx, store.NewDocument{
		ID:         id,
		Filename:   filename,
		FileType:   fileType,
		ContentRef: ref,
		PageCount:  pages,
	})
	if err != nil {
		return nil, err
	}
	logCtx := e.log.With("documentId", doc.ID, "stage", string(doc.Stage))
	logCtx.Info("Document uploaded.", "fileType", fileType, "size", ref.Size, "pageCount", pages)
	e.notify(ctx, logCtx, doc, models.StageUploaded)
	return doc, nil
}

func (e *Engine) checkFileType(fileType string) (string, error) {
	ft := normalizeFileType(fileType)
	if !e.allowed[ft] {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileType, fileType)
	}
	return ft, nil
}

// Parse extracts requirement items from the document's content.
func (e *Engine) Parse(ctx context.Context, docID string) (*models.ParsedItems, error) {
	doc, err := e.run(ctx, docID, stageRun{
		running: models.StageParsing,
		admit:   func(*models.Document) error { return nil },
		produce: func(ctx context.Context, doc *models.Document) (models.Artifact, error) {
			data, err := content.ReadVerified(ctx, e.deps.Content, doc.ContentRef, e.cfg.MaxContentBytes)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
			}
			items, err := e.deps.Parser.Parse(ctx, Content{
				DocID:    doc.ID,
				Filename: doc.Filename,
				FileType: doc.FileType,
				Data:     data,
			})
			if err != nil {
				return nil, err
			}
			if err := checkItems(items); err != nil {
				return nil, err
			}
			return &models.ParsedItems{Items: items}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return doc.Artifacts.Parsed, nil
}

// Validate evaluates the rule set over the current parsed items.
func (e *Engine) Validate(ctx context.Context, docID string) (*models.ValidationReport, error) {
	doc, err := e.run(ctx, docID, stageRun{
		running: models.StageValidating,
		admit: func(doc *models.Document) error {
			if doc.Artifacts.Parsed == nil {
				return ErrNoParsedData
			}
			switch doc.Stage {
			case models.StageParsed, models.StageValidated, models.StageExported:
				return nil
			case models.StageFailed:
				if doc.FailedFrom == models.StageValidating || doc.FailedFrom == models.StageExporting {
					return nil
				}
			}
			return fmt.Errorf("%w: cannot validate a %s document", ErrIllegalTransition, describe(doc))
		},
		produce: func(ctx context.Context, doc *models.Document) (models.Artifact, error) {
			parsed := doc.Artifacts.Parsed
			findings, err := e.deps.Rules.Evaluate(ctx, parsed.Items)
			if err != nil {
				return nil, err
			}
			if err := checkFindings(parsed.Items, findings); err != nil {
				return nil, err
			}
			if findings == nil {
				findings = []models.ValidationFinding{}
			}
			return &models.ValidationReport{ItemsVersion: parsed.Version, Findings: findings}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return doc.Artifacts.Validated, nil
}

// Export serializes the validated items. Error findings do not block the
// export; they are surfaced as HasUnresolvedErrors on the artifact.
func (e *Engine) Export(ctx context.Context, docID string) (*models.ExportArtifact, error) {
	doc, err := e.run(ctx, docID, stageRun{
		running: models.StageExporting,
		admit: func(doc *models.Document) error {
			if doc.Artifacts.Validated == nil || doc.Artifacts.Validated.Stale || doc.Artifacts.Parsed == nil {
				return ErrNotValidated
			}
			switch doc.Stage {
			case models.StageValidated, models.StageExported:
				return nil
			case models.StageFailed:
				if doc.FailedFrom == models.StageExporting {
					return nil
				}
			}
			return fmt.Errorf("%w: cannot export a %s document", ErrIllegalTransition, describe(doc))
		},
		produce: func(ctx context.Context, doc *models.Document) (models.Artifact, error) {
			report := doc.Artifacts.Validated
			items := doc.Artifacts.Parsed.Items
			r, err := e.deps.Exporter.Export(ctx, ExportInput{Document: doc, Items: items, Findings: report.Findings})
			if err != nil {
				return nil, err
			}
			if r == nil || len(r.Data) == 0 {
				return nil, errors.New("exporter produced no output")
			}

			name := path.Join(e.cfg.ExportPrefix, doc.ID, fmt.Sprintf("v%d.%s", doc.Version+1, r.Extension))
			ref, err := e.deps.Content.Put(ctx, name, r.Data, r.ContentType)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
			}
			return &models.ExportArtifact{
				Format:              r.Format,
				ContentType:         r.ContentType,
				URI:                 ref.URI,
				SHA256:              ref.SHA256,
				Size:                ref.Size,
				ItemCount:           len(items),
				HasUnresolvedErrors: report.HasErrors(),
			}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return doc.Artifacts.Exported, nil
}

func describe(doc *models.Document) string {
	if doc.Stage == models.StageFailed && doc.FailedFrom != "" {
		return fmt.Sprintf("%s (from %s)", doc.Stage, doc.FailedFrom)
	}
	return string(doc.Stage)
}

// checkItems rejects parser output that would corrupt the artifact.
func checkItems(items []models.RequirementItem) error {
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		if it.ItemID == "" {
			return fmt.Errorf("parser returned item %d without an itemId", i)
		}
		if seen[it.ItemID] {
			return fmt.Errorf("parser returned duplicate itemId %q", it.ItemID)
		}
		seen[it.ItemID] = true
	}
	return nil
}

func checkFindings(items []models.RequirementItem, findings []models.ValidationFinding) error {
	known := make(map[string]bool, len(items))
	for _, it := range items {
		known[it.ItemID] = true
	}
	for _, f := range findings {
		if !f.Severity.Valid() {
			return fmt.Errorf("rule %q returned unknown severity %q", f.RuleID, f.Severity)
		}
		if !known[f.ItemID] {
			return fmt.Errorf("rule %q referenced unknown item %q", f.RuleID, f.ItemID)
		}
	}
	return nil
}

func contentTypeFor(fileType string) string {
	switch fileType {
	case "pdf":
		return "application/pdf"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "md":
		return "text/markdown"
	}
	return "text/plain"
}

// safeName keeps the last path element of a client-supplied filename.
func safeName(filename, fallback string) string {
	base := path.Base(path.Clean("/" + filename))
	if base == "/" || base == "." || base == "" {
		return fallback
	}
	return base
}
