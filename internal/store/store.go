// Package store persists documents, their stage, artifacts and history.
//
// Every write goes through a single atomic per-document update: a multi-field
// change either fully applies or not at all, and is guarded by the caller's
// expected version.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/requirementflow/internal/models"
)

// Sentinel errors for store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrVersionConflict indicates the caller wrote against a stale read.
	// Callers should re-fetch the document and retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrIllegalTransition indicates a stage-ordering violation.
	ErrIllegalTransition = errors.New("illegal stage transition")

	// ErrDuplicate indicates a document with the same id already exists.
	ErrDuplicate = errors.New("document already exists")
)

// AnyVersion disables the optimistic version check of a Commit.
const AnyVersion int64 = 0

// NewDocument holds the caller-supplied fields of a document being created.
type NewDocument struct {
	ID         string
	Filename   string
	FileType   string
	ContentRef models.ContentRef
	PageCount  int
}

// Commit is one atomic update of a document record. Zero-valued fields are
// left untouched: an empty To keeps the stage, a nil Artifact writes nothing
// and a nil Event appends nothing.
type Commit struct {
	ExpectedVersion int64

	From       models.Stage
	To         models.Stage
	FailedFrom models.Stage

	Artifact models.Artifact
	Event    *models.HistoryEvent
}

// DocumentStore is the durable record of documents.
type DocumentStore interface {
	Create(ctx context.Context, nd NewDocument) (*models.Document, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	// List returns summaries ordered by createdAt descending.
	List(ctx context.Context) ([]models.DocumentSummary, error)
	FindByHash(ctx context.Context, sha256 string) (*models.Document, error)

	WriteArtifact(ctx context.Context, id string, art models.Artifact, expectedVersion int64) (int64, error)
	AppendHistory(ctx context.Context, id string, event models.HistoryEvent) error
	TransitionStage(ctx context.Context, id string, from, to models.Stage, expectedVersion int64) error

	// Commit applies c atomically and returns the updated document.
	Commit(ctx context.Context, id string, c Commit) (*models.Document, error)
}

// newDocument builds the initial record written by Create.
func newDocument(nd NewDocument, now time.Time) *models.Document {
	return &models.Document{
		ID:         nd.ID,
		Filename:   nd.Filename,
		FileType:   nd.FileType,
		ContentRef: nd.ContentRef,
		PageCount:  nd.PageCount,
		Stage:      models.StageUploaded,
		Version:    1,
		History: []models.HistoryEvent{{
			Stage:   models.StageUploaded,
			Outcome: models.OutcomeSucceeded,
			Version: 1,
			At:      now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// apply mutates doc according to c. It validates everything before touching
// doc, so a returned error leaves doc unchanged.
func apply(doc *models.Document, c Commit, now time.Time) error {
	if c.ExpectedVersion != AnyVersion && doc.Version != c.ExpectedVersion {
		return fmt.Errorf("%w: document %s is at version %d, expected %d", ErrVersionConflict, doc.ID, doc.Version, c.ExpectedVersion)
	}
	if c.To != "" {
		if c.From != "" && doc.Stage != c.From {
			return fmt.Errorf("%w: document %s is %s, not %s", ErrIllegalTransition, doc.ID, doc.Stage, c.From)
		}
		if !models.CanTransition(doc.Stage, c.To) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, doc.Stage, c.To)
		}
	}

	if c.Artifact != nil {
		doc.Version++
		doc.Artifacts.Put(c.Artifact, doc.Version, now)
	}
	if c.To != "" {
		doc.Stage = c.To
		doc.FailedFrom = ""
		if c.To == models.StageFailed {
			doc.FailedFrom = c.FailedFrom
		}
	}
	if c.Event != nil {
		ev := *c.Event
		if ev.Version == 0 {
			ev.Version = doc.Version
		}
		if ev.At.IsZero() {
			ev.At = now
		}
		doc.History = append(doc.History, ev)
	}
	doc.UpdatedAt = now
	return nil
}

// The single-purpose writes are thin Commits so both backends share one
// atomic update path.

func writeArtifact(s DocumentStore, ctx context.Context, id string, art models.Artifact, expectedVersion int64) (int64, error) {
	if art == nil {
		return 0, fmt.Errorf("write artifact: nil artifact")
	}
	doc, err := s.Commit(ctx, id, Commit{ExpectedVersion: expectedVersion, Artifact: art})
	if err != nil {
		return 0, err
	}
	return doc.Version, nil
}

func appendHistory(s DocumentStore, ctx context.Context, id string, event models.HistoryEvent) error {
	_, err := s.Commit(ctx, id, Commit{ExpectedVersion: AnyVersion, Event: &event})
	return err
}

func transitionStage(s DocumentStore, ctx context.Context, id string, from, to models.Stage, expectedVersion int64) error {
	if to == "" {
		return fmt.Errorf("%w: empty target stage", ErrIllegalTransition)
	}
	_, err := s.Commit(ctx, id, Commit{ExpectedVersion: expectedVersion, From: from, To: to})
	return err
}
