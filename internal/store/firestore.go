package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/requirementflow/internal/models"
)

// Artifact documents live in an "artifacts" subcollection of each document so
// that large ParsedItems never bloat the list query.
const (
	artifactsCollection = "artifacts"
	artifactParsed      = "parsed"
	artifactValidated   = "validated"
	artifactExported    = "exported"
)

// FirestoreStore is a DocumentStore backed by a Firestore collection. Every
// Commit runs inside a transaction, so the version check, the stage change,
// the artifact write and the history append land together or not at all.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore returns a store over the named collection.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = "documents"
	}
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) docRef(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) artifactRefs(id string) []*firestore.DocumentRef {
	col := s.docRef(id).Collection(artifactsCollection)
	return []*firestore.DocumentRef{
		col.Doc(artifactParsed),
		col.Doc(artifactValidated),
		col.Doc(artifactExported),
	}
}

func (s *FirestoreStore) Create(ctx context.Context, nd NewDocument) (*models.Document, error) {
	if nd.ID == "" {
		return nil, fmt.Errorf("create document: empty id")
	}
	doc := newDocument(nd, time.Now().UTC())
	if _, err := s.docRef(nd.ID).Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, nd.ID)
		}
		return nil, fmt.Errorf("failed to create document %s: %w", nd.ID, err)
	}
	return doc, nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*models.Document, error) {
	var doc *models.Document
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var err error
		doc, err = s.load(tx, id)
		return err
	}, firestore.ReadOnly)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *FirestoreStore) List(ctx context.Context) ([]models.DocumentSummary, error) {
	snaps, err := s.client.Collection(s.collection).
		Select("id", "filename", "fileType", "stage", "version", "createdAt", "updatedAt").
		OrderBy("createdAt", firestore.Desc).
		OrderBy("id", firestore.Desc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	out := make([]models.DocumentSummary, 0, len(snaps))
	for _, snap := range snaps {
		var doc models.Document
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", snap.Ref.ID, err)
		}
		out = append(out, doc.Summary())
	}
	return out, nil
}

func (s *FirestoreStore) FindByHash(ctx context.Context, sha256 string) (*models.Document, error) {
	snaps, err := s.client.Collection(s.collection).
		Where("contentRef.sha256", "==", sha256).
		OrderBy("createdAt", firestore.Asc).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("%w: no document with hash %s", ErrNotFound, sha256)
	}
	return s.Get(ctx, snaps[0].Ref.ID)
}

func (s *FirestoreStore) Commit(ctx context.Context, id string, c Commit) (*models.Document, error) {
	var out *models.Document
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := s.load(tx, id)
		if err != nil {
			return err
		}
		if err := apply(doc, c, time.Now().UTC()); err != nil {
			return err
		}
		if err := tx.Set(s.docRef(id), doc); err != nil {
			return err
		}
		// Put may have flipped Stale on downstream artifacts, so every
		// present artifact is rewritten with the record.
		refs := s.artifactRefs(id)
		for i, art := range []any{doc.Artifacts.Parsed, doc.Artifacts.Validated, doc.Artifacts.Exported} {
			if isNilArtifact(art) {
				continue
			}
			if err := tx.Set(refs[i], art); err != nil {
				return err
			}
		}
		out = doc
		return nil
	}, firestore.MaxAttempts(5))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// load reads the record and its artifacts inside tx.
func (s *FirestoreStore) load(tx *firestore.Transaction, id string) (*models.Document, error) {
	snap, err := tx.Get(s.docRef(id))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read document %s: %w", id, err)
	}
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}

	snaps, err := tx.GetAll(s.artifactRefs(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read artifacts of %s: %w", id, err)
	}
	for _, as := range snaps {
		if !as.Exists() {
			continue
		}
		var err error
		switch as.Ref.ID {
		case artifactParsed:
			doc.Artifacts.Parsed = &models.ParsedItems{}
			err = as.DataTo(doc.Artifacts.Parsed)
		case artifactValidated:
			doc.Artifacts.Validated = &models.ValidationReport{}
			err = as.DataTo(doc.Artifacts.Validated)
		case artifactExported:
			doc.Artifacts.Exported = &models.ExportArtifact{}
			err = as.DataTo(doc.Artifacts.Exported)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode artifact %s of %s: %w", as.Ref.ID, id, err)
		}
	}
	return &doc, nil
}

func (s *FirestoreStore) WriteArtifact(ctx context.Context, id string, art models.Artifact, expectedVersion int64) (int64, error) {
	return writeArtifact(s, ctx, id, art, expectedVersion)
}

func (s *FirestoreStore) AppendHistory(ctx context.Context, id string, event models.HistoryEvent) error {
	return appendHistory(s, ctx, id, event)
}

func (s *FirestoreStore) TransitionStage(ctx context.Context, id string, from, to models.Stage, expectedVersion int64) error {
	return transitionStage(s, ctx, id, from, to, expectedVersion)
}

func isNilArtifact(a any) bool {
	switch x := a.(type) {
	case *models.ParsedItems:
		return x == nil
	case *models.ValidationReport:
		return x == nil
	case *models.ExportArtifact:
		return x == nil
	}
	return true
}

var _ DocumentStore = (*FirestoreStore)(nil)
