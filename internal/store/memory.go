package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/requirementflow/internal/models"
)

// MemoryStore is an in-process DocumentStore. Reads return deep copies, so a
// caller never observes a half-applied Commit.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*models.Document
	now  func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source, mainly for deterministic tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		docs: make(map[string]*models.Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Create(ctx context.Context, nd NewDocument) (*models.Document, error) {
	if nd.ID == "" {
		return nil, fmt.Errorf("create document: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[nd.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, nd.ID)
	}
	doc := newDocument(nd, s.now())
	s.docs[nd.ID] = doc
	return doc.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]models.DocumentSummary, error) {
	s.mu.RLock()
	out := make([]models.DocumentSummary, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc.Summary())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) FindByHash(ctx context.Context, sha256 string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Document
	for _, doc := range s.docs {
		if doc.ContentRef.SHA256 != sha256 {
			continue
		}
		if found == nil || doc.CreatedAt.Before(found.CreatedAt) {
			found = doc
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: no document with hash %s", ErrNotFound, sha256)
	}
	return found.Clone(), nil
}

func (s *MemoryStore) Commit(ctx context.Context, id string, c Commit) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := cur.Clone()
	if err := apply(next, c, s.now()); err != nil {
		return nil, err
	}
	s.docs[id] = next.Clone()
	return next, nil
}

func (s *MemoryStore) WriteArtifact(ctx context.Context, id string, art models.Artifact, expectedVersion int64) (int64, error) {
	return writeArtifact(s, ctx, id, art, expectedVersion)
}

func (s *MemoryStore) AppendHistory(ctx context.Context, id string, event models.HistoryEvent) error {
	return appendHistory(s, ctx, id, event)
}

func (s *MemoryStore) TransitionStage(ctx context.Context, id string, from, to models.Stage, expectedVersion int64) error {
	return transitionStage(s, ctx, id, from, to, expectedVersion)
}

var _ DocumentStore = (*MemoryStore)(nil)
