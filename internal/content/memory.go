package content

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Lllllllleong/requirementflow/internal/models"
)

const memScheme = "mem://"

// MemoryStore keeps content in process memory. It backs local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, name string, data []byte, contentType string) (models.ContentRef, error) {
	if name == "" {
		return models.ContentRef{}, fmt.Errorf("put content: empty name")
	}
	uri := memScheme + name
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.objects[uri]; ok {
		return models.ContentRef{URI: uri, SHA256: Hash(existing), Size: int64(len(existing))}, nil
	}
	s.objects[uri] = append([]byte(nil), data...)
	return models.ContentRef{URI: uri, SHA256: Hash(data), Size: int64(len(data))}, nil
}

func (s *MemoryStore) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	if !strings.HasPrefix(uri, memScheme) {
		return nil, fmt.Errorf("%w: %s is not a memory uri", ErrNotFound, uri)
	}
	s.mu.RLock()
	data, ok := s.objects[uri]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Corrupt overwrites stored bytes without updating any ref. Tests use it to
// exercise integrity checks.
func (s *MemoryStore) Corrupt(uri string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[uri] = append([]byte(nil), data...)
}

var _ Store = (*MemoryStore)(nil)
