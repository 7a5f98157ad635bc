package content

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/requirementflow/internal/models"
)

func TestMemoryStorePutOpenVerify(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ref, err := s.Put(ctx, "uploads/D1/spec.txt", []byte("system shall log errors"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "mem://uploads/D1/spec.txt", ref.URI)
	assert.Equal(t, int64(23), ref.Size)
	assert.Equal(t, Hash([]byte("system shall log errors")), ref.SHA256)

	data, err := ReadVerified(ctx, s, ref, 0)
	require.NoError(t, err)
	assert.Equal(t, "system shall log errors", string(data))
}

func TestMemoryStorePutExistingKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, err := s.Put(ctx, "a", []byte("one"), "")
	require.NoError(t, err)
	second, err := s.Put(ctx, "a", []byte("two"), "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReadVerifiedDetectsTampering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ref, err := s.Put(ctx, "a", []byte("original"), "")
	require.NoError(t, err)

	s.Corrupt(ref.URI, []byte("tampered"))
	_, err = ReadVerified(ctx, s, ref, 0)
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestReadVerifiedLimits(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	ref, err := s.Put(ctx, "a", []byte("0123456789"), "")
	require.NoError(t, err)

	_, err = ReadVerified(ctx, s, ref, 4)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = ReadVerified(ctx, s, ref, 10)
	assert.NoError(t, err)
}

func TestOpenMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Open(context.Background(), "mem://nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ReadVerified(context.Background(), s, models.ContentRef{URI: "gs://bucket/x"}, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
