package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/requirementflow/internal/models"
)

func memObjectURI(_, name string) string { return "mem://" + name }

func newTestIngest(t *testing.T, maxBytes int64) (*UploadIngestFunction, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	f := NewUploadIngestWithEngine(env.engine, UploadIngestConfig{
		MaxBytes:     maxBytes,
		SkipPrefixes: []string{"uploads/", "exports/"},
		ObjectURI:    memObjectURI,
	})
	return f, env
}

func TestIngestRegistersUpload(t *testing.T) {
	f, env := newTestIngest(t, 0)
	ctx := context.Background()
	_, err := env.blobs.Put(ctx, "incoming/spec.txt", []byte("the system shall log errors"), "text/plain")
	require.NoError(t, err)

	doc, err := f.Process(ctx, GCSEvent{Bucket: "b", Name: "incoming/spec.txt"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "spec.txt", doc.Filename)
	assert.Equal(t, "txt", doc.FileType)
	assert.Equal(t, "mem://incoming/spec.txt", doc.ContentRef.URI)
	assert.Equal(t, models.StageUploaded, doc.Stage)

	// The registered document runs through the pipeline like an API upload.
	items, err := env.engine.Parse(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, items.Items, 1)
}

func TestIngestSkipsDuplicates(t *testing.T) {
	f, env := newTestIngest(t, 0)
	ctx := context.Background()
	data := []byte("the system shall log errors")
	_, err := env.blobs.Put(ctx, "a.txt", data, "text/plain")
	require.NoError(t, err)
	_, err = env.blobs.Put(ctx, "copy/a.txt", data, "text/plain")
	require.NoError(t, err)

	first, err := f.Process(ctx, GCSEvent{Bucket: "b", Name: "a.txt"})
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.Process(ctx, GCSEvent{Bucket: "b", Name: "copy/a.txt"})
	require.NoError(t, err)
	assert.Nil(t, second)

	docs, err := env.docs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestIngestSkips(t *testing.T) {
	f, env := newTestIngest(t, 8)
	ctx := context.Background()
	_, err := env.blobs.Put(ctx, "tool.exe", []byte("MZ"), "application/octet-stream")
	require.NoError(t, err)
	_, err = env.blobs.Put(ctx, "big.txt", []byte("far more than eight bytes"), "text/plain")
	require.NoError(t, err)

	tests := []struct {
		name  string
		event GCSEvent
	}{
		{"pipeline upload", GCSEvent{Bucket: "b", Name: "uploads/D1/a.txt"}},
		{"export", GCSEvent{Bucket: "b", Name: "exports/D1/v4.json"}},
		{"folder", GCSEvent{Bucket: "b", Name: "incoming/"}},
		{"no bucket", GCSEvent{Name: "a.txt"}},
		{"unsupported type", GCSEvent{Bucket: "b", Name: "tool.exe"}},
		{"too large", GCSEvent{Bucket: "b", Name: "big.txt"}},
		{"deleted object", GCSEvent{Bucket: "b", Name: "gone.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := f.Process(ctx, tt.event)
			assert.NoError(t, err)
			assert.Nil(t, doc)
		})
	}

	docs, err := env.docs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIngestDefaultObjectURI(t *testing.T) {
	f := NewUploadIngestWithEngine(nil, UploadIngestConfig{})
	assert.Equal(t, "gs://bucket/dir/a.pdf", f.config.ObjectURI("bucket", "dir/a.pdf"))
}
