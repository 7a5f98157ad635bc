package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/requirementflow/internal/gcp"
	"github.com/Lllllllleong/requirementflow/internal/models"
)

// runContract exercises the DocumentStore behaviour every backend shares.
func runContract(t *testing.T, newStore func(t *testing.T) DocumentStore) {
	ctx := context.Background()
	newID := func() string { return "doc-" + uuid.NewString() }

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		id := newID()
		doc, err := s.Create(ctx, NewDocument{ID: id, Filename: "a.txt", FileType: "txt", ContentRef: models.ContentRef{URI: "mem://a", SHA256: "h-" + id, Size: 3}})
		require.NoError(t, err)
		assert.Equal(t, models.StageUploaded, doc.Stage)
		assert.Equal(t, int64(1), doc.Version)
		require.Len(t, doc.History, 1)
		assert.Equal(t, models.StageUploaded, doc.History[0].Stage)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "a.txt", got.Filename)
		assert.Equal(t, "h-"+id, got.ContentRef.SHA256)

		_, err = s.Create(ctx, NewDocument{ID: id, FileType: "txt"})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, newID())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.Commit(ctx, newID(), Commit{To: models.StageParsing})
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.FindByHash(ctx, "no-such-hash-"+newID())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("CommitAppliesAtomically", func(t *testing.T) {
		s := newStore(t)
		id := newID()
		_, err := s.Create(ctx, NewDocument{ID: id, FileType: "txt"})
		require.NoError(t, err)
		require.NoError(t, s.TransitionStage(ctx, id, models.StageUploaded, models.StageParsing, 1))

		items := &models.ParsedItems{Items: []models.RequirementItem{{ItemID: "R1", Text: "shall"}}}
		doc, err := s.Commit(ctx, id, Commit{
			ExpectedVersion: 1,
			From:            models.StageParsing,
			To:              models.StageParsed,
			Artifact:        items,
			Event:           &models.HistoryEvent{Stage: models.StageParsed, Outcome: models.OutcomeSucceeded},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), doc.Version)
		assert.Equal(t, models.StageParsed, doc.Stage)
		require.Len(t, doc.History, 2)
		assert.Equal(t, int64(2), doc.History[1].Version)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got.Artifacts.Parsed)
		assert.Equal(t, int64(2), got.Artifacts.Parsed.Version)
		assert.Equal(t, "R1", got.Artifacts.Parsed.Items[0].ItemID)
	})

	t.Run("VersionConflictLeavesDocumentUnchanged", func(t *testing.T) {
		s := newStore(t)
		id := newID()
		_, err := s.Create(ctx, NewDocument{ID: id, FileType: "txt"})
		require.NoError(t, err)

		_, err = s.WriteArtifact(ctx, id, &models.ParsedItems{}, 7)
		assert.ErrorIs(t, err, ErrVersionConflict)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Nil(t, got.Artifacts.Parsed)
	})

	t.Run("IllegalTransition", func(t *testing.T) {
		s := newStore(t)
		id := newID()
		_, err := s.Create(ctx, NewDocument{ID: id, FileType: "txt"})
		require.NoError(t, err)

		err = s.TransitionStage(ctx, id, models.StageUploaded, models.StageExporting, AnyVersion)
		assert.ErrorIs(t, err, ErrIllegalTransition)
		err = s.TransitionStage(ctx, id, models.StageParsed, models.StageValidating, AnyVersion)
		assert.ErrorIs(t, err, ErrIllegalTransition)
		err = s.TransitionStage(ctx, id, models.StageUploaded, "", AnyVersion)
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})

	t.Run("ReparseMarksDownstreamStale", func(t *testing.T) {
		s := newStore(t)
		id := newID()
		_, err := s.Create(ctx, NewDocument{ID: id, FileType: "txt"})
		require.NoError(t, err)
		v, err := s.WriteArtifact(ctx, id, &models.ParsedItems{}, 1)
		require.NoError(t, err)
		v, err = s.WriteArtifact(ctx, id, &models.ValidationReport{ItemsVersion: v}, v)
		require.NoError(t, err)
		_, err = s.WriteArtifact(ctx, id, &models.ParsedItems{}, v)
		require.NoError(t, err)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(4), got.Version)
		assert.False(t, got.Artifacts.Parsed.Stale)
		require.NotNil(t, got.Artifacts.Validated)
		assert.True(t, got.Artifacts.Validated.Stale)
	})

	t.Run("AppendHistory", func(t *testing.T) {
		s := newStore(t)
		id := newID()
		_, err := s.Create(ctx, NewDocument{ID: id, FileType: "txt"})
		require.NoError(t, err)
		require.NoError(t, s.AppendHistory(ctx, id, models.HistoryEvent{Stage: models.StageFailed, FailedFrom: models.StageParsing, Outcome: models.OutcomeFailed, Cause: models.CauseTimeout}))

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		require.Len(t, got.History, 2)
		assert.Equal(t, models.CauseTimeout, got.History[1].Cause)
		assert.Equal(t, int64(1), got.History[1].Version)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("FindByHash", func(t *testing.T) {
		s := newStore(t)
		hash := "hash-" + newID()
		first := newID()
		_, err := s.Create(ctx, NewDocument{ID: first, FileType: "txt", ContentRef: models.ContentRef{SHA256: hash}})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		_, err = s.Create(ctx, NewDocument{ID: newID(), FileType: "txt", ContentRef: models.ContentRef{SHA256: hash}})
		require.NoError(t, err)

		got, err := s.FindByHash(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, first, got.ID)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runContract(t, func(t *testing.T) DocumentStore { return NewMemoryStore() })
}

func TestMemoryStoreListOrder(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	s := NewMemoryStore(WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		_, err := s.Create(ctx, NewDocument{ID: id, FileType: "txt"})
		require.NoError(t, err)
	}

	docs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"C", "B", "A"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})

	empty, err := NewMemoryStore().List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Create(ctx, NewDocument{ID: "D1", FileType: "txt"})
	require.NoError(t, err)
	_, err = s.WriteArtifact(ctx, "D1", &models.ParsedItems{Items: []models.RequirementItem{{ItemID: "R1", Text: "original"}}}, 1)
	require.NoError(t, err)

	got, err := s.Get(ctx, "D1")
	require.NoError(t, err)
	got.Artifacts.Parsed.Items[0].Text = "mutated"
	got.History = append(got.History, models.HistoryEvent{Stage: models.StageFailed})

	again, err := s.Get(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Artifacts.Parsed.Items[0].Text)
	assert.Len(t, again.History, 1)
}

func TestMemoryStoreConcurrentWritersOneWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Create(ctx, NewDocument{ID: "D1", FileType: "txt"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.WriteArtifact(ctx, "D1", &models.ParsedItems{}, 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, ErrVersionConflict))
	}
	assert.Equal(t, 1, ok)
}

// TestFirestoreStoreContract runs against the Firestore emulator.
func TestFirestoreStoreContract(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := gcp.NewFirestoreClient(ctx, os.Getenv("PROJECT_ID"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	runContract(t, func(t *testing.T) DocumentStore {
		return NewFirestoreStore(client, "documents-test-"+uuid.NewString()[:8])
	})
}
