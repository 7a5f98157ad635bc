// Package pipeline moves documents through Uploaded -> Parsed -> Validated ->
// Exported, invoking the pluggable capabilities under a per-document guard and
// recording every outcome in the document's history.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/requirementflow/internal/content"
	"github.com/Lllllllleong/requirementflow/internal/models"
	"github.com/Lllllllleong/requirementflow/internal/stagelock"
	"github.com/Lllllllleong/requirementflow/internal/store"
)

// failureRecordTimeout bounds the write of a Failed transition, which must
// happen even after the caller's context has expired.
const failureRecordTimeout = 10 * time.Second

// Config holds the engine's tunables.
type Config struct {
	AllowedFileTypes []string
	// StageTimeout bounds every capability call. It must sit inside the
	// client's request timeout.
	StageTimeout time.Duration
	// LockWait is how long a stage call waits for a busy document before
	// returning ErrBusy.
	LockWait time.Duration
	// StuckAfter is the age after which an in-progress stage with no holder
	// is treated as abandoned. Zero disables recovery.
	StuckAfter      time.Duration
	MaxContentBytes int64
	ExportPrefix    string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		AllowedFileTypes: []string{"txt", "md", "docx", "pdf"},
		StageTimeout:     110 * time.Second,
		LockWait:         250 * time.Millisecond,
		StuckAfter:       10 * time.Minute,
		MaxContentBytes:  32 << 20,
		ExportPrefix:     "exports",
	}
}

// Inspector extracts upload-time metadata from raw content.
type Inspector interface {
	// PageCount returns the page count of data, or 0 when the file type has
	// no notion of pages.
	PageCount(fileType string, data []byte) (int, error)
}

// Deps is the explicit set of collaborators every operation runs against.
type Deps struct {
	Store     store.DocumentStore
	Content   content.Store
	Locks     *stagelock.Locker
	Parser    Parser
	Rules     RuleSet
	Exporter  Exporter
	Notifier  Notifier
	Inspector Inspector
	Logger    *slog.Logger
	NewID     func() string
	Now       func() time.Time
}

// Engine runs the stage operations.
type Engine struct {
	deps    Deps
	cfg     Config
	allowed map[string]bool
	log     *slog.Logger
}

// New validates deps and returns an Engine.
func New(deps Deps, cfg Config) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("pipeline.New: store is required")
	case deps.Content == nil:
		return nil, fmt.Errorf("pipeline.New: content store is required")
	case deps.Parser == nil, deps.Rules == nil, deps.Exporter == nil:
		return nil, fmt.Errorf("pipeline.New: parser, rule set and exporter are required")
	}
	if deps.Locks == nil {
		deps.Locks = stagelock.New()
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}

	def := DefaultConfig()
	if len(cfg.AllowedFileTypes) == 0 {
		cfg.AllowedFileTypes = def.AllowedFileTypes
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = def.StageTimeout
	}
	if cfg.LockWait < 0 {
		cfg.LockWait = 0
	}
	if cfg.ExportPrefix == "" {
		cfg.ExportPrefix = def.ExportPrefix
	}

	allowed := make(map[string]bool, len(cfg.AllowedFileTypes))
	for _, t := range cfg.AllowedFileTypes {
		allowed[normalizeFileType(t)] = true
	}
	return &Engine{deps: deps, cfg: cfg, allowed: allowed, log: deps.Logger}, nil
}

// Store exposes the engine's document store for read-side wiring.
func (e *Engine) Store() store.DocumentStore { return e.deps.Store }

// Content exposes the engine's content store for downloads.
func (e *Engine) Content() content.Store { return e.deps.Content }

// Busy reports whether a stage transition of docID is in flight in this process.
func (e *Engine) Busy(docID string) bool { return e.deps.Locks.Busy(docID) }

func normalizeFileType(t string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(t)), ".")
}

// stageRun describes one stage operation.
type stageRun struct {
	running models.Stage
	// admit rejects documents the operation may not start from. It runs
	// before the guard is taken and again under it.
	admit func(doc *models.Document) error
	// produce calls the capability and builds the stage artifact.
	produce func(ctx context.Context, doc *models.Document) (models.Artifact, error)
}

// run executes r against docID and returns the document as committed.
func (e *Engine) run(ctx context.Context, docID string, r stageRun) (*models.Document, error) {
	if strings.TrimSpace(docID) == "" {
		return nil, fmt.Errorf("%w: doc_id is required", ErrInvalidInput)
	}
	logCtx := e.log.With("documentId", docID, "stage", string(r.running))

	doc, err := e.deps.Store.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Stage.InProgress() {
		if !e.abandoned(doc) {
			return nil, stageErr(docID, r.running, ErrBusy, fmt.Errorf("document is %s", doc.Stage))
		}
	} else if err := r.admit(doc); err != nil {
		return nil, stageErr(docID, r.running, err, nil)
	}

	var out *models.Document
	err = e.deps.Locks.Do(ctx, docID, e.cfg.LockWait, func(ctx context.Context) error {
		doc, err := e.deps.Store.Get(ctx, docID)
		if err != nil {
			return err
		}
		if doc, err = e.recoverAbandoned(ctx, logCtx, doc); err != nil {
			return err
		}
		if doc.Stage.InProgress() {
			return stageErr(docID, r.running, ErrBusy, fmt.Errorf("document is %s", doc.Stage))
		}
		if err := r.admit(doc); err != nil {
			return stageErr(docID, r.running, err, nil)
		}

		version := doc.Version
		if err := e.deps.Store.TransitionStage(ctx, docID, doc.Stage, r.running, version); err != nil {
			return e.storeErr(docID, r.running, err)
		}
		logCtx.Info("Stage started.", "version", version, "from", string(doc.Stage))

		art, runErr := e.invoke(ctx, func(ctx context.Context) (models.Artifact, error) {
			return r.produce(ctx, doc)
		})
		if runErr != nil {
			return e.fail(ctx, logCtx, docID, r.running, failureKind(r.running), runErr)
		}

		completed := r.running.Completed()
		out, err = e.deps.Store.Commit(ctx, docID, store.Commit{
			ExpectedVersion: version,
			From:            r.running,
			To:              completed,
			Artifact:        art,
			Event:           &models.HistoryEvent{Stage: completed, Outcome: models.OutcomeSucceeded},
		})
		if err != nil {
			// The record is still in progress; settle it as Failed so the
			// document is retryable.
			kind := failureKind(r.running)
			if errors.Is(err, store.ErrVersionConflict) {
				kind = ErrConflict
			}
			return e.fail(ctx, logCtx, docID, r.running, kind, err)
		}
		logCtx.Info("Stage completed.", "version", out.Version)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, logCtx, out, out.Stage)
	return out, nil
}

// invoke runs fn under the stage deadline. It returns when the deadline
// passes even if fn ignores its context, and turns a panic into an error.
func (e *Engine) invoke(ctx context.Context, fn func(ctx context.Context) (models.Artifact, error)) (models.Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	defer cancel()

	type result struct {
		art models.Artifact
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: &panicError{value: p}}
			}
		}()
		art, err := fn(ctx)
		done <- result{art: art, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(res.err, ErrTimeout) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, res.err)
		}
		return res.art, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: no result within %s: %w", ErrTimeout, e.cfg.StageTimeout, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

type panicError struct{ value any }

func (p *panicError) Error() string { return fmt.Sprintf("capability panicked: %v", p.value) }

// fail records running -> Failed with the cause, then returns the stage error.
// The write uses a context detached from ctx so an expired request deadline
// cannot skip it.
func (e *Engine) fail(ctx context.Context, logCtx *slog.Logger, docID string, running models.Stage, kind, cause error) error {
	tag := causeTag(cause)
	logCtx.Error("Stage failed.", "cause", tag, "error", cause)

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureRecordTimeout)
	defer cancel()
	_, err := e.deps.Store.Commit(recCtx, docID, store.Commit{
		ExpectedVersion: store.AnyVersion,
		From:            running,
		To:              models.StageFailed,
		FailedFrom:      running,
		Event: &models.HistoryEvent{
			Stage:      models.StageFailed,
			FailedFrom: running,
			Outcome:    models.OutcomeFailed,
			Cause:      tag,
			Error:      cause.Error(),
		},
	})
	if err != nil {
		logCtx.Error("CRITICAL: Failed to record FAILED transition.", "updateError", err)
		cause = errors.Join(cause, fmt.Errorf("record failure: %w", err))
	}
	return stageErr(docID, running, kind, cause)
}

func causeTag(err error) string {
	var pe *panicError
	switch {
	case errors.Is(err, ErrTimeout):
		return models.CauseTimeout
	case errors.Is(err, ErrStorageUnavailable):
		return models.CauseStorage
	case errors.As(err, &pe):
		return models.CausePanic
	case errors.Is(err, store.ErrVersionConflict):
		return "conflict"
	}
	return models.CauseCapability
}

// abandoned reports whether doc sits in an in-progress stage for longer than
// any live holder could.
func (e *Engine) abandoned(doc *models.Document) bool {
	return e.cfg.StuckAfter > 0 && doc.Stage.InProgress() && e.deps.Now().Sub(doc.UpdatedAt) > e.cfg.StuckAfter
}

func (e *Engine) recoverAbandoned(ctx context.Context, logCtx *slog.Logger, doc *models.Document) (*models.Document, error) {
	if !e.abandoned(doc) {
		return doc, nil
	}
	logCtx.Warn("Recovering abandoned in-progress stage.", "stuckStage", string(doc.Stage), "updatedAt", doc.UpdatedAt)
	out, err := e.deps.Store.Commit(ctx, doc.ID, store.Commit{
		ExpectedVersion: doc.Version,
		From:            doc.Stage,
		To:              models.StageFailed,
		FailedFrom:      doc.Stage,
		Event: &models.HistoryEvent{
			Stage:      models.StageFailed,
			FailedFrom: doc.Stage,
			Outcome:    models.OutcomeFailed,
			Cause:      models.CauseAbandoned,
			Error:      fmt.Sprintf("%s not settled since %s", doc.Stage, doc.UpdatedAt.Format(time.RFC3339)),
		},
	})
	if err != nil {
		return nil, e.storeErr(doc.ID, doc.Stage, err)
	}
	return out, nil
}

func (e *Engine) storeErr(docID string, stage models.Stage, err error) error {
	if errors.Is(err, store.ErrVersionConflict) {
		return stageErr(docID, stage, ErrConflict, err)
	}
	return err
}

func (e *Engine) notify(ctx context.Context, logCtx *slog.Logger, doc *models.Document, stage models.Stage) {
	if err := e.deps.Notifier.StageCompleted(ctx, doc, stage); err != nil {
		logCtx.Warn("Stage notification failed.", "error", err)
	}
}
