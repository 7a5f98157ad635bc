package pipeline

import (
	"errors"
	"fmt"

	"github.com/Lllllllleong/requirementflow/internal/models"
	"github.com/Lllllllleong/requirementflow/internal/stagelock"
	"github.com/Lllllllleong/requirementflow/internal/store"
)

// Sentinel errors of the pipeline. Use errors.Is() to classify a returned error.
var (
	// ErrInvalidInput rejects a request before any state change.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidFileType is the InvalidInput case of an unknown fileType.
	ErrInvalidFileType = fmt.Errorf("%w: unsupported file type", ErrInvalidInput)
	// ErrStorageUnavailable indicates the content collaborator could not
	// provide or verify the referenced bytes.
	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrNotFound          = store.ErrNotFound
	ErrIllegalTransition = store.ErrIllegalTransition
	ErrNoParsedData      = fmt.Errorf("%w: no parsed data", store.ErrIllegalTransition)
	ErrNotValidated      = fmt.Errorf("%w: not validated", store.ErrIllegalTransition)

	// ErrBusy is transient; retry with backoff.
	ErrBusy = stagelock.ErrBusy
	// ErrConflict is transient; re-fetch and retry.
	ErrConflict = errors.New("conflict")

	// ErrCapabilityFailure is the parent of every Parser, RuleSet and
	// Exporter failure. The failure is recorded in history before return.
	ErrCapabilityFailure = errors.New("capability failure")
	ErrParseFailed       = fmt.Errorf("%w: parse failed", ErrCapabilityFailure)
	ErrValidateFailed    = fmt.Errorf("%w: validate failed", ErrCapabilityFailure)
	ErrExportFailed      = fmt.Errorf("%w: export failed", ErrCapabilityFailure)
	// ErrTimeout is the cause of a capability that outlived its deadline.
	ErrTimeout = errors.New("timeout")
)

// StageError reports a failed stage operation on one document. It matches
// both its Kind and its Cause under errors.Is.
type StageError struct {
	DocID string
	Stage models.Stage
	Kind  error
	Cause error
}

func (e *StageError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s %s: %v", e.Stage, e.DocID, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Stage, e.DocID, e.Kind, e.Cause)
}

func (e *StageError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func stageErr(docID string, stage models.Stage, kind, cause error) error {
	return &StageError{DocID: docID, Stage: stage, Kind: kind, Cause: cause}
}

// failureKind maps an in-progress stage to its capability failure sentinel.
func failureKind(stage models.Stage) error {
	switch stage {
	case models.StageParsing:
		return ErrParseFailed
	case models.StageValidating:
		return ErrValidateFailed
	case models.StageExporting:
		return ErrExportFailed
	}
	return ErrCapabilityFailure
}

// Code returns a stable machine-readable code for err, used in API responses.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidFileType):
		return "InvalidFileType"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrNoParsedData):
		return "NoParsedData"
	case errors.Is(err, ErrNotValidated):
		return "NotValidated"
	case errors.Is(err, ErrIllegalTransition):
		return "IllegalTransition"
	case errors.Is(err, ErrBusy):
		return "Busy"
	case errors.Is(err, ErrConflict), errors.Is(err, store.ErrVersionConflict):
		return "Conflict"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrParseFailed):
		return "ParseFailed"
	case errors.Is(err, ErrValidateFailed):
		return "ValidateFailed"
	case errors.Is(err, ErrExportFailed):
		return "ExportFailed"
	case errors.Is(err, ErrCapabilityFailure):
		return "CapabilityFailure"
	case errors.Is(err, ErrStorageUnavailable):
		return "StorageUnavailable"
	}
	return "Internal"
}
