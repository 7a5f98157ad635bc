package models

// Stage is a point in a document's processing lifecycle.
type Stage string

const (
	StageUploaded   Stage = "Uploaded"
	StageParsing    Stage = "Parsing"
	StageParsed     Stage = "Parsed"
	StageValidating Stage = "Validating"
	StageValidated  Stage = "Validated"
	StageExporting  Stage = "Exporting"
	StageExported   Stage = "Exported"
	StageFailed     Stage = "Failed"
)

// transitions lists the legal edges of the stage machine. Settled stages may
// re-enter earlier in-progress stages so that completed documents can be
// re-run; in-progress stages only settle into their result or Failed.
var transitions = map[Stage][]Stage{
	StageUploaded:   {StageParsing},
	StageParsing:    {StageParsed, StageFailed},
	StageParsed:     {StageParsing, StageValidating},
	StageValidating: {StageValidated, StageFailed},
	StageValidated:  {StageParsing, StageValidating, StageExporting},
	StageExporting:  {StageExported, StageFailed},
	StageExported:   {StageParsing, StageValidating, StageExporting},
	StageFailed:     {StageParsing, StageValidating, StageExporting},
}

// CanTransition reports whether from -> to is an edge of the stage machine.
func CanTransition(from, to Stage) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// InProgress reports whether the stage is one of the *-ing stages.
func (s Stage) InProgress() bool {
	switch s {
	case StageParsing, StageValidating, StageExporting:
		return true
	}
	return false
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Completed returns the settled stage an in-progress stage resolves to on
// success, or "" when s is not in progress.
func (s Stage) Completed() Stage {
	switch s {
	case StageParsing:
		return StageParsed
	case StageValidating:
		return StageValidated
	case StageExporting:
		return StageExported
	}
	return ""
}
