package models

import "time"

// Document is the lifecycle record of an uploaded requirements document.
// It is stored in Firestore and returned verbatim by the detail endpoint.
type Document struct {
	ID         string     `firestore:"id" json:"id"`
	Filename   string     `firestore:"filename,omitempty" json:"filename,omitempty"`
	FileType   string     `firestore:"fileType" json:"fileType"`
	ContentRef ContentRef `firestore:"contentRef" json:"contentRef"`
	PageCount  int        `firestore:"pageCount,omitempty" json:"pageCount,omitempty"`

	Stage      Stage `firestore:"stage" json:"stage"`
	FailedFrom Stage `firestore:"failedFrom,omitempty" json:"failedFrom,omitempty"`
	Version    int64 `firestore:"version" json:"version"`

	Artifacts Artifacts      `firestore:"-" json:"artifacts"`
	History   []HistoryEvent `firestore:"history" json:"history"`

	CreatedAt time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// ContentRef points at the raw uploaded bytes held by the content store.
type ContentRef struct {
	URI    string `firestore:"uri" json:"uri"`
	SHA256 string `firestore:"sha256" json:"sha256"`
	Size   int64  `firestore:"size" json:"size"`
}

// DocumentSummary is the list projection of a Document.
type DocumentSummary struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename,omitempty"`
	FileType  string    `json:"fileType"`
	Stage     Stage     `json:"stage"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary projects the document onto its list view.
func (d *Document) Summary() DocumentSummary {
	return DocumentSummary{
		ID:        d.ID,
		Filename:  d.Filename,
		FileType:  d.FileType,
		Stage:     d.Stage,
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// Clone returns a deep copy so callers never share slices or artifact
// pointers with the store.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.History = append([]HistoryEvent(nil), d.History...)
	c.Artifacts = d.Artifacts.clone()
	return &c
}

// Outcome is the result recorded on a history event.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// HistoryEvent is one append-only entry of a document's audit trail.
type HistoryEvent struct {
	Stage      Stage     `firestore:"stage" json:"stage"`
	FailedFrom Stage     `firestore:"failedFrom,omitempty" json:"failedFrom,omitempty"`
	Outcome    Outcome   `firestore:"outcome" json:"outcome"`
	Version    int64     `firestore:"version" json:"version"`
	Cause      string    `firestore:"cause,omitempty" json:"cause,omitempty"`
	Error      string    `firestore:"error,omitempty" json:"error,omitempty"`
	At         time.Time `firestore:"at" json:"at"`
}

// Failure causes recorded on Failed history events.
const (
	CauseCapability = "capability"
	CauseTimeout    = "timeout"
	CauseStorage    = "storage"
	CauseAbandoned  = "abandoned"
	CausePanic      = "panic"
)
