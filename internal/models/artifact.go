package models

import "time"

// RequirementItem is one requirement extracted from a document by a Parser.
type RequirementItem struct {
	ItemID         string         `firestore:"itemId" json:"itemId"`
	Text           string         `firestore:"text" json:"text"`
	SourceLocation SourceLocation `firestore:"sourceLocation" json:"sourceLocation"`
	Tags           []string       `firestore:"tags,omitempty" json:"tags,omitempty"`

	// Heading structure, filled by parsers that recognise numbered sections.
	TitleNumber string `firestore:"titleNumber,omitempty" json:"titleNumber,omitempty"`
	Level       int    `firestore:"level,omitempty" json:"level,omitempty"`
	ParentID    string `firestore:"parentId,omitempty" json:"parentId,omitempty"`
}

// SourceLocation is a best-effort hint at where an item came from.
type SourceLocation struct {
	Page   int `firestore:"page,omitempty" json:"page,omitempty"`
	Line   int `firestore:"line,omitempty" json:"line,omitempty"`
	Offset int `firestore:"offset,omitempty" json:"offset,omitempty"`
}

// Severity grades a validation finding.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// ValidationFinding is one result of evaluating a rule against an item.
type ValidationFinding struct {
	ItemID   string   `firestore:"itemId" json:"itemId"`
	Severity Severity `firestore:"severity" json:"severity"`
	Message  string   `firestore:"message" json:"message"`
	RuleID   string   `firestore:"ruleId,omitempty" json:"ruleId,omitempty"`
}

// ParsedItems is the artifact written by the Parse stage.
type ParsedItems struct {
	Version    int64             `firestore:"version" json:"version"`
	Stale      bool              `firestore:"stale" json:"stale"`
	ProducedAt time.Time         `firestore:"producedAt" json:"producedAt"`
	Items      []RequirementItem `firestore:"items" json:"items"`
}

// ValidationReport is the artifact written by the Validate stage.
type ValidationReport struct {
	Version      int64               `firestore:"version" json:"version"`
	Stale        bool                `firestore:"stale" json:"stale"`
	ProducedAt   time.Time           `firestore:"producedAt" json:"producedAt"`
	ItemsVersion int64               `firestore:"itemsVersion" json:"itemsVersion"`
	Findings     []ValidationFinding `firestore:"findings" json:"findings"`
}

// HasErrors reports whether any finding has error severity.
func (r *ValidationReport) HasErrors() bool {
	if r == nil {
		return false
	}
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ExportArtifact describes the serialized export and where to download it.
type ExportArtifact struct {
	Version             int64     `firestore:"version" json:"version"`
	Stale               bool      `firestore:"stale" json:"stale"`
	ProducedAt          time.Time `firestore:"producedAt" json:"producedAt"`
	Format              string    `firestore:"format" json:"format"`
	ContentType         string    `firestore:"contentType" json:"contentType"`
	URI                 string    `firestore:"uri" json:"uri"`
	SHA256              string    `firestore:"sha256" json:"sha256"`
	Size                int64     `firestore:"size" json:"size"`
	ItemCount           int       `firestore:"itemCount" json:"itemCount"`
	HasUnresolvedErrors bool      `firestore:"hasUnresolvedErrors" json:"hasUnresolvedErrors"`
}

// Artifacts holds the latest artifact of each producing stage. A rewrite of
// an upstream stage marks downstream artifacts stale instead of dropping them.
type Artifacts struct {
	Parsed    *ParsedItems      `firestore:"parsed,omitempty" json:"parsed,omitempty"`
	Validated *ValidationReport `firestore:"validated,omitempty" json:"validated,omitempty"`
	Exported  *ExportArtifact   `firestore:"exported,omitempty" json:"exported,omitempty"`
}

// Artifact is implemented by the three stage artifacts.
type Artifact interface {
	// ProducedBy returns the settled stage that writes this artifact.
	ProducedBy() Stage
	setVersion(v int64, at time.Time)
}

func (p *ParsedItems) ProducedBy() Stage      { return StageParsed }
func (r *ValidationReport) ProducedBy() Stage { return StageValidated }
func (e *ExportArtifact) ProducedBy() Stage   { return StageExported }

func (p *ParsedItems) setVersion(v int64, at time.Time) {
	p.Version, p.Stale, p.ProducedAt = v, false, at
}

func (r *ValidationReport) setVersion(v int64, at time.Time) {
	r.Version, r.Stale, r.ProducedAt = v, false, at
}

func (e *ExportArtifact) setVersion(v int64, at time.Time) {
	e.Version, e.Stale, e.ProducedAt = v, false, at
}

// Put stores a at version v, marking every downstream artifact stale.
func (a *Artifacts) Put(art Artifact, v int64, at time.Time) {
	art.setVersion(v, at)
	switch x := art.(type) {
	case *ParsedItems:
		a.Parsed = x
		if a.Validated != nil {
			a.Validated.Stale = true
		}
		if a.Exported != nil {
			a.Exported.Stale = true
		}
	case *ValidationReport:
		a.Validated = x
		if a.Exported != nil {
			a.Exported.Stale = true
		}
	case *ExportArtifact:
		a.Exported = x
	}
}

func (a Artifacts) clone() Artifacts {
	var c Artifacts
	if a.Parsed != nil {
		p := *a.Parsed
		p.Items = append([]RequirementItem(nil), a.Parsed.Items...)
		c.Parsed = &p
	}
	if a.Validated != nil {
		r := *a.Validated
		r.Findings = append([]ValidationFinding(nil), a.Validated.Findings...)
		c.Validated = &r
	}
	if a.Exported != nil {
		e := *a.Exported
		c.Exported = &e
	}
	return c
}
