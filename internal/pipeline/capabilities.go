package pipeline

import (
	"context"

	"github.com/Lllllllleong/requirementflow/internal/models"
)

// Content is the verified raw input handed to a Parser.
type Content struct {
	DocID    string
	Filename string
	FileType string
	Data     []byte
}

// Parser turns raw document content into requirement items.
type Parser interface {
	Parse(ctx context.Context, c Content) ([]models.RequirementItem, error)
}

// RuleSet evaluates parsed items and yields findings.
type RuleSet interface {
	Evaluate(ctx context.Context, items []models.RequirementItem) ([]models.ValidationFinding, error)
}

// ExportInput is everything an Exporter may serialize.
type ExportInput struct {
	Document *models.Document
	Items    []models.RequirementItem
	Findings []models.ValidationFinding
}

// Rendition is the serialized output of an Exporter.
type Rendition struct {
	Format      string
	ContentType string
	Extension   string
	Data        []byte
}

// Exporter serializes validated items into an output artifact.
type Exporter interface {
	Export(ctx context.Context, in ExportInput) (*Rendition, error)
}

// Notifier is told about every successfully completed stage.
type Notifier interface {
	StageCompleted(ctx context.Context, doc *models.Document, stage models.Stage) error
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(ctx context.Context, c Content) ([]models.RequirementItem, error)

func (f ParserFunc) Parse(ctx context.Context, c Content) ([]models.RequirementItem, error) {
	return f(ctx, c)
}

// RuleSetFunc adapts a function to RuleSet.
type RuleSetFunc func(ctx context.Context, items []models.RequirementItem) ([]models.ValidationFinding, error)

func (f RuleSetFunc) Evaluate(ctx context.Context, items []models.RequirementItem) ([]models.ValidationFinding, error) {
	return f(ctx, items)
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(ctx context.Context, in ExportInput) (*Rendition, error)

func (f ExporterFunc) Export(ctx context.Context, in ExportInput) (*Rendition, error) {
	return f(ctx, in)
}

type nopNotifier struct{}

func (nopNotifier) StageCompleted(context.Context, *models.Document, models.Stage) error { return nil }
