// Package exporter holds the Exporter capabilities: a hierarchical JSON
// requirement tree and an XLSX workbook.
package exporter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Lllllllleong/requirementflow/internal/models"
	"github.com/Lllllllleong/requirementflow/internal/pipeline"
)

// Supported formats.
const (
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// New returns the exporter for format.
func New(format string) (pipeline.Exporter, error) {
	switch format {
	case "", FormatJSON:
		return JSONExporter{}, nil
	case FormatXLSX:
		return XLSXExporter{}, nil
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}

// Node is one entry of the exported requirement tree.
type Node struct {
	ID          string                     `json:"id"`
	Label       string                     `json:"label"`
	Content     *string                    `json:"content"`
	Level       int                        `json:"level"`
	TitleNumber string                     `json:"titleNumber,omitempty"`
	Tags        []string                   `json:"tags,omitempty"`
	Status      string                     `json:"status"`
	Findings    []models.ValidationFinding `json:"findings,omitempty"`
	Children    []*Node                    `json:"children"`
}

// Tree is the JSON export document.
type Tree struct {
	DocumentID          string `json:"documentId"`
	Filename            string `json:"filename,omitempty"`
	ItemsVersion        int64  `json:"itemsVersion"`
	HasUnresolvedErrors bool   `json:"hasUnresolvedErrors"`
	Root                *Node  `json:"root"`
}

// JSONExporter writes the items as a tree rooted at the document, nesting
// each item under its parent heading.
type JSONExporter struct{}

func (JSONExporter) Export(ctx context.Context, in pipeline.ExportInput) (*pipeline.Rendition, error) {
	tree := BuildTree(in)
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal requirement tree: %w", err)
	}
	return &pipeline.Rendition{Format: FormatJSON, ContentType: "application/json", Extension: "json", Data: data}, nil
}

// BuildTree assembles the export tree. Items whose parent is unknown hang
// off the root.
func BuildTree(in pipeline.ExportInput) *Tree {
	byItem := findingsByItem(in.Findings)
	label := in.Document.Filename
	if label == "" {
		label = in.Document.ID
	}
	root := &Node{ID: "root", Label: label, Status: statusOf(nil), Children: []*Node{}}

	nodes := make(map[string]*Node, len(in.Items))
	var hasErrors bool
	for _, it := range in.Items {
		n := &Node{
			ID:          it.ItemID,
			Label:       it.Text,
			Level:       it.Level,
			TitleNumber: it.TitleNumber,
			Tags:        it.Tags,
			Findings:    byItem[it.ItemID],
			Status:      statusOf(byItem[it.ItemID]),
			Children:    []*Node{},
		}
		if !isHeading(it) {
			text := it.Text
			n.Content = &text
		} else if it.TitleNumber != "" {
			n.Label = it.TitleNumber + " " + it.Text
		}
		if n.Status == string(models.SeverityError) {
			hasErrors = true
		}
		nodes[it.ItemID] = n

		parent := root
		if p, ok := nodes[it.ParentID]; ok && it.ParentID != "" {
			parent = p
		}
		parent.Children = append(parent.Children, n)
	}

	var itemsVersion int64
	if in.Document.Artifacts.Parsed != nil {
		itemsVersion = in.Document.Artifacts.Parsed.Version
	}
	return &Tree{
		DocumentID:          in.Document.ID,
		Filename:            in.Document.Filename,
		ItemsVersion:        itemsVersion,
		HasUnresolvedErrors: hasErrors,
		Root:                root,
	}
}

func isHeading(it models.RequirementItem) bool {
	for _, t := range it.Tags {
		if t == "heading" {
			return true
		}
	}
	return false
}

func findingsByItem(findings []models.ValidationFinding) map[string][]models.ValidationFinding {
	out := make(map[string][]models.ValidationFinding)
	for _, f := range findings {
		out[f.ItemID] = append(out[f.ItemID], f)
	}
	return out
}

var severityRank = map[models.Severity]int{
	models.SeverityInfo:    1,
	models.SeverityWarning: 2,
	models.SeverityError:   3,
}

// statusOf is the worst severity of findings, or "ok".
func statusOf(findings []models.ValidationFinding) string {
	status := "ok"
	rank := 0
	for _, f := range findings {
		if r := severityRank[f.Severity]; r > rank {
			rank, status = r, string(f.Severity)
		}
	}
	return status
}

var _ pipeline.Exporter = JSONExporter{}
