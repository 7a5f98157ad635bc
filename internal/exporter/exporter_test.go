package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Lllllllleong/requirementflow/internal/models"
	"github.com/Lllllllleong/requirementflow/internal/pipeline"
)

func sampleInput() pipeline.ExportInput {
	items := []models.RequirementItem{
		{ItemID: "R1", Text: "Logging", Tags: []string{"heading"}, TitleNumber: "3.1", Level: 2},
		{ItemID: "R2", Text: "The system shall log errors.", TitleNumber: "3.1", Level: 3, ParentID: "R1", SourceLocation: models.SourceLocation{Line: 2}},
		{ItemID: "R3", Text: "Logs are kept TBD days.", TitleNumber: "3.1", Level: 3, ParentID: "R1", Tags: []string{"retention"}},
		{ItemID: "R4", Text: "Orphan shall survive.", ParentID: "R404"},
	}
	doc := &models.Document{ID: "D1", Filename: "spec.txt"}
	doc.Artifacts.Parsed = &models.ParsedItems{Version: 2, Items: items}
	return pipeline.ExportInput{
		Document: doc,
		Items:    items,
		Findings: []models.ValidationFinding{
			{ItemID: "R2", Severity: models.SeverityWarning, Message: "every item must have a tag", RuleID: "require-tag"},
			{ItemID: "R3", Severity: models.SeverityInfo, Message: "short", RuleID: "min-length"},
			{ItemID: "R3", Severity: models.SeverityError, Message: "placeholder", RuleID: "no-placeholders"},
		},
	}
}

func TestJSONExporterTree(t *testing.T) {
	r, err := JSONExporter{}.Export(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "json", r.Extension)
	assert.Equal(t, "application/json", r.ContentType)

	var tree Tree
	require.NoError(t, json.Unmarshal(r.Data, &tree))
	assert.Equal(t, "D1", tree.DocumentID)
	assert.Equal(t, int64(2), tree.ItemsVersion)
	assert.True(t, tree.HasUnresolvedErrors)

	root := tree.Root
	assert.Equal(t, "spec.txt", root.Label)
	require.Len(t, root.Children, 2)

	heading := root.Children[0]
	assert.Equal(t, "3.1 Logging", heading.Label)
	assert.Nil(t, heading.Content)
	assert.Equal(t, "ok", heading.Status)
	require.Len(t, heading.Children, 2)
	assert.Equal(t, "warning", heading.Children[0].Status)
	require.NotNil(t, heading.Children[0].Content)
	assert.Equal(t, "The system shall log errors.", *heading.Children[0].Content)
	assert.Equal(t, "error", heading.Children[1].Status)
	assert.Len(t, heading.Children[1].Findings, 2)

	assert.Equal(t, "R4", root.Children[1].ID)
}

func TestJSONExporterWarningsOnly(t *testing.T) {
	in := sampleInput()
	in.Findings = in.Findings[:2]
	tree := BuildTree(in)
	assert.False(t, tree.HasUnresolvedErrors)
}

func TestXLSXExporter(t *testing.T) {
	r, err := XLSXExporter{}.Export(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "xlsx", r.Extension)

	f, err := excelize.OpenReader(bytes.NewReader(r.Data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{"Requirements", "Findings"}, f.GetSheetList())

	rows, err := f.GetRows("Requirements")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "Item ID", rows[0][0])
	assert.Equal(t, []string{"R2", "3.1", "3", "R1", "The system shall log errors.", "", "0", "2", "warning"}, rows[2])
	assert.Equal(t, "error", rows[3][8])

	rows, err = f.GetRows("Findings")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"R3", "error", "no-placeholders", "placeholder"}, rows[3])
}

func TestNew(t *testing.T) {
	e, err := New("")
	require.NoError(t, err)
	assert.IsType(t, JSONExporter{}, e)

	e, err = New("xlsx")
	require.NoError(t, err)
	assert.IsType(t, XLSXExporter{}, e)

	_, err = New("csv")
	assert.Error(t, err)
}
