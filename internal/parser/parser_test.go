package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/requirementflow/internal/pipeline"
)

func parse(t *testing.T, fileType, text string) []itemView {
	t.Helper()
	items, err := NewHeadingParser().Parse(context.Background(), pipeline.Content{DocID: "D1", FileType: fileType, Data: []byte(text)})
	require.NoError(t, err)
	out := make([]itemView, len(items))
	for i, it := range items {
		out[i] = itemView{it.ItemID, it.Text, it.TitleNumber, it.Level, it.ParentID}
	}
	return out
}

type itemView struct {
	ID, Text, Number string
	Level            int
	Parent           string
}

func TestHeadingParserSingleLine(t *testing.T) {
	got := parse(t, "txt", "system shall log errors\n")
	assert.Equal(t, []itemView{{"R1", "system shall log errors", "", 1, ""}}, got)
}

func TestHeadingParserSections(t *testing.T) {
	text := `1 Scope
This document covers the logger.

3 Requirements
3.1 Logging
The system shall log errors.
The system shall rotate logs
daily at midnight.
3.2 Security
- The system shall encrypt data at rest #security
2 Notes
`
	got := parse(t, "txt", text)
	assert.Equal(t, []itemView{
		{"R1", "Scope", "1", 1, ""},
		{"R2", "This document covers the logger.", "1", 2, "R1"},
		{"R3", "Requirements", "3", 1, ""},
		{"R4", "Logging", "3.1", 2, "R3"},
		{"R5", "The system shall log errors.", "3.1", 3, "R4"},
		{"R6", "The system shall rotate logs daily at midnight.", "3.1", 3, "R4"},
		{"R7", "Security", "3.2", 2, "R3"},
		{"R8", "- The system shall encrypt data at rest #security", "3.2", 3, "R7"},
		{"R9", "Notes", "2", 1, ""},
	}, got)
}

func TestHeadingParserTagsAndLocations(t *testing.T) {
	items, err := NewHeadingParser().Parse(context.Background(), pipeline.Content{
		FileType: "txt",
		Data:     []byte("1 Intro\n\nThe API shall respond in 2 s #Performance #api\n"),
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, []string{TagHeading}, items[0].Tags)
	assert.Equal(t, []string{"performance", "api"}, items[1].Tags)
	assert.Equal(t, 3, items[1].SourceLocation.Line)
	assert.Equal(t, len("1 Intro\n\n"), items[1].SourceLocation.Offset)
}

func TestHeadingParserNumberedSentenceIsNotHeading(t *testing.T) {
	got := parse(t, "txt", "1. The system shall restart within 5 s.\n")
	assert.Equal(t, "", got[0].Number)
	assert.Equal(t, "1. The system shall restart within 5 s.", got[0].Text)
}

func TestHeadingParserMarkdown(t *testing.T) {
	text := "# Overview\nThe tool shall run offline.\n## 2.1 Inputs\nInputs shall be UTF-8.\n"
	got := parse(t, "md", text)
	assert.Equal(t, []itemView{
		{"R1", "Overview", "", 1, ""},
		{"R2", "The tool shall run offline.", "", 2, "R1"},
		{"R3", "Inputs", "2.1", 2, "R1"},
		{"R4", "Inputs shall be UTF-8.", "2.1", 3, "R3"},
	}, got)
}

func TestHeadingParserDOCX(t *testing.T) {
	xml := `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:r><w:t>3.1 Logging</w:t></w:r></w:p>
<w:p><w:r><w:t>The system </w:t></w:r><w:r><w:t>shall log errors.</w:t></w:r></w:p>
</w:body></w:document>`
	got := parse(t, "docx", string(docx(t, xml)))
	assert.Equal(t, []itemView{
		{"R1", "Logging", "3.1", 2, ""},
		{"R2", "The system shall log errors.", "3.1", 3, "R1"},
	}, got)
}

func TestHeadingParserRejects(t *testing.T) {
	p := NewHeadingParser()
	ctx := context.Background()

	_, err := p.Parse(ctx, pipeline.Content{FileType: "txt", Data: []byte("\n \n")})
	assert.ErrorIs(t, err, errNoText)

	_, err = p.Parse(ctx, pipeline.Content{FileType: "txt", Data: []byte{0xff, 0xfe, 0x00}})
	assert.Error(t, err)

	_, err = p.Parse(ctx, pipeline.Content{FileType: "docx", Data: []byte("not a zip")})
	assert.Error(t, err)

	_, err = p.Parse(ctx, pipeline.Content{FileType: "pdf", Data: []byte("%PDF-1.4\ngarbage")})
	assert.Error(t, err)

	_, err = p.Parse(ctx, pipeline.Content{FileType: "odt", Data: []byte("x")})
	assert.Error(t, err)
}

func docx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fakeGenerator struct {
	text  string
	err   error
	parts []genai.Part
}

func (f *fakeGenerator) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text(f.text)}},
	}}}, nil
}

func TestGeminiParser(t *testing.T) {
	gen := &fakeGenerator{text: "```json\n" + `[
		{"text": "The system shall log errors.", "section": "3.1", "tags": ["Logging"], "line": 4},
		{"text": "  "},
		{"text": "Logs shall be kept 30 days.", "section": "", "tags": []}
	]` + "\n```"}
	items, err := NewGeminiParser(gen).Parse(context.Background(), pipeline.Content{DocID: "D1", FileType: "txt", Data: []byte("3.1 Logging\nThe system shall log errors.")})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "R1", items[0].ItemID)
	assert.Equal(t, "3.1", items[0].TitleNumber)
	assert.Equal(t, 3, items[0].Level)
	assert.Equal(t, []string{"logging"}, items[0].Tags)
	assert.Equal(t, 4, items[0].SourceLocation.Line)
	assert.Equal(t, "R2", items[1].ItemID)
	assert.Empty(t, items[1].Tags)

	require.Len(t, gen.parts, 2)
	assert.Contains(t, string(gen.parts[1].(genai.Text)), "The system shall log errors.")
}

func TestGeminiParserFailures(t *testing.T) {
	ctx := context.Background()
	in := pipeline.Content{DocID: "D1", FileType: "txt", Data: []byte("x")}

	_, err := NewGeminiParser(&fakeGenerator{err: errors.New("quota")}).Parse(ctx, in)
	assert.ErrorContains(t, err, "quota")

	_, err = NewGeminiParser(&fakeGenerator{text: ""}).Parse(ctx, in)
	assert.ErrorContains(t, err, "empty response")

	_, err = NewGeminiParser(&fakeGenerator{text: "I cannot help with that"}).Parse(ctx, in)
	assert.ErrorContains(t, err, "failed to parse JSON")

	_, err = NewGeminiParser(&fakeGenerator{text: "[]"}).Parse(ctx, in)
	assert.ErrorContains(t, err, "no requirements")
}

func TestInspector(t *testing.T) {
	i := NewInspector()
	n, err := i.PageCount("txt", []byte("hello"))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = i.PageCount("pdf", []byte("not a pdf"))
	assert.Error(t, err)
}
