package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Lllllllleong/requirementflow/internal/gcp"
	"github.com/Lllllllleong/requirementflow/internal/models"
	"github.com/Lllllllleong/requirementflow/internal/pipeline"
)

// extractedRequirement is the structure of the JSON objects we expect from the Gemini response.
type extractedRequirement struct {
	Text    string   `json:"text"`
	Section string   `json:"section"`
	Tags    []string `json:"tags"`
	Line    int      `json:"line"`
}

// GeminiParser extracts requirements with a Vertex AI model. Text is
// extracted locally first so every supported file type goes through the same
// prompt.
type GeminiParser struct {
	model gcp.Generator
}

// NewGeminiParser returns a GeminiParser over model, usually
// gcp.VertexClient.ExtractorModel.
func NewGeminiParser(model gcp.Generator) *GeminiParser {
	return &GeminiParser{model: model}
}

func (p *GeminiParser) Parse(ctx context.Context, c pipeline.Content) ([]models.RequirementItem, error) {
	logCtx := slog.With("documentId", c.DocID, "fileType", c.FileType)

	pages, err := extractText(c.FileType, c.Data)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	for _, pg := range pages {
		sb.WriteString(pg.Text)
		sb.WriteString("\n")
	}

	resp, err := p.model.GenerateContent(ctx, genai.Text(gcp.ExtractorUserPrompt), genai.Text(sb.String()))
	if err != nil {
		logCtx.Error("Call to Vertex AI for requirement extraction failed", "error", err)
		return nil, fmt.Errorf("failed to extract requirements from gemini: %w", err)
	}

	jsonString := gcp.CleanJSON(gcp.ExtractText(resp))
	if jsonString == "" {
		return nil, fmt.Errorf("gemini returned an empty response instead of JSON for document ID %s", c.DocID)
	}
	var extracted []extractedRequirement
	if err := json.Unmarshal([]byte(jsonString), &extracted); err != nil {
		logCtx.Error("Failed to unmarshal JSON response from Gemini", "error", err, "responseBody", jsonString)
		return nil, fmt.Errorf("failed to parse JSON from model for document ID %s: %w", c.DocID, err)
	}

	items := make([]models.RequirementItem, 0, len(extracted))
	for _, r := range extracted {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		item := models.RequirementItem{
			ItemID:         fmt.Sprintf("R%d", len(items)+1),
			Text:           text,
			SourceLocation: models.SourceLocation{Line: max(r.Line, 0)},
			TitleNumber:    strings.TrimSpace(r.Section),
		}
		if item.TitleNumber != "" {
			item.Level = len(strings.Split(item.TitleNumber, ".")) + 1
		}
		for _, tag := range r.Tags {
			if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
				item.Tags = append(item.Tags, tag)
			}
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("gemini found no requirements in document ID %s", c.DocID)
	}
	logCtx.Info("Requirements extracted.", "itemCount", len(items))
	return items, nil
}

var _ pipeline.Parser = (*GeminiParser)(nil)
