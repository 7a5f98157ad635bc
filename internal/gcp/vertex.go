package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// DefaultVertexModel is used when VERTEX_MODEL is not set.
const DefaultVertexModel = "gemini-1.5-pro"

// --- Requirement Extractor Model Prompts ---
const ExtractorSystemPrompt = "You are a requirements engineering assistant. Your task is to extract every individual requirement statement from an engineering document. You must output your response as a valid JSON array."
const ExtractorUserPrompt = `You will be provided with the text of a requirements document.

Follow these rules precisely:
1.  Extract each distinct requirement (statements using "shall", "must", "should", "will" or equivalent obligations) as one JSON object.
2.  Each JSON object must have these keys:
    - "text": the requirement statement, verbatim where possible.
    - "section": the numbered section heading it belongs to (e.g. "3.2.1"), or "" if none.
    - "tags": an array of short lowercase category tags (e.g. "performance", "security", "interface").
    - "line": the 1-based line on which the statement starts, or 0 if unknown.
3.  Preserve document order. Do not merge or paraphrase separate requirements.
4.  The final output MUST be a single, valid JSON array of these objects. Do not include any text before or after the JSON array.

Example output format:
[
  {"text": "The system shall log all errors.", "section": "3.1", "tags": ["logging"], "line": 12}
]`

// --- Rule Reviewer Model Prompts ---
const ReviewerSystemPrompt = "You are a meticulous requirements compliance reviewer. You assess each requirement for ambiguity, testability and completeness. You must output your response as a valid JSON array."
const ReviewerUserPrompt = `Review each requirement below.

For every requirement that has a problem, emit one JSON object with keys:
    - "itemId": the id given for the requirement.
    - "severity": one of "info", "warning", "error".
    - "message": a one-sentence explanation of the problem.
Use "error" only for requirements that cannot be verified as written.
Requirements without problems must not appear in the output.
Return [] when every requirement is acceptable.
The final output MUST be a single, valid JSON array. Do not include any text before or after it.

Requirements:
`

// Generator is the part of *genai.GenerativeModel the Gemini capabilities use.
type Generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// VertexClient holds all pre-configured generative models for our app.
type VertexClient struct {
	ExtractorModel *genai.GenerativeModel
	ReviewerModel  *genai.GenerativeModel
	baseClient     *genai.Client
}

// NewVertexClient creates a new client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultVertexModel
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	extractorModel := baseClient.GenerativeModel(modelName)
	extractorModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ExtractorSystemPrompt)},
	}
	configureJSON(extractorModel)

	reviewerModel := baseClient.GenerativeModel(modelName)
	reviewerModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ReviewerSystemPrompt)},
	}
	configureJSON(reviewerModel)

	return &VertexClient{
		ExtractorModel: extractorModel,
		ReviewerModel:  reviewerModel,
		baseClient:     baseClient,
	}, nil
}

// configureJSON forces deterministic JSON output.
func configureJSON(m *genai.GenerativeModel) {
	m.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	m.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// ExtractText robustly gets the raw text content from the model response.
func ExtractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}

// CleanJSON strips the markdown fences models occasionally wrap JSON in.
func CleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
