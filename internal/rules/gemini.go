package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/requirementflow/internal/gcp"
	"github.com/Lllllllleong/requirementflow/internal/models"
	"github.com/Lllllllleong/requirementflow/internal/pipeline"
)

const (
	// DefaultBatchSize is the number of items reviewed per model call.
	DefaultBatchSize = 10
	// DefaultConcurrency bounds the number of batches in flight.
	DefaultConcurrency = 4
	// ReviewRuleID is stamped on every finding the reviewer produces.
	ReviewRuleID = "llm-review"
)

type reviewFinding struct {
	ItemID   string `json:"itemId"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// GeminiReviewer asks a Vertex AI model to review items in batches. A failed
// batch fails the whole evaluation; no item is ever assumed compliant
// because the model could not be reached.
type GeminiReviewer struct {
	model       gcp.Generator
	batchSize   int
	concurrency int
}

// NewGeminiReviewer returns a reviewer over model, usually
// gcp.VertexClient.ReviewerModel.
func NewGeminiReviewer(model gcp.Generator) *GeminiReviewer {
	return &GeminiReviewer{model: model, batchSize: DefaultBatchSize, concurrency: DefaultConcurrency}
}

func (g *GeminiReviewer) Evaluate(ctx context.Context, items []models.RequirementItem) ([]models.ValidationFinding, error) {
	var batches [][]models.RequirementItem
	for start := 0; start < len(items); start += g.batchSize {
		end := min(start+g.batchSize, len(items))
		if body := bodyItems(items[start:end]); len(body) > 0 {
			batches = append(batches, body)
		}
	}
	slog.Info("Starting model review.", "itemCount", len(items), "batchCount", len(batches))

	results := make([][]models.ValidationFinding, len(batches))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, batch := range batches {
		eg.Go(func() error {
			findings, err := g.review(gctx, batch)
			if err != nil {
				return fmt.Errorf("review batch %d: %w", i+1, err)
			}
			results[i] = findings
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []models.ValidationFinding
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func (g *GeminiReviewer) review(ctx context.Context, batch []models.RequirementItem) ([]models.ValidationFinding, error) {
	var sb strings.Builder
	sb.WriteString(gcp.ReviewerUserPrompt)
	order := make(map[string]int, len(batch))
	for i, it := range batch {
		order[it.ItemID] = i
		fmt.Fprintf(&sb, "%s: %s\n", it.ItemID, strings.ReplaceAll(it.Text, "\n", " "))
	}

	resp, err := g.model.GenerateContent(ctx, genai.Text(sb.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to review requirements with gemini: %w", err)
	}
	jsonString := gcp.CleanJSON(gcp.ExtractText(resp))
	if jsonString == "" {
		return nil, fmt.Errorf("gemini returned an empty response instead of JSON")
	}
	var raw []reviewFinding
	if err := json.Unmarshal([]byte(jsonString), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from model: %w", err)
	}

	var out []models.ValidationFinding
	for _, f := range raw {
		if _, ok := order[f.ItemID]; !ok {
			slog.Warn("Model referenced an item outside its batch; dropping finding.", "itemId", f.ItemID)
			continue
		}
		sev := models.Severity(strings.ToLower(strings.TrimSpace(f.Severity)))
		if !sev.Valid() {
			return nil, fmt.Errorf("model returned unknown severity %q for %s", f.Severity, f.ItemID)
		}
		out = append(out, models.ValidationFinding{
			ItemID:   f.ItemID,
			Severity: sev,
			Message:  strings.TrimSpace(f.Message),
			RuleID:   ReviewRuleID,
		})
	}
	return out, nil
}

func bodyItems(items []models.RequirementItem) []models.RequirementItem {
	var out []models.RequirementItem
	for _, it := range items {
		if !hasTag(it, tagHeading) {
			out = append(out, it)
		}
	}
	return out
}

var _ pipeline.RuleSet = (*GeminiReviewer)(nil)
