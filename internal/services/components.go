package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"

	"github.com/Lllllllleong/requirementflow/internal/config"
	"github.com/Lllllllleong/requirementflow/internal/content"
	"github.com/Lllllllleong/requirementflow/internal/exporter"
	"github.com/Lllllllleong/requirementflow/internal/gcp"
	"github.com/Lllllllleong/requirementflow/internal/notify"
	"github.com/Lllllllleong/requirementflow/internal/parser"
	"github.com/Lllllllleong/requirementflow/internal/pipeline"
	"github.com/Lllllllleong/requirementflow/internal/query"
	"github.com/Lllllllleong/requirementflow/internal/rules"
	"github.com/Lllllllleong/requirementflow/internal/store"
)

// Components is the engine and query service assembled from one Config,
// plus the clients that must be closed with them.
type Components struct {
	Config  config.Config
	Engine  *pipeline.Engine
	Query   *query.Service
	closers []func() error
}

// NewComponents creates every client the configuration selects and wires them
// into a pipeline.Engine.
func NewComponents(ctx context.Context, cfg config.Config) (_ *Components, err error) {
	c := &Components{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	var docs store.DocumentStore
	switch cfg.StoreBackend {
	case config.BackendFirestore:
		firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		c.closers = append(c.closers, firestoreClient.Close)
		docs = store.NewFirestoreStore(firestoreClient, cfg.FirestoreCollection)
	default:
		docs = store.NewMemoryStore()
	}

	var blobs content.Store
	switch cfg.ContentBackend {
	case config.BackendGCS:
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		c.closers = append(c.closers, storageClient.Close)
		if blobs, err = content.NewGCSStore(storageClient, cfg.ContentBucket, ""); err != nil {
			return nil, err
		}
	default:
		blobs = content.NewMemoryStore()
	}

	var vertexClient *gcp.VertexClient
	if cfg.UsesVertex() {
		if vertexClient, err = gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.VertexModel); err != nil {
			return nil, fmt.Errorf("failed to create vertex client: %w", err)
		}
		c.closers = append(c.closers, vertexClient.Close)
	}

	var p pipeline.Parser = parser.NewHeadingParser()
	if cfg.Parser == config.ParserGemini {
		p = parser.NewGeminiParser(vertexClient.ExtractorModel)
	}

	ruleSet, err := newRuleSet(cfg, vertexClient)
	if err != nil {
		return nil, err
	}

	exp, err := exporter.New(cfg.ExportFormat)
	if err != nil {
		return nil, err
	}

	var notifier pipeline.Notifier
	if cfg.WorkflowID != "" {
		executionsClient, err := executions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
		c.closers = append(c.closers, executionsClient.Close)
		notifier, err = notify.NewWorkflowNotifier(executionsClient, notify.WorkflowConfig{
			ProjectID:        cfg.ProjectID,
			WorkflowLocation: cfg.WorkflowLocation,
			WorkflowID:       cfg.WorkflowID,
		})
		if err != nil {
			return nil, err
		}
	}

	c.Engine, err = pipeline.New(pipeline.Deps{
		Store:     docs,
		Content:   blobs,
		Parser:    p,
		Rules:     ruleSet,
		Exporter:  exp,
		Notifier:  notifier,
		Inspector: parser.NewInspector(),
		Logger:    slog.Default(),
	}, cfg.Pipeline())
	if err != nil {
		return nil, err
	}
	c.Query = query.NewService(docs, blobs)

	slog.Info("Components initialized.",
		"storeBackend", cfg.StoreBackend,
		"contentBackend", cfg.ContentBackend,
		"parser", cfg.Parser,
		"ruleSet", cfg.RuleSet,
		"exportFormat", cfg.ExportFormat,
		"workflowId", cfg.WorkflowID,
	)
	return c, nil
}

func newRuleSet(cfg config.Config, vertexClient *gcp.VertexClient) (pipeline.RuleSet, error) {
	catalog := rules.DefaultCatalog()
	if cfg.RulesFile != "" {
		var err error
		if catalog, err = rules.LoadCatalog(cfg.RulesFile); err != nil {
			return nil, err
		}
	}
	switch cfg.RuleSet {
	case config.RuleSetGemini:
		return rules.NewGeminiReviewer(vertexClient.ReviewerModel), nil
	case config.RuleSetCatalogGemini:
		return rules.NewComposite(catalog, rules.NewGeminiReviewer(vertexClient.ReviewerModel)), nil
	default:
		return catalog, nil
	}
}

// Close releases every client in reverse creation order.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
