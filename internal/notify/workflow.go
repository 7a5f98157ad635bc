// Package notify hands completed stages off to Cloud Workflows.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/googleapis/gax-go/v2"

	"github.com/Lllllllleong/requirementflow/internal/models"
	"github.com/Lllllllleong/requirementflow/internal/pipeline"
)

// ExecutionCreator is the part of the Workflows Executions client we use.
type ExecutionCreator interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

// WorkflowConfig names the workflow to execute.
type WorkflowConfig struct {
	ProjectID        string
	WorkflowLocation string
	WorkflowID       string
	// Stages limits notifications to these stages. Empty means every stage.
	Stages []models.Stage
}

// WorkflowNotifier starts one workflow execution per completed stage with
// {documentId, stage, version, fileType} as its argument.
type WorkflowNotifier struct {
	client ExecutionCreator
	config WorkflowConfig
	stages map[models.Stage]bool
}

// NewWorkflowNotifier returns a WorkflowNotifier.
func NewWorkflowNotifier(client ExecutionCreator, config WorkflowConfig) (*WorkflowNotifier, error) {
	if config.ProjectID == "" || config.WorkflowLocation == "" || config.WorkflowID == "" {
		return nil, fmt.Errorf("NewWorkflowNotifier: project, location and workflow id are required")
	}
	n := &WorkflowNotifier{client: client, config: config}
	if len(config.Stages) > 0 {
		n.stages = make(map[models.Stage]bool, len(config.Stages))
		for _, s := range config.Stages {
			n.stages[s] = true
		}
	}
	return n, nil
}

func (n *WorkflowNotifier) StageCompleted(ctx context.Context, doc *models.Document, stage models.Stage) error {
	if n.stages != nil && !n.stages[stage] {
		return nil
	}
	logCtx := slog.With("documentId", doc.ID, "stage", string(stage))
	logCtx.Info("Triggering workflow.", "workflowId", n.config.WorkflowID)

	workflowPayload := map[string]interface{}{
		"documentId": doc.ID,
		"stage":      stage,
		"version":    doc.Version,
		"fileType":   doc.FileType,
	}
	payloadBytes, err := json.Marshal(workflowPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", n.config.ProjectID, n.config.WorkflowLocation, n.config.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := n.client.CreateExecution(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to create workflow execution: %w", err)
	}
	logCtx.Info("Workflow execution started.", "executionName", exec.GetName())
	return nil
}

var _ pipeline.Notifier = (*WorkflowNotifier)(nil)
