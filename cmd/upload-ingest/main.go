package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/requirementflow/internal/config"
	"github.com/Lllllllleong/requirementflow/internal/gcp"
	"github.com/Lllllllleong/requirementflow/internal/services"
)

var (
	ingestInstance *services.UploadIngestFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger, _ := config.SetupLogger(gcp.GetEnv("LOG_FILE", ""), config.ParseLogLevel(gcp.GetEnv("LOG_LEVEL", "INFO")))
	slog.SetDefault(logger)

	// Register the CloudEvent function. The framework routes GCS finalize events here.
	functions.CloudEvent("IngestUpload", ingestUpload)
}

// main serves the registered function locally. Cloud Functions ignores it.
func main() {
	port := gcp.GetEnv("PORT", "8080")
	if err := funcframework.Start(port); err != nil {
		slog.Error("funcframework.Start failed", "error", err)
		os.Exit(1)
	}
}

// ingestUpload is the Cloud Function entry point.
func ingestUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		ingestInstance, initErr = services.NewUploadIngest(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Returning an error marks the invocation as failed and the event is retried.
	_, err := ingestInstance.Process(ctx, gcsEvent)
	return err
}
