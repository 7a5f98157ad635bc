package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/requirementflow/internal/config"
	"github.com/Lllllllleong/requirementflow/internal/gcp"
	"github.com/Lllllllleong/requirementflow/internal/services"
)

var (
	apiInstance *services.DocumentAPIFunction
	once        sync.Once
	initErr     error
)

func init() {
	// --- Set up structured logging ---
	logger, _ := config.SetupLogger(gcp.GetEnv("LOG_FILE", ""), config.ParseLogLevel(gcp.GetEnv("LOG_LEVEL", "INFO")))
	slog.SetDefault(logger)

	// "HandleDocumentAPI" is the entry point name configured in GCP.
	functions.HTTP("HandleDocumentAPI", handleDocumentAPI)
}

// main serves the registered function locally. Cloud Functions ignores it.
func main() {
	port := gcp.GetEnv("PORT", "8080")
	slog.Info("Starting document API.", "port", port)
	if err := funcframework.Start(port); err != nil {
		slog.Error("funcframework.Start failed", "error", err)
		os.Exit(1)
	}
}

// handleDocumentAPI is the HTTP entry point for every document route.
func handleDocumentAPI(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		apiInstance, initErr = services.NewDocumentAPI(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: document API initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	apiInstance.ServeHTTP(w, r)
}
