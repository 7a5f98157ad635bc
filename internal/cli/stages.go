package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/requirementflow/internal/client"
	"github.com/Lllllllleong/requirementflow/internal/models"
)

var (
	uploadType string
	retries    int
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a requirements document",
	Long: `Upload a requirements document (txt, md, docx or pdf).

Examples:
  docflow upload srs.docx
  docflow upload notes --type md`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var parseCmd = &cobra.Command{
	Use:   "parse <doc-id>",
	Short: "Extract requirement items from an uploaded document",
	Args:  cobra.ExactArgs(1),
	RunE:  runParse,
}

var validateCmd = &cobra.Command{
	Use:   "validate <doc-id>",
	Short: "Evaluate the rule set against the parsed items",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var exportCmd = &cobra.Command{
	Use:   "export <doc-id>",
	Short: "Serialize the validated items into a downloadable artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Upload a document and run every stage",
	Long: `Upload a document, then Parse, Validate and Export it.

Busy and Conflict responses are retried with backoff.

Examples:
  docflow run srs.pdf
  docflow run srs.pdf --retries 5`,
	Args: cobra.ExactArgs(1),
	RunE: runAll,
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadType, "type", "t", "", "file type (default: file extension)")
	runCmd.Flags().StringVarP(&uploadType, "type", "t", "", "file type (default: file extension)")
	for _, c := range []*cobra.Command{parseCmd, validateCmd, exportCmd, runCmd} {
		c.Flags().IntVarP(&retries, "retries", "r", 3, "retries on Busy or Conflict")
	}
}

// withRetry retries transient API errors with exponential backoff.
func withRetry[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	backoff := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		out, err := fn(ctx)
		if err == nil || !client.Retryable(err) || attempt >= retries {
			return out, err
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func runUpload(cmd *cobra.Command, args []string) error {
	resp, err := apiClient.Upload(cmd.Context(), args[0], uploadType)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s as %s (%s, v%d)\n", args[0], resp.DocID, resp.FileType, resp.Version)
	return nil
}

func runParse(cmd *cobra.Command, args []string) error {
	resp, err := withRetry(cmd.Context(), func(ctx context.Context) (*models.ParseResponse, error) {
		return apiClient.Parse(ctx, args[0])
	})
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, resp)
	}
	printItems(cmd, resp)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	resp, err := withRetry(cmd.Context(), func(ctx context.Context) (*models.ValidateResponse, error) {
		return apiClient.Validate(ctx, args[0])
	})
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, resp)
	}
	printFindings(cmd, resp)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	resp, err := withRetry(cmd.Context(), func(ctx context.Context) (*models.ExportResponse, error) {
		return apiClient.Export(ctx, args[0])
	})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, resp)
	}
	printExport(cmd, resp)
	return nil
}

func runAll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	up, err := apiClient.Upload(ctx, args[0], uploadType)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s as %s\n", args[0], up.DocID)

	parsed, err := withRetry(ctx, func(ctx context.Context) (*models.ParseResponse, error) {
		return apiClient.Parse(ctx, up.DocID)
	})
	if err != nil {
		return fmt.Errorf("parse %s: %w", up.DocID, err)
	}
	printItems(cmd, parsed)

	report, err := withRetry(ctx, func(ctx context.Context) (*models.ValidateResponse, error) {
		return apiClient.Validate(ctx, up.DocID)
	})
	if err != nil {
		return fmt.Errorf("validate %s: %w", up.DocID, err)
	}
	printFindings(cmd, report)

	exported, err := withRetry(ctx, func(ctx context.Context) (*models.ExportResponse, error) {
		return apiClient.Export(ctx, up.DocID)
	})
	if err != nil {
		return fmt.Errorf("export %s: %w", up.DocID, err)
	}
	printExport(cmd, exported)
	return nil
}

func printItems(cmd *cobra.Command, resp *models.ParseResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Parsed %s (v%d): %d items\n", resp.DocID, resp.Version, len(resp.Items))
	for _, it := range resp.Items {
		prefix := it.ItemID
		if it.TitleNumber != "" {
			prefix += " " + it.TitleNumber
		}
		fmt.Fprintf(out, "  %s  %s\n", prefix, it.Text)
	}
}

func printFindings(cmd *cobra.Command, resp *models.ValidateResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validated %s (v%d): %d findings\n", resp.DocID, resp.Version, len(resp.Findings))
	for _, f := range resp.Findings {
		fmt.Fprintf(out, "  [%s] %s: %s\n", f.Severity, f.ItemID, f.Message)
	}
	if resp.HasErrors {
		fmt.Fprintln(out, "  Document has unresolved errors.")
	}
}

func printExport(cmd *cobra.Command, resp *models.ExportResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Exported %s (v%d): %s\n", resp.DocID, resp.Version, resp.DownloadURL)
}
