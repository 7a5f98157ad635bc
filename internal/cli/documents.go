package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var downloadOutput string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var showCmd = &cobra.Command{
	Use:   "show <doc-id>",
	Short: "Show a document with its artifacts and history",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var downloadCmd = &cobra.Command{
	Use:   "download <doc-id>",
	Short: "Download the current export artifact",
	Long: `Download the current export artifact of a document.

Examples:
  docflow download 3f2a9c -o srs.json
  docflow download 3f2a9c > srs.xlsx`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "write to file instead of stdout")
}

func runList(cmd *cobra.Command, args []string) error {
	docs, err := apiClient.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, docs)
	}

	out := cmd.OutOrStdout()
	if len(docs) == 0 {
		fmt.Fprintln(out, "No documents found.")
		return nil
	}
	fmt.Fprintf(out, "Documents (%d):\n\n", len(docs))
	for _, d := range docs {
		fmt.Fprintf(out, "- %s  %-10s v%-3d %s  %s\n", d.ID, d.Stage, d.Version, d.FileType, d.Filename)
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	doc, err := apiClient.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, doc)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %s (%s)\n", doc.ID, doc.Filename, doc.FileType)
	fmt.Fprintf(out, "Stage:   %s\n", doc.Stage)
	if doc.FailedFrom != "" {
		fmt.Fprintf(out, "Failed from: %s\n", doc.FailedFrom)
	}
	fmt.Fprintf(out, "Version: %d\n", doc.Version)
	if a := doc.Artifacts.Parsed; a != nil {
		fmt.Fprintf(out, "Parsed:    v%d, %d items%s\n", a.Version, len(a.Items), staleMark(a.Stale))
	}
	if a := doc.Artifacts.Validated; a != nil {
		fmt.Fprintf(out, "Validated: v%d, %d findings%s\n", a.Version, len(a.Findings), staleMark(a.Stale))
	}
	if a := doc.Artifacts.Exported; a != nil {
		fmt.Fprintf(out, "Exported:  v%d, %s%s\n", a.Version, a.Format, staleMark(a.Stale))
	}
	fmt.Fprintln(out, "\nHistory:")
	for _, ev := range doc.History {
		line := fmt.Sprintf("  %s  %-9s v%d %s", ev.At.Format("2006-01-02 15:04:05"), ev.Stage, ev.Version, ev.Outcome)
		if ev.Cause != "" {
			line += fmt.Sprintf(" (%s from %s: %s)", ev.Cause, ev.FailedFrom, ev.Error)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func staleMark(stale bool) string {
	if stale {
		return " [stale]"
	}
	return ""
}

func runDownload(cmd *cobra.Command, args []string) error {
	var w io.Writer = cmd.OutOrStdout()
	if downloadOutput != "" {
		f, err := os.Create(downloadOutput)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	n, err := apiClient.Download(cmd.Context(), args[0], w)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if downloadOutput != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes to %s\n", n, downloadOutput)
	}
	return nil
}
