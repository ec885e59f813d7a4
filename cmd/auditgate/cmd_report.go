package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"auditgate/internal/analysis"
	"auditgate/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render or archive a saved analysis result",
}

var reportShowCmd = &cobra.Command{
	Use:   "show [report.json]",
	Short: "Render a saved result as markdown in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportShow,
}

var reportPinCmd = &cobra.Command{
	Use:   "pin [report.json]",
	Short: "Upload the rendered report to the configured pinning service",
	Long: `Renders the archive variant of the report and uploads it. On success the
content ID and gateway URL are printed. A failed upload does not affect the
saved result; just run the command again.`,
	Args: cobra.ExactArgs(1),
	RunE: runReportPin,
}

func init() {
	reportCmd.AddCommand(reportShowCmd)
	reportCmd.AddCommand(reportPinCmd)
}

func loadResult(path string) (*analysis.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	var result analysis.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return &result, nil
}

// newArchiver builds the pinning client from config, or nil when archival is
// disabled.
func newArchiver() *report.Archiver {
	if !cfg.Archive.Enabled {
		return nil
	}
	return report.NewArchiver(report.ArchiverConfig{
		Endpoint: cfg.Archive.Endpoint,
		Gateway:  cfg.Archive.Gateway,
		APIKey:   cfg.Archive.APIKey,
		Timeout:  cfg.ArchiveTimeout(),
	}, logger)
}

func runReportShow(cmd *cobra.Command, args []string) error {
	result, err := loadResult(args[0])
	if err != nil {
		return err
	}

	document := report.Render(result, report.VariantViewer)
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		// Plain markdown still beats nothing.
		fmt.Println(document)
		return nil
	}
	out, err := renderer.Render(document)
	if err != nil {
		fmt.Println(document)
		return nil
	}
	fmt.Print(out)
	return nil
}

func runReportPin(cmd *cobra.Command, args []string) error {
	result, err := loadResult(args[0])
	if err != nil {
		return err
	}
	archiver := newArchiver()
	if archiver == nil {
		return fmt.Errorf("archival is disabled in config")
	}

	document := report.Render(result, report.VariantArchive)
	artifact, err := archiver.Archive(cmd.Context(), document, result.SubjectName)
	if err != nil {
		fmt.Println(warnStyle.Render("Upload failed; the saved result is untouched."))
		return err
	}

	fmt.Println(successStyle.Render("Report pinned."))
	fmt.Printf("%s %s\n", labelStyle.Render("CID:"), artifact.ContentID)
	fmt.Printf("%s %s\n", labelStyle.Render("URL:"), artifact.ContentURL)
	return nil
}
