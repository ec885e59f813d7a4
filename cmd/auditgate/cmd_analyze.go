package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"auditgate/internal/analysis"
	"auditgate/internal/chain"
	"auditgate/internal/payment"
	"auditgate/internal/pipeline"
)

var (
	analyzePaymentRef string
	analyzeOut        string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [contract-file]",
	Short: "Run a structured security analysis for a confirmed payment",
	Long: `Runs the analysis against a contract source file. Payment must already
be settled on-chain; pass the confirmed transaction hash via --payment-ref.
Each payment reference funds exactly one analysis run.

The result is written as JSON for later rendering with "report show".`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzePaymentRef, "payment-ref", "", "confirmed payment transaction hash (required)")
	analyzeCmd.Flags().StringVar(&analyzeOut, "out", "report.json", "path for the result JSON")
	_ = analyzeCmd.MarkFlagRequired("payment-ref")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	source, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read contract: %w", err)
	}
	if err := analysis.ValidateRequest(string(source)); err != nil {
		return err
	}

	reader := chain.NewClient(chain.ClientConfig{
		Endpoint:  cfg.Chain.Endpoint,
		Contract:  cfg.Chain.Contract,
		Token:     cfg.Chain.Token,
		Recipient: cfg.Chain.Recipient,
		Timeout:   cfg.ChainTimeout(),
	}, logger)

	analyzerCfg := analysis.DefaultConfig(cfg.Analyzer.APIKey)
	analyzerCfg.BaseURL = cfg.Analyzer.BaseURL
	analyzerCfg.Model = cfg.Analyzer.Model
	analyzerCfg.Timeout = cfg.AnalyzerTimeout()
	analyzerCfg.MaxAttempts = cfg.Analyzer.MaxAttempts
	analyzerCfg.BackoffBase = cfg.AnalyzerBackoff()
	analyzer := analysis.NewClient(analyzerCfg, logger)

	machine := payment.NewMachine(payment.Config{
		Contract:          cfg.Chain.Contract,
		Token:             cfg.Chain.Token,
		AllowanceAttempts: cfg.Chain.AllowanceAttempts,
		AllowanceInterval: cfg.AllowanceInterval(),
	}, nil, reader, logger)

	// A nil *Archiver must stay a nil interface inside the pipeline.
	var archiver pipeline.Archiver
	if a := newArchiver(); a != nil {
		archiver = a
	}
	p := pipeline.New(machine, analyzer, archiver, logger)

	fmt.Println(labelStyle.Render("Analyzing ") + args[0] + " ...")
	result, err := p.AnalyzePrepaid(cmd.Context(), string(source), analyzePaymentRef)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(analyzeOut, data, 0644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	fmt.Println(successStyle.Render("Analysis complete."))
	fmt.Printf("%s %s\n", labelStyle.Render("Subject:"), result.SubjectName)
	fmt.Printf("%s %d/100\n", labelStyle.Render("Score:"), result.ScoreHint)
	for _, sev := range analysis.Severities() {
		if n := result.SeverityCounts[sev]; n > 0 {
			fmt.Printf("  %s: %d\n", sev, n)
		}
	}
	fmt.Printf("%s %s\n", labelStyle.Render("Saved:"), analyzeOut)
	return nil
}
