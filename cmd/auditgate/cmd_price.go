package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"auditgate/internal/chain"
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Read the current audit price from the payment contract",
	Long: `Queries the payment contract for its configured payment mode and the
current price in that mode. A zero price is reported as-is; an unreachable
or misconfigured contract is reported as unavailable, never as zero.`,
	RunE: runPrice,
}

func runPrice(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	reader := chain.NewClient(chain.ClientConfig{
		Endpoint:  cfg.Chain.Endpoint,
		Contract:  cfg.Chain.Contract,
		Token:     cfg.Chain.Token,
		Recipient: cfg.Chain.Recipient,
		Timeout:   cfg.ChainTimeout(),
	}, logger)

	ctx := cmd.Context()
	mode, err := reader.PaymentMode(ctx)
	if err != nil {
		return fmt.Errorf("payment mode: %w", err)
	}

	quote, err := reader.CurrentPrice(ctx, mode)
	if err != nil {
		return fmt.Errorf("current price: %w", err)
	}

	fmt.Println(headerStyle.Render("Audit Price"))
	fmt.Printf("%s %s\n", labelStyle.Render("Contract:"), cfg.Chain.Contract)
	fmt.Printf("%s %s\n", labelStyle.Render("Mode:"), mode)
	fmt.Printf("%s %s wei\n", labelStyle.Render("Price:"), quote.Amount.String())
	if quote.Amount.Sign() == 0 {
		fmt.Println(warnStyle.Render("The contract currently charges nothing."))
	}
	return nil
}
