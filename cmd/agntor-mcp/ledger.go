package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/agntor/agntor-mcp/internal/trustledger"
	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the kill-switch audit ledger (postgres)",
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Walk the ledger and check every hash link",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, closeLedger, err := openPersistedLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer closeLedger()
		return verifyLedger(cmd.Context(), cmd.OutOrStdout(), ledger)
	},
}

var ledgerHistoryCmd = &cobra.Command{
	Use:   "history <agentId>",
	Short: "List kill-switch activations recorded for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, closeLedger, err := openPersistedLedger(cmd.Context())
		if err != nil {
			return err
		}
		defer closeLedger()
		return printHistory(cmd.Context(), cmd.OutOrStdout(), ledger, args[0])
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerVerifyCmd)
	ledgerCmd.AddCommand(ledgerHistoryCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func openPersistedLedger(ctx context.Context) (trustledger.Ledger, func(), error) {
	if cfg.LedgerStore != ledgerStorePostgres {
		return nil, nil, errors.New("ledger commands need ledger.store=postgres")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res := newResources(cfg, logger)
	ledger, err := openLedger(ctx, res)
	if err != nil {
		res.Close()
		return nil, nil, err
	}
	return ledger, res.Close, nil
}

func verifyLedger(ctx context.Context, w io.Writer, ledger trustledger.Ledger) error {
	if err := ledger.Verify(ctx); err != nil {
		return fmt.Errorf("ledger integrity check failed: %w", err)
	}
	n, err := ledger.Len(ctx)
	if err != nil {
		return err
	}
	root, err := ledger.Root(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "ledger intact: %d entries, root %s\n", n, root)
	return nil
}

func printHistory(ctx context.Context, w io.Writer, ledger trustledger.Ledger, agentID string) error {
	entries, err := ledger.History(ctx, agentID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(w, "no ledger entries for %s\n", agentID)
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tTIME\tACTION\tACTOR\tHASH")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			e.Index, e.Timestamp.Format(time.RFC3339), e.Action, e.Actor, e.Hash)
	}
	return tw.Flush()
}
