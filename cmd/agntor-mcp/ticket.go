package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

var ticketCmd = &cobra.Command{
	Use:   "ticket",
	Short: "Work with audit tickets",
}

var ticketVerifyCmd = &cobra.Command{
	Use:   "verify <token>",
	Short: "Verify an audit ticket against the configured signing secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return verifyTicket(cmd.OutOrStdout(), cfg, args[0])
	},
}

func init() {
	ticketCmd.AddCommand(ticketVerifyCmd)
}

func verifyTicket(w io.Writer, cfg *config, token string) error {
	tickets, err := newTicketIssuer(cfg, logger)
	if err != nil {
		return err
	}
	claims, err := tickets.Verify(token)
	if err != nil {
		return fmt.Errorf("ticket rejected: %w", err)
	}

	out := map[string]any{
		"valid":       true,
		"ticketId":    claims.ID,
		"agentId":     claims.AgentID,
		"auditLevel":  claims.AuditLevel,
		"constraints": claims.Constraints,
		"issuer":      claims.Issuer,
	}
	if claims.IssuedAt != nil {
		out["issuedAt"] = claims.IssuedAt.Time.UTC().Format(time.RFC3339)
	}
	if claims.ExpiresAt != nil {
		out["expiresAt"] = claims.ExpiresAt.Time.UTC().Format(time.RFC3339)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
