// Command agntor-mcp serves the Agntor trust tools over MCP, either as a
// streamable HTTP endpoint or on stdio, and carries a few admin commands.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	cfg     *config
	logger  *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agntor-mcp",
	Short: "Agntor trust network MCP server",
	Long: `agntor-mcp exposes the Agntor trust network to MCP clients.

It answers certification and trust-score queries, issues and verifies
short-lived audit tickets, and relays kill-switch activations.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// zap.NewProduction writes to stderr, which keeps stdout clean for stdio.
		l, err := zap.NewProduction()
		if err != nil {
			return err
		}
		logger = l

		c, err := loadConfig(newViper(cfgFile), logger)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/agntor.yaml or ./agntor.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stdioCmd)
	rootCmd.AddCommand(ticketCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agntor-mcp version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("agntor-mcp %s\n", version)
	},
}
