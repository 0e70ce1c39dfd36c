package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/agntor/agntor-mcp/internal/mcpbridge"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve MCP over stdin/stdout (newline-delimited JSON-RPC)",
	Long: `stdio runs the MCP server for a local client such as an IDE or agent
runtime. Requests are read from stdin and responses written to stdout; logs
go to stderr. No API key is required.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStdio(cmd.Context(), cfg, logger, os.Stdin, os.Stdout)
	},
}

func runStdio(parent context.Context, cfg *config, logger *zap.Logger, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := newResources(cfg, logger)
	defer res.Close()

	stack, err := buildTrustStack(ctx, res)
	if err != nil {
		return err
	}

	logger.Info("agntor-mcp stdio ready", zap.String("server", mcpbridge.ServerName))
	srv := mcpbridge.NewServer(out, mcpbridge.NewToolRegistry(stack.svc), logger)
	err = srv.Serve(ctx, in)
	stack.hooks.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
