package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agntor/agntor-mcp/internal/identity"
	"github.com/agntor/agntor-mcp/internal/mcpbridge"
	"github.com/agntor/agntor-mcp/internal/registry/handler"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP over streamable HTTP (POST /mcp)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), cfg, logger)
	},
}

func runServe(parent context.Context, cfg *config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res := newResources(cfg, logger)
	defer res.Close()

	// ── Trust service ─────────────────────────────────────────────────────────
	stack, err := buildTrustStack(ctx, res)
	if err != nil {
		return err
	}
	if err := stack.ledger.Verify(ctx); err != nil {
		logger.Warn("trust ledger integrity check FAILED", zap.Error(err))
	} else {
		n, _ := stack.ledger.Len(ctx)
		root, _ := stack.ledger.Root(ctx)
		logger.Info("trust ledger verified", zap.Int("entries", n), zap.String("root", root))
	}

	// ── Authentication ────────────────────────────────────────────────────────
	store, err := openKeyStore(ctx, res)
	if err != nil {
		return err
	}

	auth := identity.NewAuthenticator(cfg.AdminKey, store, logger)
	auth.SetDecisionRecorder(handler.RecordAuthDecision)

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	mcp := handler.NewMCPHandler(mcpbridge.NewServer(nil, mcpbridge.NewToolRegistry(stack.svc), logger), logger)
	router := handler.NewRouter(ctx, handler.RouterConfig{
		CORSOrigins:  cfg.CORSOrigins,
		RateLimitRPS: cfg.RateLimitRPS,
	}, mcp, auth, logger)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agntor-mcp HTTP listening",
			zap.Int("port", cfg.Port),
			zap.String("environment", cfg.Environment),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
	}
	logger.Info("shutting down agntor-mcp...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	auth.Wait()
	stack.hooks.Wait()
	logger.Info("agntor-mcp stopped")
	return nil
}
