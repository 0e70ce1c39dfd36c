package main

import (
	"context"
	"fmt"

	"github.com/agntor/agntor-mcp/internal/apikeys"
	"github.com/agntor/agntor-mcp/internal/identity"
	"github.com/agntor/agntor-mcp/internal/registry/handler"
	"github.com/agntor/agntor-mcp/internal/registry/normalize"
	"github.com/agntor/agntor-mcp/internal/registry/service"
	"github.com/agntor/agntor-mcp/internal/trustapi"
	"github.com/agntor/agntor-mcp/internal/trustledger"
	"github.com/agntor/agntor-mcp/internal/webhooks"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// resources owns connections shared by the components of one command.
// The Postgres pool is opened on first use.
type resources struct {
	cfg     *config
	logger  *zap.Logger
	pool    *pgxpool.Pool
	closers []func()
}

func newResources(cfg *config, logger *zap.Logger) *resources {
	return &resources{cfg: cfg, logger: logger}
}

func (r *resources) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if r.pool != nil {
		return r.pool, nil
	}
	db, err := pgxpool.New(ctx, r.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	r.logger.Info("connected to postgres")
	r.pool = db
	r.closers = append(r.closers, db.Close)
	return db, nil
}

// Close releases everything opened through r, newest first.
func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// trustStack is the trust service plus the collaborators whose background
// work must be drained on shutdown.
type trustStack struct {
	svc    *service.TrustService
	hooks  *webhooks.Service
	ledger trustledger.Ledger
}

func newTicketIssuer(cfg *config, logger *zap.Logger) (*identity.TicketIssuer, error) {
	key, err := identity.NewSigningKey(cfg.TicketSecret, cfg.production(), logger)
	if err != nil {
		return nil, err
	}
	return identity.NewTicketIssuer(key, cfg.TicketIssuer, cfg.TicketDefaultValidity), nil
}

func newTrustBackend(cfg *config) (*trustapi.Client, error) {
	var opts []trustapi.Option
	if cfg.TrustAPIKey != "" {
		opts = append(opts, trustapi.WithAPIKey(cfg.TrustAPIKey))
	}
	if cfg.OAuthClientID != "" && cfg.OAuthTokenURL != "" {
		opts = append(opts, trustapi.WithClientCredentials(
			cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthTokenURL, cfg.OAuthScopes...,
		))
	}
	return trustapi.New(cfg.TrustAPIBaseURL, cfg.TrustAPITimeout, opts...)
}

func newPolicy(cfg *config) normalize.Policy {
	p := normalize.DefaultPolicy()
	p.CertificationValidity = cfg.CertificationValidity
	if cfg.Certifier != "" {
		p.Certifier = cfg.Certifier
	}
	return p
}

// buildTrustStack wires the trust service with its upstream client, ticket
// issuer, webhook fan-out, audit ledger and metrics.
func buildTrustStack(ctx context.Context, res *resources) (*trustStack, error) {
	cfg, logger := res.cfg, res.logger

	backend, err := newTrustBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("trust api client: %w", err)
	}
	tickets, err := newTicketIssuer(cfg, logger)
	if err != nil {
		return nil, err
	}

	svc := service.NewTrustService(backend, normalize.New(newPolicy(cfg)), tickets, logger)
	svc.SetMetrics(service.Metrics{
		TicketIssued:        handler.RecordTicketIssued,
		KillSwitchActivated: handler.RecordKillSwitch,
		UpstreamFailure:     handler.RecordUpstreamFailure,
	})

	hooks := webhooks.NewService(cfg.Webhooks, cfg.WebhookSecret, logger)
	hooks.SetMetricsRecorder(handler.RecordWebhookDelivery)
	svc.SetWebhookDispatcher(hooks)
	if len(cfg.Webhooks) > 0 {
		logger.Info("kill-switch webhooks configured", zap.Int("subscriptions", len(cfg.Webhooks)))
	}

	ledger, err := openLedger(ctx, res)
	if err != nil {
		return nil, err
	}
	svc.SetLedger(ledger)

	return &trustStack{svc: svc, hooks: hooks, ledger: ledger}, nil
}

// openLedger returns the configured kill-switch audit ledger.
func openLedger(ctx context.Context, res *resources) (trustledger.Ledger, error) {
	if res.cfg.LedgerStore != ledgerStorePostgres {
		res.logger.Info("trust ledger: memory (history is lost on restart)")
		return trustledger.NewMemoryLedger(), nil
	}
	db, err := res.postgres(ctx)
	if err != nil {
		return nil, err
	}
	res.logger.Info("trust ledger: postgres")
	return trustledger.NewPostgresLedger(db, res.logger), nil
}

// keyStore is what the server and the keys commands need from a store.
type keyStore interface {
	identity.KeyStore
	Create(ctx context.Context, name string) (*apikeys.APIKey, error)
	Deactivate(ctx context.Context, key string) error
}

// openKeyStore connects the configured API key store.
func openKeyStore(ctx context.Context, res *resources) (keyStore, error) {
	switch res.cfg.KeyStore {
	case keyStorePostgres:
		db, err := res.postgres(ctx)
		if err != nil {
			return nil, err
		}
		res.logger.Info("api key store: postgres")
		return apikeys.NewPostgresStore(db), nil

	case keyStoreRedis:
		rs, err := apikeys.NewRedisStore(ctx, apikeys.RedisConfig{
			Address:  res.cfg.RedisAddr,
			Password: res.cfg.RedisPassword,
			DB:       res.cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		res.closers = append(res.closers, func() { _ = rs.Close() })
		res.logger.Info("api key store: redis", zap.String("addr", res.cfg.RedisAddr))
		return rs, nil

	default:
		res.logger.Info("api key store: memory (keys are lost on restart)")
		return apikeys.NewMemoryStore(), nil
	}
}
