package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/grcflow/llm-gateway/config"
	"github.com/grcflow/llm-gateway/handlers"
	"github.com/grcflow/llm-gateway/middleware"
	"github.com/grcflow/llm-gateway/repositories"
	"github.com/grcflow/llm-gateway/repositories/postgres"
	"github.com/grcflow/llm-gateway/services/llm"
	"github.com/grcflow/llm-gateway/services/llm/providers"
	"github.com/grcflow/llm-gateway/services/llm/providers/anthropic"
	"github.com/grcflow/llm-gateway/services/llm/providers/gemini"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB // nil when no database is configured
	Logger *zap.Logger

	// LLM invocation layer
	LLM        *llm.Service
	Executions repositories.AgentExecutionRepository // nil without a database
	TxManager  repositories.TransactionManager       // nil without a database

	// HTTP surface
	AuthMiddleware *middleware.AuthMiddleware
	LLMHandler     *handlers.LLMHandler
	HealthHandler  *handlers.HealthHandler
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize PostgreSQL (optional)
	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize provider adapters and the LLM service
	if err := deps.initLLM(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize llm service: %w", err)
	}

	// Initialize auth and handlers
	deps.initAuth(cfg)
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the execution log database when configured.
// The gateway runs without it; only the call log endpoints are degraded.
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.HasDatabase() {
		d.Logger.Warn("no database configured, execution logging disabled")
		return nil
	}

	db, err := postgres.NewDB(cfg.Database, d.Logger)
	if err != nil {
		return err
	}

	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return err
	}

	d.DB = db
	d.Executions = postgres.NewAgentExecutionRepository(db, d.Logger)
	d.TxManager = postgres.NewTransactionManager(db, d.Logger)
	return nil
}

// initLLM builds one adapter per configured provider tier and the service
// facade over them. Routing still covers every tier; calls routed to an
// unregistered provider fail over to the other leg of the route.
func (d *Dependencies) initLLM(cfg *config.Config) error {
	adapters := make(map[llm.Provider]llm.Adapter)

	if cfg.LLM.GoogleAPIKey != "" {
		geminiCfg := providerConfig(cfg, cfg.LLM.GoogleAPIKey, cfg.LLM.GoogleBaseURL)
		for _, tier := range []llm.Provider{llm.GeminiFlashLite, llm.GeminiFlash, llm.GeminiPro} {
			adapter, err := gemini.New(tier, geminiCfg, d.Logger)
			if err != nil {
				return err
			}
			adapters[tier] = adapter
		}
		d.Logger.Info("registered Gemini adapters")
	}

	if cfg.LLM.AnthropicAPIKey != "" {
		anthropicCfg := providerConfig(cfg, cfg.LLM.AnthropicAPIKey, cfg.LLM.AnthropicBaseURL)
		adapters[llm.ClaudeSonnet] = anthropic.New(anthropicCfg, d.Logger)
		d.Logger.Info("registered Anthropic adapter")
	}

	if len(adapters) == 0 {
		return fmt.Errorf("no LLM providers configured")
	}

	d.LLM = llm.NewService(adapters, d.Logger)
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("JWT_SECRET not set, all authenticated routes will reject")
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
		return
	}
	validator := middleware.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
}

func (d *Dependencies) initHandlers() {
	d.LLMHandler = handlers.NewLLMHandler(d.LLM, d.Executions, d.Logger)

	if d.DB != nil {
		d.HealthHandler = handlers.NewHealthHandler(d.DB.DB, d.Logger)
	} else {
		d.HealthHandler = handlers.NewHealthHandler(nil, d.Logger)
	}
}

// providerConfig derives a per-vendor adapter config from the shared settings
func providerConfig(cfg *config.Config, apiKey, baseURL string) providers.Config {
	pc := providers.DefaultConfig()
	pc.APIKey = apiKey
	pc.BaseURL = baseURL
	pc.MaxRetries = cfg.LLM.MaxRetries
	pc.RetryDelay = cfg.LLM.RetryDelay
	pc.Timeout = cfg.LLM.Timeout
	return pc
}

// rejectAllValidator rejects all tokens (used when no JWT secret is configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Stop the background health probe
	if d.LLM != nil {
		d.LLM.Close()
	}

	// Close database connection
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
