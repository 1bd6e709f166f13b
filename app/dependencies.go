package app

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/zeroveil/gateway/config"
	"github.com/zeroveil/gateway/handlers"
	"github.com/zeroveil/gateway/services/admission"
	"github.com/zeroveil/gateway/services/audit"
	"github.com/zeroveil/gateway/services/pii"
	"github.com/zeroveil/gateway/services/routing"
	"github.com/zeroveil/gateway/services/tenants"
	"github.com/zeroveil/gateway/utils"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Admission control
	Policy   *config.Policy
	Detector *pii.Detector
	Registry *tenants.Registry // nil when running on the legacy key or open
	Audit    *audit.Logger
	Router   routing.Router
	Pipeline *admission.Pipeline

	// HTTP handlers
	Completions *handlers.CompletionsHandler
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initPolicy(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize policy: %w", err)
	}

	deps.initAuth(cfg)
	deps.initPipeline()

	deps.Completions = handlers.NewCompletionsHandler(deps.Pipeline, logger)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initPolicy loads the admission policy and the components derived from it.
func (d *Dependencies) initPolicy(cfg *config.Config) error {
	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return err
	}

	d.Policy = policy
	d.Detector = pii.NewDetector(policy.PIIGate)
	d.Audit = audit.NewLogger(policy.LoggingSink, policy.LoggingPath, policy.Retention, d.Logger)

	d.Logger.Info("admission policy loaded",
		zap.String("path", cfg.PolicyPath),
		zap.String("version", policy.Version),
		zap.Strings("allowed_providers", policy.AllowedProviders),
		zap.Bool("pii_gate", policy.PIIGate.Enabled))

	return nil
}

// initAuth selects the authentication strategy for this process. A tenant
// manifest is preferred; a legacy static key is next; with neither the
// gateway runs open and every caller lands on the default tenant.
func (d *Dependencies) initAuth(cfg *config.Config) {
	registry, err := tenants.Load(cfg.TenantsPath, d.Logger)
	if err == nil {
		d.Registry = registry
		d.Logger.Info("tenant registry loaded",
			zap.String("path", cfg.TenantsPath),
			zap.Int("tenants", registry.Count()))
		return
	}

	if !errors.Is(err, fs.ErrNotExist) {
		fields := []zap.Field{zap.String("path", cfg.TenantsPath), zap.Error(err)}
		if utils.IsValidationError(err) {
			fields = append(fields, zap.Any("validation_fields", utils.GetValidationFields(err)))
		}
		d.Logger.Warn("tenant manifest unusable, falling back", fields...)
	}

	if cfg.LegacyAPIKey != "" {
		d.Logger.Warn("running with a single legacy API key; configure a tenant manifest instead")
		return
	}

	d.Logger.Warn("no tenant manifest and no legacy key: authentication is disabled")
}

// initPipeline assembles the admission pipeline from the pieces above.
func (d *Dependencies) initPipeline() {
	var auth admission.Authenticator
	switch {
	case d.Registry != nil:
		auth = admission.NewTenantAuthenticator(d.Registry)
	case d.Config.LegacyAPIKey != "":
		auth = admission.NewStaticKeyAuthenticator(d.Config.LegacyAPIKey)
	default:
		auth = admission.NewAnonymousAuthenticator()
	}

	d.Router = routing.NewStubRouter()

	d.Pipeline = admission.New(admission.Config{
		Policy:        d.Policy,
		Detector:      d.Detector,
		Authenticator: auth,
		Registry:      d.Registry,
		Audit:         d.Audit,
		Router:        d.Router,
		Logger:        d.Logger,
	})
}
