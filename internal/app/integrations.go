package app

import (
	"log/slog"

	"github.com/odyssey-erp/procurement/internal/audit"
	"github.com/odyssey-erp/procurement/internal/integration"
	"github.com/odyssey-erp/procurement/internal/integration/finance"
	"github.com/odyssey-erp/procurement/internal/integration/inventory"
	"github.com/odyssey-erp/procurement/internal/observability"
)

// Integrations bundles the downstream clients shared by the API and the worker.
type Integrations struct {
	Audit     *audit.Emitter
	Inventory *inventory.Client
	Finance   *finance.Client
}

// NewIntegrations builds the audit emitter and the integration clients once at startup.
func NewIntegrations(cfg *Config, metrics *observability.Metrics, logger *slog.Logger) Integrations {
	emitter := audit.NewEmitter(audit.Config{BaseURL: cfg.AuditAPIURL, APIKey: cfg.AuditAPIKey}, logger)
	client := func(target, baseURL, apiKey string) *integration.Client {
		return integration.NewClient(integration.Config{
			Target:   target,
			BaseURL:  baseURL,
			APIKey:   apiKey,
			Timeout:  cfg.IntegrationTimeout,
			Backoff:  cfg.IntegrationBackoff,
			Attempts: cfg.IntegrationAttempts,
		}, emitter, metrics, logger)
	}
	inv := client(inventory.Target, cfg.InventoryAPIURL, cfg.InventoryAPIKey)
	fin := client(finance.Target, cfg.FinanceAPIURL, cfg.FinanceAPIKey)
	for _, c := range []*integration.Client{inv, fin} {
		if !c.Enabled() {
			logger.Warn("integration api key missing, calls will be skipped", slog.String("target", c.Target()))
		}
	}
	return Integrations{
		Audit:     emitter,
		Inventory: inventory.NewClient(inv),
		Finance:   finance.NewClient(fin),
	}
}
