// Package inventory adjusts stock levels in the Inventory service.
package inventory

import (
	"context"

	"github.com/odyssey-erp/procurement/internal/integration"
)

// Target names the Inventory service in logs, metrics and audit entries.
const Target = "inventory-backend"

const adjustEndpoint = "/v1/stock-levels/adjust"

// StockAdjustment is the payload accepted by the Inventory adjust endpoint.
type StockAdjustment struct {
	WarehouseID       int64  `json:"warehouseId"`
	ExternalProductID int64  `json:"externalProductId"`
	DeltaOnHand       int64  `json:"deltaOnHand"`
	DeltaReserved     *int64 `json:"deltaReserved,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// Poster is the shared best-effort call core.
type Poster interface {
	Post(ctx context.Context, call integration.Call) (integration.Response, integration.Outcome)
}

// Client provides inventory operations for procurement.
type Client struct {
	poster Poster
}

// NewClient creates a new inventory client.
func NewClient(poster Poster) *Client {
	return &Client{poster: poster}
}

// AdjustStock applies a stock delta. Failures are audited by the call core.
func (c *Client) AdjustStock(ctx context.Context, adj StockAdjustment) integration.Outcome {
	_, outcome := c.poster.Post(ctx, integration.Call{
		Endpoint: adjustEndpoint,
		Payload:  adj,
		Fields: map[string]any{
			"reason":            adj.Reason,
			"warehouseId":       adj.WarehouseID,
			"externalProductId": adj.ExternalProductID,
		},
	})
	return outcome
}
