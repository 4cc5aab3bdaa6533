// Package finance creates accounts-payable documents in the Finance service.
package finance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procurement/internal/integration"
)

// Target names the Finance service in logs, metrics and audit entries.
const Target = "finance-backend"

// DefaultCurrency is applied when an invoice carries no currency.
const DefaultCurrency = "MXN"

const (
	invoicesEndpoint  = "/v1/ap/invoices"
	schedulesEndpoint = "/v1/ap/payment-schedules"
)

// APInvoice requests an AP invoice. ExternalRef makes creation idempotent on the Finance side.
type APInvoice struct {
	ExternalRef          string
	SupplierID           int64
	ProcurementReceiptID *int64
	InvoiceNumber        string
	Currency             string
	Amount               decimal.Decimal
	DueDate              string
	Notes                string
}

type invoicePayload struct {
	ExternalRef          string      `json:"externalRef"`
	SupplierID           int64       `json:"supplierId"`
	ProcurementReceiptID *int64      `json:"procurementReceiptId,omitempty"`
	InvoiceNumber        string      `json:"invoiceNumber,omitempty"`
	Currency             string      `json:"currency"`
	Amount               json.Number `json:"amount"`
	DueDate              string      `json:"dueDate,omitempty"`
	Notes                string      `json:"notes,omitempty"`
}

// Invoice is the part of the Finance reply procurement relies on.
type Invoice struct {
	ID any `json:"id"`
}

// PaymentSchedule requests a payment schedule for an existing invoice.
type PaymentSchedule struct {
	InvoiceID any
	DueDate   string
	Amount    decimal.Decimal
}

type schedulePayload struct {
	InvoiceID any         `json:"invoiceId"`
	DueDate   string      `json:"dueDate"`
	Amount    json.Number `json:"amount"`
}

// Poster is the shared best-effort call core.
type Poster interface {
	Post(ctx context.Context, call integration.Call) (integration.Response, integration.Outcome)
}

// Client provides finance operations for procurement.
type Client struct {
	poster Poster
}

// NewClient creates a new finance client.
func NewClient(poster Poster) *Client {
	return &Client{poster: poster}
}

func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// CreateAPInvoice posts an AP invoice. The invoice is nil unless the outcome is OK
// and the reply carried an id.
func (c *Client) CreateAPInvoice(ctx context.Context, in APInvoice) (*Invoice, integration.Outcome) {
	currency := in.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	resp, outcome := c.poster.Post(ctx, integration.Call{
		Endpoint: invoicesEndpoint,
		Payload: invoicePayload{
			ExternalRef:          in.ExternalRef,
			SupplierID:           in.SupplierID,
			ProcurementReceiptID: in.ProcurementReceiptID,
			InvoiceNumber:        in.InvoiceNumber,
			Currency:             currency,
			Amount:               money(in.Amount),
			DueDate:              in.DueDate,
			Notes:                in.Notes,
		},
		Fields: map[string]any{
			"externalRef":          in.ExternalRef,
			"procurementReceiptId": in.ProcurementReceiptID,
			"supplierId":           in.SupplierID,
		},
	})
	if outcome != integration.OutcomeOK {
		return nil, outcome
	}
	invoice, err := decodeInvoice(resp.Body)
	if err != nil {
		return nil, outcome
	}
	return invoice, outcome
}

// CreatePaymentSchedule posts a payment schedule for an invoice.
func (c *Client) CreatePaymentSchedule(ctx context.Context, in PaymentSchedule) integration.Outcome {
	_, outcome := c.poster.Post(ctx, integration.Call{
		Endpoint: schedulesEndpoint,
		Payload: schedulePayload{
			InvoiceID: in.InvoiceID,
			DueDate:   in.DueDate,
			Amount:    money(in.Amount),
		},
		Fields: map[string]any{
			"invoiceId": in.InvoiceID,
			"dueDate":   in.DueDate,
		},
	})
	return outcome
}

// decodeInvoice accepts both a bare invoice object and a {"data": {...}} envelope.
func decodeInvoice(body []byte) (*Invoice, error) {
	var envelope struct {
		ID   any      `json:"id"`
		Data *Invoice `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("finance: decode invoice: %w", err)
	}
	if envelope.ID != nil {
		return &Invoice{ID: envelope.ID}, nil
	}
	if envelope.Data != nil && envelope.Data.ID != nil {
		return envelope.Data, nil
	}
	return nil, fmt.Errorf("finance: invoice id missing")
}
