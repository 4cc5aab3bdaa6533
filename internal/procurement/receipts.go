package procurement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procurement/internal/audit"
	"github.com/odyssey-erp/procurement/internal/integration/finance"
	"github.com/odyssey-erp/procurement/internal/platform/httpx"
)

// CreateReceiptInput describes a receiving event.
type CreateReceiptInput struct {
	SupplierID      int64              `json:"supplierId" validate:"required,gt=0"`
	PurchaseOrderID *int64             `json:"purchaseOrderId,omitempty" validate:"omitempty,gt=0"`
	WarehouseID     int64              `json:"warehouseId" validate:"required,gt=0"`
	Reference       *string            `json:"reference,omitempty"`
	APInvoice       *APInvoiceInput    `json:"apInvoice,omitempty"`
	Items           []ReceiptItemInput `json:"items" validate:"required,min=1,dive"`
}

// ReceiptItemInput describes one received line.
type ReceiptItemInput struct {
	ExternalProductID int64   `json:"externalProductId" validate:"required,gt=0"`
	SKUSnapshot       *string `json:"skuSnapshot,omitempty"`
	NameSnapshot      *string `json:"nameSnapshot,omitempty"`
	QuantityReceived  int     `json:"quantityReceived" validate:"required,gte=1"`
}

// APInvoiceInput is an explicit invoice supplied with the receipt.
type APInvoiceInput struct {
	InvoiceNumber string          `json:"invoiceNumber,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	DueDate       string          `json:"dueDate,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

// ListReceipts returns receipt headers matching filters.
func (s *Service) ListReceipts(ctx context.Context, filters ReceiptFilters) ([]Receipt, error) {
	return s.repo.ListReceipts(ctx, filters)
}

// GetReceipt returns a receipt with its items.
func (s *Service) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	if id <= 0 {
		return Receipt{}, ErrReceiptNotFound
	}
	return s.repo.GetReceipt(ctx, id)
}

// CreateReceipt validates references and persists the receipt with its items and
// integration intents in one transaction. Dispatch and the create audit run after the
// commit without holding the response. Only validation and the local transaction can
// fail the call.
func (s *Service) CreateReceipt(ctx context.Context, input CreateReceiptInput) (Receipt, error) {
	if err := validateReceipt(input); err != nil {
		return Receipt{}, err
	}
	if err := s.ensureSupplier(ctx, input.SupplierID); err != nil {
		return Receipt{}, err
	}
	var po *PurchaseOrder
	if input.PurchaseOrderID != nil {
		found, err := s.repo.GetPurchaseOrder(ctx, *input.PurchaseOrderID)
		if err != nil {
			if isNotFound(err) {
				return Receipt{}, ErrPurchaseOrderNotFound
			}
			return Receipt{}, err
		}
		po = &found
	}

	var created Receipt
	var intents []IntegrationIntent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		header, err := tx.CreateReceipt(ctx, Receipt{
			SupplierID:      input.SupplierID,
			PurchaseOrderID: input.PurchaseOrderID,
			WarehouseID:     input.WarehouseID,
			Reference:       input.Reference,
			ReceivedAt:      s.now(),
		})
		if err != nil {
			return err
		}
		for _, item := range input.Items {
			stored, err := tx.InsertReceiptItem(ctx, ReceiptItem{
				ReceiptID:         header.ID,
				ExternalProductID: item.ExternalProductID,
				SKUSnapshot:       item.SKUSnapshot,
				NameSnapshot:      item.NameSnapshot,
				QuantityReceived:  item.QuantityReceived,
			})
			if err != nil {
				return err
			}
			header.Items = append(header.Items, stored)
		}
		planned, err := planIntents(header, input.APInvoice, po)
		if err != nil {
			return err
		}
		for _, intent := range planned {
			stored, err := tx.InsertIntent(ctx, intent)
			if err != nil {
				return err
			}
			intents = append(intents, stored)
		}
		created = header
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	s.afterCommit(ctx, created, intents)

	fresh, err := s.repo.GetReceipt(ctx, created.ID)
	if err != nil {
		s.logger.Warn("reload receipt failed", slog.Int64("receipt_id", created.ID), slog.Any("error", err))
		return created, nil
	}
	return fresh, nil
}

// afterCommit dispatches the receipt's intents and then records its create audit entry in
// the background, so the response never waits on downstream services. Intents that do not
// finish before the process exits stay pending for the outbox sweep.
func (s *Service) afterCommit(ctx context.Context, receipt Receipt, intents []IntegrationIntent) {
	ctx = context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if s.dispatcher != nil {
			s.dispatcher.DispatchAll(ctx, intents)
		}
		s.recordAudit(ctx, audit.ActionCreate, "receipts", receipt.ID, nil, receipt, nil)
	}()
}

// Drain waits for background receipt work started by CreateReceipt.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// planIntents lists the side effects of a receipt: one stock adjustment per item and at
// most one AP invoice. An explicit invoice wins over invoicing the order total.
func planIntents(receipt Receipt, explicit *APInvoiceInput, po *PurchaseOrder) ([]IntegrationIntent, error) {
	planned := make([]IntegrationIntent, 0, len(receipt.Items)+1)
	for i, item := range receipt.Items {
		intent, err := newIntent(receipt.ID, IntentStockAdjust, i, StockAdjustIntent{
			WarehouseID:       receipt.WarehouseID,
			ExternalProductID: item.ExternalProductID,
			DeltaOnHand:       int64(item.QuantityReceived),
			Reason:            receiptReason(receipt.ID),
		})
		if err != nil {
			return nil, err
		}
		planned = append(planned, intent)
	}

	var invoice *APInvoiceIntent
	switch {
	case explicit != nil:
		invoice = &APInvoiceIntent{
			InvoiceNumber: explicit.InvoiceNumber,
			Currency:      explicit.Currency,
			Amount:        explicit.Amount,
			DueDate:       explicit.DueDate,
			Notes:         explicit.Notes,
			Schedule:      explicit.DueDate != "",
		}
	case po != nil:
		invoice = &APInvoiceIntent{
			Currency: po.Currency,
			Amount:   po.Total,
			Notes:    fmt.Sprintf("auto from receipt %d (PO %d)", receipt.ID, po.ID),
		}
	}
	if invoice != nil {
		invoice.ExternalRef = receiptExternalRef(receipt.ID)
		invoice.SupplierID = receipt.SupplierID
		invoice.ReceiptID = receipt.ID
		if invoice.Currency == "" {
			invoice.Currency = finance.DefaultCurrency
		}
		intent, err := newIntent(receipt.ID, IntentAPInvoice, 0, invoice)
		if err != nil {
			return nil, err
		}
		planned = append(planned, intent)
	}
	return planned, nil
}

func validateReceipt(input CreateReceiptInput) error {
	if len(input.Items) == 0 {
		return httpx.FieldErrors{"items": "min"}
	}
	if err := httpx.Validate(input); err != nil {
		return err
	}
	if input.APInvoice != nil {
		switch amount := input.APInvoice.Amount; {
		case !amount.IsPositive():
			return httpx.FieldErrors{"apInvoice.amount": "gt"}
		case !isCents(amount):
			return httpx.FieldErrors{"apInvoice.amount": "scale"}
		}
	}
	return nil
}
