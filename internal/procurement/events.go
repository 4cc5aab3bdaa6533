package procurement

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntentKind identifies the downstream effect an integration intent carries.
type IntentKind string

const (
	IntentStockAdjust IntentKind = "stock_adjust"
	IntentAPInvoice   IntentKind = "ap_invoice"
)

// IntentStatus tracks an intent through dispatch.
type IntentStatus string

const (
	IntentPending     IntentStatus = "pending"
	IntentDispatching IntentStatus = "dispatching"
	IntentDone        IntentStatus = "done"
	IntentFailed      IntentStatus = "failed"
	IntentSkipped     IntentStatus = "skipped"
)

// IntegrationIntent is an outbound side effect persisted with its receipt.
type IntegrationIntent struct {
	ID           int64
	Key          uuid.UUID
	ReceiptID    int64
	Kind         IntentKind
	Payload      json.RawMessage
	Status       IntentStatus
	LastError    *string
	CreatedAt    time.Time
	DispatchedAt *time.Time
}

// StockAdjustIntent asks Inventory to add received quantity on hand.
type StockAdjustIntent struct {
	WarehouseID       int64  `json:"warehouseId"`
	ExternalProductID int64  `json:"externalProductId"`
	DeltaOnHand       int64  `json:"deltaOnHand"`
	Reason            string `json:"reason"`
}

// APInvoiceIntent asks Finance to open a payable for a receipt. When Schedule is set a
// payment schedule follows a successful invoice.
type APInvoiceIntent struct {
	ExternalRef   string          `json:"externalRef"`
	SupplierID    int64           `json:"supplierId"`
	ReceiptID     int64           `json:"procurementReceiptId"`
	InvoiceNumber string          `json:"invoiceNumber,omitempty"`
	Currency      string          `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	DueDate       string          `json:"dueDate,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	Schedule      bool            `json:"schedule"`
}

func receiptReason(receiptID int64) string {
	return fmt.Sprintf("receipt:%d", receiptID)
}

func receiptExternalRef(receiptID int64) string {
	return fmt.Sprintf("procurement:receipts:%d", receiptID)
}

// intentKey derives a stable key so the same effect of a receipt is never stored twice.
func intentKey(receiptID int64, kind IntentKind, seq int) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("receipt:%d:%s:%d", receiptID, kind, seq)))
}

func newIntent(receiptID int64, kind IntentKind, seq int, payload any) (IntegrationIntent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return IntegrationIntent{}, fmt.Errorf("procurement: encode %s intent: %w", kind, err)
	}
	return IntegrationIntent{
		Key:       intentKey(receiptID, kind, seq),
		ReceiptID: receiptID,
		Kind:      kind,
		Payload:   raw,
		Status:    IntentPending,
	}, nil
}
