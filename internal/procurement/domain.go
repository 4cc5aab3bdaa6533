package procurement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procurement/internal/platform/httpx"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft     POStatus = "draft"
	POStatusApproved  POStatus = "approved"
	POStatusSent      POStatus = "sent"
	POStatusReceived  POStatus = "received"
	POStatusClosed    POStatus = "closed"
	POStatusCancelled POStatus = "cancelled"
)

var poTransitions = map[POStatus][]POStatus{
	POStatusDraft:     {POStatusApproved, POStatusCancelled},
	POStatusApproved:  {POStatusSent, POStatusCancelled},
	POStatusSent:      {POStatusReceived, POStatusCancelled},
	POStatusReceived:  {POStatusClosed, POStatusCancelled},
	POStatusClosed:    nil,
	POStatusCancelled: nil,
}

// Valid reports whether s is a known status.
func (s POStatus) Valid() bool {
	_, ok := poTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is allowed. Re-applying the
// current status is accepted as a no-op.
func (s POStatus) CanTransitionTo(next POStatus) bool {
	if s == next {
		return next.Valid()
	}
	for _, allowed := range poTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DefaultCurrency applies when a purchase order omits its currency.
const DefaultCurrency = "MXN"

// PurchaseOrder header with optional items.
type PurchaseOrder struct {
	ID           int64           `json:"id"`
	SupplierID   int64           `json:"supplierId"`
	SupplierName *string         `json:"supplierName,omitempty"`
	Status       POStatus        `json:"status"`
	WarehouseID  int64           `json:"warehouseId"`
	Currency     string          `json:"currency"`
	Total        decimal.Decimal `json:"total"`
	Notes        *string         `json:"notes"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	Items        []POItem        `json:"items,omitempty"`
}

// POItem is an immutable order line.
type POItem struct {
	ID                int64           `json:"id"`
	PurchaseOrderID   int64           `json:"purchaseOrderId"`
	ExternalProductID int64           `json:"externalProductId"`
	SKUSnapshot       *string         `json:"skuSnapshot"`
	NameSnapshot      *string         `json:"nameSnapshot"`
	Quantity          int             `json:"quantity"`
	UnitCost          decimal.Decimal `json:"unitCost"`
	LineTotal         decimal.Decimal `json:"lineTotal"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// Receipt records a physical receiving event. Receipts are append-only.
type Receipt struct {
	ID              int64         `json:"id"`
	SupplierID      int64         `json:"supplierId"`
	PurchaseOrderID *int64        `json:"purchaseOrderId"`
	WarehouseID     int64         `json:"warehouseId"`
	Reference       *string       `json:"reference"`
	ReceivedAt      time.Time     `json:"receivedAt"`
	CreatedAt       time.Time     `json:"createdAt"`
	Items           []ReceiptItem `json:"items,omitempty"`
}

// ReceiptItem is one received product line.
type ReceiptItem struct {
	ID                int64     `json:"id"`
	ReceiptID         int64     `json:"receiptId"`
	ExternalProductID int64     `json:"externalProductId"`
	SKUSnapshot       *string   `json:"skuSnapshot"`
	NameSnapshot      *string   `json:"nameSnapshot"`
	QuantityReceived  int       `json:"quantityReceived"`
	CreatedAt         time.Time `json:"createdAt"`
}

// ReceiptFilters narrows receipt listings.
type ReceiptFilters struct {
	SupplierID      *int64
	PurchaseOrderID *int64
}

var (
	// ErrSupplierNotFound indicates the referenced supplier is missing.
	ErrSupplierNotFound = httpx.NewError(httpx.ErrNotFound, "procurement: supplier not found")
	// ErrPurchaseOrderNotFound indicates the referenced purchase order is missing.
	ErrPurchaseOrderNotFound = httpx.NewError(httpx.ErrNotFound, "procurement: purchase order not found")
	// ErrReceiptNotFound indicates the receipt is missing.
	ErrReceiptNotFound = httpx.NewError(httpx.ErrNotFound, "procurement: receipt not found")
	// ErrValidation indicates invalid input.
	ErrValidation = httpx.NewError(httpx.ErrValidation, "procurement: invalid input")
	// ErrInvalidTransition indicates an illegal purchase order status change.
	ErrInvalidTransition = httpx.NewError(httpx.ErrConflict, "procurement: invalid state transition")
)
