package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/odyssey-erp/procurement/internal/audit"
	"github.com/odyssey-erp/procurement/internal/platform/httpx"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	SupplierExists(ctx context.Context, id int64) (bool, error)
	GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context) ([]PurchaseOrder, error)
	DeletePurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	GetReceipt(ctx context.Context, id int64) (Receipt, error)
	ListReceipts(ctx context.Context, filters ReceiptFilters) ([]Receipt, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreatePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	InsertPOItem(ctx context.Context, item POItem) (POItem, error)
	LockPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	CreateReceipt(ctx context.Context, receipt Receipt) (Receipt, error)
	InsertReceiptItem(ctx context.Context, item ReceiptItem) (ReceiptItem, error)
	InsertIntent(ctx context.Context, intent IntegrationIntent) (IntegrationIntent, error)
}

// AuditPort receives before/after records of every mutation.
type AuditPort interface {
	Emit(ctx context.Context, entry audit.Entry)
}

// IntentDispatcher runs committed integration intents.
type IntentDispatcher interface {
	DispatchAll(ctx context.Context, intents []IntegrationIntent)
}

// Service orchestrates procurement flows.
type Service struct {
	repo       RepositoryPort
	dispatcher IntentDispatcher
	audit      AuditPort
	logger     *slog.Logger
	now        func() time.Time
	background sync.WaitGroup
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, dispatcher IntentDispatcher, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, dispatcher: dispatcher, audit: audit, logger: logger, now: time.Now}
}

// CreatePOInput describes a purchase order with its lines.
type CreatePOInput struct {
	SupplierID  int64         `json:"supplierId" validate:"required,gt=0"`
	WarehouseID int64         `json:"warehouseId" validate:"required,gt=0"`
	Currency    string        `json:"currency,omitempty"`
	Notes       *string       `json:"notes,omitempty"`
	Items       []POItemInput `json:"items" validate:"required,min=1,dive"`
}

// POItemInput describes an order line.
type POItemInput struct {
	ExternalProductID int64           `json:"externalProductId" validate:"required,gt=0"`
	SKUSnapshot       *string         `json:"skuSnapshot,omitempty"`
	NameSnapshot      *string         `json:"nameSnapshot,omitempty"`
	Quantity          int             `json:"quantity" validate:"required,gt=0"`
	UnitCost          decimal.Decimal `json:"unitCost"`
}

// UpdatePOInput is a partial header update; nil fields are left unchanged.
type UpdatePOInput struct {
	SupplierID  *int64    `json:"supplierId,omitempty" validate:"omitempty,gt=0"`
	Status      *POStatus `json:"status,omitempty"`
	WarehouseID *int64    `json:"warehouseId,omitempty" validate:"omitempty,gt=0"`
	Currency    *string   `json:"currency,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
}

// SetStatusInput requests a status change.
type SetStatusInput struct {
	ToStatus POStatus `json:"toStatus" validate:"required"`
	Reason   string   `json:"reason,omitempty"`
}

// ListPurchaseOrders returns order headers with supplier names.
func (s *Service) ListPurchaseOrders(ctx context.Context) ([]PurchaseOrder, error) {
	return s.repo.ListPurchaseOrders(ctx)
}

// GetPurchaseOrder returns an order with its items.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	if id <= 0 {
		return PurchaseOrder{}, ErrPurchaseOrderNotFound
	}
	return s.repo.GetPurchaseOrder(ctx, id)
}

// CreatePurchaseOrder persists a draft order and computes its totals.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if err := httpx.Validate(input); err != nil {
		return PurchaseOrder{}, err
	}
	code, err := normalizeCurrency(input.Currency)
	if err != nil {
		return PurchaseOrder{}, err
	}
	items, total, err := computeTotals(input.Items)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if err := s.ensureSupplier(ctx, input.SupplierID); err != nil {
		return PurchaseOrder{}, err
	}

	var created PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.CreatePurchaseOrder(ctx, PurchaseOrder{
			SupplierID:  input.SupplierID,
			Status:      POStatusDraft,
			WarehouseID: input.WarehouseID,
			Currency:    code,
			Total:       total,
			Notes:       input.Notes,
		})
		if err != nil {
			return err
		}
		for _, item := range items {
			item.PurchaseOrderID = po.ID
			stored, err := tx.InsertPOItem(ctx, item)
			if err != nil {
				return err
			}
			po.Items = append(po.Items, stored)
		}
		created = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, audit.ActionCreate, "purchase_orders", created.ID, nil, created, nil)
	return s.reload(ctx, created), nil
}

// UpdatePurchaseOrder applies a partial header update. A status change goes through
// the transition table.
func (s *Service) UpdatePurchaseOrder(ctx context.Context, id int64, input UpdatePOInput) (PurchaseOrder, error) {
	if err := httpx.Validate(input); err != nil {
		return PurchaseOrder{}, err
	}
	if input.Status != nil && !input.Status.Valid() {
		return PurchaseOrder{}, httpx.FieldErrors{"status": "oneof"}
	}
	var code string
	if input.Currency != nil {
		var err error
		if code, err = normalizeCurrency(*input.Currency); err != nil {
			return PurchaseOrder{}, err
		}
	}
	before, err := s.GetPurchaseOrder(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if input.SupplierID != nil && *input.SupplierID != before.SupplierID {
		if err := s.ensureSupplier(ctx, *input.SupplierID); err != nil {
			return PurchaseOrder{}, err
		}
	}

	var updated PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		if input.Status != nil {
			if !po.Status.CanTransitionTo(*input.Status) {
				return ErrInvalidTransition
			}
			po.Status = *input.Status
		}
		if input.SupplierID != nil {
			po.SupplierID = *input.SupplierID
		}
		if input.WarehouseID != nil {
			po.WarehouseID = *input.WarehouseID
		}
		if input.Currency != nil {
			po.Currency = code
		}
		if input.Notes != nil {
			po.Notes = input.Notes
		}
		updated, err = tx.UpdatePurchaseOrder(ctx, po)
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, audit.ActionUpdate, "purchase_orders", id, before, updated, nil)
	return s.reload(ctx, updated), nil
}

// SetStatus moves an order to a new status. Setting the current status again is a no-op.
func (s *Service) SetStatus(ctx context.Context, id int64, input SetStatusInput) (PurchaseOrder, error) {
	if !input.ToStatus.Valid() {
		return PurchaseOrder{}, httpx.FieldErrors{"toStatus": "oneof"}
	}
	if id <= 0 {
		return PurchaseOrder{}, ErrPurchaseOrderNotFound
	}
	var from POStatus
	var updated PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		from = po.Status
		if !from.CanTransitionTo(input.ToStatus) {
			return ErrInvalidTransition
		}
		if from == input.ToStatus {
			updated = po
			return nil
		}
		po.Status = input.ToStatus
		updated, err = tx.UpdatePurchaseOrder(ctx, po)
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	if from != input.ToStatus {
		meta := map[string]any{"source": audit.Source}
		if input.Reason != "" {
			meta["reason"] = input.Reason
		}
		s.recordAudit(ctx, audit.ActionStatusChange, "purchase_orders", id,
			map[string]any{"status": from}, map[string]any{"status": input.ToStatus}, meta)
	}
	return s.reload(ctx, updated), nil
}

// DeletePurchaseOrder removes an order and its items. Receipts keep their rows with the
// order reference cleared.
func (s *Service) DeletePurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	before, err := s.GetPurchaseOrder(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if _, err := s.repo.DeletePurchaseOrder(ctx, id); err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, audit.ActionDelete, "purchase_orders", id, before, nil, nil)
	return before, nil
}

func (s *Service) ensureSupplier(ctx context.Context, id int64) error {
	ok, err := s.repo.SupplierExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSupplierNotFound
	}
	return nil
}

// reload re-reads an order with items, falling back to what is already known.
func (s *Service) reload(ctx context.Context, po PurchaseOrder) PurchaseOrder {
	fresh, err := s.repo.GetPurchaseOrder(ctx, po.ID)
	if err != nil {
		s.logger.Warn("reload purchase order failed", slog.Int64("purchase_order_id", po.ID), slog.Any("error", err))
		return po
	}
	return fresh
}

// computeTotals derives line totals and the order total in exact decimal arithmetic.
func computeTotals(inputs []POItemInput) ([]POItem, decimal.Decimal, error) {
	if len(inputs) == 0 {
		return nil, decimal.Zero, httpx.FieldErrors{"items": "min"}
	}
	items := make([]POItem, 0, len(inputs))
	total := decimal.Zero
	for i, in := range inputs {
		if in.Quantity <= 0 {
			return nil, decimal.Zero, httpx.FieldErrors{fieldIndex("items", i, "quantity"): "gt"}
		}
		if in.UnitCost.IsNegative() {
			return nil, decimal.Zero, httpx.FieldErrors{fieldIndex("items", i, "unitCost"): "gte"}
		}
		if !isCents(in.UnitCost) {
			return nil, decimal.Zero, httpx.FieldErrors{fieldIndex("items", i, "unitCost"): "scale"}
		}
		line := in.UnitCost.Mul(decimal.NewFromInt(int64(in.Quantity)))
		items = append(items, POItem{
			ExternalProductID: in.ExternalProductID,
			SKUSnapshot:       in.SKUSnapshot,
			NameSnapshot:      in.NameSnapshot,
			Quantity:          in.Quantity,
			UnitCost:          in.UnitCost,
			LineTotal:         line,
		})
		total = total.Add(line)
	}
	return items, total, nil
}

// isCents reports whether d fits numeric(12,2) without rounding.
func isCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

func fieldIndex(list string, i int, field string) string {
	return fmt.Sprintf("%s[%d].%s", list, i, field)
}

func normalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency, nil
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", httpx.FieldErrors{"currency": "iso4217"}
	}
	return unit.String(), nil
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, entityID int64, before, after any, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{"source": audit.Source}
	}
	s.audit.Emit(ctx, audit.Entry{
		Action:     action,
		EntityType: entity,
		EntityID:   audit.ID(entityID),
		Changes:    audit.Changes{Before: before, After: after},
		Metadata:   meta,
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, httpx.ErrNotFound)
}
