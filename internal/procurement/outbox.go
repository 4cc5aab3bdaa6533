package procurement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/procurement/internal/integration"
	"github.com/odyssey-erp/procurement/internal/integration/finance"
	"github.com/odyssey-erp/procurement/internal/integration/inventory"
)

// dispatchConcurrency bounds the in-request fan-out of intents.
const dispatchConcurrency = 4

// IntentStore persists intent dispatch state.
type IntentStore interface {
	// ClaimIntent marks a pending intent, or one stuck dispatching since before
	// staleBefore, as dispatching. ok is false when another dispatcher owns it.
	ClaimIntent(ctx context.Context, id int64, staleBefore time.Time) (intent IntegrationIntent, ok bool, err error)
	FinishIntent(ctx context.Context, id int64, status IntentStatus, lastError *string) error
	ListStaleIntents(ctx context.Context, before time.Time, limit int) ([]int64, error)
}

// InventoryPort adjusts stock downstream.
type InventoryPort interface {
	AdjustStock(ctx context.Context, adj inventory.StockAdjustment) integration.Outcome
}

// FinancePort creates payables downstream.
type FinancePort interface {
	CreateAPInvoice(ctx context.Context, in finance.APInvoice) (*finance.Invoice, integration.Outcome)
	CreatePaymentSchedule(ctx context.Context, in finance.PaymentSchedule) integration.Outcome
}

// Dispatcher executes integration intents after their receipt has committed.
type Dispatcher struct {
	store      IntentStore
	inventory  InventoryPort
	finance    FinancePort
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewDispatcher builds a dispatcher. Intents pending for longer than staleAfter are
// eligible for the background sweep.
func NewDispatcher(store IntentStore, inv InventoryPort, fin FinancePort, staleAfter time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	return &Dispatcher{store: store, inventory: inv, finance: fin, staleAfter: staleAfter, logger: logger, now: time.Now}
}

// DispatchAll runs intents concurrently. Each intent is independent; failures are
// recorded on the intent and never returned.
func (d *Dispatcher) DispatchAll(ctx context.Context, intents []IntegrationIntent) {
	ctx = context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(dispatchConcurrency)
	for _, intent := range intents {
		id := intent.ID
		g.Go(func() error {
			if err := d.DispatchByID(ctx, id); err != nil {
				d.logger.Warn("dispatch intent failed", slog.Int64("intent_id", id), slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// DispatchByID claims and runs one intent. Only storage errors are returned; an intent
// already owned by another dispatcher is left alone.
func (d *Dispatcher) DispatchByID(ctx context.Context, id int64) error {
	intent, ok, err := d.store.ClaimIntent(ctx, id, d.now().Add(-d.staleAfter))
	if err != nil {
		return fmt.Errorf("procurement: claim intent %d: %w", id, err)
	}
	if !ok {
		return nil
	}
	status, lastErr := d.run(ctx, intent)
	if err := d.store.FinishIntent(ctx, id, status, lastErr); err != nil {
		return fmt.Errorf("procurement: finish intent %d: %w", id, err)
	}
	d.logger.Debug("intent dispatched",
		slog.Int64("intent_id", id),
		slog.Int64("receipt_id", intent.ReceiptID),
		slog.String("kind", string(intent.Kind)),
		slog.String("status", string(status)),
	)
	return nil
}

// StaleIntents lists intents left behind by an interrupted dispatch.
func (d *Dispatcher) StaleIntents(ctx context.Context, limit int) ([]int64, error) {
	return d.store.ListStaleIntents(ctx, d.now().Add(-d.staleAfter), limit)
}

func (d *Dispatcher) run(ctx context.Context, intent IntegrationIntent) (IntentStatus, *string) {
	switch intent.Kind {
	case IntentStockAdjust:
		var p StockAdjustIntent
		if err := json.Unmarshal(intent.Payload, &p); err != nil {
			return failedWith(fmt.Sprintf("decode payload: %v", err))
		}
		if d.inventory == nil {
			return IntentSkipped, nil
		}
		return statusOf(d.inventory.AdjustStock(ctx, inventory.StockAdjustment{
			WarehouseID:       p.WarehouseID,
			ExternalProductID: p.ExternalProductID,
			DeltaOnHand:       p.DeltaOnHand,
			Reason:            p.Reason,
		}))
	case IntentAPInvoice:
		var p APInvoiceIntent
		if err := json.Unmarshal(intent.Payload, &p); err != nil {
			return failedWith(fmt.Sprintf("decode payload: %v", err))
		}
		if d.finance == nil {
			return IntentSkipped, nil
		}
		return d.invoice(ctx, p)
	default:
		return failedWith(fmt.Sprintf("unknown intent kind %q", intent.Kind))
	}
}

func (d *Dispatcher) invoice(ctx context.Context, p APInvoiceIntent) (IntentStatus, *string) {
	receiptID := p.ReceiptID
	invoice, outcome := d.finance.CreateAPInvoice(ctx, finance.APInvoice{
		ExternalRef:          p.ExternalRef,
		SupplierID:           p.SupplierID,
		ProcurementReceiptID: &receiptID,
		InvoiceNumber:        p.InvoiceNumber,
		Currency:             p.Currency,
		Amount:               p.Amount,
		DueDate:              p.DueDate,
		Notes:                p.Notes,
	})
	if outcome == integration.OutcomeOK && p.Schedule {
		if invoice == nil {
			d.logger.Warn("finance reply carried no invoice id, payment schedule skipped", slog.Int64("receipt_id", p.ReceiptID))
		} else {
			d.finance.CreatePaymentSchedule(ctx, finance.PaymentSchedule{
				InvoiceID: invoice.ID,
				DueDate:   p.DueDate,
				Amount:    p.Amount,
			})
		}
	}
	return statusOf(outcome)
}

func statusOf(outcome integration.Outcome) (IntentStatus, *string) {
	switch outcome {
	case integration.OutcomeOK:
		return IntentDone, nil
	case integration.OutcomeSkipped:
		return IntentSkipped, nil
	default:
		return failedWith("integration call failed after retries")
	}
}

func failedWith(msg string) (IntentStatus, *string) {
	return IntentFailed, &msg
}
