package procurement

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/procurement/internal/integration"
)

func seedIntent(t *testing.T, repo *memoryProcRepo, kind IntentKind, payload any) IntegrationIntent {
	t.Helper()
	intent, err := newIntent(1, kind, int(repo.nextID), payload)
	require.NoError(t, err)
	stored, err := (&memoryProcTx{repo: repo}).InsertIntent(context.Background(), intent)
	require.NoError(t, err)
	return stored
}

func TestDispatchByIDRunsOnce(t *testing.T) {
	repo := newMemoryProcRepo()
	inv := &inventoryFake{}
	d := NewDispatcher(repo, inv, nil, time.Minute, nil)
	intent := seedIntent(t, repo, IntentStockAdjust, StockAdjustIntent{WarehouseID: 1, ExternalProductID: 2, DeltaOnHand: 3, Reason: "receipt:1"})

	require.NoError(t, d.DispatchByID(context.Background(), intent.ID))
	require.NoError(t, d.DispatchByID(context.Background(), intent.ID))

	require.Len(t, inv.adjustments, 1)
	require.Equal(t, IntentDone, repo.intents[intent.ID].Status)
}

func TestDispatchByIDReclaimsStuckIntent(t *testing.T) {
	repo := newMemoryProcRepo()
	inv := &inventoryFake{}
	d := NewDispatcher(repo, inv, nil, time.Minute, nil)
	intent := seedIntent(t, repo, IntentStockAdjust, StockAdjustIntent{WarehouseID: 1, ExternalProductID: 2, DeltaOnHand: 3})

	recent := time.Now()
	stuck := repo.intents[intent.ID]
	stuck.Status = IntentDispatching
	stuck.DispatchedAt = &recent
	repo.intents[intent.ID] = stuck

	require.NoError(t, d.DispatchByID(context.Background(), intent.ID))
	require.Empty(t, inv.adjustments)

	old := time.Now().Add(-5 * time.Minute)
	stuck.DispatchedAt = &old
	repo.intents[intent.ID] = stuck

	ids, err := d.StaleIntents(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, []int64{intent.ID}, ids)

	require.NoError(t, d.DispatchByID(context.Background(), intent.ID))
	require.Len(t, inv.adjustments, 1)
	require.Equal(t, IntentDone, repo.intents[intent.ID].Status)
}

func TestDispatchWithoutPortsSkips(t *testing.T) {
	repo := newMemoryProcRepo()
	d := NewDispatcher(repo, nil, nil, 0, nil)
	adjust := seedIntent(t, repo, IntentStockAdjust, StockAdjustIntent{WarehouseID: 1, ExternalProductID: 2, DeltaOnHand: 1})
	invoice := seedIntent(t, repo, IntentAPInvoice, APInvoiceIntent{SupplierID: 1, ReceiptID: 1, Currency: "MXN", Amount: decimal.NewFromInt(5)})

	d.DispatchAll(context.Background(), []IntegrationIntent{adjust, invoice})

	require.Equal(t, IntentSkipped, repo.intents[adjust.ID].Status)
	require.Equal(t, IntentSkipped, repo.intents[invoice.ID].Status)
}

func TestDispatchUnknownKindFails(t *testing.T) {
	repo := newMemoryProcRepo()
	d := NewDispatcher(repo, &inventoryFake{}, &financeFake{}, 0, nil)
	intent := seedIntent(t, repo, IntentKind("email"), map[string]string{"to": "ops"})

	require.NoError(t, d.DispatchByID(context.Background(), intent.ID))
	stored := repo.intents[intent.ID]
	require.Equal(t, IntentFailed, stored.Status)
	require.Contains(t, *stored.LastError, "unknown intent kind")
}

func TestDispatchScheduleNeedsInvoiceID(t *testing.T) {
	repo := newMemoryProcRepo()
	fin := &financeFake{}
	d := NewDispatcher(repo, nil, fin, 0, nil)
	intent := seedIntent(t, repo, IntentAPInvoice, APInvoiceIntent{
		SupplierID: 1,
		ReceiptID:  1,
		Currency:   "MXN",
		Amount:     decimal.RequireFromString("12.00"),
		DueDate:    "2026-12-01",
		Schedule:   true,
	})

	require.NoError(t, d.DispatchByID(context.Background(), intent.ID))
	require.Len(t, fin.invoices, 1)
	require.Empty(t, fin.schedules)
	require.Equal(t, IntentDone, repo.intents[intent.ID].Status)
}

func TestStatusOf(t *testing.T) {
	status, msg := statusOf(integration.OutcomeOK)
	require.Equal(t, IntentDone, status)
	require.Nil(t, msg)

	status, msg = statusOf(integration.OutcomeFailed)
	require.Equal(t, IntentFailed, status)
	require.NotNil(t, msg)
}

func TestIntentPayloadRoundTrip(t *testing.T) {
	intent, err := newIntent(4, IntentAPInvoice, 0, APInvoiceIntent{Amount: decimal.RequireFromString("50.10"), ReceiptID: 4})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(intent.Payload, &raw))
	require.Equal(t, "50.1", raw["amount"])
	require.EqualValues(t, 4, raw["procurementReceiptId"])
	require.Equal(t, IntentPending, intent.Status)
}
