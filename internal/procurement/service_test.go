package procurement

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/procurement/internal/audit"
	"github.com/odyssey-erp/procurement/internal/platform/httpx"
)

type memoryProcRepo struct {
	mu        sync.Mutex
	nextID    int64
	suppliers map[int64]string
	pos       map[int64]PurchaseOrder
	poItems   map[int64][]POItem
	receipts  map[int64]Receipt
	rcptItems map[int64][]ReceiptItem
	intents   map[int64]IntegrationIntent

	failReceiptReads bool
}

type memoryProcTx struct {
	repo *memoryProcRepo
}

func newMemoryProcRepo() *memoryProcRepo {
	return &memoryProcRepo{
		suppliers: map[int64]string{},
		pos:       map[int64]PurchaseOrder{},
		poItems:   map[int64][]POItem{},
		receipts:  map[int64]Receipt{},
		rcptItems: map[int64][]ReceiptItem{},
		intents:   map[int64]IntegrationIntent{},
	}
}

func (r *memoryProcRepo) addSupplier(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.suppliers[r.nextID] = name
	return r.nextID
}

func (r *memoryProcRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryProcTx{repo: r})
}

func (r *memoryProcRepo) SupplierExists(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.suppliers[id]
	return ok, nil
}

func (r *memoryProcRepo) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	po, ok := r.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrPurchaseOrderNotFound
	}
	po.Items = append([]POItem{}, r.poItems[id]...)
	return po, nil
}

func (r *memoryProcRepo) ListPurchaseOrders(ctx context.Context) ([]PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PurchaseOrder, 0, len(r.pos))
	for _, po := range r.pos {
		if name, ok := r.suppliers[po.SupplierID]; ok {
			po.SupplierName = &name
		}
		out = append(out, po)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryProcRepo) DeletePurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	po, ok := r.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrPurchaseOrderNotFound
	}
	delete(r.pos, id)
	delete(r.poItems, id)
	for rid, rc := range r.receipts {
		if rc.PurchaseOrderID != nil && *rc.PurchaseOrderID == id {
			rc.PurchaseOrderID = nil
			r.receipts[rid] = rc
		}
	}
	return po, nil
}

func (r *memoryProcRepo) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failReceiptReads {
		return Receipt{}, errors.New("connection reset")
	}
	rc, ok := r.receipts[id]
	if !ok {
		return Receipt{}, ErrReceiptNotFound
	}
	rc.Items = append([]ReceiptItem{}, r.rcptItems[id]...)
	return rc, nil
}

func (r *memoryProcRepo) ListReceipts(ctx context.Context, filters ReceiptFilters) ([]Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Receipt{}
	for _, rc := range r.receipts {
		if filters.SupplierID != nil && rc.SupplierID != *filters.SupplierID {
			continue
		}
		if filters.PurchaseOrderID != nil && (rc.PurchaseOrderID == nil || *rc.PurchaseOrderID != *filters.PurchaseOrderID) {
			continue
		}
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryProcRepo) ClaimIntent(ctx context.Context, id int64, staleBefore time.Time) (IntegrationIntent, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.intents[id]
	if !ok {
		return IntegrationIntent{}, false, nil
	}
	stale := in.Status == IntentDispatching && in.DispatchedAt != nil && in.DispatchedAt.Before(staleBefore)
	if in.Status != IntentPending && !stale {
		return IntegrationIntent{}, false, nil
	}
	now := time.Now()
	in.Status = IntentDispatching
	in.DispatchedAt = &now
	r.intents[id] = in
	return in, true, nil
}

func (r *memoryProcRepo) FinishIntent(ctx context.Context, id int64, status IntentStatus, lastError *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	in := r.intents[id]
	now := time.Now()
	in.Status = status
	in.LastError = lastError
	in.DispatchedAt = &now
	r.intents[id] = in
	return nil
}

func (r *memoryProcRepo) ListStaleIntents(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for id, in := range r.intents {
		pending := in.Status == IntentPending && in.CreatedAt.Before(before)
		stuck := in.Status == IntentDispatching && in.DispatchedAt != nil && in.DispatchedAt.Before(before)
		if pending || stuck {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *memoryProcRepo) intentsFor(receiptID int64) []IntegrationIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []IntegrationIntent
	for _, in := range r.intents {
		if in.ReceiptID == receiptID {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (tx *memoryProcTx) CreatePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	if _, ok := tx.repo.suppliers[po.SupplierID]; !ok {
		return PurchaseOrder{}, ErrSupplierNotFound
	}
	po.ID = tx.repo.id()
	po.CreatedAt = time.Now()
	po.UpdatedAt = po.CreatedAt
	tx.repo.pos[po.ID] = po
	return po, nil
}

func (tx *memoryProcTx) InsertPOItem(ctx context.Context, item POItem) (POItem, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	item.ID = tx.repo.id()
	item.CreatedAt = time.Now()
	tx.repo.poItems[item.PurchaseOrderID] = append(tx.repo.poItems[item.PurchaseOrderID], item)
	return item, nil
}

func (tx *memoryProcTx) LockPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	po, ok := tx.repo.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrPurchaseOrderNotFound
	}
	return po, nil
}

func (tx *memoryProcTx) UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	if _, ok := tx.repo.pos[po.ID]; !ok {
		return PurchaseOrder{}, ErrPurchaseOrderNotFound
	}
	po.Items = nil
	po.UpdatedAt = time.Now()
	tx.repo.pos[po.ID] = po
	return po, nil
}

func (tx *memoryProcTx) CreateReceipt(ctx context.Context, rc Receipt) (Receipt, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	rc.ID = tx.repo.id()
	rc.CreatedAt = time.Now()
	tx.repo.receipts[rc.ID] = rc
	return rc, nil
}

func (tx *memoryProcTx) InsertReceiptItem(ctx context.Context, item ReceiptItem) (ReceiptItem, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	item.ID = tx.repo.id()
	item.CreatedAt = time.Now()
	tx.repo.rcptItems[item.ReceiptID] = append(tx.repo.rcptItems[item.ReceiptID], item)
	return item, nil
}

func (tx *memoryProcTx) InsertIntent(ctx context.Context, intent IntegrationIntent) (IntegrationIntent, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for _, existing := range tx.repo.intents {
		if existing.Key == intent.Key {
			return IntegrationIntent{}, httpx.NewError(httpx.ErrDuplicate, "duplicate intent key")
		}
	}
	intent.ID = tx.repo.id()
	intent.CreatedAt = time.Now()
	tx.repo.intents[intent.ID] = intent
	return intent, nil
}

type auditRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *auditRecorder) Emit(ctx context.Context, entry audit.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *auditRecorder) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.EntityType+":"+e.Action)
	}
	return out
}

func (a *auditRecorder) last() audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries[len(a.entries)-1]
}

func poInput(supplierID int64, items ...POItemInput) CreatePOInput {
	return CreatePOInput{SupplierID: supplierID, WarehouseID: 7, Items: items}
}

func line(productID int64, qty int, cost string) POItemInput {
	return POItemInput{ExternalProductID: productID, Quantity: qty, UnitCost: decimal.RequireFromString(cost)}
}

func TestComputeTotalsKeepsCentsExact(t *testing.T) {
	items, total, err := computeTotals([]POItemInput{line(100, 3, "0.13"), line(101, 7, "19.990")})
	require.NoError(t, err)
	sum := decimal.Zero
	for _, it := range items {
		require.True(t, it.LineTotal.Equal(it.LineTotal.Round(2)))
		sum = sum.Add(it.LineTotal)
	}
	require.True(t, total.Equal(sum))
	require.Equal(t, "140.32", total.StringFixed(2))
}

func TestCreatePurchaseOrderComputesTotals(t *testing.T) {
	repo := newMemoryProcRepo()
	supplierID := repo.addSupplier("Acme")
	rec := &auditRecorder{}
	svc := NewService(repo, nil, rec, nil)

	po, err := svc.CreatePurchaseOrder(context.Background(), poInput(supplierID, line(100, 2, "10.50"), line(101, 3, "0.10")))
	require.NoError(t, err)
	require.Equal(t, POStatusDraft, po.Status)
	require.Equal(t, "MXN", po.Currency)
	require.Equal(t, "21.30", po.Total.StringFixed(2))
	require.Len(t, po.Items, 2)
	require.Equal(t, "21.00", po.Items[0].LineTotal.StringFixed(2))
	require.Equal(t, "0.30", po.Items[1].LineTotal.StringFixed(2))
	require.Equal(t, []string{"purchase_orders:create"}, rec.actions())
	require.Nil(t, rec.last().Changes.Before)
}

func TestCreatePurchaseOrderValidation(t *testing.T) {
	repo := newMemoryProcRepo()
	supplierID := repo.addSupplier("Acme")
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.CreatePurchaseOrder(ctx, poInput(supplierID+100, line(100, 1, "1")))
	require.ErrorIs(t, err, ErrSupplierNotFound)
	require.ErrorIs(t, err, httpx.ErrNotFound)

	_, err = svc.CreatePurchaseOrder(ctx, poInput(supplierID))
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.CreatePurchaseOrder(ctx, poInput(supplierID, line(100, 1, "-0.01")))
	var fields httpx.FieldErrors
	require.ErrorAs(t, err, &fields)
	require.Contains(t, fields, "items[0].unitCost")

	_, err = svc.CreatePurchaseOrder(ctx, poInput(supplierID, line(100, 1, "0.125"), line(101, 1, "0.125")))
	require.ErrorAs(t, err, &fields)
	require.Equal(t, "scale", fields["items[0].unitCost"])

	orders, err := svc.ListPurchaseOrders(ctx)
	require.NoError(t, err)
	require.Empty(t, orders)

	_, err = svc.CreatePurchaseOrder(ctx, poInput(supplierID, line(100, 0, "1")))
	require.ErrorIs(t, err, httpx.ErrValidation)

	in := poInput(supplierID, line(100, 1, "1"))
	in.Currency = "ZZZ"
	_, err = svc.CreatePurchaseOrder(ctx, in)
	require.ErrorAs(t, err, &fields)
	require.Contains(t, fields, "currency")

	in.Currency = "usd"
	po, err := svc.CreatePurchaseOrder(ctx, in)
	require.NoError(t, err)
	require.Equal(t, "USD", po.Currency)
}

func TestSetStatusFollowsTransitions(t *testing.T) {
	repo := newMemoryProcRepo()
	supplierID := repo.addSupplier("Acme")
	rec := &auditRecorder{}
	svc := NewService(repo, nil, rec, nil)
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, poInput(supplierID, line(100, 1, "5")))
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, po.ID, SetStatusInput{ToStatus: POStatusSent})
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.ErrorIs(t, err, httpx.ErrConflict)

	updated, err := svc.SetStatus(ctx, po.ID, SetStatusInput{ToStatus: POStatusApproved, Reason: "budget ok"})
	require.NoError(t, err)
	require.Equal(t, POStatusApproved, updated.Status)
	require.Len(t, updated.Items, 1)

	entry := rec.last()
	require.Equal(t, audit.ActionStatusChange, entry.Action)
	require.Equal(t, map[string]any{"status": POStatusDraft}, entry.Changes.Before)
	require.Equal(t, map[string]any{"status": POStatusApproved}, entry.Changes.After)
	require.Equal(t, "budget ok", entry.Metadata["reason"])

	count := len(rec.actions())
	_, err = svc.SetStatus(ctx, po.ID, SetStatusInput{ToStatus: POStatusApproved})
	require.NoError(t, err)
	require.Len(t, rec.actions(), count)

	for _, next := range []POStatus{POStatusSent, POStatusReceived, POStatusClosed} {
		_, err = svc.SetStatus(ctx, po.ID, SetStatusInput{ToStatus: next})
		require.NoError(t, err)
	}
	_, err = svc.SetStatus(ctx, po.ID, SetStatusInput{ToStatus: POStatusCancelled})
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.SetStatus(ctx, po.ID, SetStatusInput{ToStatus: "shipped"})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.SetStatus(ctx, 999, SetStatusInput{ToStatus: POStatusApproved})
	require.ErrorIs(t, err, ErrPurchaseOrderNotFound)
}

func TestUpdatePurchaseOrder(t *testing.T) {
	repo := newMemoryProcRepo()
	supplierID := repo.addSupplier("Acme")
	otherID := repo.addSupplier("Globex")
	rec := &auditRecorder{}
	svc := NewService(repo, nil, rec, nil)
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, poInput(supplierID, line(100, 4, "2.50")))
	require.NoError(t, err)

	notes := "deliver after 9am"
	updated, err := svc.UpdatePurchaseOrder(ctx, po.ID, UpdatePOInput{SupplierID: &otherID, Notes: &notes})
	require.NoError(t, err)
	require.Equal(t, otherID, updated.SupplierID)
	require.Equal(t, notes, *updated.Notes)
	require.Equal(t, "10.00", updated.Total.StringFixed(2))
	require.Equal(t, audit.ActionUpdate, rec.last().Action)

	missing := int64(999)
	_, err = svc.UpdatePurchaseOrder(ctx, po.ID, UpdatePOInput{SupplierID: &missing})
	require.ErrorIs(t, err, ErrSupplierNotFound)

	closed := POStatusClosed
	_, err = svc.UpdatePurchaseOrder(ctx, po.ID, UpdatePOInput{Status: &closed})
	require.ErrorIs(t, err, ErrInvalidTransition)

	bogus := POStatus("archived")
	_, err = svc.UpdatePurchaseOrder(ctx, po.ID, UpdatePOInput{Status: &bogus})
	require.ErrorIs(t, err, httpx.ErrValidation)

	approved := POStatusApproved
	updated, err = svc.UpdatePurchaseOrder(ctx, po.ID, UpdatePOInput{Status: &approved})
	require.NoError(t, err)
	require.Equal(t, POStatusApproved, updated.Status)

	_, err = svc.UpdatePurchaseOrder(ctx, 999, UpdatePOInput{Notes: &notes})
	require.ErrorIs(t, err, ErrPurchaseOrderNotFound)
}

func TestDeletePurchaseOrderDetachesReceipts(t *testing.T) {
	repo := newMemoryProcRepo()
	supplierID := repo.addSupplier("Acme")
	rec := &auditRecorder{}
	svc := NewService(repo, nil, rec, nil)
	ctx := context.Background()

	po, err := svc.CreatePurchaseOrder(ctx, poInput(supplierID, line(100, 1, "5")))
	require.NoError(t, err)
	receipt, err := svc.CreateReceipt(ctx, CreateReceiptInput{
		SupplierID:      supplierID,
		PurchaseOrderID: &po.ID,
		WarehouseID:     7,
		Items:           []ReceiptItemInput{{ExternalProductID: 100, QuantityReceived: 1}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.Drain(ctx))

	deleted, err := svc.DeletePurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, po.ID, deleted.ID)
	require.Equal(t, audit.ActionDelete, rec.last().Action)
	require.Nil(t, rec.last().Changes.After)

	_, err = svc.GetPurchaseOrder(ctx, po.ID)
	require.ErrorIs(t, err, ErrPurchaseOrderNotFound)

	kept, err := svc.GetReceipt(ctx, receipt.ID)
	require.NoError(t, err)
	require.Nil(t, kept.PurchaseOrderID)

	_, err = svc.DeletePurchaseOrder(ctx, po.ID)
	require.ErrorIs(t, err, ErrPurchaseOrderNotFound)
}

func TestListPurchaseOrdersIncludesSupplierName(t *testing.T) {
	repo := newMemoryProcRepo()
	supplierID := repo.addSupplier("Acme")
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.CreatePurchaseOrder(context.Background(), poInput(supplierID, line(100, 1, "5")))
	require.NoError(t, err)

	orders, err := svc.ListPurchaseOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, "Acme", *orders[0].SupplierName)
}

func TestPOStatusTransitions(t *testing.T) {
	require.True(t, POStatusDraft.CanTransitionTo(POStatusDraft))
	require.True(t, POStatusSent.CanTransitionTo(POStatusCancelled))
	require.False(t, POStatusCancelled.CanTransitionTo(POStatusDraft))
	require.False(t, POStatusReceived.CanTransitionTo(POStatusSent))
	require.False(t, POStatus("bogus").CanTransitionTo("bogus"))
}
