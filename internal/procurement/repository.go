package procurement

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/procurement/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ RepositoryPort = (*Repository)(nil)
	_ IntentStore    = (*Repository)(nil)
)

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const (
	poColumns      = `id, supplier_id, status::text, warehouse_id, currency, total, notes, created_at, updated_at`
	poItemColumns  = `id, purchase_order_id, external_product_id, sku_snapshot, name_snapshot, quantity, unit_cost, line_total, created_at`
	receiptColumns = `id, supplier_id, purchase_order_id, warehouse_id, reference, received_at, created_at`
	rcptItemCols   = `id, receipt_id, external_product_id, sku_snapshot, name_snapshot, quantity_received, created_at`
	intentColumns  = `id, intent_key, receipt_id, kind, payload, status, last_error, created_at, dispatched_at`
)

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.SupplierID, &po.Status, &po.WarehouseID, &po.Currency, &po.Total, &po.Notes, &po.CreatedAt, &po.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrPurchaseOrderNotFound
	}
	return po, err
}

func scanPOItem(row pgx.Row) (POItem, error) {
	var item POItem
	err := row.Scan(&item.ID, &item.PurchaseOrderID, &item.ExternalProductID, &item.SKUSnapshot, &item.NameSnapshot,
		&item.Quantity, &item.UnitCost, &item.LineTotal, &item.CreatedAt)
	return item, err
}

func scanReceipt(row pgx.Row) (Receipt, error) {
	var rc Receipt
	err := row.Scan(&rc.ID, &rc.SupplierID, &rc.PurchaseOrderID, &rc.WarehouseID, &rc.Reference, &rc.ReceivedAt, &rc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, ErrReceiptNotFound
	}
	return rc, err
}

func scanReceiptItem(row pgx.Row) (ReceiptItem, error) {
	var item ReceiptItem
	err := row.Scan(&item.ID, &item.ReceiptID, &item.ExternalProductID, &item.SKUSnapshot, &item.NameSnapshot, &item.QuantityReceived, &item.CreatedAt)
	return item, err
}

func scanIntent(row pgx.Row) (IntegrationIntent, error) {
	var in IntegrationIntent
	err := row.Scan(&in.ID, &in.Key, &in.ReceiptID, &in.Kind, &in.Payload, &in.Status, &in.LastError, &in.CreatedAt, &in.DispatchedAt)
	return in, err
}

// SupplierExists reports whether a supplier row exists.
func (r *Repository) SupplierExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM suppliers WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// GetPurchaseOrder returns an order and its items.
func (r *Repository) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanPO(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1`, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+poItemColumns+` FROM purchase_order_items WHERE purchase_order_id = $1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	po.Items = []POItem{}
	for rows.Next() {
		item, err := scanPOItem(rows)
		if err != nil {
			return PurchaseOrder{}, err
		}
		po.Items = append(po.Items, item)
	}
	return po, rows.Err()
}

// ListPurchaseOrders returns order headers joined with the supplier name.
func (r *Repository) ListPurchaseOrders(ctx context.Context) ([]PurchaseOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT po.id, po.supplier_id, s.name, po.status::text, po.warehouse_id, po.currency, po.total, po.notes, po.created_at, po.updated_at
FROM purchase_orders po
LEFT JOIN suppliers s ON s.id = po.supplier_id
ORDER BY po.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orders := []PurchaseOrder{}
	for rows.Next() {
		var po PurchaseOrder
		if err := rows.Scan(&po.ID, &po.SupplierID, &po.SupplierName, &po.Status, &po.WarehouseID, &po.Currency, &po.Total, &po.Notes, &po.CreatedAt, &po.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, po)
	}
	return orders, rows.Err()
}

// DeletePurchaseOrder removes an order; items cascade and receipts are detached.
func (r *Repository) DeletePurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanPO(r.pool.QueryRow(ctx, `DELETE FROM purchase_orders WHERE id = $1 RETURNING `+poColumns, id))
}

// GetReceipt returns a receipt and its items.
func (r *Repository) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	rc, err := scanReceipt(r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id))
	if err != nil {
		return Receipt{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+rcptItemCols+` FROM receipt_items WHERE receipt_id = $1 ORDER BY id`, id)
	if err != nil {
		return Receipt{}, err
	}
	defer rows.Close()
	rc.Items = []ReceiptItem{}
	for rows.Next() {
		item, err := scanReceiptItem(rows)
		if err != nil {
			return Receipt{}, err
		}
		rc.Items = append(rc.Items, item)
	}
	return rc, rows.Err()
}

// ListReceipts returns receipt headers matching the filters.
func (r *Repository) ListReceipts(ctx context.Context, filters ReceiptFilters) ([]Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE 1=1`
	args := []any{}
	if filters.SupplierID != nil {
		args = append(args, *filters.SupplierID)
		query += ` AND supplier_id = $` + strconv.Itoa(len(args))
	}
	if filters.PurchaseOrderID != nil {
		args = append(args, *filters.PurchaseOrderID)
		query += ` AND purchase_order_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	receipts := []Receipt{}
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, rc)
	}
	return receipts, rows.Err()
}

// ClaimIntent implements IntentStore.
func (r *Repository) ClaimIntent(ctx context.Context, id int64, staleBefore time.Time) (IntegrationIntent, bool, error) {
	intent, err := scanIntent(r.pool.QueryRow(ctx, `UPDATE integration_intents
SET status = 'dispatching', dispatched_at = now()
WHERE id = $1 AND (status = 'pending' OR (status = 'dispatching' AND dispatched_at < $2))
RETURNING `+intentColumns, id, staleBefore))
	if errors.Is(err, pgx.ErrNoRows) {
		return IntegrationIntent{}, false, nil
	}
	if err != nil {
		return IntegrationIntent{}, false, err
	}
	return intent, true, nil
}

// FinishIntent implements IntentStore.
func (r *Repository) FinishIntent(ctx context.Context, id int64, status IntentStatus, lastError *string) error {
	_, err := r.pool.Exec(ctx, `UPDATE integration_intents SET status = $2, last_error = $3, dispatched_at = now() WHERE id = $1`,
		id, string(status), lastError)
	return err
}

// ListStaleIntents implements IntentStore.
func (r *Repository) ListStaleIntents(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM integration_intents
WHERE (status = 'pending' AND created_at < $1) OR (status = 'dispatching' AND dispatched_at < $1)
ORDER BY id
LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *txRepo) CreatePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	created, err := scanPO(t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (supplier_id, status, warehouse_id, currency, total, notes)
VALUES ($1, $2::purchase_order_status, $3, $4, $5, $6)
RETURNING `+poColumns, po.SupplierID, string(po.Status), po.WarehouseID, po.Currency, po.Total, po.Notes))
	if db.IsCode(err, db.CodeForeignKeyViolation) {
		return PurchaseOrder{}, ErrSupplierNotFound
	}
	return created, err
}

func (t *txRepo) InsertPOItem(ctx context.Context, item POItem) (POItem, error) {
	return scanPOItem(t.tx.QueryRow(ctx, `INSERT INTO purchase_order_items (purchase_order_id, external_product_id, sku_snapshot, name_snapshot, quantity, unit_cost, line_total)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+poItemColumns, item.PurchaseOrderID, item.ExternalProductID, item.SKUSnapshot, item.NameSnapshot, item.Quantity, item.UnitCost, item.LineTotal))
}

func (t *txRepo) LockPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanPO(t.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	updated, err := scanPO(t.tx.QueryRow(ctx, `UPDATE purchase_orders
SET supplier_id = $2, status = $3::purchase_order_status, warehouse_id = $4, currency = $5, notes = $6, updated_at = now()
WHERE id = $1
RETURNING `+poColumns, po.ID, po.SupplierID, string(po.Status), po.WarehouseID, po.Currency, po.Notes))
	if db.IsCode(err, db.CodeForeignKeyViolation) {
		return PurchaseOrder{}, ErrSupplierNotFound
	}
	return updated, err
}

func (t *txRepo) CreateReceipt(ctx context.Context, rc Receipt) (Receipt, error) {
	created, err := scanReceipt(t.tx.QueryRow(ctx, `INSERT INTO receipts (supplier_id, purchase_order_id, warehouse_id, reference, received_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+receiptColumns, rc.SupplierID, rc.PurchaseOrderID, rc.WarehouseID, rc.Reference, rc.ReceivedAt))
	if db.IsCode(err, db.CodeForeignKeyViolation) {
		return Receipt{}, ErrSupplierNotFound
	}
	return created, err
}

func (t *txRepo) InsertReceiptItem(ctx context.Context, item ReceiptItem) (ReceiptItem, error) {
	return scanReceiptItem(t.tx.QueryRow(ctx, `INSERT INTO receipt_items (receipt_id, external_product_id, sku_snapshot, name_snapshot, quantity_received)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+rcptItemCols, item.ReceiptID, item.ExternalProductID, item.SKUSnapshot, item.NameSnapshot, item.QuantityReceived))
}

func (t *txRepo) InsertIntent(ctx context.Context, intent IntegrationIntent) (IntegrationIntent, error) {
	return scanIntent(t.tx.QueryRow(ctx, `INSERT INTO integration_intents (intent_key, receipt_id, kind, payload, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+intentColumns, intent.Key, intent.ReceiptID, string(intent.Kind), intent.Payload, string(intent.Status)))
}
