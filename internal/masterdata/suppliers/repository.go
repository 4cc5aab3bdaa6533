package suppliers

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/procurement/internal/platform/db"
)

type Repository interface {
	List(ctx context.Context) ([]Supplier, error)
	Get(ctx context.Context, id int64) (Supplier, error)
	Create(ctx context.Context, supplier Supplier) (Supplier, error)
	Update(ctx context.Context, supplier Supplier) (Supplier, error)
	Delete(ctx context.Context, id int64) (Supplier, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const supplierColumns = `id, name, email, phone, address, created_at, updated_at`

func scanSupplier(row pgx.Row) (Supplier, error) {
	var s Supplier
	err := row.Scan(&s.ID, &s.Name, &s.Email, &s.Phone, &s.Address, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, ErrNotFound
	}
	return s, err
}

func (r *repository) List(ctx context.Context) ([]Supplier, error) {
	rows, err := r.db.Query(ctx, `SELECT `+supplierColumns+` FROM suppliers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := []Supplier{}
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Supplier, error) {
	return scanSupplier(r.db.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id))
}

func (r *repository) Create(ctx context.Context, supplier Supplier) (Supplier, error) {
	query := `INSERT INTO suppliers (name, email, phone, address, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5) RETURNING ` + supplierColumns
	return scanSupplier(r.db.QueryRow(ctx, query, supplier.Name, supplier.Email, supplier.Phone, supplier.Address, time.Now()))
}

func (r *repository) Update(ctx context.Context, supplier Supplier) (Supplier, error) {
	query := `UPDATE suppliers SET name = $1, email = $2, phone = $3, address = $4, updated_at = $5
WHERE id = $6 RETURNING ` + supplierColumns
	return scanSupplier(r.db.QueryRow(ctx, query, supplier.Name, supplier.Email, supplier.Phone, supplier.Address, time.Now(), supplier.ID))
}

func (r *repository) Delete(ctx context.Context, id int64) (Supplier, error) {
	s, err := scanSupplier(r.db.QueryRow(ctx, `DELETE FROM suppliers WHERE id = $1 RETURNING `+supplierColumns, id))
	if db.IsCode(err, db.CodeForeignKeyViolation) {
		return Supplier{}, ErrInUse
	}
	return s, err
}
