package suppliers

import (
	"context"

	"github.com/odyssey-erp/procurement/internal/audit"
	"github.com/odyssey-erp/procurement/internal/platform/httpx"
)

var (
	// ErrNotFound indicates the supplier does not exist.
	ErrNotFound = httpx.NewError(httpx.ErrNotFound, "suppliers: supplier not found")
	// ErrInUse indicates purchase orders or receipts still reference the supplier.
	ErrInUse = httpx.NewError(httpx.ErrConflict, "suppliers: supplier is referenced by purchase orders or receipts")
)

const entityType = "suppliers"

// Auditor records supplier mutations.
type Auditor interface {
	Emit(ctx context.Context, entry audit.Entry)
}

type Service struct {
	repo    Repository
	auditor Auditor
}

func NewService(repo Repository, auditor Auditor) *Service {
	return &Service{repo: repo, auditor: auditor}
}

func (s *Service) List(ctx context.Context) ([]Supplier, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (Supplier, error) {
	if id <= 0 {
		return Supplier{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, in CreateInput) (Supplier, error) {
	if err := validateCreate(in); err != nil {
		return Supplier{}, err
	}
	created, err := s.repo.Create(ctx, Supplier{Name: in.Name, Email: in.Email, Phone: in.Phone, Address: in.Address})
	if err != nil {
		return Supplier{}, err
	}
	s.record(ctx, audit.ActionCreate, created.ID, nil, created)
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Supplier, error) {
	if err := validateUpdate(in); err != nil {
		return Supplier{}, err
	}
	before, err := s.Get(ctx, id)
	if err != nil {
		return Supplier{}, err
	}
	updated, err := s.repo.Update(ctx, in.apply(before))
	if err != nil {
		return Supplier{}, err
	}
	s.record(ctx, audit.ActionUpdate, id, before, updated)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id int64) (Supplier, error) {
	before, err := s.Get(ctx, id)
	if err != nil {
		return Supplier{}, err
	}
	if _, err := s.repo.Delete(ctx, id); err != nil {
		return Supplier{}, err
	}
	s.record(ctx, audit.ActionDelete, id, before, nil)
	return before, nil
}

func (s *Service) record(ctx context.Context, action string, id int64, before, after any) {
	if s.auditor == nil {
		return
	}
	changes := audit.Changes{}
	if before != nil {
		changes.Before = before
	}
	if after != nil {
		changes.After = after
	}
	s.auditor.Emit(ctx, audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   audit.ID(id),
		Changes:    changes,
		Metadata:   map[string]any{"source": audit.Source},
	})
}
