package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fablink/internal/models"
	"fablink/internal/repository"
)

type MakerService struct {
	users    repository.Users
	products repository.Products
}

func NewMakerService(users repository.Users, products repository.Products) *MakerService {
	return &MakerService{users: users, products: products}
}

// ResolveApplication approves or rejects a pending maker application.
func (s *MakerService) ResolveApplication(ctx context.Context, makerID uuid.UUID, approve bool) (*models.User, error) {
	return s.users.SetMakerApproval(ctx, makerID, approve)
}

// Payout returns a maker's ledger totals, visible to admins and the maker
// themselves.
func (s *MakerService) Payout(ctx context.Context, actor Actor, makerID uuid.UUID) (*models.PayoutTotals, error) {
	if !actor.Admin && actor.User.ID != makerID {
		return nil, fmt.Errorf("no access to this payout ledger: %w", models.ErrForbidden)
	}
	u, err := s.users.GetByID(ctx, makerID)
	if err != nil {
		return nil, err
	}
	return &u.MakerPayout, nil
}

// CreateProduct adds a listing for an approved maker. New listings start in
// review; disqualified makers cannot list at all.
func (s *MakerService) CreateProduct(ctx context.Context, actor Actor, name string) (*models.Product, error) {
	if actor.User.Role != models.RoleMaker || actor.User.MakerStatus != models.MakerStatusApproved {
		return nil, fmt.Errorf("only approved makers may list products: %w", models.ErrForbidden)
	}
	now := time.Now().UTC()
	p := &models.Product{
		ID:        uuid.New(),
		MakerID:   actor.User.ID,
		Name:      name,
		Status:    models.ProductStatusPendingReview,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.products.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Products lists a maker's catalogue.
func (s *MakerService) Products(ctx context.Context, makerID uuid.UUID) ([]models.Product, error) {
	if _, err := s.users.GetByID(ctx, makerID); err != nil {
		return nil, err
	}
	return s.products.ListByMaker(ctx, makerID)
}
