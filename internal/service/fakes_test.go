package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fablink/internal/models"
	"fablink/internal/repository"
)

// In-memory doubles mirroring the repository transaction semantics closely
// enough to exercise the services.

type fakeUsers struct {
	users map[uuid.UUID]*models.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[uuid.UUID]*models.User)}
}

func (f *fakeUsers) Create(_ context.Context, u *models.User) error {
	f.users[u.ID] = u
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	return u, nil
}

func (f *fakeUsers) SetMakerApproval(_ context.Context, id uuid.UUID, approve bool) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	if u.MakerStatus != models.MakerStatusPending {
		return nil, fmt.Errorf("maker application already %s: %w", u.MakerStatus, models.ErrConflict)
	}
	if approve {
		u.MakerStatus = models.MakerStatusApproved
		u.Role = models.RoleMaker
	} else {
		u.MakerStatus = models.MakerStatusRejected
	}
	return u, nil
}

type fakeOrders struct {
	users  *fakeUsers
	orders map[string]*models.Order
}

func newFakeOrders(users *fakeUsers) *fakeOrders {
	return &fakeOrders{users: users, orders: make(map[string]*models.Order)}
}

func (f *fakeOrders) Create(_ context.Context, o *models.Order) error {
	f.orders[o.OrderID] = o
	return nil
}

func (f *fakeOrders) GetByOrderID(_ context.Context, orderID string) (*models.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	return o, nil
}

func (f *fakeOrders) List(_ context.Context, filter repository.OrderFilter) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range f.orders {
		if filter.CustomerID != uuid.Nil && o.CustomerID != filter.CustomerID {
			continue
		}
		if filter.MakerID != uuid.Nil && !o.HasMaker(filter.MakerID) {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeOrders) TransitionStatus(ctx context.Context, orderID string, to models.OrderStatus, note string, actor uuid.UUID, asAdmin bool) (*models.Order, models.OrderStatus, error) {
	o, err := f.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, "", err
	}
	old := o.Status
	if old == to {
		return o, old, nil
	}
	if asAdmin {
		if !models.CanTransition(old, to) {
			return nil, "", fmt.Errorf("cannot move %s from %s to %s: %w", orderID, old, to, models.ErrConflict)
		}
	} else {
		if !o.HasMaker(actor) || !models.MakerCanTransition(old, to) {
			return nil, "", fmt.Errorf("transition not allowed: %w", models.ErrForbidden)
		}
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	o.History = append(o.History, models.HistoryEntry{
		Status: to, Note: note, ChangedBy: actor, ChangedAt: o.UpdatedAt,
	})
	return o, old, nil
}

func (f *fakeOrders) AssignDeliveryCode(ctx context.Context, orderID, code string) (bool, error) {
	for id, other := range f.orders {
		if id != orderID && other.Delivery.Code == code && !other.Delivery.CodeUsed {
			return false, repository.ErrCodeTaken
		}
	}
	o, err := f.GetByOrderID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if o.Delivery.Code != "" {
		return false, nil
	}
	now := time.Now().UTC()
	o.Delivery.Code = code
	o.Delivery.CodeGeneratedAt = &now
	return true, nil
}

func (f *fakeOrders) AppendAdminNote(ctx context.Context, orderID, note string) error {
	o, err := f.GetByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	o.AdminNotes = append(o.AdminNotes, note)
	return nil
}

func (f *fakeOrders) ConfirmDelivery(ctx context.Context, orderID, code string, makerID uuid.UUID) (*models.Order, error) {
	o, err := f.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch {
	case o.Delivery.Code == "":
		return nil, fmt.Errorf("order %s has no delivery code: %w", orderID, models.ErrConflict)
	case o.Delivery.CodeUsed:
		return nil, fmt.Errorf("delivery code already used: %w", models.ErrConflict)
	case o.Delivery.Code != code:
		return nil, fmt.Errorf("delivery code does not match: %w", models.ErrValidation)
	case !o.HasMaker(makerID):
		return nil, fmt.Errorf("not a maker on this order: %w", models.ErrForbidden)
	case o.Status != models.OrderStatusPaymentReceived && o.Status != models.OrderStatusProcessing:
		return nil, fmt.Errorf("order in status %s cannot be confirmed: %w", o.Status, models.ErrConflict)
	}

	now := time.Now().UTC()
	o.Delivery.CodeUsed = true
	o.Delivery.CodeUsedAt = &now
	o.Delivery.MakerConfirmed = true
	o.Delivery.MakerConfirmedAt = &now
	o.Delivery.MakerID = makerID
	o.Delivery.DeliveredAt = &now
	o.Status = models.OrderStatusFulfilled
	o.History = append(o.History, models.HistoryEntry{
		Status: models.OrderStatusFulfilled, Note: "delivery confirmed",
		ChangedBy: makerID, ChangedAt: now,
	})
	if len(o.MakerPayments) == 0 {
		o.MakerPayments = o.GroupPaymentsByMaker()
	}
	for _, p := range o.MakerPayments {
		if u, ok := f.users.users[p.MakerID]; ok {
			u.MakerPayout.Pending += p.Amount
			u.MakerPayout.Total += p.Amount
		}
	}
	return o, nil
}

type fakePayments struct {
	orders *fakeOrders
	users  *fakeUsers
}

func (f *fakePayments) Settle(ctx context.Context, orderID string, makerID uuid.UUID, method, transactionRef string, adminID uuid.UUID) (*models.MakerPayment, error) {
	o, err := f.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.Delivery.MakerConfirmed {
		return nil, fmt.Errorf("order %s has not been delivery-confirmed: %w", orderID, models.ErrConflict)
	}
	for i := range o.MakerPayments {
		p := &o.MakerPayments[i]
		if p.MakerID != makerID {
			continue
		}
		if p.Status != models.PaymentStatusPending {
			return nil, fmt.Errorf("payment not pending: %w", models.ErrNotFound)
		}
		now := time.Now().UTC()
		p.Status = models.PaymentStatusPaid
		p.Method = method
		p.TransactionRef = transactionRef
		p.PaidAt = &now
		p.ProcessedBy = adminID
		if u, ok := f.users.users[makerID]; ok {
			u.MakerPayout.Pending -= p.Amount
			u.MakerPayout.Paid += p.Amount
		}
		return p, nil
	}
	return nil, fmt.Errorf("payment for maker %s: %w", makerID, models.ErrNotFound)
}

func (f *fakePayments) ListPending(_ context.Context) ([]repository.PendingPayment, error) {
	var out []repository.PendingPayment
	for _, o := range f.orders.orders {
		if !o.Delivery.MakerConfirmed {
			continue
		}
		for _, p := range o.MakerPayments {
			if p.Status == models.PaymentStatusPending {
				out = append(out, repository.PendingPayment{
					OrderID: o.OrderID, MakerID: p.MakerID,
					MakerName: p.MakerName, Amount: p.Amount, Status: p.Status,
				})
			}
		}
	}
	return out, nil
}

type fakeReviews struct {
	orders  *fakeOrders
	users   *fakeUsers
	reviews []models.Review
}

func (f *fakeReviews) CreateForOrder(ctx context.Context, orderID string, customerID uuid.UUID, rating int, comment string) ([]models.Review, []uuid.UUID, error) {
	o, err := f.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if o.CustomerID != customerID {
		return nil, nil, fmt.Errorf("not your order: %w", models.ErrForbidden)
	}
	if o.Status != models.OrderStatusFulfilled || !o.Delivery.MakerConfirmed {
		return nil, nil, fmt.Errorf("order not delivered yet: %w", models.ErrConflict)
	}
	for _, r := range f.reviews {
		if r.OrderID == o.ID {
			return nil, nil, fmt.Errorf("order already reviewed: %w", models.ErrConflict)
		}
	}

	seen := make(map[uuid.UUID]bool)
	var created []models.Review
	var disqualified []uuid.UUID
	for _, it := range o.Items {
		if seen[it.MakerID] {
			continue
		}
		seen[it.MakerID] = true
		rev := models.Review{
			ID: uuid.New(), OrderID: o.ID, CustomerID: customerID,
			MakerID: it.MakerID, Rating: rating, Comment: comment,
			IsBadReview: models.BadRating(rating), CreatedAt: time.Now().UTC(),
		}
		f.reviews = append(f.reviews, rev)
		created = append(created, rev)

		maker, ok := f.users.users[it.MakerID]
		if !ok {
			continue
		}
		maker.RatingCount++
		maker.RatingAvg += (float64(rating) - maker.RatingAvg) / float64(maker.RatingCount)
		if rev.IsBadReview {
			maker.BadReviewCount++
		}
		if maker.BadReviewCount >= models.BadReviewThreshold && maker.MakerStatus != models.MakerStatusDisqualified {
			maker.MakerStatus = models.MakerStatusDisqualified
			disqualified = append(disqualified, it.MakerID)
			for _, other := range f.orders.orders {
				for i := range other.MakerPayments {
					p := &other.MakerPayments[i]
					if p.MakerID == it.MakerID && p.Status == models.PaymentStatusPending {
						p.Status = models.PaymentStatusHeld
					}
				}
			}
		}
	}
	return created, disqualified, nil
}

func (f *fakeReviews) ListByMaker(_ context.Context, makerID uuid.UUID) ([]models.Review, error) {
	var out []models.Review
	for _, r := range f.reviews {
		if r.MakerID == makerID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeProducts struct {
	products []models.Product
}

func (f *fakeProducts) Create(_ context.Context, p *models.Product) error {
	f.products = append(f.products, *p)
	return nil
}

func (f *fakeProducts) ListByMaker(_ context.Context, makerID uuid.UUID) ([]models.Product, error) {
	var out []models.Product
	for _, p := range f.products {
		if p.MakerID == makerID {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	created   int
	statuses  []models.OrderStatus
	delivered int
	settled   int
}

func (f *fakeNotifier) OrderCreated(context.Context, *models.Order) { f.created++ }
func (f *fakeNotifier) StatusChanged(_ context.Context, o *models.Order) {
	f.statuses = append(f.statuses, o.Status)
}
func (f *fakeNotifier) Delivered(context.Context, *models.Order) { f.delivered++ }
func (f *fakeNotifier) PaymentSettled(context.Context, string, *models.MakerPayment) {
	f.settled++
}

type fakeWorklist struct {
	refreshes int
}

func (f *fakeWorklist) Refresh(context.Context) error {
	f.refreshes++
	return nil
}
