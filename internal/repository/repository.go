package repository

import (
	"context"

	"github.com/google/uuid"

	"fablink/internal/models"
)

// OrderFilter narrows List. Zero values mean "no filter".
type OrderFilter struct {
	CustomerID uuid.UUID
	MakerID    uuid.UUID
	Status     models.OrderStatus
	Cursor     string
	Limit      int64
}

type Orders interface {
	Create(ctx context.Context, o *models.Order) error
	GetByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	List(ctx context.Context, f OrderFilter) ([]*models.Order, error)
	// TransitionStatus atomically moves the order to a new status and appends
	// a history entry. Admins follow the full state machine, makers the
	// restricted one. A transition to the current status is a no-op.
	TransitionStatus(ctx context.Context, orderID string, to models.OrderStatus, note string, actor uuid.UUID, asAdmin bool) (*models.Order, models.OrderStatus, error)
	// AssignDeliveryCode sets the code only if none is present yet. Returns
	// false when the order already carries one. A collision with another
	// order's live code surfaces as ErrCodeTaken.
	AssignDeliveryCode(ctx context.Context, orderID, code string) (bool, error)
	AppendAdminNote(ctx context.Context, orderID, note string) error
	// ConfirmDelivery runs the whole single-use code protocol in one
	// transaction: code checks, maker authorization, status to fulfilled,
	// history append, payment computation and ledger credit.
	ConfirmDelivery(ctx context.Context, orderID, code string, makerID uuid.UUID) (*models.Order, error)
}

type Users interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// SetMakerApproval resolves a pending maker application.
	SetMakerApproval(ctx context.Context, id uuid.UUID, approve bool) (*models.User, error)
}

type Payments interface {
	// Settle moves one pending (order, maker) payment to paid and shifts the
	// maker's ledger from pending to paid in the same transaction.
	Settle(ctx context.Context, orderID string, makerID uuid.UUID, method, transactionRef string, adminID uuid.UUID) (*models.MakerPayment, error)
	// ListPending returns the settleable worklist; held payments are excluded.
	ListPending(ctx context.Context) ([]PendingPayment, error)
}

// PendingPayment is one row of the admin settlement worklist.
type PendingPayment struct {
	OrderID   string              `json:"orderId"`
	MakerID   uuid.UUID           `json:"makerId"`
	MakerName string              `json:"makerName"`
	Amount    int64               `json:"amount"`
	Status    models.PaymentStatus `json:"status"`
}

type Reviews interface {
	// CreateForOrder fans a customer review out to every maker on the order,
	// recomputes each maker's aggregates and runs the disqualification
	// cascade where the bad-review threshold is crossed, all in one
	// transaction. Returns the created rows and the disqualified maker IDs.
	CreateForOrder(ctx context.Context, orderID string, customerID uuid.UUID, rating int, comment string) ([]models.Review, []uuid.UUID, error)
	ListByMaker(ctx context.Context, makerID uuid.UUID) ([]models.Review, error)
}

type Products interface {
	Create(ctx context.Context, p *models.Product) error
	ListByMaker(ctx context.Context, makerID uuid.UUID) ([]models.Product, error)
}
