package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fablink/internal/audit"
	"fablink/internal/commission"
	"fablink/internal/deliverycode"
	"fablink/internal/models"
	"fablink/internal/repository"
	"fablink/internal/shipping"
)

// Actor is the authenticated caller as resolved by the middleware. Admin is
// decided by the injected allowlist, not by a role on the user record.
type Actor struct {
	User  *models.User
	Admin bool
}

// Notifier is the slice of the notification contract the services trigger.
// Implementations are best-effort and must never return control-flow errors.
type Notifier interface {
	OrderCreated(ctx context.Context, o *models.Order)
	StatusChanged(ctx context.Context, o *models.Order)
	Delivered(ctx context.Context, o *models.Order)
	PaymentSettled(ctx context.Context, orderID string, p *models.MakerPayment)
}

// Worklist is refreshed after mutations that change the settleable set.
type Worklist interface {
	Refresh(ctx context.Context) error
}

const paymentDueAfter = 72 * time.Hour

type CreateOrderItemInput struct {
	ProductID uuid.UUID
	Name      string
	Material  string
	Color     string
	Image     string
	Quantity  int
	UnitPrice int64
	MakerID   uuid.UUID
	MakerName string
}

type CreateOrderInput struct {
	Currency        string
	Items           []CreateOrderItemInput
	ShippingMethod  shipping.MethodType
	ShippingFee     *int64
	WeightKg        float64
	CustomerNotes   string
	ShippingAddress models.Address
	BillingAddress  models.Address
}

type OrderService struct {
	orders   repository.Orders
	shipping shipping.Service
	codes    *deliverycode.Generator
	notifier Notifier
	auditLog *audit.WorkerPool
	worklist Worklist
	logger   *zap.Logger
}

func NewOrderService(orders repository.Orders, ship shipping.Service, codes *deliverycode.Generator, notifier Notifier, auditLog *audit.WorkerPool, worklist Worklist, logger *zap.Logger) *OrderService {
	return &OrderService{
		orders:   orders,
		shipping: ship,
		codes:    codes,
		notifier: notifier,
		auditLog: auditLog,
		worklist: worklist,
		logger:   logger,
	}
}

// CreateOrder builds the aggregate from validated input: commission and maker
// payout are computed per line and frozen in, payments are grouped by maker
// and the first history entry is written. Confirmation notifications are
// queued once the order is persisted.
func (s *OrderService) CreateOrder(ctx context.Context, actor Actor, in CreateOrderInput) (*models.Order, error) {
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("order needs at least one item: %w", models.ErrValidation)
	}

	now := time.Now().UTC()
	o := &models.Order{
		ID:              uuid.New(),
		OrderID:         NewOrderID(),
		CustomerID:      actor.User.ID,
		Status:          models.OrderStatusAwaitingPayment,
		Currency:        in.Currency,
		PaymentMethod:   "bank_transfer",
		CustomerNotes:   in.CustomerNotes,
		PaymentDueBy:    now.Add(paymentDueAfter),
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if o.Currency == "" {
		o.Currency = "EUR"
	}

	for i, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("item %d: quantity must be positive: %w", i, models.ErrValidation)
		}
		if it.UnitPrice <= 0 {
			return nil, fmt.Errorf("item %d: unit price must be positive: %w", i, models.ErrValidation)
		}
		if it.MakerID == uuid.Nil {
			return nil, fmt.Errorf("item %d: maker is required: %w", i, models.ErrValidation)
		}
		perUnit := commission.Commission(it.UnitPrice)
		item := models.OrderItem{
			ProductID:   it.ProductID,
			Name:        it.Name,
			Material:    it.Material,
			Color:       it.Color,
			Image:       it.Image,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			LineTotal:   it.UnitPrice * int64(it.Quantity),
			Commission:  perUnit,
			MakerPayout: commission.MakerPayout(it.UnitPrice, it.Quantity, perUnit),
			MakerID:     it.MakerID,
			MakerName:   it.MakerName,
		}
		o.Items = append(o.Items, item)
		o.Subtotal += item.LineTotal
	}

	if in.ShippingFee != nil {
		if *in.ShippingFee < 0 {
			return nil, fmt.Errorf("shipping fee must not be negative: %w", models.ErrValidation)
		}
		o.ShippingFee = *in.ShippingFee
	} else if in.ShippingMethod != "" {
		method, err := s.shipping.GetMethod(in.ShippingMethod)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, models.ErrValidation)
		}
		if err := method.Validate(in.WeightKg); err != nil {
			return nil, fmt.Errorf("%v: %w", err, models.ErrValidation)
		}
		o.ShippingFee = method.Fee()
	}
	o.Total = o.Subtotal + o.ShippingFee

	o.MakerPayments = o.GroupPaymentsByMaker()
	o.History = []models.HistoryEntry{{
		Status:    models.OrderStatusAwaitingPayment,
		Note:      "order created",
		ChangedBy: actor.User.ID,
		ChangedAt: now,
	}}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}

	s.notifier.OrderCreated(ctx, o)
	s.audit(audit.Record{
		Timestamp: now, OrderID: o.OrderID,
		NewStatus: string(o.Status),
		Message:   "order created",
	})
	return o, nil
}

// NewOrderID produces a human-readable public order identifier.
func NewOrderID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "FL-" + strings.ToUpper(raw[:8])
}

// GetOrder enforces read visibility: admins see everything, customers their
// own orders, makers orders containing their items.
func (s *OrderService) GetOrder(ctx context.Context, actor Actor, orderID string) (*models.Order, error) {
	o, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.Admin || o.CustomerID == actor.User.ID || o.HasMaker(actor.User.ID) {
		return o, nil
	}
	return nil, fmt.Errorf("no access to order %s: %w", orderID, models.ErrForbidden)
}

// ListOrders narrows the result set to the caller's visibility.
func (s *OrderService) ListOrders(ctx context.Context, actor Actor, status models.OrderStatus, cursor string, limit int64) ([]*models.Order, error) {
	f := repository.OrderFilter{Status: status, Cursor: cursor, Limit: limit}
	switch {
	case actor.Admin:
	case actor.User.Role == models.RoleMaker:
		f.MakerID = actor.User.ID
	default:
		f.CustomerID = actor.User.ID
	}
	return s.orders.List(ctx, f)
}

// UpdateStatus drives the state machine. On first entry into
// payment_received or processing a delivery code is issued (reusing any code
// already present) and notifications go out to the customer and to every
// maker with items on the order.
func (s *OrderService) UpdateStatus(ctx context.Context, actor Actor, orderID string, to models.OrderStatus, adminNote string) (*models.Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", to, models.ErrValidation)
	}
	if !actor.Admin && actor.User.Role != models.RoleMaker {
		return nil, fmt.Errorf("only admins and makers may change order status: %w", models.ErrForbidden)
	}

	o, old, err := s.orders.TransitionStatus(ctx, orderID, to, adminNote, actor.User.ID, actor.Admin)
	if err != nil {
		return nil, err
	}
	if old == o.Status {
		return o, nil
	}

	if actor.Admin && adminNote != "" {
		if err := s.orders.AppendAdminNote(ctx, orderID, adminNote); err != nil {
			s.logger.Warn("append admin note failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}

	if needsDeliveryCode(o.Status) && o.Delivery.Code == "" {
		o, err = s.ensureDeliveryCode(ctx, orderID)
		if err != nil {
			return nil, err
		}
	}

	s.notifier.StatusChanged(ctx, o)
	s.audit(audit.Record{
		Timestamp: time.Now().UTC(), OrderID: o.OrderID,
		OldStatus: string(old), NewStatus: string(o.Status),
		Message: "status transition",
	})
	return o, nil
}

func needsDeliveryCode(status models.OrderStatus) bool {
	return status == models.OrderStatusPaymentReceived || status == models.OrderStatusProcessing
}

// ensureDeliveryCode issues a code with bounded collision retries. Losing the
// set-if-absent race to a concurrent request is fine; the winner's code is
// picked up on reload. Exhausting every attempt is a hard failure: an order
// without a code cannot be confirmed.
func (s *OrderService) ensureDeliveryCode(ctx context.Context, orderID string) (*models.Order, error) {
	for attempt := 0; attempt < deliverycode.MaxAttempts; attempt++ {
		code, err := s.codes.Generate()
		if err != nil {
			return nil, err
		}
		if _, err := s.orders.AssignDeliveryCode(ctx, orderID, deliverycode.Normalize(code)); err != nil {
			if errors.Is(err, repository.ErrCodeTaken) {
				continue
			}
			return nil, err
		}
		return s.orders.GetByOrderID(ctx, orderID)
	}
	return nil, deliverycode.ErrExhausted
}

// IssueDeliveryCode is the admin force-generate: returns the order with a
// code present, issuing one if the order has none yet.
func (s *OrderService) IssueDeliveryCode(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Delivery.Code != "" {
		return o, nil
	}
	return s.ensureDeliveryCode(ctx, orderID)
}

// ConfirmDelivery is the single-use code protocol: on success the order is
// fulfilled and every contributing maker's pending payout is credited, all in
// one repository transaction.
func (s *OrderService) ConfirmDelivery(ctx context.Context, actor Actor, orderID, rawCode string) (*models.Order, error) {
	code := deliverycode.Normalize(rawCode)
	if code == "" {
		return nil, fmt.Errorf("delivery code is required: %w", models.ErrValidation)
	}

	o, err := s.orders.ConfirmDelivery(ctx, orderID, code, actor.User.ID)
	if err != nil {
		return nil, err
	}

	s.notifier.Delivered(ctx, o)
	if s.worklist != nil {
		if err := s.worklist.Refresh(ctx); err != nil {
			s.logger.Warn("worklist refresh failed", zap.Error(err))
		}
	}
	s.audit(audit.Record{
		Timestamp: time.Now().UTC(), OrderID: o.OrderID,
		NewStatus: string(o.Status),
		Message:   "delivery confirmed",
	})
	return o, nil
}

func (s *OrderService) audit(rec audit.Record) {
	if s.auditLog != nil {
		s.auditLog.Log(rec)
	}
}
