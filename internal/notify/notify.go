// Package notify defines the notification triggering contract. Services hand
// events to the Notifier, which queues them as outbox tasks; delivery happens
// downstream (processor -> Kafka -> mail) and is best-effort. Enqueue failures
// are logged and swallowed: a lost notification must never fail or roll back
// the state change that triggered it.
package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fablink/internal/models"
	"fablink/internal/repository"
)

type EventType string

const (
	EventOrderCreated      EventType = "order_created"
	EventOrderCreatedAdmin EventType = "order_created_admin"
	EventStatusUpdated     EventType = "status_updated"
	EventMakerAssignment   EventType = "maker_assignment"
	EventOrderDelivered    EventType = "order_delivered"
	EventPaymentSettled    EventType = "payment_settled"
)

// Event is the wire format queued to the outbox and published to Kafka.
type Event struct {
	Type         EventType          `json:"type"`
	Recipient    string             `json:"recipient"`
	OrderID      string             `json:"orderId"`
	Status       models.OrderStatus `json:"status,omitempty"`
	DeliveryCode string             `json:"deliveryCode,omitempty"`
	Items        []models.OrderItem `json:"items,omitempty"`
	// Payout and Amount are cents.
	Payout int64 `json:"payout,omitempty"`
	Amount int64 `json:"amount,omitempty"`
	Total  int64 `json:"total,omitempty"`
}

type Notifier struct {
	tasks      repository.TaskRepository
	users      repository.Users
	logger     *zap.Logger
	adminEmail string
}

func NewNotifier(tasks repository.TaskRepository, users repository.Users, logger *zap.Logger, adminEmail string) *Notifier {
	return &Notifier{tasks: tasks, users: users, logger: logger, adminEmail: adminEmail}
}

// OrderCreated queues the customer confirmation and the admin new-order
// notice.
func (n *Notifier) OrderCreated(ctx context.Context, o *models.Order) {
	email, ok := n.email(ctx, o.CustomerID)
	if ok {
		n.enqueue(ctx, Event{
			Type: EventOrderCreated, Recipient: email,
			OrderID: o.OrderID, Status: o.Status, Total: o.Total,
		})
	}
	n.enqueue(ctx, Event{
		Type: EventOrderCreatedAdmin, Recipient: n.adminEmail,
		OrderID: o.OrderID, Status: o.Status, Total: o.Total,
	})
}

// StatusChanged queues the customer status update and, when the order enters
// payment_received or processing, one assignment notice per maker carrying
// that maker's items, expected payout and the delivery code. Each recipient
// is handled independently; one failure never blocks the rest.
func (n *Notifier) StatusChanged(ctx context.Context, o *models.Order) {
	if email, ok := n.email(ctx, o.CustomerID); ok {
		n.enqueue(ctx, Event{
			Type: EventStatusUpdated, Recipient: email,
			OrderID: o.OrderID, Status: o.Status,
		})
	}

	if o.Status != models.OrderStatusPaymentReceived && o.Status != models.OrderStatusProcessing {
		return
	}
	for _, p := range o.GroupPaymentsByMaker() {
		email, ok := n.email(ctx, p.MakerID)
		if !ok {
			continue
		}
		n.enqueue(ctx, Event{
			Type: EventMakerAssignment, Recipient: email,
			OrderID: o.OrderID, Status: o.Status,
			DeliveryCode: o.Delivery.Code,
			Items:        o.ItemsOfMaker(p.MakerID),
			Payout:       p.Amount,
		})
	}
}

// Delivered queues the customer delivery confirmation.
func (n *Notifier) Delivered(ctx context.Context, o *models.Order) {
	if email, ok := n.email(ctx, o.CustomerID); ok {
		n.enqueue(ctx, Event{
			Type: EventOrderDelivered, Recipient: email,
			OrderID: o.OrderID, Status: o.Status,
		})
	}
}

// PaymentSettled tells the maker their payout has been paid out.
func (n *Notifier) PaymentSettled(ctx context.Context, orderID string, p *models.MakerPayment) {
	if email, ok := n.email(ctx, p.MakerID); ok {
		n.enqueue(ctx, Event{
			Type: EventPaymentSettled, Recipient: email,
			OrderID: orderID, Amount: p.Amount,
		})
	}
}

func (n *Notifier) email(ctx context.Context, userID uuid.UUID) (string, bool) {
	u, err := n.users.GetByID(ctx, userID)
	if err != nil {
		n.logger.Warn("resolve notification recipient failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		return "", false
	}
	return u.Email, true
}

func (n *Notifier) enqueue(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("marshal notification event failed",
			zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	if err := n.tasks.CreateTask(ctx, payload); err != nil {
		n.logger.Warn("enqueue notification failed",
			zap.String("type", string(ev.Type)),
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
	}
}
