package models

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	OrderStatusPaymentReceived OrderStatus = "payment_received"
	OrderStatusProcessing      OrderStatus = "processing"
	OrderStatusFulfilled       OrderStatus = "fulfilled"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusAwaitingPayment, OrderStatusPaymentReceived,
		OrderStatusProcessing, OrderStatusFulfilled, OrderStatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFulfilled || s == OrderStatusCancelled
}

// CanTransition reports whether an administrator may move an order from one
// status to another. Admins may set any valid status, including jumps and
// reversals; only terminal states accept nothing further.
func CanTransition(from, to OrderStatus) bool {
	return !from.Terminal() && to.Valid()
}

// MakerCanTransition restricts makers to moving a paid order into production.
// Fulfilment is reached through delivery confirmation, never a raw status edit.
func MakerCanTransition(from, to OrderStatus) bool {
	return from == OrderStatusPaymentReceived && to == OrderStatusProcessing
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusHeld    PaymentStatus = "held"
)

// All money amounts are integer minor units (cents) of the order currency.
type Order struct {
	ID            uuid.UUID   `json:"-"`
	OrderID       string      `json:"orderId"`
	CustomerID    uuid.UUID   `json:"customerId"`
	Status        OrderStatus `json:"status"`
	Currency      string      `json:"currency"`
	Subtotal      int64       `json:"subtotal"`
	ShippingFee   int64       `json:"shippingFee"`
	Total         int64       `json:"total"`
	PaymentMethod string      `json:"paymentMethod"`
	CustomerNotes string      `json:"customerNotes,omitempty"`
	AdminNotes    []string    `json:"adminNotes,omitempty"`
	PaymentDueBy  time.Time   `json:"paymentDueBy"`

	Items         []OrderItem    `json:"items"`
	MakerPayments []MakerPayment `json:"makerPayments"`

	ShippingAddress Address `json:"shippingAddress"`
	BillingAddress  Address `json:"billingAddress"`

	Delivery Delivery       `json:"delivery"`
	History  []HistoryEntry `json:"history"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type OrderItem struct {
	ProductID uuid.UUID `json:"productId"`
	Name      string    `json:"name"`
	Material  string    `json:"material"`
	Color     string    `json:"color"`
	Image     string    `json:"image,omitempty"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unitPrice"`
	LineTotal int64     `json:"lineTotal"`
	// Commission is per unit, MakerPayout covers the whole line.
	Commission  int64     `json:"commission"`
	MakerPayout int64     `json:"makerPayout"`
	MakerID     uuid.UUID `json:"makerId"`
	MakerName   string    `json:"makerName"`
}

type MakerPayment struct {
	MakerID        uuid.UUID     `json:"makerId"`
	MakerName      string        `json:"makerName"`
	Amount         int64         `json:"amount"`
	Commission     int64         `json:"commission"`
	Status         PaymentStatus `json:"status"`
	Method         string        `json:"method,omitempty"`
	TransactionRef string        `json:"transactionRef,omitempty"`
	PaidAt         *time.Time    `json:"paidAt,omitempty"`
	ProcessedBy    uuid.UUID     `json:"processedBy,omitempty"`
}

type Address struct {
	FullName string `json:"fullName"`
	Company  string `json:"company,omitempty"`
	Line1    string `json:"line1"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city"`
	Phone    string `json:"phone"`
}

type Delivery struct {
	Code             string     `json:"code,omitempty"`
	CodeGeneratedAt  *time.Time `json:"codeGeneratedAt,omitempty"`
	CodeUsed         bool       `json:"codeUsed"`
	CodeUsedAt       *time.Time `json:"codeUsedAt,omitempty"`
	MakerConfirmed   bool       `json:"makerConfirmed"`
	MakerConfirmedAt *time.Time `json:"makerConfirmedAt,omitempty"`
	MakerID          uuid.UUID  `json:"makerId,omitempty"`
	DeliveredAt      *time.Time `json:"deliveredAt,omitempty"`
}

type HistoryEntry struct {
	Status    OrderStatus `json:"status"`
	Note      string      `json:"note,omitempty"`
	ChangedBy uuid.UUID   `json:"changedBy"`
	ChangedAt time.Time   `json:"changedAt"`
}

// HasMaker reports whether at least one line item belongs to the given maker.
func (o *Order) HasMaker(makerID uuid.UUID) bool {
	for _, it := range o.Items {
		if it.MakerID == makerID {
			return true
		}
	}
	return false
}

// ItemsOfMaker returns the maker's subset of line items.
func (o *Order) ItemsOfMaker(makerID uuid.UUID) []OrderItem {
	var items []OrderItem
	for _, it := range o.Items {
		if it.MakerID == makerID {
			items = append(items, it)
		}
	}
	return items
}

// GroupPaymentsByMaker builds one pending payment record per distinct maker
// from the order's line items. Amounts are the summed line payouts, commission
// is summed over units. First-appearance order is preserved.
func (o *Order) GroupPaymentsByMaker() []MakerPayment {
	idx := make(map[uuid.UUID]int)
	var payments []MakerPayment
	for _, it := range o.Items {
		i, ok := idx[it.MakerID]
		if !ok {
			i = len(payments)
			idx[it.MakerID] = i
			payments = append(payments, MakerPayment{
				MakerID:   it.MakerID,
				MakerName: it.MakerName,
				Status:    PaymentStatusPending,
			})
		}
		payments[i].Amount += it.MakerPayout
		payments[i].Commission += it.Commission * int64(it.Quantity)
	}
	return payments
}
