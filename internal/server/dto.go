package server

import (
	"math"
	"time"

	"github.com/google/uuid"

	"fablink/internal/deliverycode"
	"fablink/internal/models"
	"fablink/internal/service"
	"fablink/internal/shipping"
)

// The wire format speaks major currency units as numbers; everything behind
// the boundary is integer cents.

func toCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func toMajor(cents int64) float64 {
	return float64(cents) / 100
}

type createOrderItemRequest struct {
	ProductID string  `json:"productId" validate:"required,uuid"`
	Name      string  `json:"name" validate:"required"`
	Material  string  `json:"material"`
	Color     string  `json:"color"`
	Image     string  `json:"image"`
	Quantity  int     `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unitPrice" validate:"required,gt=0"`
	MakerID   string  `json:"makerId" validate:"required,uuid"`
	MakerName string  `json:"makerName"`
}

type addressRequest struct {
	FullName string `json:"fullName" validate:"required"`
	Company  string `json:"company"`
	Line1    string `json:"line1" validate:"required"`
	Line2    string `json:"line2"`
	City     string `json:"city" validate:"required"`
	Phone    string `json:"phone" validate:"required"`
}

type createOrderRequest struct {
	Currency        string                   `json:"currency" validate:"omitempty,len=3"`
	Items           []createOrderItemRequest `json:"items" validate:"required,min=1,dive"`
	ShippingMethod  string                   `json:"shippingMethod" validate:"omitempty,oneof=pickup courier post"`
	ShippingFee     *float64                 `json:"shippingFee" validate:"omitempty,gte=0"`
	WeightKg        float64                  `json:"weightKg" validate:"gte=0"`
	CustomerNotes   string                   `json:"customerNotes"`
	ShippingAddress addressRequest           `json:"shippingAddress" validate:"required"`
	BillingAddress  *addressRequest          `json:"billingAddress"`
}

func (req *createOrderRequest) toInput() service.CreateOrderInput {
	in := service.CreateOrderInput{
		Currency:        req.Currency,
		ShippingMethod:  shipping.MethodType(req.ShippingMethod),
		WeightKg:        req.WeightKg,
		CustomerNotes:   req.CustomerNotes,
		ShippingAddress: addressRequestToModel(req.ShippingAddress),
	}
	if req.ShippingFee != nil {
		fee := toCents(*req.ShippingFee)
		in.ShippingFee = &fee
	}
	if req.BillingAddress != nil {
		in.BillingAddress = addressRequestToModel(*req.BillingAddress)
	} else {
		in.BillingAddress = in.ShippingAddress
	}
	for _, it := range req.Items {
		productID, _ := uuid.Parse(it.ProductID)
		makerID, _ := uuid.Parse(it.MakerID)
		in.Items = append(in.Items, service.CreateOrderItemInput{
			ProductID: productID,
			Name:      it.Name,
			Material:  it.Material,
			Color:     it.Color,
			Image:     it.Image,
			Quantity:  it.Quantity,
			UnitPrice: toCents(it.UnitPrice),
			MakerID:   makerID,
			MakerName: it.MakerName,
		})
	}
	return in
}

func addressRequestToModel(a addressRequest) models.Address {
	return models.Address{
		FullName: a.FullName,
		Company:  a.Company,
		Line1:    a.Line1,
		Line2:    a.Line2,
		City:     a.City,
		Phone:    a.Phone,
	}
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note"`
}

type confirmDeliveryRequest struct {
	Code string `json:"code" validate:"required"`
}

type processPaymentRequest struct {
	Method         string `json:"method" validate:"required"`
	TransactionRef string `json:"transactionRef"`
}

type createProductRequest struct {
	Name string `json:"name" validate:"required"`
}

type submitReviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment"`
}

type orderItemResponse struct {
	ProductID   string  `json:"productId"`
	Name        string  `json:"name"`
	Material    string  `json:"material"`
	Color       string  `json:"color"`
	Image       string  `json:"image,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	LineTotal   float64 `json:"lineTotal"`
	Commission  float64 `json:"commission"`
	MakerPayout float64 `json:"makerPayout"`
	MakerID     string  `json:"makerId"`
	MakerName   string  `json:"makerName"`
}

type makerPaymentResponse struct {
	MakerID        string     `json:"makerId"`
	MakerName      string     `json:"makerName"`
	Amount         float64    `json:"amount"`
	Commission     float64    `json:"commission"`
	Status         string     `json:"status"`
	Method         string     `json:"method,omitempty"`
	TransactionRef string     `json:"transactionRef,omitempty"`
	PaidAt         *time.Time `json:"paidAt,omitempty"`
}

type historyResponse struct {
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	ChangedBy string    `json:"changedBy"`
	ChangedAt time.Time `json:"changedAt"`
}

type deliveryResponse struct {
	Code             string     `json:"code,omitempty"`
	CodeGeneratedAt  *time.Time `json:"codeGeneratedAt,omitempty"`
	CodeUsed         bool       `json:"codeUsed"`
	CodeUsedAt       *time.Time `json:"codeUsedAt,omitempty"`
	MakerConfirmed   bool       `json:"makerConfirmed"`
	MakerConfirmedAt *time.Time `json:"makerConfirmedAt,omitempty"`
	MakerID          string     `json:"makerId,omitempty"`
	DeliveredAt      *time.Time `json:"deliveredAt,omitempty"`
}

type orderResponse struct {
	OrderID         string                 `json:"orderId"`
	CustomerID      string                 `json:"customerId"`
	Status          string                 `json:"status"`
	Currency        string                 `json:"currency"`
	Subtotal        float64                `json:"subtotal"`
	ShippingFee     float64                `json:"shippingFee"`
	Total           float64                `json:"total"`
	PaymentMethod   string                 `json:"paymentMethod"`
	CustomerNotes   string                 `json:"customerNotes,omitempty"`
	AdminNotes      []string               `json:"adminNotes,omitempty"`
	PaymentDueBy    time.Time              `json:"paymentDueBy"`
	Items           []orderItemResponse    `json:"items"`
	MakerPayments   []makerPaymentResponse `json:"makerPayments"`
	ShippingAddress models.Address         `json:"shippingAddress"`
	BillingAddress  models.Address         `json:"billingAddress"`
	Delivery        deliveryResponse       `json:"delivery"`
	History         []historyResponse      `json:"history"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// mapOrder renders an order. The raw delivery code is only shown to admins
// and the order's makers; customers receive everything else.
func mapOrder(o *models.Order, includeCode bool) orderResponse {
	resp := orderResponse{
		OrderID:         o.OrderID,
		CustomerID:      o.CustomerID.String(),
		Status:          string(o.Status),
		Currency:        o.Currency,
		Subtotal:        toMajor(o.Subtotal),
		ShippingFee:     toMajor(o.ShippingFee),
		Total:           toMajor(o.Total),
		PaymentMethod:   o.PaymentMethod,
		CustomerNotes:   o.CustomerNotes,
		AdminNotes:      o.AdminNotes,
		PaymentDueBy:    o.PaymentDueBy,
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID:   it.ProductID.String(),
			Name:        it.Name,
			Material:    it.Material,
			Color:       it.Color,
			Image:       it.Image,
			Quantity:    it.Quantity,
			UnitPrice:   toMajor(it.UnitPrice),
			LineTotal:   toMajor(it.LineTotal),
			Commission:  toMajor(it.Commission),
			MakerPayout: toMajor(it.MakerPayout),
			MakerID:     it.MakerID.String(),
			MakerName:   it.MakerName,
		})
	}
	for _, p := range o.MakerPayments {
		resp.MakerPayments = append(resp.MakerPayments, makerPaymentResponse{
			MakerID:        p.MakerID.String(),
			MakerName:      p.MakerName,
			Amount:         toMajor(p.Amount),
			Commission:     toMajor(p.Commission),
			Status:         string(p.Status),
			Method:         p.Method,
			TransactionRef: p.TransactionRef,
			PaidAt:         p.PaidAt,
		})
	}
	for _, h := range o.History {
		resp.History = append(resp.History, historyResponse{
			Status:    string(h.Status),
			Note:      h.Note,
			ChangedBy: h.ChangedBy.String(),
			ChangedAt: h.ChangedAt,
		})
	}
	resp.Delivery = deliveryResponse{
		CodeGeneratedAt:  o.Delivery.CodeGeneratedAt,
		CodeUsed:         o.Delivery.CodeUsed,
		CodeUsedAt:       o.Delivery.CodeUsedAt,
		MakerConfirmed:   o.Delivery.MakerConfirmed,
		MakerConfirmedAt: o.Delivery.MakerConfirmedAt,
		DeliveredAt:      o.Delivery.DeliveredAt,
	}
	if o.Delivery.MakerID != uuid.Nil {
		resp.Delivery.MakerID = o.Delivery.MakerID.String()
	}
	if includeCode {
		resp.Delivery.Code = deliverycode.Format(o.Delivery.Code)
	}
	return resp
}
