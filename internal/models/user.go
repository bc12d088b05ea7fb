package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleMaker    Role = "maker"
)

type MakerStatus string

const (
	MakerStatusNone         MakerStatus = "none"
	MakerStatusPending      MakerStatus = "pending"
	MakerStatusApproved     MakerStatus = "approved"
	MakerStatusRejected     MakerStatus = "rejected"
	MakerStatusDisqualified MakerStatus = "disqualified"
)

// PayoutTotals are the maker's running ledger totals in cents.
// Total == Pending + Paid must hold after every mutation.
type PayoutTotals struct {
	Pending int64 `json:"pending"`
	Paid    int64 `json:"paid"`
	Total   int64 `json:"total"`
}

type User struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	Email       string       `json:"email"`
	Role        Role         `json:"role"`
	MakerStatus MakerStatus  `json:"makerStatus"`
	MakerPayout PayoutTotals `json:"makerPayout"`

	RatingAvg      float64 `json:"ratingAvg"`
	RatingCount    int     `json:"ratingCount"`
	BadReviewCount int     `json:"badReviewCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ProductStatus string

const (
	ProductStatusDraft         ProductStatus = "draft"
	ProductStatusPendingReview ProductStatus = "pending_review"
	ProductStatusLive          ProductStatus = "live"
	ProductStatusRejected      ProductStatus = "rejected"
)

type Product struct {
	ID        uuid.UUID     `json:"id"`
	MakerID   uuid.UUID     `json:"makerId"`
	Name      string        `json:"name"`
	Status    ProductStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// BadReviewThreshold is the number of bad reviews after which a maker is
// disqualified.
const BadReviewThreshold = 2

type Review struct {
	ID          uuid.UUID `json:"id"`
	OrderID     uuid.UUID `json:"orderId"`
	CustomerID  uuid.UUID `json:"customerId"`
	MakerID     uuid.UUID `json:"makerId"`
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment,omitempty"`
	IsBadReview bool      `json:"isBadReview"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BadRating reports whether a rating counts against the maker.
func BadRating(rating int) bool {
	return rating <= 2
}
