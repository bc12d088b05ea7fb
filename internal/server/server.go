package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"fablink/internal/deliverycode"
	"fablink/internal/middleware"
	"fablink/internal/models"
	"fablink/internal/service"
)

type Server struct {
	orders   *service.OrderService
	payments *service.PaymentService
	reviews  *service.ReviewService
	makers   *service.MakerService
	identity *middleware.IdentityResolver
	validate *validator.Validate
	logger   *zap.Logger
}

func NewServer(orders *service.OrderService, payments *service.PaymentService, reviews *service.ReviewService, makers *service.MakerService, identity *middleware.IdentityResolver, logger *zap.Logger) *Server {
	return &Server{
		orders:   orders,
		payments: payments,
		reviews:  reviews,
		makers:   makers,
		identity: identity,
		validate: validator.New(),
		logger:   logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(chimw.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(s.identity.Resolve)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", s.handleCreateOrder)
			r.Get("/", s.handleListOrders)
			r.Get("/{id}", s.handleGetOrder)
			r.Patch("/{id}/status", s.handleUpdateStatus)
			r.Post("/{id}/confirm-delivery", s.handleConfirmDelivery)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Post("/{id}/cancel", s.handleCancelOrder)
				r.Post("/{id}/delivery-code", s.handleIssueDeliveryCode)
				r.Get("/{id}/delivery-code", s.handleGetDeliveryCode)
			})
		})

		r.Route("/payments/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/pending", s.handlePendingPayments)
			r.Post("/{orderID}/{makerID}/process", s.handleProcessPayment)
		})

		r.Route("/products", func(r chi.Router) {
			r.Post("/", s.handleCreateProduct)
		})

		r.Route("/makers", func(r chi.Router) {
			r.Get("/{id}/payout", s.handleMakerPayout)
			r.Get("/{id}/products", s.handleMakerProducts)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Post("/{id}/approve", s.handleApproveMaker)
				r.Post("/{id}/reject", s.handleRejectMaker)
			})
		})

		r.Route("/reviews", func(r chi.Router) {
			r.Post("/order/{orderID}", s.handleSubmitReview)
			r.Get("/maker/{id}", s.handleMakerReviews)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// respondError maps domain failure classes onto HTTP codes. Unclassified
// errors become an opaque 500; internals never leak to the caller.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, models.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, models.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, deliverycode.ErrExhausted):
		s.logger.Error("delivery code generation exhausted", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "could not issue a delivery code")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected failure")
	}
}

func (s *Server) decodeValid(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}
