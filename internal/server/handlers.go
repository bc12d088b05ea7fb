package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fablink/internal/middleware"
	"fablink/internal/models"
	"fablink/internal/service"
)

// decodeOptional tolerates an empty body; malformed JSON is still an error.
func decodeOptional(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) actor(w http.ResponseWriter, r *http.Request) (service.Actor, bool) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
	}
	return actor, ok
}

// canSeeCode gates the raw delivery code: admins and the order's makers only.
func canSeeCode(actor service.Actor, o *models.Order) bool {
	return actor.Admin || o.HasMaker(actor.User.ID)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	o, err := s.orders.CreateOrder(r.Context(), actor, req.toInput())
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapOrder(o, canSeeCode(actor, o)))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	status := models.OrderStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown status filter")
		return
	}
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	orders, err := s.orders.ListOrders(r.Context(), actor, status, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, mapOrder(o, canSeeCode(actor, o)))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	o, err := s.orders.GetOrder(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrder(o, canSeeCode(actor, o)))
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req updateStatusRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	o, err := s.orders.UpdateStatus(r.Context(), actor, chi.URLParam(r, "id"), models.OrderStatus(req.Status), req.Note)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrder(o, canSeeCode(actor, o)))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req struct {
		Note string `json:"note"`
	}
	// Body is optional for cancellation.
	_ = decodeOptional(r, &req)
	o, err := s.orders.UpdateStatus(r.Context(), actor, chi.URLParam(r, "id"), models.OrderStatusCancelled, req.Note)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrder(o, canSeeCode(actor, o)))
}

func (s *Server) handleConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req confirmDeliveryRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	o, err := s.orders.ConfirmDelivery(r.Context(), actor, chi.URLParam(r, "id"), req.Code)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrder(o, canSeeCode(actor, o)))
}

func (s *Server) handleIssueDeliveryCode(w http.ResponseWriter, r *http.Request) {
	o, err := s.orders.IssueDeliveryCode(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrder(o, true))
}

func (s *Server) handleGetDeliveryCode(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	o, err := s.orders.GetOrder(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrder(o, true).Delivery)
}

func (s *Server) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	makerID, err := uuid.Parse(chi.URLParam(r, "makerID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid maker id")
		return
	}
	var req processPaymentRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	p, err := s.payments.Process(r.Context(), actor, chi.URLParam(r, "orderID"), makerID, req.Method, req.TransactionRef)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, makerPaymentResponse{
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

func (s *Server) handlePendingPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := s.payments.PendingWorklist(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	type pendingResponse struct {
		OrderID   string  `json:"orderId"`
		MakerID   string  `json:"makerId"`
		MakerName string  `json:"makerName"`
		Amount    float64 `json:"amount"`
		Status    string  `json:"status"`
	}
	resp := make([]pendingResponse, 0, len(payments))
	for _, p := range payments {
		resp = append(resp, pendingResponse{
			OrderID:   p.OrderID,
			MakerID:   p.MakerID.String(),
			MakerName: p.MakerName,
			Amount:    toMajor(p.Amount),
			Status:    string(p.Status),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMakerPayout(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	makerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid maker id")
		return
	}
	totals, err := s.makers.Payout(r.Context(), actor, makerID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{
		"pending": toMajor(totals.Pending),
		"paid":    toMajor(totals.Paid),
		"total":   toMajor(totals.Total),
	})
}

func (s *Server) handleApproveMaker(w http.ResponseWriter, r *http.Request) {
	s.resolveMaker(w, r, true)
}

func (s *Server) handleRejectMaker(w http.ResponseWriter, r *http.Request) {
	s.resolveMaker(w, r, false)
}

func (s *Server) resolveMaker(w http.ResponseWriter, r *http.Request, approve bool) {
	makerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid maker id")
		return
	}
	u, err := s.makers.ResolveApplication(r.Context(), makerID, approve)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req createProductRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	p, err := s.makers.CreateProduct(r.Context(), actor, req.Name)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleMakerProducts(w http.ResponseWriter, r *http.Request) {
	makerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid maker id")
		return
	}
	products, err := s.makers.Products(r.Context(), makerID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actor(w, r)
	if !ok {
		return
	}
	var req submitReviewRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	reviews, err := s.reviews.Submit(r.Context(), actor, chi.URLParam(r, "orderID"), req.Rating, req.Comment)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reviews)
}

func (s *Server) handleMakerReviews(w http.ResponseWriter, r *http.Request) {
	makerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid maker id")
		return
	}
	reviews, maker, err := s.reviews.MakerReviews(r.Context(), makerID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reviews":        reviews,
		"ratingAvg":      maker.RatingAvg,
		"ratingCount":    maker.RatingCount,
		"badReviewCount": maker.BadReviewCount,
	})
}
