package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fablink/internal/deliverycode"
	"fablink/internal/middleware"
	"fablink/internal/models"
	"fablink/internal/repository"
	"fablink/internal/service"
	"fablink/internal/shipping"
)

type memUsers struct {
	users map[uuid.UUID]*models.User
}

func (m *memUsers) Create(_ context.Context, u *models.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	return u, nil
}

func (m *memUsers) SetMakerApproval(_ context.Context, id uuid.UUID, approve bool) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	if u.MakerStatus != models.MakerStatusPending {
		return nil, fmt.Errorf("already %s: %w", u.MakerStatus, models.ErrConflict)
	}
	if approve {
		u.MakerStatus = models.MakerStatusApproved
		u.Role = models.RoleMaker
	} else {
		u.MakerStatus = models.MakerStatusRejected
	}
	return u, nil
}

type memOrders struct {
	users  *memUsers
	orders map[string]*models.Order
}

func (m *memOrders) Create(_ context.Context, o *models.Order) error {
	m.orders[o.OrderID] = o
	return nil
}

func (m *memOrders) GetByOrderID(_ context.Context, orderID string) (*models.Order, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	return o, nil
}

func (m *memOrders) List(_ context.Context, f repository.OrderFilter) ([]*models.Order, error) {
	var out []*models.Order
	for _, o := range m.orders {
		if f.CustomerID != uuid.Nil && o.CustomerID != f.CustomerID {
			continue
		}
		if f.MakerID != uuid.Nil && !o.HasMaker(f.MakerID) {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *memOrders) TransitionStatus(ctx context.Context, orderID string, to models.OrderStatus, note string, actor uuid.UUID, asAdmin bool) (*models.Order, models.OrderStatus, error) {
	o, err := m.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, "", err
	}
	old := o.Status
	if old == to {
		return o, old, nil
	}
	if asAdmin {
		if !models.CanTransition(old, to) {
			return nil, "", fmt.Errorf("cannot move from %s to %s: %w", old, to, models.ErrConflict)
		}
	} else if !o.HasMaker(actor) || !models.MakerCanTransition(old, to) {
		return nil, "", fmt.Errorf("transition not allowed: %w", models.ErrForbidden)
	}
	o.Status = to
	o.History = append(o.History, models.HistoryEntry{Status: to, Note: note, ChangedBy: actor, ChangedAt: time.Now().UTC()})
	return o, old, nil
}

func (m *memOrders) AssignDeliveryCode(ctx context.Context, orderID, code string) (bool, error) {
	o, err := m.GetByOrderID(ctx, orderID)
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

func (m *memOrders) AppendAdminNote(ctx context.Context, orderID, note string) error {
	o, err := m.GetByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	o.AdminNotes = append(o.AdminNotes, note)
	return nil
}

func (m *memOrders) ConfirmDelivery(ctx context.Context, orderID, code string, makerID uuid.UUID) (*models.Order, error) {
	o, err := m.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch {
	case o.Delivery.Code == "":
		return nil, fmt.Errorf("no delivery code: %w", models.ErrConflict)
	case o.Delivery.CodeUsed:
		return nil, fmt.Errorf("code already used: %w", models.ErrConflict)
	case o.Delivery.Code != code:
		return nil, fmt.Errorf("code does not match: %w", models.ErrValidation)
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
	for _, p := range o.MakerPayments {
		if u, ok := m.users.users[p.MakerID]; ok {
			u.MakerPayout.Pending += p.Amount
			u.MakerPayout.Total += p.Amount
		}
	}
	return o, nil
}

type memPayments struct {
	orders *memOrders
}

func (m *memPayments) Settle(context.Context, string, uuid.UUID, string, string, uuid.UUID) (*models.MakerPayment, error) {
	return nil, fmt.Errorf("payment: %w", models.ErrNotFound)
}

func (m *memPayments) ListPending(context.Context) ([]repository.PendingPayment, error) {
	return nil, nil
}

type memProducts struct {
	products []models.Product
}

func (m *memProducts) Create(_ context.Context, p *models.Product) error {
	m.products = append(m.products, *p)
	return nil
}

func (m *memProducts) ListByMaker(_ context.Context, makerID uuid.UUID) ([]models.Product, error) {
	var out []models.Product
	for _, p := range m.products {
		if p.MakerID == makerID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memReviews struct{}

func (memReviews) CreateForOrder(context.Context, string, uuid.UUID, int, string) ([]models.Review, []uuid.UUID, error) {
	return nil, nil, fmt.Errorf("order: %w", models.ErrNotFound)
}

func (memReviews) ListByMaker(context.Context, uuid.UUID) ([]models.Review, error) {
	return nil, nil
}

type noopNotifier struct{}

func (noopNotifier) OrderCreated(context.Context, *models.Order)                {}
func (noopNotifier) StatusChanged(context.Context, *models.Order)               {}
func (noopNotifier) Delivered(context.Context, *models.Order)                   {}
func (noopNotifier) PaymentSettled(context.Context, string, *models.MakerPayment) {}

type fixture struct {
	router http.Handler
	users  *memUsers

	admin    *models.User
	customer *models.User
	maker    *models.User
}

func newFixture() *fixture {
	users := &memUsers{users: make(map[uuid.UUID]*models.User)}
	orders := &memOrders{users: users, orders: make(map[string]*models.Order)}
	logger := zap.NewNop()

	f := &fixture{
		users:    users,
		admin:    &models.User{ID: uuid.New(), Name: "admin", Role: models.RoleCustomer},
		customer: &models.User{ID: uuid.New(), Name: "alice", Role: models.RoleCustomer},
		maker:    &models.User{ID: uuid.New(), Name: "bob", Role: models.RoleMaker, MakerStatus: models.MakerStatusApproved},
	}
	for _, u := range []*models.User{f.admin, f.customer, f.maker} {
		users.users[u.ID] = u
	}

	orderSvc := service.NewOrderService(orders, shipping.NewService(), deliverycode.NewGenerator(), noopNotifier{}, nil, nil, logger)
	paymentSvc := service.NewPaymentService(&memPayments{orders: orders}, noopNotifier{}, nil, logger)
	reviewSvc := service.NewReviewService(memReviews{}, users, nil, logger)
	makerSvc := service.NewMakerService(users, &memProducts{})

	identity := middleware.NewIdentityResolver(users, []string{f.admin.ID.String()}, logger)
	f.router = NewServer(orderSvc, paymentSvc, reviewSvc, makerSvc, identity, logger).Router()
	return f
}

func (f *fixture) do(method, path string, as *models.User, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if as != nil {
		req.Header.Set("X-User-ID", as.ID.String())
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func orderBody(maker *models.User) map[string]interface{} {
	return map[string]interface{}{
		"items": []map[string]interface{}{{
			"productId": uuid.New().String(),
			"name":      "printed vase",
			"material":  "PLA",
			"color":     "white",
			"quantity":  1,
			"unitPrice": 50.0,
			"makerId":   maker.ID.String(),
			"makerName": maker.Name,
		}},
		"shippingMethod": "pickup",
		"shippingAddress": map[string]interface{}{
			"fullName": "Alice",
			"line1":    "Main St 1",
			"city":     "Berlin",
			"phone":    "+49 30 1234",
		},
	}
}

func TestIdentityRequired(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/orders", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("X-User-ID", uuid.New().String())
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateOrderEndpoint(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/orders", f.customer, orderBody(f.maker))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.OrderID, "FL-"))
	assert.Equal(t, "awaiting_payment", resp.Status)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 50.0, resp.Items[0].UnitPrice)
	assert.Equal(t, 5.0, resp.Items[0].Commission)
	assert.Equal(t, 45.0, resp.Items[0].MakerPayout)
	assert.Equal(t, 50.0, resp.Total)
	// The customer never sees the delivery code.
	assert.Empty(t, resp.Delivery.Code)
}

func TestCreateOrderRejectsBadPayload(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/orders", f.customer, map[string]interface{}{"items": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader("{not json"))
	req.Header.Set("X-User-ID", f.customer.ID.String())
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutesAreGated(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/orders", f.customer, orderBody(f.maker))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = f.do(http.MethodPost, "/orders/"+created.OrderID+"/cancel", f.customer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/payments/admin/pending", f.maker, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/orders/"+created.OrderID+"/cancel", f.admin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusAndDeliveryFlow(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/orders", f.customer, orderBody(f.maker))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = f.do(http.MethodPatch, "/orders/"+created.OrderID+"/status", f.admin,
		map[string]string{"status": "payment_received"})
	require.Equal(t, http.StatusOK, rec.Code)

	var paid orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &paid))
	assert.Equal(t, "payment_received", paid.Status)
	// Admin sees the code, rendered with the separator.
	require.Len(t, paid.Delivery.Code, deliverycode.Length+1)
	assert.Contains(t, paid.Delivery.Code, "-")

	// The customer still gets the order without the code.
	rec = f.do(http.MethodGet, "/orders/"+created.OrderID, f.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var seen orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &seen))
	assert.Empty(t, seen.Delivery.Code)

	// The maker keys the code in exactly as displayed, dash included.
	rec = f.do(http.MethodPost, "/orders/"+created.OrderID+"/confirm-delivery", f.maker,
		map[string]string{"code": paid.Delivery.Code})
	require.Equal(t, http.StatusOK, rec.Code)
	var done orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &done))
	assert.Equal(t, "fulfilled", done.Status)
	assert.True(t, done.Delivery.CodeUsed)

	// Wrong transitions surface as conflicts.
	rec = f.do(http.MethodPatch, "/orders/"+created.OrderID+"/status", f.admin,
		map[string]string{"status": "processing"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConfirmDeliveryWrongCode(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/orders", f.customer, orderBody(f.maker))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = f.do(http.MethodPatch, "/orders/"+created.OrderID+"/status", f.admin,
		map[string]string{"status": "payment_received"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPost, "/orders/"+created.OrderID+"/confirm-delivery", f.maker,
		map[string]string{"code": "WRONG9"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_request", errResp.Error)
}

func TestGetOrderNotFound(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/orders/FL-MISSING", f.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIssueDeliveryCodeEndpoint(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/orders", f.customer, orderBody(f.maker))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = f.do(http.MethodPost, "/orders/"+created.OrderID+"/delivery-code", f.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var issued orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	first := issued.Delivery.Code
	require.NotEmpty(t, first)

	// Issuing again returns the same code.
	rec = f.do(http.MethodGet, "/orders/"+created.OrderID+"/delivery-code", f.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var delivery deliveryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &delivery))
	assert.Equal(t, first, delivery.Code)
}

func TestMakerApproval(t *testing.T) {
	f := newFixture()

	applicant := &models.User{ID: uuid.New(), Name: "carol", Role: models.RoleCustomer, MakerStatus: models.MakerStatusPending}
	rec := f.do(http.MethodPost, "/makers/"+applicant.ID.String()+"/approve", f.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.users.users[applicant.ID] = applicant
	rec = f.do(http.MethodPost, "/makers/"+applicant.ID.String()+"/approve", f.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var u models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	assert.Equal(t, models.MakerStatusApproved, u.MakerStatus)

	rec = f.do(http.MethodPost, "/makers/"+applicant.ID.String()+"/reject", f.admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProductEndpoints(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/products", f.maker, map[string]string{"name": "printed vase"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var p models.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, f.maker.ID, p.MakerID)

	rec = f.do(http.MethodPost, "/products", f.customer, map[string]string{"name": "vase"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/makers/"+f.maker.ID.String()+"/products", f.customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []models.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)
}

func TestMakerPayoutEndpoint(t *testing.T) {
	f := newFixture()
	f.maker.MakerPayout = models.PayoutTotals{Pending: 4500, Paid: 500, Total: 5000}

	rec := f.do(http.MethodGet, "/makers/"+f.maker.ID.String()+"/payout", f.maker, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var totals map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &totals))
	assert.Equal(t, 45.0, totals["pending"])
	assert.Equal(t, 5.0, totals["paid"])
	assert.Equal(t, 50.0, totals["total"])

	rec = f.do(http.MethodGet, "/makers/"+f.maker.ID.String()+"/payout", f.customer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
