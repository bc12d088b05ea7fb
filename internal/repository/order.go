package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fablink/internal/models"
)

// ErrCodeTaken means the candidate delivery code collided with another
// order's live code; the caller should regenerate.
var ErrCodeTaken = errors.New("delivery code already in use")

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const orderColumns = `
		id, order_id, customer_id, status, currency, subtotal, shipping_fee, total,
		payment_method, customer_notes, admin_notes, payment_due_by,
		shipping_address, billing_address,
		delivery_code, code_generated_at, code_used, code_used_at,
		maker_confirmed, maker_confirmed_at, delivery_maker_id, delivered_at,
		created_at, updated_at`

func (r *OrderRepository) Create(ctx context.Context, o *models.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create order: %w", err)
	}
	defer tx.Rollback()

	shipAddr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}
	billAddr, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return fmt.Errorf("marshal billing address: %w", err)
	}

	query := `INSERT INTO orders (
			id, order_id, customer_id, status, currency, subtotal, shipping_fee, total,
			payment_method, customer_notes, admin_notes, payment_due_by,
			shipping_address, billing_address, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err = tx.ExecContext(ctx, query,
		o.ID, o.OrderID, o.CustomerID, o.Status, o.Currency, o.Subtotal, o.ShippingFee, o.Total,
		o.PaymentMethod, o.CustomerNotes, pq.Array(o.AdminNotes), o.PaymentDueBy,
		shipAddr, billAddr, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	for _, it := range o.Items {
		_, err = tx.ExecContext(ctx, `INSERT INTO order_items (
				order_id, product_id, name, material, color, image,
				quantity, unit_price, line_total, commission, maker_payout, maker_id, maker_name
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			o.ID, it.ProductID, it.Name, it.Material, it.Color, it.Image,
			it.Quantity, it.UnitPrice, it.LineTotal, it.Commission, it.MakerPayout, it.MakerID, it.MakerName,
		)
		if err != nil {
			return fmt.Errorf("create order item: %w", err)
		}
	}

	for _, p := range o.MakerPayments {
		_, err = tx.ExecContext(ctx, `INSERT INTO maker_payments (
				order_id, maker_id, maker_name, amount, commission, status
			) VALUES ($1,$2,$3,$4,$5,$6)`,
			o.ID, p.MakerID, p.MakerName, p.Amount, p.Commission, p.Status,
		)
		if err != nil {
			return fmt.Errorf("create maker payment: %w", err)
		}
	}

	for _, h := range o.History {
		_, err = tx.ExecContext(ctx, `INSERT INTO order_history (order_id, status, note, changed_by, changed_at)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, h.Status, h.Note, h.ChangedBy, h.ChangedAt,
		)
		if err != nil {
			return fmt.Errorf("create history entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	return r.getByOrderID(ctx, r.db, orderID, "")
}

func (r *OrderRepository) getByOrderID(ctx context.Context, q querier, orderID, suffix string) (*models.Order, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id=$1`+suffix, orderID)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	if err := r.loadAssociations(ctx, q, o); err != nil {
		return nil, err
	}
	return o, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	o := &models.Order{}
	var (
		adminNotes                               []string
		shipAddr, billAddr                       []byte
		paymentDueBy                             sql.NullTime
		deliveryCode                             sql.NullString
		codeGenAt, codeUsedAt, confirmedAt, delAt sql.NullTime
		deliveryMaker                            uuid.NullUUID
	)
	err := row.Scan(
		&o.ID, &o.OrderID, &o.CustomerID, &o.Status, &o.Currency, &o.Subtotal, &o.ShippingFee, &o.Total,
		&o.PaymentMethod, &o.CustomerNotes, pq.Array(&adminNotes), &paymentDueBy,
		&shipAddr, &billAddr,
		&deliveryCode, &codeGenAt, &o.Delivery.CodeUsed, &codeUsedAt,
		&o.Delivery.MakerConfirmed, &confirmedAt, &deliveryMaker, &delAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.AdminNotes = adminNotes
	if paymentDueBy.Valid {
		o.PaymentDueBy = paymentDueBy.Time
	}
	if len(shipAddr) > 0 {
		if err := json.Unmarshal(shipAddr, &o.ShippingAddress); err != nil {
			return nil, fmt.Errorf("unmarshal shipping address: %w", err)
		}
	}
	if len(billAddr) > 0 {
		if err := json.Unmarshal(billAddr, &o.BillingAddress); err != nil {
			return nil, fmt.Errorf("unmarshal billing address: %w", err)
		}
	}
	o.Delivery.Code = deliveryCode.String
	o.Delivery.CodeGeneratedAt = nullTimePtr(codeGenAt)
	o.Delivery.CodeUsedAt = nullTimePtr(codeUsedAt)
	o.Delivery.MakerConfirmedAt = nullTimePtr(confirmedAt)
	o.Delivery.DeliveredAt = nullTimePtr(delAt)
	if deliveryMaker.Valid {
		o.Delivery.MakerID = deliveryMaker.UUID
	}
	return o, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	tt := t.Time
	return &tt
}

func (r *OrderRepository) loadAssociations(ctx context.Context, q querier, o *models.Order) error {
	rows, err := q.QueryContext(ctx, `SELECT
			product_id, name, material, color, image,
			quantity, unit_price, line_total, commission, maker_payout, maker_id, maker_name
		FROM order_items WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(
			&it.ProductID, &it.Name, &it.Material, &it.Color, &it.Image,
			&it.Quantity, &it.UnitPrice, &it.LineTotal, &it.Commission, &it.MakerPayout, &it.MakerID, &it.MakerName,
		); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order items: %w", err)
	}

	prows, err := q.QueryContext(ctx, `SELECT
			maker_id, maker_name, amount, commission, status, method, transaction_ref, paid_at, processed_by
		FROM maker_payments WHERE order_id=$1 ORDER BY maker_id`, o.ID)
	if err != nil {
		return fmt.Errorf("load maker payments: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var (
			p         models.MakerPayment
			paidAt    sql.NullTime
			processed uuid.NullUUID
		)
		if err := prows.Scan(
			&p.MakerID, &p.MakerName, &p.Amount, &p.Commission, &p.Status,
			&p.Method, &p.TransactionRef, &paidAt, &processed,
		); err != nil {
			return fmt.Errorf("scan maker payment: %w", err)
		}
		p.PaidAt = nullTimePtr(paidAt)
		if processed.Valid {
			p.ProcessedBy = processed.UUID
		}
		o.MakerPayments = append(o.MakerPayments, p)
	}
	if err := prows.Err(); err != nil {
		return fmt.Errorf("iterate maker payments: %w", err)
	}

	hrows, err := q.QueryContext(ctx, `SELECT status, note, changed_by, changed_at
		FROM order_history WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return fmt.Errorf("load order history: %w", err)
	}
	defer hrows.Close()
	for hrows.Next() {
		var h models.HistoryEntry
		if err := hrows.Scan(&h.Status, &h.Note, &h.ChangedBy, &h.ChangedAt); err != nil {
			return fmt.Errorf("scan history entry: %w", err)
		}
		o.History = append(o.History, h)
	}
	if err := hrows.Err(); err != nil {
		return fmt.Errorf("iterate order history: %w", err)
	}
	return nil
}

func (r *OrderRepository) List(ctx context.Context, f OrderFilter) ([]*models.Order, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}
	var filters []string
	var args []interface{}
	idx := 1

	if f.CustomerID != uuid.Nil {
		filters = append(filters, fmt.Sprintf("customer_id=$%d", idx))
		args = append(args, f.CustomerID)
		idx++
	}
	if f.MakerID != uuid.Nil {
		filters = append(filters, fmt.Sprintf("EXISTS (SELECT 1 FROM order_items i WHERE i.order_id=orders.id AND i.maker_id=$%d)", idx))
		args = append(args, f.MakerID)
		idx++
	}
	if f.Status != "" {
		filters = append(filters, fmt.Sprintf("status=$%d", idx))
		args = append(args, f.Status)
		idx++
	}
	if f.Cursor != "" {
		filters = append(filters, fmt.Sprintf("order_id>$%d", idx))
		args = append(args, f.Cursor)
		idx++
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(filters) > 0 {
		query += " WHERE " + strings.Join(filters, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY order_id ASC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var res []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	for _, o := range res {
		if err := r.loadAssociations(ctx, r.db, o); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *OrderRepository) TransitionStatus(ctx context.Context, orderID string, to models.OrderStatus, note string, actor uuid.UUID, asAdmin bool) (*models.Order, models.OrderStatus, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	o, err := r.getByOrderID(ctx, tx, orderID, " FOR UPDATE")
	if err != nil {
		return nil, "", err
	}
	old := o.Status

	if old == to {
		// Retried request; nothing to do and no side effects to repeat.
		if err := tx.Commit(); err != nil {
			return nil, "", fmt.Errorf("commit transition: %w", err)
		}
		return o, old, nil
	}

	if asAdmin {
		if !models.CanTransition(old, to) {
			return nil, "", fmt.Errorf("cannot transition order from %s to %s: %w", old, to, models.ErrConflict)
		}
	} else {
		if !o.HasMaker(actor) {
			return nil, "", fmt.Errorf("user is not a maker on this order: %w", models.ErrForbidden)
		}
		if !models.MakerCanTransition(old, to) {
			return nil, "", fmt.Errorf("makers may not move an order from %s to %s: %w", old, to, models.ErrForbidden)
		}
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET status=$1, updated_at=$2 WHERE id=$3`, to, now, o.ID); err != nil {
		return nil, "", fmt.Errorf("update order status: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO order_history (order_id, status, note, changed_by, changed_at) VALUES ($1,$2,$3,$4,$5)`,
		o.ID, to, note, actor, now); err != nil {
		return nil, "", fmt.Errorf("append history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("commit transition: %w", err)
	}

	o.Status = to
	o.UpdatedAt = now
	o.History = append(o.History, models.HistoryEntry{Status: to, Note: note, ChangedBy: actor, ChangedAt: now})
	return o, old, nil
}

func (r *OrderRepository) AssignDeliveryCode(ctx context.Context, orderID, code string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET delivery_code=$1, code_generated_at=$2, updated_at=$2
		 WHERE order_id=$3 AND delivery_code IS NULL`,
		code, time.Now().UTC(), orderID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return false, ErrCodeTaken
		}
		return false, fmt.Errorf("assign delivery code: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 1 {
		return true, nil
	}
	// Either the order does not exist or it already has a code.
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE order_id=$1)`, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	return false, nil
}

func (r *OrderRepository) AppendAdminNote(ctx context.Context, orderID, note string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET admin_notes = array_append(admin_notes, $1), updated_at=NOW() WHERE order_id=$2`,
		note, orderID)
	if err != nil {
		return fmt.Errorf("append admin note: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	return nil
}

func (r *OrderRepository) ConfirmDelivery(ctx context.Context, orderID, code string, makerID uuid.UUID) (*models.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin confirm delivery: %w", err)
	}
	defer tx.Rollback()

	o, err := r.getByOrderID(ctx, tx, orderID, " FOR UPDATE")
	if err != nil {
		return nil, err
	}

	if o.Delivery.Code == "" {
		return nil, fmt.Errorf("no delivery code has been generated for this order: %w", models.ErrConflict)
	}
	if o.Delivery.CodeUsed {
		return nil, fmt.Errorf("delivery code already used: %w", models.ErrConflict)
	}
	if o.Delivery.Code != code {
		return nil, fmt.Errorf("delivery code does not match: %w", models.ErrValidation)
	}
	if !o.HasMaker(makerID) {
		return nil, fmt.Errorf("user is not a maker on this order: %w", models.ErrForbidden)
	}
	// A code may exist on an order that was never paid (admin force-issue) or
	// that has since been cancelled; neither may be fulfilled.
	if o.Status != models.OrderStatusPaymentReceived && o.Status != models.OrderStatusProcessing {
		return nil, fmt.Errorf("order in status %s cannot be confirmed: %w", o.Status, models.ErrConflict)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE orders SET
			status=$1, code_used=TRUE, code_used_at=$2,
			maker_confirmed=TRUE, maker_confirmed_at=$2,
			delivery_maker_id=$3, delivered_at=$2, updated_at=$2
		WHERE id=$4`,
		models.OrderStatusFulfilled, now, makerID, o.ID); err != nil {
		return nil, fmt.Errorf("mark delivered: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO order_history (order_id, status, note, changed_by, changed_at) VALUES ($1,$2,$3,$4,$5)`,
		o.ID, models.OrderStatusFulfilled, "delivery confirmed by maker", makerID, now); err != nil {
		return nil, fmt.Errorf("append history: %w", err)
	}

	// Older orders may predate payment grouping; compute it from items now.
	if len(o.MakerPayments) == 0 {
		o.MakerPayments = o.GroupPaymentsByMaker()
		for _, p := range o.MakerPayments {
			if _, err := tx.ExecContext(ctx, `INSERT INTO maker_payments (
					order_id, maker_id, maker_name, amount, commission, status
				) VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (order_id, maker_id) DO NOTHING`,
				o.ID, p.MakerID, p.MakerName, p.Amount, p.Commission, p.Status,
			); err != nil {
				return nil, fmt.Errorf("store maker payment: %w", err)
			}
		}
	}

	// The single write that moves money from "in transit" to "payable".
	for _, p := range o.MakerPayments {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET
				payout_pending = payout_pending + $1,
				payout_total = payout_total + $1,
				updated_at = $2
			WHERE id=$3`,
			p.Amount, now, p.MakerID); err != nil {
			return nil, fmt.Errorf("credit maker payout: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit confirm delivery: %w", err)
	}

	o.Status = models.OrderStatusFulfilled
	o.Delivery.CodeUsed = true
	o.Delivery.CodeUsedAt = &now
	o.Delivery.MakerConfirmed = true
	o.Delivery.MakerConfirmedAt = &now
	o.Delivery.MakerID = makerID
	o.Delivery.DeliveredAt = &now
	o.UpdatedAt = now
	o.History = append(o.History, models.HistoryEntry{
		Status: models.OrderStatusFulfilled, Note: "delivery confirmed by maker",
		ChangedBy: makerID, ChangedAt: now,
	})
	return o, nil
}
