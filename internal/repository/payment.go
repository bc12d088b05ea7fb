package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fablink/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Settle moves one pending (order, maker) payment to paid. The maker's ledger
// shifts the amount from pending to paid in the same transaction, leaving the
// total untouched. A payment is only settleable once the maker has confirmed
// delivery; before that the pending row exists but nothing has been credited,
// and paying it out would drive the maker's pending balance negative.
func (r *PaymentRepository) Settle(ctx context.Context, orderID string, makerID uuid.UUID, method, transactionRef string, adminID uuid.UUID) (*models.MakerPayment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin settle: %w", err)
	}
	defer tx.Rollback()

	var (
		internalID uuid.UUID
		confirmed  bool
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, maker_confirmed FROM orders WHERE order_id=$1`, orderID).Scan(&internalID, &confirmed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve order: %w", err)
	}
	if !confirmed {
		return nil, fmt.Errorf("order %s has not been delivery-confirmed: %w", orderID, models.ErrConflict)
	}

	now := time.Now().UTC()
	p := &models.MakerPayment{
		MakerID: makerID, Status: models.PaymentStatusPaid,
		Method: method, TransactionRef: transactionRef,
		PaidAt: &now, ProcessedBy: adminID,
	}
	err = tx.QueryRowContext(ctx, `UPDATE maker_payments SET
			status=$1, method=$2, transaction_ref=$3, paid_at=$4, processed_by=$5
		WHERE order_id=$6 AND maker_id=$7 AND status=$8
		RETURNING maker_name, amount, commission`,
		models.PaymentStatusPaid, method, transactionRef, now, adminID,
		internalID, makerID, models.PaymentStatusPending,
	).Scan(&p.MakerName, &p.Amount, &p.Commission)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no pending payment for order %s and maker %s: %w", orderID, makerID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("settle payment: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET
			payout_pending = payout_pending - $1,
			payout_paid = payout_paid + $1,
			updated_at = $2
		WHERE id=$3`,
		p.Amount, now, makerID); err != nil {
		return nil, fmt.Errorf("shift maker ledger: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit settle: %w", err)
	}
	return p, nil
}

// ListPending returns the admin settlement worklist. Held payments are
// excluded; they need manual intervention.
func (r *PaymentRepository) ListPending(ctx context.Context) ([]PendingPayment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT
			o.order_id, p.maker_id, p.maker_name, p.amount, p.status
		FROM maker_payments p
		JOIN orders o ON o.id = p.order_id
		WHERE p.status = $1 AND o.maker_confirmed
		ORDER BY o.order_id, p.maker_id`,
		models.PaymentStatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}
	defer rows.Close()

	var res []PendingPayment
	for rows.Next() {
		var p PendingPayment
		if err := rows.Scan(&p.OrderID, &p.MakerID, &p.MakerName, &p.Amount, &p.Status); err != nil {
			return nil, fmt.Errorf("scan pending payment: %w", err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending payments: %w", err)
	}
	return res, nil
}
