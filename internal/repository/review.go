package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fablink/internal/models"
)

type ReviewRepository struct {
	db *sql.DB
}

func NewReviewRepository(db *sql.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// CreateForOrder fans one customer review out to every maker with items on
// the order, recomputes each maker's rating aggregate and, where the maker
// crosses the bad-review threshold, runs the disqualification cascade. The
// whole operation is one transaction: a maker can never be observed with two
// bad reviews and live listings or payable pending funds.
func (r *ReviewRepository) CreateForOrder(ctx context.Context, orderID string, customerID uuid.UUID, rating int, comment string) ([]models.Review, []uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin create review: %w", err)
	}
	defer tx.Rollback()

	var (
		internalID     uuid.UUID
		orderCustomer  uuid.UUID
		status         models.OrderStatus
		makerConfirmed bool
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, customer_id, status, maker_confirmed FROM orders WHERE order_id=$1 FOR UPDATE`,
		orderID).Scan(&internalID, &orderCustomer, &status, &makerConfirmed)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("order %s: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolve order: %w", err)
	}

	if orderCustomer != customerID {
		return nil, nil, fmt.Errorf("only the ordering customer may review: %w", models.ErrForbidden)
	}
	if status != models.OrderStatusFulfilled || !makerConfirmed {
		return nil, nil, fmt.Errorf("order is not delivered yet: %w", models.ErrConflict)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM reviews WHERE order_id=$1)`, internalID).Scan(&exists); err != nil {
		return nil, nil, fmt.Errorf("check existing review: %w", err)
	}
	if exists {
		return nil, nil, fmt.Errorf("order %s already has a review: %w", orderID, models.ErrConflict)
	}

	makerRows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT maker_id FROM order_items WHERE order_id=$1`, internalID)
	if err != nil {
		return nil, nil, fmt.Errorf("load order makers: %w", err)
	}
	var makers []uuid.UUID
	for makerRows.Next() {
		var id uuid.UUID
		if err := makerRows.Scan(&id); err != nil {
			makerRows.Close()
			return nil, nil, fmt.Errorf("scan maker id: %w", err)
		}
		makers = append(makers, id)
	}
	makerRows.Close()
	if err := makerRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate makers: %w", err)
	}

	now := time.Now().UTC()
	isBad := models.BadRating(rating)
	var reviews []models.Review
	var disqualified []uuid.UUID

	for _, makerID := range makers {
		rev := models.Review{
			ID:          uuid.New(),
			OrderID:     internalID,
			CustomerID:  customerID,
			MakerID:     makerID,
			Rating:      rating,
			Comment:     comment,
			IsBadReview: isBad,
			CreatedAt:   now,
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO reviews
				(id, order_id, customer_id, maker_id, rating, comment, is_bad, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			rev.ID, rev.OrderID, rev.CustomerID, rev.MakerID, rev.Rating, rev.Comment, rev.IsBadReview, rev.CreatedAt,
		); err != nil {
			return nil, nil, fmt.Errorf("insert review: %w", err)
		}
		reviews = append(reviews, rev)

		var (
			avg      float64
			count    int
			badCount int
		)
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(AVG(rating), 0), COUNT(*), COUNT(*) FILTER (WHERE is_bad)
			 FROM reviews WHERE maker_id=$1`, makerID).Scan(&avg, &count, &badCount); err != nil {
			return nil, nil, fmt.Errorf("recompute maker rating: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET rating_avg=$1, rating_count=$2, bad_review_count=$3, updated_at=$4 WHERE id=$5`,
			avg, count, badCount, now, makerID); err != nil {
			return nil, nil, fmt.Errorf("store maker rating: %w", err)
		}

		if badCount >= models.BadReviewThreshold {
			did, err := r.disqualify(ctx, tx, makerID, now)
			if err != nil {
				return nil, nil, err
			}
			if did {
				disqualified = append(disqualified, makerID)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit create review: %w", err)
	}
	return reviews, disqualified, nil
}

// disqualify runs the irreversible cascade inside the caller's transaction:
// maker status to disqualified, role back to customer, unsold products to
// rejected and all pending payments to held. Returns false when the maker was
// already disqualified.
func (r *ReviewRepository) disqualify(ctx context.Context, tx *sql.Tx, makerID uuid.UUID, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET maker_status=$1, role=$2, updated_at=$3
		 WHERE id=$4 AND maker_status <> $1`,
		models.MakerStatusDisqualified, models.RoleCustomer, now, makerID)
	if err != nil {
		return false, fmt.Errorf("disqualify maker: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE products SET status=$1, updated_at=$2
		 WHERE maker_id=$3 AND status IN ($4, $5)`,
		models.ProductStatusRejected, now, makerID,
		models.ProductStatusDraft, models.ProductStatusPendingReview); err != nil {
		return false, fmt.Errorf("reject maker products: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE maker_payments SET status=$1 WHERE maker_id=$2 AND status=$3`,
		models.PaymentStatusHeld, makerID, models.PaymentStatusPending); err != nil {
		return false, fmt.Errorf("hold maker payments: %w", err)
	}
	return true, nil
}

func (r *ReviewRepository) ListByMaker(ctx context.Context, makerID uuid.UUID) ([]models.Review, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT
			id, order_id, customer_id, maker_id, rating, comment, is_bad, created_at
		FROM reviews WHERE maker_id=$1 ORDER BY created_at DESC`, makerID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var res []models.Review
	for rows.Next() {
		var rev models.Review
		if err := rows.Scan(
			&rev.ID, &rev.OrderID, &rev.CustomerID, &rev.MakerID,
			&rev.Rating, &rev.Comment, &rev.IsBadReview, &rev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		res = append(res, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return res, nil
}
