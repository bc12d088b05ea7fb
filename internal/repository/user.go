package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fablink/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	query := `INSERT INTO users (
			id, name, email, role, maker_status,
			payout_pending, payout_paid, payout_total, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Name, u.Email, u.Role, u.MakerStatus,
		u.MakerPayout.Pending, u.MakerPayout.Paid, u.MakerPayout.Total,
		u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT
			id, name, email, role, maker_status,
			payout_pending, payout_paid, payout_total,
			rating_avg, rating_count, bad_review_count,
			created_at, updated_at
		FROM users WHERE id=$1`
	u := &models.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Name, &u.Email, &u.Role, &u.MakerStatus,
		&u.MakerPayout.Pending, &u.MakerPayout.Paid, &u.MakerPayout.Total,
		&u.RatingAvg, &u.RatingCount, &u.BadReviewCount,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// SetMakerApproval resolves a pending maker application. Approval grants the
// maker role; re-resolving a non-pending application is a state conflict.
func (r *UserRepository) SetMakerApproval(ctx context.Context, id uuid.UUID, approve bool) (*models.User, error) {
	status := models.MakerStatusRejected
	role := models.RoleCustomer
	if approve {
		status = models.MakerStatusApproved
		role = models.RoleMaker
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET maker_status=$1, role=$2, updated_at=$3 WHERE id=$4 AND maker_status=$5`,
		status, role, time.Now().UTC(), id, models.MakerStatusPending)
	if err != nil {
		return nil, fmt.Errorf("set maker approval: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		u, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("maker application for %s is %s, not pending: %w", id, u.MakerStatus, models.ErrConflict)
	}
	return r.GetByID(ctx, id)
}
