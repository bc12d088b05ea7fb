package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fablink/internal/models"
	"fablink/internal/repository"
)

type ReviewService struct {
	reviews  repository.Reviews
	users    repository.Users
	worklist Worklist
	logger   *zap.Logger
}

func NewReviewService(reviews repository.Reviews, users repository.Users, worklist Worklist, logger *zap.Logger) *ReviewService {
	return &ReviewService{reviews: reviews, users: users, worklist: worklist, logger: logger}
}

// Submit records one review per maker on the delivered order. Crossing the
// bad-review threshold disqualifies a maker inside the same transaction; a
// disqualification also shrinks the settleable worklist, so it is refreshed.
func (s *ReviewService) Submit(ctx context.Context, actor Actor, orderID string, rating int, comment string) ([]models.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("rating must be between 1 and 5: %w", models.ErrValidation)
	}

	reviews, disqualified, err := s.reviews.CreateForOrder(ctx, orderID, actor.User.ID, rating, comment)
	if err != nil {
		return nil, err
	}

	for _, makerID := range disqualified {
		s.logger.Warn("maker disqualified",
			zap.String("maker_id", makerID.String()),
			zap.String("order_id", orderID))
	}
	if len(disqualified) > 0 && s.worklist != nil {
		if err := s.worklist.Refresh(ctx); err != nil {
			s.logger.Warn("worklist refresh failed", zap.Error(err))
		}
	}
	return reviews, nil
}

// MakerReviews returns a maker's reviews along with the stored aggregate.
func (s *ReviewService) MakerReviews(ctx context.Context, makerID uuid.UUID) ([]models.Review, *models.User, error) {
	maker, err := s.users.GetByID(ctx, makerID)
	if err != nil {
		return nil, nil, err
	}
	reviews, err := s.reviews.ListByMaker(ctx, makerID)
	if err != nil {
		return nil, nil, err
	}
	return reviews, maker, nil
}
