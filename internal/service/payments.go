package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fablink/internal/models"
	"fablink/internal/repository"
)

type PaymentService struct {
	payments repository.Payments
	notifier Notifier
	worklist Worklist
	logger   *zap.Logger
}

func NewPaymentService(payments repository.Payments, notifier Notifier, worklist Worklist, logger *zap.Logger) *PaymentService {
	return &PaymentService{payments: payments, notifier: notifier, worklist: worklist, logger: logger}
}

// Process settles one pending (order, maker) payment. The repository rejects
// anything that is not currently pending, so held and already-paid entries
// come back as not found.
func (s *PaymentService) Process(ctx context.Context, actor Actor, orderID string, makerID uuid.UUID, method, transactionRef string) (*models.MakerPayment, error) {
	p, err := s.payments.Settle(ctx, orderID, makerID, method, transactionRef, actor.User.ID)
	if err != nil {
		return nil, err
	}

	s.notifier.PaymentSettled(ctx, orderID, p)
	if s.worklist != nil {
		if err := s.worklist.Refresh(ctx); err != nil {
			s.logger.Warn("worklist refresh failed", zap.Error(err))
		}
	}
	return p, nil
}

// PendingWorklist serves the settleable payments, preferring the cache.
func (s *PaymentService) PendingWorklist(ctx context.Context) ([]repository.PendingPayment, error) {
	if c, ok := s.worklist.(interface {
		Get() []repository.PendingPayment
	}); ok {
		if payments := c.Get(); payments != nil {
			return payments, nil
		}
	}
	return s.payments.ListPending(ctx)
}
