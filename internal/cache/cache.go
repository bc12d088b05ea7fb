// Package cache keeps the admin settlement worklist warm. Pending payments
// change rarely compared to how often support reads them, so the list is
// refreshed on an interval and immediately after any settle or hold mutation.
package cache

import (
	"context"
	"sync"
	"time"

	"fablink/internal/repository"
)

type PendingPayoutsCache struct {
	mu       sync.RWMutex
	payments []repository.PendingPayment
	repo     repository.Payments
}

func NewPendingPayoutsCache(repo repository.Payments) *PendingPayoutsCache {
	return &PendingPayoutsCache{repo: repo}
}

func (c *PendingPayoutsCache) Refresh(ctx context.Context) error {
	payments, err := c.repo.ListPending(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.payments = payments
	c.mu.Unlock()
	return nil
}

func (c *PendingPayoutsCache) Get() []repository.PendingPayment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.payments
}

func (c *PendingPayoutsCache) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = c.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}
