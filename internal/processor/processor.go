// Package taskprocessor drains the notification outbox into Kafka. Tasks are
// retried with a delay and parked as NO_ATTEMPTS_LEFT once the attempt budget
// is spent, so a broker outage never loses or blocks order processing.
package taskprocessor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fablink/internal/repository"
)

type Publisher interface {
	Publish(topic string, message []byte) error
}

type TaskProcessor struct {
	repo         repository.TaskRepository
	producer     Publisher
	topic        string
	pollInterval time.Duration
	limit        int
	maxAttempts  int
	retryDelay   time.Duration
	logger       *zap.Logger
}

func NewTaskProcessor(repo repository.TaskRepository, producer Publisher, topic string, pollInterval time.Duration, limit int, logger *zap.Logger) *TaskProcessor {
	return &TaskProcessor{
		repo:         repo,
		producer:     producer,
		topic:        topic,
		pollInterval: pollInterval,
		limit:        limit,
		maxAttempts:  3,
		retryDelay:   2 * time.Second,
		logger:       logger,
	}
}

func (p *TaskProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.processPendingTasks(ctx)
			ticker.Reset(p.pollInterval)
		}
	}
}

func (p *TaskProcessor) processPendingTasks(ctx context.Context) {
	tasks, err := p.repo.GetPendingTasks(ctx, p.limit)
	if err != nil {
		p.logger.Warn("fetch pending tasks failed", zap.Error(err))
		return
	}
	for _, task := range tasks {
		if err := p.repo.MarkTaskProcessing(ctx, task.ID); err != nil {
			p.logger.Warn("mark task processing failed", zap.Int("task_id", task.ID), zap.Error(err))
			continue
		}

		if err := p.producer.Publish(p.topic, task.Payload); err != nil {
			p.update(ctx, task, err)
			continue
		}
		p.logger.Debug("task published", zap.Int("task_id", task.ID))
		if err := p.repo.DeleteTask(ctx, task.ID); err != nil {
			p.logger.Warn("delete published task failed", zap.Int("task_id", task.ID), zap.Error(err))
		}
	}
}

func (p *TaskProcessor) update(ctx context.Context, task *repository.Task, cause error) {
	newAttempt := task.AttemptCount + 1
	var newStatus repository.TaskStatus
	if newAttempt >= p.maxAttempts {
		newStatus = repository.TaskStatusNoAttemptsLeft
	} else {
		newStatus = repository.TaskStatusFailed
	}
	p.logger.Warn("task publish failed",
		zap.Int("task_id", task.ID),
		zap.Int("attempt", newAttempt),
		zap.String("status", string(newStatus)),
		zap.Error(cause))
	nextAttempt := time.Now().UTC().Add(p.retryDelay)
	if err := p.repo.UpdateTaskFailure(ctx, task.ID, newAttempt, newStatus, nextAttempt); err != nil {
		p.logger.Warn("update task failure state failed", zap.Int("task_id", task.ID), zap.Error(err))
	}
}
