package kafka

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"fablink/internal/notify"
)

// Dispatcher delivers a decoded notification event to its recipient.
type Dispatcher interface {
	Dispatch(ev notify.Event) error
}

type ConsumerGroupHandler struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

func (ConsumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim decodes each message and hands it to the dispatcher. Dispatch
// failures are logged and the message is still marked: email delivery is
// best-effort past the topic.
func (h ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var ev notify.Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			h.logger.Warn("skip malformed notification",
				zap.Int64("offset", msg.Offset), zap.Error(err))
			session.MarkMessage(msg, "")
			continue
		}
		if err := h.dispatcher.Dispatch(ev); err != nil {
			h.logger.Warn("notification dispatch failed",
				zap.String("type", string(ev.Type)),
				zap.String("order_id", ev.OrderID),
				zap.Error(err))
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func StartSaramaConsumer(ctx context.Context, cfg *sarama.Config, brokers []string, groupID string, topics []string, dispatcher Dispatcher, logger *zap.Logger) error {
	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := consumerGroup.Close(); err != nil {
			logger.Error("close consumer group", zap.Error(err))
		}
	}()

	handler := ConsumerGroupHandler{dispatcher: dispatcher, logger: logger}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := consumerGroup.Consume(ctx, topics, handler); err != nil {
				logger.Warn("consumer error", zap.Error(err))
			}
		}
	}
}
