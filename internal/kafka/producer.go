package kafka

import (
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type SaramaProducer struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
}

func NewSaramaProducer(brokers []string, logger *zap.Logger) (*SaramaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	prod, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return &SaramaProducer{producer: prod, logger: logger}, nil
}

func (p *SaramaProducer) Publish(topic string, message []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(message),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
		return err
	}
	p.logger.Debug("message published",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (p *SaramaProducer) Close() error {
	return p.producer.Close()
}
