package kafka

import (
	"context"
	"errors"
	"strconv"

	"beds4crew/internal/models"

	"github.com/IBM/sarama"
)

// NewConfig returns the producer settings used for booking events.
func NewConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "beds4crew"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	// idempotence allows a single in-flight request per broker
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

type Producer struct {
	sync  sarama.SyncProducer
	topic string
}

func NewProducer(brokers []string, topic string, cfg *sarama.Config) (*Producer, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	sync, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewProducerFromClient(sync, topic), nil
}

// NewProducerFromClient wraps an existing sync producer.
func NewProducerFromClient(sync sarama.SyncProducer, topic string) *Producer {
	return &Producer{sync: sync, topic: topic}
}

func (p *Producer) Publish(ctx context.Context, key string, payload []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var hs []sarama.RecordHeader
	for k, v := range headers {
		hs = append(hs, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	msg := &sarama.ProducerMessage{
		Topic:   p.topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(payload),
		Headers: hs,
	}
	_, _, err := p.sync.SendMessage(msg)
	return err
}

// Deliver publishes an outbox task keyed by booking id, so events of one
// booking keep their order within a partition.
func (p *Producer) Deliver(ctx context.Context, task models.NotificationTask) error {
	if p.sync == nil {
		return errors.New("kafka producer is closed")
	}
	return p.Publish(ctx, strconv.FormatInt(task.BookingID, 10), []byte(task.Payload), map[string]string{
		"event_type": task.EventType,
		"task_id":    strconv.FormatInt(task.ID, 10),
	})
}

func (p *Producer) Close() error {
	if p.sync == nil {
		return nil
	}
	return p.sync.Close()
}
