package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"blankpos/backend/internal/domain"
)

const (
	TypeSaleCommitted = "sale.committed"
	TypeSalesReset    = "sales.reset"
)

type Event struct {
	Type       string            `json:"type"`
	UserID     string            `json:"user_id"`
	SaleID     string            `json:"sale_id,omitempty"`
	Source     domain.SaleSource `json:"source,omitempty"`
	Total      string            `json:"total,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ Event) error {
	return nil
}

const defaultPublishTimeout = 2 * time.Second

// KafkaPublisher keys messages by user id so one user's events stay ordered.
// Batches are delivered in the background and delivery failures are logged.
// The topic metadata lookup still happens inside Publish, so it is bounded
// by timeout.
type KafkaPublisher struct {
	writer  *kafka.Writer
	timeout time.Duration
}

func NewKafkaPublisher(topic string, logger *zap.Logger, brokers ...string) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		Async:                  true,
		Completion:             logDeliveryFailures(logger.Named("events")),
	}
	return &KafkaPublisher{writer: w, timeout: defaultPublishTimeout}
}

func logDeliveryFailures(logger *zap.Logger) func([]kafka.Message, error) {
	return func(messages []kafka.Message, err error) {
		if err != nil {
			logger.Warn("event delivery failed", zap.Int("messages", len(messages)), zap.Error(err))
		}
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.UserID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
