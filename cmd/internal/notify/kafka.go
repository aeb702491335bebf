package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer used by KafkaEmitter.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter publishes notifications to a topic consumed by the
// notification service. Records are keyed by account id so one account's
// notifications stay ordered within a partition.
type KafkaEmitter struct {
	w   messageWriter
	now func() time.Time
}

// KafkaConfig configures KafkaEmitter.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// NewKafkaEmitter constructs a KafkaEmitter with a synchronous writer.
func NewKafkaEmitter(cfg KafkaConfig) (*KafkaEmitter, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("notify: no kafka brokers")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		return nil, errors.New("notify: empty kafka topic")
	}
	wt := cfg.WriteTimeout
	if wt <= 0 {
		wt = 5 * time.Second
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           wt,
		AllowAutoTopicCreation: false,
	}
	return newKafkaEmitter(w), nil
}

func newKafkaEmitter(w messageWriter) *KafkaEmitter {
	return &KafkaEmitter{w: w, now: func() time.Time { return time.Now().UTC() }}
}

func (e *KafkaEmitter) Notify(ctx context.Context, accountID, kind string, payload map[string]any) error {
	n, err := newNotification(accountID, kind, payload, e.now())
	if err != nil {
		return err
	}
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: encode: %w", err)
	}
	if err := e.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.AccountID),
		Value: value,
		Time:  n.CreatedAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(n.Kind)},
		},
	}); err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (e *KafkaEmitter) Close() error { return e.w.Close() }
