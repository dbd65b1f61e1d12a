package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes sign-up events to a Kafka topic keyed by user id.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

// NewKafkaPublisher creates a publisher for topic. Call Close when shutting down.
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("events: kafka brokers and topic are required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: writer, log: log.With().Str("component", "events.kafka").Logger()}, nil
}

// PublishSignup serializes ev as JSON and writes it with a short timeout so a slow broker does not stall sign-up.
func (p *KafkaPublisher) PublishSignup(ctx context.Context, ev Signup) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(writeCtx, kafka.Message{Key: []byte(ev.UserID), Value: payload}); err != nil {
		p.log.Error().Err(err).Str("user_id", ev.UserID).Msg("publish signup failed")
		return err
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads sign-up events as part of a consumer group. Offsets are committed on Ack.
type KafkaConsumer struct {
	reader *kafka.Reader
}

// NewKafkaConsumer joins groupID on topic.
func NewKafkaConsumer(brokers []string, topic, groupID string) (*KafkaConsumer, error) {
	if len(brokers) == 0 || topic == "" || groupID == "" {
		return nil, errors.New("events: kafka brokers, topic and group id are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  1 * time.Second,
	})
	return &KafkaConsumer{reader: reader}, nil
}

// Fetch returns the next message. A payload that is not a sign-up event is returned with ErrMalformed
// and can still be acked.
func (c *KafkaConsumer) Fetch(ctx context.Context) (Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	m := Message{ack: func(ctx context.Context) error { return c.reader.CommitMessages(ctx, msg) }}
	if err := json.Unmarshal(msg.Value, &m.Signup); err != nil {
		return m, fmt.Errorf("%w: offset %d: %v", ErrMalformed, msg.Offset, err)
	}
	if m.Signup.UserID == "" {
		return m, fmt.Errorf("%w: offset %d: missing user_id", ErrMalformed, msg.Offset)
	}
	return m, nil
}

// Close leaves the consumer group.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
