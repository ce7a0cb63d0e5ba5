package queue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smukkama/glucose-stats/internal/protocol"
	"github.com/smukkama/glucose-stats/pkg/config"
)

// Producer publishes to one topic. Messages are keyed by subject ID so a
// subject's events stay on one partition, in order.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a producer for topic
func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// PublishEvent sends a gateway event
func (p *Producer) PublishEvent(ctx context.Context, ev *protocol.Event) error {
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return p.write(ctx, ev.SubjectID, data)
}

// PublishStatsUpdate sends the current window stats of a subject
func (p *Producer) PublishStatsUpdate(ctx context.Context, u *protocol.StatsUpdate) error {
	data, err := protocol.EncodeStatsUpdate(u)
	if err != nil {
		return fmt.Errorf("failed to encode stats update: %w", err)
	}
	return p.write(ctx, u.SubjectID, data)
}

func (p *Producer) write(ctx context.Context, subjectID string, value []byte) error {
	msg := kafka.Message{Key: []byte(subjectID), Value: value, Time: time.Now()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.writer.Topic, err)
	}
	return nil
}

// Close flushes pending writes and closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Delivery is a fetched message and the event decoded from it.
// Event is nil and DecodeErr set when the payload is not a valid event.
type Delivery struct {
	Message   kafka.Message
	Event     *protocol.Event
	DecodeErr error
}

// EventReader is a consumer of the measurements topic
type EventReader interface {
	Fetch(ctx context.Context) (Delivery, error)
	Commit(ctx context.Context, deliveries ...Delivery) error
}

// Consumer reads gateway events from the measurements topic as a member of
// a consumer group. Offsets are only committed explicitly.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer joins groupID on the measurements topic
func NewConsumer(cfg config.KafkaConfig, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.TopicMeasurements,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       1 << 20,
			CommitInterval: 0,
			StartOffset:    startOffset(cfg.StartOffset),
		}),
	}
}

func startOffset(name string) int64 {
	if name == "last" {
		return kafka.LastOffset
	}
	return kafka.FirstOffset
}

// Fetch blocks for the next message. A payload that does not decode is not
// an error here; it is reported in the Delivery so it can still be committed.
func (c *Consumer) Fetch(ctx context.Context) (Delivery, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Delivery{}, fmt.Errorf("failed to fetch message: %w", err)
	}

	ev, decodeErr := protocol.DecodeEvent(msg.Value)
	return Delivery{Message: msg, Event: ev, DecodeErr: decodeErr}, nil
}

// Commit marks deliveries as processed
func (c *Consumer) Commit(ctx context.Context, deliveries ...Delivery) error {
	msgs := make([]kafka.Message, len(deliveries))
	for i, d := range deliveries {
		msgs[i] = d.Message
	}
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to commit %d messages: %w", len(msgs), err)
	}
	return nil
}

// Close leaves the consumer group
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Stats returns reader statistics since the last call
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// EnsureTopics creates the measurements and stats topics on the cluster
// controller. Topics that already exist are left as they are.
func EnsureTopics(cfg config.KafkaConfig) error {
	conn, err := kafka.Dial("tcp", cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get controller: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial controller: %w", err)
	}
	defer controllerConn.Close()

	for _, topic := range []string{cfg.TopicMeasurements, cfg.TopicStats} {
		err := controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     cfg.NumPartitions,
			ReplicationFactor: cfg.ReplicationFactor,
		})
		switch {
		case errors.Is(err, kafka.TopicAlreadyExists):
			fmt.Printf("Topic %s already exists\n", topic)
		case err != nil:
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		default:
			fmt.Printf("Created topic %s with %d partitions\n", topic, cfg.NumPartitions)
		}
	}

	return nil
}
