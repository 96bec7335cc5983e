package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"riskstream/internal/metrics"
	"riskstream/pkg/logger"
)

// readRetryDelay is the pause after a failed read before trying again
const readRetryDelay = time.Second

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads a journal topic
type Consumer struct {
	reader     messageReader
	retryDelay time.Duration
	log        *logger.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig, log *logger.Logger) *Consumer {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10e6 // 10MB
	}
	if log == nil {
		log = logger.Get()
	}
	log = log.With("component", "kafka_consumer", "topic", cfg.Topic)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		StartOffset: kafka.FirstOffset, // replay from the beginning if no offset committed
	})

	log.Infow("Kafka consumer created",
		"brokers", cfg.Brokers,
		"group_id", cfg.GroupID,
	)

	return &Consumer{
		reader:     reader,
		retryDelay: readRetryDelay,
		log:        log,
	}
}

// FrameHandler receives replayed frames
type FrameHandler interface {
	HandleFrame(frame []byte)
}

// Replay feeds every journaled frame to the handler until ctx is cancelled
func (c *Consumer) Replay(ctx context.Context, handler FrameHandler) error {
	c.log.Info("Replaying stream journal...")

	for {
		msg, err := c.readMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Journal replay stopped")
				return ctx.Err()
			}
			metrics.RecordJournal(DirectionConsumed, err)
			c.log.Errorf("Failed to read message, retrying in %s: %v", c.retryDelay, err)

			select {
			case <-ctx.Done():
				c.log.Info("Journal replay stopped")
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
			continue
		}

		c.log.Debugf("Replaying frame: kind=%s offset=%d", string(msg.Key), msg.Offset)
		metrics.RecordJournal(DirectionConsumed, nil)
		handler.HandleFrame(msg.Value)
	}
}

// readMessage checks for shutdown before blocking on the reader
func (c *Consumer) readMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	default:
	}

	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return kafka.Message{}, ctx.Err()
		}
		return kafka.Message{}, err
	}
	return msg, nil
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
