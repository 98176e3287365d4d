// Package kafkabus carries broker envelopes over a Kafka topic so that several broker instances
// share one set of chat topics.
package kafkabus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-chat-server/broker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

type Bus struct {
	writer *kafka.Writer
	reader *kafka.Reader
	logger zerolog.Logger
}

type Option func(*config)

type config struct {
	groupID string
	logger  zerolog.Logger
}

// WithGroupID overrides the consumer group. Every instance must read the whole topic, so the
// default is unique per process.
func WithGroupID(groupID string) Option {
	return func(c *config) {
		c.groupID = groupID
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func New(brokers []string, topic string, opts ...Option) (*Bus, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafkabus: brokers and topic are required")
	}
	cfg := &config{
		groupID: "chat-broker-" + uuid.New().String(),
		logger:  log.Logger.With().Str("component", "kafkabus").Logger(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Bus{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     brokers,
			GroupID:     cfg.groupID,
			Topic:       topic,
			StartOffset: kafka.LastOffset,
		}),
		logger: cfg.logger,
	}, nil
}

// Publish writes env keyed by namespace/topic so one chat topic always lands on one partition.
func (b *Bus) Publish(ctx context.Context, env broker.Envelope) error {
	msg, err := encode(env)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafkabus: write: %w", err)
	}
	return nil
}

// Run reads envelopes until ctx is cancelled, handing each to deliver.
func (b *Bus) Run(ctx context.Context, deliver func(broker.Envelope)) error {
	for {
		m, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Error().Err(err).Msg("kafka read error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		env, err := decode(m)
		if err != nil {
			b.logger.Warn().Err(err).Int64("offset", m.Offset).Msg("Skipping undecodable envelope")
			continue
		}
		deliver(env)
	}
}

func (b *Bus) Close() error {
	return errors.Join(b.writer.Close(), b.reader.Close())
}

func messageKey(namespace, topic string) []byte {
	return []byte(namespace + "/" + topic)
}

func encode(env broker.Envelope) (kafka.Message, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafkabus: encode: %w", err)
	}
	return kafka.Message{Key: messageKey(env.Namespace, env.Topic), Value: data}, nil
}

func decode(m kafka.Message) (broker.Envelope, error) {
	var env broker.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return broker.Envelope{}, fmt.Errorf("kafkabus: decode: %w", err)
	}
	if env.Namespace == "" || env.Topic == "" {
		return broker.Envelope{}, errors.New("kafkabus: envelope missing namespace or topic")
	}
	return env, nil
}
