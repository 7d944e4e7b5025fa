package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// ErrPublisherUnavailable is returned while the breaker is open.
var ErrPublisherUnavailable = errors.New("event publisher unavailable")

const (
	headerEventType       = "event_type"
	defaultProduceTimeout = 2 * time.Second
)

// KafkaPublisher produces events keyed by user id so a user's events stay
// ordered within one partition.
type KafkaPublisher struct {
	client         *kgo.Client
	topic          string
	logger         *slog.Logger
	breaker        *breaker
	produceTimeout time.Duration
}

type KafkaOption func(*KafkaPublisher)

func WithLogger(logger *slog.Logger) KafkaOption {
	return func(p *KafkaPublisher) {
		p.logger = logger
	}
}

// WithBreaker overrides the failure threshold and cooldown of the produce breaker.
func WithBreaker(threshold int, cooldown time.Duration) KafkaOption {
	return func(p *KafkaPublisher) {
		p.breaker = newBreaker(threshold, cooldown)
	}
}

func WithProduceTimeout(d time.Duration) KafkaOption {
	return func(p *KafkaPublisher) {
		p.produceTimeout = d
	}
}

// NewKafkaPublisher connects a producer to brokers. The topic must exist or
// broker-side auto creation must be enabled; see EnsureTopic.
func NewKafkaPublisher(brokers []string, topic, clientID string, opts ...KafkaOption) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}
	p := &KafkaPublisher{
		client:         client,
		topic:          topic,
		logger:         slog.Default(),
		breaker:        newBreaker(5, 30*time.Second),
		produceTimeout: defaultProduceTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Client exposes the underlying client for admin operations and health checks.
func (p *KafkaPublisher) Client() *kgo.Client {
	return p.client
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if !p.breaker.Allow() {
		return ErrPublisherUnavailable
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: encode event: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.UserID.String()),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: headerEventType, Value: []byte(event.Type)},
		},
		Timestamp: event.OccurredAt,
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.produceTimeout)
	defer cancel()
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.breaker.RecordFailure()
		if p.breaker.IsOpen() {
			p.logger.WarnContext(ctx, "event publisher breaker opened",
				"topic", p.topic,
				"error", err,
			)
		}
		return fmt.Errorf("kafka: produce %s: %w", event.Type, err)
	}
	p.breaker.RecordSuccess()
	return nil
}

// Ping checks that at least one broker is reachable.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}

// EnsureTopic creates topic when it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(client)
	resps, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, topic)
	if err != nil {
		return fmt.Errorf("kafka: create topic %s: %w", topic, err)
	}
	for name, resp := range resps {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("kafka: create topic %s: %w", name, resp.Err)
		}
	}
	return nil
}
