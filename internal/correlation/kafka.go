package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"dossier/pkg/platform/circuit"
	"dossier/pkg/platform/sentinel"
)

// Producer is the async produce call of *kgo.Client.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// KafkaNotifier publishes notifications keyed by subject so one subject's
// notifications stay ordered on a partition. A circuit breaker stops
// producing while the broker keeps failing.
type KafkaNotifier struct {
	producer      Producer
	topic         string
	breaker       *circuit.Breaker
	logger        *slog.Logger
	onStateChange func(open bool)
}

// KafkaOption configures a KafkaNotifier.
type KafkaOption func(*KafkaNotifier)

// WithBreaker replaces the default breaker.
func WithBreaker(b *circuit.Breaker) KafkaOption {
	return func(n *KafkaNotifier) {
		if b != nil {
			n.breaker = b
		}
	}
}

// WithLogger sets the logger for delivery failures.
func WithLogger(logger *slog.Logger) KafkaOption {
	return func(n *KafkaNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithStateChange is called when the breaker opens or closes.
func WithStateChange(fn func(open bool)) KafkaOption {
	return func(n *KafkaNotifier) {
		n.onStateChange = fn
	}
}

// NewKafka creates a notifier producing to topic.
func NewKafka(producer Producer, topic string, opts ...KafkaOption) (*KafkaNotifier, error) {
	if producer == nil {
		return nil, fmt.Errorf("kafka producer is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("correlation topic is required")
	}
	n := &KafkaNotifier{
		producer: producer,
		topic:    topic,
		breaker:  circuit.New("correlation"),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n, nil
}

func (k *KafkaNotifier) Enqueue(ctx context.Context, n Notification) error {
	if !k.breaker.Allow() {
		return fmt.Errorf("correlation notifier: %w", sentinel.ErrUnavailable)
	}
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(n.SubjectID.String()),
		Value: value,
	}
	// buffered records fail when their context ends, and the caller's does
	// as soon as processing returns
	k.producer.Produce(context.WithoutCancel(ctx), record, func(_ *kgo.Record, err error) {
		if err != nil {
			_, change := k.breaker.RecordFailure()
			k.logger.Warn("correlation notification failed",
				"subject_id", n.SubjectID.String(),
				"bucket_id", n.BucketID.String(),
				"error", err,
			)
			k.report(change)
			return
		}
		_, change := k.breaker.RecordSuccess()
		k.report(change)
	})
	return nil
}

func (k *KafkaNotifier) report(change circuit.StateChange) {
	if k.onStateChange == nil {
		return
	}
	if change.Opened {
		k.onStateChange(true)
	}
	if change.Closed {
		k.onStateChange(false)
	}
}
