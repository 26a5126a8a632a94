// Package kafka builds franz-go clients and provisions topics.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"dossier/internal/platform/config"
)

// NewClient creates a producer-oriented client for cfg.Brokers.
func NewClient(cfg config.Kafka, opts ...kgo.Opt) (*kgo.Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.CorrelationTopic),
		kgo.RecordPartitioner(kgo.StickyKeyPartitioner(nil)),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopics creates the correlation topic when it does not exist yet.
func EnsureTopics(ctx context.Context, client *kgo.Client, cfg config.Kafka) error {
	partitions := cfg.Partitions
	if partitions < 1 {
		partitions = 1
	}
	replicas := cfg.Replicas
	if replicas < 1 {
		replicas = 1
	}

	resp, err := kadm.NewClient(client).CreateTopics(ctx, partitions, replicas, nil, cfg.CorrelationTopic)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, topic := range resp.Sorted() {
		if topic.Err != nil && !errors.Is(topic.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", topic.Topic, topic.Err)
		}
	}
	return nil
}

// Health returns a check that pings the cluster.
func Health(client *kgo.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx)
	}
}
