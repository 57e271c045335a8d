// Package redpanda publishes probe progress events to a Redpanda/Kafka topic
// so external consumers (dashboard push, alerting) can follow the rotation
// without polling.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/georgeglarson/venice-caching-tests/internal/domain"
)

// TopicProbeEvents is the topic all probe events are produced to.
const TopicProbeEvents = "cache-probe-events"

// Publisher forwards probe events to Redpanda. It subscribes to the in-process
// event bus; produces are async so a slow broker never blocks the rotation.
type Publisher struct {
	client *kgo.Client
}

// NewPublisher connects to the given brokers and ensures the topic exists.
func NewPublisher(brokers []string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewPublisher: no seed brokers provided")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewPublisher: %w", err)
	}

	if err := createTopicIfNotExists(context.Background(), client, TopicProbeEvents, 1, 1); err != nil {
		slog.Warn("topic creation failed, it may already exist",
			slog.String("topic", TopicProbeEvents),
			slog.Any("error", err))
	}
	return &Publisher{client: client}, nil
}

// OnProbeEvent implements the event bus subscriber contract.
func (p *Publisher) OnProbeEvent(ctx domain.Context, ev domain.ProbeEvent) {
	rec, err := toRecord(ev)
	if err != nil {
		slog.Error("encode probe event", slog.Any("error", err))
		return
	}
	p.client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
		if err != nil {
			slog.Error("produce probe event failed",
				slog.String("topic", TopicProbeEvents),
				slog.String("model", ev.ModelID),
				slog.Any("error", err))
		}
	})
}

// Close flushes pending produces and releases the client.
func (p *Publisher) Close(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("op=redpanda.Close: %w", err)
	}
	p.client.Close()
	return nil
}

// toRecord keys events by model id so per-model ordering survives
// partitioning.
func toRecord(ev domain.ProbeEvent) (*kgo.Record, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: TopicProbeEvents,
		Key:   []byte(ev.ModelID),
		Value: payload,
	}, nil
}
