// Package bridge mirrors the in-process event stream to a Google Cloud
// Pub/Sub topic for durable, cross-service delivery. The bridge registers as
// a bus sink; it is optional and the core never depends on it.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/tenantguard/backend/internal/events"
)

// PubSubBridge publishes every bus event to one topic. Ordering key is the
// event's user id, so per-user order survives the hop.
type PubSubBridge struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubBridge connects and ensures the topic exists.
func NewPubSubBridge(projectID, topicID string) (*PubSubBridge, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
		slog.Info("created pubsub topic", "topic", topicID)
	}
	topic.EnableMessageOrdering = true

	slog.Info("pubsub bridge connected", "topic", topic.String())
	return &PubSubBridge{client: client, topic: topic}, nil
}

// Fanout publishes the event. Failures are logged off the hot path; the
// dispatcher is never blocked.
func (b *PubSubBridge) Fanout(evt *events.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("pubsub marshal failed", "event", evt.ID, "error", err)
		return
	}

	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"ce-specversion": "1.0",
			"ce-type":        string(evt.Type),
			"ce-source":      evt.Source,
			"ce-id":          evt.ID,
			"ce-time":        evt.Timestamp.Format(time.RFC3339Nano),
			"ce-userid":      evt.UserID,
		},
		OrderingKey: evt.UserID,
	}

	result := b.topic.Publish(context.Background(), msg)
	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			slog.Warn("pubsub publish failed", "event", evt.ID, "error", err)
		}
	}()
}

// HealthCheck verifies the topic is reachable.
func (b *PubSubBridge) HealthCheck(ctx context.Context) error {
	exists, err := b.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("topic health check: %w", err)
	}
	if !exists {
		return fmt.Errorf("topic does not exist")
	}
	return nil
}

// Close flushes pending publishes and shuts the client down.
func (b *PubSubBridge) Close() error {
	b.topic.Stop()
	return b.client.Close()
}

var _ events.Sink = (*PubSubBridge)(nil)
