package main

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox/registry"
)

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// buildMessage keys every message by payment ID so a subscriber with ordering
// enabled sees a payment's initiated event before its terminal one.
func buildMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}
	if p, ok := resolved.Payload.(*payloads.PaymentEvent); ok && p != nil {
		attrs["transaction_ref"] = p.TransactionRef
		attrs["payment_method"] = string(p.Method)
		attrs["payment_status"] = string(p.Status)
		attrs["table_number"] = strconv.Itoa(p.TableNumber)
	}
	return &gcppubsub.Message{
		Data:        event.Payload,
		Attributes:  attrs,
		OrderingKey: event.AggregateID.String(),
	}
}

// topicPublishers hands out one ordered publisher per topic.
type topicPublishers struct {
	mu      sync.Mutex
	client  pubSubClient
	byTopic map[string]publisher
}

func newTopicPublishers(client pubSubClient) *topicPublishers {
	return &topicPublishers{client: client, byTopic: map[string]publisher{}}
}

func (t *topicPublishers) get(topic string) publisher {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pub, ok := t.byTopic[topic]; ok {
		return pub
	}
	raw := t.client.Publisher(topic)
	if raw == nil {
		return nil
	}
	raw.EnableMessageOrdering = true
	pub := &orderedPublisher{raw: raw}
	t.byTopic[topic] = pub
	return pub
}

// orderedPublisher resumes an ordering key after a failed publish. Pub/Sub
// otherwise rejects every later message with that key.
type orderedPublisher struct {
	raw *gcppubsub.Publisher
}

func (p *orderedPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &orderedResult{res: p.raw.Publish(ctx, msg), raw: p.raw, key: msg.OrderingKey}
}

type orderedResult struct {
	res *gcppubsub.PublishResult
	raw *gcppubsub.Publisher
	key string
}

func (r *orderedResult) Get(ctx context.Context) (string, error) {
	if r.res == nil {
		return "", errors.New("publish result is nil")
	}
	id, err := r.res.Get(ctx)
	if err != nil && r.key != "" {
		r.raw.ResumePublish(r.key)
	}
	return id, err
}
