// Package pubsub implements a Google Cloud Pub/Sub dispatch publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/crawl-registry/internal/jobs"
)

// sender publishes one message to a single topic.
type sender interface {
	Send(ctx context.Context, msg *pubsub.Message) (string, error)
	Stop()
}

type topicSender struct {
	publisher *pubsub.Publisher
}

func (s topicSender) Send(ctx context.Context, msg *pubsub.Message) (string, error) {
	return s.publisher.Publish(ctx, msg).Get(ctx)
}

func (s topicSender) Stop() {
	s.publisher.Stop()
}

// Publisher publishes JSON payloads to Pub/Sub topics, creating one topic
// publisher per topic on first use.
type Publisher struct {
	mu      sync.Mutex
	senders map[string]sender
	open    func(topic string) sender
}

// New creates a Publisher backed by client. The caller keeps ownership of the
// client; Close only stops the topic publishers.
func New(client *pubsub.Client) *Publisher {
	return newPublisher(func(topic string) sender {
		return topicSender{publisher: client.Publisher(topic)}
	})
}

func newPublisher(open func(topic string) sender) *Publisher {
	return &Publisher{senders: make(map[string]sender), open: open}
}

// Publish marshals the payload to JSON and publishes it to the topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.open == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	if topic == "" {
		return "", fmt.Errorf("pubsub topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{"content-type": "application/json"}}
	if keyed, ok := payload.(jobs.Keyed); ok {
		msg.Attributes["key"] = keyed.MessageKey()
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	id, err := p.sender(topic).Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("publish message to %s: %w", topic, err)
	}
	return id, nil
}

// Close flushes and stops every topic publisher.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for topic, s := range p.senders {
		s.Stop()
		delete(p.senders, topic)
	}
}

func (p *Publisher) sender(topic string) sender {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.senders[topic]
	if !ok {
		s = p.open(topic)
		p.senders[topic] = s
	}
	return s
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
