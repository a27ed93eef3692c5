// Package memory contains an in-process dispatch publisher used by the
// single-binary deployment and by tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawl-registry/internal/jobs"
)

// maxRetained bounds the publish history kept for Messages.
const maxRetained = 1024

// Publisher records published payloads in process. Only the most recent
// publishes are retained.
type Publisher struct {
	mu       sync.RWMutex
	seq      int
	messages []PublishedMessage
	err      error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Key     string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent publishes return err. A nil err restores delivery.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.seq++
	msg := PublishedMessage{
		ID:      fmt.Sprintf("memory-%d", p.seq),
		Topic:   topic,
		Payload: payload,
	}
	if keyed, ok := payload.(jobs.Keyed); ok {
		msg.Key = keyed.MessageKey()
	}
	if len(p.messages) == maxRetained {
		p.messages = append(p.messages[:0], p.messages[1:]...)
	}
	p.messages = append(p.messages, msg)
	p.mu.Unlock()
	return msg.ID, nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
