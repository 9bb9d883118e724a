// Package transport broadcasts stream chunks between relay instances
// over NATS. Delivery order is not trusted: subscribers recover the
// per-conversation total order from chunk sequence numbers.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/finchley/parley/pkg/chat"
	"github.com/finchley/parley/pkg/logger"
)

// Broker wraps a NATS connection scoped to one subject prefix.
type Broker struct {
	conn          *nats.Conn
	subjectPrefix string
	subs          []*nats.Subscription
}

// Connect dials NATS with retry-friendly options.
func Connect(url, token, subjectPrefix string) (*Broker, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return NewBroker(conn, subjectPrefix), nil
}

// NewBroker wraps an existing connection. Used by tests with an
// embedded server connection.
func NewBroker(conn *nats.Conn, subjectPrefix string) *Broker {
	if subjectPrefix == "" {
		subjectPrefix = "parley.conv"
	}
	return &Broker{conn: conn, subjectPrefix: subjectPrefix}
}

func (b *Broker) subject(convID string) string {
	return b.subjectPrefix + "." + convID
}

// PublishChunk broadcasts one sequenced chunk for a conversation.
func (b *Broker) PublishChunk(convID string, chunk chat.Chunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	return b.conn.Publish(b.subject(convID), payload)
}

// SubscribeConversation delivers the conversation's chunks to handler
// in sequence order, regardless of arrival order. Duplicate deliveries
// of an already-seen sequence number are dropped.
func (b *Broker) SubscribeConversation(convID string, handler func(chat.Chunk)) error {
	reorder := newReorderWindow(handler)

	sub, err := b.conn.Subscribe(b.subject(convID), func(msg *nats.Msg) {
		var chunk chat.Chunk
		if err := json.Unmarshal(msg.Data, &chunk); err != nil {
			logger.Warn("Skipping malformed broadcast chunk on %s: %v", msg.Subject, err)
			return
		}
		reorder.accept(chunk)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subject(convID), err)
	}
	b.subs = append(b.subs, sub)
	logger.Info("Subscribed to conversation %s", convID)
	return nil
}

// Close unsubscribes everything and drops the connection.
func (b *Broker) Close() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.conn.Close()
}
