package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Message is one JSON body with its AMQP properties.
type Message struct {
	RoutingKey    string
	Body          []byte
	MessageID     string
	CorrelationID string
	Type          string
	Timestamp     time.Time
}

// Publish sends msg to the client's exchange and waits for the broker confirm.
func (client *Client) Publish(ctx context.Context, msg Message) error {
	client.mu.RLock()
	ch, conn := client.pubChan, client.conn
	client.mu.RUnlock()

	if conn == nil || conn.IsClosed() || ch == nil || ch.IsClosed() {
		return ErrNotOpen
	}

	client.pubMu.Lock()
	defer client.pubMu.Unlock()
	confirms := client.pubConfirms

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := ch.PublishWithContext(ctx, client.exchange, msg.RoutingKey, true, false, amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		MessageId:     msg.MessageID,
		CorrelationId: msg.CorrelationID,
		Type:          msg.Type,
		Timestamp:     msg.Timestamp,
		Body:          msg.Body,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish %s: %w", msg.RoutingKey, err)
	}

	select {
	case c, ok := <-confirms:
		if !ok {
			return ErrNotOpen
		}
		if !c.Ack {
			return errors.New("rabbitmq: publish not acknowledged")
		}
		return nil
	case <-ctx.Done():
		// drain the pending confirm so the next publish reads its own
		select {
		case <-confirms:
		case <-time.After(2 * time.Second):
		}
		return ctx.Err()
	}
}
