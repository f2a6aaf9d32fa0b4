package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"canteen-sync/internal/general/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrNotOpen = errors.New("rabbitmq: connection is not open")

// Client keeps one AMQP connection and a confirming publish channel alive,
// redialing in the background when either closes.
type Client struct {
	url      string
	exchange string
	log      *logger.Logger
	logCtx   context.Context

	mu      sync.RWMutex
	conn    *amqp.Connection
	pubChan *amqp.Channel

	pubMu       sync.Mutex
	pubConfirms chan amqp.Confirmation

	closeOnce sync.Once
	closed    chan struct{}
	reconnect chan struct{}
	done      chan struct{}
}

// Connect dials once and declares the topology. Later failures are retried by
// the watcher until Close.
func Connect(ctx context.Context, url, exchange string, log *logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.Discard()
	}
	client := &Client{
		url:       url,
		exchange:  exchange,
		log:       log,
		logCtx:    context.WithoutCancel(ctx),
		closed:    make(chan struct{}),
		reconnect: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	if err := client.connectOnce(); err != nil {
		return nil, err
	}
	go client.watch()

	return client, nil
}

func (client *Client) Exchange() string { return client.exchange }

// Close stops the watcher and releases the connection.
func (client *Client) Close() {
	client.closeOnce.Do(func() {
		close(client.closed)
		<-client.done

		client.mu.Lock()
		if client.pubChan != nil {
			_ = client.pubChan.Close()
			client.pubChan = nil
		}
		if client.conn != nil {
			_ = client.conn.Close()
			client.conn = nil
		}
		client.mu.Unlock()
	})
}

func (client *Client) connectOnce() (err error) {
	conn, err := amqp.DialConfig(client.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		client.log.Error(client.logCtx, "rabbitmq_dial_failed", "could not dial RabbitMQ", err, nil)
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() {
		if err != nil {
			_ = conn.Close()
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq open channel: %w", err)
	}

	if err = declareTopology(ch, client.exchange); err != nil {
		client.log.Error(client.logCtx, "rabbitmq_topology_failed", "could not declare topology", err, map[string]any{"exchange": client.exchange})
		return fmt.Errorf("rabbitmq topology: %w", err)
	}
	if err = ch.Confirm(false); err != nil {
		return fmt.Errorf("rabbitmq confirms: %w", err)
	}

	client.pubMu.Lock()
	client.pubConfirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	client.pubMu.Unlock()

	returns := ch.NotifyReturn(make(chan amqp.Return, 1))
	go func() {
		for r := range returns {
			client.log.Warn(client.logCtx, "rabbitmq_returned", "message was unroutable", map[string]any{
				"exchange":    r.Exchange,
				"routing_key": r.RoutingKey,
				"reply":       r.ReplyText,
			})
		}
	}()

	client.mu.Lock()
	if client.pubChan != nil && !client.pubChan.IsClosed() {
		_ = client.pubChan.Close()
	}
	client.conn = conn
	client.pubChan = ch
	client.mu.Unlock()

	go func() {
		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-client.closed:
			return
		case <-connClosed:
		case <-chClosed:
		}
		select {
		case client.reconnect <- struct{}{}:
		default:
		}
	}()

	client.log.Info(client.logCtx, "rabbitmq_connected", "RabbitMQ connection established", map[string]any{"exchange": client.exchange})
	return nil
}

// watch redials with exponential backoff capped at 30s.
func (client *Client) watch() {
	defer close(client.done)

	backoff := time.Second
	for {
		select {
		case <-client.closed:
			return
		case <-client.reconnect:
		}

		for {
			err := client.connectOnce()
			if err == nil {
				backoff = time.Second
				break
			}
			client.log.Warn(client.logCtx, "rabbitmq_retry", "reconnect failed", map[string]any{
				"error":   err.Error(),
				"backoff": backoff.String(),
			})

			select {
			case <-client.closed:
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
		}
	}
}
