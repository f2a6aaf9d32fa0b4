package monitor

import (
	"context"
	"encoding/json"
	"fmt"

	"canteen-sync/internal/app"
	"canteen-sync/internal/cli"
	"canteen-sync/internal/common/contextx"
	"canteen-sync/internal/domain/event"
	"canteen-sync/internal/general/config"
	"canteen-sync/internal/general/contracts"
	"canteen-sync/internal/general/jwt"
	"canteen-sync/internal/general/logger"
	"canteen-sync/internal/general/postgres"
	"canteen-sync/internal/general/rabbitmq"
	"canteen-sync/internal/realtime/dispatch"
	"canteen-sync/internal/software/orders"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Options struct {
	ConfigPath string
	Token      string
	UserID     string
	Role       string

	// TailQueue also consumes the kitchen display queue and logs what the
	// relay published.
	TailQueue bool
	Prefetch  int
}

func Run(ctx context.Context, opts Options) error {
	// load configuration
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Service + "-monitor")
	ctx = contextx.WithRequestID(ctx, "startup-001")

	token, err := cli.ResolveToken(firstNonEmpty(opts.Token, cfg.Auth.Token), cfg.Auth.JWTSecret, opts.UserID, opts.Role, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	var deps app.Deps

	// connect to RabbitMQ when configured
	var rmq *rabbitmq.Client
	if cfg.RabbitMQ.URL != "" {
		rmq, err = rabbitmq.Connect(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			log.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
			return err
		}
		defer rmq.Close()
		deps.Publisher = rmq
	}

	// set up the Postgres snapshot writer when configured
	if cfg.Database.URL != "" {
		pool, err := postgres.NewPool(ctx, cfg.Database.URL, log)
		if err != nil {
			log.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
			return err
		}
		defer pool.Close()

		if err := postgres.Migrate(pool); err != nil {
			log.Error(ctx, "db_schema_failed", "Failed to prepare snapshot tables", err, nil)
			return err
		}
		deps.Snapshots = postgres.NewOrderSnapshots(postgres.NewUnitOfWork(pool), postgres.NewOrderRepo())
	}

	session := app.New(cfg, deps, log)
	defer session.Close()

	logEvents(session, log)
	session.Orders().OnChange(func(ctx context.Context, c orders.Change) {
		log.Info(contextx.WithOrderID(ctx, c.Order.ID), "order_changed", "order state merged", map[string]any{
			"status":  c.Order.Status,
			"created": c.Created,
			"removed": c.Removed,
			"fields":  c.Changed,
			"source":  c.Source,
		})
	})

	if err := session.Start(ctx, jwt.StaticToken(token)); err != nil {
		log.Error(ctx, "session_start_failed", "Failed to start session", err, nil)
		return err
	}

	if opts.TailQueue && rmq != nil {
		go tail(ctx, rmq, opts.Prefetch, log)
	}

	identity, _ := session.Identity()
	log.Info(ctx, "service_started", fmt.Sprintf("Monitor started as %s (%s)", identity.UserID, identity.Role),
		map[string]any{"relay": deps.Publisher != nil, "snapshots": deps.Snapshots != nil},
	)

	<-ctx.Done()
	log.Info(context.WithoutCancel(ctx), "service_stopping", "Monitor shutting down", nil)
	return nil
}

// logEvents logs every canonical frame once, plus the connection notifications.
func logEvents(session *app.Session, log *logger.Logger) {
	types := append(dispatch.PrimaryTypes(),
		event.TypeConnected,
		event.TypeDisconnected,
		event.TypeReconnecting,
		event.TypeConnectionError,
	)
	for _, t := range types {
		session.On(t, func(ctx context.Context, ev event.Event) error {
			log.Info(ctx, "event_received", string(t), map[string]any{
				"action": ev.Action,
				"id":     ev.ID(),
				"wire":   ev.Wire,
			})
			return nil
		})
	}
}

func tail(ctx context.Context, rmq *rabbitmq.Client, prefetch int, log *logger.Logger) {
	err := rmq.Consume(ctx, contracts.QueueKitchenDisplay, "canteen-monitor", prefetch, func(ctx context.Context, d amqp.Delivery) error {
		var ev contracts.RelayedEvent
		if err := json.Unmarshal(d.Body, &ev); err != nil {
			return err
		}
		log.Info(contextx.WithRequestID(ctx, ev.CorrelationID), "kitchen_display", "relayed event", map[string]any{
			"routing_key": d.RoutingKey,
			"entity_id":   ev.EntityID,
		})
		return nil
	})
	if err != nil {
		log.Error(ctx, "kitchen_display_failed", "Kitchen display consumer stopped", err, nil)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
