package driveragent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"canteen-sync/internal/app"
	"canteen-sync/internal/cli"
	"canteen-sync/internal/common/contextx"
	"canteen-sync/internal/domain/driver"
	"canteen-sync/internal/domain/event"
	"canteen-sync/internal/general/config"
	"canteen-sync/internal/general/jwt"
	"canteen-sync/internal/general/logger"
	"canteen-sync/internal/general/positions"
	"canteen-sync/internal/general/postgres"
	"canteen-sync/internal/general/redis"
	"canteen-sync/internal/software/tracking"
)

var ErrNoPositionSource = errors.New("either --positions or both --lat and --lng are required")

type Options struct {
	ConfigPath string
	Token      string
	UserID     string

	// Positions is a CSV track replayed every Step; Lat/Lng pin a fixed point.
	Positions string
	Step      time.Duration
	Loop      bool
	Lat, Lng  *float64

	VerifyOrder string
	Code        string

	// Refresh is how often ready orders are reloaded over HTTP; 0 loads once.
	Refresh time.Duration
}

// PositionSource builds the configured position source.
func (o Options) PositionSource() (tracking.PositionSource, error) {
	switch {
	case o.Positions != "":
		replay, err := positions.LoadReplay(o.Positions, o.Step, o.Loop)
		if err != nil {
			return nil, err
		}
		return replay, nil
	case o.Lat != nil && o.Lng != nil:
		fixed, err := positions.NewFixed(*o.Lat, *o.Lng)
		if err != nil {
			return nil, err
		}
		return fixed, nil
	default:
		return nil, ErrNoPositionSource
	}
}

func Run(ctx context.Context, opts Options) error {
	// load configuration
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Service + "-driver")
	ctx = contextx.WithRequestID(ctx, "startup-001")

	token := opts.Token
	if token == "" {
		token = cfg.Auth.Token
	}
	token, err = cli.ResolveToken(token, cfg.Auth.JWTSecret, opts.UserID, "driver", cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	source, err := opts.PositionSource()
	if err != nil {
		return err
	}

	alert := tracking.AlertFunc(func(ctx context.Context, err error) {
		log.Error(ctx, "tracking_alert", "Location tracking stopped, check device permissions and GPS", err, nil)
	})
	deps := app.Deps{Positions: source, Alerter: alert}
	var archives tracking.Multi

	// archive accepted locations in Postgres when configured
	if cfg.Database.URL != "" {
		pool, err := postgres.NewPool(ctx, cfg.Database.URL, log)
		if err != nil {
			log.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
			return err
		}
		defer pool.Close()

		if err := postgres.Migrate(pool); err != nil {
			log.Error(ctx, "db_schema_failed", "Failed to prepare location history table", err, nil)
			return err
		}
		archives = append(archives, postgres.NewLocationHistoryRepo(postgres.NewUnitOfWork(pool)))
	}

	// keep the live position in the Redis GEO index when configured
	var index *redis.LocationIndex
	if cfg.Redis.URL != "" {
		client, err := redis.NewClient(ctx, cfg.Redis.URL, log)
		if err != nil {
			log.Error(ctx, "redis_connection_failed", "Failed to connect to Redis", err, nil)
			return err
		}
		defer client.Close()

		index = redis.NewLocationIndex(client)
		archives = append(archives, index)
	}

	switch len(archives) {
	case 0:
	case 1:
		deps.LocationArchive = archives[0]
	default:
		deps.LocationArchive = archives
	}

	session := app.New(cfg, deps, log)
	defer session.Close()

	session.On(event.TypeOrderReadyForPickup, func(ctx context.Context, ev event.Event) error {
		log.Info(ctx, "order_ready", "Order ready for pickup", map[string]any{"order_id": ev.ID()})
		return nil
	})
	session.On(event.TypeDeliveryAssigned, func(ctx context.Context, ev event.Event) error {
		log.Info(ctx, "delivery_assigned", "Delivery assigned", map[string]any{"order_id": ev.ID()})
		return nil
	})

	if err := session.Start(ctx, jwt.StaticToken(token)); err != nil {
		log.Error(ctx, "session_start_failed", "Failed to start session", err, nil)
		return err
	}
	identity, _ := session.Identity()
	if !identity.Role.IsDriver() {
		return fmt.Errorf("%w: token role is %s", app.ErrNotDriver, identity.Role)
	}

	if _, err := session.SetDriverStatus(ctx, driver.StatusAvailable); err != nil {
		log.Warn(ctx, "driver_status_failed", "Could not mark driver available", map[string]any{"error": err.Error()})
	}

	if err := session.StartTracking(ctx); err != nil {
		return err
	}

	refresh(ctx, session, log)

	if opts.VerifyOrder != "" {
		verify(ctx, session, opts.VerifyOrder, opts.Code, log)
	}

	log.Info(ctx, "service_started", fmt.Sprintf("Driver agent started as %s", identity.UserID),
		map[string]any{"transport": cfg.Tracking.Transport, "interval": cfg.Tracking.Interval.String()},
	)

	var tick <-chan time.Time
	if opts.Refresh > 0 {
		ticker := time.NewTicker(opts.Refresh)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			stopCtx := context.WithoutCancel(ctx)
			session.StopTracking()
			if _, err := session.SetDriverStatus(stopCtx, driver.StatusOffline); err != nil {
				log.Warn(stopCtx, "driver_status_failed", "Could not mark driver offline", map[string]any{"error": err.Error()})
			}
			if index != nil {
				if err := index.Remove(stopCtx, identity.UserID); err != nil {
					log.Warn(stopCtx, "redis_remove_failed", "Could not drop driver from the location index", map[string]any{"error": err.Error()})
				}
			}
			log.Info(stopCtx, "service_stopping", "Driver agent shutting down", nil)
			return nil
		case <-tick:
			refresh(ctx, session, log)
		}
	}
}

func refresh(ctx context.Context, session *app.Session, log *logger.Logger) {
	ready, err := session.RefreshReadyOrders(ctx)
	if err != nil {
		log.Warn(ctx, "ready_orders_failed", "Could not load ready orders", map[string]any{"error": err.Error()})
		return
	}
	ids := make([]string, 0, len(ready))
	for _, o := range ready {
		ids = append(ids, o.ID)
	}
	log.Info(ctx, "ready_orders", fmt.Sprintf("%d orders waiting", len(ready)), map[string]any{"orders": ids})
}

func verify(ctx context.Context, session *app.Session, orderID, code string, log *logger.Logger) {
	ctx = contextx.WithOrderID(ctx, orderID)
	out, err := session.VerifyPickup(ctx, orderID, code)
	if err != nil {
		log.Error(ctx, "pickup_failed", "Pickup verification failed", err, nil)
		return
	}
	details := map[string]any{"message": out.Message}
	if out.Order != nil {
		details["status"] = out.Order.Status
	}
	log.Info(ctx, "pickup_done", "Pickup verified", details)
}
