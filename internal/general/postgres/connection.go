package postgres

import (
	"context"
	"fmt"
	"time"

	"canteen-sync/internal/general/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool parses dsn, tunes the pool, verifies connectivity and returns it.
func NewPool(ctx context.Context, dsn string, log *logger.Logger) (*pgxpool.Pool, error) {
	if log == nil {
		log = logger.Discard()
	}
	start := time.Now()

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres parse dsn: %w", err)
	}

	// never log the password
	log.Info(ctx, "db_config_check", "effective DB connection parameters", map[string]any{
		"host":           pcfg.ConnConfig.Host,
		"port":           pcfg.ConnConfig.Port,
		"user":           pcfg.ConnConfig.User,
		"database":       pcfg.ConnConfig.Database,
		"password_empty": pcfg.ConnConfig.Password == "",
	})

	pcfg.ConnConfig.ConnectTimeout = 5 * time.Second
	if pcfg.ConnConfig.RuntimeParams == nil {
		pcfg.ConnConfig.RuntimeParams = make(map[string]string, 1)
	}
	pcfg.ConnConfig.RuntimeParams["timezone"] = "UTC"
	pcfg.HealthCheckPeriod = 30 * time.Second
	pcfg.MaxConnIdleTime = 5 * time.Minute
	pcfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	log.Info(ctx, "db_connected", "connected to PostgreSQL", map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return pool, nil
}
