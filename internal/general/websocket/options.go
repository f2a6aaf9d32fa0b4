package websocket

import (
	"time"

	"canteen-sync/internal/general/config"
)

type Options struct {
	URL                  string
	ConnectTimeout       time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
	PongWait             time.Duration
	WriteWait            time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		URL:                  cfg.Backend.WSURL,
		ConnectTimeout:       cfg.Realtime.ConnectTimeout,
		ReconnectDelay:       cfg.Realtime.ReconnectDelay,
		MaxReconnectDelay:    cfg.Realtime.MaxReconnectDelay,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		PongWait:             cfg.Realtime.PongWait,
		WriteWait:            cfg.Realtime.WriteWait,
	}
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 20 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.MaxReconnectDelay < o.ReconnectDelay {
		o.MaxReconnectDelay = o.ReconnectDelay
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}
