// Package notify fans the post-commit change stream out to other processes over
// Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/openadcm/adcm/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Config addresses the Redis server.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// Enabled reports whether an address is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// RedisPublisher publishes events as JSON on one channel.
type RedisPublisher struct {
	logger  zerolog.Logger
	rdb     *goredis.Client
	channel string
	timeout time.Duration
}

// NewRedisPublisher connects and pings the server.
func NewRedisPublisher(ctx context.Context, logger zerolog.Logger, cfg Config) (*RedisPublisher, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = "adcm.events"
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisPublisher{
		logger:  logger.With().Str("component", "notify").Logger(),
		rdb:     rdb,
		channel: channel,
		timeout: 2 * time.Second,
	}, nil
}

// Publish sends one event.
func (p *RedisPublisher) Publish(ctx context.Context, ev telemetry.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return p.rdb.Publish(ctx, p.channel, raw).Err()
}

// Forward publishes every event of ep. Delivery is best effort: failures are
// logged and the event is dropped.
func (p *RedisPublisher) Forward(ep *telemetry.EventPublisher, filter telemetry.EventFilter) {
	ep.Subscribe(func(ev telemetry.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.Publish(ctx, ev); err != nil {
			p.logger.Warn().Err(err).Str("event_type", ev.Type).Str("event_id", ev.ID).Msg("Failed to forward event")
		}
	}, filter)
}

// Listen delivers events published on the channel to onEvent until ctx is done.
func (p *RedisPublisher) Listen(ctx context.Context, onEvent func(telemetry.Event)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok || m == nil {
				return nil
			}
			var ev telemetry.Event
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				p.logger.Warn().Err(err).Msg("Bad event payload")
				continue
			}
			onEvent(ev)
		}
	}
}

// Close closes the client.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
