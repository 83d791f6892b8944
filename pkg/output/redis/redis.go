// Package redis keeps the latest record and a capped history in Redis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ericogr/drip/pkg/acquisition"
	"github.com/ericogr/drip/pkg/config"
	"github.com/ericogr/drip/pkg/output"
)

const (
	DefaultAddr = "localhost:6379"
	DefaultKey  = "drip"
	opTimeout   = 5 * time.Second
)

type RedisOutput struct {
	client *redis.Client
	keys   keys
	maxLen int64
	ttl    time.Duration
}

type keys struct {
	latest  string
	history string
}

func keysFor(prefix string) keys {
	return keys{
		latest:  fmt.Sprintf("%s:latest", prefix),
		history: fmt.Sprintf("%s:history", prefix),
	}
}

// NewRedis connects and pings the server.
func NewRedis(cfg *config.RedisConfig) (output.Output, error) {
	c := withDefaults(cfg)
	client := redis.NewClient(&redis.Options{
		Addr:       c.Addr,
		Password:   c.Password,
		DB:         c.DB,
		MaxRetries: 3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logrus.WithFields(logrus.Fields{"addr": c.Addr, "key": c.Key}).Info("redis output connected")

	return &RedisOutput{
		client: client,
		keys:   keysFor(c.Key),
		maxLen: c.MaxLen,
		ttl:    time.Duration(c.TTLSeconds) * time.Second,
	}, nil
}

// Publish stores the newest record under <key>:latest and pushes the batch
// onto <key>:history, newest first.
func (r *RedisOutput) Publish(records []acquisition.Record) error {
	if len(records) == 0 {
		return nil
	}
	values, err := encode(records)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.keys.latest, values[len(values)-1], r.ttl)
	if r.maxLen > 0 {
		pipe.LPush(ctx, r.keys.history, values...)
		pipe.LTrim(ctx, r.keys.history, 0, r.maxLen-1)
		if r.ttl > 0 {
			pipe.Expire(ctx, r.keys.history, r.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *RedisOutput) Name() string { return "redis" }

func (r *RedisOutput) Close() error {
	return r.client.Close()
}

func withDefaults(cfg *config.RedisConfig) config.RedisConfig {
	var c config.RedisConfig
	if cfg != nil {
		c = *cfg
	}
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Key == "" {
		c.Key = DefaultKey
	}
	return c
}

// encode marshals records in order so LPUSH leaves the newest at the head.
func encode(records []acquisition.Record) ([]interface{}, error) {
	out := make([]interface{}, 0, len(records))
	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal record: %w", err)
		}
		out = append(out, string(b))
	}
	return out, nil
}
