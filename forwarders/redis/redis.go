// Package redis pushes formatted events onto a Redis list, channel or stream.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/forwarder"
	"notificationforwarder/internal/options"
	logx "notificationforwarder/pkg/logx"
)

const Name = "redis"

const (
	ModeList    = "list"
	ModePublish = "publish"
	ModeStream  = "stream"
)

type Forwarder struct {
	opts   options.Options
	log    logx.Logger
	mode   string
	key    string
	maxLen int64
	client *redis.Client
}

func New(deps forwarder.Deps) (forwarder.Forwarder, error) {
	o := deps.Options
	db, err := o.Int("db", 0)
	if err != nil {
		return nil, err
	}
	maxLen, err := o.Int("max_len", 0)
	if err != nil {
		return nil, err
	}
	timeout, err := o.Duration("timeout", 3*time.Second)
	if err != nil {
		return nil, err
	}
	mode := o.String("mode", ModeList)
	switch mode {
	case ModeList, ModePublish, ModeStream:
	default:
		return nil, fmt.Errorf("redis: unknown mode %q (want list, publish or stream)", mode)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         o.String("addr", "127.0.0.1:6379"),
		Password:     o["password"],
		DB:           db,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     2,
	})
	return &Forwarder{
		opts:   o,
		log:    deps.Log,
		mode:   mode,
		key:    o.String("key", "notificationforwarder"),
		maxLen: int64(maxLen),
		client: client,
	}, nil
}

func (f *Forwarder) Connect(ctx context.Context) error {
	if err := f.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}

// Disconnect keeps the client usable; a later Connect reuses the pool.
func (f *Forwarder) Disconnect(ctx context.Context) error { return nil }

// Close releases the connection pool.
func (f *Forwarder) Close() error { return f.client.Close() }

func (f *Forwarder) Probe(ctx context.Context) error {
	return f.Connect(ctx)
}

func (f *Forwarder) Submit(ctx context.Context, ev *event.FormattedEvent) error {
	body, _, err := forwarder.PayloadBytes(ev.Payload)
	if err != nil {
		return err
	}
	key := f.key
	if v, ok := ev.Option("key"); ok && v != "" {
		key = v
	}

	switch f.mode {
	case ModePublish:
		err = f.client.Publish(ctx, key, body).Err()
	case ModeStream:
		err = f.client.XAdd(ctx, &redis.XAddArgs{
			Stream: key,
			MaxLen: f.maxLen,
			Approx: f.maxLen > 0,
			Values: map[string]any{
				"id":      ev.ID,
				"summary": ev.Summary,
				"payload": string(body),
			},
		}).Err()
	default:
		_, err = f.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.RPush(ctx, key, body)
			if f.maxLen > 0 {
				p.LTrim(ctx, key, -f.maxLen, -1)
			}
			return nil
		})
	}
	if err != nil {
		return fmt.Errorf("redis %s %s: %w", f.mode, key, err)
	}
	f.log.Debug("redis accepted", logx.String("mode", f.mode), logx.String("key", key), logx.String("id", ev.ID))
	return nil
}
