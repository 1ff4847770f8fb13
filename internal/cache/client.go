// File: internal/cache/client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/momentics/hioload-lua/api"
	"github.com/momentics/hioload-lua/control"
	"github.com/momentics/hioload-lua/core/concurrency"
)

const (
	DefaultEntry   = "msg_redis_result"
	DefaultTimeout = 5 * time.Second

	StatusTimeout = -1

	MetricCommands = "cache.commands"
	MetricErrors   = "cache.errors"
)

// Option customizes a Client.
type Option func(*Client)

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func WithMetrics(m api.Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithEntry overrides the script function receiving results.
func WithEntry(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.entry = name
		}
	}
}

// Client runs cache commands and reports completions on a queue.
type Client struct {
	rdb     *redis.Client
	queue   *concurrency.CommandQueue
	timeout time.Duration
	entry   string
	log     *zap.Logger
	metrics api.Metrics

	closed   atomic.Bool
	inflight sync.WaitGroup
}

// New creates a client. The connection is established lazily.
func New(cfg control.CacheConfig, queue *concurrency.CommandQueue, opts ...Option) *Client {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  timeout,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		}),
		queue:   queue,
		timeout: timeout,
		entry:   DefaultEntry,
		log:     zap.NewNop(),
		metrics: api.NopMetrics{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do sends one command; the result arrives as an AsyncResult carrying cookie.
func (c *Client) Do(cookie uint32, args ...any) error {
	if c.closed.Load() {
		return api.ErrClosed
	}
	if len(args) == 0 {
		return fmt.Errorf("cache: %w: empty command", api.ErrInvalidArgument)
	}
	args = normalizeArgs(args)
	c.metrics.Add(MetricCommands, 1)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		res, err := c.rdb.Do(ctx, args...).Result()
		c.queue.Enqueue(c.result(cookie, res, err))
	}()
	return nil
}

func (c *Client) result(cookie uint32, res any, err error) concurrency.AsyncResult {
	ev := concurrency.AsyncResult{CorrelationID: cookie, Entry: c.entry}
	if err != nil && !errors.Is(err, redis.Nil) {
		c.metrics.Add(MetricErrors, 1)
		c.log.Debug("cache command failed", zap.Uint32("cookie", cookie), zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			ev.Status = StatusTimeout
			ev.Message = "cache timeout"
			return ev
		}
	}
	ev.Value = Wrap(res, err)
	return ev
}

// Close waits for in-flight commands and releases the connection pool.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.inflight.Wait()
	return c.rdb.Close()
}

// Booleans travel as "1"/"0".
func normalizeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case bool:
			if v {
				out[i] = "1"
			} else {
				out[i] = "0"
			}
		default:
			out[i] = a
		}
	}
	return out
}
