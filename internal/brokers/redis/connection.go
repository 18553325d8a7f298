// Package redis provides a transacted queue transport on plain Redis lists using the
// reliable-queue pattern. A receive atomically moves the item into a per-session
// processing list; commit applies all staged sends and drops the processed item in one
// MULTI/EXEC, and rollback moves the item back to the consuming end of its queue.
//
// Opening a consumer returns to the queue every processing list of that queue not
// held by a live session of this connection, so items survive a crash even when the
// next process runs fewer workers. One router process per Redis database is assumed.
package redis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"queue-router/internal/brokers"
	"queue-router/internal/common/errors"
	"queue-router/internal/common/logging"
)

// Connection shares one pooled client between all sessions
type Connection struct {
	client *redis.Client
	logger logging.Logger

	mu      sync.Mutex
	claimed map[string]bool
}

// NewConnection wraps a connected client
func NewConnection(client *redis.Client) *Connection {
	return &Connection{
		client: client,
		logger: logging.WithFields(
			logging.String("component", "redis"),
		),
		claimed: make(map[string]bool),
	}
}

// Name implements brokers.Connection
func (c *Connection) Name() string {
	return BrokerType
}

// NewSession implements brokers.Connection. Session names must be stable across
// restarts for crash recovery of in-flight messages.
func (c *Connection) NewSession(ctx context.Context, name string) (brokers.Session, error) {
	return &Session{
		name:   name,
		conn:   c,
		client: c.client,
		logger: c.logger.WithFields(logging.String("session", name)),
	}, nil
}

// claim marks processing as held by a live session and moves the items of every
// unheld processing list of queue, processing included, back to queue
func (c *Connection) claim(ctx context.Context, queue, processing string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.claimed[processing] = true

	var keys []string
	iter := c.client.Scan(ctx, 0, ProcessingKey(globEscaper.Replace(queue), "*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if key != processing && c.claimed[key] {
			continue
		}
		keys = append(keys, key)
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}

	recovered := 0
	for _, key := range keys {
		orphans, err := c.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return recovered, err
		}
		if len(orphans) == 0 {
			continue
		}

		// the processing list is newest first; pushing in that order puts the oldest
		// orphan at the consuming end
		_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, item := range orphans {
				pipe.RPush(ctx, queue, item)
			}
			pipe.Del(ctx, key)
			return nil
		})
		if err != nil {
			return recovered, err
		}
		recovered += len(orphans)
	}
	return recovered, nil
}

func (c *Connection) release(processing string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claimed, processing)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// Health pings the server
func (c *Connection) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return errors.ConnectionError("redis ping failed", err)
	}
	return nil
}

// Close closes the client pool
func (c *Connection) Close() error {
	return c.client.Close()
}
