// Package redisbus stores the latest replicated snapshot in Redis and
// broadcasts changes with PUBLISH, so members can join late with a GET.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/tomz197/skirmish/internal/logging"
	"github.com/tomz197/skirmish/internal/replication"
)

const (
	defaultTTL   = 10 * time.Minute
	writeTimeout = 3 * time.Second
)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// Bus writes snapshots from a single background goroutine. PublishState only
// hands over the latest snapshot, so the session loop never waits on Redis.
type Bus struct {
	client  *redis.Client
	key     string
	channel string
	ttl     time.Duration
	log     *log.Logger
	outbox  chan replication.Snapshot
}

// Compile-time check that Bus implements replication.Transport.
var _ replication.Transport = (*Bus)(nil)

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// Key returns the key holding the latest snapshot of a session.
func Key(prefix, sessionID string) string {
	return prefix + ":" + sessionID + ":state"
}

// Channel returns the pub/sub channel of a session.
func Channel(prefix, sessionID string) string {
	return prefix + ":" + sessionID + ":updates"
}

// New creates a bus for one session.
func New(client *redis.Client, prefix, sessionID string, l *log.Logger) *Bus {
	if l == nil {
		l = logging.Discard()
	}
	return &Bus{
		client:  client,
		key:     Key(prefix, sessionID),
		channel: Channel(prefix, sessionID),
		ttl:     defaultTTL,
		log:     l,
		outbox:  make(chan replication.Snapshot, 1),
	}
}

// PublishState implements replication.Transport.
func (b *Bus) PublishState(_ context.Context, s replication.Snapshot) error {
	// Replace any snapshot the writer has not picked up yet
	select {
	case <-b.outbox:
	default:
	}
	select {
	case b.outbox <- s:
	default:
	}
	return nil
}

// Run writes queued snapshots until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-b.outbox:
			if err := b.write(ctx, s); err != nil {
				b.log.Warn("Failed to write session state", "key", b.key, "seq", s.Seq, "err", err)
			}
		}
	}
}

func (b *Bus) write(ctx context.Context, s replication.Snapshot) error {
	data, err := replication.Encode(s)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err = b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.key, data, b.ttl)
		pipe.Publish(ctx, b.channel, data)
		return nil
	})
	return err
}

// Latest reads the stored snapshot. Returns false if none is stored.
func (b *Bus) Latest(ctx context.Context) (replication.Snapshot, bool, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return replication.Snapshot{}, false, nil
	}
	if err != nil {
		return replication.Snapshot{}, false, fmt.Errorf("get %s: %w", b.key, err)
	}
	s, err := replication.Decode(data)
	if err != nil {
		return replication.Snapshot{}, false, err
	}
	return s, true, nil
}

// Follow feeds published snapshots into mirror until ctx is done. The stored
// snapshot is applied once the subscription is confirmed.
func (b *Bus) Follow(ctx context.Context, mirror *replication.Mirror) error {
	ps := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = ps.Close() }()

	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	if s, ok, err := b.Latest(ctx); err != nil {
		b.log.Warn("Failed to read stored session state", "key", b.key, "err", err)
	} else if ok {
		mirror.Apply(s)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s, err := replication.Decode([]byte(msg.Payload))
			if err != nil {
				b.log.Warn("Dropping malformed snapshot", "channel", msg.Channel, "err", err)
				continue
			}
			mirror.Apply(s)
		}
	}
}
