// Package relay carries change events between API instances so that every
// instance can push them to its own connections.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"moderator/api/internal/updates"
)

const DefaultChannel = "moderator:updates"

// envelope is the pub/sub message body.
type envelope struct {
	Origin string              `json:"origin"`
	SentAt time.Time           `json:"sentAt"`
	Event  updates.ChangeEvent `json:"event"`
}

// Redis publishes change events on a Redis channel.
type Redis struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *zap.Logger
}

// NewRedis connects to redisURL and checks the connection.
func NewRedis(redisURL, channel string, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisWithClient(client, channel, logger), nil
}

func NewRedisWithClient(client *redis.Client, channel string, logger *zap.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// Origin identifies this instance in published envelopes.
func (r *Redis) Origin() string {
	return r.origin
}

func (r *Redis) Publish(ctx context.Context, event updates.ChangeEvent) error {
	body, err := json.Marshal(envelope{Origin: r.origin, SentAt: time.Now().UTC(), Event: event})
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// Listener is a live subscription to the relay channel.
type Listener struct {
	pubsub *redis.PubSub
	logger *zap.Logger
}

// Listen subscribes to the relay channel and returns once Redis has
// confirmed the subscription.
func (r *Redis) Listen(ctx context.Context) (*Listener, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	return &Listener{pubsub: pubsub, logger: r.logger}, nil
}

// Forward hands every received event to sink until ctx is done or the
// subscription is closed. Malformed messages are logged and skipped.
func (l *Listener) Forward(ctx context.Context, sink updates.Publisher) error {
	messages := l.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				l.logger.Warn("dropping malformed relay message", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if err := sink.Publish(ctx, env.Event); err != nil {
				if errors.Is(err, updates.ErrServiceClosed) {
					return nil
				}
				l.logger.Error("forward relay event", zap.String("origin", env.Origin), zap.Error(err))
			}
		}
	}
}

func (l *Listener) Close() error {
	return l.pubsub.Close()
}

// Run subscribes and forwards into sink until ctx is done.
func (r *Redis) Run(ctx context.Context, sink updates.Publisher) error {
	listener, err := r.Listen(ctx)
	if err != nil {
		return err
	}
	defer listener.Close()
	return listener.Forward(ctx, sink)
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
