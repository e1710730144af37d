package updates

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Broadcaster fans change events out to the connections of a Registry.
// Publish calls are serialised, so every connection sees events in call
// order.
type Broadcaster struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *Metrics

	mu sync.Mutex
}

func NewBroadcaster(registry *Registry, logger *zap.Logger, metrics *Metrics) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Broadcaster{registry: registry, logger: logger, metrics: metrics}
}

// Publish queues event for every connection registered under one of its
// scopes and returns how many connections accepted it. A connection
// subscribed to several of the scopes gets the event once. A connection
// whose outbox is full is evicted; nothing is reported to the caller.
func (b *Broadcaster) Publish(event ChangeEvent) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	targets := make(map[*Conn]struct{})
	var ordered []*Conn
	for _, scope := range event.scopes {
		b.registry.ForEachInScope(scope, func(c *Conn) {
			if _, ok := targets[c]; ok {
				return
			}
			targets[c] = struct{}{}
			ordered = append(ordered, c)
		})
	}

	b.metrics.EventsPublished.Inc()
	accepted := 0
	for _, c := range ordered {
		err := c.enqueue(event.payload)
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrSlowConsumer):
			b.logger.Warn("evicting slow consumer",
				zap.String("conn_id", c.ID()),
				zap.Int("outbox", cap(c.outbox)),
			)
			c.CloseWithReason(CloseSlowConsumer, err)
		case errors.Is(err, ErrConnectionClosed):
		default:
			b.logger.Error("enqueue change event", zap.String("conn_id", c.ID()), zap.Error(err))
		}
	}
	return accepted
}

// Flush returns once every frame queued before the call has been written or
// its connection has closed.
func (b *Broadcaster) Flush(ctx context.Context) error {
	b.mu.Lock()
	conns := b.registry.Conns()
	marks := make([]uint64, len(conns))
	for i, c := range conns {
		marks[i] = c.mark()
	}
	b.mu.Unlock()

	for i, c := range conns {
		if err := c.waitDelivered(ctx, marks[i]); err != nil {
			return err
		}
	}
	return nil
}
