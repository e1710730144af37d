package updates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSendTimeout     = 5 * time.Second
	DefaultSnapshotTimeout = 10 * time.Second
	DefaultOutboxSize      = 64

	minOutboxSize = 4
)

// Publisher delivers change events. The Service is one; a cross-instance
// relay is another.
type Publisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSendTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.sendTimeout = timeout
		}
	}
}

func WithSnapshotTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.snapshotTimeout = timeout
		}
	}
}

func WithOutboxSize(size int) Option {
	return func(s *Service) {
		s.outboxSize = max(size, minOutboxSize)
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(s *Service) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithRelay routes NotifyChange and Refresh through relay instead of the
// local broadcaster. The relay is expected to feed every instance,
// including this one, back into Publish.
func WithRelay(relay Publisher) Option {
	return func(s *Service) {
		s.relay = relay
	}
}

// Service accepts client connections and keeps them up to date.
type Service struct {
	snapshots       SnapshotBuilder
	logger          *zap.Logger
	metrics         *Metrics
	relay           Publisher
	sendTimeout     time.Duration
	snapshotTimeout time.Duration
	outboxSize      int

	registry    *Registry
	broadcaster *Broadcaster

	mu      sync.Mutex
	closed  bool
	writers sync.WaitGroup
}

func New(snapshots SnapshotBuilder, opts ...Option) *Service {
	s := &Service{
		snapshots:       snapshots,
		logger:          zap.NewNop(),
		sendTimeout:     DefaultSendTimeout,
		snapshotTimeout: DefaultSnapshotTimeout,
		outboxSize:      DefaultOutboxSize,
		registry:        NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	s.broadcaster = NewBroadcaster(s.registry, s.logger, s.metrics)
	return s
}

func (s *Service) Registry() *Registry {
	return s.registry
}

// Accept takes ownership of transport. It returns once the connection is
// active with its snapshots queued, or closed. An identity without scopes
// is closed straight away and gets ErrUnauthenticated.
func (s *Service) Accept(ctx context.Context, identity *Identity, transport Transport) (*Conn, error) {
	c, err := s.newConn(identity, transport)
	if err != nil {
		_ = transport.Close(CloseGoingAway)
		return nil, err
	}

	scopes := Classify(identity)
	c.hold(scopes)
	if len(scopes) == 0 {
		c.CloseWithReason(CloseUnauthenticated, ErrUnauthenticated)
		return nil, ErrUnauthenticated
	}

	if err := s.registry.Register(c, scopes); err != nil {
		reason := CloseTransportError
		if errors.Is(err, ErrServiceClosed) {
			reason = CloseGoingAway
		}
		c.CloseWithReason(reason, err)
		return nil, err
	}

	snapshots, err := s.buildSnapshots(ctx, scopes)
	if err != nil {
		c.CloseWithReason(CloseSnapshotFailed, err)
		return nil, err
	}
	if err := c.activate(snapshots); err != nil {
		if errors.Is(err, ErrSlowConsumer) {
			c.CloseWithReason(CloseSlowConsumer, err)
		}
		return nil, err
	}
	s.metrics.ActiveConnections.Inc()
	s.logger.Debug("update connection active",
		zap.String("conn_id", c.ID()),
		zap.String("user_id", identity.UserID),
		zap.Int("scopes", len(scopes)),
	)
	return c, nil
}

func (s *Service) newConn(identity *Identity, transport Transport) (*Conn, error) {
	c := &Conn{
		id:          uuid.NewString(),
		identity:    identity,
		transport:   transport,
		sendTimeout: s.sendTimeout,
		onClose:     s.onClose,
		onWrite:     s.onWrite,
		progress:    make(chan struct{}),
		outbox:      make(chan []byte, s.outboxSize),
		done:        make(chan struct{}),
		released:    make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrServiceClosed
	}
	s.writers.Add(1)
	go func() {
		defer s.writers.Done()
		c.writeLoop()
	}()
	return c, nil
}

// buildSnapshots builds every scope concurrently and returns the frames in
// scope order.
func (s *Service) buildSnapshots(ctx context.Context, scopes []Scope) ([][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.snapshotTimeout)
	defer cancel()

	frames := make([][]byte, len(scopes))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, scope := range scopes {
		group.Go(func() error {
			frame, err := s.snapshots.BuildSnapshot(groupCtx, scope)
			if err != nil {
				s.metrics.SnapshotFailures.WithLabelValues(scope.Kind()).Inc()
				return fmt.Errorf("snapshot %s: %w", scope, err)
			}
			frames[i] = frame
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return frames, nil
}

func (s *Service) onClose(c *Conn, prev State, reason CloseReason, cause error) {
	s.registry.Unregister(c)
	if prev == StateActive {
		s.metrics.ActiveConnections.Dec()
	}
	s.metrics.Evictions.WithLabelValues(reason.String()).Inc()

	fields := []zap.Field{
		zap.String("conn_id", c.ID()),
		zap.String("state", prev.String()),
		zap.String("reason", reason.String()),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	switch reason {
	case CloseSlowConsumer, CloseTransportError, CloseSnapshotFailed:
		s.logger.Warn("update connection closed", fields...)
	default:
		s.logger.Debug("update connection closed", fields...)
	}
}

func (s *Service) onWrite(*Conn) {
	s.metrics.MessagesSent.Inc()
}

// Publish fans event out to the connections of this process.
func (s *Service) Publish(ctx context.Context, event ChangeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isClosed() {
		return ErrServiceClosed
	}
	s.broadcaster.Publish(event)
	return nil
}

// NotifyChange publishes event through the relay when one is configured and
// locally otherwise.
func (s *Service) NotifyChange(ctx context.Context, event ChangeEvent) error {
	if s.isClosed() {
		return ErrServiceClosed
	}
	if s.relay != nil {
		return s.relay.Publish(ctx, event)
	}
	return s.Publish(ctx, event)
}

// Refresh rebuilds the snapshot of every scope and sends it to the
// connections subscribed to it.
func (s *Service) Refresh(ctx context.Context, scopes ...Scope) error {
	if s.relay == nil {
		scopes = s.subscribed(scopes)
	}
	if len(scopes) == 0 {
		return nil
	}
	frames, err := s.buildSnapshots(ctx, scopes)
	if err != nil {
		return err
	}
	var errs []error
	for i, scope := range scopes {
		event, err := NewRawChangeEvent(json.RawMessage(frames[i]), scope)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.NotifyChange(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", scope, err))
		}
	}
	return errors.Join(errs...)
}

// subscribed drops the scopes nobody on this process listens to.
func (s *Service) subscribed(scopes []Scope) []Scope {
	kept := make([]Scope, 0, len(scopes))
	for _, scope := range scopes {
		if s.registry.ScopeLen(scope) > 0 {
			kept = append(kept, scope)
		}
	}
	return kept
}

// Flush waits until every frame queued so far has been written.
func (s *Service) Flush(ctx context.Context) error {
	return s.broadcaster.Flush(ctx)
}

// Reset closes every connection. The service keeps accepting new ones.
func (s *Service) Reset() int {
	return len(s.registry.Clear())
}

// Shutdown closes every connection, refuses new ones and waits for the
// writer goroutines to finish.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	closed := s.registry.Close()
	s.logger.Info("update service shutting down", zap.Int("connections", len(closed)))

	done := make(chan struct{})
	go func() {
		s.writers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
