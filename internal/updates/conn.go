package updates

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type State int32

const (
	StateConnecting State = iota
	StatePending
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// CloseReason tells the transport which close frame to send and is the label
// used for eviction metrics.
type CloseReason int

const (
	CloseNormal CloseReason = iota
	CloseUnauthenticated
	CloseSlowConsumer
	CloseTransportError
	CloseSnapshotFailed
	CloseGoingAway
)

func (r CloseReason) String() string {
	switch r {
	case CloseNormal:
		return "normal"
	case CloseUnauthenticated:
		return "unauthenticated"
	case CloseSlowConsumer:
		return "slow_consumer"
	case CloseTransportError:
		return "transport_error"
	case CloseSnapshotFailed:
		return "snapshot_failed"
	case CloseGoingAway:
		return "going_away"
	default:
		return "unknown"
	}
}

// Transport is the outbound half of a client channel. WriteMessage must give
// up when ctx expires. Close is called exactly once, from the connection's
// writer goroutine.
type Transport interface {
	WriteMessage(ctx context.Context, data []byte) error
	Close(reason CloseReason) error
}

// Conn is one client channel. It owns its transport: all writes and the
// final close happen on a single writer goroutine, in enqueue order.
type Conn struct {
	id          string
	identity    *Identity
	transport   Transport
	sendTimeout time.Duration
	onClose     func(c *Conn, prev State, reason CloseReason, cause error)
	onWrite     func(c *Conn)

	state  atomic.Int32
	scopes []Scope

	mu        sync.Mutex
	activated bool
	closed    bool
	reason    CloseReason
	held      [][]byte
	enqueued  uint64
	delivered uint64
	progress  chan struct{}

	outbox    chan []byte
	done      chan struct{}
	released  chan struct{}
	closeOnce sync.Once
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Identity() *Identity {
	return c.identity
}

// Scopes returns the scopes computed at registration.
func (c *Conn) Scopes() []Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Scope(nil), c.scopes...)
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

// Done is closed when the connection enters the closed state.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Released is closed once the writer goroutine has closed the transport.
func (c *Conn) Released() <-chan struct{} {
	return c.released
}

// Close closes the connection after a client-initiated close. It is safe to
// call more than once.
func (c *Conn) Close() {
	c.CloseWithReason(CloseNormal, nil)
}

func (c *Conn) CloseWithReason(reason CloseReason, cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.reason = reason
		c.held = nil
		c.mu.Unlock()

		prev := State(c.state.Swap(int32(StateClosed)))
		close(c.done)
		if c.onClose != nil {
			c.onClose(c, prev, reason, cause)
		}
	})
}

func (c *Conn) closeReason() CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Conn) setState(next State) {
	c.state.CompareAndSwap(int32(next-1), int32(next))
}

// enqueue accepts a frame without blocking. While the connection is pending
// frames are held back so that the snapshots go out first.
func (c *Conn) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if !c.activated {
		if len(c.scopes)+len(c.held) >= cap(c.outbox) {
			return ErrSlowConsumer
		}
		c.held = append(c.held, data)
		c.enqueued++
		return nil
	}
	select {
	case c.outbox <- data:
		c.enqueued++
		return nil
	default:
		return ErrSlowConsumer
	}
}

// hold moves the connection to pending with one snapshot slot per scope
// counted as already accepted, so a flush taken while pending also waits
// for the snapshots that will be written ahead of any held frame.
func (c *Conn) hold(scopes []Scope) {
	c.mu.Lock()
	c.scopes = append([]Scope(nil), scopes...)
	c.enqueued += uint64(len(scopes))
	c.mu.Unlock()
	c.setState(StatePending)
}

// activate queues the snapshots ahead of anything held while pending and
// moves the connection to active.
func (c *Conn) activate(snapshots [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if len(snapshots) != len(c.scopes) {
		return fmt.Errorf("got %d snapshots for %d scopes", len(snapshots), len(c.scopes))
	}
	if len(snapshots)+len(c.held) > cap(c.outbox) {
		return ErrSlowConsumer
	}
	for _, snapshot := range snapshots {
		c.outbox <- snapshot
	}
	for _, data := range c.held {
		c.outbox <- data
	}
	c.held = nil
	c.activated = true
	c.setState(StateActive)
	return nil
}

// mark returns the number of frames accepted so far; waitDelivered(mark)
// returns once all of them have been written.
func (c *Conn) mark() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueued
}

func (c *Conn) waitDelivered(ctx context.Context, target uint64) error {
	for {
		c.mu.Lock()
		if c.delivered >= target || c.closed {
			c.mu.Unlock()
			return nil
		}
		progress := c.progress
		c.mu.Unlock()

		select {
		case <-progress:
		case <-c.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) writeLoop() {
	defer close(c.released)
	defer func() {
		_ = c.transport.Close(c.closeReason())
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbox:
			select {
			case <-c.done:
				return
			default:
			}
			if err := c.write(data); err != nil {
				reason := CloseTransportError
				if isTimeout(err) {
					reason = CloseSlowConsumer
					err = fmt.Errorf("%w: %w", ErrSlowConsumer, err)
				} else {
					err = fmt.Errorf("%w: %w", ErrTransport, err)
				}
				c.CloseWithReason(reason, err)
				return
			}
		}
	}
}

func (c *Conn) write(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
	defer cancel()
	if err := c.transport.WriteMessage(ctx, data); err != nil {
		return err
	}

	c.mu.Lock()
	c.delivered++
	close(c.progress)
	c.progress = make(chan struct{})
	c.mu.Unlock()

	if c.onWrite != nil {
		c.onWrite(c)
	}
	return nil
}
