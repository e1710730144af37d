package updates

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"moderator/api/internal/rbac"
)

type fakeTransport struct {
	writeFn func(ctx context.Context, data []byte) error

	mu       sync.Mutex
	messages [][]byte
	reason   CloseReason
	closes   int
	closed   chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closed: make(chan struct{})}
}

func (f *fakeTransport) WriteMessage(ctx context.Context, data []byte) error {
	if f.writeFn != nil {
		if err := f.writeFn(ctx, data); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeTransport) Close(reason CloseReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.reason = reason
	if f.closes == 1 {
		close(f.closed)
	}
	return nil
}

// types returns the envelope type of every message written so far.
func (f *fakeTransport) types(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.messages))
	for _, raw := range f.messages {
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("message %s is not an envelope: %v", raw, err)
		}
		out = append(out, msg.Type)
	}
	return out
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeTransport) waitCount(t *testing.T, n int, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for f.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("got %d messages within %v, want %d", f.count(), within, n)
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeTransport) closeReason() CloseReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

func (f *fakeTransport) waitClosed(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case <-f.closed:
	case <-time.After(within):
		t.Fatalf("transport not closed within %v", within)
	}
}

// echoSnapshots answers every scope with {"type":<kind>,"data":{"scope":<scope>}}.
var echoSnapshots = SnapshotFunc(func(_ context.Context, scope Scope) (json.RawMessage, error) {
	return EncodeMessage(scope, map[string]string{"scope": string(scope)})
})

func newTestService(t *testing.T, snapshots SnapshotBuilder, opts ...Option) *Service {
	t.Helper()
	s := New(snapshots, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func flush(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func moderator(id string) *Identity {
	return &Identity{UserID: id, Name: "moderator " + id, Role: rbac.RoleGeneral}
}

func administrator(id string) *Identity {
	return &Identity{UserID: id, Name: "admin " + id, Role: rbac.RoleAdmin}
}

func mustEvent(t *testing.T, payload any, scopes ...Scope) ChangeEvent {
	t.Helper()
	event, err := NewChangeEvent(payload, scopes...)
	if err != nil {
		t.Fatalf("NewChangeEvent: %v", err)
	}
	return event
}

// newBareConn builds a connection without a writer goroutine, for registry
// tests.
func newBareConn(id string) *Conn {
	return &Conn{
		id:       id,
		progress: make(chan struct{}),
		outbox:   make(chan []byte, minOutboxSize),
		done:     make(chan struct{}),
		released: make(chan struct{}),
	}
}
