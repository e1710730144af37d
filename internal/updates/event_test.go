package updates

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestNewChangeEventDeduplicatesScopes(t *testing.T) {
	event, err := NewChangeEvent(map[string]int{"deferred": 2}, ScopeGlobal, UserScope("1"), ScopeGlobal)
	if err != nil {
		t.Fatalf("NewChangeEvent: %v", err)
	}
	if got, want := event.Scopes(), []Scope{ScopeGlobal, UserScope("1")}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Scopes = %v, want %v", got, want)
	}
	if string(event.Payload()) != `{"deferred":2}` {
		t.Fatalf("Payload = %s", event.Payload())
	}
}

func TestNewChangeEventRejectsBadInput(t *testing.T) {
	if _, err := NewChangeEvent(1); !errors.Is(err, ErrNoScopes) {
		t.Fatalf("expected ErrNoScopes, got %v", err)
	}
	if _, err := NewChangeEvent(1, Scope("everyone")); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
	if _, err := NewRawChangeEvent(json.RawMessage(`{"broken"`), ScopeGlobal); err == nil {
		t.Fatalf("expected invalid JSON error")
	}
	if _, err := NewChangeEvent(make(chan int), ScopeGlobal); err == nil {
		t.Fatalf("expected encode error")
	}
}

func TestChangeEventPayloadIsImmutable(t *testing.T) {
	event, err := NewRawChangeEvent(json.RawMessage(`{ "a" : 1 }`), ScopeSystem)
	if err != nil {
		t.Fatalf("NewRawChangeEvent: %v", err)
	}
	payload := event.Payload()
	payload[0] = '['
	if string(event.Payload()) != `{"a":1}` {
		t.Fatalf("payload mutated through accessor: %s", event.Payload())
	}
	scopes := event.Scopes()
	scopes[0] = ScopeGlobal
	if event.Scopes()[0] != ScopeSystem {
		t.Fatalf("scopes mutated through accessor")
	}
}

func TestChangeEventJSON(t *testing.T) {
	event, err := NewChangeEvent(map[string]string{"k": "v"}, ScopeGlobal, UserScope("9"))
	if err != nil {
		t.Fatalf("NewChangeEvent: %v", err)
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(encoded) != `{"scopes":["global","user:9"],"payload":{"k":"v"}}` {
		t.Fatalf("encoded = %s", encoded)
	}

	var decoded ChangeEvent
	if err := json.Unmarshal([]byte(`{"scopes":["bogus"],"payload":{}}`), &decoded); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}
}

func TestEncodeMessageUsesScopeKind(t *testing.T) {
	frame, err := EncodeMessage(UserScope("42"), map[string]int{"assignments": 3})
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	if string(frame) != `{"type":"user","data":{"assignments":3}}` {
		t.Fatalf("frame = %s", frame)
	}
}
