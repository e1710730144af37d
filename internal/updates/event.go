package updates

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ChangeEvent is an immutable update addressed to one or more scopes. The
// payload is encoded once and pushed to every matching connection as-is.
type ChangeEvent struct {
	scopes  []Scope
	payload []byte
}

func NewChangeEvent(payload any, scopes ...Scope) (ChangeEvent, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("encode change payload: %w", err)
	}
	return newEvent(encoded, scopes)
}

// NewRawChangeEvent wraps an already encoded JSON document.
func NewRawChangeEvent(payload json.RawMessage, scopes ...Scope) (ChangeEvent, error) {
	if !json.Valid(payload) {
		return ChangeEvent{}, fmt.Errorf("change payload is not valid JSON")
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err != nil {
		return ChangeEvent{}, fmt.Errorf("compact change payload: %w", err)
	}
	return newEvent(compact.Bytes(), scopes)
}

func newEvent(payload []byte, scopes []Scope) (ChangeEvent, error) {
	unique := make([]Scope, 0, len(scopes))
	seen := make(map[Scope]struct{}, len(scopes))
	for _, scope := range scopes {
		if _, err := ParseScope(string(scope)); err != nil {
			return ChangeEvent{}, err
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		unique = append(unique, scope)
	}
	if len(unique) == 0 {
		return ChangeEvent{}, ErrNoScopes
	}
	return ChangeEvent{scopes: unique, payload: payload}, nil
}

func (e ChangeEvent) Scopes() []Scope {
	return append([]Scope(nil), e.scopes...)
}

func (e ChangeEvent) Payload() json.RawMessage {
	return append(json.RawMessage(nil), e.payload...)
}

type eventWire struct {
	Scopes  []Scope         `json:"scopes"`
	Payload json.RawMessage `json:"payload"`
}

func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventWire{Scopes: e.scopes, Payload: e.payload})
}

func (e *ChangeEvent) UnmarshalJSON(data []byte) error {
	var wire eventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	decoded, err := NewRawChangeEvent(wire.Payload, wire.Scopes...)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

// Message is the envelope of every frame written to a client.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// EncodeMessage builds the wire frame for data addressed to scope.
func EncodeMessage(scope Scope, data any) (json.RawMessage, error) {
	encoded, err := json.Marshal(Message{Type: scope.Kind(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", scope.Kind(), err)
	}
	return encoded, nil
}
