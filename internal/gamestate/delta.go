package gamestate

import (
	"bytes"
	"encoding/json"
	"errors"
)

type Scope string

const (
	ScopeTurn       Scope = "turn"
	ScopeSession    Scope = "session"
	ScopePersistent Scope = "persistent"
)

var ErrUnknownScope = errors.New("unknown_scope")

// Delta describes a change to State. A null value in Documents or in one of
// the bag maps removes that key. Clear resets whole bags to absent and is
// applied before the merges.
type Delta struct {
	Documents  map[string]json.RawMessage `json:"documents,omitempty"`
	Turn       map[string]json.RawMessage `json:"turn,omitempty"`
	Session    map[string]json.RawMessage `json:"session,omitempty"`
	Persistent map[string]json.RawMessage `json:"persistent,omitempty"`
	Clear      []Scope                    `json:"clear,omitempty"`
}

func (d Delta) IsEmpty() bool {
	return len(d.Documents) == 0 && len(d.Turn) == 0 && len(d.Session) == 0 &&
		len(d.Persistent) == 0 && len(d.Clear) == 0
}

// Set records a bag write, creating the map on first use.
func (d *Delta) Set(scope Scope, key string, value json.RawMessage) error {
	m, err := d.scopeMap(scope)
	if err != nil {
		return err
	}
	m[key] = value
	return nil
}

func (d *Delta) scopeMap(scope Scope) (map[string]json.RawMessage, error) {
	var target *map[string]json.RawMessage
	switch scope {
	case ScopeTurn:
		target = &d.Turn
	case ScopeSession:
		target = &d.Session
	case ScopePersistent:
		target = &d.Persistent
	default:
		return nil, ErrUnknownScope
	}
	if *target == nil {
		*target = map[string]json.RawMessage{}
	}
	return *target, nil
}

// ApplyDelta returns a new State with d applied. state is not modified.
func ApplyDelta(state State, d Delta) (State, error) {
	out := state.Clone()
	for _, scope := range d.Clear {
		switch scope {
		case ScopeTurn, ScopeSession, ScopePersistent:
			out.setBag(scope, nil)
		default:
			return State{}, ErrUnknownScope
		}
	}
	for id, doc := range d.Documents {
		if isNull(doc) {
			delete(out.Documents, id)
			continue
		}
		out.Documents[id] = cloneRaw(doc)
	}
	merges := []struct {
		scope Scope
		set   map[string]json.RawMessage
	}{
		{ScopeTurn, d.Turn},
		{ScopeSession, d.Session},
		{ScopePersistent, d.Persistent},
	}
	for _, m := range merges {
		if len(m.set) == 0 {
			continue
		}
		bag := out.Bag(m.scope)
		if bag == nil {
			bag = Bag{}
		}
		for k, v := range m.set {
			if isNull(v) {
				delete(bag, k)
				continue
			}
			bag[k] = cloneRaw(v)
		}
		out.setBag(m.scope, bag)
	}
	return out, nil
}

func isNull(v json.RawMessage) bool {
	t := bytes.TrimSpace(v)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
