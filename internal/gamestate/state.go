package gamestate

import "encoding/json"

// Bag is a lifecycle-scoped key/value store. A nil Bag means the scope has
// never been written and serializes as null.
type Bag map[string]json.RawMessage

// State is the full game state shared by the authority and every participant.
// Document values are opaque to the sync layer.
type State struct {
	Documents  map[string]json.RawMessage `json:"documents"`
	Turn       Bag                        `json:"turn"`
	Session    Bag                        `json:"session"`
	Persistent Bag                        `json:"persistent"`
}

func New() State {
	return State{Documents: map[string]json.RawMessage{}}
}

func NewWithDocuments(docs map[string]json.RawMessage) State {
	s := New()
	for id, doc := range docs {
		s.Documents[id] = cloneRaw(doc)
	}
	return s
}

func (s State) Clone() State {
	out := State{
		Documents:  make(map[string]json.RawMessage, len(s.Documents)),
		Turn:       s.Turn.clone(),
		Session:    s.Session.clone(),
		Persistent: s.Persistent.clone(),
	}
	for id, doc := range s.Documents {
		out.Documents[id] = cloneRaw(doc)
	}
	return out
}

func (s State) Bag(scope Scope) Bag {
	switch scope {
	case ScopeTurn:
		return s.Turn
	case ScopeSession:
		return s.Session
	case ScopePersistent:
		return s.Persistent
	default:
		return nil
	}
}

func (s *State) setBag(scope Scope, b Bag) {
	switch scope {
	case ScopeTurn:
		s.Turn = b
	case ScopeSession:
		s.Session = b
	case ScopePersistent:
		s.Persistent = b
	}
}

func (b Bag) clone() Bag {
	if b == nil {
		return nil
	}
	out := make(Bag, len(b))
	for k, v := range b {
		out[k] = cloneRaw(v)
	}
	return out
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}

// normalized treats a nil document map as empty so both forms hash alike.
func (s State) normalized() State {
	if s.Documents == nil {
		s.Documents = map[string]json.RawMessage{}
	}
	return s
}
