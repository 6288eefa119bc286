// Package prototest provides an in-memory protocol.Peer for tests.
package prototest

import (
	"encoding/json"
	"errors"
	"sync"

	"tabletop-sync/internal/protocol"
)

var ErrPeerClosed = errors.New("peer_closed")

// Peer records every message sent to it as raw JSON.
type Peer struct {
	id          string
	participant string

	mu     sync.Mutex
	sent   [][]byte
	closed bool
	notify chan struct{}
}

func NewPeer(id, participantID string) *Peer {
	return &Peer{id: id, participant: participantID, notify: make(chan struct{}, 1024)}
}

func (p *Peer) ID() string            { return p.id }
func (p *Peer) ParticipantID() string { return p.participant }

func (p *Peer) Send(msg any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	p.sent = append(p.sent, raw)
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close makes later sends fail.
func (p *Peer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *Peer) Sent() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.sent))
	copy(out, p.sent)
	return out
}

// Types lists the type field of each recorded message in order.
func (p *Peer) Types() []string {
	var out []string
	for _, raw := range p.Sent() {
		t, _ := protocol.PeekType(raw)
		out = append(out, t)
	}
	return out
}

// Last decodes the most recent message of the given type into v.
func (p *Peer) Last(msgType string, v any) bool {
	sent := p.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if t, _ := protocol.PeekType(sent[i]); t == msgType {
			return json.Unmarshal(sent[i], v) == nil
		}
	}
	return false
}

func (p *Peer) Count(msgType string) int {
	n := 0
	for _, t := range p.Types() {
		if t == msgType {
			n++
		}
	}
	return n
}

func (p *Peer) Reset() {
	p.mu.Lock()
	p.sent = nil
	p.mu.Unlock()
}
