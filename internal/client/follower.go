package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"tabletop-sync/internal/broadcast"
	"tabletop-sync/internal/gamestate"
	"tabletop-sync/internal/protocol"

	"github.com/rs/zerolog/log"
)

var ErrFollowerClosed = errors.New("follower_closed")

// Follower is the participant-side runtime. It keeps a verified replica of
// the session state, requests resyncs on any divergence and matches action
// results to submitted requests.
type Follower struct {
	conn    Conn
	replica *broadcast.Replica

	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[string]chan protocol.ActionResult
	closed    bool
	onChange  func(state gamestate.State, version string)
	authority bool
}

func NewFollower(conn Conn, sessionID string) *Follower {
	return &Follower{
		conn:    conn,
		replica: broadcast.NewReplica(sessionID),
		pending: map[string]chan protocol.ActionResult{},
	}
}

// OnChange registers fn to run after every accepted update or snapshot.
// It must be set before Run.
func (f *Follower) OnChange(fn func(state gamestate.State, version string)) {
	f.onChange = fn
}

func (f *Follower) Replica() *broadcast.Replica { return f.replica }

// AuthorityConnected reports the last known authority status.
func (f *Follower) AuthorityConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authority
}

// Submit sends an action request and waits for its result. The server
// guarantees exactly one result per accepted request.
func (f *Follower) Submit(ctx context.Context, req protocol.ActionRequest) (protocol.ActionResult, error) {
	req.Type = protocol.TypeActionRequest
	ch := make(chan protocol.ActionResult, 1)
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return protocol.ActionResult{}, ErrFollowerClosed
	}
	f.pending[req.ID] = ch
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.pending, req.ID)
		f.mu.Unlock()
	}()

	if err := f.write(req); err != nil {
		return protocol.ActionResult{}, err
	}
	select {
	case res, ok := <-ch:
		if !ok {
			return protocol.ActionResult{}, ErrFollowerClosed
		}
		return res, nil
	case <-ctx.Done():
		return protocol.ActionResult{}, ctx.Err()
	}
}

func (f *Follower) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = f.conn.Close() })
	defer stop()
	defer f.shutdown()

	for {
		_, raw, err := f.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if done := f.handle(raw); done {
			return nil
		}
	}
}

func (f *Follower) handle(raw []byte) bool {
	typ, err := protocol.PeekType(raw)
	if err != nil {
		return false
	}
	switch typ {
	case protocol.TypeSessionJoined:
		var joined protocol.SessionJoined
		if err := json.Unmarshal(raw, &joined); err != nil {
			return false
		}
		f.setAuthority(joined.AuthorityConnected)
		if !gamestate.SameVersion(joined.Version, f.replica.Version()) {
			f.replica.MarkStale()
			f.requestResync()
		}
	case protocol.TypeStateUpdate:
		var upd protocol.StateUpdate
		if err := json.Unmarshal(raw, &upd); err != nil {
			return false
		}
		if err := f.replica.OnUpdate(upd); err != nil {
			if errors.Is(err, broadcast.ErrAwaitingSnapshot) {
				return false
			}
			log.Warn().Err(err).Str("version", upd.Version).Msg("follower: update rejected")
			f.requestResync()
			return false
		}
		f.setAuthority(true)
		f.changed()
	case protocol.TypeFullStateSnapshot:
		var snap protocol.FullStateSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return false
		}
		if err := f.replica.OnSnapshot(snap); err != nil {
			log.Warn().Err(err).Str("version", snap.Version).Msg("follower: snapshot rejected")
			f.requestResync()
			return false
		}
		f.setAuthority(true)
		f.changed()
	case protocol.TypeActionResult:
		var res protocol.ActionResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return false
		}
		f.deliver(res)
	case protocol.TypeAuthorityLost:
		f.setAuthority(false)
	case protocol.TypeError:
		var msg protocol.ErrorMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return false
		}
		if msg.RequestID != "" {
			f.deliver(protocol.FailedResult(msg.RequestID, &protocol.Error{Code: msg.Code, Message: msg.Message}))
		}
		if protocol.RequiresResync(msg.Code) {
			f.replica.MarkStale()
			f.requestResync()
		}
	case protocol.TypeSessionEnded:
		return true
	}
	return false
}

func (f *Follower) requestResync() {
	if err := f.write(f.replica.ResyncRequest()); err != nil {
		log.Debug().Err(err).Msg("follower: resync request failed")
	}
}

func (f *Follower) write(msg any) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.conn.WriteJSON(msg)
}

func (f *Follower) deliver(res protocol.ActionResult) {
	f.mu.Lock()
	ch := f.pending[res.RequestID]
	delete(f.pending, res.RequestID)
	f.mu.Unlock()
	if ch != nil {
		ch <- res
	}
}

func (f *Follower) setAuthority(v bool) {
	f.mu.Lock()
	f.authority = v
	f.mu.Unlock()
}

func (f *Follower) changed() {
	if f.onChange == nil {
		return
	}
	st, version, _ := f.replica.Snapshot()
	f.onChange(st, version)
}

func (f *Follower) shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, ch := range f.pending {
		close(ch)
		delete(f.pending, id)
	}
}
