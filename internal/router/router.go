package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"tabletop-sync/internal/heartbeat"
	"tabletop-sync/internal/metrics"
	"tabletop-sync/internal/protocol"
	"tabletop-sync/internal/session"

	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout = 30 * time.Second
	defaultGCAge   = 60 * time.Second
)

// ReplyFunc receives exactly one result per routed request.
type ReplyFunc func(protocol.ActionResult)

type Sessions interface {
	Get(id string) (session.Session, bool)
	IsMember(ctx context.Context, id, participantID string) (bool, error)
}

type Resolver interface {
	Resolve(sessionID string) (protocol.Peer, bool)
}

// Router forwards action requests to the live authority of their session
// and matches the authority's results back to the original caller.
type Router struct {
	sessions    Sessions
	authorities Resolver
	timeout     time.Duration
	gcAge       time.Duration
	now         func() time.Time

	mu      sync.Mutex
	pending map[pendingKey]*pendingEntry
}

// pendingKey scopes request ids to their session; participants pick the ids.
type pendingKey struct {
	sessionID string
	requestID string
}

type pendingEntry struct {
	reply     ReplyFunc
	timer     *time.Timer
	createdAt time.Time
	sessionID string
	authority string
}

type Option func(*Router)

func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithGCAge(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.gcAge = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

func New(sessions Sessions, authorities Resolver, opts ...Option) *Router {
	r := &Router{
		sessions:    sessions,
		authorities: authorities,
		timeout:     defaultTimeout,
		gcAge:       defaultGCAge,
		now:         time.Now,
		pending:     map[pendingKey]*pendingEntry{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route validates req and forwards it to the session authority. Every
// failure, now or later, is delivered through reply; Route never blocks on
// the authority.
func (r *Router) Route(ctx context.Context, req protocol.ActionRequest, reply ReplyFunc) {
	if req.ID == "" {
		r.fail(req.ID, reply, protocol.Errorf(protocol.CodeRoutingError, "request id is required"))
		return
	}
	sess, ok := r.sessions.Get(req.SessionID)
	if !ok || sess.Status == session.StatusEnded {
		r.fail(req.ID, reply, protocol.Errorf(protocol.CodeSessionNotFound, "session %q not found", req.SessionID))
		return
	}
	member, err := r.sessions.IsMember(ctx, req.SessionID, req.PlayerID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			r.fail(req.ID, reply, protocol.Errorf(protocol.CodeSessionNotFound, "session %q not found", req.SessionID))
			return
		}
		r.fail(req.ID, reply, protocol.Errorf(protocol.CodeRoutingError, "membership check failed"))
		log.Error().Err(err).Str("session_id", req.SessionID).Str("player_id", req.PlayerID).Msg("membership check failed")
		return
	}
	if !member {
		r.fail(req.ID, reply, protocol.Errorf(protocol.CodePermissionDenied, "%q is not a participant of this session", req.PlayerID))
		return
	}
	if sess.Status == session.StatusPaused && req.PlayerID != sess.GMID {
		r.fail(req.ID, reply, protocol.Errorf(protocol.CodePermissionDenied, "session is paused"))
		return
	}
	auth, ok := r.authorities.Resolve(req.SessionID)
	if !ok {
		r.fail(req.ID, reply, protocol.Errorf(protocol.CodeGMNotConnected, "no authority connected"))
		return
	}
	if sess.AwaitingSync {
		r.fail(req.ID, reply, protocol.Errorf(protocol.CodeGMNotConnected, "authority has not completed state sync"))
		return
	}

	entry := &pendingEntry{
		reply:     reply,
		createdAt: r.now(),
		sessionID: req.SessionID,
		authority: auth.ID(),
	}
	key := pendingKey{sessionID: req.SessionID, requestID: req.ID}
	r.mu.Lock()
	if _, dup := r.pending[key]; dup {
		r.mu.Unlock()
		r.fail(req.ID, reply, protocol.Errorf(protocol.CodeRoutingError, "request %q is already in flight", req.ID))
		return
	}
	r.pending[key] = entry
	entry.timer = time.AfterFunc(r.timeout, func() { r.expire(key, entry) })
	r.mu.Unlock()
	metrics.PendingRequests.Inc()

	if err := auth.Send(req.Forward()); err != nil {
		if r.take(key, entry) {
			r.deliver(req.ID, entry.reply, protocol.FailedResult(req.ID, protocol.Errorf(protocol.CodeGMNotConnected, "forward to authority failed")))
		}
		return
	}
	log.Debug().
		Str("session_id", req.SessionID).
		Str("request_id", req.ID).
		Str("action", req.Action).
		Str("conn_id", auth.ID()).
		Msg("action forwarded")
}

// OnResult completes the pending request of sessionID named by result.
// Only the connection the request was forwarded to may complete it; results
// from any other connection, and for unknown or completed requests, are
// dropped.
func (r *Router) OnResult(sessionID, fromConnID string, result protocol.ActionResult) bool {
	key := pendingKey{sessionID: sessionID, requestID: result.RequestID}
	r.mu.Lock()
	entry, ok := r.pending[key]
	if ok && entry.authority != fromConnID {
		r.mu.Unlock()
		log.Warn().
			Str("session_id", sessionID).
			Str("request_id", result.RequestID).
			Str("conn_id", fromConnID).
			Str("authority", entry.authority).
			Msg("action result from a connection the request was not forwarded to")
		return false
	}
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()
	if !ok {
		log.Debug().Str("session_id", sessionID).Str("request_id", result.RequestID).Msg("action result without pending request")
		return false
	}
	entry.timer.Stop()
	metrics.PendingRequests.Dec()
	metrics.ActionRoundTrip.Observe(r.now().Sub(entry.createdAt).Seconds())
	result.Type = protocol.TypeActionResult
	r.deliver(result.RequestID, entry.reply, result)
	return true
}

// OnDisconnect fails requests forwarded to connID with GM_DISCONNECTED and
// drops any entry older than the GC age.
func (r *Router) OnDisconnect(connID string) {
	now := r.now()
	var failed []pendingKey
	var failedEntries []*pendingEntry
	collected := 0

	r.mu.Lock()
	for id, e := range r.pending {
		switch {
		case e.authority == connID:
			delete(r.pending, id)
			failed = append(failed, id)
			failedEntries = append(failedEntries, e)
		case now.Sub(e.createdAt) > r.gcAge:
			delete(r.pending, id)
			e.timer.Stop()
			collected++
		}
	}
	r.mu.Unlock()

	if collected > 0 {
		metrics.PendingRequests.Sub(float64(collected))
		log.Info().Str("conn_id", connID).Int("collected", collected).Msg("stale pending requests collected")
	}
	for i, key := range failed {
		e := failedEntries[i]
		e.timer.Stop()
		metrics.PendingRequests.Dec()
		r.deliver(key.requestID, e.reply, protocol.FailedResult(key.requestID, protocol.Errorf(protocol.CodeGMDisconnected, "authority disconnected before replying")))
	}
}

// AuthorityLost implements heartbeat.Listener.
func (r *Router) AuthorityLost(loss heartbeat.Loss) {
	r.OnDisconnect(loss.ConnID)
}

func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// PendingForSession counts in-flight requests of one session.
func (r *Router) PendingForSession(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.pending {
		if e.sessionID == sessionID {
			n++
		}
	}
	return n
}

func (r *Router) expire(key pendingKey, entry *pendingEntry) {
	if !r.take(key, entry) {
		return
	}
	log.Warn().Str("request_id", key.requestID).Str("session_id", key.sessionID).Dur("timeout", r.timeout).Msg("action request timed out")
	r.deliver(key.requestID, entry.reply, protocol.FailedResult(key.requestID, protocol.Errorf(protocol.CodeRequestTimeout, "authority did not reply within %s", r.timeout)))
}

// take removes entry if it is still the pending one for key.
func (r *Router) take(key pendingKey, entry *pendingEntry) bool {
	r.mu.Lock()
	cur, ok := r.pending[key]
	if !ok || cur != entry {
		r.mu.Unlock()
		return false
	}
	delete(r.pending, key)
	r.mu.Unlock()
	entry.timer.Stop()
	metrics.PendingRequests.Dec()
	return true
}

func (r *Router) fail(id string, reply ReplyFunc, err *protocol.Error) {
	r.deliver(id, reply, protocol.FailedResult(id, err))
}

func (r *Router) deliver(id string, reply ReplyFunc, result protocol.ActionResult) {
	outcome := "ok"
	if !result.Success {
		outcome = "failed"
		if result.Error != nil {
			outcome = string(result.Error.Code)
		}
	}
	metrics.ActionsRouted.WithLabelValues(outcome).Inc()
	if reply == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("request_id", id).Msg("action reply panicked")
		}
	}()
	reply(result)
}
