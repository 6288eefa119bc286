package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tabletop-sync/internal/authority"
	"tabletop-sync/internal/broadcast"
	"tabletop-sync/internal/heartbeat"
	"tabletop-sync/internal/metrics"
	"tabletop-sync/internal/protocol"
	"tabletop-sync/internal/router"
	"tabletop-sync/internal/session"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Deps struct {
	Sessions  *session.Directory
	Registry  *authority.Registry
	Monitor   *heartbeat.Monitor
	Router    *router.Router
	Hub       *broadcast.Hub
	Identity  *Identity
	Validator *protocol.Validator // nil disables schema checks
}

type Options struct {
	SendQueueSize   int
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	AllowedOrigins  []string // empty allows any origin
}

type Server struct {
	deps     Deps
	opts     Options
	upgrader websocket.Upgrader
}

func NewServer(deps Deps, opts Options) *Server {
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = 64
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 1 << 20
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	s := &Server{deps: deps, opts: opts}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// HandleWS authenticates the participant, checks session membership and then
// upgrades. Handshake failures are plain HTTP errors.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	participantID, err := s.deps.Identity.Authenticate(r)
	if err != nil {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sess, ok := s.deps.Sessions.Get(sessionID)
	if !ok || sess.Status == session.StatusEnded {
		writeErr(w, http.StatusNotFound, "session_not_found")
		return
	}
	member, err := s.deps.Sessions.IsMember(r.Context(), sessionID, participantID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("membership check failed")
		writeErr(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if !member {
		writeErr(w, http.StatusForbidden, "permission_denied")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	role := protocol.RolePlayer
	if sess.GMID == participantID {
		role = protocol.RoleGM
	}
	c := newClient(conn, sessionID, participantID, role, s.opts.SendQueueSize)
	metrics.Connections.WithLabelValues(role).Inc()
	log.Info().Str("session_id", sessionID).Str("participant_id", participantID).Str("conn_id", c.id).Str("role", role).Msg("client connected")

	go s.writeLoop(c)
	s.join(c)
	s.readLoop(c)
}

func (s *Server) join(c *Client) {
	sess, _ := s.deps.Sessions.Get(c.sessionID)
	_, bound := s.deps.Registry.Resolve(c.sessionID)
	_ = c.Send(protocol.SessionJoined{
		Type:               protocol.TypeSessionJoined,
		ProtocolVersion:    protocol.ProtocolVersion,
		SessionID:          c.sessionID,
		ConnectionID:       c.id,
		ParticipantID:      c.participantID,
		Role:               c.role,
		Version:            sess.Version,
		Hash:               sess.Hash,
		AuthorityConnected: bound || c.role == protocol.RoleGM,
		Epoch:              s.deps.Registry.Epoch(c.sessionID),
	})
	s.deps.Hub.Join(c.sessionID, c)
	if c.role == protocol.RoleGM {
		epoch := s.deps.Monitor.Bind(c.sessionID, c)
		s.deps.Hub.AuthorityBound(c.sessionID, c, epoch)
	}
}

func (s *Server) readLoop(c *Client) {
	defer s.unregister(c)

	c.conn.SetReadLimit(s.opts.MaxMessageBytes)
	ctx := context.Background()
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				metrics.FramesRejected.WithLabelValues("too_large").Inc()
			}
			return
		}
		s.dispatch(ctx, c, msg)
	}
}

func (s *Server) writeLoop(c *Client) {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Debug().Err(err).Str("conn_id", c.id).Msg("write failed")
			_ = c.conn.Close()
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}

func (s *Server) unregister(c *Client) {
	s.deps.Hub.Leave(c.sessionID, c)
	if c.role == protocol.RoleGM {
		s.deps.Monitor.Release(c.sessionID, c)
	}
	s.deps.Router.OnDisconnect(c.id)
	c.close()
	_ = c.conn.Close()
	metrics.Connections.WithLabelValues(c.role).Dec()
	log.Info().Str("session_id", c.sessionID).Str("conn_id", c.id).Msg("client disconnected")
}

func (s *Server) dispatch(ctx context.Context, c *Client, raw []byte) {
	typ, err := protocol.PeekType(raw)
	if err != nil {
		metrics.FramesRejected.WithLabelValues("malformed").Inc()
		s.sendError(c, protocol.Errorf(protocol.CodeRoutingError, "malformed frame"), "")
		return
	}
	if s.deps.Validator != nil {
		if err := s.deps.Validator.Validate(raw); err != nil {
			metrics.FramesRejected.WithLabelValues("schema").Inc()
			s.sendError(c, err, requestIDOf(typ, raw))
			return
		}
	}

	switch typ {
	case protocol.TypeActionRequest:
		s.handleActionRequest(ctx, c, raw)
	case protocol.TypeActionResult:
		s.handleActionResult(c, raw)
	case protocol.TypeStateUpdate:
		var upd protocol.StateUpdate
		if err := json.Unmarshal(raw, &upd); err != nil {
			s.sendError(c, protocol.Errorf(protocol.CodeRoutingError, "malformed state_update"), "")
			return
		}
		if _, err := s.deps.Hub.ApplyAndBroadcast(c.sessionID, c, upd); err != nil {
			log.Warn().Err(err).Str("session_id", c.sessionID).Str("conn_id", c.id).Msg("state update rejected")
			s.sendError(c, err, "")
		}
	case protocol.TypeResyncRequest:
		var req protocol.ResyncRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			s.sendError(c, protocol.Errorf(protocol.CodeRoutingError, "malformed resync_request"), "")
			return
		}
		if err := s.deps.Hub.RequestResync(c.sessionID, c, req.LastKnownVersion); err != nil {
			s.sendError(c, err, "")
		}
	case protocol.TypeFullStateSnapshot:
		var snap protocol.FullStateSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			s.sendError(c, protocol.Errorf(protocol.CodeRoutingError, "malformed full_state_snapshot"), "")
			return
		}
		if err := s.deps.Hub.DeliverSnapshot(c.sessionID, c, snap); err != nil {
			log.Warn().Err(err).Str("session_id", c.sessionID).Str("conn_id", c.id).Msg("snapshot rejected")
			s.sendError(c, err, "")
		}
	case protocol.TypeHeartbeatPong:
		var pong protocol.HeartbeatPong
		if err := json.Unmarshal(raw, &pong); err != nil {
			return
		}
		if !s.isAuthority(c) {
			return
		}
		s.deps.Monitor.OnPong(c.sessionID, pong.Epoch)
	default:
		metrics.FramesRejected.WithLabelValues("unknown_type").Inc()
		s.sendError(c, protocol.Errorf(protocol.CodeRoutingError, "unsupported message type %q", typ), "")
	}
}

func (s *Server) handleActionRequest(ctx context.Context, c *Client, raw []byte) {
	var req protocol.ActionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(c, protocol.Errorf(protocol.CodeRoutingError, "malformed action_request"), "")
		return
	}
	if req.SessionID == "" {
		req.SessionID = c.sessionID
	}
	if req.SessionID != c.sessionID {
		_ = c.Send(protocol.FailedResult(req.ID, protocol.Errorf(protocol.CodePermissionDenied, "connection is bound to another session")))
		return
	}
	// The connection identity is authoritative for who is acting.
	req.PlayerID = c.participantID
	if req.Timestamp == 0 {
		req.Timestamp = time.Now().UnixMilli()
	}
	s.deps.Router.Route(ctx, req, func(res protocol.ActionResult) {
		if err := c.Send(res); err != nil {
			log.Debug().Err(err).Str("conn_id", c.id).Str("request_id", res.RequestID).Msg("action result undeliverable")
		}
	})
}

func (s *Server) handleActionResult(c *Client, raw []byte) {
	if !s.isAuthority(c) {
		s.sendError(c, protocol.Errorf(protocol.CodePermissionDenied, "only the session authority may answer actions"), "")
		return
	}
	var res protocol.ActionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		s.sendError(c, protocol.Errorf(protocol.CodeRoutingError, "malformed action_result"), "")
		return
	}
	if !s.deps.Router.OnResult(c.sessionID, c.id, res) {
		log.Debug().Str("request_id", res.RequestID).Str("session_id", c.sessionID).Msg("late or unknown action result dropped")
	}
}

func (s *Server) isAuthority(c *Client) bool {
	auth, ok := s.deps.Registry.Resolve(c.sessionID)
	return ok && auth.ID() == c.id
}

// sendError reports err to c along with the session's current version so
// the receiver can decide whether to resync.
func (s *Server) sendError(c *Client, err error, requestID string) {
	msg := protocol.NewErrorMessage(err)
	msg.RequestID = requestID
	if sess, ok := s.deps.Sessions.Get(c.sessionID); ok {
		msg.CurrentVersion = sess.Version
	}
	_ = c.Send(msg)
}

func requestIDOf(typ string, raw []byte) string {
	if typ != protocol.TypeActionRequest {
		return ""
	}
	var base struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &base)
	return base.ID
}

func writeErr(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
