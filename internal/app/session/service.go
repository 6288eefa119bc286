package session

import (
	"context"
	"errors"

	"tabletop-sync/internal/authority"
	"tabletop-sync/internal/broadcast"
	"tabletop-sync/internal/eventfeed"
	"tabletop-sync/internal/router"
	"tabletop-sync/internal/session"

	"github.com/rs/zerolog/log"
)

// Session lifecycle events recorded in the feed next to the hub's own.
const (
	EventSessionStarted   = "session_started"
	EventSessionPaused    = "session_paused"
	EventSessionResumed   = "session_resumed"
	EventParticipantAdded = "participant_added"
)

// Service drives the session lifecycle across the directory and the live
// protocol components.
type Service struct {
	sessions    *session.Directory
	authorities *authority.Registry
	router      *router.Router
	hub         *broadcast.Hub
	feeds       *eventfeed.Manager
}

func NewService(sessions *session.Directory, authorities *authority.Registry, rt *router.Router, hub *broadcast.Hub, feeds *eventfeed.Manager) *Service {
	return &Service{
		sessions:    sessions,
		authorities: authorities,
		router:      rt,
		hub:         hub,
		feeds:       feeds,
	}
}

func (s *Service) Start(ctx context.Context, in session.StartInput) (*View, error) {
	sess, err := s.sessions.Start(ctx, in)
	if err != nil {
		return nil, err
	}
	s.feeds.OnSessionEvent(sess.ID, EventSessionStarted, map[string]any{"gm_id": sess.GMID, "campaign_id": sess.CampaignID})
	return s.view(sess), nil
}

func (s *Service) Get(sessionID string) (*View, error) {
	if sessionID == "" {
		return nil, ErrInvalidRequest
	}
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	return s.view(sess), nil
}

func (s *Service) List() []View {
	all := s.sessions.List()
	out := make([]View, 0, len(all))
	for _, sess := range all {
		out = append(out, *s.view(sess))
	}
	return out
}

func (s *Service) AddParticipant(ctx context.Context, sessionID string, in AddParticipantInput) (*View, error) {
	if err := s.sessions.AddParticipant(ctx, sessionID, in.ParticipantID); err != nil {
		return nil, err
	}
	s.feeds.OnSessionEvent(sessionID, EventParticipantAdded, map[string]any{"participant_id": in.ParticipantID})
	return s.Get(sessionID)
}

// Pause stops action routing until Resume. Connections and state updates are
// unaffected.
func (s *Service) Pause(ctx context.Context, sessionID string) (*View, error) {
	return s.setStatus(ctx, sessionID, session.StatusPaused, EventSessionPaused)
}

func (s *Service) Resume(ctx context.Context, sessionID string) (*View, error) {
	return s.setStatus(ctx, sessionID, session.StatusActive, EventSessionResumed)
}

// End is terminal: every connection gets session_ended, the authority binding
// is dropped and the event feed is closed.
func (s *Service) End(ctx context.Context, sessionID string) error {
	if _, err := s.sessions.SetStatus(ctx, sessionID, session.StatusEnded); err != nil {
		return err
	}
	s.hub.SessionEnded(sessionID)
	s.authorities.Forget(sessionID)
	s.feeds.Close(sessionID)
	log.Info().Str("session_id", sessionID).Msg("session ended")
	return nil
}

func (s *Service) setStatus(ctx context.Context, sessionID string, status session.Status, event string) (*View, error) {
	cur, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Status == session.StatusEnded {
		return nil, ErrEnded
	}
	sess, err := s.sessions.SetStatus(ctx, sessionID, status)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrEnded
		}
		return nil, err
	}
	if cur.Status != status {
		s.feeds.OnSessionEvent(sessionID, event, map[string]any{"status": status})
	}
	return s.view(sess), nil
}

func (s *Service) view(sess session.Session) *View {
	v := &View{
		Session:         sess,
		Epoch:           s.authorities.Epoch(sess.ID),
		PendingRequests: s.router.PendingForSession(sess.ID),
		Connections:     s.hub.PeerCount(sess.ID),
	}
	if b, ok := s.authorities.Binding(sess.ID); ok {
		v.AuthorityConnID = b.Conn.ID()
		v.AuthorityConnected = s.authorities.IsLive(sess.ID)
		seen := b.LastSeen
		v.AuthorityLastSeen = &seen
	}
	return v
}
