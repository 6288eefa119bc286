package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tabletop-sync/internal/gamestate"
	"tabletop-sync/internal/store"

	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound          = errors.New("session_not_found")
	ErrExists            = errors.New("session_exists")
	ErrInvalidRequest    = errors.New("invalid_request")
	ErrInvalidTransition = errors.New("invalid_status_transition")
)

// Session is a copy of the protocol-level record for one live game. Version
// and Hash describe the last state the authority published.
type Session struct {
	ID           string    `json:"session_id"`
	CampaignID   string    `json:"campaign_id"`
	GMID         string    `json:"gm_id"`
	Participants []string  `json:"participants"`
	Version      string    `json:"version"`
	Hash         string    `json:"hash,omitempty"`
	Status       Status    `json:"status"`
	AwaitingSync bool      `json:"awaiting_sync"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Persister is the optional durable side of the directory. Version, hash and
// sync flags are never persisted.
type Persister interface {
	SaveSession(ctx context.Context, rec store.SessionRecord) error
	UpdateSessionStatus(ctx context.Context, sessionID, status string) error
	AddSessionParticipant(ctx context.Context, sessionID, participantID string) error
	ListLiveSessions(ctx context.Context) ([]store.SessionRecord, error)
	IsCampaignMember(ctx context.Context, campaignID, participantID string) (bool, error)
}

type StartInput struct {
	SessionID    string   `json:"session_id"`
	CampaignID   string   `json:"campaign_id"`
	GMID         string   `json:"gm_id"`
	Participants []string `json:"participants"`
}

type Directory struct {
	mu       sync.RWMutex
	sessions map[string]*record
	persist  Persister
	now      func() time.Time
}

type record struct {
	mu           sync.Mutex
	s            Session
	participants map[string]struct{}
}

// NewDirectory builds an in-memory directory. p may be nil.
func NewDirectory(p Persister) *Directory {
	return &Directory{
		sessions: map[string]*record{},
		persist:  p,
		now:      time.Now,
	}
}

// Restore reloads live sessions after a restart. Every restored session must
// be resynced from its authority before actions are routed again.
func (d *Directory) Restore(ctx context.Context) (int, error) {
	if d.persist == nil {
		return 0, nil
	}
	recs, err := d.persist.ListLiveSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore sessions: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, rec := range recs {
		s := fromRecord(rec)
		s.Version = gamestate.InitialVersion
		s.AwaitingSync = true
		d.sessions[s.ID] = newRecord(s)
	}
	return len(recs), nil
}

func (d *Directory) Start(ctx context.Context, in StartInput) (Session, error) {
	in.SessionID = strings.TrimSpace(in.SessionID)
	in.GMID = strings.TrimSpace(in.GMID)
	in.CampaignID = strings.TrimSpace(in.CampaignID)
	if in.GMID == "" || in.CampaignID == "" {
		return Session{}, ErrInvalidRequest
	}
	if in.SessionID == "" {
		in.SessionID = store.NewID()
	}
	now := d.now()
	s := Session{
		ID:           in.SessionID,
		CampaignID:   in.CampaignID,
		GMID:         in.GMID,
		Participants: normalizeParticipants(in.Participants, in.GMID),
		Version:      gamestate.InitialVersion,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	d.mu.Lock()
	if _, ok := d.sessions[s.ID]; ok {
		d.mu.Unlock()
		return Session{}, ErrExists
	}
	d.sessions[s.ID] = newRecord(s)
	d.mu.Unlock()

	if d.persist != nil {
		if err := d.persist.SaveSession(ctx, toRecord(s)); err != nil {
			d.mu.Lock()
			delete(d.sessions, s.ID)
			d.mu.Unlock()
			return Session{}, fmt.Errorf("persist session: %w", err)
		}
	}
	log.Info().Str("session_id", s.ID).Str("gm_id", s.GMID).Int("participants", len(s.Participants)).Msg("session started")
	return s, nil
}

func (d *Directory) record(id string) *record {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessions[id]
}

func (d *Directory) Get(id string) (Session, bool) {
	rec := d.record(id)
	if rec == nil {
		return Session{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshot(), true
}

func (d *Directory) List() []Session {
	d.mu.RLock()
	recs := make([]*record, 0, len(d.sessions))
	for _, rec := range d.sessions {
		recs = append(recs, rec)
	}
	d.mu.RUnlock()
	out := make([]Session, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.snapshot())
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Directory) IsGM(id, participantID string) bool {
	s, ok := d.Get(id)
	return ok && participantID != "" && s.GMID == participantID
}

// IsMember accepts the GM, any listed participant, or a verified campaign
// member. Verified members are added to the session on first sight.
func (d *Directory) IsMember(ctx context.Context, id, participantID string) (bool, error) {
	rec := d.record(id)
	if rec == nil {
		return false, ErrNotFound
	}
	if participantID == "" {
		return false, nil
	}
	rec.mu.Lock()
	_, listed := rec.participants[participantID]
	gm := rec.s.GMID == participantID
	campaignID := rec.s.CampaignID
	rec.mu.Unlock()
	if gm || listed {
		return true, nil
	}
	if d.persist == nil {
		return false, nil
	}
	ok, err := d.persist.IsCampaignMember(ctx, campaignID, participantID)
	if err != nil || !ok {
		return false, err
	}
	if err := d.AddParticipant(ctx, id, participantID); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Directory) AddParticipant(ctx context.Context, id, participantID string) error {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return ErrInvalidRequest
	}
	rec := d.record(id)
	if rec == nil {
		return ErrNotFound
	}
	rec.mu.Lock()
	if rec.s.Status == StatusEnded {
		rec.mu.Unlock()
		return ErrNotFound
	}
	if _, ok := rec.participants[participantID]; ok || rec.s.GMID == participantID {
		rec.mu.Unlock()
		return nil
	}
	rec.participants[participantID] = struct{}{}
	rec.s.UpdatedAt = d.now()
	rec.mu.Unlock()

	if d.persist != nil {
		if err := d.persist.AddSessionParticipant(ctx, id, participantID); err != nil {
			return fmt.Errorf("persist participant: %w", err)
		}
	}
	return nil
}

// SetStatus moves a session between active and paused, or ends it. Ended is
// terminal.
func (d *Directory) SetStatus(ctx context.Context, id string, status Status) (Session, error) {
	rec := d.record(id)
	if rec == nil {
		return Session{}, ErrNotFound
	}
	rec.mu.Lock()
	cur := rec.s.Status
	if cur == StatusEnded {
		rec.mu.Unlock()
		return Session{}, ErrNotFound
	}
	switch status {
	case StatusActive, StatusPaused, StatusEnded:
	default:
		rec.mu.Unlock()
		return Session{}, ErrInvalidTransition
	}
	if cur == status {
		out := rec.snapshot()
		rec.mu.Unlock()
		return out, nil
	}
	rec.s.Status = status
	rec.s.UpdatedAt = d.now()
	out := rec.snapshot()
	rec.mu.Unlock()

	if d.persist != nil {
		if err := d.persist.UpdateSessionStatus(ctx, id, string(status)); err != nil {
			log.Error().Err(err).Str("session_id", id).Str("status", string(status)).Msg("persist session status failed")
		}
	}
	log.Info().Str("session_id", id).Str("from", string(cur)).Str("to", string(status)).Msg("session status changed")
	return out, nil
}

// Update runs fn with the session locked. Changes fn makes to the session are
// kept when it returns nil.
func (d *Directory) Update(id string, fn func(s *Session) error) error {
	rec := d.record(id)
	if rec == nil {
		return ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	work := rec.snapshot()
	if err := fn(&work); err != nil {
		return err
	}
	rec.s.Version = work.Version
	rec.s.Hash = work.Hash
	rec.s.AwaitingSync = work.AwaitingSync
	rec.s.UpdatedAt = d.now()
	return nil
}

func (d *Directory) MarkAwaitingSync(id string) {
	_ = d.Update(id, func(s *Session) error {
		s.AwaitingSync = true
		return nil
	})
}

// SyncStatus returns the current version and whether a full resync is pending.
func (d *Directory) SyncStatus(id string) (string, bool) {
	s, ok := d.Get(id)
	if !ok {
		return "", false
	}
	return s.Version, s.AwaitingSync
}

// Remove forgets an ended session.
func (d *Directory) Remove(id string) {
	d.mu.Lock()
	delete(d.sessions, id)
	d.mu.Unlock()
}

func newRecord(s Session) *record {
	rec := &record{s: s, participants: map[string]struct{}{}}
	for _, p := range s.Participants {
		rec.participants[p] = struct{}{}
	}
	return rec
}

func (r *record) snapshot() Session {
	out := r.s
	out.Participants = make([]string, 0, len(r.participants))
	for p := range r.participants {
		out.Participants = append(out.Participants, p)
	}
	sort.Strings(out.Participants)
	return out
}

func normalizeParticipants(in []string, gmID string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" || p == gmID {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func toRecord(s Session) store.SessionRecord {
	return store.SessionRecord{
		ID:           s.ID,
		CampaignID:   s.CampaignID,
		GMID:         s.GMID,
		Status:       string(s.Status),
		Participants: s.Participants,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

func fromRecord(rec store.SessionRecord) Session {
	return Session{
		ID:           rec.ID,
		CampaignID:   rec.CampaignID,
		GMID:         rec.GMID,
		Participants: normalizeParticipants(rec.Participants, rec.GMID),
		Status:       Status(rec.Status),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}
