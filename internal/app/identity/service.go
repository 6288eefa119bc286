package identity

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const maxTTL = 7 * 24 * time.Hour

type Minter interface {
	Mint(participantID string, ttl time.Duration) (string, error)
}

type IssueInput struct {
	ParticipantID string `json:"participant_id"`
	TTLSeconds    int64  `json:"ttl_seconds"`
}

type IssueResponse struct {
	ParticipantID string    `json:"participant_id"`
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Service issues websocket handshake tokens to participants. It sits behind
// the admin key.
type Service struct {
	minter     Minter
	defaultTTL time.Duration
	now        func() time.Time
}

func NewService(minter Minter, defaultTTL time.Duration) *Service {
	if defaultTTL <= 0 {
		defaultTTL = 12 * time.Hour
	}
	return &Service{minter: minter, defaultTTL: defaultTTL, now: time.Now}
}

func (s *Service) Issue(in IssueInput) (*IssueResponse, error) {
	pid := strings.TrimSpace(in.ParticipantID)
	if pid == "" || in.TTLSeconds < 0 {
		return nil, ErrInvalidRequest
	}
	ttl := s.defaultTTL
	if in.TTLSeconds > 0 {
		ttl = time.Duration(in.TTLSeconds) * time.Second
	}
	if ttl > maxTTL {
		return nil, ErrTTLTooLong
	}
	expires := s.now().Add(ttl)
	token, err := s.minter.Mint(pid, ttl)
	if err != nil {
		return nil, err
	}
	log.Info().Str("participant_id", pid).Dur("ttl", ttl).Msg("participant token issued")
	return &IssueResponse{ParticipantID: pid, Token: token, ExpiresAt: expires}, nil
}
