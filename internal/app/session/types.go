package session

import (
	"time"

	"tabletop-sync/internal/session"
)

// View is the HTTP projection of a live session.
type View struct {
	session.Session
	AuthorityConnected bool       `json:"authority_connected"`
	AuthorityConnID    string     `json:"authority_conn_id,omitempty"`
	Epoch              uint64     `json:"epoch"`
	AuthorityLastSeen  *time.Time `json:"authority_last_seen,omitempty"`
	PendingRequests    int        `json:"pending_requests"`
	Connections        int        `json:"connections"`
}

type AddParticipantInput struct {
	ParticipantID string `json:"participant_id"`
}
