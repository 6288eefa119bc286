package protocol

import (
	"encoding/json"
	"errors"

	"tabletop-sync/internal/gamestate"
)

const ProtocolVersion = "1.0"

const (
	TypeSessionJoined     = "session_joined"
	TypeActionRequest     = "action_request"
	TypeActionForward     = "action_forward"
	TypeActionResult      = "action_result"
	TypeStateUpdate       = "state_update"
	TypeResyncRequest     = "resync_request"
	TypeFullStateSnapshot = "full_state_snapshot"
	TypeHeartbeatPing     = "heartbeat_ping"
	TypeHeartbeatPong     = "heartbeat_pong"
	TypeAuthorityLost     = "authority_lost"
	TypeSyncRequired      = "sync_required"
	TypeSessionEnded      = "session_ended"
	TypeError             = "error"
)

const (
	RoleGM     = "gm"
	RolePlayer = "player"
)

var ErrMissingType = errors.New("missing_type")

type SessionJoined struct {
	Type               string `json:"type"`
	ProtocolVersion    string `json:"protocol_version"`
	SessionID          string `json:"session_id"`
	ConnectionID       string `json:"connection_id"`
	ParticipantID      string `json:"participant_id"`
	Role               string `json:"role"`
	Version            string `json:"version"`
	Hash               string `json:"hash,omitempty"`
	AuthorityConnected bool   `json:"authority_connected"`
	Epoch              uint64 `json:"epoch,omitempty"`
}

// ActionRequest is sent by a participant. The same shape is forwarded to the
// authority with Type set to action_forward.
type ActionRequest struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	PlayerID   string          `json:"player_id"`
	ActorID    string          `json:"actor_id,omitempty"`
	TargetIDs  []string        `json:"target_ids,omitempty"`
	SessionID  string          `json:"session_id"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

func (r ActionRequest) Forward() ActionRequest {
	r.Type = TypeActionForward
	return r
}

type ActionResult struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Success   bool            `json:"success"`
	Error     *Error          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func FailedResult(requestID string, err *Error) ActionResult {
	return ActionResult{Type: TypeActionResult, RequestID: requestID, Success: false, Error: err}
}

func SucceededResult(requestID string, data json.RawMessage) ActionResult {
	return ActionResult{Type: TypeActionResult, RequestID: requestID, Success: true, Data: data}
}

// StateUpdate carries either a full state or a delta. Hash always covers the
// full state after the update.
type StateUpdate struct {
	Type            string           `json:"type"`
	SessionID       string           `json:"session_id"`
	PreviousVersion string           `json:"previous_version"`
	Version         string           `json:"version"`
	Hash            string           `json:"hash"`
	State           *gamestate.State `json:"state,omitempty"`
	Delta           *gamestate.Delta `json:"delta,omitempty"`
}

type ResyncRequest struct {
	Type             string `json:"type"`
	SessionID        string `json:"session_id"`
	LastKnownVersion string `json:"last_known_version"`
	RequesterID      string `json:"requester_id,omitempty"`
}

// FullStateSnapshot answers a resync. An empty RequesterID addresses the
// server itself, which adopts the snapshot and rebroadcasts it.
type FullStateSnapshot struct {
	Type        string          `json:"type"`
	SessionID   string          `json:"session_id"`
	Version     string          `json:"version"`
	Hash        string          `json:"hash"`
	State       gamestate.State `json:"state"`
	RequesterID string          `json:"requester_id,omitempty"`
}

type HeartbeatPing struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Epoch     uint64 `json:"epoch"`
}

type HeartbeatPong struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Epoch     uint64 `json:"epoch"`
}

type AuthorityLost struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Reason    ErrorCode `json:"reason"`
}

type SyncRequired struct {
	Type             string `json:"type"`
	SessionID        string `json:"session_id"`
	LastKnownVersion string `json:"last_known_version"`
}

type SessionEnded struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type ErrorMessage struct {
	Type           string    `json:"type"`
	Code           ErrorCode `json:"code"`
	Message        string    `json:"message"`
	RequestID      string    `json:"request_id,omitempty"`
	CurrentVersion string    `json:"current_version,omitempty"`
}

func NewErrorMessage(err error) ErrorMessage {
	pe := AsError(err)
	return ErrorMessage{Type: TypeError, Code: pe.Code, Message: pe.Message}
}

// PeekType returns the type discriminator of a raw frame.
func PeekType(raw []byte) (string, error) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &base); err != nil {
		return "", err
	}
	if base.Type == "" {
		return "", ErrMissingType
	}
	return base.Type, nil
}
