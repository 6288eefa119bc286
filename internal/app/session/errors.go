package session

import (
	"errors"

	"tabletop-sync/internal/session"
)

var (
	ErrInvalidRequest = session.ErrInvalidRequest
	ErrNotFound       = session.ErrNotFound
	ErrExists         = session.ErrExists
	ErrEnded          = errors.New("session_ended")
)
