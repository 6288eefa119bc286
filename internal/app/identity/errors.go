package identity

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrTTLTooLong     = errors.New("ttl_exceeds_limit")
)
