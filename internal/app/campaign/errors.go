package campaign

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrUnavailable    = errors.New("document_store_unavailable")
	ErrNotFound       = errors.New("document_not_found")
)
