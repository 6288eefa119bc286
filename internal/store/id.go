package store

import "github.com/oklog/ulid/v2"

// NewID returns a time-ordered identifier for sessions created without one.
// IDs from one process sort in creation order.
func NewID() string {
	return ulid.Make().String()
}
