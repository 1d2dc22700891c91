package model

import "github.com/oklog/ulid/v2"

// NewID returns a ULID identifying an invocation or a unit history record.
// IDs sort by creation time.
func NewID() string {
	return ulid.Make().String()
}
