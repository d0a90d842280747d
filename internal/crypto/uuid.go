package crypto

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUUIDv7 generates a time-ordered UUID v7 string, used for agent and
// molt ids so that id order follows creation order.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewULID generates a lexically sortable id for notifications.
func NewULID() string {
	return ulid.Make().String()
}
