package types

import (
	"time"

	"github.com/google/uuid"
)

// Lease grants exclusive access to a path for one write or delete
// operation until it is released or expires.
type Lease struct {
	LeaseID   uuid.UUID `json:"lease_id"`
	Path      string    `json:"path"`
	ClientID  string    `json:"client_id,omitempty"`
	Operation string    `json:"operation,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lease has passed its expiry at now.
func (l *Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
