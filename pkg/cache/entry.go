package cache

import (
	"time"
)

// Entry is a cached API response as stored by the Redis backend.
type Entry struct {
	// Value is the raw response payload.
	Value []byte `json:"value"`

	// ExpiresAt is when the entry becomes stale.
	ExpiresAt time.Time `json:"expires_at"`

	// StoredAt is when the entry was written.
	StoredAt time.Time `json:"stored_at"`
}

// IsExpired returns true if the entry has passed its TTL.
func (e *Entry) IsExpired() bool {
	return !time.Now().Before(e.ExpiresAt)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
