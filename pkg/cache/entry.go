package cache

import (
	"time"
)

// Entry is one cached value with its expiry and access metadata.
type Entry struct {
	// Key is the store key the entry lives under.
	Key string `json:"key"`

	// Data is the stored payload, compressed when Compressed is set.
	Data []byte `json:"data"`

	// Compressed marks Data as gzip-compressed.
	Compressed bool `json:"compressed"`

	// SizeBytes is the size of the stored (possibly compressed) payload.
	SizeBytes int `json:"size_bytes"`

	// CreatedAt is when the entry was written.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is CreatedAt plus the entry's TTL.
	ExpiresAt time.Time `json:"expires_at"`

	// AccessCount is the number of reads since creation.
	AccessCount int64 `json:"access_count"`

	// LastAccessedAt drives LRU eviction.
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
