package model

import "time"

// KeyStatus is the lifecycle state of an API key. REVOKED is terminal.
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "ACTIVE"
	KeyStatusRevoked KeyStatus = "REVOKED"
)

// RevocationManual is recorded when an operator revokes a key.
const RevocationManual = "MANUAL_REVOKE"

// APIKey represents a machine credential. The raw key is never stored; only a
// peppered fingerprint (for lookup), a bcrypt hash (for verification) and the
// last four characters (for display) are persisted. All three always describe
// the same raw value.
type APIKey struct {
	ID               int64      `json:"id" db:"id"`
	Label            string     `json:"label" db:"label"`
	Status           KeyStatus  `json:"status" db:"status"`
	KeyHash          string     `json:"-" db:"key_hash"`        // bcrypt hash, never expose
	KeyFingerprint   string     `json:"-" db:"key_fingerprint"` // HMAC lookup value, never expose
	KeyLast4         string     `json:"key_last4" db:"key_last4"`
	RotationCount    int64      `json:"rotation_count" db:"rotation_count"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	LastRotatedAt    *time.Time `json:"last_rotated_at,omitempty" db:"last_rotated_at"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	RevocationReason *string    `json:"revocation_reason,omitempty" db:"revocation_reason"`
}

// IsActive reports whether the key may still authenticate.
func (k *APIKey) IsActive() bool {
	return k.Status == KeyStatusActive
}

// KeyStats is the aggregate view of the api_keys table used by metrics and
// the MCP tools.
type KeyStats struct {
	Active    int64 `json:"active" db:"active"`
	Revoked   int64 `json:"revoked" db:"revoked"`
	Rotations int64 `json:"rotations" db:"rotations"`
}
