package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// AuditAction names a sensitive state transition recorded in the audit log.
type AuditAction string

const (
	ActionCreateKey  AuditAction = "CREATE_KEY"
	ActionKeyUsed    AuditAction = "KEY_USED"
	ActionKeyRotated AuditAction = "KEY_ROTATED"
	ActionRevokeKey  AuditAction = "REVOKE_KEY"
)

// TargetAPIKey is the target_type of every key-related audit entry.
const TargetAPIKey = "api_key"

// AuditMeta is the typed payload attached to an audit entry. Each action has
// exactly one implementation.
type AuditMeta interface {
	Action() AuditAction
}

// CreateKeyMeta is logged with CREATE_KEY.
type CreateKeyMeta struct {
	Label    string `json:"label"`
	KeyLast4 string `json:"key_last4"`
}

func (CreateKeyMeta) Action() AuditAction { return ActionCreateKey }

// KeyUsedMeta is logged with KEY_USED.
type KeyUsedMeta struct {
	KeyLast4  string `json:"key_last4"`
	RequestID string `json:"request_id,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

func (KeyUsedMeta) Action() AuditAction { return ActionKeyUsed }

// KeyRotatedMeta is logged with KEY_ROTATED.
type KeyRotatedMeta struct {
	PreviousLast4 string `json:"previous_last4"`
	NewLast4      string `json:"new_last4"`
	RotationCount int64  `json:"rotation_count"`
}

func (KeyRotatedMeta) Action() AuditAction { return ActionKeyRotated }

// RevokeKeyMeta is logged with REVOKE_KEY.
type RevokeKeyMeta struct {
	Reason string `json:"reason"`
}

func (RevokeKeyMeta) Action() AuditAction { return ActionRevokeKey }

// AuditLogEntry is one immutable row of the audit trail.
type AuditLogEntry struct {
	ID         int64           `json:"id" db:"id"`
	Actor      string          `json:"actor" db:"actor"`
	Action     AuditAction     `json:"action" db:"action"`
	TargetType *string         `json:"target_type,omitempty" db:"target_type"`
	TargetID   *string         `json:"target_id,omitempty" db:"target_id"`
	IP         *string         `json:"ip,omitempty" db:"ip"`
	Meta       json.RawMessage `json:"meta" db:"-"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// EncodeMeta serializes a typed payload for storage. A nil payload is stored
// as an empty object.
func EncodeMeta(meta AuditMeta) (json.RawMessage, error) {
	if meta == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal %s meta: %w", meta.Action(), err)
	}
	return b, nil
}

// DecodeMeta parses the stored payload of an entry back into its typed form.
func (e *AuditLogEntry) DecodeMeta() (AuditMeta, error) {
	var meta AuditMeta
	switch e.Action {
	case ActionCreateKey:
		meta = &CreateKeyMeta{}
	case ActionKeyUsed:
		meta = &KeyUsedMeta{}
	case ActionKeyRotated:
		meta = &KeyRotatedMeta{}
	case ActionRevokeKey:
		meta = &RevokeKeyMeta{}
	default:
		return nil, fmt.Errorf("unknown audit action %q", e.Action)
	}
	if len(e.Meta) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(e.Meta, meta); err != nil {
		return nil, fmt.Errorf("unmarshal %s meta: %w", e.Action, err)
	}
	return meta, nil
}
