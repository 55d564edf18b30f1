package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotagate/rotagate/internal/config"
	"github.com/rotagate/rotagate/internal/model"
	"github.com/rotagate/rotagate/internal/secret"
)

const (
	// DefaultLabel is used when a key is created without a label.
	DefaultLabel = "default"
	// MaxLabelLength is measured in characters, not bytes.
	MaxLabelLength = 128
	// DefaultAssetName names the resource granted on machine access.
	DefaultAssetName = "demo-asset"
	// ClientActor is the audit actor of machine access.
	ClientActor = "client"
)

// RequestMeta carries the request context recorded in audit entries.
type RequestMeta struct {
	IP        string
	RequestID string
	UserAgent string
}

// CreatedKey is returned once, when a key is created. RawKeyOnce is never
// retrievable again.
type CreatedKey struct {
	ID         int64           `json:"id"`
	Label      string          `json:"label"`
	Status     model.KeyStatus `json:"status"`
	KeyLast4   string          `json:"key_last4"`
	RawKeyOnce string          `json:"raw_key_once"`
}

// Asset is the protected resource handed out on machine access.
type Asset struct {
	Name          string    `json:"name"`
	KeyID         int64     `json:"key_id"`
	KeyLabel      string    `json:"key_label"`
	RotationCount int64     `json:"rotation_count"`
	ServedAt      time.Time `json:"served_at"`
}

// AccessResult is the response to a successful machine access. The presented
// key is no longer valid; RotatedKeyOnce is its only successor.
type AccessResult struct {
	Access         string `json:"access"`
	Asset          Asset  `json:"asset"`
	RotatedKeyOnce string `json:"rotated_key_once"`
}

// KeyServiceOptions configures a KeyService.
type KeyServiceOptions struct {
	AssetName string
}

// KeyService is the key lifecycle manager. Keys are ACTIVE until revoked;
// every successful use rotates the secret in place.
type KeyService struct {
	store     *config.Store
	deriver   *secret.Deriver
	auth      *AuthService
	audit     *Auditor
	logger    *slog.Logger
	assetName string
}

// NewKeyService creates a KeyService.
func NewKeyService(store *config.Store, deriver *secret.Deriver, auth *AuthService, audit *Auditor, logger *slog.Logger, opts KeyServiceOptions) *KeyService {
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.AssetName
	if name == "" {
		name = DefaultAssetName
	}
	return &KeyService{
		store:     store,
		deriver:   deriver,
		auth:      auth,
		audit:     audit,
		logger:    logger,
		assetName: name,
	}
}

// NormalizeLabel trims label and applies the default and length limit.
func NormalizeLabel(label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return DefaultLabel, nil
	}
	if utf8.RuneCountInString(label) > MaxLabelLength {
		return "", ErrInvalidLabel
	}
	return label, nil
}

// material is the derived, storable form of one raw key.
type material struct {
	raw         string
	hash        string
	fingerprint string
	last4       string
}

func (s *KeyService) newMaterial() (material, error) {
	raw, err := secret.GenerateRawKey()
	if err != nil {
		return material{}, err
	}
	hash, err := s.deriver.Hash(raw)
	if err != nil {
		return material{}, err
	}
	return material{
		raw:         raw,
		hash:        hash,
		fingerprint: s.deriver.Fingerprint(raw),
		last4:       secret.Last4(raw),
	}, nil
}

// CreateKey issues a new ACTIVE key and returns its raw value once.
func (s *KeyService) CreateKey(ctx context.Context, actor, label string, rm RequestMeta) (*CreatedKey, error) {
	label, err := NormalizeLabel(label)
	if err != nil {
		return nil, err
	}

	m, err := s.newMaterial()
	if err != nil {
		return nil, err
	}

	key := &model.APIKey{
		Label:          label,
		Status:         model.KeyStatusActive,
		KeyHash:        m.hash,
		KeyFingerprint: m.fingerprint,
		KeyLast4:       m.last4,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		if errors.Is(err, config.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %v", ErrFingerprintCollision, err)
		}
		return nil, err
	}

	s.audit.Record(ctx, Event{
		Actor:      actor,
		TargetType: model.TargetAPIKey,
		TargetID:   strconv.FormatInt(key.ID, 10),
		IP:         rm.IP,
		Meta:       model.CreateKeyMeta{Label: key.Label, KeyLast4: key.KeyLast4},
	})
	s.logger.Info("api key created", "key_id", key.ID, "label", key.Label, "actor", actor)

	return &CreatedKey{
		ID:         key.ID,
		Label:      key.Label,
		Status:     key.Status,
		KeyLast4:   key.KeyLast4,
		RawKeyOnce: m.raw,
	}, nil
}

// ListKeys returns key metadata, newest first.
func (s *KeyService) ListKeys(ctx context.Context) ([]model.APIKey, error) {
	return s.store.ListAPIKeys(ctx)
}

// GetKey returns one key's metadata.
func (s *KeyService) GetKey(ctx context.Context, id int64) (*model.APIKey, error) {
	key, err := s.store.GetAPIKey(ctx, id)
	if errors.Is(err, config.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	return key, err
}

// RevokeKey moves a key to REVOKED. Revoking an already revoked key succeeds
// without changing it or writing another audit entry.
func (s *KeyService) RevokeKey(ctx context.Context, actor string, id int64, rm RequestMeta) error {
	changed, err := s.store.RevokeAPIKey(ctx, id, model.RevocationManual)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return ErrKeyNotFound
		}
		return err
	}
	if !changed {
		s.logger.Debug("api key already revoked", "key_id", id, "actor", actor)
		return nil
	}

	s.audit.Record(ctx, Event{
		Actor:      actor,
		TargetType: model.TargetAPIKey,
		TargetID:   strconv.FormatInt(id, 10),
		IP:         rm.IP,
		Meta:       model.RevokeKeyMeta{Reason: model.RevocationManual},
	})
	s.logger.Info("api key revoked", "key_id", id, "actor", actor)
	return nil
}

// AccessAndRotate authenticates raw, grants the asset and replaces the key's
// secret in one conditional update. When several callers present the same
// raw key concurrently exactly one wins; the others get ErrInvalidKey.
func (s *KeyService) AccessAndRotate(ctx context.Context, raw string, rm RequestMeta) (*AccessResult, error) {
	key, err := s.auth.AuthenticateKey(ctx, raw)
	if err != nil {
		return nil, err
	}

	m, err := s.newMaterial()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err = s.store.RotateAPIKey(ctx, config.RotateParams{
		ID:                    key.ID,
		ExpectedFingerprint:   key.KeyFingerprint,
		ExpectedRotationCount: key.RotationCount,
		NewHash:               m.hash,
		NewFingerprint:        m.fingerprint,
		NewLast4:              m.last4,
		At:                    now,
	})
	switch {
	case errors.Is(err, config.ErrStale):
		s.logger.Debug("api key rotation lost race", "key_id", key.ID, "request_id", rm.RequestID)
		return nil, ErrInvalidKey
	case errors.Is(err, config.ErrDuplicate):
		return nil, fmt.Errorf("%w: %v", ErrFingerprintCollision, err)
	case err != nil:
		return nil, err
	}

	rotations := key.RotationCount + 1
	target := strconv.FormatInt(key.ID, 10)
	s.audit.Record(ctx, Event{
		Actor:      ClientActor,
		TargetType: model.TargetAPIKey,
		TargetID:   target,
		IP:         rm.IP,
		Meta:       model.KeyUsedMeta{KeyLast4: key.KeyLast4, RequestID: rm.RequestID, UserAgent: rm.UserAgent},
	})
	s.audit.Record(ctx, Event{
		Actor:      ClientActor,
		TargetType: model.TargetAPIKey,
		TargetID:   target,
		IP:         rm.IP,
		Meta:       model.KeyRotatedMeta{PreviousLast4: key.KeyLast4, NewLast4: m.last4, RotationCount: rotations},
	})
	s.logger.Info("api key used and rotated", "key_id", key.ID, "rotation_count", rotations)

	return &AccessResult{
		Access: "granted",
		Asset: Asset{
			Name:          s.assetName,
			KeyID:         key.ID,
			KeyLabel:      key.Label,
			RotationCount: rotations,
			ServedAt:      now,
		},
		RotatedKeyOnce: m.raw,
	}, nil
}
