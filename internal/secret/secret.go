// Package secret derives the values stored in place of raw API keys: a fast
// peppered fingerprint used for indexed lookup and a slow bcrypt hash used for
// verification. It also generates raw keys and hashes operator passwords.
package secret

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix is prepended to every generated raw key so leaked values are easy
// to recognise in logs and secret scanners.
const KeyPrefix = "rk_"

// rawKeyBytes is the entropy of a generated key (256 bits).
const rawKeyBytes = 32

// ErrMissingPepper is returned by New when no pepper is configured.
var ErrMissingPepper = errors.New("secret: pepper is required")

// Options configures a Deriver.
type Options struct {
	// Pepper is the server-side secret mixed into fingerprints and hashes.
	Pepper string
	// Cost is the bcrypt work factor. Zero means bcrypt.DefaultCost.
	Cost int
}

// Deriver computes fingerprints and hashes for raw keys. It is safe for
// concurrent use.
type Deriver struct {
	pepper []byte
	cost   int
	dummy  []byte
}

// New validates opts and returns a Deriver.
func New(opts Options) (*Deriver, error) {
	if opts.Pepper == "" {
		return nil, ErrMissingPepper
	}
	cost := opts.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("secret: bcrypt cost %d outside [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	d := &Deriver{pepper: []byte(opts.Pepper), cost: cost}

	// A throwaway hash at the configured cost, compared on lookup misses so
	// that unknown keys take as long to reject as known ones.
	dummy, err := bcrypt.GenerateFromPassword([]byte("rotagate-dummy"), cost)
	if err != nil {
		return nil, fmt.Errorf("secret: prepare dummy hash: %w", err)
	}
	d.dummy = dummy
	return d, nil
}

// Cost returns the bcrypt work factor in use.
func (d *Deriver) Cost() int {
	return d.cost
}

// Fingerprint returns the hex HMAC-SHA256 of raw under the pepper. Equal
// inputs always produce equal fingerprints.
func (d *Deriver) Fingerprint(raw string) string {
	return hex.EncodeToString(d.mac("fp:", raw))
}

// Hash returns a salted bcrypt hash of the peppered raw key.
func (d *Deriver) Hash(raw string) (string, error) {
	h, err := bcrypt.GenerateFromPassword(d.preHash(raw), d.cost)
	if err != nil {
		return "", fmt.Errorf("hash key: %w", err)
	}
	return string(h), nil
}

// Verify reports whether raw matches a hash produced by Hash.
func (d *Deriver) Verify(raw, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), d.preHash(raw)) == nil
}

// BurnCompare performs a comparison against a dummy hash and discards the
// result. Callers use it on lookup misses to equalize response timing.
func (d *Deriver) BurnCompare(raw string) {
	_ = bcrypt.CompareHashAndPassword(d.dummy, d.preHash(raw))
}

// preHash keeps bcrypt's input below its 72 byte limit while still binding
// the pepper. The "pw:" domain keeps it distinct from the fingerprint.
func (d *Deriver) preHash(raw string) []byte {
	sum := d.mac("pw:", raw)
	out := make([]byte, base64.RawStdEncoding.EncodedLen(len(sum)))
	base64.RawStdEncoding.Encode(out, sum)
	return out
}

func (d *Deriver) mac(domain, raw string) []byte {
	m := hmac.New(sha256.New, d.pepper)
	m.Write([]byte(domain))
	m.Write([]byte(raw))
	return m.Sum(nil)
}

// GenerateRawKey returns a new opaque key with 256 bits of entropy.
func GenerateRawKey() (string, error) {
	b := make([]byte, rawKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// Last4 returns the last four characters of raw for display.
func Last4(raw string) string {
	if len(raw) <= 4 {
		return raw
	}
	return raw[len(raw)-4:]
}
