package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rotagate/rotagate/internal/config"
	"github.com/rotagate/rotagate/internal/model"
	"github.com/rotagate/rotagate/internal/secret"
)

// TokenIssuer is the iss claim of every session token.
const TokenIssuer = "rotagate"

// DefaultSessionTTL is used when AuthOptions.SessionTTL is zero.
const DefaultSessionTTL = 2 * time.Hour

// ErrMissingJWTSecret is returned by NewAuthService without a signing secret.
var ErrMissingJWTSecret = errors.New("auth: jwt secret is required")

// AuthOptions configures session issuance.
type AuthOptions struct {
	JWTSecret  string
	SessionTTL time.Duration
}

// Session is a freshly issued operator session.
type Session struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresIn int64     `json:"expires_in"`
	ExpiresAt time.Time `json:"-"`
}

// Identity is the operator proven by a session token.
type Identity struct {
	UserID   int64
	Username string
}

// AuthService is the authentication gate: operator login and sessions, and
// machine access with API keys.
type AuthService struct {
	store     *config.Store
	deriver   *secret.Deriver
	jwtSecret []byte
	ttl       time.Duration

	// dummyPassword is compared when a login names an unknown user.
	dummyPassword string
}

// NewAuthService creates an AuthService.
func NewAuthService(store *config.Store, deriver *secret.Deriver, opts AuthOptions) (*AuthService, error) {
	if opts.JWTSecret == "" {
		return nil, ErrMissingJWTSecret
	}
	ttl := opts.SessionTTL
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	if ttl < 0 {
		return nil, fmt.Errorf("auth: session ttl must be positive, got %s", ttl)
	}

	dummy, err := secret.HashPassword("rotagate-dummy-password", deriver.Cost())
	if err != nil {
		return nil, err
	}

	return &AuthService{
		store:         store,
		deriver:       deriver,
		jwtSecret:     []byte(opts.JWTSecret),
		ttl:           ttl,
		dummyPassword: dummy,
	}, nil
}

// SessionTTL returns the lifetime of issued session tokens.
func (s *AuthService) SessionTTL() time.Duration {
	return s.ttl
}

// Login checks operator credentials and issues a session token. Unknown users
// and wrong passwords produce the same error after the same amount of work.
func (s *AuthService) Login(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			secret.VerifyPassword(password, s.dummyPassword)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	if !secret.VerifyPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.IssueSession(user)
}

// IssueSession signs a session token for user.
func (s *AuthService) IssueSession(user *model.User) (*Session, error) {
	now := time.Now()
	exp := now.Add(s.ttl)
	claims := sessionClaims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    TokenIssuer,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	return &Session{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int64(s.ttl / time.Second),
		ExpiresAt: exp,
	}, nil
}

// VerifySession checks a session token's signature, algorithm, issuer and
// expiry. It never touches the store.
func (s *AuthService) VerifySession(ctx context.Context, tokenStr string) (*Identity, error) {
	if tokenStr == "" {
		return nil, ErrInvalidOrExpiredToken
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidOrExpiredToken
	}

	return &Identity{UserID: claims.UserID, Username: claims.Subject}, nil
}

type sessionClaims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// AuthenticateKey resolves a presented raw key to its ACTIVE row. Missing
// fingerprints and hash mismatches both yield ErrInvalidKey; a matching key
// that was revoked yields ErrKeyNotActive.
func (s *AuthService) AuthenticateKey(ctx context.Context, raw string) (*model.APIKey, error) {
	if raw == "" {
		return nil, ErrMissingKey
	}

	key, err := s.store.GetAPIKeyByFingerprint(ctx, s.deriver.Fingerprint(raw))
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			s.deriver.BurnCompare(raw)
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("authenticate key: %w", err)
	}

	if !s.deriver.Verify(raw, key.KeyHash) {
		return nil, ErrInvalidKey
	}
	if !key.IsActive() {
		return nil, ErrKeyNotActive
	}
	return key, nil
}

// CreateUser adds an operator account.
func (s *AuthService) CreateUser(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	hash, err := secret.HashPassword(password, s.deriver.Cost())
	if err != nil {
		return nil, err
	}
	user := &model.User{Username: username, PasswordHash: hash}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// EnsureAdmin creates the built-in operator when no user exists yet. It
// reports whether a user was created.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	exists, err := s.store.HasAnyUser(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := s.CreateUser(ctx, username, password); err != nil {
		return false, fmt.Errorf("seed admin: %w", err)
	}
	return true, nil
}

// Actor returns the audit actor name for an identity.
func (id *Identity) Actor() string {
	if id == nil {
		return ""
	}
	return id.Username
}
