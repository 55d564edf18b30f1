package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/rotagate/rotagate/internal/config"
	"github.com/rotagate/rotagate/internal/model"
	"github.com/rotagate/rotagate/internal/secret"
)

const testJWTSecret = "test-secret-key-for-jwt"

type testEnv struct {
	store   *config.Store
	deriver *secret.Deriver
	auth    *AuthService
	audit   *Auditor
	keys    *KeyService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := config.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return newTestEnvWithAuditStore(t, store, store)
}

func newTestEnvWithAuditStore(t *testing.T, store *config.Store, auditStore AuditStore) *testEnv {
	t.Helper()
	deriver, err := secret.New(secret.Options{Pepper: "test-pepper", Cost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("secret.New: %v", err)
	}
	auth, err := NewAuthService(store, deriver, AuthOptions{JWTSecret: testJWTSecret, SessionTTL: time.Hour})
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := NewAuditor(auditStore, logger, nil)
	keys := NewKeyService(store, deriver, auth, audit, logger, KeyServiceOptions{})
	return &testEnv{store: store, deriver: deriver, auth: auth, audit: audit, keys: keys}
}

func seedAdmin(t *testing.T, env *testEnv) {
	t.Helper()
	created, err := env.auth.EnsureAdmin(context.Background(), "admin", "admin123")
	if err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if !created {
		t.Fatal("expected admin to be created")
	}
}

func TestNewAuthServiceRequiresSecret(t *testing.T) {
	env := newTestEnv(t)
	_, err := NewAuthService(env.store, env.deriver, AuthOptions{})
	if !errors.Is(err, ErrMissingJWTSecret) {
		t.Fatalf("expected ErrMissingJWTSecret, got %v", err)
	}
}

func TestSessionTTL(t *testing.T) {
	env := newTestEnv(t)
	if got := env.auth.SessionTTL(); got != time.Hour {
		t.Errorf("configured ttl: got %s, want 1h", got)
	}

	def, err := NewAuthService(env.store, env.deriver, AuthOptions{JWTSecret: testJWTSecret})
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	if got := def.SessionTTL(); got != DefaultSessionTTL {
		t.Errorf("default ttl: got %s, want %s", got, DefaultSessionTTL)
	}

	if _, err := NewAuthService(env.store, env.deriver, AuthOptions{JWTSecret: testJWTSecret, SessionTTL: -time.Minute}); err == nil {
		t.Error("expected error for a negative ttl")
	}
}

func TestLoginSeededAdmin(t *testing.T) {
	env := newTestEnv(t)
	seedAdmin(t, env)

	sess, err := env.auth.Login(context.Background(), "admin", "admin123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.Token == "" {
		t.Fatal("expected non-empty token")
	}
	if sess.TokenType != "Bearer" {
		t.Errorf("token type: got %q", sess.TokenType)
	}
	if sess.ExpiresIn != 3600 {
		t.Errorf("expires_in: got %d, want 3600", sess.ExpiresIn)
	}

	id, err := env.auth.VerifySession(context.Background(), sess.Token)
	if err != nil {
		t.Fatalf("VerifySession: %v", err)
	}
	if id.Username != "admin" {
		t.Errorf("username: got %q", id.Username)
	}
	if id.UserID == 0 {
		t.Error("expected user id in token")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	seedAdmin(t, env)
	ctx := context.Background()

	_, errWrongPassword := env.auth.Login(ctx, "admin", "nope")
	_, errUnknownUser := env.auth.Login(ctx, "ghost", "admin123")

	if !errors.Is(errWrongPassword, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v", errWrongPassword)
	}
	if !errors.Is(errUnknownUser, ErrInvalidCredentials) {
		t.Errorf("unknown user: got %v", errUnknownUser)
	}
	if errWrongPassword.Error() != errUnknownUser.Error() {
		t.Errorf("messages differ: %q vs %q", errWrongPassword, errUnknownUser)
	}
}

func TestLoginMissingCredentials(t *testing.T) {
	env := newTestEnv(t)
	for _, tc := range []struct{ user, pass string }{{"", "x"}, {"admin", ""}, {"  ", "x"}} {
		_, err := env.auth.Login(context.Background(), tc.user, tc.pass)
		if !errors.Is(err, ErrMissingCredentials) {
			t.Errorf("Login(%q, %q): got %v", tc.user, tc.pass, err)
		}
		if KindOf(err) != KindValidation {
			t.Errorf("kind: got %s", KindOf(err))
		}
	}
}

func TestEnsureAdminOnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	seedAdmin(t, env)

	created, err := env.auth.EnsureAdmin(context.Background(), "admin", "other")
	if err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if created {
		t.Error("admin must not be seeded twice")
	}
	if _, err := env.auth.Login(context.Background(), "admin", "admin123"); err != nil {
		t.Errorf("original password should still work: %v", err)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.auth.CreateUser(ctx, "ops", "pw"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := env.auth.CreateUser(ctx, "ops", "pw2"); !errors.Is(err, config.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestVerifySessionRejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := &model.User{ID: 1, Username: "admin"}

	expired, err := NewAuthService(env.store, env.deriver, AuthOptions{JWTSecret: testJWTSecret, SessionTTL: time.Nanosecond})
	if err != nil {
		t.Fatal(err)
	}
	expiredSession, err := expired.IssueSession(user)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(1100 * time.Millisecond)

	otherKey, err := NewAuthService(env.store, env.deriver, AuthOptions{JWTSecret: "some-other-secret"})
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := otherKey.IssueSession(user)
	if err != nil {
		t.Fatal(err)
	}

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "admin", "iss": TokenIssuer, "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin", "iss": "someone-else", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{
		"empty":        "",
		"garbage":      "garbage.token.here",
		"expired":      expiredSession.Token,
		"wrong secret": foreign.Token,
		"alg none":     noneToken,
		"wrong issuer": wrongIssuer,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := env.auth.VerifySession(ctx, token)
			if !errors.Is(err, ErrInvalidOrExpiredToken) {
				t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
			}
		})
	}
}

func TestAuthenticateKeyMissing(t *testing.T) {
	env := newTestEnv(t)
	// A closed store proves the empty key never reaches the database.
	env.store.Close()

	_, err := env.auth.AuthenticateKey(context.Background(), "")
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
}

func TestAuthenticateKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.keys.CreateKey(ctx, "admin", "svc", RequestMeta{})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	key, err := env.auth.AuthenticateKey(ctx, created.RawKeyOnce)
	if err != nil {
		t.Fatalf("AuthenticateKey: %v", err)
	}
	if key.ID != created.ID {
		t.Errorf("id: got %d, want %d", key.ID, created.ID)
	}

	if _, err := env.auth.AuthenticateKey(ctx, "rk_not-a-real-key"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("unknown key: got %v", err)
	}

	// A fingerprint hit whose hash does not verify is also just invalid.
	tampered := &model.APIKey{
		Label:          "tampered",
		KeyHash:        "$2a$04$invalidinvalidinvalidinvalidinvalidinvalidinvalidinva",
		KeyFingerprint: env.deriver.Fingerprint("rk_tampered"),
		KeyLast4:       "ered",
	}
	if err := env.store.CreateAPIKey(ctx, tampered); err != nil {
		t.Fatal(err)
	}
	if _, err := env.auth.AuthenticateKey(ctx, "rk_tampered"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("hash mismatch: got %v", err)
	}

	if err := env.keys.RevokeKey(ctx, "admin", created.ID, RequestMeta{}); err != nil {
		t.Fatal(err)
	}
	_, err = env.auth.AuthenticateKey(ctx, created.RawKeyOnce)
	if !errors.Is(err, ErrKeyNotActive) {
		t.Fatalf("revoked key: got %v", err)
	}
	if KindOf(err) != KindAuthorization {
		t.Errorf("kind: got %s", KindOf(err))
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{ErrMissingKey, KindValidation},
		{ErrInvalidLabel, KindValidation},
		{ErrInvalidKey, KindAuthentication},
		{ErrInvalidOrExpiredToken, KindAuthentication},
		{ErrKeyNotActive, KindAuthorization},
		{ErrKeyNotFound, KindNotFound},
		{ErrFingerprintCollision, KindIntegrity},
		{errors.New("boom"), KindInternal},
		{nil, KindInternal},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v): got %s, want %s", tt.err, got, tt.want)
		}
	}

	wrapped := errors.Join(errors.New("context"), ErrKeyNotFound)
	if KindOf(wrapped) != KindNotFound {
		t.Errorf("wrapped: got %s", KindOf(wrapped))
	}
	if !strings.Contains(ErrKeyNotFound.Error(), "not found") {
		t.Errorf("message: %q", ErrKeyNotFound)
	}
}
