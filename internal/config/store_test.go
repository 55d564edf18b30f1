package config

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rotagate/rotagate/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestKey(t *testing.T, s *Store, label, fingerprint string) *model.APIKey {
	t.Helper()
	key := &model.APIKey{
		Label:          label,
		Status:         model.KeyStatusActive,
		KeyHash:        "hash-" + fingerprint,
		KeyFingerprint: fingerprint,
		KeyLast4:       "ab12",
	}
	if err := s.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return key
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(StoreOptions{Driver: "db2"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestOpenRequiresDSNForServerDrivers(t *testing.T) {
	for _, driver := range []string{DriverPostgres, DriverMySQL, DriverMSSQL, DriverOracle} {
		if _, err := Open(StoreOptions{Driver: driver}); err == nil {
			t.Errorf("%s: expected error for empty dsn", driver)
		}
	}
}

func TestFileBackedStore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	newTestKey(t, s, "persisted", "fp-persisted")
	s.Close()

	// Reopen: migrations must be idempotent and data must survive.
	s2, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen NewStore: %v", err)
	}
	defer s2.Close()

	keys, err := s2.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 1 || keys[0].Label != "persisted" {
		t.Fatalf("expected persisted key after reopen, got %+v", keys)
	}
}

func TestFileBackedStoreUsesWAL(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()

	var mode string
	if err := s.db.Get(&mode, "PRAGMA journal_mode"); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode: got %q, want wal", mode)
	}
	var timeout int
	if err := s.db.Get(&timeout, "PRAGMA busy_timeout"); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout: got %d, want 5000", timeout)
	}
}

// A second process (the CLI next to a running server) must wait for the
// write lock instead of failing with SQLITE_BUSY.
func TestSecondWriterWaitsForLock(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore first: %v", err)
	}
	defer first.Close()
	second, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore second: %v", err)
	}
	defer second.Close()

	tx, err := first.db.BeginTxx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tx.Exec("INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)",
		"holder", "hash", time.Now().UTC()); err != nil {
		t.Fatalf("insert in tx: %v", err)
	}

	const hold = 200 * time.Millisecond
	committed := make(chan error, 1)
	go func() {
		time.Sleep(hold)
		committed <- tx.Commit()
	}()

	start := time.Now()
	newTestKey(t, second, "waiter", "fp-waiter")
	if waited := time.Since(start); waited < hold/2 {
		t.Errorf("second writer returned after %s, expected it to wait for the lock", waited)
	}
	if err := <-committed; err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := second.GetUserByUsername(ctx, "holder"); err != nil {
		t.Errorf("first writer's row not visible: %v", err)
	}
}

func TestDialectsCoverEveryDriver(t *testing.T) {
	for _, name := range DriverNames() {
		d, ok := dialects[name]
		if !ok {
			t.Errorf("%s: no dialect", name)
			continue
		}
		if d.name != name || d.sqlDriver == "" || d.limit == "" {
			t.Errorf("%s: incomplete dialect %+v", name, d)
		}
		if len(d.migrations) < 3 {
			t.Errorf("%s: expected users, api_keys and audit_log migrations", name)
		}
		for _, table := range []string{"users", "api_keys", "audit_log"} {
			found := false
			for _, m := range d.migrations {
				if strings.Contains(m, "TABLE "+table+" (") {
					found = true
				}
			}
			if !found {
				t.Errorf("%s: no CREATE TABLE for %s", name, table)
			}
		}
	}
	if len(dialects) != len(DriverNames()) {
		t.Errorf("DriverNames lists %d drivers, dialects has %d", len(DriverNames()), len(dialects))
	}
}

func TestInsertQueryPerDialect(t *testing.T) {
	const q = "INSERT INTO users (username, password_hash) VALUES (?, ?)"
	tests := []struct {
		driver string
		want   string
	}{
		{DriverSQLite, "INSERT INTO users (username, password_hash) VALUES (?, ?)"},
		{DriverMySQL, "INSERT INTO users (username, password_hash) VALUES (?, ?)"},
		{DriverPostgres, "INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id"},
		{DriverMSSQL, "INSERT INTO users (username, password_hash) OUTPUT INSERTED.id VALUES (@p1, @p2)"},
		{DriverOracle, "INSERT INTO users (username, password_hash) VALUES (:arg1, :arg2) RETURNING id INTO :arg3"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			d := dialects[tt.driver]
			got := sqlx.Rebind(sqlx.BindType(d.sqlDriver), d.insertQuery(q))
			if got != tt.want {
				t.Errorf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestClassifyWriteError(t *testing.T) {
	dupes := []string{
		"UNIQUE constraint failed: api_keys.key_fingerprint",                                    // sqlite
		`duplicate key value violates unique constraint "api_keys_key_fingerprint_key"`,         // postgres
		"Error 1062 (23000): Duplicate entry 'x' for key 'key_fingerprint'",                     // mysql
		"mssql: Violation of UNIQUE KEY constraint 'UQ__api_keys'. Cannot insert duplicate key", // mssql
		"ORA-00001: unique constraint (ROTAGATE.SYS_C008) violated",                             // oracle
	}
	for _, msg := range dupes {
		if err := classifyWriteError(errors.New(msg)); !errors.Is(err, ErrDuplicate) {
			t.Errorf("%q: expected ErrDuplicate, got %v", msg, err)
		}
	}
	if err := classifyWriteError(errors.New("connection reset")); errors.Is(err, ErrDuplicate) {
		t.Error("unrelated error classified as duplicate")
	}
}

func TestAlreadyApplied(t *testing.T) {
	if !alreadyApplied(errors.New("ORA-00955: name is already used by an existing object")) {
		t.Error("ORA-00955 should mean the table exists")
	}
	if alreadyApplied(errors.New("ORA-00942: table or view does not exist")) {
		t.Error("ORA-00942 is a real failure")
	}
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	has, err := s.HasAnyUser(ctx)
	if err != nil {
		t.Fatalf("HasAnyUser: %v", err)
	}
	if has {
		t.Fatal("expected no users in fresh store")
	}

	user := &model.User{Username: "admin", PasswordHash: "bcrypt-hash"}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.ID == 0 {
		t.Fatal("expected non-zero ID after create")
	}

	got, err := s.GetUserByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if got.ID != user.ID || got.PasswordHash != "bcrypt-hash" {
		t.Errorf("got %+v, want id %d", got, user.ID)
	}

	if _, err := s.GetUserByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	dup := &model.User{Username: "admin", PasswordHash: "x"}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate for duplicate username, got %v", err)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("got %d users, want 1", len(users))
	}
}

func TestAPIKeyCreateAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := newTestKey(t, s, "k1", "fp-1")
	if key.ID == 0 {
		t.Fatal("expected non-zero ID after create")
	}

	got, err := s.GetAPIKeyByFingerprint(ctx, "fp-1")
	if err != nil {
		t.Fatalf("GetAPIKeyByFingerprint: %v", err)
	}
	if got.ID != key.ID || got.Status != model.KeyStatusActive || got.RotationCount != 0 {
		t.Errorf("unexpected key %+v", got)
	}
	if got.LastUsedAt != nil || got.RevokedAt != nil {
		t.Error("new key should have no last_used_at or revoked_at")
	}

	if _, err := s.GetAPIKeyByFingerprint(ctx, "fp-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetAPIKey(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAPIKeyFingerprintUnique(t *testing.T) {
	s := newTestStore(t)
	newTestKey(t, s, "first", "fp-same")

	dup := &model.APIKey{Label: "second", KeyHash: "h", KeyFingerprint: "fp-same", KeyLast4: "zzzz"}
	err := s.CreateAPIKey(context.Background(), dup)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestListAPIKeysNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newTestKey(t, s, "a", "fp-a")
	b := newTestKey(t, s, "b", "fp-b")
	c := newTestKey(t, s, "c", "fp-c")

	keys, err := s.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("got %d keys, want 3", len(keys))
	}
	if keys[0].ID != c.ID || keys[1].ID != b.ID || keys[2].ID != a.ID {
		t.Errorf("expected ids [%d %d %d], got [%d %d %d]",
			c.ID, b.ID, a.ID, keys[0].ID, keys[1].ID, keys[2].ID)
	}
}

func TestListAPIKeysEmpty(t *testing.T) {
	s := newTestStore(t)
	keys, err := s.ListAPIKeys(context.Background())
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if keys == nil || len(keys) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", keys)
	}
}

func TestRevokeAPIKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := newTestKey(t, s, "k", "fp-r")

	changed, err := s.RevokeAPIKey(ctx, key.ID, model.RevocationManual)
	if err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if !changed {
		t.Fatal("expected first revoke to change the row")
	}

	got, _ := s.GetAPIKey(ctx, key.ID)
	if got.Status != model.KeyStatusRevoked {
		t.Errorf("status = %s, want REVOKED", got.Status)
	}
	if got.RevokedAt == nil {
		t.Fatal("expected revoked_at to be set")
	}
	if got.RevocationReason == nil || *got.RevocationReason != model.RevocationManual {
		t.Errorf("unexpected revocation reason %v", got.RevocationReason)
	}
	firstRevokedAt := *got.RevokedAt

	// Second revoke is a no-op and keeps the original timestamp.
	changed, err = s.RevokeAPIKey(ctx, key.ID, "OTHER")
	if err != nil {
		t.Fatalf("second RevokeAPIKey: %v", err)
	}
	if changed {
		t.Error("expected second revoke to report no change")
	}
	again, _ := s.GetAPIKey(ctx, key.ID)
	if !again.RevokedAt.Equal(firstRevokedAt) || *again.RevocationReason != model.RevocationManual {
		t.Error("second revoke must not overwrite revocation fields")
	}

	if _, err := s.RevokeAPIKey(ctx, 9999, model.RevocationManual); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRotateAPIKeyCompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := newTestKey(t, s, "k", "fp-0")

	err := s.RotateAPIKey(ctx, RotateParams{
		ID:                    key.ID,
		ExpectedFingerprint:   "fp-0",
		ExpectedRotationCount: 0,
		NewHash:               "hash-1",
		NewFingerprint:        "fp-1",
		NewLast4:              "0001",
		At:                    time.Now(),
	})
	if err != nil {
		t.Fatalf("RotateAPIKey: %v", err)
	}

	got, _ := s.GetAPIKey(ctx, key.ID)
	if got.KeyFingerprint != "fp-1" || got.KeyHash != "hash-1" || got.KeyLast4 != "0001" {
		t.Errorf("secret material not replaced together: %+v", got)
	}
	if got.RotationCount != 1 {
		t.Errorf("rotation_count = %d, want 1", got.RotationCount)
	}
	if got.LastRotatedAt == nil || got.LastUsedAt == nil {
		t.Error("expected last_rotated_at and last_used_at to be set")
	}

	// Replaying the old expectation must fail without touching the row.
	err = s.RotateAPIKey(ctx, RotateParams{
		ID:                    key.ID,
		ExpectedFingerprint:   "fp-0",
		ExpectedRotationCount: 0,
		NewHash:               "hash-x",
		NewFingerprint:        "fp-x",
		NewLast4:              "xxxx",
		At:                    time.Now(),
	})
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	again, _ := s.GetAPIKey(ctx, key.ID)
	if again.KeyFingerprint != "fp-1" || again.RotationCount != 1 {
		t.Errorf("stale rotation modified the row: %+v", again)
	}
}

func TestRotateRevokedKeyIsStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := newTestKey(t, s, "k", "fp-0")

	if _, err := s.RevokeAPIKey(ctx, key.ID, model.RevocationManual); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	err := s.RotateAPIKey(ctx, RotateParams{
		ID: key.ID, ExpectedFingerprint: "fp-0", ExpectedRotationCount: 0,
		NewHash: "h", NewFingerprint: "fp-1", NewLast4: "1111", At: time.Now(),
	})
	if !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale for revoked key, got %v", err)
	}
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := newTestKey(t, s, "k", "fp-0")

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		stale   int
		unknown []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.RotateAPIKey(ctx, RotateParams{
				ID: key.ID, ExpectedFingerprint: "fp-0", ExpectedRotationCount: 0,
				NewHash: "h", NewFingerprint: "fp-new-" + string(rune('a'+i)), NewLast4: "nnnn",
				At: time.Now(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrStale):
				stale++
			default:
				unknown = append(unknown, err)
			}
		}(i)
	}
	wg.Wait()

	if len(unknown) > 0 {
		t.Fatalf("unexpected errors: %v", unknown)
	}
	if wins != 1 || stale != workers-1 {
		t.Fatalf("wins=%d stale=%d, want 1 and %d", wins, stale, workers-1)
	}
	got, _ := s.GetAPIKey(ctx, key.ID)
	if got.RotationCount != 1 {
		t.Errorf("rotation_count = %d, want 1", got.RotationCount)
	}
}

func TestKeyStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stats, err := s.KeyStats(ctx)
	if err != nil {
		t.Fatalf("KeyStats: %v", err)
	}
	if stats != (model.KeyStats{}) {
		t.Errorf("expected zero stats on empty store, got %+v", stats)
	}

	a := newTestKey(t, s, "a", "fp-a")
	newTestKey(t, s, "b", "fp-b")
	c := newTestKey(t, s, "c", "fp-c")

	for i, next := range []string{"fp-a1", "fp-a2"} {
		prev := "fp-a"
		if i > 0 {
			prev = "fp-a1"
		}
		if err := s.RotateAPIKey(ctx, RotateParams{
			ID: a.ID, ExpectedFingerprint: prev, ExpectedRotationCount: int64(i),
			NewHash: "h", NewFingerprint: next, NewLast4: "aaaa", At: time.Now(),
		}); err != nil {
			t.Fatalf("RotateAPIKey: %v", err)
		}
	}
	if _, err := s.RevokeAPIKey(ctx, c.ID, model.RevocationManual); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}

	stats, err = s.KeyStats(ctx)
	if err != nil {
		t.Fatalf("KeyStats: %v", err)
	}
	want := model.KeyStats{Active: 2, Revoked: 1, Rotations: 2}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestAuditAppendAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	target := model.TargetAPIKey
	id := "7"
	ip := "10.0.0.1"
	for _, action := range []model.AuditAction{model.ActionCreateKey, model.ActionKeyUsed, model.ActionKeyRotated} {
		entry := &model.AuditLogEntry{
			Actor:      "admin",
			Action:     action,
			TargetType: &target,
			TargetID:   &id,
			IP:         &ip,
			Meta:       []byte(`{"key_last4":"ab12"}`),
		}
		if err := s.AppendAudit(ctx, entry); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
		if entry.ID == 0 {
			t.Fatal("expected non-zero audit id")
		}
	}
	// Entry without optional fields or meta.
	if err := s.AppendAudit(ctx, &model.AuditLogEntry{Actor: "system", Action: model.ActionRevokeKey}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}

	entries, err := s.ListRecentAudit(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecentAudit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Action != model.ActionRevokeKey || entries[1].Action != model.ActionKeyRotated {
		t.Errorf("expected newest first, got %s then %s", entries[0].Action, entries[1].Action)
	}
	if entries[0].TargetType != nil || entries[0].IP != nil {
		t.Error("expected nil optional fields on bare entry")
	}
	if string(entries[0].Meta) != "{}" {
		t.Errorf("expected empty object meta, got %s", entries[0].Meta)
	}
	if entries[1].IP == nil || *entries[1].IP != ip {
		t.Errorf("unexpected ip %v", entries[1].IP)
	}
	if string(entries[1].Meta) != `{"key_last4":"ab12"}` {
		t.Errorf("unexpected meta %s", entries[1].Meta)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if s.Driver() != DriverSQLite {
		t.Errorf("Driver() = %q, want sqlite", s.Driver())
	}
}
