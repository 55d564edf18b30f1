package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"
	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/sijms/go-ora/v2"
	_ "modernc.org/sqlite"

	"github.com/rotagate/rotagate/internal/model"
)

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMSSQL    = "mssql"
	DriverOracle   = "oracle"
)

// sqliteParams are modernc.org/sqlite connection pragmas. Every pooled
// connection runs them on open.
const sqliteParams = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// insertIDStyle is how an engine hands back the id of a new row.
type insertIDStyle int

const (
	idLastInsert    insertIDStyle = iota // sql.Result.LastInsertId
	idReturning                          // INSERT ... RETURNING id
	idOutput                             // INSERT ... OUTPUT INSERTED.id VALUES ...
	idReturningInto                      // INSERT ... RETURNING id INTO :out
)

// dialect captures the per-engine differences the Store cares about.
type dialect struct {
	name       string
	sqlDriver  string
	migrations []string
	insertID   insertIDStyle
	// limit is the row cap appended after ORDER BY, with one placeholder.
	limit string
	// upperColumns is set for engines that report unquoted column names in
	// upper case.
	upperColumns bool
}

var dialects = map[string]dialect{
	DriverSQLite:   {name: DriverSQLite, sqlDriver: "sqlite", migrations: sqliteMigrations, limit: "LIMIT ?"},
	DriverPostgres: {name: DriverPostgres, sqlDriver: "pgx", migrations: postgresMigrations, insertID: idReturning, limit: "LIMIT ?"},
	DriverMySQL:    {name: DriverMySQL, sqlDriver: "mysql", migrations: mysqlMigrations, limit: "LIMIT ?"},
	DriverMSSQL:    {name: DriverMSSQL, sqlDriver: "sqlserver", migrations: mssqlMigrations, insertID: idOutput, limit: "OFFSET 0 ROWS FETCH NEXT ? ROWS ONLY"},
	DriverOracle:   {name: DriverOracle, sqlDriver: "oracle", migrations: oracleMigrations, insertID: idReturningInto, limit: "FETCH FIRST ? ROWS ONLY", upperColumns: true},
}

func init() {
	// go-ora registers as "oracle", which sqlx does not know; it takes
	// :name placeholders bound by position.
	sqlx.BindDriver("oracle", sqlx.NAMED)
}

// insertQuery rewrites an INSERT written with ? placeholders so that it
// yields the new id on this engine.
func (d dialect) insertQuery(q string) string {
	switch d.insertID {
	case idReturning:
		return q + " RETURNING id"
	case idOutput:
		return strings.Replace(q, "VALUES", "OUTPUT INSERTED.id VALUES", 1)
	case idReturningInto:
		return q + " RETURNING id INTO ?"
	default:
		return q
	}
}

// DriverNames lists the accepted store.driver values in a stable order.
func DriverNames() []string {
	return []string{DriverSQLite, DriverPostgres, DriverMySQL, DriverMSSQL, DriverOracle}
}

// StoreOptions selects the database backing a Store.
type StoreOptions struct {
	// Driver is one of DriverNames. Empty means sqlite.
	Driver string
	// DSN is the connection string for every driver but sqlite. MySQL DSNs
	// must include parseTime=true.
	DSN string
	// DataDir holds the SQLite file. Empty means an in-memory database.
	DataDir string
}

// Store is the credential store. It exclusively owns persistence of users,
// API keys and the append-only audit log.
type Store struct {
	db      *sqlx.DB
	dialect dialect
}

// NewStore opens a SQLite store in dataDir. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	return Open(StoreOptions{Driver: DriverSQLite, DataDir: dataDir})
}

// Open connects to the configured database and applies migrations.
func Open(opts StoreOptions) (*Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	dsn := opts.DSN
	if driver == DriverSQLite {
		if opts.DataDir == "" {
			dsn = ":memory:" + sqliteParams
		} else {
			if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
			dsn = filepath.Join(opts.DataDir, "rotagate.db") + sqliteParams
		}
	} else if dsn == "" {
		return nil, fmt.Errorf("store driver %q requires a dsn", driver)
	}

	db, err := sqlx.Connect(d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open credential database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	}
	if d.upperColumns {
		db.Mapper = reflectx.NewMapperTagFunc("db", strings.ToUpper, strings.ToUpper)
	}

	s := &Store{db: db, dialect: d}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate credential database: %w", err)
	}
	return s, nil
}

// Driver returns the name of the engine behind the store.
func (s *Store) Driver() string {
	return s.dialect.name
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// insert runs an INSERT written with ? placeholders and returns the new id.
func (s *Store) insert(ctx context.Context, q string, args ...interface{}) (int64, error) {
	q = s.db.Rebind(s.dialect.insertQuery(q))

	var id int64
	switch s.dialect.insertID {
	case idReturning, idOutput:
		if err := s.db.QueryRowxContext(ctx, q, args...).Scan(&id); err != nil {
			return 0, classifyWriteError(err)
		}
		return id, nil
	case idReturningInto:
		args = append(args, sql.Out{Dest: &id})
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return 0, classifyWriteError(err)
		}
		return id, nil
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, classifyWriteError(err)
	}
	return result.LastInsertId()
}

// classifyWriteError maps unique constraint violations from any of the
// supported engines to ErrDuplicate.
func classifyWriteError(err error) error {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "unique constraint"),
		strings.Contains(lower, "unique key constraint"),
		strings.Contains(lower, "ora-00001"),
		strings.Contains(lower, "duplicate key"),
		strings.Contains(lower, "duplicate entry"):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user. The ID and CreatedAt fields are populated
// after a successful insert.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	user.CreatedAt = time.Now().UTC()

	id, err := s.insert(ctx,
		"INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)",
		user.Username, user.PasswordHash, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	user.ID = id
	return nil
}

// GetUserByUsername returns a user by its unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	q := s.db.Rebind("SELECT id, username, password_hash, created_at FROM users WHERE username = ?")
	if err := s.db.GetContext(ctx, &user, q, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return &user, nil
}

// ListUsers returns all users ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users,
		"SELECT id, username, password_hash, created_at FROM users ORDER BY username"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// HasAnyUser reports whether at least one user exists. Used on startup to
// decide whether the built-in admin must be seeded.
func (s *Store) HasAnyUser(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users"); err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

const apiKeyColumns = `id, label, status, key_hash, key_fingerprint, key_last4, rotation_count,
	created_at, last_used_at, last_rotated_at, revoked_at, revocation_reason`

// apiKeyRow scans an api_keys row. Label is nullable because Oracle stores
// the empty string as NULL.
type apiKeyRow struct {
	model.APIKey
	Label sql.NullString `db:"label"`
}

func (r apiKeyRow) toModel() model.APIKey {
	key := r.APIKey
	key.Label = r.Label.String
	return key
}

// CreateAPIKey inserts a new API key. KeyHash, KeyFingerprint and KeyLast4
// must already be derived from the same raw key. The ID and CreatedAt fields
// are populated after insert. A fingerprint collision returns ErrDuplicate.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()
	if key.Status == "" {
		key.Status = model.KeyStatusActive
	}

	id, err := s.insert(ctx,
		`INSERT INTO api_keys
		(label, status, key_hash, key_fingerprint, key_last4, rotation_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.Label, string(key.Status), key.KeyHash, key.KeyFingerprint, key.KeyLast4, key.RotationCount, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	key.ID = id
	return nil
}

// GetAPIKey returns an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	var row apiKeyRow
	q := s.db.Rebind("SELECT " + apiKeyColumns + " FROM api_keys WHERE id = ?")
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	key := row.toModel()
	return &key, nil
}

// GetAPIKeyByFingerprint looks up an API key by the fingerprint of its
// current raw value, regardless of status.
func (s *Store) GetAPIKeyByFingerprint(ctx context.Context, fingerprint string) (*model.APIKey, error) {
	var row apiKeyRow
	q := s.db.Rebind("SELECT " + apiKeyColumns + " FROM api_keys WHERE key_fingerprint = ?")
	if err := s.db.GetContext(ctx, &row, q, fingerprint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by fingerprint: %w", err)
	}
	key := row.toModel()
	return &key, nil
}

// ListAPIKeys returns all API keys, newest first by id.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var rows []apiKeyRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT "+apiKeyColumns+" FROM api_keys ORDER BY id DESC"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	keys := make([]model.APIKey, len(rows))
	for i, r := range rows {
		keys[i] = r.toModel()
	}
	return keys, nil
}

// RevokeAPIKey moves an ACTIVE key to REVOKED. It reports whether the row
// changed: an already revoked key returns (false, nil) and keeps its original
// revocation fields. Unknown ids return ErrNotFound.
func (s *Store) RevokeAPIKey(ctx context.Context, id int64, reason string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE api_keys SET status = ?, revoked_at = ?, revocation_reason = ?
		WHERE id = ? AND status = ?`),
		string(model.KeyStatusRevoked), now, reason, id, string(model.KeyStatusActive))
	if err != nil {
		return false, fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	if _, err := s.GetAPIKey(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// RotateParams describes a compare-and-swap rotation of one key's secret.
type RotateParams struct {
	ID int64
	// Expected state observed when the presented key was authenticated.
	ExpectedFingerprint   string
	ExpectedRotationCount int64
	// Replacement secret material, all derived from the same new raw key.
	NewHash        string
	NewFingerprint string
	NewLast4       string
	At             time.Time
}

// RotateAPIKey atomically replaces the secret material of an ACTIVE key and
// increments its rotation count, provided the row still carries the expected
// fingerprint and rotation count. Otherwise it returns ErrStale and changes
// nothing. It also stamps last_used_at because rotation only follows a use.
func (s *Store) RotateAPIKey(ctx context.Context, p RotateParams) error {
	at := p.At.UTC()
	result, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE api_keys SET
			key_hash = ?, key_fingerprint = ?, key_last4 = ?,
			rotation_count = rotation_count + 1,
			last_used_at = ?, last_rotated_at = ?
		WHERE id = ? AND key_fingerprint = ? AND status = ? AND rotation_count = ?`),
		p.NewHash, p.NewFingerprint, p.NewLast4,
		at, at,
		p.ID, p.ExpectedFingerprint, string(model.KeyStatusActive), p.ExpectedRotationCount)
	if err != nil {
		return fmt.Errorf("rotate api key: %w", classifyWriteError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}

// KeyStats aggregates the api_keys table in a single query.
func (s *Store) KeyStats(ctx context.Context) (model.KeyStats, error) {
	var rows []struct {
		Status    string `db:"status"`
		N         int64  `db:"n"`
		Rotations int64  `db:"rotations"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS n, COALESCE(SUM(rotation_count), 0) AS rotations
		FROM api_keys GROUP BY status`); err != nil {
		return model.KeyStats{}, fmt.Errorf("api key stats: %w", err)
	}

	var stats model.KeyStats
	for _, r := range rows {
		switch model.KeyStatus(r.Status) {
		case model.KeyStatusActive:
			stats.Active = r.N
		case model.KeyStatusRevoked:
			stats.Revoked = r.N
		}
		stats.Rotations += r.Rotations
	}
	return stats, nil
}

// ---------------------------------------------------------------------------
// Audit log
// ---------------------------------------------------------------------------

// auditRow maps 1:1 to the audit_log table. Meta is stored as JSON text.
type auditRow struct {
	ID         int64     `db:"id"`
	Actor      string    `db:"actor"`
	Action     string    `db:"action"`
	TargetType *string   `db:"target_type"`
	TargetID   *string   `db:"target_id"`
	IP         *string   `db:"ip"`
	Meta       string    `db:"meta"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r auditRow) toModel() model.AuditLogEntry {
	meta := r.Meta
	if meta == "" {
		meta = "{}"
	}
	return model.AuditLogEntry{
		ID:         r.ID,
		Actor:      r.Actor,
		Action:     model.AuditAction(r.Action),
		TargetType: r.TargetType,
		TargetID:   r.TargetID,
		IP:         r.IP,
		Meta:       []byte(meta),
		CreatedAt:  r.CreatedAt,
	}
}

// AppendAudit inserts one audit entry. Entries are never updated or deleted.
func (s *Store) AppendAudit(ctx context.Context, entry *model.AuditLogEntry) error {
	entry.CreatedAt = time.Now().UTC()
	meta := string(entry.Meta)
	if meta == "" {
		meta = "{}"
	}

	id, err := s.insert(ctx,
		`INSERT INTO audit_log (actor, action, target_type, target_id, ip, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Actor, string(entry.Action), entry.TargetType, entry.TargetID, entry.IP, meta, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	entry.ID = id
	return nil
}

// ListRecentAudit returns up to limit audit entries, newest first.
func (s *Store) ListRecentAudit(ctx context.Context, limit int) ([]model.AuditLogEntry, error) {
	var rows []auditRow
	q := s.db.Rebind(`SELECT id, actor, action, target_type, target_id, ip, meta, created_at
		FROM audit_log ORDER BY id DESC ` + s.dialect.limit)
	if err := s.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}

	entries := make([]model.AuditLogEntry, len(rows))
	for i, r := range rows {
		entries[i] = r.toModel()
	}
	return entries, nil
}
