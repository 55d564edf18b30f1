package config

import (
	"fmt"
	"strings"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		key_hash TEXT NOT NULL,
		key_fingerprint TEXT UNIQUE NOT NULL,
		key_last4 TEXT NOT NULL,
		rotation_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_used_at DATETIME,
		last_rotated_at DATETIME,
		revoked_at DATETIME,
		revocation_reason TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		target_type TEXT,
		target_id TEXT,
		ip TEXT,
		meta TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_api_keys_status ON api_keys(status)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id BIGSERIAL PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		key_hash TEXT NOT NULL,
		key_fingerprint TEXT UNIQUE NOT NULL,
		key_last4 TEXT NOT NULL,
		rotation_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_used_at TIMESTAMPTZ,
		last_rotated_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ,
		revocation_reason TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		target_type TEXT,
		target_id TEXT,
		ip TEXT,
		meta TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_api_keys_status ON api_keys(status)`,
}

// MySQL cannot index TEXT without a prefix length and has no
// CREATE INDEX IF NOT EXISTS, so keys are declared inline.
var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		label VARCHAR(128) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
		key_hash VARCHAR(255) NOT NULL,
		key_fingerprint VARCHAR(64) NOT NULL UNIQUE,
		key_last4 VARCHAR(4) NOT NULL,
		rotation_count BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		last_used_at DATETIME(6) NULL,
		last_rotated_at DATETIME(6) NULL,
		revoked_at DATETIME(6) NULL,
		revocation_reason VARCHAR(64) NULL,
		INDEX idx_api_keys_status (status)
	)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		actor VARCHAR(255) NOT NULL,
		action VARCHAR(32) NOT NULL,
		target_type VARCHAR(32) NULL,
		target_id VARCHAR(64) NULL,
		ip VARCHAR(64) NULL,
		meta TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	)`,
}

// SQL Server has no CREATE TABLE IF NOT EXISTS; each statement guards itself.
var mssqlMigrations = []string{
	`IF OBJECT_ID(N'users', N'U') IS NULL
	CREATE TABLE users (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		username NVARCHAR(255) NOT NULL UNIQUE,
		password_hash NVARCHAR(255) NOT NULL,
		created_at DATETIMEOFFSET(6) NOT NULL DEFAULT SYSDATETIMEOFFSET()
	)`,

	`IF OBJECT_ID(N'api_keys', N'U') IS NULL
	CREATE TABLE api_keys (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		label NVARCHAR(128) NOT NULL DEFAULT '',
		status NVARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
		key_hash NVARCHAR(255) NOT NULL,
		key_fingerprint NVARCHAR(64) NOT NULL UNIQUE,
		key_last4 NVARCHAR(4) NOT NULL,
		rotation_count BIGINT NOT NULL DEFAULT 0,
		created_at DATETIMEOFFSET(6) NOT NULL DEFAULT SYSDATETIMEOFFSET(),
		last_used_at DATETIMEOFFSET(6) NULL,
		last_rotated_at DATETIMEOFFSET(6) NULL,
		revoked_at DATETIMEOFFSET(6) NULL,
		revocation_reason NVARCHAR(64) NULL
	)`,

	`IF OBJECT_ID(N'audit_log', N'U') IS NULL
	CREATE TABLE audit_log (
		id BIGINT IDENTITY(1,1) PRIMARY KEY,
		actor NVARCHAR(255) NOT NULL,
		action NVARCHAR(32) NOT NULL,
		target_type NVARCHAR(32) NULL,
		target_id NVARCHAR(64) NULL,
		ip NVARCHAR(64) NULL,
		meta NVARCHAR(MAX) NOT NULL DEFAULT '{}',
		created_at DATETIMEOFFSET(6) NOT NULL DEFAULT SYSDATETIMEOFFSET()
	)`,

	`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'idx_api_keys_status')
	CREATE INDEX idx_api_keys_status ON api_keys(status)`,
}

// Oracle (12c and later) has identity columns but no IF NOT EXISTS; a rerun
// fails with ORA-00955, which migrate ignores. label is nullable because ''
// is NULL in Oracle.
var oracleMigrations = []string{
	`CREATE TABLE users (
		id NUMBER(19) GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		username VARCHAR2(255) NOT NULL UNIQUE,
		password_hash VARCHAR2(255) NOT NULL,
		created_at TIMESTAMP(6) WITH TIME ZONE DEFAULT SYSTIMESTAMP NOT NULL
	)`,

	`CREATE TABLE api_keys (
		id NUMBER(19) GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		label VARCHAR2(128),
		status VARCHAR2(16) DEFAULT 'ACTIVE' NOT NULL,
		key_hash VARCHAR2(255) NOT NULL,
		key_fingerprint VARCHAR2(64) NOT NULL UNIQUE,
		key_last4 VARCHAR2(4) NOT NULL,
		rotation_count NUMBER(19) DEFAULT 0 NOT NULL,
		created_at TIMESTAMP(6) WITH TIME ZONE DEFAULT SYSTIMESTAMP NOT NULL,
		last_used_at TIMESTAMP(6) WITH TIME ZONE,
		last_rotated_at TIMESTAMP(6) WITH TIME ZONE,
		revoked_at TIMESTAMP(6) WITH TIME ZONE,
		revocation_reason VARCHAR2(64)
	)`,

	`CREATE TABLE audit_log (
		id NUMBER(19) GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		actor VARCHAR2(255) NOT NULL,
		action VARCHAR2(32) NOT NULL,
		target_type VARCHAR2(32),
		target_id VARCHAR2(64),
		ip VARCHAR2(64),
		meta VARCHAR2(4000) DEFAULT '{}' NOT NULL,
		created_at TIMESTAMP(6) WITH TIME ZONE DEFAULT SYSTIMESTAMP NOT NULL
	)`,

	`CREATE INDEX idx_api_keys_status ON api_keys(status)`,
}

// alreadyApplied reports whether a migration error only means the object
// already exists.
func alreadyApplied(err error) bool {
	lower := strings.ToLower(err.Error())
	// ALTER TABLE ADD COLUMN fails if the column already exists.
	return strings.Contains(lower, "duplicate column") ||
		strings.Contains(lower, "ora-00955")
}

func (s *Store) migrate() error {
	for _, m := range s.dialect.migrations {
		if _, err := s.db.Exec(m); err != nil {
			if alreadyApplied(err) {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
