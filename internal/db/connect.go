package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:knowting.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
		// _pragma applies per connection, so the cascade behavior the schema
		// depends on must ride the DSN to reach every pooled connection.
		if !strings.Contains(dsn, "foreign_keys") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=foreign_keys(1)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/knowting?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,     -- doubles as the invitation email
  password_hash TEXT NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  global_role TEXT NOT NULL DEFAULT 'free',
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tests (
  id TEXT PRIMARY KEY,
  owner_id TEXT REFERENCES users(id) ON DELETE SET NULL, -- NULL for system imports
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  author TEXT NOT NULL DEFAULT '',
  language TEXT NOT NULL DEFAULT '',
  visibility TEXT NOT NULL DEFAULT 'public',
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  question_num INTEGER NOT NULL,     -- stable per-test sequence number
  tag TEXT NOT NULL DEFAULT '',
  prompt TEXT NOT NULL,
  options_json TEXT NOT NULL,
  correct_index INTEGER NOT NULL DEFAULT 0,
  explanation TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL DEFAULT 'manual',
  PRIMARY KEY (test_id, question_num)
);

CREATE TABLE IF NOT EXISTS test_tags (
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  tag TEXT NOT NULL,
  PRIMARY KEY (test_id, tag)
);

CREATE TABLE IF NOT EXISTS test_materials (
  id TEXT PRIMARY KEY,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  ref TEXT NOT NULL DEFAULT '',      -- external URL or blob key
  transcript TEXT NOT NULL DEFAULT '',
  pause_times_json TEXT NOT NULL DEFAULT '[]',
  questions_per_pause INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS programs (
  id TEXT PRIMARY KEY,
  owner_id TEXT REFERENCES users(id) ON DELETE SET NULL,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  visibility TEXT NOT NULL DEFAULT 'public',
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS program_tests (
  program_id TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  program_visibility TEXT NOT NULL DEFAULT 'public',
  PRIMARY KEY (program_id, test_id)
);

CREATE TABLE IF NOT EXISTS test_collaborators (
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  user_email TEXT NOT NULL,
  user_id TEXT,                      -- backfilled when the invitee signs in
  role TEXT NOT NULL DEFAULT 'student',
  status TEXT NOT NULL DEFAULT 'pending',
  invited_at INTEGER NOT NULL,
  PRIMARY KEY (test_id, user_email)
);

CREATE TABLE IF NOT EXISTS program_collaborators (
  program_id TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
  user_email TEXT NOT NULL,
  user_id TEXT,
  role TEXT NOT NULL DEFAULT 'student',
  status TEXT NOT NULL DEFAULT 'pending',
  invited_at INTEGER NOT NULL,
  PRIMARY KEY (program_id, user_email)
);

CREATE TABLE IF NOT EXISTS quiz_sessions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  test_id TEXT NOT NULL DEFAULT '',  -- '' for program and practice rounds
  score INTEGER NOT NULL DEFAULT 0,
  total INTEGER NOT NULL DEFAULT 0,
  started_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS answer_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT, -- BIGSERIAL in Postgres
  user_id TEXT NOT NULL,
  test_id TEXT NOT NULL DEFAULT '',
  question_id INTEGER NOT NULL,
  correct BOOLEAN NOT NULL,
  session_id TEXT NOT NULL DEFAULT '',
  answered_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_answer_events_user_test ON answer_events(user_id, test_id);
CREATE INDEX IF NOT EXISTS idx_answer_events_session ON answer_events(session_id);

CREATE TABLE IF NOT EXISTS favorite_tests (
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  PRIMARY KEY (user_id, test_id)
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  display_name TEXT NOT NULL DEFAULT '',
  global_role TEXT NOT NULL DEFAULT 'free',
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS tests (
  id TEXT PRIMARY KEY,
  owner_id TEXT REFERENCES users(id) ON DELETE SET NULL,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  author TEXT NOT NULL DEFAULT '',
  language TEXT NOT NULL DEFAULT '',
  visibility TEXT NOT NULL DEFAULT 'public',
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  question_num INTEGER NOT NULL,
  tag TEXT NOT NULL DEFAULT '',
  prompt TEXT NOT NULL,
  options_json TEXT NOT NULL,
  correct_index INTEGER NOT NULL DEFAULT 0,
  explanation TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL DEFAULT 'manual',
  PRIMARY KEY (test_id, question_num)
);

CREATE TABLE IF NOT EXISTS test_tags (
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  tag TEXT NOT NULL,
  PRIMARY KEY (test_id, tag)
);

CREATE TABLE IF NOT EXISTS test_materials (
  id TEXT PRIMARY KEY,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  ref TEXT NOT NULL DEFAULT '',
  transcript TEXT NOT NULL DEFAULT '',
  pause_times_json TEXT NOT NULL DEFAULT '[]',
  questions_per_pause INTEGER NOT NULL DEFAULT 0,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS programs (
  id TEXT PRIMARY KEY,
  owner_id TEXT REFERENCES users(id) ON DELETE SET NULL,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  visibility TEXT NOT NULL DEFAULT 'public',
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS program_tests (
  program_id TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  program_visibility TEXT NOT NULL DEFAULT 'public',
  PRIMARY KEY (program_id, test_id)
);

CREATE TABLE IF NOT EXISTS test_collaborators (
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  user_email TEXT NOT NULL,
  user_id TEXT,
  role TEXT NOT NULL DEFAULT 'student',
  status TEXT NOT NULL DEFAULT 'pending',
  invited_at BIGINT NOT NULL,
  PRIMARY KEY (test_id, user_email)
);

CREATE TABLE IF NOT EXISTS program_collaborators (
  program_id TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
  user_email TEXT NOT NULL,
  user_id TEXT,
  role TEXT NOT NULL DEFAULT 'student',
  status TEXT NOT NULL DEFAULT 'pending',
  invited_at BIGINT NOT NULL,
  PRIMARY KEY (program_id, user_email)
);

CREATE TABLE IF NOT EXISTS quiz_sessions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  test_id TEXT NOT NULL DEFAULT '',
  score INTEGER NOT NULL DEFAULT 0,
  total INTEGER NOT NULL DEFAULT 0,
  started_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS answer_events (
  id BIGSERIAL PRIMARY KEY,
  user_id TEXT NOT NULL,
  test_id TEXT NOT NULL DEFAULT '',
  question_id INTEGER NOT NULL,
  correct BOOLEAN NOT NULL,
  session_id TEXT NOT NULL DEFAULT '',
  answered_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_answer_events_user_test ON answer_events(user_id, test_id);
CREATE INDEX IF NOT EXISTS idx_answer_events_session ON answer_events(session_id);

CREATE TABLE IF NOT EXISTS favorite_tests (
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  PRIMARY KEY (user_id, test_id)
);
`
