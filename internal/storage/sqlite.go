// Package storage persists users, sessions, chat messages, and assessments
// in SQLite. All writes for a single chat turn go through WithTx so a
// failure anywhere rolls the whole turn back.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dbtx is satisfied by both *sql.DB and *sql.Tx so every query helper works
// inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

// Store wraps a SQLite database with methods for users, sessions, messages,
// and assessments.
type Store struct {
	sqlDB *sql.DB
	queries
}

// Tx exposes the same record methods within one transaction.
type Tx struct {
	queries
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "devy.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	s := &Store{sqlDB: db, queries: queries{db: db}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// WithTx runs fn inside a transaction, committing on nil and rolling back
// on error. The error from fn is returned unwrapped so callers can match
// sentinel errors.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	t := &Tx{queries: queries{db: tx}}
	if err := fn(t); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.sqlDB.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.sqlDB.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in
// ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.sqlDB.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Sessions ---

// GetSession looks up a session by token.
func (q queries) GetSession(ctx context.Context, id string) (Session, error) {
	var s Session
	var createdAt, updatedAt string
	var userID sql.NullInt64
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, created_at, updated_at, context_data
		FROM sessions WHERE id = ?`, id,
	).Scan(&s.ID, &userID, &createdAt, &updatedAt, &s.RawContext)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if userID.Valid {
		s.UserID = &userID.Int64
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return Session{}, fmt.Errorf("parsing session created_at: %w", err)
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Session{}, fmt.Errorf("parsing session updated_at: %w", err)
	}
	return s, nil
}

// CreateSession inserts a new session with a well-formed empty context.
func (q queries) CreateSession(ctx context.Context, id string, sctx SessionContext) error {
	raw, err := encodeContext(sctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, created_at, updated_at, context_data)
		VALUES (?, NULL, ?, ?, ?)`,
		id, now, now, raw,
	)
	return err
}

// SaveSessionContext overwrites the session's context blob and bumps
// updated_at.
func (q queries) SaveSessionContext(ctx context.Context, id string, sctx SessionContext) error {
	raw, err := encodeContext(sctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := q.db.ExecContext(ctx,
		`UPDATE sessions SET context_data = ?, updated_at = ? WHERE id = ?`,
		raw, now, id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// LinkSessionUser sets the session's owning user.
func (q queries) LinkSessionUser(ctx context.Context, sessionID string, userID int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := q.db.ExecContext(ctx,
		`UPDATE sessions SET user_id = ?, updated_at = ? WHERE id = ?`,
		userID, now, sessionID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- Chat messages ---

// InsertMessage persists a message and returns its identifier.
func (q queries) InsertMessage(ctx context.Context, m ChatMessage) (int64, error) {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var insights any
	if m.InferredInsights != "" {
		insights = m.InferredInsights
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO chat_messages (session_id, sender, content, created_at, inferred_insights)
		VALUES (?, ?, ?, ?, ?)`,
		m.SessionID, m.Sender, m.Content, createdAt.Format(time.RFC3339Nano), insights,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentMessages returns the most recent limit messages for a session in
// chronological order (oldest first). Ordering follows insertion id, which
// is monotonic per session; the textual created_at column is display data,
// not a sort key.
func (q queries) RecentMessages(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, session_id, sender, content, created_at, inferred_insights
		FROM chat_messages WHERE session_id = ?
		ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// SessionMessages returns all messages for a session in chronological order.
func (q queries) SessionMessages(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, session_id, sender, content, created_at, inferred_insights
		FROM chat_messages WHERE session_id = ?
		ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]ChatMessage, error) {
	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var createdAt string
		var insights sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Content, &createdAt, &insights); err != nil {
			return nil, err
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		m.CreatedAt = t
		m.InferredInsights = insights.String
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// --- Users ---

// GetUserByName looks a user up by exact name.
func (q queries) GetUserByName(ctx context.Context, name string) (User, error) {
	var u User
	var age sql.NullInt64
	var createdAt, updatedAt string
	err := q.db.QueryRowContext(ctx, `
		SELECT id, name, age, education_level, technical_knowledge, top_subjects, subject_aspects, interests_dreams, created_at, updated_at
		FROM users WHERE name = ?`, name,
	).Scan(&u.ID, &u.Name, &age, &u.EducationLevel, &u.TechnicalKnowledge, &u.TopSubjects, &u.SubjectAspects, &u.InterestsDreams, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if age.Valid {
		u.Age = &age.Int64
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return User{}, fmt.Errorf("parsing user created_at: %w", err)
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return User{}, fmt.Errorf("parsing user updated_at: %w", err)
	}
	return u, nil
}

// CreateUser inserts a user and sets its identifier.
func (q queries) CreateUser(ctx context.Context, u *User) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO users (name, age, education_level, technical_knowledge, top_subjects, subject_aspects, interests_dreams, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Name, nullableInt(u.Age), u.EducationLevel, u.TechnicalKnowledge, jsonOrEmptyArray(u.TopSubjects), u.SubjectAspects, u.InterestsDreams, now, now,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

// UpdateUser overwrites all profile fields of an existing user. Last
// assessment wins; there is no merging.
func (q queries) UpdateUser(ctx context.Context, u User) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := q.db.ExecContext(ctx, `
		UPDATE users SET age = ?, education_level = ?, technical_knowledge = ?, top_subjects = ?, subject_aspects = ?, interests_dreams = ?, updated_at = ?
		WHERE id = ?`,
		nullableInt(u.Age), u.EducationLevel, u.TechnicalKnowledge, jsonOrEmptyArray(u.TopSubjects), u.SubjectAspects, u.InterestsDreams, now, u.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// --- Assessments ---

// SaveAssessment inserts the session's assessment. The session_id UNIQUE
// constraint enforces at most one per session.
func (q queries) SaveAssessment(ctx context.Context, a Assessment) (int64, error) {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO assessments (session_id, user_id, payload, created_at)
		VALUES (?, ?, ?, ?)`,
		a.SessionID, a.UserID, a.Payload, createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetAssessmentBySession returns the session's assessment if one exists.
func (q queries) GetAssessmentBySession(ctx context.Context, sessionID string) (Assessment, error) {
	var a Assessment
	var createdAt string
	err := q.db.QueryRowContext(ctx, `
		SELECT id, session_id, user_id, payload, created_at
		FROM assessments WHERE session_id = ?`, sessionID,
	).Scan(&a.ID, &a.SessionID, &a.UserID, &a.Payload, &createdAt)
	if err == sql.ErrNoRows {
		return Assessment{}, ErrNotFound
	}
	if err != nil {
		return Assessment{}, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return Assessment{}, fmt.Errorf("parsing assessment created_at: %w", err)
	}
	return a, nil
}

// --- helpers ---

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func encodeContext(sctx SessionContext) (string, error) {
	if sctx.UserProfile == nil {
		sctx.UserProfile = map[string]string{}
	}
	raw, err := json.Marshal(sctx)
	if err != nil {
		return "", fmt.Errorf("encoding session context: %w", err)
	}
	return string(raw), nil
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func jsonOrEmptyArray(s string) string {
	if s == "" {
		return "[]"
	}
	return s
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
