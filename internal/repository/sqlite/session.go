// Package sqlite provides a single-file SessionStore for local development
// and tests. Production deployments use the postgres package.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cadence/internal/domain"
	llmModels "cadence/internal/domain/models/llm"
	llmRepo "cadence/internal/domain/repositories/llm"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id             TEXT PRIMARY KEY,
    model          TEXT NOT NULL,
    system_prompt  TEXT,
    status         TEXT NOT NULL,
    max_iterations INTEGER NOT NULL,
    iterations     INTEGER NOT NULL DEFAULT 0,
    final_reason   TEXT,
    final_source   TEXT,
    response       TEXT,
    error          TEXT,
    progress       TEXT,
    turns          TEXT NOT NULL DEFAULT '[]',
    created_at     TEXT NOT NULL,
    completed_at   TEXT
);

CREATE TABLE IF NOT EXISTS session_history (
    session_id      TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    iteration       INTEGER NOT NULL,
    recorded_at     TEXT NOT NULL,
    status          TEXT NOT NULL,
    source          TEXT NOT NULL,
    tool_call_count INTEGER NOT NULL DEFAULT 0,
    reason          TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (session_id, iteration)
);
`

// SessionStore implements SessionStore on SQLite. All public methods are
// safe for concurrent use; the pool is limited to one connection so SQLite
// serializes writes.
type SessionStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ llmRepo.SessionStore = (*SessionStore)(nil)

// NewSessionStore opens (or creates) the database at path and applies the
// schema. Use MemoryPath for a throwaway store.
func NewSessionStore(path string, logger *slog.Logger) (*SessionStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := MemoryPath + "?_pragma=foreign_keys(1)"
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		dsn = path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A second connection to :memory: would see an empty database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := addColumnIfMissing(db, "sessions", "progress", "TEXT"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Debug("sqlite session store ready", "path", path)
	return &SessionStore{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new running session.
func (s *SessionStore) CreateSession(ctx context.Context, session *llmModels.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, model, system_prompt, status, max_iterations, iterations, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.Model,
		nullString(session.SystemPrompt),
		session.Status,
		session.MaxIterations,
		session.Iterations,
		formatTime(session.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ConflictError{
				Message:      fmt.Sprintf("session '%s' already exists", session.ID),
				ResourceType: "session",
				ResourceID:   session.ID,
			}
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// AppendHistory records one round's decision and the progress snapshot it
// produced. Re-recording an iteration is a no-op.
func (s *SessionStore) AppendHistory(ctx context.Context, sessionID string, entry llmModels.HistoryEntry, progress llmModels.Progress) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
		}
		return fmt.Errorf("append history: %w", err)
	}

	if err := insertHistory(ctx, tx, sessionID, entry); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET progress = CASE WHEN iterations <= ? THEN ? ELSE progress END,
		                     iterations = MAX(iterations, ?)
		 WHERE id = ?`,
		entry.Iteration+1, string(progressJSON), entry.Iteration+1, sessionID,
	); err != nil {
		return fmt.Errorf("update iterations: %w", err)
	}

	return tx.Commit()
}

// CompleteSession stores the terminal state, the turns and any history
// entries carried on session in one transaction.
func (s *SessionStore) CompleteSession(ctx context.Context, session *llmModels.Session, turns []llmModels.Turn) error {
	turnsJSON, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal turns: %w", err)
	}
	progressJSON, err := marshalProgress(session.Progress)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var completedAt sql.NullString
	if session.CompletedAt != nil {
		completedAt = sql.NullString{String: formatTime(*session.CompletedAt), Valid: true}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions
		 SET status = ?, iterations = ?, final_reason = ?, final_source = ?,
		     response = ?, error = ?, progress = COALESCE(?, progress), turns = ?, completed_at = ?
		 WHERE id = ?`,
		session.Status,
		session.Iterations,
		nullString(session.FinalReason),
		nullString(session.FinalSource),
		nullString(session.Response),
		nullString(session.Error),
		progressJSON,
		string(turnsJSON),
		completedAt,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", session.ID, domain.ErrNotFound)
	}

	for _, entry := range session.History {
		if err := insertHistory(ctx, tx, session.ID, entry); err != nil {
			return fmt.Errorf("write history: %w", err)
		}
	}

	return tx.Commit()
}

// GetSession returns a session with its history attached.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*llmModels.Session, error) {
	var (
		session      llmModels.Session
		systemPrompt sql.NullString
		finalReason  sql.NullString
		finalSource  sql.NullString
		response     sql.NullString
		errText      sql.NullString
		progress     sql.NullString
		createdAt    string
		completedAt  sql.NullString
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, model, system_prompt, status, max_iterations, iterations,
		        final_reason, final_source, response, error, progress, created_at, completed_at
		 FROM sessions WHERE id = ?`, sessionID,
	).Scan(
		&session.ID,
		&session.Model,
		&systemPrompt,
		&session.Status,
		&session.MaxIterations,
		&session.Iterations,
		&finalReason,
		&finalSource,
		&response,
		&errText,
		&progress,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	session.SystemPrompt = stringPtr(systemPrompt)
	session.FinalReason = stringPtr(finalReason)
	session.FinalSource = stringPtr(finalSource)
	session.Response = stringPtr(response)
	session.Error = stringPtr(errText)
	if progress.Valid {
		var p llmModels.Progress
		if err := json.Unmarshal([]byte(progress.String), &p); err != nil {
			return nil, fmt.Errorf("unmarshal progress: %w", err)
		}
		session.Progress = &p
	}
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		session.CompletedAt = &t
	}

	history, err := s.listHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	session.History = history

	return &session, nil
}

func (s *SessionStore) listHistory(ctx context.Context, sessionID string) ([]llmModels.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT iteration, recorded_at, status, source, tool_call_count, reason
		 FROM session_history WHERE session_id = ? ORDER BY iteration ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	history := []llmModels.HistoryEntry{}
	for rows.Next() {
		var (
			entry          llmModels.HistoryEntry
			recordedAt     string
			status, source string
		)
		if err := rows.Scan(&entry.Iteration, &recordedAt, &status, &source, &entry.ToolCallCount, &entry.Reason); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if entry.Timestamp, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		entry.Status = llmModels.ContinuationStatus(status)
		entry.Source = llmModels.DetectionSource(source)
		history = append(history, entry)
	}
	return history, rows.Err()
}

// GetTurns returns the stored turns of a session, oldest first.
func (s *SessionStore) GetTurns(ctx context.Context, sessionID string) ([]llmModels.Turn, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT turns FROM sessions WHERE id = ?`, sessionID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get turns: %w", err)
	}

	turns := []llmModels.Turn{}
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("unmarshal turns: %w", err)
	}
	return turns, nil
}

// addColumnIfMissing upgrades databases created before column existed.
func addColumnIfMissing(db *sql.DB, table, column, colType string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			typ        string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, colType))
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertHistory(ctx context.Context, db execer, sessionID string, entry llmModels.HistoryEntry) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO session_history (session_id, iteration, recorded_at, status, source, tool_call_count, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id, iteration) DO NOTHING`,
		sessionID,
		entry.Iteration,
		formatTime(entry.Timestamp),
		string(entry.Status),
		string(entry.Source),
		entry.ToolCallCount,
		entry.Reason,
	)
	return err
}

func marshalProgress(p *llmModels.Progress) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal progress: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
