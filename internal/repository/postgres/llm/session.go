package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"cadence/internal/domain"
	llmModels "cadence/internal/domain/models/llm"
	"cadence/internal/domain/repositories"
	llmRepo "cadence/internal/domain/repositories/llm"
	"cadence/internal/repository/postgres"
)

// PostgresSessionStore implements the SessionStore interface using PostgreSQL.
// Turns are stored as one JSONB array on the session row; history entries
// get a row each.
type PostgresSessionStore struct {
	pool      *pgxpool.Pool
	tables    *postgres.TableNames
	txManager repositories.TransactionManager
	logger    *slog.Logger
}

// NewSessionStore creates a new PostgresSessionStore
func NewSessionStore(config *postgres.RepositoryConfig) llmRepo.SessionStore {
	return &PostgresSessionStore{
		pool:      config.Pool,
		tables:    config.Tables,
		txManager: postgres.NewTransactionManager(config),
		logger:    config.Logger,
	}
}

// CreateSession inserts a new running session
func (r *PostgresSessionStore) CreateSession(ctx context.Context, session *llmModels.Session) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, model, system_prompt, status, max_iterations, iterations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.tables.Sessions)

	executor := postgres.GetExecutor(ctx, r.pool)
	_, err := executor.Exec(ctx, query,
		session.ID,
		session.Model,
		session.SystemPrompt,
		session.Status,
		session.MaxIterations,
		session.Iterations,
		session.CreatedAt,
	)
	if err != nil {
		if postgres.IsPgDuplicateError(err) {
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
func (r *PostgresSessionStore) AppendHistory(ctx context.Context, sessionID string, entry llmModels.HistoryEntry, progress llmModels.Progress) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	executor := postgres.GetExecutor(ctx, r.pool)
	if err := r.insertHistory(ctx, executor, sessionID, entry); err != nil {
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
		}
		return fmt.Errorf("append history: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET progress = CASE WHEN iterations <= $2 + 1 THEN $3::jsonb ELSE progress END,
		    iterations = GREATEST(iterations, $2 + 1)
		WHERE id = $1
	`, r.tables.Sessions)
	if _, err := executor.Exec(ctx, query, sessionID, entry.Iteration, string(progressJSON)); err != nil {
		return fmt.Errorf("update iterations: %w", err)
	}
	return nil
}

func (r *PostgresSessionStore) insertHistory(ctx context.Context, executor repositories.DBTX, sessionID string, entry llmModels.HistoryEntry) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, iteration, recorded_at, status, source, tool_call_count, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, iteration) DO NOTHING
	`, r.tables.SessionHistory)

	_, err := executor.Exec(ctx, query,
		sessionID,
		entry.Iteration,
		entry.Timestamp,
		string(entry.Status),
		string(entry.Source),
		entry.ToolCallCount,
		entry.Reason,
	)
	return err
}

// CompleteSession stores the terminal state and turns in one transaction.
// History entries carried on the session are written too, so rounds whose
// AppendHistory failed are not lost.
func (r *PostgresSessionStore) CompleteSession(ctx context.Context, session *llmModels.Session, turns []llmModels.Turn) error {
	turnsJSON, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal turns: %w", err)
	}
	var progressJSON *string
	if session.Progress != nil {
		data, err := json.Marshal(session.Progress)
		if err != nil {
			return fmt.Errorf("marshal progress: %w", err)
		}
		s := string(data)
		progressJSON = &s
	}

	return r.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		executor := postgres.GetExecutor(txCtx, r.pool)

		query := fmt.Sprintf(`
			UPDATE %s
			SET status = $2, iterations = $3, final_reason = $4, final_source = $5,
			    response = $6, error = $7, turns = $8::jsonb, completed_at = $9,
			    progress = COALESCE($10::jsonb, progress)
			WHERE id = $1
		`, r.tables.Sessions)

		tag, err := executor.Exec(txCtx, query,
			session.ID,
			session.Status,
			session.Iterations,
			session.FinalReason,
			session.FinalSource,
			session.Response,
			session.Error,
			string(turnsJSON),
			session.CompletedAt,
			progressJSON,
		)
		if err != nil {
			return fmt.Errorf("complete session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("session %s: %w", session.ID, domain.ErrNotFound)
		}

		for _, entry := range session.History {
			if err := r.insertHistory(txCtx, executor, session.ID, entry); err != nil {
				return fmt.Errorf("write history: %w", err)
			}
		}
		return nil
	})
}

// GetSession retrieves a session by ID with its history attached
func (r *PostgresSessionStore) GetSession(ctx context.Context, sessionID string) (*llmModels.Session, error) {
	query := fmt.Sprintf(`
		SELECT id, model, system_prompt, status, max_iterations, iterations,
		       final_reason, final_source, response, error, progress, created_at, completed_at
		FROM %s
		WHERE id = $1
	`, r.tables.Sessions)

	var session llmModels.Session
	var progress []byte
	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, sessionID).Scan(
		&session.ID,
		&session.Model,
		&session.SystemPrompt,
		&session.Status,
		&session.MaxIterations,
		&session.Iterations,
		&session.FinalReason,
		&session.FinalSource,
		&session.Response,
		&session.Error,
		&progress,
		&session.CreatedAt,
		&session.CompletedAt,
	)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(progress) > 0 {
		var p llmModels.Progress
		if err := json.Unmarshal(progress, &p); err != nil {
			return nil, fmt.Errorf("unmarshal progress: %w", err)
		}
		session.Progress = &p
	}

	history, err := r.listHistory(ctx, executor, sessionID)
	if err != nil {
		return nil, err
	}
	session.History = history

	return &session, nil
}

func (r *PostgresSessionStore) listHistory(ctx context.Context, executor repositories.DBTX, sessionID string) ([]llmModels.HistoryEntry, error) {
	query := fmt.Sprintf(`
		SELECT iteration, recorded_at, status, source, tool_call_count, reason
		FROM %s
		WHERE session_id = $1
		ORDER BY iteration ASC
	`, r.tables.SessionHistory)

	rows, err := executor.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	history := []llmModels.HistoryEntry{}
	for rows.Next() {
		var entry llmModels.HistoryEntry
		var status, source string
		if err := rows.Scan(
			&entry.Iteration,
			&entry.Timestamp,
			&status,
			&source,
			&entry.ToolCallCount,
			&entry.Reason,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entry.Status = llmModels.ContinuationStatus(status)
		entry.Source = llmModels.DetectionSource(source)
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return history, nil
}

// GetTurns returns the stored turn sequence of a session
func (r *PostgresSessionStore) GetTurns(ctx context.Context, sessionID string) ([]llmModels.Turn, error) {
	query := fmt.Sprintf(`SELECT turns FROM %s WHERE id = $1`, r.tables.Sessions)

	var raw []byte
	executor := postgres.GetExecutor(ctx, r.pool)
	if err := executor.QueryRow(ctx, query, sessionID).Scan(&raw); err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get turns: %w", err)
	}

	turns := []llmModels.Turn{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &turns); err != nil {
			return nil, fmt.Errorf("unmarshal turns: %w", err)
		}
	}
	return turns, nil
}
