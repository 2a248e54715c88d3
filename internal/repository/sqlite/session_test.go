package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cadence/internal/domain"
	"cadence/internal/domain/models/llm"
)

func testStore(t *testing.T) *SessionStore {
	t.Helper()
	s, err := NewSessionStore(MemoryPath, nil)
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newSession(id string) *llm.Session {
	prompt := "be brief"
	return &llm.Session{
		ID:            id,
		Model:         "lorem-fast",
		SystemPrompt:  &prompt,
		Status:        llm.SessionStatusRunning,
		MaxIterations: 5,
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCreateAndGetSession(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, newSession("s1")); err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error: %v", err)
	}
	if got.Model != "lorem-fast" || got.Status != llm.SessionStatusRunning {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.SystemPrompt == nil || *got.SystemPrompt != "be brief" {
		t.Errorf("SystemPrompt = %v", got.SystemPrompt)
	}
	if !got.CreatedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", got.CreatedAt)
	}
	if got.CompletedAt != nil || got.Response != nil || got.Progress != nil {
		t.Error("running session should have no completion fields")
	}
	if len(got.History) != 0 {
		t.Errorf("History = %v, want empty", got.History)
	}
}

func TestCreateSessionDuplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.CreateSession(ctx, newSession("s1")); err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	err := s.CreateSession(ctx, newSession("s1"))
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate CreateSession() error = %v, want ErrConflict", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := testStore(t)

	if _, err := s.GetSession(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetSession() error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetTurns(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetTurns() error = %v, want ErrNotFound", err)
	}
}

func TestAppendHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.CreateSession(ctx, newSession("s1")); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	entries := []llm.HistoryEntry{
		{Iteration: 0, Timestamp: now, Status: llm.StatusContinue, Source: llm.SourceExplicit, ToolCallCount: 2, Reason: "more to do"},
		{Iteration: 1, Timestamp: now, Status: llm.StatusTerminate, Source: llm.SourceHeuristic, Reason: "done"},
	}
	progress := []llm.Progress{
		{CurrentStep: 1, TotalSteps: 2, StepsCompleted: []string{"read"}, StepsRemaining: []string{"write"}},
		{CurrentStep: 2, TotalSteps: 2, StepsCompleted: []string{"read", "write"}, StepsRemaining: []string{}},
	}
	for i, e := range entries {
		if err := s.AppendHistory(ctx, "s1", e, progress[i]); err != nil {
			t.Fatalf("AppendHistory() error: %v", err)
		}
	}
	// Same iteration again is ignored, progress included
	if err := s.AppendHistory(ctx, "s1", llm.HistoryEntry{Iteration: 0, Timestamp: now, Reason: "duplicate"}, llm.Progress{CurrentStep: 9}); err != nil {
		t.Fatalf("AppendHistory() duplicate error: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Iterations != 2 {
		t.Errorf("Iterations = %d, want 2", got.Iterations)
	}
	if len(got.History) != 2 {
		t.Fatalf("History len = %d, want 2", len(got.History))
	}
	if got.History[0].Reason != "more to do" || got.History[0].ToolCallCount != 2 {
		t.Errorf("History[0] = %+v", got.History[0])
	}
	if got.History[1].Source != llm.SourceHeuristic {
		t.Errorf("History[1].Source = %s", got.History[1].Source)
	}
	if got.Progress == nil || got.Progress.CurrentStep != 2 || len(got.Progress.StepsCompleted) != 2 {
		t.Errorf("Progress = %+v, want latest round's snapshot", got.Progress)
	}

	if err := s.AppendHistory(ctx, "missing", entries[0], progress[0]); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("AppendHistory(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCompleteSession(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	session := newSession("s1")
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatal(err)
	}

	completedAt := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	reason := "task complete"
	source := string(llm.SourceExplicit)
	response := "All done."
	session.Status = llm.SessionStatusComplete
	session.Iterations = 1
	session.FinalReason = &reason
	session.FinalSource = &source
	session.Response = &response
	session.CompletedAt = &completedAt
	session.Progress = &llm.Progress{
		CurrentStep:          3,
		TotalSteps:           3,
		CompletionPercentage: 100,
		StepsCompleted:       []string{"plan", "build", "check"},
		StepsRemaining:       []string{},
	}
	session.History = []llm.HistoryEntry{
		{Iteration: 0, Timestamp: completedAt, Status: llm.StatusTerminate, Source: llm.SourceExplicit, Reason: reason},
	}

	turns := []llm.Turn{
		llm.NewUserTurn("hello"),
		{
			Role:    llm.RoleAssistant,
			Content: "All done.",
			ToolRequests: []llm.ToolInvocationRequest{
				{ID: "call_0", Name: "current_time", Arguments: map[string]interface{}{}},
			},
		},
	}
	if err := s.CompleteSession(ctx, session, turns); err != nil {
		t.Fatalf("CompleteSession() error: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != llm.SessionStatusComplete || got.Response == nil || *got.Response != response {
		t.Errorf("unexpected completed session: %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completedAt) {
		t.Errorf("CompletedAt = %v", got.CompletedAt)
	}
	if len(got.History) != 1 {
		t.Errorf("History len = %d, want 1", len(got.History))
	}
	if got.Progress == nil {
		t.Fatal("terminal progress snapshot was not stored")
	}
	if got.Progress.CurrentStep != 3 || got.Progress.TotalSteps != 3 || got.Progress.CompletionPercentage != 100 {
		t.Errorf("Progress = %+v", got.Progress)
	}
	if len(got.Progress.StepsCompleted) != 3 || got.Progress.StepsCompleted[2] != "check" {
		t.Errorf("Progress.StepsCompleted = %v", got.Progress.StepsCompleted)
	}

	storedTurns, err := s.GetTurns(ctx, "s1")
	if err != nil {
		t.Fatalf("GetTurns() error: %v", err)
	}
	if len(storedTurns) != 2 || storedTurns[1].ToolRequests[0].Name != "current_time" {
		t.Errorf("stored turns = %+v", storedTurns)
	}

	missing := newSession("missing")
	if err := s.CompleteSession(ctx, missing, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("CompleteSession(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "sessions.db")
	ctx := context.Background()

	s, err := NewSessionStore(path, nil)
	if err != nil {
		t.Fatalf("NewSessionStore(%q): %v", path, err)
	}
	if err := s.CreateSession(ctx, newSession("s1")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	reopened, err := NewSessionStore(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetSession(ctx, "s1"); err != nil {
		t.Errorf("GetSession after reopen: %v", err)
	}
}

func TestOpenUpgradesSessionsWithoutProgress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	old, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := old.Exec(`CREATE TABLE sessions (
		id TEXT PRIMARY KEY, model TEXT NOT NULL, system_prompt TEXT, status TEXT NOT NULL,
		max_iterations INTEGER NOT NULL, iterations INTEGER NOT NULL DEFAULT 0,
		final_reason TEXT, final_source TEXT, response TEXT, error TEXT,
		turns TEXT NOT NULL DEFAULT '[]', created_at TEXT NOT NULL, completed_at TEXT)`); err != nil {
		t.Fatal(err)
	}
	old.Close()

	s, err := NewSessionStore(path, nil)
	if err != nil {
		t.Fatalf("NewSessionStore on old schema: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.CreateSession(ctx, newSession("s1")); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendHistory(ctx, "s1", llm.HistoryEntry{Iteration: 0, Timestamp: time.Now()}, llm.Progress{CurrentStep: 1}); err != nil {
		t.Fatalf("AppendHistory after upgrade: %v", err)
	}
	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Progress == nil || got.Progress.CurrentStep != 1 {
		t.Errorf("Progress = %+v", got.Progress)
	}
}
