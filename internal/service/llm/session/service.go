package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	mstream "github.com/haowjy/meridian-stream-go"

	"cadence/internal/domain"
	"cadence/internal/domain/models/llm"
	llmRepo "cadence/internal/domain/repositories/llm"
	domainllm "cadence/internal/domain/services/llm"
	servicellm "cadence/internal/service/llm"
	"cadence/internal/service/llm/continuation"
	"cadence/internal/service/llm/orchestration"
	"cadence/internal/service/llm/streaming"
	"cadence/internal/service/llm/tools"
)

const completeWriteTimeout = 10 * time.Second

// Transport is a model transport that can also tell whether a model string
// is served before a session starts.
type Transport interface {
	domainllm.ModelTransport
	Resolve(model string) (*servicellm.ModelInfo, error)
}

// DefaultStreamBufferSize is the per-client event buffer of a session stream.
const DefaultStreamBufferSize = 64

// Config holds the service-wide defaults a request may override.
type Config struct {
	DefaultModel     string
	MaxTokens        int
	Continuation     continuation.Config
	StreamBufferSize int // Optional, defaults to DefaultStreamBufferSize
}

// Service implements the SessionService interface.
// Each session runs its orchestration loop as the work function of an
// mstream.Stream registered under the session ID.
type Service struct {
	store     llmRepo.SessionStore
	transport Transport
	tools     *tools.ToolRegistry
	streams   *mstream.Registry
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running map[string]*liveSession
	wg      sync.WaitGroup
}

// NewService creates a session service.
func NewService(
	store llmRepo.SessionStore,
	transport Transport,
	registry *tools.ToolRegistry,
	streams *mstream.Registry,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if streams == nil {
		streams = mstream.NewRegistry()
	}
	if cfg.StreamBufferSize <= 0 {
		cfg.StreamBufferSize = DefaultStreamBufferSize
	}
	return &Service{
		store:     store,
		transport: transport,
		tools:     registry,
		streams:   streams,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		running:   make(map[string]*liveSession),
	}
}

var _ domainllm.SessionService = (*Service)(nil)

// StartSession validates the request, persists the session and runs it in
// the background.
func (s *Service) StartSession(ctx context.Context, req *domainllm.CreateSessionRequest) (*llm.Session, error) {
	if err := s.validateCreateSessionRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.cfg.DefaultModel
	}
	if _, err := s.transport.Resolve(model); err != nil {
		return nil, fmt.Errorf("%w: model: %v", domain.ErrValidation, err)
	}

	cfg := s.cfg.Continuation.WithOverrides(req.Continuation)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	engine, err := continuation.NewEngine(cfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	toolDefs, lookup := s.selectTools(req.Tools)

	now := s.now()
	session := &llm.Session{
		ID:            uuid.NewString(),
		Model:         model,
		SystemPrompt:  req.SystemPrompt,
		Status:        llm.SessionStatusRunning,
		MaxIterations: cfg.MaxIterations,
		CreatedAt:     now,
		History:       []llm.HistoryEntry{},
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	initial := make([]llm.Turn, len(req.Messages))
	for i, m := range req.Messages {
		initial[i] = llm.Turn{
			Role:      llm.Role(m.Role),
			Content:   m.Content,
			CreatedAt: now,
		}
	}

	live := newLiveSession(*session, initial)
	loopCfg := orchestration.Config{
		Transport:    s.transport,
		Dispatcher:   tools.NewDispatcher(lookup, s.logger),
		Engine:       engine,
		Logger:       s.logger,
		Model:        model,
		SystemPrompt: buildSystemPrompt(req.SystemPrompt),
		Tools:        toolDefs,
		MaxTokens:    s.cfg.MaxTokens,
	}

	// session_start is replayed by the catchup function, not sent live.
	// Sessions outlive the request that started them.
	live.stream = mstream.NewStream(
		session.ID,
		func(runCtx context.Context, send func(mstream.Event)) error {
			return s.run(runCtx, live, loopCfg, send)
		},
		mstream.WithContext(context.WithoutCancel(ctx)),
		mstream.WithCatchup(streaming.BuildCatchupFunc(s.store, s.logger)),
		mstream.WithEventIDs(true),
		mstream.WithBufferSize(s.cfg.StreamBufferSize),
	)
	if err := s.streams.Register(live.stream); err != nil {
		return nil, &domain.ConflictError{
			Message:      fmt.Sprintf("session '%s' is already streaming", session.ID),
			ResourceType: "session",
			ResourceID:   session.ID,
		}
	}

	s.mu.Lock()
	s.running[session.ID] = live
	s.mu.Unlock()

	s.wg.Add(1)
	live.stream.Start()

	s.logger.Info("session started",
		"session_id", session.ID,
		"model", model,
		"max_iterations", cfg.MaxIterations,
		"tools", len(toolDefs),
	)

	return live.snapshot(), nil
}

// run is the stream work function of one session. It drives the session to
// completion, persists the outcome and sends session_complete last.
func (s *Service) run(ctx context.Context, live *liveSession, loopCfg orchestration.Config, send func(mstream.Event)) error {
	defer s.wg.Done()
	defer close(live.done)

	sessionID := live.session.ID
	loopCfg.Observer = &sessionObserver{svc: s, live: live, next: streaming.NewObserver(send, s.logger)}
	result, runErr := orchestration.NewLoop(loopCfg).Run(ctx, sessionID, live.initial)

	final := live.snapshot()
	completedAt := s.now()
	final.CompletedAt = &completedAt

	var turns []llm.Turn
	switch {
	case runErr != nil:
		msg := runErr.Error()
		final.Status = llm.SessionStatusError
		final.Error = &msg
		turns = live.initial
	default:
		final.Status = llm.SessionStatusComplete
		if live.wasInterrupted() {
			final.Status = llm.SessionStatusCancelled
		}
		reason := result.Decision.Reason
		source := string(result.Decision.Source)
		final.FinalReason = &reason
		final.FinalSource = &source
		final.Response = &result.Response
		final.Iterations = result.Iterations
		final.History = result.History
		progress := result.Progress
		final.Progress = &progress
		turns = result.Turns
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeWriteTimeout)
	defer cancel()
	if err := s.store.CompleteSession(writeCtx, final, turns); err != nil {
		s.logger.Error("failed to persist completed session",
			"session_id", sessionID,
			"error", err,
		)
	}

	s.mu.Lock()
	delete(s.running, sessionID)
	s.mu.Unlock()

	done := llm.SessionCompleteEvent{
		SessionID:  sessionID,
		Status:     llm.StatusTerminate,
		Iterations: final.Iterations,
	}
	if result != nil {
		done.Reason = result.Decision.Reason
		done.Source = result.Decision.Source
		done.Response = result.Response
	} else if final.Error != nil {
		done.Reason = *final.Error
	}
	streaming.Send(send, s.logger, llm.SSEEventSessionComplete, done)
	s.streams.Remove(sessionID)

	s.logger.Info("session finished",
		"session_id", sessionID,
		"status", final.Status,
		"iterations", final.Iterations,
		"reason", done.Reason,
	)
	return runErr
}

// GetSession returns the live snapshot of a running session or the stored record.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*llm.Session, error) {
	if live := s.lookup(sessionID); live != nil {
		return live.snapshot(), nil
	}
	return s.store.GetSession(ctx, sessionID)
}

// GetTurns returns the stored turns of a finished session.
// A running session has no settled turn sequence yet and reports a conflict.
func (s *Service) GetTurns(ctx context.Context, sessionID string) ([]llm.Turn, error) {
	if s.lookup(sessionID) != nil {
		return nil, &domain.ConflictError{
			Message:      fmt.Sprintf("session '%s' is still running", sessionID),
			ResourceType: "session",
			ResourceID:   sessionID,
		}
	}
	return s.store.GetTurns(ctx, sessionID)
}

// Interrupt cancels a running session's stream. The session still ends
// through the normal path, with status cancelled.
func (s *Service) Interrupt(ctx context.Context, sessionID string) error {
	stream := s.streams.Get(sessionID)
	live := s.lookup(sessionID)
	if stream == nil || live == nil {
		if _, err := s.store.GetSession(ctx, sessionID); err != nil {
			return err
		}
		return &domain.ConflictError{
			Message:      fmt.Sprintf("session '%s' is not running", sessionID),
			ResourceType: "session",
			ResourceID:   sessionID,
		}
	}

	live.markInterrupted()
	stream.Cancel()
	s.logger.Info("session interrupted", "session_id", sessionID)
	return nil
}

// Wait blocks until the session has finished and been persisted, or ctx ends.
// Returns immediately for sessions that are not running.
func (s *Service) Wait(ctx context.Context, sessionID string) error {
	live := s.lookup(sessionID)
	if live == nil {
		return nil
	}
	select {
	case <-live.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown interrupts every running session and waits for them to be
// persisted, or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.InterruptAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InterruptAll cancels every running session without waiting for them.
func (s *Service) InterruptAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, live := range s.running {
		live.markInterrupted()
		live.stream.Cancel()
		s.logger.Debug("session interrupted for shutdown", "session_id", id)
	}
}

// Streams exposes the stream registry for stream handlers.
func (s *Service) Streams() *mstream.Registry {
	return s.streams
}

func (s *Service) lookup(sessionID string) *liveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[sessionID]
}

// selectTools returns the definitions advertised to the model and the lookup
// the dispatcher uses. Tools outside the requested subset are not callable.
func (s *Service) selectTools(names []string) ([]llm.ToolDefinition, tools.Lookuper) {
	if s.tools == nil {
		return nil, tools.NewToolRegistry()
	}
	if len(names) == 0 {
		return s.tools.Definitions(), s.tools
	}

	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, def := range s.tools.Definitions() {
		if allowed[def.Name] {
			defs = append(defs, def)
		}
	}
	return defs, subsetLookup{registry: s.tools, allowed: allowed}
}

type subsetLookup struct {
	registry *tools.ToolRegistry
	allowed  map[string]bool
}

func (l subsetLookup) Lookup(name string) (tools.ToolExecutor, bool) {
	if !l.allowed[name] {
		return nil, false
	}
	return l.registry.Lookup(name)
}

func (s *Service) validateCreateSessionRequest(req *domainllm.CreateSessionRequest) error {
	if req == nil {
		return errors.New("request is required")
	}
	return validation.ValidateStruct(req,
		validation.Field(&req.Messages,
			validation.Required,
			validation.Each(validation.By(validMessage)),
			validation.By(startsWithUser),
		),
		validation.Field(&req.Tools, validation.Each(validation.By(s.registeredTool))),
		validation.Field(&req.SystemPrompt, validation.NilOrNotEmpty),
	)
}

func validMessage(value interface{}) error {
	m, ok := value.(domainllm.MessageInput)
	if !ok {
		return errors.New("invalid message")
	}
	return validation.ValidateStruct(&m,
		validation.Field(&m.Role, validation.Required, validation.In("user", "assistant")),
		validation.Field(&m.Content, validation.Required),
	)
}

func startsWithUser(value interface{}) error {
	msgs, _ := value.([]domainllm.MessageInput)
	if len(msgs) > 0 && msgs[0].Role != "user" {
		return errors.New("first message must have role 'user'")
	}
	return nil
}

func (s *Service) registeredTool(value interface{}) error {
	name, _ := value.(string)
	if s.tools == nil {
		return fmt.Errorf("unknown tool '%s'", name)
	}
	if _, ok := s.tools.Lookup(name); !ok {
		return fmt.Errorf("unknown tool '%s'", name)
	}
	return nil
}
