// Command cli runs one continuation session in-process and prints its
// progress to the terminal. Sessions are stored in SQLite.
//
//	go run ./cmd/cli -model lorem/lorem-fast "plan a trip to Lisbon"
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	mstream "github.com/haowjy/meridian-stream-go"
	"github.com/joho/godotenv"

	"cadence/internal/config"
	llmModels "cadence/internal/domain/models/llm"
	llmSvc "cadence/internal/domain/services/llm"
	"cadence/internal/repository/sqlite"
	serviceLLM "cadence/internal/service/llm"
	"cadence/internal/service/llm/continuation"
	"cadence/internal/service/llm/providers/anthropic"
	"cadence/internal/service/llm/providers/lorem"
	"cadence/internal/service/llm/providers/openrouter"
	"cadence/internal/service/llm/session"
	"cadence/internal/service/llm/streaming"
	"cadence/internal/service/llm/tools"
	"cadence/internal/service/llm/tools/external"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	model := flag.String("model", cfg.DefaultModel, "model to run (provider/model)")
	dbPath := flag.String("db", sqlite.MemoryPath, "SQLite path for session records")
	maxIterations := flag.Int("max-iterations", 0, "override max_iterations")
	explicit := flag.Bool("explicit", false, "require an explicit continuation signal")
	flag.Parse()

	prompt := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if prompt == "" {
		fmt.Fprintf(os.Stderr, "%susage: cli [flags] <prompt>%s\n", colorRed, colorReset)
		os.Exit(2)
	}

	level, err := config.ParseLogLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = slog.LevelWarn
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))

	if err := run(cfg, logger, *model, *dbPath, prompt, *maxIterations, *explicit); err != nil {
		fmt.Fprintf(os.Stderr, "%s❌ %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, model, dbPath, prompt string, maxIterations int, explicit bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := sqlite.NewSessionStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	continuationCfg, err := continuation.LoadConfig(cfg.ContinuationConfigPath)
	if err != nil {
		return err
	}

	builder := tools.NewToolRegistryBuilder().
		WithConfig(toolConfig(cfg)).
		WithCurrentTime()
	if cfg.TavilyAPIKey != "" {
		builder = builder.WithWebSearch(external.NewTavilyClient(cfg.TavilyAPIKey))
	}

	transports := serviceLLM.NewTransportRegistry()
	transports.Register(lorem.NewProvider())
	if cfg.AnthropicAPIKey != "" {
		provider, err := anthropic.NewProvider(cfg.AnthropicAPIKey, logger)
		if err != nil {
			return err
		}
		transports.Register(provider)
	}
	if cfg.OpenRouterAPIKey != "" {
		adapter, err := openrouter.NewAdapter(cfg.OpenRouterAPIKey)
		if err != nil {
			return err
		}
		transports.Register(adapter)
	}

	svc := session.NewService(store, transports, builder.Build(), mstream.NewRegistry(), session.Config{
		DefaultModel: cfg.DefaultModel,
		MaxTokens:    cfg.MaxOutputTokens,
		Continuation: continuationCfg,
	}, logger)

	req := &llmSvc.CreateSessionRequest{
		Messages: []llmSvc.MessageInput{{Role: "user", Content: prompt}},
		Model:    model,
	}
	if maxIterations > 0 || explicit {
		req.Continuation = &llmModels.ContinuationOverrides{}
		if maxIterations > 0 {
			req.Continuation.MaxIterations = &maxIterations
		}
		if explicit {
			req.Continuation.RequireExplicitSignal = &explicit
		}
	}

	started, err := svc.StartSession(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("%s▶ session %s (%s, max %d iterations)%s\n", colorCyan, started.ID, started.Model, started.MaxIterations, colorReset)

	if stream := svc.Streams().Get(started.ID); stream != nil {
		watch(ctx, svc, stream)
	}

	if err := svc.Wait(context.Background(), started.ID); err != nil {
		return err
	}
	final, err := svc.GetSession(context.Background(), started.ID)
	if err != nil {
		return err
	}
	printSummary(final)
	return nil
}

func toolConfig(cfg *config.Config) *tools.ToolConfig {
	toolCfg := tools.DefaultToolConfig()
	toolCfg.DefaultTimezone = cfg.ToolTimezone
	return toolCfg
}

// watch prints events until the session completes. Ctrl-C interrupts the
// session and keeps watching so the final event is still shown.
func watch(ctx context.Context, svc *session.Service, stream *mstream.Stream) {
	clientID := uuid.NewString()
	ch := stream.AddClient(clientID)
	defer stream.RemoveClient(clientID)

	var lastSeq int64
	show := func(event mstream.Event) bool {
		if seq := streaming.Sequence(event); seq > 0 {
			if seq <= lastSeq {
				return false
			}
			lastSeq = seq
		}
		printEvent(event)
		return event.Type == llmModels.SSEEventSessionComplete
	}

	for _, event := range stream.GetCatchupEvents("") {
		if show(event) {
			return
		}
	}

	interrupted := false
	for {
		switch stream.Status() {
		case mstream.StatusComplete, mstream.StatusError, mstream.StatusCancelled:
			// A client added after the stream closed is never closed itself.
			if len(ch) == 0 {
				return
			}
		}
		select {
		case <-ctx.Done():
			if !interrupted {
				interrupted = true
				fmt.Printf("\n%s⏹ interrupting...%s\n", colorYellow, colorReset)
				_ = svc.Interrupt(context.Background(), stream.ID())
			}
			ctx = context.Background()
		case event, open := <-ch:
			if !open {
				return
			}
			if show(event) {
				return
			}
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func printEvent(event mstream.Event) {
	switch event.Type {
	case llmModels.SSEEventRoundDelta:
		var data llmModels.DeltaEvent
		if streaming.Decode(event, &data) != nil {
			return
		}
		switch data.Fragment.Kind {
		case llmModels.FragmentText:
			fmt.Print(data.Fragment.Delta)
		case llmModels.FragmentToolStart:
			fmt.Printf("\n%s🔧 %s%s\n", colorBlue, data.Fragment.ToolName, colorReset)
		}
	case llmModels.SSEEventProgress:
		var data llmModels.ProgressEvent
		if streaming.Decode(event, &data) != nil {
			return
		}
		color := colorGreen
		if data.Status == llmModels.StatusTerminate {
			color = colorYellow
		}
		fmt.Printf("\n%s● round %d/%d: %s (%s)", color, data.Iteration, data.MaxIterations, data.Status, data.Source)
		if data.Reason != "" {
			fmt.Printf(" - %s", data.Reason)
		}
		if data.Progress.TotalSteps > 0 {
			fmt.Printf(" [%d/%d, %.0f%%]", data.Progress.CurrentStep, data.Progress.TotalSteps, data.Progress.CompletionPercentage)
		}
		fmt.Printf("%s\n", colorReset)
	case llmModels.SSEEventSessionComplete:
		var data llmModels.SessionCompleteEvent
		if streaming.Decode(event, &data) != nil {
			return
		}
		fmt.Printf("%s■ done after %d iterations (%s)%s\n", colorCyan, data.Iterations, data.Source, colorReset)
	}
}

func printSummary(s *llmModels.Session) {
	fmt.Println("\n" + strings.Repeat("─", 40))
	fmt.Printf("status: %s\n", s.Status)
	if s.FinalReason != nil {
		fmt.Printf("reason: %s\n", *s.FinalReason)
	}
	if s.Error != nil {
		fmt.Printf("%serror: %s%s\n", colorRed, *s.Error, colorReset)
	}
	for _, h := range s.History {
		fmt.Printf("  #%d %s (%s) tools=%d\n", h.Iteration+1, h.Status, h.Source, h.ToolCallCount)
	}
}
