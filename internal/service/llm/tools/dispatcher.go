package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cadence/internal/domain/models/llm"
)

// ErrToolNotFound is wrapped into the error text of results for unknown tools.
var ErrToolNotFound = errors.New("tool not found")

// ErrDeadlineExceeded is reported for executions that never started because the
// session deadline had already passed.
var ErrDeadlineExceeded = errors.New("session deadline exceeded before execution started")

// Lookuper is the registry capability the dispatcher needs.
type Lookuper interface {
	Lookup(name string) (ToolExecutor, bool)
}

// DispatchOptions bounds one dispatch.
type DispatchOptions struct {
	// Deadline is the session deadline. Executions that have not started by
	// then are reported as not started. Zero means no deadline.
	Deadline time.Time
}

// Dispatcher executes the finalized tool requests of a round and collects
// their results in request order.
type Dispatcher struct {
	registry Lookuper
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry Lookuper, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch runs every request concurrently and returns once all of them have
// completed. results[i] always belongs to requests[i].
//
// Failures never escape as errors: unknown tools, malformed arguments, tool
// errors and panics all become error results the model can see.
func (d *Dispatcher) Dispatch(ctx context.Context, requests []llm.ToolInvocationRequest, opts DispatchOptions) []llm.ToolInvocationResult {
	if len(requests) == 0 {
		return []llm.ToolInvocationResult{}
	}

	// Pre-allocate results slice with correct length
	results := make([]llm.ToolInvocationResult, len(requests))
	var wg sync.WaitGroup

	for i, req := range requests {
		wg.Add(1)
		go func(index int, req llm.ToolInvocationRequest) {
			defer wg.Done()
			results[index] = d.execute(ctx, req, opts)
		}(i, req)
	}

	wg.Wait()

	return results
}

// execute runs a single request and always returns a result.
func (d *Dispatcher) execute(ctx context.Context, req llm.ToolInvocationRequest, opts DispatchOptions) (result llm.ToolInvocationResult) {
	start := d.now()
	result = llm.ToolInvocationResult{
		RequestID: req.ID,
		ToolName:  req.Name,
	}
	defer func() {
		result.Duration = d.now().Sub(start)
	}()

	// No new executions after cancellation or the session deadline
	if err := ctx.Err(); err != nil {
		return failed(result, llm.ResultNotStarted, err.Error())
	}
	if !opts.Deadline.IsZero() && !start.Before(opts.Deadline) {
		return failed(result, llm.ResultNotStarted, ErrDeadlineExceeded.Error())
	}

	executor, ok := d.registry.Lookup(req.Name)
	if !ok {
		d.logger.Warn("tool not found",
			"tool", req.Name,
			"request_id", req.ID,
		)
		return failed(result, llm.ResultToolNotFound, fmt.Sprintf("%s: %s", ErrToolNotFound, req.Name))
	}

	if req.HasArgumentError() {
		return failed(result, llm.ResultInvalidArguments, "invalid arguments: "+req.ArgumentError)
	}

	output, err := d.invoke(ctx, executor, req)
	if err != nil {
		d.logger.Debug("tool execution failed",
			"tool", req.Name,
			"request_id", req.ID,
			"error", err,
		)
		return failed(result, llm.ResultExecutionFailed, err.Error())
	}

	result.Kind = llm.ResultSuccess
	result.Output = output
	return result
}

// invoke calls the executor, turning a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, executor ToolExecutor, req llm.ToolInvocationRequest) (output interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked",
				"tool", req.Name,
				"request_id", req.ID,
				"panic", r,
			)
			output = nil
			err = fmt.Errorf("tool %s panicked: %v", req.Name, r)
		}
	}()

	return executor.Execute(ctx, req.Arguments)
}

func failed(result llm.ToolInvocationResult, kind llm.ResultKind, msg string) llm.ToolInvocationResult {
	result.Kind = kind
	result.Error = msg
	return result
}
