package llm

import (
	"errors"
	"testing"

	"cadence/internal/domain/models/llm"
)

func TestStreamAccumulator_Finalize(t *testing.T) {
	t.Run("zero fragments yields no requests", func(t *testing.T) {
		acc := NewStreamAccumulator()
		if err := acc.Process(llm.EndFragment("end_turn")); err != nil {
			t.Fatalf("Process() error = %v", err)
		}

		requests, err := acc.Finalize()
		if err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		if len(requests) != 0 {
			t.Errorf("expected 0 requests, got %d", len(requests))
		}
		if acc.StopReason() != "end_turn" {
			t.Errorf("expected stop reason end_turn, got %q", acc.StopReason())
		}
	})

	t.Run("interleaved indices keep arrival order per index", func(t *testing.T) {
		acc := NewStreamAccumulator()
		fragments := []llm.Fragment{
			llm.ToolStartFragment(0, "toolu_a", "search"),
			llm.ToolStartFragment(1, "toolu_b", "fetch"),
			llm.ToolArgsFragment(1, `{"url":`),
			llm.ToolArgsFragment(0, `{"query"`),
			llm.ToolArgsFragment(0, `:"go"}`),
			llm.ToolArgsFragment(1, `"https://go.dev"}`),
			llm.EndFragment("tool_use"),
		}
		for _, f := range fragments {
			if err := acc.Process(f); err != nil {
				t.Fatalf("Process() error = %v", err)
			}
		}

		requests, err := acc.Finalize()
		if err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		if len(requests) != 2 {
			t.Fatalf("expected 2 requests, got %d", len(requests))
		}

		tests := []struct {
			id, name, raw string
		}{
			{"toolu_a", "search", `{"query":"go"}`},
			{"toolu_b", "fetch", `{"url":"https://go.dev"}`},
		}
		for i, tt := range tests {
			req := requests[i]
			if req.Index != i {
				t.Errorf("request %d: index = %d", i, req.Index)
			}
			if req.ID != tt.id {
				t.Errorf("request %d: id = %q, want %q", i, req.ID, tt.id)
			}
			if req.Name != tt.name {
				t.Errorf("request %d: name = %q, want %q", i, req.Name, tt.name)
			}
			if req.RawArguments != tt.raw {
				t.Errorf("request %d: raw = %q, want %q", i, req.RawArguments, tt.raw)
			}
			if req.HasArgumentError() {
				t.Errorf("request %d: unexpected argument error %q", i, req.ArgumentError)
			}
		}
		if requests[0].Arguments["query"] != "go" {
			t.Errorf("expected parsed query argument, got %v", requests[0].Arguments)
		}
	})

	t.Run("name only on first fragment is kept", func(t *testing.T) {
		acc := NewStreamAccumulator()
		_ = acc.Process(llm.Fragment{Kind: llm.FragmentToolArgs, Index: 3, ToolName: "list_items", Delta: `{"a"`})
		_ = acc.Process(llm.ToolArgsFragment(3, `:1}`))
		_ = acc.Process(llm.Fragment{Kind: llm.FragmentToolArgs, Index: 3, ToolName: "other"})
		_ = acc.Process(llm.EndFragment(""))

		requests, err := acc.Finalize()
		if err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		if len(requests) != 1 {
			t.Fatalf("expected 1 request, got %d", len(requests))
		}
		if requests[0].Name != "list_items" {
			t.Errorf("expected name list_items, got %q", requests[0].Name)
		}
		if requests[0].ID != "call_3" {
			t.Errorf("expected generated id call_3, got %q", requests[0].ID)
		}
	})

	t.Run("malformed arguments are flagged not dropped", func(t *testing.T) {
		acc := NewStreamAccumulator()
		_ = acc.Process(llm.ToolStartFragment(0, "", "search"))
		_ = acc.Process(llm.ToolArgsFragment(0, `{"query": `))
		_ = acc.Process(llm.EndFragment(""))

		requests, err := acc.Finalize()
		if err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		if len(requests) != 1 {
			t.Fatalf("expected 1 request, got %d", len(requests))
		}
		if !requests[0].HasArgumentError() {
			t.Error("expected argument error to be set")
		}
		if requests[0].RawArguments != `{"query": ` {
			t.Errorf("raw arguments not preserved: %q", requests[0].RawArguments)
		}
	})

	t.Run("empty arguments become empty object", func(t *testing.T) {
		acc := NewStreamAccumulator()
		_ = acc.Process(llm.ToolStartFragment(0, "toolu_x", "current_time"))
		_ = acc.Process(llm.EndFragment(""))

		requests, _ := acc.Finalize()
		if len(requests) != 1 || requests[0].HasArgumentError() {
			t.Fatalf("unexpected result: %+v", requests)
		}
		if requests[0].Arguments == nil || len(requests[0].Arguments) != 0 {
			t.Errorf("expected empty argument map, got %v", requests[0].Arguments)
		}
	})

	t.Run("non-object arguments are flagged", func(t *testing.T) {
		acc := NewStreamAccumulator()
		_ = acc.Process(llm.ToolStartFragment(0, "", "search"))
		_ = acc.Process(llm.ToolArgsFragment(0, `null`))
		_ = acc.Process(llm.EndFragment(""))

		requests, _ := acc.Finalize()
		if !requests[0].HasArgumentError() {
			t.Error("expected argument error for JSON null")
		}
	})
}

func TestStreamAccumulator_Text(t *testing.T) {
	acc := NewStreamAccumulator()
	_ = acc.Process(llm.TextFragment("Looking "))
	_ = acc.Process(llm.ToolStartFragment(0, "", "search"))
	_ = acc.Process(llm.TextFragment("it up."))

	if got := acc.Text(); got != "Looking it up." {
		t.Errorf("Text() = %q", got)
	}
	if names := acc.PendingToolNames(); len(names) != 1 || names[0] != "search" {
		t.Errorf("PendingToolNames() = %v", names)
	}
	if acc.Ended() {
		t.Error("accumulator should not be ended before the end marker")
	}
}

func TestStreamAccumulator_Lifecycle(t *testing.T) {
	acc := NewStreamAccumulator()
	_ = acc.Process(llm.EndFragment(""))

	if err := acc.Process(llm.TextFragment("late")); !errors.Is(err, ErrFragmentAfterEnd) {
		t.Errorf("expected ErrFragmentAfterEnd, got %v", err)
	}
	if _, err := acc.Finalize(); err != nil {
		t.Fatalf("first Finalize() error = %v", err)
	}
	if _, err := acc.Finalize(); !errors.Is(err, ErrAccumulatorFinalized) {
		t.Errorf("expected ErrAccumulatorFinalized on second Finalize, got %v", err)
	}
	if err := acc.Process(llm.TextFragment("x")); !errors.Is(err, ErrAccumulatorFinalized) {
		t.Errorf("expected ErrAccumulatorFinalized after Finalize, got %v", err)
	}
}

func TestStreamAccumulator_UnknownKind(t *testing.T) {
	acc := NewStreamAccumulator()
	if err := acc.Process(llm.Fragment{Kind: "bogus"}); err == nil {
		t.Error("expected error for unknown fragment kind")
	}
}
