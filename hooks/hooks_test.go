package hooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/victoralfred/cadgate/executor"
)

// recordingHook implements every hook kind and records its invocations.
type recordingHook struct {
	name     string
	priority int
	calls    *[]string
	preErr   error
	valErr   error
	rewrite  func(*Command) *Command
}

func (h *recordingHook) Name() string  { return h.name }
func (h *recordingHook) Priority() int { return h.priority }

func (h *recordingHook) PreDispatch(_ context.Context, cmd *Command) (*Command, error) {
	*h.calls = append(*h.calls, h.name+":pre")
	if h.preErr != nil {
		return nil, h.preErr
	}
	if h.rewrite != nil {
		return h.rewrite(cmd), nil
	}
	return cmd, nil
}

func (h *recordingHook) PostDispatch(_ context.Context, cmd *Command, _ *executor.Result, _ error) error {
	*h.calls = append(*h.calls, h.name+":post")
	return nil
}

func (h *recordingHook) Validate(_ context.Context, cmd *Command) error {
	*h.calls = append(*h.calls, h.name+":validate")
	return h.valErr
}

func (h *recordingHook) OnError(_ context.Context, cmd *Command, _ error) error {
	*h.calls = append(*h.calls, h.name+":error")
	return nil
}

func TestRegistry_PriorityOrder(t *testing.T) {
	var calls []string
	r := NewRegistry()
	// Registered out of order; executed by priority.
	_ = r.Register(&recordingHook{name: "late", priority: 20, calls: &calls})
	_ = r.Register(&recordingHook{name: "early", priority: 5, calls: &calls})
	_ = r.Register(&recordingHook{name: "mid", priority: 10, calls: &calls})

	if _, err := r.RunPreDispatch(context.Background(), &Command{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	want := []string{"early:pre", "mid:pre", "late:pre"}
	if len(calls) != 3 {
		t.Fatalf("calls = %v", calls)
	}
	for i, w := range want {
		if calls[i] != w {
			t.Errorf("calls[%d] = %q, want %q", i, calls[i], w)
		}
	}
}

func TestRegistry_PreDispatchRewrite(t *testing.T) {
	var calls []string
	r := NewRegistry()
	_ = r.Register(&recordingHook{
		name: "redirect", priority: 1, calls: &calls,
		rewrite: func(cmd *Command) *Command {
			out := *cmd
			out.Document = "Sandbox"
			return &out
		},
	})

	cmd, err := r.RunPreDispatch(context.Background(), &Command{Type: "execute_code", Document: "Prod"})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Document != "Sandbox" {
		t.Errorf("Document = %q, want Sandbox", cmd.Document)
	}
}

func TestRegistry_PreDispatchErrorStopsChain(t *testing.T) {
	var calls []string
	boom := errors.New("denied")
	r := NewRegistry()
	_ = r.Register(&recordingHook{name: "first", priority: 1, calls: &calls, preErr: boom})
	_ = r.Register(&recordingHook{name: "second", priority: 2, calls: &calls})

	_, err := r.RunPreDispatch(context.Background(), &Command{Type: "ping"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	for _, c := range calls {
		if c == "second:pre" {
			t.Error("later hooks should not run after a failure")
		}
	}
}

func TestRegistry_Validation(t *testing.T) {
	var calls []string
	r := NewRegistry()
	_ = r.Register(&recordingHook{
		name: "doc-gate", priority: 1, calls: &calls,
		valErr: errors.New("document is locked"),
	})

	err := r.RunValidation(context.Background(), &Command{Type: "execute_code"})
	if err == nil {
		t.Fatal("validation error should propagate")
	}
	if err.Error() != "hook doc-gate: document is locked" {
		t.Errorf("err = %v", err)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	var calls []string
	r := NewRegistry()
	_ = r.Register(&recordingHook{name: "gone", priority: 1, calls: &calls})
	r.Unregister("gone")

	if _, err := r.RunPreDispatch(context.Background(), &Command{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	if err := r.RunPostDispatch(context.Background(), &Command{Type: "ping"}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 0 {
		t.Errorf("unregistered hook still ran: %v", calls)
	}
}

func TestRegistry_EmptyIsNoop(t *testing.T) {
	r := NewRegistry()
	cmd := &Command{Type: "ping"}

	out, err := r.RunPreDispatch(context.Background(), cmd)
	if err != nil || out != cmd {
		t.Errorf("empty registry should pass the command through, got %v, %v", out, err)
	}
	if err := r.RunValidation(context.Background(), cmd); err != nil {
		t.Error(err)
	}
	if err := r.RunError(context.Background(), cmd, errors.New("x")); err != nil {
		t.Error(err)
	}
}

func TestLoggingHook(t *testing.T) {
	var lines []string
	h := NewLoggingHook(func(format string, args ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, args...))
	})

	r := NewRegistry()
	_ = r.Register(h)

	if _, err := r.RunPreDispatch(context.Background(), &Command{Type: "run_macro", Macro: "box"}); err != nil {
		t.Fatal(err)
	}
	if err := r.RunPostDispatch(context.Background(), &Command{Type: "run_macro"}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := r.RunError(context.Background(), &Command{Type: "run_macro"},
		executor.NewToolFault("dispatch", errors.New("boom"))); err != nil {
		t.Fatal(err)
	}
	if len(lines) != 3 {
		t.Fatalf("lines = %v", lines)
	}
	if !strings.Contains(lines[2], string(executor.ErrCodeToolFault)) {
		t.Errorf("error line should carry the code, got %q", lines[2])
	}
}
