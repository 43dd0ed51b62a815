package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.starlark.net/starlark"

	"github.com/victoralfred/cadgate/policy"
)

func newExecutor(t *testing.T, opts ...func(*Builder)) Executor {
	t.Helper()
	b := NewBuilder()
	for _, opt := range opts {
		opt(b)
	}
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return e
}

func TestExecute_CapturesStdout(t *testing.T) {
	e := newExecutor(t)

	result, err := e.Execute(context.Background(), &Request{
		Source: "print(\"hello\")\nprint(\"world\")",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("Status = %s, want %s (fault: %+v)", result.Status, StatusSuccess, result.Fault)
	}
	if result.Stdout != "hello\nworld\n" {
		t.Errorf("Stdout = %q", result.Stdout)
	}
	if result.ExecutionID == "" {
		t.Error("ExecutionID should be set")
	}
	if result.Duration <= 0 {
		t.Error("Duration should be positive")
	}
}

func TestExecute_AllowedModuleInNamespace(t *testing.T) {
	e := newExecutor(t)

	result, err := e.Execute(context.Background(), &Request{
		Source: `print(math.sqrt(16.0))`,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("math should be predeclared: %+v", result.Fault)
	}
	if !strings.HasPrefix(result.Stdout, "4") {
		t.Errorf("Stdout = %q", result.Stdout)
	}
}

func TestExecute_NamespaceIsRestricted(t *testing.T) {
	e := newExecutor(t)

	// Nothing outside the allow-list and entry points exists. Probing an
	// undefined name is an execution fault, not a crash.
	result, err := e.Execute(context.Background(), &Request{
		Source: `os.system("id")`,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != StatusError {
		t.Fatalf("Status = %s, want %s", result.Status, StatusError)
	}
	if !strings.Contains(result.Fault.Message, "os") {
		t.Errorf("fault should name the undefined symbol, got %q", result.Fault.Message)
	}
}

func TestExecute_PolicyShapesNamespace(t *testing.T) {
	restricted, err := policy.Compile(&policy.Config{
		Version:  "1",
		Security: policy.SecurityConfig{AllowedModules: []string{"json"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	e := newExecutor(t, func(b *Builder) { b.WithPolicy(restricted) })

	// math is registered by the host but not allowed by this policy.
	result, err := e.Execute(context.Background(), &Request{Source: `math.sqrt(4.0)`})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusError {
		t.Error("module outside the allow-list should not be in the namespace")
	}

	result, err = e.Execute(context.Background(), &Request{
		Source: `print(json.encode({"a": 1}))`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusSuccess {
		t.Errorf("allowed module should work: %+v", result.Fault)
	}
}

func TestExecute_Entrypoints(t *testing.T) {
	e := newExecutor(t)

	result, err := e.Execute(context.Background(), &Request{
		Source: `print(greeting)`,
		Entrypoints: starlark.StringDict{
			"greeting": starlark.String("hi there"),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("entrypoint should be visible: %+v", result.Fault)
	}
	if result.Stdout != "hi there\n" {
		t.Errorf("Stdout = %q", result.Stdout)
	}
}

func TestExecute_FreshNamespacePerRun(t *testing.T) {
	e := newExecutor(t)

	first, err := e.Execute(context.Background(), &Request{Source: `leak = 42`})
	if err != nil || first.Status != StatusSuccess {
		t.Fatalf("first run failed: %v %+v", err, first)
	}

	second, err := e.Execute(context.Background(), &Request{Source: `print(leak)`})
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != StatusError {
		t.Error("globals must not leak between executions")
	}
}

func TestExecute_EvaluationFault(t *testing.T) {
	e := newExecutor(t)

	result, err := e.Execute(context.Background(), &Request{
		Source: "def boom():\n    fail(\"broken\")\nboom()",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusError {
		t.Fatalf("Status = %s, want %s", result.Status, StatusError)
	}
	if result.Fault.Kind != "evaluation" {
		t.Errorf("Kind = %q, want evaluation", result.Fault.Kind)
	}
	if !strings.Contains(result.Fault.Message, "broken") {
		t.Errorf("Message = %q", result.Fault.Message)
	}
	if !strings.Contains(result.Fault.Backtrace, "boom") {
		t.Errorf("Backtrace should mention the failing function, got %q", result.Fault.Backtrace)
	}
}

func TestExecute_Timeout(t *testing.T) {
	e := newExecutor(t)

	start := time.Now()
	result, err := e.Execute(context.Background(), &Request{
		Source:  "while True:\n    pass",
		Timeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusTimeout {
		t.Fatalf("Status = %s, want %s", result.Status, StatusTimeout)
	}
	if result.Fault.Kind != "timeout" {
		t.Errorf("Kind = %q, want timeout", result.Fault.Kind)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v, executor did not stay live", elapsed)
	}
}

func TestExecute_TimeoutPreservesOutput(t *testing.T) {
	e := newExecutor(t)

	result, err := e.Execute(context.Background(), &Request{
		Source:  "print(\"before\")\nwhile True:\n    pass",
		Timeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusTimeout {
		t.Fatalf("Status = %s, want %s", result.Status, StatusTimeout)
	}
	if result.Stdout != "before\n" {
		t.Errorf("output before the timeout should be kept, got %q", result.Stdout)
	}
}

func TestExecute_ContextCancel(t *testing.T) {
	e := newExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := e.Execute(ctx, &Request{
		Source: "while True:\n    pass",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusCanceled {
		t.Fatalf("Status = %s, want %s", result.Status, StatusCanceled)
	}
}

func TestExecute_MaxSteps(t *testing.T) {
	e := newExecutor(t, func(b *Builder) { b.WithMaxSteps(1000) })

	result, err := e.Execute(context.Background(), &Request{
		Source: "x = 0\nfor i in range(100000):\n    x += 1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status == StatusSuccess {
		t.Error("step-capped execution should not complete")
	}
}

func TestExecute_LoadFromRegistry(t *testing.T) {
	e := newExecutor(t)

	result, err := e.Execute(context.Background(), &Request{
		Source: "load(\"math\", \"sqrt\")\nprint(sqrt(9.0))",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("load of a registered allowed module should work: %+v", result.Fault)
	}
}

func TestExecute_LoadDeniedDynamically(t *testing.T) {
	e := newExecutor(t)

	// Even if source somehow skipped static validation, load is gated again
	// at execution time.
	result, err := e.Execute(context.Background(), &Request{
		Source: `load("os", "environ")`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != StatusError {
		t.Fatal("disallowed load must fail at execution time")
	}
	if !strings.Contains(result.Fault.Message, "not allowed") {
		t.Errorf("Message = %q", result.Fault.Message)
	}
}

func TestShutdown_RejectsNewWork(t *testing.T) {
	b := NewBuilder()
	e, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if _, err := e.Execute(context.Background(), &Request{Source: "pass"}); err != ErrExecutorShutdown {
		t.Errorf("Execute after shutdown = %v, want ErrExecutorShutdown", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("custom"); ok {
		t.Fatal("empty registry should have no modules")
	}

	r.Register(Module{Name: "custom", Value: starlark.String("v")})
	mod, ok := r.Lookup("custom")
	if !ok || mod.Name != "custom" {
		t.Fatal("registered module not found")
	}

	// Later registration replaces.
	r.Register(Module{Name: "custom", Value: starlark.String("v2")})
	mod, _ = r.Lookup("custom")
	if string(mod.Value.(starlark.String)) != "v2" {
		t.Error("re-registration should replace the module")
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	for _, name := range []string{"math", "time", "json", "struct"} {
		if _, ok := r.Lookup(name); !ok {
			t.Errorf("default registry missing %q", name)
		}
	}
}
