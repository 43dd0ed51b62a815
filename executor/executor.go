// Package executor runs validated macro code in a restricted namespace.
//
// The sandbox is the namespace, not the process: code executes in the same
// address space with the same privileges as the host. What it can reach is
// limited to the modules policy allows and the host entry points the caller
// injects — never the ambient process environment. This is a soft sandbox by
// construction; OS-level isolation is explicitly out of scope.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.starlark.net/starlark"

	"github.com/victoralfred/cadgate/internal/dialect"
	"github.com/victoralfred/cadgate/policy"
)

// Request describes one execution of validated macro source. A Request is
// owned by the call that constructs it and must not be shared across
// concurrent executions.
type Request struct {
	// Source is the validated, parameter-injected macro source. The executor
	// runs exactly these bytes; callers are responsible for validating them
	// first.
	Source string

	// Entrypoints are host-application values bound into the namespace, such
	// as a live document handle. May be nil.
	Entrypoints starlark.StringDict

	// Timeout overrides the executor's default wall-clock budget when > 0.
	Timeout time.Duration
}

// Executor runs macro code. Implementations are safe for concurrent use;
// serialization of model-mutating runs is the dispatcher's job, not the
// executor's.
type Executor interface {
	// Execute runs a request and reports the outcome. The returned Result is
	// never nil; faults are captured in it rather than returned as errors.
	// The error return is reserved for executor lifecycle problems such as
	// shutdown.
	Execute(ctx context.Context, req *Request) (*Result, error)

	// Shutdown waits for in-flight executions to finish.
	Shutdown(ctx context.Context) error
}

// Builder creates configured Executor instances.
type Builder struct {
	policy         *policy.Set
	registry       *Registry
	defaultTimeout time.Duration
	maxSteps       uint64
}

// NewBuilder creates an executor builder with a 60 second default budget.
func NewBuilder() *Builder {
	return &Builder{
		defaultTimeout: 60 * time.Second,
	}
}

// WithPolicy sets the policy whose module allow-list shapes the namespace.
func (b *Builder) WithPolicy(set *policy.Set) *Builder {
	b.policy = set
	return b
}

// WithRegistry sets the host module registry.
func (b *Builder) WithRegistry(r *Registry) *Builder {
	b.registry = r
	return b
}

// WithDefaultTimeout sets the default wall-clock budget per execution.
func (b *Builder) WithDefaultTimeout(d time.Duration) *Builder {
	b.defaultTimeout = d
	return b
}

// WithMaxSteps caps Starlark computation steps per execution (0 = no cap).
func (b *Builder) WithMaxSteps(n uint64) *Builder {
	b.maxSteps = n
	return b
}

// Build creates the executor.
func (b *Builder) Build() (Executor, error) {
	if b.policy == nil {
		b.policy = policy.Default()
	}
	if b.registry == nil {
		b.registry = DefaultRegistry()
	}
	return &starlarkExecutor{
		policy:         b.policy,
		registry:       b.registry,
		defaultTimeout: b.defaultTimeout,
		maxSteps:       b.maxSteps,
	}, nil
}

type starlarkExecutor struct {
	policy         *policy.Set
	registry       *Registry
	defaultTimeout time.Duration
	maxSteps       uint64
	wg             sync.WaitGroup
	mu             sync.RWMutex // guards shutdown check against wg.Wait
	shutdown       int32
}

// Execute implements Executor.
func (e *starlarkExecutor) Execute(ctx context.Context, req *Request) (result *Result, err error) {
	e.mu.RLock()
	if atomic.LoadInt32(&e.shutdown) == 1 {
		e.mu.RUnlock()
		return nil, ErrExecutorShutdown
	}
	e.wg.Add(1)
	e.mu.RUnlock()
	defer e.wg.Done()

	result = &Result{ExecutionID: uuid.New().String()}
	started := time.Now()

	// A panic inside the interpreter or a host builtin is a tool fault: it
	// is captured here so one bad macro cannot take the server down.
	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusInternal
			result.Fault = &Fault{Kind: "internal", Message: fmt.Sprintf("executor fault: %v", r)}
			result.Duration = time.Since(started)
			err = nil
		}
	}()

	predeclared, buildErr := e.buildNamespace(req.Entrypoints)
	if buildErr != nil {
		result.Status = StatusInternal
		result.Fault = &Fault{Kind: "internal", Message: buildErr.Error()}
		result.Duration = time.Since(started)
		return result, nil
	}

	var out strings.Builder
	var outMu sync.Mutex

	thread := &starlark.Thread{
		Name: "macro-" + result.ExecutionID,
		Print: func(_ *starlark.Thread, msg string) {
			outMu.Lock()
			out.WriteString(msg)
			out.WriteString("\n")
			outMu.Unlock()
		},
		Load: e.load,
	}
	if e.maxSteps > 0 {
		thread.SetMaxExecutionSteps(e.maxSteps)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	// Best-effort cancellation: the timer marks the run as timed out and
	// cancels the thread at its next loop back-edge. A host builtin that
	// blocks cannot be preempted; the run stays logically failed while the
	// goroutine finishes in the background.
	var timedOut, canceled atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		thread.Cancel("wall-clock budget exceeded")
	})
	defer timer.Stop()

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			canceled.Store(true)
			thread.Cancel("context canceled")
		case <-watchDone:
		}
	}()

	_, execErr := starlark.ExecFileOptions(dialect.Options(), thread, "macro.star", req.Source, predeclared)

	result.Duration = time.Since(started)
	result.Steps = thread.ExecutionSteps()
	outMu.Lock()
	result.Stdout = out.String()
	outMu.Unlock()

	switch {
	case execErr == nil:
		result.Status = StatusSuccess
	case timedOut.Load():
		result.Status = StatusTimeout
		result.Fault = &Fault{
			Kind:    "timeout",
			Message: fmt.Sprintf("execution exceeded wall-clock budget of %s", timeout),
		}
	case canceled.Load():
		result.Status = StatusCanceled
		result.Fault = &Fault{Kind: "canceled", Message: ErrCanceled.Error()}
	default:
		result.Status = StatusError
		result.Fault = faultFromError(execErr)
	}

	return result, nil
}

// Shutdown implements Executor.
func (e *starlarkExecutor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	atomic.StoreInt32(&e.shutdown, 1)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildNamespace constructs a fresh restricted namespace for one execution:
// allow-listed modules the host registered, plus the caller's entry points.
// Namespaces are never reused between executions; untrusted runs must not be
// able to observe each other through leftover state.
func (e *starlarkExecutor) buildNamespace(entrypoints starlark.StringDict) (starlark.StringDict, error) {
	predeclared := make(starlark.StringDict, len(entrypoints)+8)

	for _, name := range e.policy.AllowedModules() {
		mod, ok := e.registry.Lookup(name)
		if !ok {
			// Policy allows a module the host never loaded. Skip rather than
			// fail: the allow-list is an upper bound, not a manifest.
			continue
		}
		predeclared[name] = mod.Value
	}

	for name, value := range entrypoints {
		predeclared[name] = value
	}

	return predeclared, nil
}

// load serves load statements from the registry, gated by policy. The
// validator already rejected disallowed loads; this is the second, dynamic
// gate so there is no path around the policy even for unvalidated callers.
func (e *starlarkExecutor) load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	root := module
	if i := strings.IndexAny(root, "/."); i >= 0 {
		root = root[:i]
	}
	if !e.policy.ModuleAllowed(root) {
		return nil, fmt.Errorf("loading module %q is not allowed", module)
	}
	mod, ok := e.registry.Lookup(root)
	if !ok {
		return nil, fmt.Errorf("module %q: %w", module, ErrModuleNotRegistered)
	}
	return mod.Members, nil
}

// faultFromError shapes an evaluation error into a structured fault,
// preserving the macro-level backtrace when the interpreter provides one.
func faultFromError(err error) *Fault {
	var evalErr *starlark.EvalError
	if ok := asEvalError(err, &evalErr); ok {
		return &Fault{
			Kind:      "evaluation",
			Message:   evalErr.Msg,
			Backtrace: evalErr.Backtrace(),
		}
	}
	return &Fault{Kind: "evaluation", Message: err.Error()}
}

func asEvalError(err error, target **starlark.EvalError) bool {
	for err != nil {
		if e, ok := err.(*starlark.EvalError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
