// Package hooks provides extension points around command dispatch.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/victoralfred/cadgate/executor"
)

// Command is the dispatch-level view of a request that hooks may inspect or
// rewrite before the gateway validates and executes it.
type Command struct {
	// Type is the command type, such as execute_code or run_macro.
	Type string

	// Document is the target document name, if any.
	Document string

	// Macro is the stored macro name for macro commands.
	Macro string

	// Source is the macro source for code-bearing commands.
	Source string

	// Params are the injection parameters.
	Params map[string]any
}

// Hook is the common interface for all hook kinds.
type Hook interface {
	// Name returns a unique identifier for the hook.
	Name() string

	// Priority determines execution order (lower = earlier).
	Priority() int
}

// PreDispatchHook runs before validation. It may rewrite the command.
type PreDispatchHook interface {
	Hook
	PreDispatch(ctx context.Context, cmd *Command) (*Command, error)
}

// PostDispatchHook runs after execution completes, successfully or not.
type PostDispatchHook interface {
	Hook
	PostDispatch(ctx context.Context, cmd *Command, result *executor.Result, err error) error
}

// ValidationHook adds custom admission checks on top of policy validation.
type ValidationHook interface {
	Hook
	Validate(ctx context.Context, cmd *Command) error
}

// ErrorHook runs when dispatch fails.
type ErrorHook interface {
	Hook
	OnError(ctx context.Context, cmd *Command, err error) error
}

// Registry manages hook registration and invocation.
type Registry struct {
	preDispatch  []PreDispatchHook
	postDispatch []PostDispatchHook
	validation   []ValidationHook
	errorHooks   []ErrorHook
	mu           sync.RWMutex
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a hook. A hook implementing several interfaces is registered
// for each of them.
func (r *Registry) Register(hook Hook) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := hook.(PreDispatchHook); ok {
		r.preDispatch = insertByPriority(r.preDispatch, h)
	}
	if h, ok := hook.(PostDispatchHook); ok {
		r.postDispatch = insertByPriority(r.postDispatch, h)
	}
	if h, ok := hook.(ValidationHook); ok {
		r.validation = insertByPriority(r.validation, h)
	}
	if h, ok := hook.(ErrorHook); ok {
		r.errorHooks = insertByPriority(r.errorHooks, h)
	}
	return nil
}

// Unregister removes a hook by name from all kinds.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.preDispatch = removeByName(r.preDispatch, name)
	r.postDispatch = removeByName(r.postDispatch, name)
	r.validation = removeByName(r.validation, name)
	r.errorHooks = removeByName(r.errorHooks, name)
}

// RunPreDispatch runs pre-dispatch hooks in priority order, threading the
// possibly rewritten command through them.
func (r *Registry) RunPreDispatch(ctx context.Context, cmd *Command) (*Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current := cmd
	for _, hook := range r.preDispatch {
		modified, err := hook.PreDispatch(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("hook %s: %w", hook.Name(), err)
		}
		current = modified
	}
	return current, nil
}

// RunPostDispatch runs post-dispatch hooks.
func (r *Registry) RunPostDispatch(ctx context.Context, cmd *Command, result *executor.Result, dispatchErr error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, hook := range r.postDispatch {
		if err := hook.PostDispatch(ctx, cmd, result, dispatchErr); err != nil {
			return fmt.Errorf("hook %s: %w", hook.Name(), err)
		}
	}
	return nil
}

// RunValidation runs validation hooks.
func (r *Registry) RunValidation(ctx context.Context, cmd *Command) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, hook := range r.validation {
		if err := hook.Validate(ctx, cmd); err != nil {
			return fmt.Errorf("hook %s: %w", hook.Name(), err)
		}
	}
	return nil
}

// RunError runs error hooks.
func (r *Registry) RunError(ctx context.Context, cmd *Command, dispatchErr error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, hook := range r.errorHooks {
		if err := hook.OnError(ctx, cmd, dispatchErr); err != nil {
			return fmt.Errorf("hook %s: %w", hook.Name(), err)
		}
	}
	return nil
}

func insertByPriority[H Hook](hooks []H, h H) []H {
	hooks = append(hooks, h)
	sort.SliceStable(hooks, func(i, j int) bool {
		return hooks[i].Priority() < hooks[j].Priority()
	})
	return hooks
}

func removeByName[H Hook](hooks []H, name string) []H {
	result := make([]H, 0, len(hooks))
	for _, h := range hooks {
		if h.Name() != name {
			result = append(result, h)
		}
	}
	return result
}

// LoggingHook is a built-in hook that logs dispatch activity.
type LoggingHook struct {
	logger func(format string, args ...interface{})
}

// NewLoggingHook creates a logging hook.
func NewLoggingHook(logger func(format string, args ...interface{})) *LoggingHook {
	return &LoggingHook{logger: logger}
}

func (h *LoggingHook) Name() string  { return "logging" }
func (h *LoggingHook) Priority() int { return 1000 }

func (h *LoggingHook) PreDispatch(ctx context.Context, cmd *Command) (*Command, error) {
	h.logger("dispatching: %s doc=%s macro=%s", cmd.Type, cmd.Document, cmd.Macro)
	return cmd, nil
}

func (h *LoggingHook) PostDispatch(ctx context.Context, cmd *Command, result *executor.Result, err error) error {
	if err != nil {
		h.logger("dispatch failed: %s - %v", cmd.Type, err)
	} else if result != nil {
		h.logger("dispatch completed: %s - status=%s duration=%v", cmd.Type, result.Status, result.Duration)
	} else {
		h.logger("dispatch completed: %s", cmd.Type)
	}
	return nil
}

func (h *LoggingHook) OnError(ctx context.Context, cmd *Command, err error) error {
	h.logger("dispatch error: %s - [%s] %v", cmd.Type, executor.GetErrorCode(err), err)
	return nil
}
