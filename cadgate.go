// Package cadgate is a policy-gated remote command gateway for a CAD host.
//
// CadGate accepts macro source from local clients, validates it against an
// allow-list policy by walking the parsed syntax tree, injects request
// parameters as inert literals, and runs the result in a restricted
// interpreter namespace with stdout capture and a wall-clock budget. All
// model-mutating commands are serialized so the document model is never
// touched concurrently.
//
// # Quick Start
//
//	gw, err := cadgate.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer gw.Shutdown(context.Background())
//
//	resp := gw.Dispatch(ctx, &cadgate.Request{
//	    Type:   "execute_code",
//	    Params: map[string]any{"code": `print("hello")`},
//	})
//	fmt.Println(resp.Output)
//
// # With Security Policy
//
//	loader, _ := cadgate.LoadPolicy("/etc/cadgate", "policy.yaml")
//	pol, _ := loader.Load(ctx)
//
//	gw, _ := cadgate.NewBuilder().
//	    WithPolicy(pol).
//	    Build()
//
// # Security Model
//
// Validation is static and structural: load statements are checked against
// the module allow-list, identifiers and attribute-qualified calls against
// the blocked callable set, and attribute access (dotted or via string
// subscript) against the blocked attribute set. Parameters are injected
// before validation, so the text the validator accepts is exactly the text
// the executor runs. The sandbox is the namespace, not the process;
// OS-level isolation is out of scope.
//
// # File I/O
//
// All file operations use github.com/victoralfred/gowritter/safepath for
// secure path handling.
//
// # Package Structure
//
//   - cadgate: Main entry point and convenience functions
//   - policy: YAML policy loading and compiled policy sets
//   - validation: Static AST-walk validation of macro source
//   - params: Parameter-to-literal injection
//   - executor: Restricted-namespace macro execution
//   - document: In-memory CAD document model and macro bindings
//   - macro: On-disk macro storage and templates
//   - dispatcher: Command routing, admission control, serialized mutation
//   - server: Framed TCP socket transport
//   - client: Go SDK for the socket protocol
//   - resilience: Rate limiting, circuit breaker, retry backoff
//   - observability: OpenTelemetry metrics, audit logging
//   - hooks: Extension points for custom behavior
//   - config: Configuration presets and YAML loading
package cadgate

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/victoralfred/cadgate/config"
	"github.com/victoralfred/cadgate/dispatcher"
	"github.com/victoralfred/cadgate/document"
	"github.com/victoralfred/cadgate/executor"
	"github.com/victoralfred/cadgate/macro"
	"github.com/victoralfred/cadgate/observability"
	"github.com/victoralfred/cadgate/params"
	"github.com/victoralfred/cadgate/policy"
	"github.com/victoralfred/cadgate/resilience"
	"github.com/victoralfred/cadgate/validation"
)

// =============================================================================
// Core Types
// =============================================================================

// Gateway routes client commands through validation and execution.
type Gateway = dispatcher.Dispatcher

// Request is one command from a client.
type Request = dispatcher.Request

// Response is the reply to one Request.
type Response = dispatcher.Response

// Executor runs validated macro source.
type Executor = executor.Executor

// Result is the outcome of one macro execution.
type Result = executor.Result

// Verdict is the outcome of validating macro source.
type Verdict = validation.Verdict

// Violation is one policy violation found during validation.
type Violation = validation.Violation

// =============================================================================
// Policy Types
// =============================================================================

// Policy is a compiled, immutable policy set.
type Policy = policy.Set

// PolicyLoader loads policies from YAML files.
type PolicyLoader = policy.Loader

// PolicyConfig is the YAML policy schema.
type PolicyConfig = policy.Config

// =============================================================================
// Error Variables
// =============================================================================

// Common errors returned by the library.
var (
	// ErrTimeout indicates execution exceeded the wall-clock budget.
	ErrTimeout = executor.ErrTimeout

	// ErrExecutorShutdown indicates the executor has been shut down.
	ErrExecutorShutdown = executor.ErrExecutorShutdown

	// ErrMacroNotFound indicates a run_macro target does not exist.
	ErrMacroNotFound = macro.ErrNotFound

	// ErrDocumentNotFound indicates a command targeted an unknown document.
	ErrDocumentNotFound = document.ErrNotFound
)

// =============================================================================
// Status Constants
// =============================================================================

// Execution status values.
const (
	StatusSuccess  = executor.StatusSuccess
	StatusError    = executor.StatusError
	StatusTimeout  = executor.StatusTimeout
	StatusCanceled = executor.StatusCanceled
	StatusInternal = executor.StatusInternal
)

// =============================================================================
// Factory Functions
// =============================================================================

// New creates a Gateway with the built-in default policy, an in-memory
// document store, and no macro store. For production use, configure a policy
// and stores through NewBuilder.
func New() (*Gateway, error) {
	return dispatcher.NewBuilder().Build()
}

// NewBuilder creates a gateway builder.
//
// Example:
//
//	gw, err := cadgate.NewBuilder().
//	    WithPolicy(pol).
//	    WithMacros(macros).
//	    Build()
func NewBuilder() *dispatcher.Builder {
	return dispatcher.NewBuilder()
}

// NewFromConfig assembles a fully wired gateway from a configuration:
// policy loader, executor, document store, and macro store.
func NewFromConfig(ctx context.Context, cfg config.Config) (*Gateway, error) {
	loader, err := policy.NewLoader(cfg.PolicyBasePath, cfg.PolicyPath,
		policy.WithValidator(policy.DefaultValidator{}))
	if err != nil {
		return nil, fmt.Errorf("creating policy loader: %w", err)
	}
	pol, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}

	registry := executor.DefaultRegistry()
	RegisterHostModules(registry)

	exec, err := executor.NewBuilder().
		WithPolicy(pol).
		WithRegistry(registry).
		WithDefaultTimeout(cfg.Executor.DefaultTimeout).
		WithMaxSteps(cfg.Executor.MaxSteps).
		Build()
	if err != nil {
		return nil, fmt.Errorf("building executor: %w", err)
	}

	macros, err := macro.NewStore(cfg.MacroDir)
	if err != nil {
		return nil, fmt.Errorf("creating macro store: %w", err)
	}

	b := dispatcher.NewBuilder().
		WithPolicy(pol).
		WithExecutor(exec).
		WithDocuments(document.NewStore()).
		WithMacros(macros).
		WithConfig(cfg.Dispatcher).
		WithRateLimiter(resilience.NewRateLimiter(cfg.RateLimiter)).
		WithCircuitBreaker(resilience.NewCircuitBreaker(cfg.CircuitBreaker))

	if cfg.Executor.EnableMetrics || cfg.Executor.EnableTracing {
		tel, err := observability.NewTelemetry(cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("creating telemetry: %w", err)
		}
		b = b.WithTelemetry(tel)
	}
	if cfg.Executor.EnableAudit && cfg.Audit.Enabled {
		audit, err := observability.NewFileAuditLogger(cfg.Audit)
		if err != nil {
			return nil, fmt.Errorf("creating audit logger: %w", err)
		}
		b = b.WithAudit(audit)
	}

	return b.Build()
}

// RegisterHostModules adds the CAD host modules (geometry, sketch) to an
// executor registry. Policy still decides whether macros may see them.
func RegisterHostModules(r *executor.Registry) {
	geo := document.GeometryModule()
	r.Register(executor.Module{Name: geo.Name, Value: geo, Members: geo.Members})

	sk := document.SketchModule()
	r.Register(executor.Module{Name: sk.Name, Value: sk, Members: sk.Members})
}

// =============================================================================
// Policy Loading
// =============================================================================

// LoadPolicy creates a policy loader rooted at basePath.
//
// Example policy.yaml:
//
//	version: "1.0"
//	security:
//	  allowed_modules: [math, json, geometry]
//	  blocked_callables: [eval, exec, compile]
//	  blocked_attributes: [__class__, __dict__]
func LoadPolicy(basePath, policyFile string) (*PolicyLoader, error) {
	return policy.NewLoader(basePath, policyFile)
}

// LoadPolicyFromPath creates a loader from a full file path.
func LoadPolicyFromPath(path string) (*PolicyLoader, error) {
	return policy.NewLoader(filepath.Dir(path), filepath.Base(path))
}

// DefaultPolicy returns the built-in default policy set.
func DefaultPolicy() *Policy {
	return policy.Default()
}

// ExamplePolicy returns an example policy configuration to start from.
func ExamplePolicy() *PolicyConfig {
	return policy.ExampleConfig()
}

// =============================================================================
// Convenience Functions
// =============================================================================

// Validate checks macro source against a policy without executing it.
func Validate(pol *Policy, source string) Verdict {
	return validation.New(pol).Validate(source)
}

// InjectParams renders values into source as literal top-level bindings.
// Validate the returned text, not the input.
func InjectParams(source string, values map[string]any) (string, error) {
	return params.Inject(source, values)
}

// =============================================================================
// Version Information
// =============================================================================

// Version returns the library version.
func Version() string {
	return "1.0.0"
}
