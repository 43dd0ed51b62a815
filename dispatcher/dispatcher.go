// Package dispatcher routes client commands through admission control,
// validation, and execution.
//
// All code-bearing commands share one validation path: parameters are
// injected first and the combined text is validated, so there is no way to
// reach the executor with source the validator has not seen. Commands that
// mutate the document model are serialized on a single mutation loop; the
// model is never touched from two goroutines at once.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.starlark.net/starlark"

	"github.com/victoralfred/cadgate/config"
	"github.com/victoralfred/cadgate/document"
	"github.com/victoralfred/cadgate/executor"
	"github.com/victoralfred/cadgate/hooks"
	"github.com/victoralfred/cadgate/macro"
	"github.com/victoralfred/cadgate/observability"
	"github.com/victoralfred/cadgate/params"
	"github.com/victoralfred/cadgate/policy"
	"github.com/victoralfred/cadgate/resilience"
	"github.com/victoralfred/cadgate/validation"
)

// Dispatcher routes requests to command handlers.
type Dispatcher struct {
	policy    *policy.Set
	validator *validation.Validator
	exec      executor.Executor
	docs      *document.Store
	macros    *macro.Store

	limiter   resilience.RateLimiter
	breaker   resilience.CircuitBreaker
	hooks     *hooks.Registry
	metrics   *observability.Metrics
	telemetry observability.Telemetry
	audit     observability.AuditLogger

	cfg       config.DispatcherConfig
	queue     chan *task
	wg        sync.WaitGroup
	mu        sync.RWMutex // guards shutdown check against loop exit
	shutdown  int32
	startedAt time.Time
}

// task is one unit of work for the mutation loop.
type task struct {
	run  func() *Response
	done chan *Response
}

// Builder assembles a Dispatcher.
type Builder struct {
	d   *Dispatcher
	err error
}

// NewBuilder creates a dispatcher builder.
func NewBuilder() *Builder {
	return &Builder{d: &Dispatcher{
		cfg: config.DefaultConfig().Dispatcher,
	}}
}

// WithPolicy sets the policy set used for validation.
func (b *Builder) WithPolicy(set *policy.Set) *Builder {
	b.d.policy = set
	return b
}

// WithExecutor sets the macro executor.
func (b *Builder) WithExecutor(e executor.Executor) *Builder {
	b.d.exec = e
	return b
}

// WithDocuments sets the document store.
func (b *Builder) WithDocuments(s *document.Store) *Builder {
	b.d.docs = s
	return b
}

// WithMacros sets the macro store.
func (b *Builder) WithMacros(s *macro.Store) *Builder {
	b.d.macros = s
	return b
}

// WithRateLimiter sets the admission rate limiter.
func (b *Builder) WithRateLimiter(rl resilience.RateLimiter) *Builder {
	b.d.limiter = rl
	return b
}

// WithCircuitBreaker sets the circuit breaker.
func (b *Builder) WithCircuitBreaker(cb resilience.CircuitBreaker) *Builder {
	b.d.breaker = cb
	return b
}

// WithHooks sets the hook registry.
func (b *Builder) WithHooks(r *hooks.Registry) *Builder {
	b.d.hooks = r
	return b
}

// WithMetrics sets the in-process metrics collector.
func (b *Builder) WithMetrics(m *observability.Metrics) *Builder {
	b.d.metrics = m
	return b
}

// WithTelemetry sets the telemetry sink.
func (b *Builder) WithTelemetry(t observability.Telemetry) *Builder {
	b.d.telemetry = t
	return b
}

// WithAudit sets the audit logger.
func (b *Builder) WithAudit(a observability.AuditLogger) *Builder {
	b.d.audit = a
	return b
}

// WithConfig sets dispatch tunables.
func (b *Builder) WithConfig(cfg config.DispatcherConfig) *Builder {
	b.d.cfg = cfg
	return b
}

// Build finishes assembly and starts the mutation loop.
func (b *Builder) Build() (*Dispatcher, error) {
	if b.err != nil {
		return nil, b.err
	}
	d := b.d

	if d.policy == nil {
		d.policy = policy.Default()
	}
	d.validator = validation.New(d.policy)

	if d.exec == nil {
		e, err := executor.NewBuilder().WithPolicy(d.policy).Build()
		if err != nil {
			return nil, fmt.Errorf("building executor: %w", err)
		}
		d.exec = e
	}
	if d.docs == nil {
		d.docs = document.NewStore()
	}
	if d.limiter == nil {
		d.limiter = resilience.NewRateLimiter(resilience.DefaultRateLimiterConfig())
	}
	if d.breaker == nil {
		d.breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	}
	if d.hooks == nil {
		d.hooks = hooks.NewRegistry()
	}
	if d.metrics == nil {
		d.metrics = observability.NewMetrics()
	}
	if d.telemetry == nil {
		d.telemetry = observability.NoopTelemetry()
	}
	if d.audit == nil {
		d.audit = observability.NoopAuditLogger()
	}
	if d.cfg.QueueSize <= 0 {
		d.cfg.QueueSize = 64
	}
	if d.cfg.WaitTimeout <= 0 {
		d.cfg.WaitTimeout = 2 * time.Minute
	}

	d.queue = make(chan *task, d.cfg.QueueSize)
	d.startedAt = time.Now()

	d.wg.Add(1)
	go d.mutationLoop()

	return d, nil
}

// mutationLoop runs queued tasks one at a time. This is the only goroutine
// that executes model-mutating commands.
func (d *Dispatcher) mutationLoop() {
	defer d.wg.Done()
	for t := range d.queue {
		t.done <- d.runTask(t)
	}
}

// runTask runs one task behind a recover boundary: a panic in a handler or a
// host builtin becomes a tool-fault response, and the loop stays alive for
// the next command.
func (d *Dispatcher) runTask(t *task) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = failure("", string(executor.ErrCodeToolFault), "internal fault: %v", r)
		}
	}()
	return t.run()
}

// Dispatch handles one request and always returns a response; faults are
// reported in it, never as a Go error to the transport.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	started := time.Now()
	resp := d.dispatch(ctx, req)
	resp.ID = req.ID

	elapsed := time.Since(started)
	status := metricStatus(resp)
	d.metrics.RecordCommand(req.Type, status, elapsed)
	d.telemetry.RecordCommand(ctx, req.Type, resp.Status)
	d.telemetry.RecordDuration(ctx, req.Type, elapsed.Seconds())
	d.recordAudit(ctx, req, resp, elapsed)

	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = failure(req.ID, string(executor.ErrCodeToolFault), "internal fault: %v", r)
		}
	}()

	ctx, end := d.telemetry.StartSpan(ctx, "dispatch."+req.Type,
		observability.WithAttribute("request.id", req.ID))
	defer end()

	d.telemetry.AddActive(ctx, 1)
	defer d.telemetry.AddActive(ctx, -1)

	if atomic.LoadInt32(&d.shutdown) == 1 {
		return failure(req.ID, string(executor.ErrCodeToolFault), "gateway is shutting down")
	}

	if !d.limiter.Allow(req.Type) {
		return failure(req.ID, "RATE_LIMITED", "too many %s commands, slow down", req.Type)
	}
	if !d.breaker.Allow(req.Type) {
		return failure(req.ID, "CIRCUIT_OPEN", "%s is temporarily disabled after repeated faults", req.Type)
	}

	cmd, err := d.toHookCommand(req)
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "%v", err)
	}
	cmd, err = d.hooks.RunPreDispatch(ctx, cmd)
	if err != nil {
		return failure(req.ID, string(executor.ErrCodeToolFault), "pre-dispatch hook: %v", err)
	}
	if err := d.hooks.RunValidation(ctx, cmd); err != nil {
		return failure(req.ID, string(executor.ErrCodePolicyViolation), "%v", err)
	}
	applyHookCommand(req, cmd)

	resp = d.route(ctx, req)

	if isExecutionCommand(req.Type) {
		if resp.Status == StatusSuccess || resp.Code == string(executor.ErrCodePolicyViolation) || resp.Code == string(executor.ErrCodeSyntaxFault) {
			// A rejection is the gate doing its job, not a fault.
			d.breaker.RecordSuccess(req.Type)
		} else {
			d.breaker.RecordFailure(req.Type)
		}
	}

	// Post hooks observe the outcome; they do not veto an already-computed
	// response. Failures additionally run the error hooks with a structured
	// error carrying the response code.
	var dispatchErr error
	if resp.Status != StatusSuccess {
		dispatchErr = responseError(resp)
		resp.Retryable = executor.IsRetryable(dispatchErr)
		_ = d.hooks.RunError(ctx, cmd, dispatchErr)
	}
	_ = d.hooks.RunPostDispatch(ctx, cmd, resp.execResult, dispatchErr)

	return resp
}

// responseError shapes a failure response into a structured *executor.Error
// so hooks can classify the outcome with errors.As and GetErrorCode.
func responseError(resp *Response) error {
	switch code := executor.ErrorCode(resp.Code); code {
	case executor.ErrCodeTimeout:
		return executor.NewTimeoutError(resp.Message)
	case executor.ErrCodeToolFault:
		return executor.NewToolFault("dispatch", errors.New(resp.Message))
	default:
		return &executor.Error{
			Op:      "dispatch",
			Err:     errors.New(resp.Message),
			Code:    code,
			Details: resp.Message,
		}
	}
}

func (d *Dispatcher) toHookCommand(req *Request) (*hooks.Command, error) {
	doc, err := optionalString(req, "doc_name")
	if err != nil {
		return nil, err
	}
	name, err := optionalString(req, "name")
	if err != nil {
		return nil, err
	}
	code, err := optionalString(req, "code")
	if err != nil {
		return nil, err
	}
	values, err := injectionParams(req)
	if err != nil {
		return nil, err
	}
	return &hooks.Command{
		Type:     req.Type,
		Document: doc,
		Macro:    name,
		Source:   code,
		Params:   values,
	}, nil
}

// applyHookCommand writes hook rewrites back into the request.
func applyHookCommand(req *Request, cmd *hooks.Command) {
	if req.Params == nil {
		req.Params = make(map[string]any)
	}
	if cmd.Document != "" {
		req.Params["doc_name"] = cmd.Document
	}
	if cmd.Macro != "" {
		req.Params["name"] = cmd.Macro
	}
	if cmd.Source != "" {
		req.Params["code"] = cmd.Source
	}
	if cmd.Params != nil {
		req.Params["params"] = cmd.Params
	}
}

func (d *Dispatcher) route(ctx context.Context, req *Request) *Response {
	switch req.Type {
	case "ping":
		return d.handlePing(req)
	case "get_report":
		return d.handleGetReport(req)
	case "validate_code":
		return d.handleValidateCode(ctx, req)
	case "execute_code":
		return d.handleExecuteCode(ctx, req)
	case "run_macro":
		return d.handleRunMacro(ctx, req)
	case "create_macro":
		return d.handleCreateMacro(req)
	case "update_macro":
		return d.handleUpdateMacro(req)
	case "delete_macro":
		return d.handleDeleteMacro(req)
	case "list_macros":
		return d.handleListMacros(req)
	case "create_document":
		return d.handleCreateDocument(ctx, req)
	case "list_documents":
		return d.handleListDocuments(req)
	case "get_active_document":
		return d.handleGetActiveDocument(req)
	case "close_document":
		return d.handleCloseDocument(ctx, req)
	case "list_objects":
		return d.handleListObjects(req)
	case "get_object_properties":
		return d.handleGetObjectProperties(req)
	case "delete_object":
		return d.handleDeleteObject(ctx, req)
	default:
		return failure(req.ID, string(executor.ErrCodeToolFault), "unknown command type %q", req.Type)
	}
}

// submit queues fn on the mutation loop and waits for its response. The wait
// is bounded: a stuck execution must not freeze the whole gateway, so after
// WaitTimeout the dispatcher answers with a timeout while the task finishes
// in the background.
func (d *Dispatcher) submit(ctx context.Context, req *Request, fn func() *Response) *Response {
	t := &task{run: fn, done: make(chan *Response, 1)}

	// The read lock pairs with Shutdown's write lock so the queue is never
	// closed mid-send.
	d.mu.RLock()
	if atomic.LoadInt32(&d.shutdown) == 1 {
		d.mu.RUnlock()
		return failure(req.ID, string(executor.ErrCodeToolFault), "gateway is shutting down")
	}
	select {
	case d.queue <- t:
		d.mu.RUnlock()
	default:
		d.mu.RUnlock()
		return failure(req.ID, "RATE_LIMITED", "mutation queue is full, retry later")
	}

	select {
	case resp := <-t.done:
		return resp
	case <-time.After(d.cfg.WaitTimeout):
		return failure(req.ID, string(executor.ErrCodeTimeout),
			"command still running after %s; model state may have changed", d.cfg.WaitTimeout)
	case <-ctx.Done():
		return failure(req.ID, string(executor.ErrCodeToolFault), "request canceled: %v", ctx.Err())
	}
}

// prepare runs the single validation path for code-bearing commands: inject
// parameters, then validate the combined text. Nothing reaches the executor
// without passing through here.
func (d *Dispatcher) prepare(ctx context.Context, req *Request, code string, values map[string]any) (string, *Response) {
	injected, err := params.Inject(code, values)
	if err != nil {
		return "", failure(req.ID, string(executor.ErrCodeParameterEncoding), "%v", err)
	}

	verdict := d.validator.Validate(injected)
	if !verdict.OK() {
		for _, viol := range verdict.Violations() {
			d.telemetry.RecordRejection(ctx, string(viol.Phase))
		}
		code := string(executor.ErrCodePolicyViolation)
		if onlySyntax(verdict) {
			code = string(executor.ErrCodeSyntaxFault)
		}
		resp := failure(req.ID, code, "%s", verdict.Reason())
		resp.Data = map[string]any{"violations": violationData(verdict)}
		return "", resp
	}

	return injected, nil
}

func onlySyntax(v validation.Verdict) bool {
	for _, viol := range v.Violations() {
		if viol.Phase != validation.PhaseSyntax {
			return false
		}
	}
	return true
}

func violationData(v validation.Verdict) []map[string]any {
	out := make([]map[string]any, 0, len(v.Violations()))
	for _, viol := range v.Violations() {
		out = append(out, map[string]any{
			"phase":   string(viol.Phase),
			"symbol":  viol.Symbol,
			"message": viol.Message,
			"line":    viol.Line,
			"col":     viol.Col,
		})
	}
	return out
}

// execute opens the target document on the mutation loop and runs prepared
// source against it.
func (d *Dispatcher) execute(ctx context.Context, req *Request, source, docName string) *Response {
	return d.submit(ctx, req, func() *Response {
		doc, created, err := d.docs.Open(docName)
		if err != nil {
			return failure(req.ID, string(executor.ErrCodeToolFault), "opening document: %v", err)
		}

		// params is predeclared empty so code can call params.get even when
		// nothing was injected; injected bindings shadow it.
		empty := starlark.NewDict(0)
		empty.Freeze()
		entry := starlark.StringDict{
			"doc":    document.NewHandle(doc),
			"params": empty,
		}
		result, err := d.exec.Execute(ctx, &executor.Request{
			Source:      source,
			Entrypoints: entry,
		})
		if err != nil {
			return failure(req.ID, string(executor.ErrCodeToolFault), "executing: %v", err)
		}
		return executionResponse(req.ID, result, doc.Name(), created)
	})
}

func executionResponse(id string, result *executor.Result, docName string, created bool) *Response {
	data := map[string]any{
		"execution_id": result.ExecutionID,
		"duration_ms":  result.Duration.Milliseconds(),
		"steps":        result.Steps,
		"document":     docName,
		"doc_created":  created,
	}

	if result.Status == executor.StatusSuccess {
		resp := success(id, data)
		resp.Output = result.Stdout
		resp.execResult = result
		return resp
	}

	code := string(executor.ErrCodeExecutionFault)
	if result.Status == executor.StatusTimeout {
		code = string(executor.ErrCodeTimeout)
	} else if result.Status == executor.StatusInternal {
		code = string(executor.ErrCodeToolFault)
	}

	resp := failure(id, code, "%s", result.Fault.Message)
	resp.Data = data
	resp.Output = result.Stdout
	resp.execResult = result
	if result.Fault != nil {
		resp.Traceback = result.Fault.Backtrace
	}
	return resp
}

func isExecutionCommand(commandType string) bool {
	return commandType == "execute_code" || commandType == "run_macro"
}

func metricStatus(resp *Response) string {
	if resp.Status == StatusSuccess {
		return "success"
	}
	switch resp.Code {
	case string(executor.ErrCodePolicyViolation), string(executor.ErrCodeSyntaxFault):
		return "rejected"
	case string(executor.ErrCodeTimeout):
		return "timeout"
	case "RATE_LIMITED":
		return "rate_limited"
	case "CIRCUIT_OPEN":
		return "circuit_open"
	default:
		return "error"
	}
}

func (d *Dispatcher) recordAudit(ctx context.Context, req *Request, resp *Response, elapsed time.Duration) {
	event := &observability.AuditEvent{
		ID:            req.ID,
		Timestamp:     time.Now(),
		Type:          observability.AuditEventCommand,
		Command:       req.Type,
		Status:        metricStatus(resp),
		PolicyVersion: d.policy.Version(),
		Reason:        resp.Message,
		Output:        resp.Output,
		Duration:      elapsed,
	}
	if doc, err := optionalString(req, "doc_name"); err == nil {
		event.Document = doc
	}
	if name, err := optionalString(req, "name"); err == nil {
		event.Macro = name
	}
	switch event.Status {
	case "rejected":
		event.Type = observability.AuditEventRejected
	case "rate_limited":
		event.Type = observability.AuditEventRateLimited
	case "error", "timeout":
		event.Type = observability.AuditEventError
	}
	_ = d.audit.Log(ctx, event)
}

// Shutdown stops accepting commands, drains the mutation loop, and shuts the
// executor down.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if atomic.SwapInt32(&d.shutdown, 1) == 1 {
		d.mu.Unlock()
		return nil
	}
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return d.exec.Shutdown(ctx)
}
