package dispatcher

import (
	"encoding/json"
	"fmt"

	"github.com/victoralfred/cadgate/executor"
)

// Request is one command from a client. Params carries command-specific
// arguments; its "params" member, when present, holds the values injected
// into macro source.
type Request struct {
	// ID correlates the response with the request. The dispatcher assigns
	// one when the client leaves it empty.
	ID string `json:"id,omitempty"`

	// Type is the command type, such as execute_code or create_document.
	Type string `json:"type"`

	// Params are the command arguments.
	Params map[string]any `json:"params,omitempty"`
}

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response is the reply to one Request. Every request gets exactly one
// response; faults are reported in it, never by dropping the connection.
type Response struct {
	// ID echoes the request ID.
	ID string `json:"id,omitempty"`

	// Status is success or error.
	Status string `json:"status"`

	// Message carries the error reason when Status is error.
	Message string `json:"message,omitempty"`

	// Code classifies errors, such as POLICY_VIOLATION or TIMEOUT_FAULT.
	Code string `json:"code,omitempty"`

	// Data carries command-specific results.
	Data map[string]any `json:"data,omitempty"`

	// Output is captured macro print output.
	Output string `json:"output,omitempty"`

	// Traceback is the macro-level backtrace for execution faults.
	Traceback string `json:"traceback,omitempty"`

	// Retryable reports whether a failed command can be retried as-is.
	Retryable bool `json:"retryable,omitempty"`

	// execResult is the raw execution outcome for execution commands, handed
	// to post-dispatch hooks. Never serialized.
	execResult *executor.Result
}

func success(id string, data map[string]any) *Response {
	return &Response{ID: id, Status: StatusSuccess, Data: data}
}

func failure(id, code, format string, args ...any) *Response {
	return &Response{
		ID:      id,
		Status:  StatusError,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// stringParam extracts a required string argument.
func stringParam(req *Request, key string) (string, error) {
	raw, ok := req.Params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string", key)
	}
	return s, nil
}

// optionalString extracts an optional string argument, "" when absent.
func optionalString(req *Request, key string) (string, error) {
	raw, ok := req.Params[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string", key)
	}
	return s, nil
}

// injectionParams extracts the injected-parameter mapping, nil when absent.
func injectionParams(req *Request) (map[string]any, error) {
	raw, ok := req.Params["params"]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf(`parameter "params" must be an object`)
	}
	return m, nil
}

// DecodeRequest parses a JSON request frame.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if req.Type == "" {
		return nil, fmt.Errorf("request has no type")
	}
	return &req, nil
}

// EncodeResponse serializes a response frame.
func EncodeResponse(resp *Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return data, nil
}
