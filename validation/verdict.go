package validation

import "strings"

// Phase identifies which validation pass caught a violation.
type Phase string

const (
	// PhaseSyntax means the source failed to parse.
	PhaseSyntax Phase = "syntax"

	// PhaseImport means a load statement named a module outside the
	// allow-list.
	PhaseImport Phase = "import"

	// PhaseName means a blocked callable was referenced by name.
	PhaseName Phase = "name"

	// PhaseCall means a blocked callable was invoked through attribute
	// access.
	PhaseCall Phase = "call"

	// PhaseAttribute means a blocked attribute was accessed.
	PhaseAttribute Phase = "attribute"
)

// Violation describes a single policy violation found in macro source.
type Violation struct {
	// Phase is the validation pass that caught the violation.
	Phase Phase

	// Symbol is the offending module, name, or attribute.
	Symbol string

	// Message is the human-readable reason.
	Message string

	// Line and Col locate the violation in the source (1-based; zero when
	// unavailable).
	Line int32
	Col  int32
}

// Verdict is the outcome of validating one piece of source text: accepted,
// or rejected with one or more violations. It carries no state beyond the
// call that produced it.
type Verdict struct {
	violations []Violation
	internal   bool
}

// Accepted returns the accepting verdict.
func Accepted() Verdict {
	return Verdict{}
}

// Rejected returns a rejecting verdict carrying the given violations.
func Rejected(violations ...Violation) Verdict {
	return Verdict{violations: violations}
}

// rejectedInternal marks a rejection caused by a fault inside the validator
// itself rather than by the candidate code.
func rejectedInternal(message string) Verdict {
	return Verdict{
		violations: []Violation{{Phase: PhaseSyntax, Message: message}},
		internal:   true,
	}
}

// OK reports whether the source was accepted.
func (v Verdict) OK() bool {
	return len(v.violations) == 0
}

// Internal reports whether the rejection came from a validator fault rather
// than the candidate code. Callers should log these.
func (v Verdict) Internal() bool {
	return v.internal
}

// Violations returns all violations found. Validation accumulates every
// violation in the source rather than stopping at the first.
func (v Verdict) Violations() []Violation {
	return v.violations
}

// Reason returns all violation messages joined with "; ", or "" when the
// verdict is accepting.
func (v Verdict) Reason() string {
	if len(v.violations) == 0 {
		return ""
	}
	msgs := make([]string, len(v.violations))
	for i, viol := range v.violations {
		msgs[i] = viol.Message
	}
	return strings.Join(msgs, "; ")
}
