// Package validation provides static allow-list validation of macro source.
//
// Validation is a tree walk over the parsed Starlark syntax, never a textual
// scan: a scanner cannot tell "eval" inside a string literal from eval(...)
// as a call. The walk checks load statements against the module allow-list,
// bare identifier references and attribute-qualified calls against the
// blocked callable set, and dotted or subscript attribute access against the
// blocked attribute set.
//
// The validator is static only. Code that passes may still do something
// harmful through an allowed module's own API; that is a stated limitation
// of the gate, not a bug.
package validation

import (
	"fmt"
	"strings"

	"go.starlark.net/syntax"

	"github.com/victoralfred/cadgate/internal/dialect"
	"github.com/victoralfred/cadgate/policy"
)

// Validator checks macro source against a policy set. It holds no mutable
// state: Validate is pure and safe for concurrent use, and identical input
// always yields an identical verdict.
type Validator struct {
	policy *policy.Set
}

// New creates a validator over the given policy set.
func New(set *policy.Set) *Validator {
	return &Validator{policy: set}
}

// Validate parses source and walks the tree, accumulating every policy
// violation it finds. It never panics on candidate input: a parser fault is
// recovered and surfaced as a generic internal rejection.
func (v *Validator) Validate(source string) (verdict Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = rejectedInternal(fmt.Sprintf("internal validator fault: %v", r))
		}
	}()

	file, err := dialect.Options().Parse("macro.star", source, 0)
	if err != nil {
		return Rejected(syntaxViolation(err))
	}

	w := &walker{policy: v.policy}
	for _, stmt := range file.Stmts {
		syntax.Walk(stmt, w.visit)
	}

	if len(w.violations) > 0 {
		return Rejected(w.violations...)
	}
	return Accepted()
}

// syntaxViolation converts a parse error into a violation, extracting the
// position when the parser provides one.
func syntaxViolation(err error) Violation {
	viol := Violation{
		Phase:   PhaseSyntax,
		Message: fmt.Sprintf("syntax error: %v", err),
	}
	var serr syntax.Error
	if ok := errorsAs(err, &serr); ok {
		viol.Line = serr.Pos.Line
		viol.Col = serr.Pos.Col
	}
	return viol
}

// errorsAs is errors.As specialized for syntax.Error, which is returned by
// value from the parser.
func errorsAs(err error, target *syntax.Error) bool {
	for err != nil {
		if serr, ok := err.(syntax.Error); ok {
			*target = serr
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

// walker accumulates violations across the tree. First-found order is
// preserved so reasons read top to bottom of the source.
type walker struct {
	policy     *policy.Set
	violations []Violation
}

func (w *walker) add(phase Phase, symbol, message string, node syntax.Node) {
	viol := Violation{Phase: phase, Symbol: symbol, Message: message}
	if node != nil {
		start, _ := node.Span()
		viol.Line = start.Line
		viol.Col = start.Col
	}
	w.violations = append(w.violations, viol)
}

// visit is the syntax.Walk callback. Walk calls it with nil after visiting a
// node's children; those calls are ignored.
func (w *walker) visit(n syntax.Node) bool {
	if n == nil {
		return true
	}

	switch node := n.(type) {
	case *syntax.LoadStmt:
		w.checkLoad(node)

	case *syntax.Ident:
		if w.policy.CallableBlocked(node.Name) {
			w.add(PhaseName, node.Name,
				fmt.Sprintf("using %q is not allowed for security reasons", node.Name), node)
		}

	case *syntax.CallExpr:
		// Calls through a bare name are already caught by the Ident case;
		// this covers the attribute-qualified form, x.eval(...).
		if dot, ok := node.Fn.(*syntax.DotExpr); ok {
			if w.policy.CallableBlocked(dot.Name.Name) {
				w.add(PhaseCall, dot.Name.Name,
					fmt.Sprintf("calling %q is not allowed for security reasons", dot.Name.Name), node)
			}
		}

	case *syntax.DotExpr:
		if w.policy.AttributeBlocked(node.Name.Name) {
			w.add(PhaseAttribute, node.Name.Name,
				fmt.Sprintf("accessing attribute %q is not allowed for security reasons", node.Name.Name), node)
		}

	case *syntax.IndexExpr:
		// Subscript access with a string literal is attribute access in
		// disguise: x["__dict__"] must be treated like x.__dict__.
		if lit, ok := node.Y.(*syntax.Literal); ok && lit.Token == syntax.STRING {
			if name, ok := lit.Value.(string); ok && w.policy.AttributeBlocked(name) {
				w.add(PhaseAttribute, name,
					fmt.Sprintf("accessing attribute %q is not allowed for security reasons", name), node)
			}
		}
	}

	return true
}

// checkLoad validates a load statement. The loaded module label must be on
// the allow-list; the label's path root decides, so "geometry/solids" is
// governed by "geometry".
func (w *walker) checkLoad(node *syntax.LoadStmt) {
	label, _ := node.Module.Value.(string)
	root := label
	if i := strings.IndexAny(root, "/."); i >= 0 {
		root = root[:i]
	}
	if root == "" || !w.policy.ModuleAllowed(root) {
		w.add(PhaseImport, label,
			fmt.Sprintf("loading module %q is not allowed; allowed modules: %s",
				label, strings.Join(w.policy.AllowedModules(), ", ")), node)
	}
}
