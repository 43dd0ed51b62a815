// Package dialect pins the Starlark language options used everywhere in the
// gateway. The validator and the executor must parse the exact same dialect:
// a construct accepted by one and rejected by the other would open a gap
// between what is validated and what is executed.
package dialect

import "go.starlark.net/syntax"

// Options returns the file options for macro code. A fresh value is returned
// each time so callers cannot mutate shared state.
func Options() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
		Recursion:       true,
	}
}
