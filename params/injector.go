// Package params renders request parameters into macro source as literal
// top-level bindings.
//
// Injection happens before validation: the dispatcher always validates the
// post-injection text, so a parameter value crafted to look like code is
// either rendered as an inert literal or rejected here — it can never smuggle
// a construct past the validator.
package params

import (
	"fmt"
	"sort"
	"strings"
)

// ReservedKeys are control keys consumed by the dispatcher and never bound
// into macro source.
var ReservedKeys = map[string]struct{}{
	"doc_name": {},
}

// Inject prepends one `name = <literal>` assignment per parameter to code,
// plus a `params = {...}` binding of the full mapping for dynamic lookups.
// Reserved control keys are filtered out. A value that cannot be rendered as
// a safe literal is an error, never a silent stringification.
func Inject(code string, values map[string]any) (string, error) {
	user := make(map[string]any, len(values))
	for k, v := range values {
		if _, reserved := ReservedKeys[k]; reserved {
			continue
		}
		user[k] = v
	}
	if len(user) == 0 {
		return code, nil
	}

	keys := make([]string, 0, len(user))
	for k := range user {
		if !validIdent(k) {
			return "", &EncodingError{Key: k, Reason: "not a legal identifier"}
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		lit, err := Literal(user[k])
		if err != nil {
			var encErr *EncodingError
			if asEncoding(err, &encErr) {
				encErr.Key = k
				return "", encErr
			}
			return "", err
		}
		fmt.Fprintf(&b, "%s = %s\n", k, lit)
	}

	// Bind the full mapping so code can do params["radius"]-style lookups.
	dict, err := Literal(user)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "params = %s\n", dict)

	b.WriteString("\n")
	b.WriteString(code)
	return b.String(), nil
}

// Keys returns the injectable parameter names in sorted order, reserved keys
// excluded. Used for logging.
func Keys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if _, reserved := ReservedKeys[k]; reserved {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// validIdent reports whether s is a legal Starlark identifier. Keywords are
// excluded: binding one would be a guaranteed syntax error downstream, and
// rejecting here gives the caller a precise reason.
func validIdent(s string) bool {
	if s == "" || starlarkKeywords[s] {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

var starlarkKeywords = map[string]bool{
	"and": true, "break": true, "continue": true, "def": true, "elif": true,
	"else": true, "for": true, "if": true, "in": true, "lambda": true,
	"load": true, "not": true, "or": true, "pass": true, "return": true,
	"while": true, "True": true, "False": true, "None": true,
}

func asEncoding(err error, target **EncodingError) bool {
	e, ok := err.(*EncodingError)
	if ok {
		*target = e
	}
	return ok
}
