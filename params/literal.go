package params

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// EncodingError reports a parameter value that cannot be rendered as a safe
// literal.
type EncodingError struct {
	Key    string
	Reason string
}

func (e *EncodingError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("parameter %q cannot be encoded as a literal: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("parameter cannot be encoded as a literal: %s", e.Reason)
}

// Literal renders a value as Starlark literal source. Only literal-safe
// types are accepted: strings, booleans, integers, finite floats, nil, and
// lists/maps of those. Map keys must be strings and are emitted in sorted
// order so rendering is deterministic.
func Literal(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "None", nil
	case bool:
		if v {
			return "True", nil
		}
		return "False", nil
	case string:
		return strconv.Quote(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return floatLiteral(float64(v))
	case float64:
		return floatLiteral(v)
	case json.Number:
		// JSON-decoded numbers arrive verbatim; they are already literals.
		return v.String(), nil
	case []any:
		elems := make([]string, len(v))
		for i, e := range v {
			lit, err := Literal(e)
			if err != nil {
				return "", err
			}
			elems[i] = lit
		}
		return "[" + strings.Join(elems, ", ") + "]", nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			lit, err := Literal(v[k])
			if err != nil {
				return "", err
			}
			pairs[i] = strconv.Quote(k) + ": " + lit
		}
		return "{" + strings.Join(pairs, ", ") + "}", nil
	default:
		return "", &EncodingError{Reason: fmt.Sprintf("unsupported type %T", value)}
	}
}

func floatLiteral(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", &EncodingError{Reason: "non-finite float"}
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	// FormatFloat may emit an integer form; keep the value a float literal.
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s, nil
}
