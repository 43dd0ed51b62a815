package params

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestInject_NoParams(t *testing.T) {
	code := `print("hi")`

	for _, values := range []map[string]any{nil, {}, {"doc_name": "Part"}} {
		got, err := Inject(code, values)
		if err != nil {
			t.Fatalf("Inject failed: %v", err)
		}
		if got != code {
			t.Errorf("code without injectable params should pass through unchanged, got %q", got)
		}
	}
}

func TestInject_PrependsBindings(t *testing.T) {
	got, err := Inject(`print(radius)`, map[string]any{
		"radius": 2.5,
		"name":   "wheel",
		"count":  3,
	})
	if err != nil {
		t.Fatalf("Inject failed: %v", err)
	}

	// Keys are emitted in sorted order for deterministic output.
	lines := strings.Split(got, "\n")
	if lines[0] != `count = 3` {
		t.Errorf("line 0 = %q", lines[0])
	}
	if lines[1] != `name = "wheel"` {
		t.Errorf("line 1 = %q", lines[1])
	}
	if lines[2] != `radius = 2.5` {
		t.Errorf("line 2 = %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], "params = {") {
		t.Errorf("line 3 should bind the params dict, got %q", lines[3])
	}
	if !strings.HasSuffix(got, "print(radius)") {
		t.Errorf("original code should follow the bindings, got %q", got)
	}
}

func TestInject_Deterministic(t *testing.T) {
	values := map[string]any{"b": 1, "a": 2, "c": 3}
	first, err := Inject("pass", values)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := Inject("pass", values)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatal("injection output must be deterministic")
		}
	}
}

func TestInject_ReservedKeysFiltered(t *testing.T) {
	got, err := Inject("pass", map[string]any{"doc_name": "Part", "radius": 1})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "doc_name") {
		t.Errorf("reserved key leaked into source: %q", got)
	}
	if !strings.Contains(got, "radius = 1") {
		t.Errorf("ordinary key missing: %q", got)
	}
}

func TestInject_RejectsBadIdentifiers(t *testing.T) {
	bad := []string{"", "1abc", "a-b", "a b", "x;import os", "for", "True", "load"}
	for _, key := range bad {
		if _, err := Inject("pass", map[string]any{key: 1}); err == nil {
			t.Errorf("key %q should be rejected", key)
		}
	}
}

func TestInject_StringValuesAreInert(t *testing.T) {
	// A value crafted to look like code must come out as a quoted literal.
	got, err := Inject("pass", map[string]any{
		"payload": `"; eval("boom") #`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, `payload = "\"; eval(\"boom\") #"`) {
		t.Errorf("string value not rendered as an inert literal: %q", got)
	}
}

func TestLiteral(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "None"},
		{true, "True"},
		{false, "False"},
		{"plain", `"plain"`},
		{"with \"quotes\"", `"with \"quotes\""`},
		{42, "42"},
		{int64(-7), "-7"},
		{3.5, "3.5"},
		{2.0, "2.0"},
		{json.Number("123.456"), "123.456"},
		{[]any{1, "two", nil}, `[1, "two", None]`},
		{map[string]any{"b": 2, "a": 1}, `{"a": 1, "b": 2}`},
	}
	for _, tt := range tests {
		got, err := Literal(tt.in)
		if err != nil {
			t.Errorf("Literal(%v) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Literal(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLiteral_RejectsNonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := Literal(f); err == nil {
			t.Errorf("Literal(%v) should fail", f)
		}
	}
}

func TestLiteral_RejectsUnsupportedTypes(t *testing.T) {
	type custom struct{ X int }
	for _, v := range []any{custom{1}, func() {}, make(chan int)} {
		if _, err := Literal(v); err == nil {
			t.Errorf("Literal(%T) should fail", v)
		}
	}
}

func TestInject_EncodingErrorNamesKey(t *testing.T) {
	_, err := Inject("pass", map[string]any{"bad": math.NaN()})
	if err == nil {
		t.Fatal("expected encoding error")
	}
	encErr, ok := err.(*EncodingError)
	if !ok {
		t.Fatalf("error type = %T, want *EncodingError", err)
	}
	if encErr.Key != "bad" {
		t.Errorf("Key = %q, want bad", encErr.Key)
	}
}

func TestKeys(t *testing.T) {
	got := Keys(map[string]any{"doc_name": "x", "b": 1, "a": 2})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Keys = %v, want [a b]", got)
	}
}
