package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestCompile(t *testing.T) {
	set, err := Compile(&Config{
		Version: "1.0",
		Security: SecurityConfig{
			AllowedModules:    []string{"math", "geometry"},
			BlockedCallables:  []string{"eval"},
			BlockedAttributes: []string{"__dict__"},
		},
	})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	if !set.ModuleAllowed("math") {
		t.Error("math should be allowed")
	}
	if set.ModuleAllowed("os") {
		t.Error("os should not be allowed")
	}
	if !set.CallableBlocked("eval") {
		t.Error("eval should be blocked")
	}
	if set.CallableBlocked("print") {
		t.Error("print should not be blocked")
	}
	if !set.AttributeBlocked("__dict__") {
		t.Error("__dict__ should be blocked")
	}
	if set.Version() != "1.0" {
		t.Errorf("Version = %q, want 1.0", set.Version())
	}
}

func TestCompile_EmptyModules(t *testing.T) {
	_, err := Compile(&Config{Version: "1.0"})
	if err == nil {
		t.Fatal("expected error for empty allowed_modules")
	}

	// Explicit opt-in makes deny-all legal.
	set, err := Compile(&Config{
		Version:  "1.0",
		Security: SecurityConfig{AllowEmptyModules: true},
	})
	if err != nil {
		t.Fatalf("Compile with allow_empty_modules failed: %v", err)
	}
	if set.ModuleAllowed("math") {
		t.Error("deny-all policy should allow nothing")
	}
}

func TestCompile_EmptyName(t *testing.T) {
	cases := []Config{
		{Version: "1", Security: SecurityConfig{AllowedModules: []string{"math", "  "}}},
		{Version: "1", Security: SecurityConfig{AllowedModules: []string{"math"}, BlockedCallables: []string{""}}},
		{Version: "1", Security: SecurityConfig{AllowedModules: []string{"math"}, BlockedAttributes: []string{" "}}},
	}
	for i, cfg := range cases {
		if _, err := Compile(&cfg); err == nil {
			t.Errorf("case %d: expected error for empty name", i)
		}
	}
}

func TestAllowedModules_Sorted(t *testing.T) {
	set, err := Compile(&Config{
		Version: "1.0",
		Security: SecurityConfig{
			AllowedModules: []string{"sketch", "math", "geometry"},
		},
	})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	got := set.AllowedModules()
	want := []string{"geometry", "math", "sketch"}
	if len(got) != len(want) {
		t.Fatalf("AllowedModules = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("AllowedModules = %v, want %v", got, want)
		}
	}
}

func TestDefault(t *testing.T) {
	set := Default()

	for _, m := range []string{"math", "time", "json", "struct", "geometry", "sketch"} {
		if !set.ModuleAllowed(m) {
			t.Errorf("default policy should allow module %q", m)
		}
	}
	for _, c := range []string{"eval", "exec", "compile", "open", "__import__"} {
		if !set.CallableBlocked(c) {
			t.Errorf("default policy should block callable %q", c)
		}
	}
	for _, a := range []string{"__class__", "__dict__", "__subclasses__"} {
		if !set.AttributeBlocked(a) {
			t.Errorf("default policy should block attribute %q", a)
		}
	}
}

const testPolicyYAML = `version: "2.0"
metadata:
  name: test
security:
  allowed_modules:
    - math
    - geometry
  blocked_callables:
    - eval
  blocked_attributes:
    - __dict__
`

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "policy.yaml"), []byte(testPolicyYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	loader, err := NewLoader(dir, "policy.yaml", WithValidator(DefaultValidator{}))
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}

	set, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if set.Version() != "2.0" {
		t.Errorf("Version = %q, want 2.0", set.Version())
	}
	if !set.ModuleAllowed("geometry") {
		t.Error("geometry should be allowed")
	}
	if set.Hash() == "" {
		t.Error("loaded policy should carry a config hash")
	}

	// Unchanged file returns the same compiled set.
	again, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if again != set {
		t.Error("unchanged policy file should not be recompiled")
	}
	if loader.Get() != set {
		t.Error("Get should return the loaded policy")
	}
}

func TestLoader_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "policy.yaml"), []byte("version: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	loader, err := NewLoader(dir, "policy.yaml")
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	if _, err := loader.Load(context.Background()); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestDefaultValidator(t *testing.T) {
	v := DefaultValidator{}

	if err := v.Validate(&Config{Security: SecurityConfig{AllowedModules: []string{"math"}}}); err == nil {
		t.Error("expected error for missing version")
	}
	if err := v.Validate(&Config{
		Version:  "1",
		Security: SecurityConfig{AllowedModules: []string{"math", "math"}},
	}); err == nil {
		t.Error("expected error for duplicate module")
	}
	if err := v.Validate(&Config{
		Version:  "1",
		Security: SecurityConfig{AllowedModules: []string{"math", "json"}},
	}); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}
