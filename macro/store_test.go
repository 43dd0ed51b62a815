package macro

import (
	"errors"
	"strings"
	"testing"

	"github.com/victoralfred/cadgate/policy"
	"github.com/victoralfred/cadgate/validation"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestStore_CreateReadUpdateDelete(t *testing.T) {
	s := newStore(t)

	if err := s.Create("bracket", `print("v1")`); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Create("bracket", `print("v2")`); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate Create = %v, want ErrExists", err)
	}

	src, err := s.Read("bracket")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if src != `print("v1")` {
		t.Errorf("Read = %q", src)
	}

	if err := s.Update("bracket", `print("v2")`); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	src, _ = s.Read("bracket")
	if src != `print("v2")` {
		t.Errorf("Read after Update = %q", src)
	}

	if err := s.Update("missing", "pass"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update of missing macro = %v, want ErrNotFound", err)
	}

	if err := s.Delete("bracket"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Read("bracket"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read after Delete = %v, want ErrNotFound", err)
	}
	if err := s.Delete("bracket"); !errors.Is(err, ErrNotFound) {
		t.Errorf("double Delete = %v, want ErrNotFound", err)
	}
}

func TestStore_List(t *testing.T) {
	s := newStore(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := s.Create(name, "pass"); err != nil {
			t.Fatal(err)
		}
	}

	infos, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("List returned %d entries", len(infos))
	}
	// Sorted by name, extension stripped.
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if infos[i].Name != want {
			t.Errorf("infos[%d].Name = %q, want %q", i, infos[i].Name, want)
		}
	}
	if infos[0].Size != int64(len("pass")) {
		t.Errorf("Size = %d", infos[0].Size)
	}
	if infos[0].Modified.IsZero() {
		t.Error("Modified should be set")
	}
}

func TestStore_RejectsBadNames(t *testing.T) {
	s := newStore(t)

	bad := []string{"", "a/b", `a\b`, "..", "../escape", "a b", "1leading", "dot.name"}
	for _, name := range bad {
		if err := s.Create(name, "pass"); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Create(%q) = %v, want ErrInvalidName", name, err)
		}
		if _, err := s.Read(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Read(%q) = %v, want ErrInvalidName", name, err)
		}
	}

	// Underscores and dashes are legal.
	for _, name := range []string{"_private", "my-macro", "Part_2"} {
		if err := s.Create(name, "pass"); err != nil {
			t.Errorf("Create(%q) failed: %v", name, err)
		}
	}
}

func TestTemplate(t *testing.T) {
	src, err := Template("part")
	if err != nil {
		t.Fatalf("Template failed: %v", err)
	}
	if !strings.Contains(src, "doc.new_object") {
		t.Errorf("part template looks wrong: %q", src)
	}

	if _, err := Template("nope"); err == nil {
		t.Error("unknown template should be an error")
	}

	names := TemplateNames()
	if len(names) != 4 || names[0] != "basic" || names[1] != "default" {
		t.Errorf("TemplateNames = %v", names)
	}
}

func TestTemplates_PassDefaultPolicy(t *testing.T) {
	// Every shipped template must clear the same static validation that
	// client-supplied code goes through.
	v := validation.New(policy.Default())
	for _, name := range TemplateNames() {
		src, err := Template(name)
		if err != nil {
			t.Fatal(err)
		}
		if verdict := v.Validate(src); !verdict.OK() {
			t.Errorf("template %q rejected: %s", name, verdict.Reason())
		}
	}
}
