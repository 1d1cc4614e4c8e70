package demangle

import (
	"strings"
	"testing"
)

func TestIsMangled(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"?foo@@YAXXZ", true},
		{"@?weird@@", true},
		{"main", false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsMangled(c.name); got != c.want {
			t.Errorf("IsMangled(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestDemangleSimpleVoidFunction(t *testing.T) {
	// ?foo@@YAXXZ: void __cdecl foo(void)
	got := DemangleSimple("?foo@@YAXXZ")
	if !strings.Contains(got, "foo(") {
		t.Fatalf("DemangleSimple(?foo@@YAXXZ) = %q, want it to contain foo(", got)
	}
	if !strings.Contains(got, "void") {
		t.Fatalf("DemangleSimple(?foo@@YAXXZ) = %q, want it to mention void return type", got)
	}
	// __cdecl is the default calling convention and is suppressed.
	if strings.Contains(got, "__cdecl") {
		t.Fatalf("DemangleSimple(?foo@@YAXXZ) = %q, want __cdecl suppressed as the default", got)
	}
}

func TestDemangleSimpleFallsBackOnUnmangledInput(t *testing.T) {
	// A name Demangle can't parse (or a plain C name) is returned unchanged
	// rather than propagating an error, matching how pdb.baseSymbol's lazy
	// DemangledName() is meant to be used unconditionally on every symbol.
	for _, name := range []string{"main", "g_counter", "not$a$mangled$name"} {
		if got := DemangleSimple(name); got != name {
			t.Fatalf("DemangleSimple(%q) = %q, want unchanged", name, got)
		}
	}
}

func TestDemangleReturnsErrorOnTruncatedInput(t *testing.T) {
	if _, err := Demangle("?"); err == nil {
		t.Fatalf("Demangle(\"?\") expected an error for a truncated mangled name")
	}
}
