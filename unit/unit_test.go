package unit

import (
	"slices"
	"testing"
)

func TestSequence(t *testing.T) {
	var s Sequence
	if s.Last() != 0 {
		t.Fatalf("fresh sequence last = %d", s.Last())
	}
	a, b := s.Next(), s.Next()
	if a != 1 || b != 2 || s.Last() != 2 {
		t.Fatalf("unexpected generations %d %d %d", a, b, s.Last())
	}
}

func TestQualify(t *testing.T) {
	tests := []struct{ pkg, name, want string }{
		{"", "foo", "main.foo"},
		{"sample", "foo", "sample.foo"},
		{"sample", "other.foo", "other.foo"},
		{"sample", "", ""},
	}
	for _, tt := range tests {
		if got := Qualify(tt.pkg, tt.name); got != tt.want {
			t.Errorf("Qualify(%q,%q) = %q, want %q", tt.pkg, tt.name, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	refs := []string{"foo"}
	u := New(3, "", 2, "init", nil,
		Decl{Name: "bar", Kind: Func, Refs: refs},
		Decl{Name: "counter", Kind: Global},
		Decl{Name: "foo", Kind: Extern},
	)
	refs[0] = "changed"
	if u.Gen() != 3 || u.Package() != DefaultPackage || u.OptLevel() != 2 {
		t.Fatalf("unexpected unit %v", u)
	}
	if u.Init() != "main.init" {
		t.Errorf("init = %s", u.Init())
	}
	if got := u.Defines(); !slices.Equal(got, []string{"main.bar", "main.counter"}) {
		t.Errorf("defines = %v", got)
	}
	if got := u.Refs(); !slices.Equal(got, []string{"foo", "main.foo"}) {
		t.Errorf("refs = %v", got)
	}
	d := u.Decls()
	d[0].Name = "mutated"
	if u.Decls()[0].Name != "main.bar" {
		t.Error("Decls must return a copy")
	}
}

func TestStateMoves(t *testing.T) {
	if !Submitted.CanMove(Compiled) || !Compiled.CanMove(Loaded) || !Loaded.CanMove(Initialized) {
		t.Error("forward moves rejected")
	}
	if !Loaded.CanMove(Unloaded) || !Initialized.CanMove(Unloaded) {
		t.Error("unload from live rejected")
	}
	if Submitted.CanMove(Unloaded) || Compiled.CanMove(Unloaded) || Unloaded.CanMove(Loaded) {
		t.Error("illegal move accepted")
	}
	if Initialized.CanMove(Loaded) {
		t.Error("reverse move accepted")
	}
}
