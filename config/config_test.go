package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/ZenLiuCN/fn"
	"github.com/ZenLiuCN/incremental/backend"
)

func TestParse(t *testing.T) {
	c := fn.Panic1(Parse([]byte(`
opt_level: 1
skip_host_lookup: true
forbidden_symbols: [printf, puts]
libraries:
  - /usr/lib/libm.so
strict_unload: true
`)))
	if c.OptLevel != 1 || !c.SkipHostLookup || !c.StrictUnload {
		t.Fatalf("unexpected %+v", c)
	}
	if c.Package != "main" {
		t.Errorf("package default lost: %q", c.Package)
	}
	if !slices.Equal(c.ForbiddenSymbols, []string{"printf", "puts"}) || len(c.Libraries) != 1 {
		t.Errorf("lists %+v", c)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse([]byte("opt_level: 9")); !errors.Is(err, backend.ErrOptLevel) {
		t.Fatalf("expected ErrOptLevel, got %v", err)
	}
	if _, err := Parse([]byte("opt_level: [")); err == nil {
		t.Fatal("expected syntax error")
	}
}

func TestLoad(t *testing.T) {
	c := fn.Panic1(Load(""))
	if c.OptLevel != 2 {
		t.Fatalf("defaults %+v", c)
	}
	p := filepath.Join(t.TempDir(), "incr.yaml")
	fn.Panic(os.WriteFile(p, []byte("debug: true\npackage: sample\n"), 0o644))
	c = fn.Panic1(Load(p))
	if !c.Debug || c.Package != "sample" || c.OptLevel != 2 {
		t.Fatalf("loaded %+v", c)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
