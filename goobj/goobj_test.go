package goobj

import (
	"errors"
	"os"
	"slices"
	"strings"
	"testing"

	"github.com/ZenLiuCN/fn"
	"github.com/ZenLiuCN/incremental/backend"
	"github.com/ZenLiuCN/incremental/unit"
	"github.com/davecgh/go-spew/spew"
)

func TestParseFragment(t *testing.T) {
	fr := fn.Panic1(ParseFragment("", fn.Panic1(os.ReadFile("testdata/counter.go"))))
	if fr.Package != "main" {
		t.Fatalf("package %s", fr.Package)
	}
	if !slices.Equal(fr.Imports, []string{`"strings"`}) {
		t.Fatalf("imports %v", fr.Imports)
	}
	want := []string{"Counter", "names", "Inc", "main.label.Upper", "main.(*label).Reset"}
	if got := fr.Names(); !slices.Equal(got, want) {
		t.Fatalf("names %v", got)
	}
	var kinds []unit.Kind
	for _, d := range fr.Decls {
		kinds = append(kinds, d.Kind)
	}
	if !slices.Equal(kinds, []unit.Kind{unit.Type, unit.Type, unit.Global, unit.Global, unit.Func, unit.Func, unit.Func}) {
		t.Fatalf("kinds %v", kinds)
	}
	if fr.Decls[3].Source != "" || !strings.HasPrefix(fr.Decls[2].Source, "var (") {
		t.Fatalf("var source must go with the first name: %s", spew.Sdump(fr.Decls[2:4]))
	}
	u := fr.Unit(1, 2, "")
	if got := u.Defines(); !slices.Equal(got, []string{"main.Counter", "main.names", "main.Inc", "main.label.Upper", "main.(*label).Reset"}) {
		t.Fatalf("defines %v", got)
	}
}

func TestParseFragmentWithoutClause(t *testing.T) {
	fr := fn.Panic1(ParseFragment("example.com/demo", []byte("func Inc() int\nfunc Twice() int { return Inc() + Inc() }\n")))
	if fr.Package != "example.com/demo" {
		t.Fatalf("package %s", fr.Package)
	}
	if len(fr.Decls) != 2 || fr.Decls[0].Kind != unit.Extern || fr.Decls[1].Kind != unit.Func {
		t.Fatalf("decls %s", spew.Sdump(fr.Decls))
	}
	u := fr.Unit(1, 0, "")
	if !slices.Equal(u.Refs(), []string{"example.com/demo.Inc"}) {
		t.Fatalf("refs %v", u.Refs())
	}
	if _, err := ParseFragment("", []byte("func (")); err == nil {
		t.Fatal("broken source must fail")
	}
}

func TestRender(t *testing.T) {
	u := unit.New(1, "", 2, "", []string{"fmt"}, unit.Decl{Name: "Hello", Source: `func Hello() { fmt.Println("hi") }`})
	want := "package main\n\nimport (\n\t\"fmt\"\n\t_entry_unsafe \"unsafe\"\n)\n\n" +
		"func Hello() { fmt.Println(\"hi\") }\n\n" +
		"func _entry_Hello(c interface {\n\tAtExit(func(_entry_unsafe.Pointer), _entry_unsafe.Pointer)\n\tReturn(any)\n}) {\n\tHello()\n}\n"
	if got := string(Render(u)); got != want {
		t.Fatalf("render:\n%s", got)
	}
	u = unit.New(2, "example.com/x-y", 2, "", []string{`s "strings"`},
		unit.Decl{Name: "strings.ToUpper", Kind: unit.Extern, Source: "func ToUpper(s string) string"},
		unit.Decl{Name: "Local", Kind: unit.Extern, Source: "func Local() int"},
		unit.Decl{Name: "Shout", Source: "func Shout(v string) string { return ToUpper(v) + s.Repeat(\"!\", 2) }"},
	)
	got := string(Render(u))
	for _, s := range []string{
		"package x_y\n",
		"\ts \"strings\"\n",
		"\t_ \"unsafe\"\n",
		"//go:linkname ToUpper strings.ToUpper\nfunc ToUpper(s string) string\n",
	} {
		if !strings.Contains(got, s) {
			t.Fatalf("missing %q in:\n%s", s, got)
		}
	}
	if strings.Contains(got, "linkname Local") {
		t.Fatalf("extern of the unit package must not be linknamed:\n%s", got)
	}
}

func TestFormatRejects(t *testing.T) {
	u := unit.New(1, "", 7, "", nil)
	if _, err := Format(u); !errors.Is(err, backend.ErrOptLevel) {
		t.Fatalf("expected ErrOptLevel, got %v", err)
	}
	u = unit.New(2, "Bad Path", 1, "", nil)
	if _, err := Format(u); !errors.Is(err, backend.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestSplitName(t *testing.T) {
	for name, want := range map[string][2]string{
		"main.foo":                   {"main", "foo"},
		"github.com/a/b.Foo":         {"github.com/a/b", "Foo"},
		"main.(*T).M":                {"main", "(*T).M"},
		"gopkg.in/yaml%2ev3.Marshal": {"gopkg.in/yaml%2ev3", "Marshal"},
		"plain":                      {"", "plain"},
	} {
		p, l := SplitName(name)
		if p != want[0] || l != want[1] {
			t.Errorf("%s: got %s %s", name, p, l)
		}
	}
}

func TestLevelFlags(t *testing.T) {
	if !slices.Equal(LevelFlags(0), []string{"-N", "-l"}) ||
		!slices.Equal(LevelFlags(1), []string{"-l"}) ||
		LevelFlags(2) != nil ||
		!slices.Equal(LevelFlags(3), []string{"-B"}) {
		t.Fatal("level flags")
	}
}

func TestModuleVersion(t *testing.T) {
	files := []string{
		"gofile..$GOROOT/src/fmt/print.go",
		"gofile../root/go/pkg/mod/github.com/!zen!liu!c!n/fn@v0.1.33/fn.go",
		"gofile../root/go/pkg/mod/golang.org/x/mod@v0.30.0/module/module.go",
	}
	for path, want := range map[string]string{
		"github.com/ZenLiuCN/fn":  "v0.1.33",
		"golang.org/x/mod/semver": "v0.30.0",
		"fmt":                     "",
		"github.com/ZenLiuCN/fnx": "",
		"github.com/zenliucn/fn":  "",
	} {
		if got := moduleVersion(path, files); got != want {
			t.Errorf("%s: %q", path, got)
		}
	}
	d := Deps{File: "unit.o", Package: "main", Packages: []Dependency{{Path: "fmt"}, {Path: "github.com/ZenLiuCN/fn", Version: "v0.1.33"}}}
	if got := d.String(); got != "unit.o (main)\n\tfmt\n\tgithub.com/ZenLiuCN/fn@v0.1.33\n" {
		t.Fatal(got)
	}
	t.Log(spew.Sdump(DepsList{d}))
}

func TestImportSpec(t *testing.T) {
	for in, want := range map[string]string{
		"fmt":       `"fmt"`,
		`"fmt"`:     `"fmt"`,
		"s strings": `s "strings"`,
		`_ "embed"`: `_ "embed"`,
	} {
		if got := importSpec(in); got != want {
			t.Errorf("%s: %s", in, got)
		}
	}
}

func TestShims(t *testing.T) {
	u := unit.New(1, "", 2, "", nil,
		unit.Decl{Name: "Plain", Source: "func Plain() {}"},
		unit.Decl{Name: "Value", Source: "func Value() int { return 1 }"},
		unit.Decl{Name: "Setup", Source: "func Setup(c interface{ Return(any) }) bool { return true }"},
		unit.Decl{Name: "Add", Source: "func Add(a string) int { return len(a) }"},
		unit.Decl{Name: "Pair", Source: "func Pair() (int, error) { return 0, nil }"},
		unit.Decl{Name: "Generic", Source: "func Generic[T any]() {}"},
		unit.Decl{Name: "main.T.M", Source: "func (T) M() {}"},
		unit.Decl{Name: "Ext", Kind: unit.Extern, Source: "func Ext()"},
		unit.Decl{Name: "G", Kind: unit.Global, Source: "var G int"},
	)
	want := map[string]string{
		"main.Plain": "_entry_Plain",
		"main.Value": "_entry_Value",
		"main.Setup": "_entry_Setup",
	}
	got := Shims(u)
	if len(got) != len(want) {
		t.Fatalf("shims %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("shims %v", got)
		}
	}
	src := string(Render(u))
	for _, s := range []string{
		"func _entry_Plain(c interface {",
		"\tPlain()\n}",
		"\tc.Return(Value())\n}",
		"\tc.Return(Setup(c))\n}",
	} {
		if !strings.Contains(src, s) {
			t.Fatalf("missing %q in:\n%s", s, src)
		}
	}
	if strings.Contains(src, "_entry_Add") || strings.Contains(src, "_entry_Pair") {
		t.Fatalf("shim for a function with arguments:\n%s", src)
	}
	o := &object{entries: map[string]string{"main.Value": "main._entry_Value"}}
	if ep, ok := o.Entry("main.Value"); !ok || ep.Symbol != "main._entry_Value" || ep.Convention != backend.Wrapped {
		t.Fatalf("entry %+v", ep)
	}
	if _, ok := o.Entry("main.Add"); ok {
		t.Fatal("main.Add has no shim")
	}
}
