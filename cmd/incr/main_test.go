package main

import (
	"bytes"
	"flag"
	"slices"
	"strings"
	"testing"

	"github.com/ZenLiuCN/fn"
	"github.com/ZenLiuCN/incremental"
	"github.com/ZenLiuCN/incremental/backend/native"
	"github.com/ZenLiuCN/incremental/config"
	"github.com/ZenLiuCN/incremental/symbol"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var started int

func answer(c *incremental.Call) { c.Return(42) }
func greet(c *incremental.Call) { c.Return("hello") }
func start(*incremental.Call) { started++ }

func newTestSession(t *testing.T) *session {
	t.Helper()
	started = 0
	c := native.NewCatalog()
	c.DefineFunc("main.answer", answer)
	c.DefineFunc("main.greet", greet)
	c.DefineFunc("main.start", start)
	s := fn.Panic1(newSession(config.Default(), c, symbol.Map{}, zap.NewNop()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRepl(t *testing.T) {
	s := newTestSession(t)
	in := strings.NewReader(strings.Join([]string{
		"func answer(c *incremental.Call) { c.Return(42) }",
		"",
		":init start",
		"func start(*incremental.Call) {}",
		"func greet(c *incremental.Call) { c.Return(\"hello\") }",
		";;",
		":call answer",
		":call greet",
		":units",
		":unload 1",
		":call answer",
		":bogus",
		":quit",
		":call greet",
	}, "\n"))
	var out bytes.Buffer
	fn.Panic(runRepl(s, in, &out))
	text := out.String()
	for _, want := range []string{
		"unit#1(main) main.answer",
		"unit#2(main) main.start main.greet",
		"42",
		"hello",
		"unit#2(main) initialized: main.start main.greet",
		"function not compiled",
		"unknown command :bogus",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
	if started != 1 {
		t.Fatalf("initializer ran %d times", started)
	}
	if strings.Count(text, "hello") != 1 {
		t.Fatalf("commands after :quit must not run:\n%s", text)
	}
}

func TestReplSubmitsAtEOF(t *testing.T) {
	s := newTestSession(t)
	var out bytes.Buffer
	fn.Panic(runRepl(s, strings.NewReader("func answer(c *incremental.Call) { c.Return(42) }"), &out))
	if !strings.Contains(out.String(), "unit#1(main) main.answer") {
		t.Fatalf("pending fragment not submitted:\n%s", out.String())
	}
}

func TestReplHostCommands(t *testing.T) {
	s := newTestSession(t)
	var out bytes.Buffer
	fn.Panic(runRepl(s, strings.NewReader(strings.Join([]string{
		":host",
		":host reset",
		":host a b",
		":lib /nonexistent/libnothing.so",
		":unlib /nonexistent/libnothing.so",
		":lib",
	}, "\n")), &out))
	text := out.String()
	for _, want := range []string{
		"no host symbol table",
		"usage: :host [filter|reset]",
		":lib: ",
		"library not opened",
		"usage: :lib <path>",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
	if strings.Count(text, "no host symbol table") != 2 {
		t.Fatalf("both :host forms need a host table:\n%s", text)
	}
	if len(s.libs.Libraries()) != 0 {
		t.Fatalf("failed load kept %v", s.libs.Libraries())
	}
}

func TestBrowseModel(t *testing.T) {
	s := newTestSession(t)
	fn.Panic1(s.submit([]byte("func answer(c *incremental.Call) {}\nfunc greet(c *incremental.Call) {}"), ""))
	m := newBrowseModel(s, nil)
	m.Update(m.load())
	if len(m.symbols) != 2 || m.symbols[0] != "main.answer" {
		t.Fatalf("symbols %v", m.symbols)
	}
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m.Update(cmd())
	if m.err != nil || m.result != "main.answer => 42" {
		t.Fatalf("result %q %v", m.result, m.err)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'u'}})
	if len(m.symbols) != 0 || !strings.Contains(m.View(), "unit#1(main) unloaded") {
		t.Fatalf("after unload: %v\n%s", m.symbols, m.View())
	}
}

func TestLoadConfig(t *testing.T) {
	app := newApp()
	set := flag.NewFlagSet("incr", flag.ContinueOnError)
	for _, f := range app.Flags {
		fn.Panic(f.Apply(set))
	}
	fn.Panic(set.Parse([]string{"-O", "0", "-w", "/tmp/incr", "-d", "--exe", "/bin/app", "-l", "a.so", "-l", "b.so"}))
	c := fn.Panic1(loadConfig(cli.NewContext(app, set, nil)))
	if c.OptLevel != 0 || c.WorkDir != "/tmp/incr" || !c.Debug || c.Package != "main" {
		t.Fatalf("config %+v", c)
	}
	if !slices.Equal(c.Libraries, []string{"a.so", "b.so"}) || !slices.Equal(c.Executables, []string{"/bin/app"}) {
		t.Fatalf("lists %+v", c)
	}
	set = flag.NewFlagSet("incr", flag.ContinueOnError)
	for _, f := range app.Flags {
		fn.Panic(f.Apply(set))
	}
	fn.Panic(set.Parse([]string{"-O", "9"}))
	if _, err := loadConfig(cli.NewContext(app, set, nil)); err == nil {
		t.Fatal("level 9 must be rejected")
	}
}
