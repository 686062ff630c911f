package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ZenLiuCN/incremental/unit"
	"golang.org/x/term"
)

const replHelp = `enter go declarations, an empty line or ';;' submits them as a unit
:call <name>          execute an entry point: func(*incremental.Call) when built in,
                      a compiled func without params or with one caller interface param
:load <file> [init]   submit a file, running init once
:init <name>          initializer of the next submitted fragment
:unload <gen>         unload a unit
:units                list loaded units
:symbols              list symbols of loaded units
:host [filter]        list host symbols containing filter
:host reset           drop library symbols from the host table
:lib <path>           open a shared library
:unlib <path>         close a shared library
:quit                 leave
`

type repl struct {
	s      *session
	out    io.Writer
	buf    strings.Builder
	entry  string
	prompt bool
}

// isTerminal reports whether v is a file attached to a terminal.
func isTerminal(v any) bool {
	f, ok := v.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

func runRepl(s *session, in io.Reader, out io.Writer) error {
	r := &repl{s: s, out: out, prompt: isTerminal(in)}
	sc := bufio.NewScanner(in)
	r.showPrompt()
	for sc.Scan() {
		quit, err := r.handle(sc.Text())
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render(err.Error()))
		}
		if quit {
			return nil
		}
		r.showPrompt()
	}
	if _, err := r.flush(); err != nil {
		fmt.Fprintln(out, errorStyle.Render(err.Error()))
	}
	return sc.Err()
}

func (r *repl) showPrompt() {
	if !r.prompt {
		return
	}
	if r.buf.Len() > 0 {
		fmt.Fprint(r.out, "... ")
	} else {
		fmt.Fprint(r.out, "incr> ")
	}
}

// flush submit the pending fragment, if any.
func (r *repl) flush() (bool, error) {
	src := strings.TrimSpace(r.buf.String())
	r.buf.Reset()
	if src == "" {
		return false, nil
	}
	entry := r.entry
	r.entry = ""
	u, err := r.s.submit([]byte(src), entry)
	if err != nil {
		return true, err
	}
	fmt.Fprintln(r.out, unitStyle.Render(u.String()), strings.Join(u.Defines(), " "))
	return true, nil
}

func (r *repl) handle(line string) (quit bool, err error) {
	t := strings.TrimSpace(line)
	switch {
	case t == "" || t == ";;":
		_, err = r.flush()
		return
	case !strings.HasPrefix(t, ":"):
		r.buf.WriteString(line)
		r.buf.WriteByte('\n')
		return
	}
	if _, err = r.flush(); err != nil {
		return
	}
	f := strings.Fields(t)
	switch f[0] {
	case ":quit", ":q":
		return true, nil
	case ":help":
		fmt.Fprint(r.out, helpStyle.Render(replHelp))
	case ":units":
		fmt.Fprint(r.out, r.s.units())
	case ":symbols":
		for _, n := range r.s.exec.Symbols() {
			fmt.Fprintln(r.out, symbolStyle.Render(n))
		}
	case ":host":
		if len(f) == 2 && f[1] == "reset" {
			err = r.s.resetHost()
			return
		}
		if len(f) > 2 {
			return false, fmt.Errorf("usage: :host [filter|reset]")
		}
		filter := ""
		if len(f) == 2 {
			filter = f[1]
		}
		var v []string
		if v, err = r.s.hostSymbols(filter); err != nil {
			return
		}
		for _, n := range v {
			fmt.Fprintln(r.out, symbolStyle.Render(n))
		}
		fmt.Fprintf(r.out, "%d of %d host symbols\n", len(v), r.s.host.Len())
	case ":lib", ":unlib":
		if len(f) != 2 {
			return false, fmt.Errorf("usage: %s <path>", f[0])
		}
		if f[0] == ":lib" {
			err = r.s.loadLibrary(f[1])
		} else {
			err = r.s.closeLibrary(f[1])
		}
	case ":init":
		if len(f) != 2 {
			return false, fmt.Errorf("usage: :init <name>")
		}
		r.entry = f[1]
	case ":call":
		if len(f) != 2 {
			return false, fmt.Errorf("usage: :call <name>")
		}
		var v string
		if v, err = r.s.call(f[1]); err == nil {
			fmt.Fprintln(r.out, resultStyle.Render(v))
		}
	case ":load":
		if len(f) < 2 || len(f) > 3 {
			return false, fmt.Errorf("usage: :load <file> [init]")
		}
		entry := ""
		if len(f) == 3 {
			entry = f[2]
		}
		u, lerr := r.s.submitFile(f[1], entry)
		if lerr != nil {
			return false, lerr
		}
		fmt.Fprintln(r.out, unitStyle.Render(u.String()), strings.Join(u.Defines(), " "))
	case ":unload":
		if len(f) != 2 {
			return false, fmt.Errorf("usage: :unload <gen>")
		}
		var g uint64
		if g, err = strconv.ParseUint(strings.TrimPrefix(f[1], "#"), 10, 64); err != nil {
			return
		}
		err = r.s.unload(unit.Generation(g))
	default:
		err = fmt.Errorf("unknown command %s, try :help", f[0])
	}
	return
}
