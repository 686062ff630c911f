package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/ZenLiuCN/incremental"
	"github.com/ZenLiuCN/incremental/backend"
	"github.com/ZenLiuCN/incremental/config"
	"github.com/ZenLiuCN/incremental/dylib"
	"github.com/ZenLiuCN/incremental/goobj"
	"github.com/ZenLiuCN/incremental/pool"
	"github.com/ZenLiuCN/incremental/symbol"
	"github.com/ZenLiuCN/incremental/unit"
	"go.uber.org/zap"
)

// session is one executor fed with fragments.
type session struct {
	cfg    config.Config
	exec   *incremental.Executor
	libs   *dylib.Manager
	host   *goobj.Host //nil unless compiling with the go tool
	closer func() error
	log    *zap.Logger
}

func setupLogging(debug bool) (*zap.Logger, error) {
	if !debug {
		return zap.NewNop(), nil
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	incremental.SetLogger(l.Named("executor"))
	pool.SetLogger(l.Named("pool"))
	goobj.SetLogger(l.Named("goobj"))
	return l, nil
}

// openSession with the goloader backend. Compiled code resolves go symbols from the host table,
// extended by the configured libraries and executables, then C symbols of the process.
func openSession(cfg config.Config, log *zap.Logger) (*session, error) {
	if err := goobj.LookupGo(); err != nil {
		return nil, err
	}
	host, err := goobj.NewHost()
	if err != nil {
		return nil, fmt.Errorf("register host symbols: %w", err)
	}
	for _, l := range cfg.Libraries {
		if err = host.AddLibrary(l); err != nil && !errors.Is(err, goobj.ErrAlreadyExists) {
			return nil, fmt.Errorf("register library %s: %w", l, err)
		}
	}
	for _, x := range cfg.Executables {
		if err = host.AddExecutable(x); err != nil && !errors.Is(err, goobj.ErrAlreadyExists) {
			return nil, fmt.Errorf("register executable %s: %w", x, err)
		}
	}
	b, err := goobj.NewBackend(cfg.WorkDir, cfg.Debug)
	if err != nil {
		return nil, err
	}
	if err = b.SaveTo(cfg.SaveDir); err != nil {
		_ = b.Close()
		return nil, err
	}
	s, err := newSession(cfg, b, symbol.Chain{host, dylib.Process()}, log)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	s.host = host
	closer := s.closer
	s.closer = func() error { return errors.Join(closer(), b.Close()) }
	return s, nil
}

func newSession(cfg config.Config, b backend.Backend, process symbol.Resolver, log *zap.Logger) (s *session, err error) {
	s = &session{cfg: cfg, libs: dylib.NewManager(), log: log}
	for _, l := range cfg.Libraries {
		if err = s.libs.Load(l); err != nil {
			_ = s.libs.Close()
			return nil, err
		}
	}
	s.exec, err = incremental.NewExecutor(b,
		incremental.WithConfig(cfg),
		incremental.WithLogger(log),
		incremental.WithProcess(process),
		incremental.WithLibraries(s.libs),
	)
	if err != nil {
		_ = s.libs.Close()
		return nil, err
	}
	s.closer = func() error { return errors.Join(s.exec.Close(), s.libs.Close()) }
	return s, nil
}

func (s *session) Close() error { return s.closer() }

// submit a fragment as a new unit and run its initializer, entry may be empty.
func (s *session) submit(src []byte, entry string) (*unit.Unit, error) {
	fr, err := goobj.ParseFragment(s.cfg.Package, src)
	if err != nil {
		return nil, err
	}
	u := s.exec.NewUnit(fr.Package, s.cfg.OptLevel, entry, fr.Imports, fr.Decls...)
	if err = s.exec.AddModule(u); err != nil {
		return nil, err
	}
	if r, err := s.exec.RunStaticInitializersOnce(u); r != incremental.ExeSuccess || err != nil {
		return u, fmt.Errorf("%s: %w", r, err)
	}
	return u, nil
}

func (s *session) submitFile(file, entry string) (*unit.Unit, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return s.submit(b, entry)
}

// call a wrapper, the result is the returned value or the failure.
func (s *session) call(name string) (string, error) {
	var v incremental.Value
	r, err := s.exec.ExecuteWrapper(name, &v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", r, err)
	}
	return v.String(), nil
}

// unload a unit by generation.
func (s *session) unload(g unit.Generation) error {
	u := s.exec.Unit(g)
	if u == nil {
		return fmt.Errorf("%w: unit#%d", incremental.ErrNotLoaded, g)
	}
	return s.exec.UnloadModule(u)
}

// units lists loaded units with their symbols.
func (s *session) units() string {
	var b strings.Builder
	for _, g := range s.exec.Units() {
		u := s.exec.Unit(g)
		if u == nil {
			continue
		}
		fmt.Fprintf(&b, "%s %s: %s\n", u, s.exec.State(u), strings.Join(u.Defines(), " "))
	}
	return b.String()
}

// loadLibrary open a shared library for later units, go symbols of it included.
func (s *session) loadLibrary(path string) error {
	if err := s.libs.Load(path); err != nil {
		return fmt.Errorf(":lib: %w", err)
	}
	if s.host == nil {
		return nil
	}
	if err := s.host.AddLibrary(path); err != nil && !errors.Is(err, goobj.ErrAlreadyExists) {
		return err
	}
	return nil
}

// closeLibrary close a shared library, its go symbols stay in the host table until resetHost.
func (s *session) closeLibrary(path string) error {
	return s.libs.Unload(path)
}

// hostSymbols of the host table containing filter, sorted.
func (s *session) hostSymbols(filter string) ([]string, error) {
	if s.host == nil {
		return nil, errNoHost
	}
	var v []string
	for _, n := range s.host.Symbols() {
		if strings.Contains(n, filter) {
			v = append(v, n)
		}
	}
	slices.Sort(v)
	return v, nil
}

// resetHost drop library and executable symbols from the host table, refused while units are loaded.
func (s *session) resetHost() error {
	if s.host == nil {
		return errNoHost
	}
	if n := len(s.exec.Units()); n > 0 {
		return fmt.Errorf("%d units still loaded", n)
	}
	return s.host.Reset()
}

var errNoHost = errors.New("no host symbol table, units are not compiled")
