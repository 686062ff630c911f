package goobj

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ZenLiuCN/fn"
	"github.com/pkujhd/goloader"
	"go.uber.org/zap"
)

// CopyFile from src to dest with optional src file info
func CopyFile(src string, dest string, si fs.FileInfo) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer fn.IgnoreClose(sf)
	df, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer fn.IgnoreClose(df)
	if _, err = io.Copy(df, sf); err != nil {
		return
	}
	if si == nil {
		if si, err = os.Stat(src); err != nil {
			return
		}
	}
	return os.Chmod(dest, si.Mode())
}

// CopyDir from src to dest with optional src file info
func CopyDir(src string, dest string, si fs.FileInfo) (err error) {
	if si == nil {
		if si, err = os.Stat(src); err != nil {
			return err
		}
	}
	if err = os.MkdirAll(dest, si.Mode()); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == src {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		dp := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(dp, info.Mode())
		}
		return CopyFile(path, dp, info)
	})
}

const (
	objfileDir  = "src/cmd/objfile"
	internalDir = "src/cmd/internal"
)

// PrepareSDK copy the internals of the go sdk under goroot so goloader can be compiled against
// them. Reports whether anything was copied.
func PrepareSDK(goroot string) (bool, error) {
	src := filepath.Join(goroot, internalDir)
	dir := filepath.Join(goroot, objfileDir)
	if _, err := os.Stat(dir); err == nil || !os.IsNotExist(err) {
		Logger().Debug("sdk already prepared", zap.String("dir", dir))
		return false, nil
	}
	Logger().Debug("prepare sdk", zap.String("from", src), zap.String("to", dir))
	return true, CopyDir(src, dir, nil)
}

// CleanSDK remove the copied internals. Reports whether anything was removed.
func CleanSDK(goroot string) (bool, error) {
	dir := filepath.Join(goroot, objfileDir)
	if _, err := os.Stat(dir); err != nil {
		Logger().Debug("nothing to clean", zap.String("dir", dir))
		return false, nil
	}
	return true, os.RemoveAll(dir)
}

// GoRoot of the go sdk found in PATH.
func GoRoot() (string, error) {
	if r := os.Getenv("GOROOT"); r != "" {
		return r, nil
	}
	out, err := run("", "go", "env", "GOROOT")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	Logger().Debug("execute", zap.String("dir", dir), zap.Strings("args", cmd.Args))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w\n%s", name, strings.Join(args, " "), err, stderr.String())
	}
	return out, nil
}

// Imports write an importcfg file into dir covering the standard library and the imports of
// the go files.
func Imports(dir string, files []string) (cfg string, err error) {
	var out []byte
	if out, err = run(dir, "go", append([]string{"list", "-export", "-f", "{{.Imports}}"}, files...)...); err != nil {
		return "", fmt.Errorf("inspect imports: %w", err)
	}
	deps := strings.TrimSpace(string(out))
	deps = strings.TrimSuffix(strings.TrimPrefix(deps, "["), "]")
	args := []string{"list", "-export", "-f", "{{if .Export}}packagefile {{.ImportPath}}={{.Export}}{{end}}", "std"}
	args = append(args, strings.Fields(deps)...)
	if out, err = run(dir, "go", args...); err != nil {
		return "", fmt.Errorf("inspect dependencies: %w", err)
	}
	cfg = filepath.Join(dir, "importcfg")
	return cfg, os.WriteFile(cfg, out, 0o644)
}

// LevelFlags compiler flags of an optimization level.
func LevelFlags(level int) []string {
	switch level {
	case 0:
		return []string{"-N", "-l"}
	case 1:
		return []string{"-l"}
	case 3:
		return []string{"-B"}
	default:
		return nil
	}
}

// Compile the go files in dir into output as package pkg.
func Compile(dir, pkg, importcfg, output string, level int, files []string) error {
	args := []string{"tool", "compile", "-p", pkg, "-importcfg", importcfg, "-o", output}
	args = append(args, LevelFlags(level)...)
	args = append(args, files...)
	_, err := run(dir, "go", args...)
	return err
}

// Inspect display symbols inside an object file
func Inspect(file, pkg string) ([]string, error) {
	return goloader.Parse(file, pkg)
}

// ErrNoGo occurs when the go tool is not in PATH.
var ErrNoGo = errors.New("missing go sdk")

// LookupGo check the go tool is available.
func LookupGo() error {
	if _, err := exec.LookPath("go"); err != nil {
		return fmt.Errorf("%w: %w", ErrNoGo, err)
	}
	return nil
}
