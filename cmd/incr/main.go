package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ZenLiuCN/incremental/config"
	"github.com/ZenLiuCN/incremental/goobj"
	"github.com/davecgh/go-spew/spew"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("failure %s", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "incr"
	app.Usage = "incremental go executor"
	app.Description = "compile go fragments into units, load, run and unload them inside one process"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "debug logging, keep generated files"},
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "yaml configuration file"},
		&cli.IntFlag{Name: "opt", Aliases: []string{"O"}, Value: -1, Usage: "optimization level 0..3"},
		&cli.StringFlag{Name: "workdir", Aliases: []string{"w"}, Usage: "directory for generated sources and objects"},
		&cli.StringSliceFlag{Name: "lib", Aliases: []string{"l"}, Usage: "shared library to open, repeatable"},
		&cli.StringSliceFlag{Name: "exe", Usage: "executable whose go symbols units may link, repeatable"},
	}
	app.Commands = []*cli.Command{
		{
			Name:   "run",
			Action: run,
			Usage:  "submit go files as units in order and execute wrappers",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{Name: "call", Aliases: []string{"x"}, Usage: "wrapper to execute after loading, repeatable"},
				&cli.StringFlag{Name: "init", Aliases: []string{"i"}, Usage: "initializer of every unit"},
				&cli.BoolFlag{Name: "dump", Usage: "dump the configuration and loaded units"},
				&cli.StringFlag{Name: "save", Usage: "directory to write the serialized linker of every unit"},
			},
			Args: true,
		},
		{Name: "repl", Action: replAction, Usage: "read fragments and commands from stdin"},
		{Name: "browse", Action: browse, Usage: "load go files and browse their symbols", Args: true},
		{Name: "prepare", Action: prepare, Usage: "copy internals of go sdk"},
		{Name: "clean", Action: clean, Usage: "remove copied internals of go sdk"},
		{
			Name:   "imports",
			Action: imports,
			Usage:  "display imports of objfile",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "pkg", Aliases: []string{"p"}, Usage: "package path or default main"},
			},
			Args: true,
		},
		{
			Name:   "inspect",
			Action: inspect,
			Usage:  "display symbols of objfile",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "pkg", Aliases: []string{"p"}, Value: "main", Usage: "package path"},
			},
			Args: true,
		},
		{Name: "linker", Action: linkers, Usage: "display imports of linker files written by run --save", Args: true},
	}
	return app
}

// loadConfig read the configuration file then apply flags over it.
func loadConfig(ctx *cli.Context) (c config.Config, err error) {
	if c, err = config.Load(ctx.String("config")); err != nil {
		return
	}
	if ctx.Bool("debug") {
		c.Debug = true
	}
	if o := ctx.Int("opt"); o >= 0 {
		c.OptLevel = o
	}
	if w := ctx.String("workdir"); w != "" {
		c.WorkDir = w
	}
	if d := ctx.String("save"); d != "" {
		c.SaveDir = d
	}
	c.Libraries = append(c.Libraries, ctx.StringSlice("lib")...)
	c.Executables = append(c.Executables, ctx.StringSlice("exe")...)
	return c, c.Validate()
}

func withSession(ctx *cli.Context, f func(s *session) error) (err error) {
	c, err := loadConfig(ctx)
	if err != nil {
		return
	}
	l, err := setupLogging(c.Debug)
	if err != nil {
		return
	}
	defer func() { _ = l.Sync() }()
	s, err := openSession(c, l)
	if err != nil {
		return
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			l.Warn("close session", zap.Error(cerr))
		}
	}()
	return f(s)
}

func run(ctx *cli.Context) error {
	files := ctx.Args().Slice()
	if len(files) == 0 {
		return fmt.Errorf("missing target sources list")
	}
	return withSession(ctx, func(s *session) error {
		var bar *progressbar.ProgressBar
		if len(files) > 1 && isTerminal(os.Stderr) {
			bar = progressbar.NewOptions(len(files),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("units"),
				progressbar.OptionClearOnFinish(),
			)
		}
		var loaded []string
		for _, f := range files {
			u, err := s.submitFile(f, ctx.String("init"))
			if err != nil {
				return fmt.Errorf("%s: %w", f, err)
			}
			loaded = append(loaded, unitStyle.Render(u.String())+" "+strings.Join(u.Defines(), " "))
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		if bar != nil {
			_ = bar.Finish()
		}
		for _, l := range loaded {
			fmt.Println(l)
		}
		if ctx.Bool("dump") {
			spew.Dump(s.cfg)
			fmt.Print(s.units())
		}
		for _, name := range ctx.StringSlice("call") {
			v, err := s.call(name)
			if err != nil {
				return err
			}
			fmt.Println(symbolStyle.Render(name), resultStyle.Render(v))
		}
		return nil
	})
}

func replAction(ctx *cli.Context) error {
	return withSession(ctx, func(s *session) error {
		return runRepl(s, os.Stdin, os.Stdout)
	})
}

func browse(ctx *cli.Context) error {
	if !isTerminal(os.Stdin) {
		return fmt.Errorf("browse needs a terminal")
	}
	return withSession(ctx, func(s *session) error {
		return runBrowse(s, ctx.Args().Slice())
	})
}

func sdk(ctx *cli.Context) (string, error) {
	if ctx.Bool("debug") {
		l, err := setupLogging(true)
		if err != nil {
			return "", err
		}
		defer func() { _ = l.Sync() }()
	}
	return goobj.GoRoot()
}

func prepare(ctx *cli.Context) error {
	root, err := sdk(ctx)
	if err != nil {
		return err
	}
	done, err := goobj.PrepareSDK(root)
	if err == nil && done {
		log.Printf("prepared go sdk at %s", root)
	}
	return err
}

func clean(ctx *cli.Context) error {
	root, err := sdk(ctx)
	if err != nil {
		return err
	}
	done, err := goobj.CleanSDK(root)
	if err == nil && done {
		log.Printf("cleaned go sdk at %s", root)
	}
	return err
}

func imports(ctx *cli.Context) error {
	for _, s := range ctx.Args().Slice() {
		v, err := goobj.ObjectDeps(s, ctx.String("pkg"))
		if err != nil {
			return err
		}
		log.Printf("\n%s", v.String())
	}
	return nil
}

func inspect(ctx *cli.Context) error {
	for _, s := range ctx.Args().Slice() {
		syms, err := goobj.Inspect(s, ctx.String("pkg"))
		if err != nil {
			return err
		}
		for _, n := range syms {
			fmt.Println(symbolStyle.Render(n))
		}
	}
	return nil
}

func linkers(ctx *cli.Context) error {
	for _, s := range ctx.Args().Slice() {
		l, err := goobj.ReadLinker(s)
		if err != nil {
			return err
		}
		log.Printf("\n%s", goobj.LinkerDeps(l).String())
	}
	return nil
}
