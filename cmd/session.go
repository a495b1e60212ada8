package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ngld/sitebuild/pkg"
	"github.com/ngld/sitebuild/pkg/buildsys"
	"github.com/ngld/sitebuild/pkg/config"
	"github.com/ngld/sitebuild/pkg/devserver"
	"github.com/ngld/sitebuild/pkg/notify"
	"github.com/ngld/sitebuild/pkg/paths"
	"github.com/ngld/sitebuild/pkg/pipeline"
	"github.com/ngld/sitebuild/pkg/sblog"
	"github.com/ngld/sitebuild/pkg/store"
	"github.com/ngld/sitebuild/pkg/watch"
)

const (
	// ScriptFile is the optional task script in the project root
	ScriptFile = "tasks.star"

	TaskServer   = "server"
	TaskWatching = "watching"
	TaskDefault  = "default"
)

// session holds everything a command needs to run tasks in one project
type session struct {
	Root    string
	Cfg     *config.Config
	Table   paths.Table
	Tasks   buildsys.TaskList
	Builder *pipeline.Builder
	Hub     *devserver.Hub
	Store   *store.Store
	Opts    buildsys.RunOptions
}

func newLogger(cfg *config.Config, root string) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Log.JSON {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(NewConsoleWriter(root))
	}

	return logger.Level(cfg.LogLevel())
}

func applyOverrides(table paths.Table, overrides map[paths.Category]config.PathOverride) error {
	for cat, override := range overrides {
		err := table.Override(cat, paths.Entry{
			Src:   override.Src,
			Watch: override.Watch,
			Dest:  override.Dest,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// openSession loads the config, the task script and registers all tasks. The returned context carries the
// session's logger.
func openSession(ctx context.Context, cmd *cobra.Command, options map[string]string) (context.Context, *session, error) {
	flags := cmd.Flags()
	rootFlag, _ := flags.GetString("root")
	configFlag, _ := flags.GetString("config")
	dryRun, _ := flags.GetBool("dry")
	force, _ := flags.GetBool("force")
	logJSON, _ := flags.GetBool("log-json")

	start := rootFlag
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return ctx, nil, eris.Wrap(err, "failed to determine the working directory")
		}
		start = wd
	}

	root, err := pkg.FindProjectRoot(start)
	if err != nil {
		return ctx, nil, err
	}

	configFile := configFlag
	if configFile == "" {
		configFile = filepath.Join(root, config.DefaultFile)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return ctx, nil, err
	}

	if logJSON {
		cfg.Log.JSON = true
	}
	if flags.Lookup("precompress") != nil {
		if precompress, _ := flags.GetBool("precompress"); precompress {
			cfg.Build.Precompress = true
		}
	}

	logger := newLogger(cfg, root)
	ctx = sblog.WithLogger(ctx, &logger)

	s := &session{
		Root: root,
		Cfg:  cfg,
		Opts: buildsys.RunOptions{
			DryRun:  dryRun,
			Force:   force,
			Workers: cfg.Build.Workers,
		},
	}

	s.Table = paths.Default(root, cfg.Src, cfg.Dist)
	err = applyOverrides(s.Table, map[paths.Category]config.PathOverride{
		paths.HTML:   cfg.Paths.HTML,
		paths.JS:     cfg.Paths.JS,
		paths.CSS:    cfg.Paths.CSS,
		paths.Images: cfg.Paths.Images,
		paths.Fonts:  cfg.Paths.Fonts,
	})
	if err != nil {
		return ctx, nil, err
	}

	var script *buildsys.Script
	scriptPath := filepath.Join(root, ScriptFile)
	if _, err := os.Stat(scriptPath); err == nil {
		script, err = buildsys.Parse(ctx, scriptPath, root, s.cachePath("tasks.cache"), options)
		if err != nil {
			return ctx, nil, eris.Wrapf(err, "failed to parse %s", ScriptFile)
		}

		for cat, entry := range script.Paths {
			if err = s.Table.Override(cat, entry); err != nil {
				return ctx, nil, err
			}
		}
	} else if len(options) > 0 {
		return ctx, nil, eris.Errorf("options were passed but %s doesn't exist", scriptPath)
	}

	s.Hub = devserver.NewHub(s.Table.Abs(cfg.Dist))
	s.Builder = pipeline.New(cfg, s.Table, notify.New(cfg.Notify.Desktop))
	s.Builder.Reloader = s.Hub

	if cfg.Images.Cache && !dryRun {
		s.Store, err = store.Open(ctx, s.cachePath("cache.db"))
		if err != nil {
			return ctx, nil, err
		}
		s.Builder.Store = s.Store
	}

	err = s.registerTasks(script)
	if err != nil {
		s.Close()
		return ctx, nil, err
	}

	return ctx, s, nil
}

func (s *session) cachePath(name string) string {
	return filepath.Join(s.Table.Abs(s.Cfg.Cache.Dir), name)
}

func (s *session) registerTasks(script *buildsys.Script) error {
	list := buildsys.TaskList{}
	s.Builder.Register(list)

	list.Add(&buildsys.Task{
		Short:   TaskServer,
		Desc:    "Serves the output directory with live reload",
		Service: true,
		Action:  s.serve,
	})
	list.Add(&buildsys.Task{
		Short:   TaskWatching,
		Desc:    "Rebuilds the affected assets when their sources change",
		Service: true,
		Action:  s.watch,
	})
	list.Add(&buildsys.Task{
		Short: TaskDefault,
		Desc:  "Builds the site for development, serves it and watches for changes",
		Deps: []string{list.Parallel(
			pipeline.TaskFonts,
			pipeline.TaskImagesWatch,
			pipeline.TaskHTMLWatch,
			pipeline.TaskCSSWatch,
			pipeline.TaskJSWatch,
			TaskServer,
			TaskWatching,
		)},
	})

	if script != nil {
		if err := list.Merge(script.Tasks); err != nil {
			return err
		}
	}

	s.Tasks = list
	return nil
}

func (s *session) serve(ctx context.Context) error {
	server := devserver.New(s.Cfg.Server.Host, s.Cfg.Server.Port, s.Table.Abs(s.Cfg.Dist), s.Hub)
	return server.Run(ctx)
}

func (s *session) watch(ctx context.Context) error {
	routes, err := watch.Routes(s.Table)
	if err != nil {
		return err
	}

	w := &watch.Watcher{
		Root:   s.Root,
		Routes: routes,
		Excludes: []string{
			filepath.ToSlash(s.Cfg.Dist) + "/**",
			filepath.ToSlash(s.Cfg.Cache.Dir) + "/**",
		},
		Lull:     s.Cfg.Watch.Lull,
		Notifier: s.Builder.Notifier,
		Run:      s.runWatched,
	}

	return w.Watch(ctx)
}

// runWatched reruns a single task without its dependencies' freshness checks getting in the way
func (s *session) runWatched(ctx context.Context, task string) error {
	opts := s.Opts
	opts.Force = true
	return buildsys.RunTask(ctx, s.Root, task, s.Tasks, opts)
}

// Run executes the named tasks one after another
func (s *session) Run(ctx context.Context, tasks ...string) error {
	for _, name := range tasks {
		err := buildsys.RunTask(ctx, s.Root, name, s.Tasks, s.Opts)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *session) Close() {
	if s.Store != nil {
		s.Store.Close()
		s.Store = nil
	}
}
