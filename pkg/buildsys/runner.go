package buildsys

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/sitebuild/pkg/paths"
)

// RunOptions controls how RunTask executes the graph
type RunOptions struct {
	// DryRun only prints shell commands and skips Go actions
	DryRun bool
	// Force ignores skip_if_exists and the input/output freshness check
	Force bool
	// Workers limits how many dependencies of a parallel task run at the same time
	Workers int
}

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		lock        sync.Mutex
		runs        map[string]*taskRun
		projectRoot string
		opts        RunOptions
	}
	taskRun struct {
		done chan struct{}
		err  error
	}
)

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	return ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
}

func taskEnviron(task *Task) expand.Environ {
	return expand.ListEnviron(mergeEnv(os.Environ(), task.Env)...)
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "mv", "rm", "mkdir":
			// always use our cross-platform implementation for these operations to make sure
			// they behave consistently
			self, err := os.Executable()
			if err == nil {
				args = append([]string{self}, args...)
			}
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

// RunTask executes the given task after all of its dependencies
func RunTask(ctx context.Context, projectRoot, task string, tasks TaskList, opts RunOptions) error {
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	taskMeta, found := tasks[task]
	if !found {
		return eris.Errorf("Task %s not found", task)
	}

	if err := tasks.Validate(); err != nil {
		return err
	}

	rctx := runtimeCtx{
		projectRoot: projectRoot,
		runs:        make(map[string]*taskRun),
		opts:        opts,
	}

	ctx = context.WithValue(ctx, runtimeCtxKey{}, &rctx)
	return runTaskInternal(ctx, taskMeta, tasks, opts.Force, true)
}

// runTaskInternal makes sure that every task runs at most once per RunTask call. Concurrent callers wait for the
// first run to finish and share its result.
func runTaskInternal(ctx context.Context, task *Task, tasks TaskList, force, canSkip bool) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	rctx := getRuntimeCtx(ctx)
	rctx.lock.Lock()
	run, ok := rctx.runs[task.Short]
	if ok {
		rctx.lock.Unlock()
		log(ctx).Debug().Msgf("Task %s already run", task.Short)

		select {
		case <-run.done:
			return run.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	run = &taskRun{done: make(chan struct{})}
	rctx.runs[task.Short] = run
	rctx.lock.Unlock()

	run.err = executeTask(ctx, task, tasks, force, canSkip)
	close(run.done)
	return run.err
}

func runDeps(ctx context.Context, task *Task, tasks TaskList) error {
	runDep := func(ctx context.Context, dep string) error {
		depTask, ok := tasks[dep]
		if !ok {
			return eris.Errorf("Task %s not found", dep)
		}

		err := runTaskInternal(ctx, depTask, tasks, false, true)
		if err != nil && !task.Hidden && !depTask.Hidden {
			return eris.Wrapf(err, "Task %s failed due to its dependency %s", task.Short, dep)
		}
		return err
	}

	if !task.Parallel {
		for _, dep := range task.Deps {
			if err := runDep(ctx, dep); err != nil {
				return err
			}
		}
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	slots := make(chan struct{}, getRuntimeCtx(ctx).opts.Workers)
	for _, dep := range task.Deps {
		dep := dep
		limited := !tasks.runsService(dep, map[string]bool{})
		group.Go(func() error {
			if limited {
				select {
				case slots <- struct{}{}:
				case <-groupCtx.Done():
					return groupCtx.Err()
				}
				defer func() { <-slots }()
			}
			return runDep(groupCtx, dep)
		})
	}

	return group.Wait()
}

// runsService reports whether the named task or anything it runs is a service
func (l TaskList) runsService(name string, seen map[string]bool) bool {
	task, ok := l[name]
	if !ok || seen[name] {
		return false
	}
	seen[name] = true

	if task.Service {
		return true
	}

	for _, dep := range task.Deps {
		if l.runsService(dep, seen) {
			return true
		}
	}

	for _, cmd := range task.Cmds {
		if sub, _ := cmd.ToTask(); sub != nil && (sub.Service || l.runsService(sub.Short, seen)) {
			return true
		}
	}

	return false
}

// modTimes returns the oldest and newest modification time of the files matching patterns. Both are zero if
// nothing matched.
func modTimes(base string, patterns []string) (oldest, newest time.Time, err error) {
	files, err := paths.Resolve(base, patterns...)
	if err != nil {
		return
	}

	for _, file := range files {
		info, statErr := os.Stat(file)
		if statErr != nil {
			err = eris.Wrapf(statErr, "failed to check %s", file)
			return
		}

		mt := info.ModTime()
		if oldest.IsZero() || mt.Before(oldest) {
			oldest = mt
		}
		if mt.After(newest) {
			newest = mt
		}
	}

	return
}

// allExist reports whether every pattern matches at least one file
func allExist(base string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		matches, err := paths.Resolve(base, pattern)
		if err != nil || len(matches) == 0 {
			return false, err
		}
	}

	return true, nil
}

// isUpToDate checks skip_if_exists and compares the inputs against the outputs. A task is fresh if its
// oldest output is newer than its newest input.
func isUpToDate(ctx context.Context, task *Task) (bool, error) {
	logger := log(ctx).With().Str("task", task.Short).Logger()

	if len(task.SkipIfExists) > 0 {
		exist, err := allExist(task.Base, task.SkipIfExists)
		if err != nil {
			return false, eris.Wrap(err, "failed to resolve skip_if_exists")
		}

		if exist {
			logger.Info().Msg("skipped, all skip files exist")
			return true, nil
		}
	}

	if len(task.Inputs) == 0 || len(task.Outputs) == 0 {
		return false, nil
	}

	_, newestInput, err := modTimes(task.Base, task.Inputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve inputs")
	}

	oldestOutput, newestOutput, err := modTimes(task.Base, task.Outputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve outputs")
	}

	if newestInput.IsZero() || oldestOutput.IsZero() {
		return false, nil
	}

	if spread := newestOutput.Sub(oldestOutput); spread > 10*time.Minute {
		logger.Warn().Dur("spread", spread).Msg("outputs were written at very different times")
	}

	if !oldestOutput.After(newestInput) {
		return false, nil
	}

	logger.Info().Msg("nothing to do, outputs are newer than inputs")
	return true, nil
}

func executeTask(ctx context.Context, task *Task, tasks TaskList, force, canSkip bool) error {
	rctx := getRuntimeCtx(ctx)

	if err := runDeps(ctx, task, tasks); err != nil {
		return err
	}

	if canSkip && !force {
		skip, err := isUpToDate(ctx, task)
		if err != nil {
			return err
		}

		if skip {
			return nil
		}
	}

	started := time.Now()
	if !task.Hidden && (task.Action != nil || len(task.Cmds) > 0) {
		log(ctx).Info().Str("task", task.Short).Msg("starting")
	}

	if task.Action != nil {
		if rctx.opts.DryRun {
			log(ctx).Info().Str("task", task.Short).Msg("skipping builtin action (dry run)")
		} else if err := task.Action(ctx); err != nil {
			return err
		}
	}

	if len(task.Cmds) > 0 {
		if err := runCmds(ctx, task, tasks, force); err != nil {
			return err
		}
	}

	if !task.Hidden && (task.Action != nil || len(task.Cmds) > 0) {
		log(ctx).Info().Str("task", task.Short).Msgf("finished after %s", time.Since(started).Round(time.Millisecond))
	}

	return ctx.Err()
}

func runCmds(ctx context.Context, task *Task, tasks TaskList, force bool) error {
	dryRun := getRuntimeCtx(ctx).opts.DryRun
	runner, err := interp.New(
		interp.Dir(task.Base),
		interp.Env(taskEnviron(task)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, os.Stdout, os.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize shell")
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(syntax.Minify(true))

	for _, cmd := range task.Cmds {
		if err = ctx.Err(); err != nil {
			return err
		}

		sub, err := cmd.ToTask()
		if err != nil {
			return err
		}

		if sub != nil {
			if err = runTaskInternal(ctx, sub, tasks, force, true); err != nil {
				return err
			}
			continue
		}

		stmts, err := cmd.ToShellStmts(parser)
		if err != nil {
			return err
		}

		for _, stmt := range stmts {
			var line strings.Builder
			if err = printer.Print(&line, stmt); err != nil {
				return eris.Wrap(err, "failed to print shell statement")
			}
			log(ctx).Info().Str("task", task.Short).Bool("command", true).Msg(line.String())

			if dryRun {
				continue
			}

			if err = runner.Run(ctx, stmt); err != nil {
				return eris.Wrapf(err, "command failed in task %s", task.Short)
			}

			// exit 0 ends the task early
			if runner.Exited() {
				return nil
			}
		}
	}

	return ctx.Err()
}
