package buildsys

import (
	"context"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/sitebuild/pkg/paths"
)

type parserCtx struct {
	ctx          context.Context
	options      map[string]ScriptOption
	optionValues map[string]string
	envOverrides map[string]string
	yamlCache    map[string]interface{}
	paths        map[paths.Category]paths.Entry
	filepath     string
	projectRoot  string
	tasks        []*Task
	initPhase    bool
}

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

// scriptWarn logs msg with the position of the calling script line
func scriptWarn(thread *starlark.Thread, format string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	log(ctx.ctx).Warn().
		Str("script", displayPath(ctx, ctx.filepath)).
		Int("line", int(pos.Line)).
		Msgf(format, args...)
}

// stringList converts the list arguments of task(). A missing list is empty.
func stringList(list *starlark.List, field string) ([]string, error) {
	if list == nil {
		return []string{}, nil
	}

	result := make([]string, list.Len())
	for idx := range result {
		value, err := pathArg(field, idx, list.Index(idx))
		if err != nil {
			return nil, err
		}
		result[idx] = value
	}

	return result, nil
}

const shellSpecial = " \t\n\"\\$`*?[]{}()<>|&;~#"

// quoteWord builds a shell word that expands to exactly text
func quoteWord(text string) *syntax.Word {
	var part syntax.WordPart

	switch {
	case text == "":
		part = &syntax.SglQuoted{}
	case strings.Contains(text, "'"):
		escaped := strings.NewReplacer("\\", "\\\\", "$", "\\$", "\"", "\\\"", "`", "\\`").Replace(text)
		part = &syntax.DblQuoted{Parts: []syntax.WordPart{&syntax.Lit{Value: escaped}}}
	case strings.ContainsAny(text, shellSpecial):
		part = &syntax.SglQuoted{Value: text}
	default:
		part = &syntax.Lit{Value: text}
	}

	return &syntax.Word{Parts: []syntax.WordPart{part}}
}

func isEnvName(name string) bool {
	for idx, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case idx > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return name != ""
}

// envAssign returns the assignment for "NAME=value" strings and nil for everything else
func envAssign(part starlark.Value) *syntax.Assign {
	text, ok := part.(starlark.String)
	if !ok {
		return nil
	}

	name, value, found := strings.Cut(text.GoString(), "=")
	if !found || !isEnvName(name) {
		return nil
	}

	return &syntax.Assign{Name: &syntax.Lit{Value: name}, Value: quoteWord(value)}
}

// commandCall turns ("NAME=value", ..., "program", arg, ...) into a shell call. Paths are passed relative to
// base since absolute Windows paths don't survive the shell.
func commandCall(parts starlark.Tuple, base string) (*syntax.CallExpr, error) {
	call := new(syntax.CallExpr)

	for idx, part := range parts {
		if len(call.Args) == 0 {
			if assign := envAssign(part); assign != nil {
				call.Assigns = append(call.Assigns, assign)
				continue
			}
		}

		var text string
		switch value := part.(type) {
		case starlark.String:
			text = value.GoString()
		case StarlarkPath:
			text = string(value)
			if filepath.IsAbs(text) {
				if rel, err := filepath.Rel(base, text); err == nil {
					text = rel
				}
			}
			text = filepath.ToSlash(text)
		default:
			return nil, eris.Errorf("argument %d has type %s but only strings and paths are supported", idx+1, part.Type())
		}

		call.Args = append(call.Args, quoteWord(text))
	}

	if len(call.Args) == 0 {
		return nil, eris.New("command is missing the program")
	}

	return call, nil
}

func commandScript(taskName string, idx int, parts starlark.Tuple, base string) (TaskCmdScript, error) {
	call, err := commandCall(parts, base)
	if err != nil {
		return TaskCmdScript{}, eris.Wrapf(err, "failed to process command #%d", idx)
	}

	var buf strings.Builder
	if err = syntax.NewPrinter(syntax.Minify(true)).Print(&buf, call); err != nil {
		return TaskCmdScript{}, eris.Wrapf(err, "failed to print command #%d", idx)
	}

	return TaskCmdScript{TaskName: taskName, Index: idx, Content: buf.String()}, nil
}

// * Builtin functions

// option(name, default = "", help = "") declares a value that can be set on the command line with name=value
func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, help string
	var defaultValue starlark.String

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if !ctx.initPhase {
		return nil, eris.Errorf("%s: only works in the global scope", fn.Name())
	}

	ctx.options[name] = ScriptOption{DefaultValue: defaultValue.GoString(), Help: help}
	if value, ok := ctx.optionValues[name]; ok {
		return starlark.String(value), nil
	}

	return defaultValue, nil
}

func envMap(dict *starlark.Dict) (map[string]string, error) {
	result := map[string]string{}
	if dict == nil {
		return result, nil
	}

	for _, item := range dict.Items() {
		key, ok := item[0].(starlark.String)
		if !ok {
			return nil, eris.Errorf("env: keys must be strings, found %s", item[0].Type())
		}

		value, err := pathArg("env", 1, item[1])
		if err != nil {
			return nil, eris.Wrapf(err, "env: invalid value for %s", key.GoString())
		}
		result[key.GoString()] = value
	}

	return result, nil
}

func taskCmds(t *Task, list *starlark.List) ([]TaskCmd, error) {
	result := make([]TaskCmd, 0)
	if list == nil {
		return result, nil
	}

	for idx := 0; idx < list.Len(); idx++ {
		switch value := list.Index(idx).(type) {
		case starlark.String:
			result = append(result, TaskCmdScript{TaskName: t.Short, Index: idx, Content: value.GoString()})
		case *Task:
			result = append(result, TaskCmdTaskRef{Task: value})
		case starlark.Tuple, *starlark.List:
			indexable := value.(starlark.Indexable)
			parts := make(starlark.Tuple, indexable.Len())
			for i := range parts {
				parts[i] = indexable.Index(i)
			}

			cmd, err := commandScript(t.Short, idx, parts, t.Base)
			if err != nil {
				return nil, err
			}
			result = append(result, cmd)
		default:
			return nil, eris.Errorf("cmds: item %d has type %s, expected a string, tuple, list or task", idx+1, value.Type())
		}
	}

	return result, nil
}

// task(short = "", desc = "", ...) declares a task. Tasks without a name are hidden and can only be used in
// the cmds list of other tasks.
func task(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var deps, skipIfExists, inputs, outputs, cmds *starlark.List
	var env *starlark.Dict
	t := new(Task)

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "short?", &t.Short, "hidden?", &t.Hidden,
		"desc?", &t.Desc, "deps?", &deps, "base?", &t.Base, "skip_if_exists?", &skipIfExists, "inputs?",
		&inputs, "outputs?", &outputs, "env?", &env, "cmds?", &cmds, "parallel?", &t.Parallel,
		"service?", &t.Service)
	if err != nil {
		return nil, err
	}

	switch t.Short {
	case "":
		t.Hidden = true
		t.Short = "auto#" + nanoid.New()
	case "configure":
		return nil, eris.Errorf("%s: the name configure is reserved", fn.Name())
	}

	ctx := getCtx(thread)
	t.Base = normalizePath(ctx, t.Base)

	lists := []struct {
		dest  *[]string
		value *starlark.List
		field string
	}{
		{&t.Deps, deps, "deps"},
		{&t.SkipIfExists, skipIfExists, "skip_if_exists"},
		{&t.Inputs, inputs, "inputs"},
		{&t.Outputs, outputs, "outputs"},
	}
	for _, item := range lists {
		if *item.dest, err = stringList(item.value, item.field); err != nil {
			return nil, err
		}
	}

	if t.Env, err = envMap(env); err != nil {
		return nil, err
	}

	if t.Cmds, err = taskCmds(t, cmds); err != nil {
		return nil, err
	}

	if len(t.Inputs) > 0 && len(t.Outputs) == 0 {
		scriptWarn(thread, "task %s has inputs but no outputs and will always run", t.Short)
	}

	if !t.Hidden {
		ctx.tasks = append(ctx.tasks, t)
	}
	return t, nil
}

// RunScript executes a starlark script and returns the declared options. If doConfigure is true, the script's
// configure function is called and the declared tasks are collected and returned.
func RunScript(ctx context.Context, filename, projectRoot string, options map[string]string, doConfigure bool) (*Script, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, err
	}

	builtins := starlark.StringDict{
		"OS":              starlark.String(runtime.GOOS),
		"ARCH":            starlark.String(runtime.GOARCH),
		"VERSION":         starlark.String(Version),
		"info":            starlark.NewBuiltin("info", messageBuiltin(zerolog.InfoLevel)),
		"warn":            starlark.NewBuiltin("warn", messageBuiltin(zerolog.WarnLevel)),
		"error":           starlark.NewBuiltin("error", messageBuiltin(zerolog.ErrorLevel)),
		"resolve_path":    starlark.NewBuiltin("resolve_path", resolvePath),
		"option":          starlark.NewBuiltin("option", option),
		"getenv":          starlark.NewBuiltin("getenv", getenv),
		"setenv":          starlark.NewBuiltin("setenv", setenv),
		"prepend_path":    starlark.NewBuiltin("prepend_path", prependPathDir),
		"read_yaml":       starlark.NewBuiltin("read_yaml", readYaml),
		"isdir":           starlark.NewBuiltin("isdir", statBuiltin(os.FileInfo.IsDir)),
		"isfile":          starlark.NewBuiltin("isfile", statBuiltin(func(info os.FileInfo) bool { return info.Mode().IsRegular() })),
		"execute":         starlark.NewBuiltin("execute", starExec),
		"glob":            starlark.NewBuiltin("glob", starGlob),
		"task":            starlark.NewBuiltin("task", task),
		"paths":           starlark.NewBuiltin("paths", starPaths),
		"require_version": starlark.NewBuiltin("require_version", requireVersion),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	if options == nil {
		options = map[string]string{}
	}
	threadCtx := parserCtx{
		ctx:          ctx,
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      make(map[string]ScriptOption),
		optionValues: options,
		envOverrides: make(map[string]string),
		tasks:        make([]*Task, 0),
		yamlCache:    make(map[string]interface{}),
		paths:        make(map[paths.Category]paths.Entry),
		initPhase:    true,
	}
	thread.SetLocal("parserCtx", &threadCtx)

	script, err := os.ReadFile(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read file")
	}

	globals, err := starlark.ExecFile(thread, displayPath(&threadCtx, filename), script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.Errorf("failed to execute %s:\n%s", displayPath(&threadCtx, filename), evalError.Backtrace())
		}
		return nil, eris.Wrap(err, "failed to execute")
	}

	result := &Script{
		Tasks:   TaskList{},
		Options: threadCtx.options,
		Paths:   threadCtx.paths,
	}
	if doConfigure {
		configure, ok := globals["configure"]
		if !ok {
			return nil, eris.Errorf("%s did not declare a configure function", displayPath(&threadCtx, filename))
		}

		configureFunc, ok := configure.(starlark.Callable)
		if !ok {
			return nil, eris.Errorf("%s did declare a configure value but it's not a function", displayPath(&threadCtx, filename))
		}

		threadCtx.initPhase = false
		_, err = starlark.Call(thread, configureFunc, make(starlark.Tuple, 0), make([]starlark.Tuple, 0))
		if err != nil {
			if evalError, ok := err.(*starlark.EvalError); ok {
				return nil, eris.New(evalError.Backtrace())
			}
			return nil, eris.Wrapf(err, "failed configure call in %s", displayPath(&threadCtx, filename))
		}

		for _, task := range threadCtx.tasks {
			result.Tasks[task.Short] = task

			for name, value := range threadCtx.envOverrides {
				_, present := task.Env[name]
				if !present {
					task.Env[name] = value
				}
			}
		}
	}

	return result, nil
}

// Parse evaluates the task script at filename. The result is cached in cacheFile and reused as long as the
// script is older than the cache and the option values didn't change.
func Parse(ctx context.Context, filename, projectRoot, cacheFile string, options map[string]string) (*Script, error) {
	if options == nil {
		options = map[string]string{}
	}

	if cacheFile != "" {
		script, ok := readFreshCache(ctx, filename, cacheFile, options)
		if ok {
			return script, nil
		}
	}

	script, err := RunScript(ctx, filename, projectRoot, options, true)
	if err != nil {
		return nil, err
	}

	if cacheFile != "" {
		err = os.MkdirAll(filepath.Dir(cacheFile), 0770)
		if err == nil {
			err = WriteCache(cacheFile, options, script)
		}

		if err != nil {
			log(ctx).Warn().Err(err).Str("path", cacheFile).Msg("failed to write task cache")
		}
	}

	return script, nil
}

func readFreshCache(ctx context.Context, filename, cacheFile string, options map[string]string) (*Script, bool) {
	scriptInfo, err := os.Stat(filename)
	if err != nil {
		return nil, false
	}

	cacheInfo, err := os.Stat(cacheFile)
	if err != nil || !cacheInfo.ModTime().After(scriptInfo.ModTime()) {
		return nil, false
	}

	cachedOptions, script, err := ReadCache(cacheFile)
	if err != nil {
		log(ctx).Debug().Err(err).Msg("ignoring unreadable task cache")
		return nil, false
	}

	if !maps.Equal(cachedOptions, options) {
		return nil, false
	}

	log(ctx).Debug().Str("path", cacheFile).Msg("using cached task list")
	return script, true
}
