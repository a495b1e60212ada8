package buildsys

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/sitebuild/pkg/paths"
)

// Version is compared against require_version() constraints. It's overwritten at link time for releases.
var Version = "1.0.0"

type builtinFunc func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// resolve_path(part, ..., base = None) joins the parts (see normalizePath). With base, the result is relative
// to base.
func resolvePath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ctx := getCtx(thread)
	base := ""

	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		if key != "base" {
			return nil, eris.Errorf("%s: unexpected keyword argument %s", fn.Name(), key)
		}

		value, err := pathArg(fn.Name(), len(args), kv[1])
		if err != nil {
			return nil, err
		}
		base = normalizePath(ctx, value)
	}

	if len(args) < 1 {
		return nil, eris.Errorf("%s: expects at least one argument", fn.Name())
	}

	parts := make([]string, len(args))
	for idx, arg := range args {
		part, err := pathArg(fn.Name(), idx, arg)
		if err != nil {
			return nil, err
		}
		parts[idx] = part
	}

	result := normalizePath(ctx, parts...)
	if base != "" {
		rel, err := filepath.Rel(base, result)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: failed to relate %s to %s", fn.Name(), result, base)
		}
		result = rel
	}

	return StarlarkPath(result), nil
}

// messageBuiltin creates info(), warn() and error(). error() aborts the script.
func messageBuiltin(level zerolog.Level) builtinFunc {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var message string
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
			return nil, err
		}

		if level >= zerolog.ErrorLevel {
			return nil, eris.New(message)
		}

		ctx := getCtx(thread)
		log(ctx.ctx).WithLevel(level).Str("script", displayPath(ctx, ctx.filepath)).Msg(message)
		return starlark.None, nil
	}
}

func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}

	return starlark.String(getCtx(thread).lookupEnv(name)), nil
}

// setenv() changes the environment of every task declared by this script
func setenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, value string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &name, &value); err != nil {
		return nil, err
	}

	getCtx(thread).envOverrides[envKey(name)] = value
	return starlark.True, nil
}

func prependPathDir(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) != 1 || len(kwargs) != 0 {
		return nil, eris.Errorf("%s: expects exactly one argument", fn.Name())
	}

	dir, err := pathArg(fn.Name(), 0, args[0])
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	value := normalizePath(ctx, dir) + string(os.PathListSeparator) + ctx.lookupEnv("PATH")
	ctx.envOverrides[envKey("PATH")] = value

	return starlark.String(value), nil
}

func (ctx *parserCtx) loadYaml(file string) (interface{}, error) {
	if doc, ok := ctx.yamlCache[file]; ok {
		return doc, nil
	}

	content, err := os.ReadFile(file)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open file %s", displayPath(ctx, file))
	}

	var doc interface{}
	if err = yaml.Unmarshal(content, &doc); err != nil {
		return nil, eris.Wrapf(err, "failed to parse file %s", displayPath(ctx, file))
	}

	ctx.yamlCache[file] = doc
	return doc, nil
}

// read_yaml(file, key, default = None) returns the value at the dotted key
func readYaml(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var file, key string
	var defaultValue starlark.Value = starlark.None

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &file, &key, &defaultValue)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	doc, err := ctx.loadYaml(normalizePath(ctx, file))
	if err != nil {
		return nil, err
	}

	value, found, err := lookupKey(doc, key)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: failed to look up %s", fn.Name(), key)
	}

	if !found {
		return defaultValue, nil
	}

	return toStarlark(value)
}

// statBuiltin creates isdir() and isfile()
func statBuiltin(check func(os.FileInfo) bool) builtinFunc {
	return func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) != 1 || len(kwargs) != 0 {
			return nil, eris.Errorf("%s: expects exactly one argument", fn.Name())
		}

		path, err := pathArg(fn.Name(), 0, args[0])
		if err != nil {
			return nil, err
		}

		info, err := os.Stat(normalizePath(getCtx(thread), path))
		return starlark.Bool(err == nil && check(info)), nil
	}
}

// glob(pattern, ...) lists the files matching the patterns, relative to the script's directory
func starGlob(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) != 0 {
		return nil, eris.Errorf("%s: doesn't accept keyword arguments", fn.Name())
	}

	ctx := getCtx(thread)
	patterns := make([]string, len(args))
	for idx, arg := range args {
		pattern, err := pathArg(fn.Name(), idx, arg)
		if err != nil {
			return nil, err
		}

		if strings.HasPrefix(pattern, "//") {
			pattern = filepath.ToSlash(ctx.projectRoot) + "/" + pattern[2:]
		}
		patterns[idx] = pattern
	}

	files, err := paths.Resolve(filepath.Dir(ctx.filepath), patterns...)
	if err != nil {
		return nil, err
	}

	items := make([]starlark.Value, len(files))
	for idx, file := range files {
		items[idx] = StarlarkPath(file)
	}

	return starlark.NewList(items), nil
}

func commandNodes(fnName string, command starlark.Value, base string) ([]syntax.Node, error) {
	switch command := command.(type) {
	case starlark.String:
		stmts, err := TaskCmdScript{TaskName: fnName, Content: command.GoString()}.ToShellStmts(syntax.NewParser())
		if err != nil {
			return nil, err
		}

		nodes := make([]syntax.Node, len(stmts))
		for idx, stmt := range stmts {
			nodes[idx] = stmt
		}
		return nodes, nil
	case starlark.Tuple:
		call, err := commandCall(command, base)
		if err != nil {
			return nil, eris.Wrap(err, fnName)
		}
		return []syntax.Node{call}, nil
	default:
		return nil, eris.Errorf("%s: command must be a string or tuple, got %s", fnName, command.Type())
	}
}

// execute(command, format = "text", show_error = False) runs a command while the script is evaluated and
// returns its output. The json and yaml formats decode the output. Failing commands return False.
func starExec(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var command starlark.Value
	format := "text"
	showError := false

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "command", &command, "format?", &format, "show_error?", &showError)
	if err != nil {
		return nil, err
	}

	switch format {
	case "text", "json", "yaml":
	default:
		return nil, eris.Errorf("%s: unsupported format %s", fn.Name(), format)
	}

	ctx := getCtx(thread)
	base := filepath.Dir(ctx.filepath)
	nodes, err := commandNodes(fn.Name(), command, base)
	if err != nil {
		return nil, err
	}

	var output strings.Builder
	var errOut io.Writer = io.Discard
	if showError {
		errOut = os.Stderr
	}

	runner, err := interp.New(
		interp.Dir(base),
		interp.Env(expand.ListEnviron(mergeEnv(os.Environ(), ctx.envOverrides)...)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, &output, errOut),
		interp.Params("-e"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize runner")
	}

	for _, node := range nodes {
		if err = runner.Run(ctx.ctx, node); err != nil {
			if showError {
				log(ctx.ctx).Error().Err(err).Msg("shell error")
			}
			return starlark.False, nil
		}
	}

	var decoded interface{}
	switch format {
	case "json":
		err = json.Unmarshal([]byte(output.String()), &decoded)
	case "yaml":
		err = yaml.Unmarshal([]byte(output.String()), &decoded)
	default:
		return starlark.String(output.String()), nil
	}

	if err != nil {
		return nil, eris.Wrapf(err, "%s: failed to parse command output as %s", fn.Name(), format)
	}

	return toStarlark(decoded)
}

// paths(category, src = ..., watch = ..., dest = ...) overrides parts of the path table
func starPaths(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var category string
	var entry paths.Entry

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "category", &category, "src?", &entry.Src,
		"watch?", &entry.Watch, "dest?", &entry.Dest)
	if err != nil {
		return nil, err
	}

	cat := paths.Category(category)
	if !isCategory(cat) {
		return nil, eris.Errorf("%s: unknown category %s", fn.Name(), category)
	}

	ctx := getCtx(thread)
	current := ctx.paths[cat]
	for _, field := range []struct {
		dst *string
		src string
	}{
		{&current.Src, entry.Src},
		{&current.Watch, entry.Watch},
		{&current.Dest, entry.Dest},
	} {
		if field.src != "" {
			*field.dst = field.src
		}
	}
	ctx.paths[cat] = current

	return starlark.None, nil
}

func isCategory(cat paths.Category) bool {
	for _, item := range paths.Categories {
		if item == cat {
			return true
		}
	}
	return false
}

func requireVersion(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var constraint string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &constraint); err != nil {
		return nil, err
	}

	check, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid version constraint %s", constraint)
	}

	current, err := semver.NewVersion(Version)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid tool version %s", Version)
	}

	if !check.Check(current) {
		return nil, eris.Errorf("this project requires sitebuild %s but this is version %s", constraint, Version)
	}

	return starlark.True, nil
}
