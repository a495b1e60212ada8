package buildsys

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// normalizePath joins the parts into an absolute path. "//foo" starts at the project root, "/foo" is absolute
// and relative parts continue from the previous result, which starts at the script's directory.
func normalizePath(ctx *parserCtx, parts ...string) string {
	result := filepath.Dir(ctx.filepath)

	for _, part := range parts {
		switch {
		case strings.HasPrefix(part, "//"):
			result = filepath.Join(ctx.projectRoot, filepath.FromSlash(part[2:]))
		case filepath.IsAbs(part):
			result = part
		case strings.HasPrefix(part, "/"):
			result = filepath.Join(filepath.VolumeName(result), part)
		default:
			result = filepath.Join(result, filepath.FromSlash(part))
		}
	}

	return filepath.Clean(result)
}

// displayPath is the inverse of normalizePath for messages: paths inside the project are shown as //rel/path
func displayPath(ctx *parserCtx, path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	rel, err := filepath.Rel(ctx.projectRoot, absPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return path
	}

	return "//" + filepath.ToSlash(rel)
}

// pathArg accepts both plain strings and the values returned by resolve_path()
func pathArg(fnName string, idx int, value starlark.Value) (string, error) {
	switch value := value.(type) {
	case starlark.String:
		return value.GoString(), nil
	case StarlarkPath:
		return string(value), nil
	default:
		return "", eris.Errorf("%s: argument %d must be a string or path, got %s", fnName, idx+1, value.Type())
	}
}

func envKey(name string) string {
	if runtime.GOOS == "windows" {
		return strings.ToUpper(name)
	}
	return name
}

// lookupEnv checks the script's overrides before the process environment
func (ctx *parserCtx) lookupEnv(name string) string {
	if value, ok := ctx.envOverrides[envKey(name)]; ok {
		return value
	}
	return os.Getenv(name)
}

// mergeEnv returns environ with the overrides applied. Overridden entries are replaced, not duplicated.
func mergeEnv(environ []string, overrides map[string]string) []string {
	result := make([]string, 0, len(environ)+len(overrides))
	for _, item := range environ {
		name := item
		if pos := strings.IndexByte(item, '='); pos > -1 {
			name = item[:pos]
		}

		if _, present := overrides[envKey(name)]; !present {
			result = append(result, item)
		}
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		result = append(result, name+"="+overrides[name])
	}

	return result
}

// toStarlark converts decoded YAML or JSON documents
func toStarlark(value interface{}) (starlark.Value, error) {
	switch value := value.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return value, nil
	case string:
		return starlark.String(value), nil
	case bool:
		return starlark.Bool(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case int64:
		return starlark.MakeInt64(value), nil
	case uint64:
		return starlark.MakeUint64(value), nil
	case float64:
		return starlark.Float(value), nil
	case time.Time:
		return starlark.String(value.Format(time.RFC3339)), nil
	case []string:
		items := make([]starlark.Value, len(value))
		for idx, item := range value {
			items[idx] = starlark.String(item)
		}
		return starlark.NewList(items), nil
	case []interface{}:
		items := make([]starlark.Value, len(value))
		for idx, item := range value {
			converted, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			items[idx] = converted
		}
		return starlark.NewList(items), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(value))
		for _, key := range sortedKeys(value) {
			converted, err := toStarlark(value[key])
			if err != nil {
				return nil, err
			}

			if err = dict.SetKey(starlark.String(key), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]string:
		dict := starlark.NewDict(len(value))
		for k, v := range value {
			if err := dict.SetKey(starlark.String(k), starlark.String(v)); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}

	return nil, eris.Errorf("can't convert values of type %T", value)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// lookupKey follows a dotted key ("site.nav.0.title") through maps and lists. The second return value is false
// if any segment is missing.
func lookupKey(doc interface{}, key string) (interface{}, bool, error) {
	current := doc
	for _, segment := range strings.Split(key, ".") {
		switch value := current.(type) {
		case map[string]interface{}:
			next, ok := value[segment]
			if !ok {
				return nil, false, nil
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(value) {
				return nil, false, nil
			}
			current = value[idx]
		case nil:
			return nil, false, nil
		default:
			return nil, false, eris.Errorf("can't look up %s in a value of type %T", segment, current)
		}
	}

	return current, current != nil, nil
}
