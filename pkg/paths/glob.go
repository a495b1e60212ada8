package paths

import (
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar"
	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

var shellEscaper = strings.NewReplacer(
	`\`, `\\`, ` `, `\ `, `$`, `\$`, `'`, `\'`, `"`, `\"`, "`", "\\`", `(`, `\(`, `)`, `\)`,
	`&`, `\&`, `;`, `\;`, `|`, `\|`, `<`, `\<`, `>`, `\>`, `#`, `\#`, `{`, `\{`, `}`, `\}`,
	`*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`,
)

func shellReadDir(dir string) ([]os.FileInfo, error) {
	if dir == "" {
		dir = "."
	}

	return ioutil.ReadDir(dir)
}

// toShellPattern anchors a glob at root and escapes its static prefix so the shell parser treats it as a
// single word.
func toShellPattern(root, pattern string) string {
	pattern = filepath.ToSlash(pattern)
	static := Base(pattern)
	rest := pattern
	if static != "./" {
		rest = strings.TrimPrefix(pattern, static)
	} else {
		static = ""
	}

	if !path.IsAbs(static) && !filepath.IsAbs(pattern) {
		static = path.Join(filepath.ToSlash(root), static) + "/"
	}

	return shellEscaper.Replace(static) + rest
}

// Resolve expands the given globs relative to root. It supports ** (any number of directories) and {a,b}
// alternatives. The result is sorted, contains no duplicates and only lists existing regular files.
func Resolve(root string, patterns ...string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		ReadDir:  shellReadDir,
		GlobStar: true,
	}
	parser := syntax.NewParser()

	for _, pattern := range patterns {
		item := toShellPattern(root, pattern)

		words := make([]*syntax.Word, 0)
		err := parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse pattern %s", pattern)
		}

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", pattern)
		}

		// A pattern without matches comes back unexpanded. The stat below drops it since no such file exists,
		// while real names containing glob characters are kept.
		for _, match := range matches {
			match = filepath.Clean(filepath.FromSlash(match))
			info, err := os.Stat(match)
			if err != nil {
				if eris.Is(err, os.ErrNotExist) {
					continue
				}
				return nil, eris.Wrapf(err, "failed to check %s", match)
			}

			if info.Mode().IsRegular() {
				result = append(result, match)
			}
		}
	}

	return sortUnique(result), nil
}

// Match reports whether the slash separated path (relative to the project root) matches the glob. It supports
// the same syntax as Resolve.
func Match(pattern, name string) (bool, error) {
	ok, err := doublestar.Match(filepath.ToSlash(pattern), filepath.ToSlash(name))
	if err != nil {
		return false, eris.Wrapf(err, "invalid pattern %s", pattern)
	}

	return ok, nil
}
