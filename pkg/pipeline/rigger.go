package pipeline

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// matches "//= file.js" and "//= include file.js", the indentation is applied to the included lines
var includeDirective = regexp.MustCompile(`^(\s*)//=\s*(?:include\s+)?(\S.*?)\s*$`)

// Rig resolves the include directives in content. Paths are relative to the including file. Included files may
// include other files but a file must not include itself (directly or indirectly).
func Rig(path string, content []byte) ([]byte, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	return rig(abs, content, []string{abs})
}

func rig(path string, content []byte, stack []string) ([]byte, error) {
	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if !first {
			out.WriteByte('\n')
		}
		first = false

		match := includeDirective.FindStringSubmatch(line)
		if match == nil {
			out.WriteString(line)
			continue
		}

		indent := match[1]
		target := strings.Trim(match[2], `"'`)
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), filepath.FromSlash(target))
		}

		for _, parent := range stack {
			if parent == target {
				return nil, eris.Errorf("%s includes itself (%s)", target, strings.Join(append(stack, target), " -> "))
			}
		}

		included, err := os.ReadFile(target)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to include %s in %s", match[2], path)
		}

		included, err = rig(target, included, append(stack, target))
		if err != nil {
			return nil, err
		}

		included = bytes.TrimRight(included, "\r\n")
		if indent != "" {
			lines := strings.Split(string(included), "\n")
			for idx, l := range lines {
				if l != "" {
					lines[idx] = indent + l
				}
			}
			included = []byte(strings.Join(lines, "\n"))
		}

		out.Write(included)
	}

	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", path)
	}

	if bytes.HasSuffix(content, []byte("\n")) {
		out.WriteByte('\n')
	}

	return out.Bytes(), nil
}
