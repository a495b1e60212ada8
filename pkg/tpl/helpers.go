package tpl

import (
	"bytes"
	"html"
	"strconv"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/yuin/goldmark"
)

// builtinHelpers returns the helpers available on every page. Some of them depend on the page being rendered.
func builtinHelpers(pageName string) map[string]interface{} {
	inPages := func(list string) bool {
		for _, item := range strings.Split(list, ",") {
			if strings.TrimSpace(item) == pageName {
				return true
			}
		}
		return false
	}

	return map[string]interface{}{
		// {{#ifequal a b}}...{{else}}...{{/ifequal}}
		"ifequal": func(a, b interface{}, options *raymond.Options) raymond.SafeString {
			if raymond.Str(a) == raymond.Str(b) {
				return raymond.SafeString(options.Fn())
			}
			return raymond.SafeString(options.Inverse())
		},
		// {{#ifpage "index,about"}}...{{/ifpage}}
		"ifpage": func(pages string, options *raymond.Options) raymond.SafeString {
			if inPages(pages) {
				return raymond.SafeString(options.Fn())
			}
			return raymond.SafeString(options.Inverse())
		},
		"unlesspage": func(pages string, options *raymond.Options) raymond.SafeString {
			if !inPages(pages) {
				return raymond.SafeString(options.Fn())
			}
			return raymond.SafeString(options.Inverse())
		},
		// {{#repeat 3}}<li></li>{{/repeat}}
		"repeat": func(count interface{}, options *raymond.Options) raymond.SafeString {
			n, err := strconv.Atoi(raymond.Str(count))
			if err != nil || n < 0 {
				n = 0
			}

			var buf strings.Builder
			for i := 0; i < n; i++ {
				buf.WriteString(options.Fn())
			}
			return raymond.SafeString(buf.String())
		},
		"markdown": func(options *raymond.Options) raymond.SafeString {
			return raymond.SafeString(renderMarkdown(options.Fn()))
		},
		// {{#code "html"}}<p>raw</p>{{/code}}
		"code": func(lang string, options *raymond.Options) raymond.SafeString {
			body := strings.Trim(options.Fn(), "\n")
			class := ""
			if lang != "" {
				class = ` class="language-` + html.EscapeString(lang) + `"`
			}

			return raymond.SafeString("<pre><code" + class + ">" + html.EscapeString(body) + "</code></pre>")
		},
	}
}

func renderMarkdown(source string) string {
	var buf bytes.Buffer
	err := goldmark.Convert([]byte(dedent(source)), &buf)
	if err != nil {
		panic(err)
	}

	return buf.String()
}

// dedent strips the indentation shared by all non-empty lines. Block bodies usually follow the indentation of
// the surrounding HTML which markdown would treat as code blocks.
func dedent(source string) string {
	lines := strings.Split(source, "\n")
	prefix := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		if prefix < 0 || indent < prefix {
			prefix = indent
		}
	}

	if prefix <= 0 {
		return source
	}

	for i, line := range lines {
		if len(line) >= prefix {
			lines[i] = line[prefix:]
		} else {
			lines[i] = strings.TrimLeft(line, " \t")
		}
	}

	return strings.Join(lines, "\n")
}
