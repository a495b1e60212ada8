package tpl

import (
	"bytes"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

var fmDelim = []byte("---")

// SplitFrontMatter separates a leading YAML block delimited by "---" lines from the page body. Pages without
// front matter return an empty map and the unchanged content.
func SplitFrontMatter(content []byte) (map[string]interface{}, []byte, error) {
	data := map[string]interface{}{}

	rest := bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if !bytes.HasPrefix(rest, fmDelim) {
		return data, content, nil
	}

	firstLine, rest := cutLine(rest[len(fmDelim):])
	if len(bytes.TrimSpace(firstLine)) > 0 {
		// "---foo" isn't a delimiter
		return data, content, nil
	}

	var header []byte
	for len(rest) > 0 {
		var line []byte
		line, rest = cutLine(rest)

		if bytes.Equal(bytes.TrimRight(line, " \t\r"), fmDelim) {
			err := yaml.Unmarshal(header, &data)
			if err != nil {
				return nil, nil, eris.Wrap(err, "failed to parse front matter")
			}

			if data == nil {
				data = map[string]interface{}{}
			}
			return data, rest, nil
		}

		header = append(header, line...)
		header = append(header, '\n')
	}

	return nil, nil, eris.New("front matter is missing its closing ---")
}

func cutLine(content []byte) ([]byte, []byte) {
	idx := bytes.IndexByte(content, '\n')
	if idx < 0 {
		return content, nil
	}

	return content[:idx], content[idx+1:]
}
