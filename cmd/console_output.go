package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// DebugEnv enables full error traces and prints every field of a log event
const DebugEnv = "SITEBUILD_DEBUG"

var levelColors = map[string]string{
	"panic": "[red]",
	"fatal": "[red]",
	"error": "[red]",
	"warn":  "[yellow]",
	"debug": "[blue]",
	"trace": "[blue]",
}

func debugEnabled() bool {
	return os.Getenv(DebugEnv) != ""
}

// ConsoleWriter turns zerolog's JSON events into colored "task: message" lines
type ConsoleWriter struct {
	Out io.Writer
	// Root is stripped from paths in messages
	Root string

	lock sync.Mutex
}

func NewConsoleWriter(root string) *ConsoleWriter {
	return &ConsoleWriter{Out: os.Stderr, Root: root}
}

func (w *ConsoleWriter) shorten(msg string) string {
	if w.Root == "" {
		return msg
	}
	return strings.ReplaceAll(msg, w.Root+string(filepath.Separator), "")
}

func (w *ConsoleWriter) format(evt map[string]interface{}) string {
	var line strings.Builder

	level, _ := evt["level"].(string)
	color, ok := levelColors[level]
	if !ok {
		color = "[green]"
	}
	line.WriteString(color)

	if task, ok := evt["task"].(string); ok {
		line.WriteString(task)
		line.WriteString(": ")
	}

	if level == "error" {
		line.WriteString("Error: ")
	}

	msg, _ := evt["message"].(string)
	line.WriteString(w.shorten(msg))

	if details, ok := evt["error"].(string); ok {
		line.WriteString("\n")
		line.WriteString(details)
	}

	if debugEnabled() {
		names := make([]string, 0, len(evt))
		for name := range evt {
			names = append(names, name)
		}
		sort.Strings(names)

		line.WriteString("\n")
		for _, name := range names {
			fmt.Fprintf(&line, "  %s: %v\n", name, evt[name])
		}
	}

	line.WriteString("[reset]\n")
	return line.String()
}

func (w *ConsoleWriter) Write(p []byte) (int, error) {
	var evt map[string]interface{}
	decoder := json.NewDecoder(bytes.NewReader(p))
	decoder.UseNumber()
	if err := decoder.Decode(&evt); err != nil {
		return 0, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	line := w.format(evt)

	w.lock.Lock()
	defer w.lock.Unlock()

	if _, err := colorstring.Fprint(w.Out, line); err != nil {
		return 0, err
	}
	return len(p), nil
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, debugEnabled())
	}
}
