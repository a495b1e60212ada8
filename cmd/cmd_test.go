package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func execute(t *testing.T, args ...string) error {
	t.Helper()

	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestSplitArgs(t *testing.T) {
	tasks, options := splitArgs([]string{"build", "target=prod", "deploy", "empty="})
	assert.Equal(t, []string{"build", "deploy"}, tasks)
	assert.Equal(t, map[string]string{"target": "prod", "empty": ""}, options)
}

func TestConsoleWriter(t *testing.T) {
	var out bytes.Buffer
	w := &ConsoleWriter{Out: &out, Root: "/project"}

	logger := zerolog.New(w)
	logger.Info().Str("task", "css").Msg("compiled /project/src/assets/sass/app.scss")
	logger.Warn().Msg("careful")

	assert.Contains(t, out.String(), "css: compiled src/assets/sass/app.scss")
	assert.Contains(t, out.String(), "careful")
	assert.NotContains(t, out.String(), "[green]")
}

func TestBuildCommand(t *testing.T) {
	root := writeProject(t, map[string]string{
		"sitebuild.toml":               "[images]\ncache = false\n[notify]\ndesktop = false\n",
		"src/tpl/layouts/default.html": "<body>{{> body}}</body>",
		"src/index.html":               "---\ntitle: Home\n---\n<h1>{{title}}</h1>",
		"src/assets/js/app.js":         "var app = true;\n",
		"src/assets/fonts/sans.woff":   "font",
		"dist/stale.html":              "old",
	})

	require.NoError(t, execute(t, "build", "--root", root))

	index, err := os.ReadFile(filepath.Join(root, "dist", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<body><h1>Home</h1></body>", string(index))

	assert.FileExists(t, filepath.Join(root, "dist", "assets", "js", "app.min.js"))
	assert.FileExists(t, filepath.Join(root, "dist", "assets", "fonts", "sans.woff"))
	assert.NoFileExists(t, filepath.Join(root, "dist", "stale.html"))
}

func TestScriptTask(t *testing.T) {
	root := writeProject(t, map[string]string{
		"sitebuild.toml": "[images]\ncache = false\n",
		"tasks.star": `
def configure():
    task(
        short = "greet",
        desc = "Writes a greeting",
        cmds = ["echo hello > greeting.txt"],
    )
`,
	})

	require.NoError(t, execute(t, "greet", "--root", root))

	content, err := os.ReadFile(filepath.Join(root, "greeting.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(content))
}

func TestUnknownTask(t *testing.T) {
	root := writeProject(t, map[string]string{
		"sitebuild.toml": "[images]\ncache = false\n",
	})

	err := execute(t, "nope", "--root", root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestPosixHelpers(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, makeDirs([]string{filepath.Join(dir, "a", "b")}, true))
	assert.Error(t, makeDirs([]string{filepath.Join(dir, "x", "y")}, false))

	file := filepath.Join(dir, "a", "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	require.NoError(t, movePaths([]string{file}, filepath.Join(dir, "a", "b")))
	assert.FileExists(t, filepath.Join(dir, "a", "b", "file.txt"))

	require.NoError(t, movePaths([]string{filepath.Join(dir, "a", "b", "file.txt")}, filepath.Join(dir, "renamed.txt")))
	assert.FileExists(t, filepath.Join(dir, "renamed.txt"))

	assert.Error(t, removePaths([]string{filepath.Join(dir, "a")}, false, false))
	require.NoError(t, removePaths([]string{filepath.Join(dir, "a"), filepath.Join(dir, "missing")}, true, true))
	assert.NoDirExists(t, filepath.Join(dir, "a"))
}
