package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, file := range files {
		full := filepath.Join(root, filepath.FromSlash(file))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(file), 0o644))
	}
}

func TestBase(t *testing.T) {
	tests := map[string]string{
		"src/*.html":                        "src/",
		"src/assets/js/*.js":                "src/assets/js/",
		"src/assets/images/**/*.{png,jpg}":  "src/assets/images/",
		"*.html":                            "./",
		"src/index.html":                    "src/",
		"src/assets/fonts/**/*.{eot,woff2}": "src/assets/fonts/",
	}

	for glob, want := range tests {
		assert.Equal(t, want, Base(glob), glob)
	}
}

func TestDefault(t *testing.T) {
	table := Default("/project", "src", "dist/")

	css, err := table.Get(CSS)
	require.NoError(t, err)
	assert.Equal(t, Entry{
		Src:   "src/assets/sass/*.scss",
		Watch: "src/assets/sass/**/*.scss",
		Dest:  "dist/assets/css/",
	}, css)

	html, err := table.Get(HTML)
	require.NoError(t, err)
	assert.Equal(t, "dist/", html.Dest)

	_, err = table.Get("videos")
	assert.Error(t, err)
}

func TestOverride(t *testing.T) {
	table := Default("/project", "src", "dist")
	require.NoError(t, table.Override(JS, Entry{Dest: "public/js"}))

	js, err := table.Get(JS)
	require.NoError(t, err)
	assert.Equal(t, "src/assets/js/*.js", js.Src)
	assert.Equal(t, "public/js/", js.Dest)

	assert.Error(t, table.Override("videos", Entry{Src: "x"}))
}

func TestOutputPath(t *testing.T) {
	root := t.TempDir()
	table := Default(root, "src", "dist")

	out, err := table.OutputPath(Images, filepath.Join(root, "src", "assets", "images", "icons", "logo.svg"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "dist", "assets", "images", "icons", "logo.svg"), out)

	out, err = table.OutputPath(HTML, "src/index.html")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "dist", "index.html"), out)

	_, err = table.OutputPath(CSS, filepath.Join(root, "elsewhere", "main.scss"))
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	touch(t, root,
		"src/index.html",
		"src/about.html",
		"src/tpl/layouts/default.html",
		"src/assets/images/logo.png",
		"src/assets/images/icons/menu.svg",
		"src/assets/images/icons/deep/a.jpg",
		"src/assets/images/readme.txt",
		"src/assets/fonts/roboto.woff2",
	)

	table := Default(root, "src", "dist")

	html, err := table.Sources(HTML)
	require.NoError(t, err)
	want := []string{
		filepath.Join(root, "src", "about.html"),
		filepath.Join(root, "src", "index.html"),
	}
	if diff := cmp.Diff(want, html); diff != "" {
		t.Errorf("html sources mismatch (-want +got):\n%s", diff)
	}

	images, err := table.Sources(Images)
	require.NoError(t, err)
	want = []string{
		filepath.Join(root, "src", "assets", "images", "icons", "deep", "a.jpg"),
		filepath.Join(root, "src", "assets", "images", "icons", "menu.svg"),
		filepath.Join(root, "src", "assets", "images", "logo.png"),
	}
	if diff := cmp.Diff(want, images); diff != "" {
		t.Errorf("image sources mismatch (-want +got):\n%s", diff)
	}

	js, err := table.Sources(JS)
	require.NoError(t, err)
	assert.Empty(t, js)
}

func TestResolveDeduplicates(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a/x.js", "a/y.js")

	files, err := Resolve(root, "a/*.js", "a/x.js", "a/missing.js")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a", "x.js"),
		filepath.Join(root, "a", "y.js"),
	}, files)
}

func TestResolveRootWithSpaces(t *testing.T) {
	root := filepath.Join(t.TempDir(), "my site")
	touch(t, root, "src/index.html")

	files, err := Resolve(root, "src/*.html")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "src", "index.html")}, files)
}

func TestMatch(t *testing.T) {
	table := Default("/project", "src", "dist")

	tests := []struct {
		cat  Category
		path string
		want bool
	}{
		{HTML, "src/index.html", true},
		{HTML, "src/tpl/partials/nav.html", true},
		{HTML, "src/assets/sass/app.scss", false},
		{CSS, "src/assets/sass/components/_button.scss", true},
		{JS, "src/assets/js/lib/util.js", true},
		{Images, "src/assets/images/icons/logo.svg", true},
		{Images, "src/assets/images/notes.txt", false},
		{Fonts, "src/assets/fonts/sans.woff2", true},
	}

	for _, tt := range tests {
		pattern, err := table.WatchPattern(tt.cat)
		require.NoError(t, err)

		ok, err := Match(pattern, tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "%s: %s", tt.cat, tt.path)
	}
}

func TestResolveGlobCharactersInNames(t *testing.T) {
	root := filepath.Join(t.TempDir(), "site [draft]")
	touch(t, root,
		"src/assets/images/logo.png",
		"src/assets/images/photo[1].jpg",
		"src/assets/images/what?.svg",
		"src/assets/images/sub/x.svg",
	)

	images, err := Default(root, "src", "dist").Sources(Images)
	require.NoError(t, err)

	want := []string{
		filepath.Join(root, "src", "assets", "images", "logo.png"),
		filepath.Join(root, "src", "assets", "images", "photo[1].jpg"),
		filepath.Join(root, "src", "assets", "images", "sub", "x.svg"),
		filepath.Join(root, "src", "assets", "images", "what?.svg"),
	}
	if diff := cmp.Diff(want, images); diff != "" {
		t.Errorf("image sources mismatch (-want +got):\n%s", diff)
	}

	files, err := Resolve(root, "src/assets/images/*.gif")
	require.NoError(t, err)
	assert.Empty(t, files)
}
