package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/sitebuild/pkg/buildsys"
	"github.com/ngld/sitebuild/pkg/config"
	"github.com/ngld/sitebuild/pkg/notify"
	"github.com/ngld/sitebuild/pkg/paths"
	"github.com/ngld/sitebuild/pkg/store"
)

type reloadRecorder struct {
	paths []string
}

func (r *reloadRecorder) Reload(paths ...string) {
	r.paths = append(r.paths, paths...)
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Src:  "src",
		Dist: "dist",
	}
	cfg.Build.Workers = 2
	cfg.Sass.Precision = 5
	cfg.Images.JPEGQuality = 75
	cfg.Images.PNGLevel = "best"
	return cfg
}

func newTestBuilder(t *testing.T, files map[string]string) (*Builder, *notify.Recorder, *reloadRecorder) {
	t.Helper()

	root := t.TempDir()
	writeTestFiles(t, root, files)

	cfg := testConfig()
	rec := &notify.Recorder{}
	reloads := &reloadRecorder{}

	b := New(cfg, paths.Default(root, cfg.Src, cfg.Dist), rec)
	b.Reloader = reloads
	return b, rec, reloads
}

func readOutput(t *testing.T, b *Builder, rel string) string {
	t.Helper()

	content, err := os.ReadFile(filepath.Join(b.Table.Root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(content)
}

func TestRootPath(t *testing.T) {
	root := filepath.FromSlash("/site/dist")
	assert.Equal(t, "", rootPath(root, root))
	assert.Equal(t, "../", rootPath(root, filepath.Join(root, "blog")))
	assert.Equal(t, "../../", rootPath(root, filepath.Join(root, "blog", "2021")))
}

func TestIsWithin(t *testing.T) {
	assert.True(t, isWithin("/a", "/a"))
	assert.True(t, isWithin("/a", "/a/b"))
	assert.False(t, isWithin("/a", "/ab"))
	assert.False(t, isWithin("/a/b", "/a"))
}

func TestClean(t *testing.T) {
	b, _, _ := newTestBuilder(t, map[string]string{
		"dist/index.html": "old",
		"src/index.html":  "new",
	})

	require.NoError(t, b.Clean(context.Background()))
	assert.NoDirExists(t, filepath.Join(b.Table.Root, "dist"))
	assert.FileExists(t, filepath.Join(b.Table.Root, "src", "index.html"))
}

func TestCleanRefusesProjectRoot(t *testing.T) {
	b, _, _ := newTestBuilder(t, map[string]string{"src/index.html": "x"})

	b.Cfg.Dist = "."
	err := b.Clean(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project root")

	b.Cfg.Src = "site/src"
	b.Cfg.Dist = "site"
	err = b.Clean(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source directory")
	assert.FileExists(t, filepath.Join(b.Table.Root, "src", "index.html"))
}

func TestFonts(t *testing.T) {
	b, _, reloads := newTestBuilder(t, map[string]string{
		"src/assets/fonts/sans/regular.woff2": "font",
		"src/assets/fonts/readme.txt":         "skip",
	})

	require.NoError(t, b.Fonts(context.Background()))
	assert.Equal(t, "font", readOutput(t, b, "dist/assets/fonts/sans/regular.woff2"))
	assert.NoFileExists(t, filepath.Join(b.Table.Root, "dist", "assets", "fonts", "readme.txt"))
	assert.Len(t, reloads.paths, 1)
}

func TestJSWatch(t *testing.T) {
	b, _, reloads := newTestBuilder(t, map[string]string{
		"src/assets/js/a.js":          "//= lib/helper.js\nvar a = 1;",
		"src/assets/js/b.js":          "var b = 2;",
		"src/assets/js/lib/helper.js": "function helper() {}\n",
	})

	require.NoError(t, b.JSWatch(context.Background()))
	assert.Equal(t, "function helper() {}\nvar a = 1;\nvar b = 2;", readOutput(t, b, "dist/assets/js/"+ScriptBundle))
	assert.Equal(t, []string{filepath.Join(b.Table.Root, "dist", "assets", "js", ScriptBundle)}, reloads.paths)
}

func TestJS(t *testing.T) {
	b, _, _ := newTestBuilder(t, map[string]string{
		"src/assets/js/a.js": "function   add(first, second) {\n    return first + second;\n}\n",
		"src/assets/js/b.js": "add(1, 2);\n",
	})

	require.NoError(t, b.JS(context.Background()))

	assert.Equal(t, "add(1, 2);\n", readOutput(t, b, "dist/assets/js/b.js"))

	bundle := readOutput(t, b, "dist/assets/js/"+ScriptBundle)
	assert.NotContains(t, bundle, "    ")
	assert.True(t, strings.HasSuffix(bundle, ";"))
}

func TestCSS(t *testing.T) {
	b, _, _ := newTestBuilder(t, map[string]string{
		"src/assets/sass/app.scss":     "@import 'colors';\na { color: $primary; user-select: none; }\n",
		"src/assets/sass/_colors.scss": "$primary: red;\n",
		"src/assets/sass/print.scss":   "b { display: none; }\n",
	})

	require.NoError(t, b.CSS(context.Background()))

	expanded := readOutput(t, b, "dist/assets/css/app.css")
	assert.Contains(t, expanded, "color: red;")
	assert.NoFileExists(t, filepath.Join(b.Table.Root, "dist", "assets", "css", "_colors.css"))

	bundle := readOutput(t, b, "dist/assets/css/"+StyleBundle)
	assert.Contains(t, bundle, "-webkit-user-select:none;-moz-user-select:none;-ms-user-select:none;user-select:none")
	assert.NotContains(t, bundle, "  ")
	assert.Contains(t, bundle, "color:red")
	assert.Contains(t, bundle, "display:none")
}

func TestCSSWatchReportsErrors(t *testing.T) {
	b, rec, _ := newTestBuilder(t, map[string]string{
		"src/assets/sass/app.scss": "a { color: $missing; }\n",
	})

	list := buildsys.TaskList{}
	b.Register(list)

	require.NoError(t, list[TaskCSSWatch].Action(context.Background()))
	assert.True(t, strings.HasPrefix(rec.Last(), notify.TitleSCSS+": Error: "), rec.Last())
	assert.Contains(t, rec.Last(), "missing")
}

func TestPlumb(t *testing.T) {
	b, rec, _ := newTestBuilder(t, nil)

	failing := b.plumb(notify.TitleJS, func(context.Context) error {
		return errors.New("unexpected token")
	})

	require.NoError(t, failing(context.Background()))
	assert.Equal(t, "JS Error: Error: unexpected token", rec.Last())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, failing(ctx), context.Canceled)
	assert.Len(t, rec.Messages, 1)
}

func TestHTML(t *testing.T) {
	b, _, reloads := newTestBuilder(t, map[string]string{
		"src/tpl/layouts/default.html": "<html><head><title>{{title}}</title></head><body>{{> nav}}{{> body}}</body></html>",
		"src/tpl/partials/nav.html":    `<nav>{{#ifpage "index"}}home{{else}}other{{/ifpage}}</nav>`,
		"src/index.html":               "---\ntitle: Home\n---\n<main>{{root}}assets</main>",
		"src/about.html":               "---\nlayout: none\n---\n<p>about</p>",
	})

	require.NoError(t, b.HTML(context.Background()))

	assert.Equal(t,
		"<html><head><title>Home</title></head><body><nav>home</nav><main>assets</main></body></html>",
		readOutput(t, b, "dist/index.html"))
	assert.Equal(t, "<p>about</p>", readOutput(t, b, "dist/about.html"))
	assert.Len(t, reloads.paths, 2)
}

func TestRegister(t *testing.T) {
	b, _, _ := newTestBuilder(t, nil)
	b.Cfg.Build.Precompress = true

	list := buildsys.TaskList{}
	b.Register(list)
	require.NoError(t, list.Validate())

	build := list[TaskBuild]
	require.NotNil(t, build)
	require.Len(t, build.Deps, 1)

	series := list[build.Deps[0]]
	require.NotNil(t, series)
	assert.False(t, series.Parallel)
	require.Len(t, series.Deps, 3)
	assert.Equal(t, TaskClean, series.Deps[0])
	assert.Equal(t, "precompress", series.Deps[2])

	parallel := list[series.Deps[1]]
	assert.True(t, parallel.Parallel)
	assert.Equal(t, []string{TaskHTML, TaskCSS, TaskJS, TaskImages, TaskFonts}, parallel.Deps)

	assert.True(t, list[TaskHTMLWatch].Hidden)
	assert.False(t, list[TaskCSSWatch].Hidden)
}

func TestRemoveViewBox(t *testing.T) {
	svg := `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10" viewBox="0 0 10 10"><rect/></svg>`
	assert.Equal(t,
		`<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><rect/></svg>`,
		string(removeViewBox([]byte(svg))))

	scaled := `<svg width="20" height="20" viewBox="0 0 10 10"><rect/></svg>`
	assert.Equal(t, scaled, string(removeViewBox([]byte(scaled))))

	noSize := `<svg viewBox="0 0 10 10"><rect/></svg>`
	assert.Equal(t, noSize, string(removeViewBox([]byte(noSize))))
}

func TestRemoveViewBoxReadsRootAttributes(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{
			name:   "size inside another attribute",
			source: `<svg data-note=' width="10" height="10"' width="20" height="20" viewBox="0 0 10 10"><rect/></svg>`,
			want:   `<svg data-note=' width="10" height="10"' width="20" height="20" viewBox="0 0 10 10"><rect/></svg>`,
		},
		{
			name:   "closing bracket in a value",
			source: `<svg aria-label="a>b" width="10" height="10" viewBox="0 0 10 10"/>`,
			want:   `<svg aria-label="a>b" width="10" height="10"/>`,
		},
		{
			name:   "prolog and comment",
			source: `<?xml version="1.0"?><!-- <svg viewBox="0 0 1 1" width="1" height="1"> --><svg width="10px" height="10px" viewBox="0,0,10,10"><rect/></svg>`,
			want:   `<?xml version="1.0"?><!-- <svg viewBox="0 0 1 1" width="1" height="1"> --><svg width="10px" height="10px"><rect/></svg>`,
		},
		{
			name:   "stroke width",
			source: `<svg stroke-width="10" height="10" viewBox="0 0 10 10"><rect/></svg>`,
			want:   `<svg stroke-width="10" height="10" viewBox="0 0 10 10"><rect/></svg>`,
		},
		{
			name:   "other root",
			source: `<html width="10" height="10" viewBox="0 0 10 10"></html>`,
			want:   `<html width="10" height="10" viewBox="0 0 10 10"></html>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(removeViewBox([]byte(tt.source))))
		})
	}
}

func uncompressedPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, enc.Encode(&buf, img))
	return buf.Bytes()
}

func TestOptimize(t *testing.T) {
	opt := ImageOptimizer{JPEGQuality: 75, PNGLevel: "best"}

	content := uncompressedPNG(t)
	result, err := opt.Optimize("red.png", content)
	require.NoError(t, err)
	assert.Less(t, len(result), len(content))

	_, err = png.Decode(bytes.NewReader(result))
	assert.NoError(t, err)

	unknown := []byte("{}")
	result, err = opt.Optimize("site.webmanifest", unknown)
	require.NoError(t, err)
	assert.Equal(t, unknown, result)

	_, err = opt.Optimize("broken.jpg", []byte("not a jpeg"))
	assert.Error(t, err)
}

func TestCacheKey(t *testing.T) {
	a := ImageOptimizer{JPEGQuality: 75, PNGLevel: "best"}
	b := ImageOptimizer{JPEGQuality: 80, PNGLevel: "best"}

	assert.Equal(t, a.CacheKey([]byte("x")), a.CacheKey([]byte("x")))
	assert.NotEqual(t, a.CacheKey([]byte("x")), a.CacheKey([]byte("y")))
	assert.NotEqual(t, a.CacheKey([]byte("x")), b.CacheKey([]byte("x")))
}

func TestImagesCache(t *testing.T) {
	content := uncompressedPNG(t)
	b, _, _ := newTestBuilder(t, nil)
	writeTestFiles(t, b.Table.Root, map[string]string{
		"src/assets/images/icons/red.png": string(content),
	})

	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer db.Close()

	b.Store = db
	b.Cfg.Images.Cache = true

	ctx := context.Background()
	require.NoError(t, b.Images(ctx))

	optimized := readOutput(t, b, "dist/assets/images/icons/red.png")
	assert.Less(t, len(optimized), len(content))

	_, hit, err := b.optimizeCached(ctx, b.optimizer(), "red.png", content)
	require.NoError(t, err)
	assert.True(t, hit)

	count, err := db.ImageCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestImagesWatchCopiesUnchanged(t *testing.T) {
	content := uncompressedPNG(t)
	b, _, _ := newTestBuilder(t, nil)
	writeTestFiles(t, b.Table.Root, map[string]string{
		"src/assets/images/red.png": string(content),
	})

	require.NoError(t, b.ImagesWatch(context.Background()))
	assert.Equal(t, string(content), readOutput(t, b, "dist/assets/images/red.png"))
}

func TestPrecompressTask(t *testing.T) {
	b, _, _ := newTestBuilder(t, map[string]string{
		"dist/index.html": "<html></html>",
	})

	require.NoError(t, b.Precompress(context.Background()))
	assert.FileExists(t, filepath.Join(b.Table.Root, "dist", "index.html.br"))
}
