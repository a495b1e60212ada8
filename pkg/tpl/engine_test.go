package tpl

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func newEngine(t *testing.T, files map[string]string) *Engine {
	t.Helper()

	dir := t.TempDir()
	writeFiles(t, dir, files)

	e := New(dir)
	require.NoError(t, e.Refresh(context.Background()))
	return e
}

func TestSplitFrontMatter(t *testing.T) {
	data, body, err := SplitFrontMatter([]byte("---\ntitle: Home\nlayout: plain\n---\n<h1>{{title}}</h1>\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"title": "Home", "layout": "plain"}, data)
	assert.Equal(t, "<h1>{{title}}</h1>\n", string(body))

	data, body, err = SplitFrontMatter([]byte("<p>plain</p>"))
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Equal(t, "<p>plain</p>", string(body))

	data, body, err = SplitFrontMatter([]byte("---\n---\nbody"))
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Equal(t, "body", string(body))

	_, _, err = SplitFrontMatter([]byte("---\ntitle: x\n"))
	assert.Error(t, err)
}

func TestRenderWithLayout(t *testing.T) {
	e := newEngine(t, map[string]string{
		"layouts/default.html":      "<html><title>{{title}}</title><body>{{> header}}{{> body}}</body></html>",
		"partials/site/header.html": "<header>{{site.name}}</header>",
		"data/site.yml":             "name: Example\n",
	})

	out, err := e.Render(Page{
		Path:    "index.html",
		Content: []byte("---\ntitle: Welcome\n---\n<main>{{page}}</main>"),
	})
	require.NoError(t, err)
	assert.Equal(t, "<html><title>Welcome</title><body><header>Example</header><main>index</main></body></html>", out)
}

func TestRenderLayoutSelection(t *testing.T) {
	e := newEngine(t, map[string]string{
		"layouts/default.html": "default:{{> body}}",
		"layouts/plain.html":   "plain:{{> body}}",
	})

	out, err := e.Render(Page{Path: "a.html", Content: []byte("---\nlayout: plain\n---\nA")})
	require.NoError(t, err)
	assert.Equal(t, "plain:A", out)

	out, err = e.Render(Page{Path: "b.html", Content: []byte("---\nlayout: none\n---\nB")})
	require.NoError(t, err)
	assert.Equal(t, "B", out)

	out, err = e.Render(Page{Path: "c.html", Content: []byte("---\nlayout: false\n---\nC")})
	require.NoError(t, err)
	assert.Equal(t, "C", out)

	_, err = e.Render(Page{Path: "d.html", Content: []byte("---\nlayout: missing\n---\nD")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "layout missing not found")
}

func TestRenderRoot(t *testing.T) {
	e := newEngine(t, map[string]string{
		"layouts/default.html": `<link href="{{root}}assets/css/style.min.css">`,
	})

	out, err := e.Render(Page{Path: "blog/post.html", Root: "../"})
	require.NoError(t, err)
	assert.Equal(t, `<link href="../assets/css/style.min.css">`, out)
}

func TestBuiltinHelpers(t *testing.T) {
	e := newEngine(t, map[string]string{
		"layouts/default.html": "{{> body}}",
	})

	cases := []struct {
		name   string
		page   string
		source string
		want   string
	}{
		{"ifequal", "index.html", `{{#ifequal a "x"}}yes{{else}}no{{/ifequal}}`, "yes"},
		{"ifequal else", "index.html", `{{#ifequal a "y"}}yes{{else}}no{{/ifequal}}`, "no"},
		{"ifpage", "about.html", `{{#ifpage "index,about"}}on{{/ifpage}}`, "on"},
		{"ifpage miss", "contact.html", `{{#ifpage "index,about"}}on{{/ifpage}}`, ""},
		{"unlesspage", "contact.html", `{{#unlesspage "index"}}off{{/unlesspage}}`, "off"},
		{"repeat", "index.html", `{{#repeat 3}}<li></li>{{/repeat}}`, "<li></li><li></li><li></li>"},
		{"code", "index.html", `{{#code "html"}}<p>hi</p>{{/code}}`, `<pre><code class="language-html">&lt;p&gt;hi&lt;/p&gt;</code></pre>`},
		{"markdown", "index.html", "{{#markdown}}\n  # Title\n{{/markdown}}", "<h1>Title</h1>\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := e.Render(Page{
				Path:    tc.page,
				Content: []byte("---\na: x\n---\n" + tc.source),
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestLuaHelpers(t *testing.T) {
	e := newEngine(t, map[string]string{
		"layouts/default.html": "{{> body}}",
		"helpers/shout.lua": `function shout(text, options)
  return string.upper(text) .. "!"
end`,
		"helpers/wrap.lua": `function wrap(tag, options)
  return "<" .. tag .. ">" .. options.fn() .. "</" .. tag .. ">"
end`,
	})

	out, err := e.Render(Page{Path: "index.html", Content: []byte(`{{shout "hi"}} {{#wrap "b"}}{{shout "x"}}{{/wrap}}`)})
	require.NoError(t, err)
	assert.Equal(t, "HI! <b>X!</b>", out)
}

func TestLuaHelperMissingFunction(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"helpers/broken.lua": `function other() return "" end`,
	})

	err := New(dir).Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not define a function named broken")
}

func TestRefreshPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"layouts/default.html": "v1:{{> body}}",
	})

	e := New(dir)
	require.NoError(t, e.Refresh(context.Background()))

	out, err := e.Render(Page{Path: "index.html", Content: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "v1:x", out)

	writeFiles(t, dir, map[string]string{
		"layouts/default.html": "v2:{{> body}}",
	})
	require.NoError(t, e.Refresh(context.Background()))

	out, err = e.Render(Page{Path: "index.html", Content: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "v2:x", out)
}

func TestReservedBodyPartial(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"partials/body.html": "nope",
	})

	err := New(dir).Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "reserved"))
}

func TestDedent(t *testing.T) {
	assert.Equal(t, "# a\n\n  b", dedent("    # a\n\n      b"))
	assert.Equal(t, "x", dedent("x"))
}
