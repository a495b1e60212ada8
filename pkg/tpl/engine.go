// Package tpl renders Handlebars pages with layouts, partials, data files and helpers. The directory layout
// follows panini:
//
//	<dir>/layouts/*.html     page layouts, the page is available as the "body" partial
//	<dir>/partials/**/*.html partials, registered by file name
//	<dir>/helpers/*.lua      custom helpers
//	<dir>/data/*.{yml,json}  data files, exposed by file name
package tpl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aymerick/raymond"
	"github.com/rotisserie/eris"
	"github.com/shaj13/libcache"
	// Provides libcache.LRU
	_ "github.com/shaj13/libcache/lru"
	"gopkg.in/yaml.v3"

	"github.com/ngld/sitebuild/pkg/paths"
	"github.com/ngld/sitebuild/pkg/sblog"
)

// DefaultLayout is used for pages that don't set a layout in their front matter
const DefaultLayout = "default"

const templateExts = "{html,hbs,handlebars}"

// Engine holds everything loaded from the template directory
type Engine struct {
	dir string

	lock     sync.RWMutex
	layouts  map[string]string
	partials map[string]string
	data     map[string]interface{}
	lua      *luaHelpers

	// parsed templates keyed by content hash
	compiled libcache.Cache
}

// New creates an engine for the given template directory. Call Refresh before rendering.
func New(dir string) *Engine {
	return &Engine{
		dir:      dir,
		layouts:  map[string]string{},
		partials: map[string]string{},
		data:     map[string]interface{}{},
		compiled: libcache.LRU.New(128),
	}
}

func templateName(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func readTemplates(dir, pattern string) (map[string]string, error) {
	files, err := paths.Resolve(dir, pattern)
	if err != nil {
		return nil, err
	}

	result := make(map[string]string, len(files))
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read %s", file)
		}

		result[templateName(file)] = string(content)
	}

	return result, nil
}

// Refresh reloads layouts, partials, helpers and data files
func (e *Engine) Refresh(ctx context.Context) error {
	layouts, err := readTemplates(filepath.Join(e.dir, "layouts"), "*."+templateExts)
	if err != nil {
		return eris.Wrap(err, "failed to load layouts")
	}

	partials, err := readTemplates(filepath.Join(e.dir, "partials"), "**/*."+templateExts)
	if err != nil {
		return eris.Wrap(err, "failed to load partials")
	}

	if _, ok := partials["body"]; ok {
		return eris.New(`the partial name "body" is reserved for the page content`)
	}

	dataFiles, err := paths.Resolve(filepath.Join(e.dir, "data"), "*.{yml,yaml,json}")
	if err != nil {
		return eris.Wrap(err, "failed to load data files")
	}

	data := make(map[string]interface{}, len(dataFiles))
	for _, file := range dataFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			return eris.Wrapf(err, "failed to read %s", file)
		}

		var value interface{}
		// JSON is a subset of YAML
		err = yaml.Unmarshal(content, &value)
		if err != nil {
			return eris.Wrapf(err, "failed to parse %s", file)
		}

		data[templateName(file)] = value
	}

	helperFiles, err := paths.Resolve(filepath.Join(e.dir, "helpers"), "*.lua")
	if err != nil {
		return eris.Wrap(err, "failed to load helpers")
	}

	var helpers *luaHelpers
	if len(helperFiles) > 0 {
		helpers, err = loadLuaHelpers(helperFiles)
		if err != nil {
			return err
		}
	}

	e.lock.Lock()
	old := e.lua
	e.layouts = layouts
	e.partials = partials
	e.data = data
	e.lua = helpers
	e.compiled.Purge()
	e.lock.Unlock()

	if old != nil {
		old.Close()
	}

	sblog.Log(ctx).Debug().
		Int("layouts", len(layouts)).
		Int("partials", len(partials)).
		Int("data", len(data)).
		Int("helpers", len(helperFiles)).
		Msg("loaded templates")
	return nil
}

func (e *Engine) parse(source string) (*raymond.Template, error) {
	sum := sha256.Sum256([]byte(source))
	key := hex.EncodeToString(sum[:])

	if cached, ok := e.compiled.Load(key); ok {
		return cached.(*raymond.Template).Clone(), nil
	}

	parsed, err := raymond.Parse(source)
	if err != nil {
		return nil, err
	}

	e.compiled.Store(key, parsed)
	return parsed.Clone(), nil
}

// Page is a single page to render
type Page struct {
	// Path is the page's file name, it's used for the "page" variable and error messages
	Path string
	// Root is the relative path from the page's output location to the site root (e.g. "../")
	Root    string
	Content []byte
}

// Render renders the page inside its layout
func (e *Engine) Render(page Page) (string, error) {
	frontMatter, body, err := SplitFrontMatter(page.Content)
	if err != nil {
		return "", eris.Wrapf(err, "failed to process %s", page.Path)
	}

	e.lock.RLock()
	defer e.lock.RUnlock()

	pageName := templateName(page.Path)
	layoutName := DefaultLayout
	useLayout := true

	switch value := frontMatter["layout"].(type) {
	case nil:
	case bool:
		useLayout = value
	case string:
		if value == "none" || value == "" {
			useLayout = false
		} else {
			layoutName = value
		}
	default:
		return "", eris.Errorf("%s: unexpected value for layout", page.Path)
	}

	var tpl *raymond.Template
	partials := make(map[string]string, len(e.partials)+1)
	for name, source := range e.partials {
		partials[name] = source
	}

	if useLayout {
		layout, ok := e.layouts[layoutName]
		if !ok {
			return "", eris.Errorf("%s: layout %s not found", page.Path, layoutName)
		}

		tpl, err = e.parse(layout)
		if err != nil {
			return "", eris.Wrapf(err, "failed to parse layout %s", layoutName)
		}
		partials["body"] = string(body)
	} else {
		tpl, err = e.parse(string(body))
		if err != nil {
			return "", eris.Wrapf(err, "failed to parse %s", page.Path)
		}
	}

	helpers := builtinHelpers(pageName)
	if e.lua != nil {
		// custom helpers win over builtin ones with the same name
		for _, name := range e.lua.Names() {
			helpers[name] = e.lua.Helper(name)
		}

		e.lua.lock.Lock()
		defer e.lua.lock.Unlock()
	}

	tpl.RegisterPartials(partials)
	tpl.RegisterHelpers(helpers)

	ctx := make(map[string]interface{}, len(e.data)+len(frontMatter)+2)
	for k, v := range e.data {
		ctx[k] = v
	}
	for k, v := range frontMatter {
		ctx[k] = v
	}
	ctx["page"] = pageName
	ctx["root"] = page.Root

	result, err := tpl.Exec(ctx)
	if err != nil {
		return "", eris.Wrapf(err, "failed to render %s", page.Path)
	}

	return result, nil
}
