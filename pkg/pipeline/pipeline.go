// Package pipeline implements the builtin asset pipelines (html, css, js, images, fonts and clean) and
// registers them as tasks.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/ngld/sitebuild/pkg/buildsys"
	"github.com/ngld/sitebuild/pkg/config"
	"github.com/ngld/sitebuild/pkg/notify"
	"github.com/ngld/sitebuild/pkg/paths"
	"github.com/ngld/sitebuild/pkg/sblog"
	"github.com/ngld/sitebuild/pkg/store"
	"github.com/ngld/sitebuild/pkg/tpl"
)

// File is a single file flowing through a pipeline
type File struct {
	// Path is the absolute source path
	Path string
	// Base is the category's base directory, Path relative to Base is kept in the output
	Base     string
	Contents []byte
	// Data holds the front matter of pages
	Data map[string]interface{}
}

// Rel returns the path relative to the file's base
func (f File) Rel() string {
	rel, err := filepath.Rel(f.Base, f.Path)
	if err != nil {
		return filepath.Base(f.Path)
	}
	return rel
}

// Reloader is told about changed output files so it can refresh connected browsers
type Reloader interface {
	Reload(paths ...string)
}

// Builder runs the pipelines for one project
type Builder struct {
	Cfg      *config.Config
	Table    paths.Table
	Notifier notify.Notifier
	// Store caches optimized images, it may be nil
	Store *store.Store
	// Reloader may be nil
	Reloader  Reloader
	Templates *tpl.Engine
}

// New creates a builder. The template directory is <src>/tpl.
func New(cfg *config.Config, table paths.Table, notifier notify.Notifier) *Builder {
	return &Builder{
		Cfg:       cfg,
		Table:     table,
		Notifier:  notifier,
		Templates: tpl.New(filepath.Join(table.Abs(cfg.Src), "tpl")),
	}
}

func log(ctx context.Context) *zerolog.Logger {
	return sblog.Log(ctx)
}

func (b *Builder) reload(paths ...string) {
	if b.Reloader != nil && len(paths) > 0 {
		b.Reloader.Reload(paths...)
	}
}

// plumb keeps the watch mode alive: errors are forwarded to the notifier instead of failing the task
func (b *Builder) plumb(title string, action buildsys.Action) buildsys.Action {
	return func(ctx context.Context) error {
		err := action(ctx)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		b.Notifier.Notify(ctx, title, err)
		return nil
	}
}

func (b *Builder) readSources(cat paths.Category) ([]File, error) {
	sources, err := b.Table.Sources(cat)
	if err != nil {
		return nil, err
	}

	base, err := b.Table.BaseDir(cat)
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(sources))
	for _, source := range sources {
		content, err := os.ReadFile(source)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to read %s", source)
		}

		files = append(files, File{
			Path:     source,
			Base:     base,
			Contents: content,
		})
	}

	return files, nil
}

func writeFile(path string, content []byte) error {
	err := os.MkdirAll(filepath.Dir(path), 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}

	err = os.WriteFile(path, content, 0o660)
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", path)
	}

	return nil
}

// concat joins the file contents with newlines
func concat(parts [][]byte) []byte {
	size := 0
	for _, part := range parts {
		size += len(part) + 1
	}

	result := make([]byte, 0, size)
	for idx, part := range parts {
		if idx > 0 {
			result = append(result, '\n')
		}
		result = append(result, part...)
	}

	return result
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

func newProgressBar(length int, desc string) *progressbar.ProgressBar {
	visible := os.Getenv("CI") != "true" && term.IsTerminal(int(os.Stderr.Fd()))
	return progressbar.NewOptions(length,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetVisibility(visible),
		progressbar.OptionShowCount(),
	)
}
