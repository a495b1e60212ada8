// Package watch reruns the watch pipelines when their sources change.
package watch

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/cortesi/moddwatch"
	"github.com/rotisserie/eris"

	"github.com/ngld/sitebuild/pkg/notify"
	"github.com/ngld/sitebuild/pkg/paths"
	"github.com/ngld/sitebuild/pkg/sblog"
)

// Route connects a category's watch glob to the task that rebuilds it
type Route struct {
	Category paths.Category
	Pattern  string
	Task     string
}

// DefaultTasks maps each category to the task that's rerun when one of its files changes
var DefaultTasks = map[paths.Category]string{
	paths.HTML:   "htmlWatch",
	paths.CSS:    "cssWatch",
	paths.JS:     "jsWatch",
	paths.Images: "imagesWatch",
	paths.Fonts:  "fonts",
}

// templateAssets are the non-HTML files below <src>/tpl that affect the rendered pages
const templateAssets = "tpl/**/*.{lua,yml,yaml,json}"

// Routes builds the routes for the given path table. Besides the watch globs, changes to Lua helpers and data
// files rerender the pages.
func Routes(table paths.Table) ([]Route, error) {
	routes := make([]Route, 0, len(paths.Categories)+1)
	for _, cat := range paths.Categories {
		pattern, err := table.WatchPattern(cat)
		if err != nil {
			return nil, err
		}

		routes = append(routes, Route{
			Category: cat,
			Pattern:  pattern,
			Task:     DefaultTasks[cat],
		})
	}

	html, err := table.Get(paths.HTML)
	if err != nil {
		return nil, err
	}

	routes = append(routes, Route{
		Category: paths.HTML,
		Pattern:  strings.TrimPrefix(paths.Base(html.Src), "./") + templateAssets,
		Task:     DefaultTasks[paths.HTML],
	})

	return routes, nil
}

// RunFunc runs a single task by name
type RunFunc func(ctx context.Context, task string) error

// Watcher listens for file changes below Root and dispatches them to the routes
type Watcher struct {
	Root     string
	Routes   []Route
	Excludes []string
	Lull     time.Duration
	Run      RunFunc
	Notifier notify.Notifier
}

// Watch blocks until ctx is cancelled
func (w *Watcher) Watch(ctx context.Context) error {
	includes := make([]string, len(w.Routes))
	for idx, route := range w.Routes {
		includes[idx] = route.Pattern
	}

	ch := make(chan *moddwatch.Mod, 16)
	watcher, err := moddwatch.Watch(w.Root, includes, w.Excludes, w.Lull, ch)
	if err != nil {
		return eris.Wrapf(err, "failed to watch %s", w.Root)
	}
	defer watcher.Stop()

	sblog.Log(ctx).Info().Str("task", "watching").Msgf("watching %d globs in %s", len(includes), w.Root)
	return w.Loop(ctx, ch)
}

// Loop dispatches every batch received from ch until ctx is cancelled or ch is closed
func (w *Watcher) Loop(ctx context.Context, ch <-chan *moddwatch.Mod) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case mod, ok := <-ch:
			if !ok {
				return nil
			}
			if mod == nil {
				continue
			}

			changed := make([]string, 0, len(mod.Added)+len(mod.Changed)+len(mod.Deleted))
			changed = append(changed, mod.Added...)
			changed = append(changed, mod.Changed...)
			changed = append(changed, mod.Deleted...)

			w.Dispatch(ctx, changed)
		}
	}
}

func (w *Watcher) relative(path string) string {
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(w.Root, path)
		if err == nil && !strings.HasPrefix(rel, "..") {
			path = rel
		}
	}

	return filepath.ToSlash(path)
}

// Dispatch runs the task of every route that matches at least one of the changed paths and returns the tasks
// in the order they ran. Failures are reported to the notifier.
func (w *Watcher) Dispatch(ctx context.Context, changed []string) []string {
	logger := sblog.Log(ctx)
	ran := []string{}
	queued := map[string]bool{}

	for _, route := range w.Routes {
		if queued[route.Task] {
			continue
		}

		for _, path := range changed {
			rel := w.relative(path)
			ok, err := paths.Match(route.Pattern, rel)
			if err != nil {
				logger.Error().Err(err).Str("task", route.Task).Msg("failed to match route")
				break
			}

			if ok {
				logger.Debug().Str("task", route.Task).Msgf("%s changed", rel)
				queued[route.Task] = true
				break
			}
		}

		if !queued[route.Task] {
			continue
		}

		if ctx.Err() != nil {
			return ran
		}

		ran = append(ran, route.Task)
		err := w.Run(ctx, route.Task)
		if err != nil && ctx.Err() == nil {
			w.Notifier.Notify(ctx, notify.TitleBuild, err)
		}
	}

	return ran
}
