package pipeline

import (
	"github.com/ngld/sitebuild/pkg/buildsys"
	"github.com/ngld/sitebuild/pkg/notify"
)

// Task names of the builtin pipelines
const (
	TaskClean       = "clean"
	TaskHTML        = "html"
	TaskHTMLWatch   = "htmlWatch"
	TaskCSS         = "css"
	TaskCSSWatch    = "cssWatch"
	TaskJS          = "js"
	TaskJSWatch     = "jsWatch"
	TaskImages      = "images"
	TaskImagesWatch = "imagesWatch"
	TaskFonts       = "fonts"
	TaskBuild       = "build"
)

// Register adds the builtin pipeline tasks and the build task to list. The watch variants report their errors
// to the notifier instead of failing.
func (b *Builder) Register(list buildsys.TaskList) {
	list.Add(&buildsys.Task{
		Short:  TaskClean,
		Desc:   "Deletes the output directory",
		Action: b.Clean,
	})
	list.Add(&buildsys.Task{
		Short:  TaskHTML,
		Desc:   "Renders the pages",
		Action: b.HTML,
	})
	list.Add(&buildsys.Task{
		Short:  TaskHTMLWatch,
		Desc:   "Renders the pages and reports errors without failing",
		Hidden: true,
		Action: b.plumb(notify.TitleBuild, b.HTML),
	})
	list.Add(&buildsys.Task{
		Short:  TaskCSS,
		Desc:   "Compiles the stylesheets and writes the prefixed bundle",
		Action: b.CSS,
	})
	list.Add(&buildsys.Task{
		Short:  TaskCSSWatch,
		Desc:   "Compiles the stylesheet bundle for development",
		Action: b.plumb(notify.TitleSCSS, b.CSSWatch),
	})
	list.Add(&buildsys.Task{
		Short:  TaskJS,
		Desc:   "Assembles and minifies the scripts",
		Action: b.JS,
	})
	list.Add(&buildsys.Task{
		Short:  TaskJSWatch,
		Desc:   "Assembles the script bundle for development",
		Action: b.plumb(notify.TitleJS, b.JSWatch),
	})
	list.Add(&buildsys.Task{
		Short:  TaskImages,
		Desc:   "Optimizes the images",
		Action: b.Images,
	})
	list.Add(&buildsys.Task{
		Short:  TaskImagesWatch,
		Desc:   "Copies the images without optimizing them",
		Action: b.plumb(notify.TitleBuild, b.ImagesWatch),
	})
	list.Add(&buildsys.Task{
		Short:  TaskFonts,
		Desc:   "Copies the fonts",
		Action: b.Fonts,
	})

	steps := []string{TaskClean, list.Parallel(TaskHTML, TaskCSS, TaskJS, TaskImages, TaskFonts)}
	if b.Cfg.Build.Precompress {
		list.Add(&buildsys.Task{
			Short:  "precompress",
			Desc:   "Writes brotli compressed copies of text assets",
			Hidden: true,
			Action: b.Precompress,
		})
		steps = append(steps, "precompress")
	}

	list.Add(&buildsys.Task{
		Short: TaskBuild,
		Desc:  "Builds the site for production",
		Deps:  []string{list.Series(steps...)},
	})
}
