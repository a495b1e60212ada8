package pipeline

import (
	"context"
	"path/filepath"

	"github.com/ngld/sitebuild/pkg/paths"
	"github.com/ngld/sitebuild/pkg/tpl"
)

// rootPath returns the relative path from dir back to the site root ("" for the root itself)
func rootPath(siteRoot, dir string) string {
	rel, err := filepath.Rel(dir, siteRoot)
	if err != nil || rel == "." {
		return ""
	}

	return filepath.ToSlash(rel) + "/"
}

// HTML renders all pages. Layouts, partials, helpers and data are reloaded first so edits to them are
// picked up in watch mode.
func (b *Builder) HTML(ctx context.Context) error {
	err := b.Templates.Refresh(ctx)
	if err != nil {
		return err
	}

	pages, err := b.readSources(paths.HTML)
	if err != nil {
		return err
	}

	dest, err := b.Table.DestDir(paths.HTML)
	if err != nil {
		return err
	}

	outputs := make([]string, 0, len(pages))
	for _, page := range pages {
		if err = ctx.Err(); err != nil {
			return err
		}

		outPath, err := b.Table.OutputPath(paths.HTML, page.Path)
		if err != nil {
			return err
		}

		result, err := b.Templates.Render(tpl.Page{
			Path:    page.Rel(),
			Root:    rootPath(dest, filepath.Dir(outPath)),
			Content: page.Contents,
		})
		if err != nil {
			return err
		}

		err = writeFile(outPath, []byte(result))
		if err != nil {
			return err
		}

		outputs = append(outputs, outPath)
	}

	log(ctx).Info().Str("task", "html").Msgf("rendered %d pages", len(outputs))
	b.reload(outputs...)
	return nil
}
