package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/ngld/sitebuild/pkg/archive"
	"github.com/ngld/sitebuild/pkg/paths"
)

func copyFile(src, dest string) error {
	err := os.MkdirAll(filepath.Dir(dest), 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(dest))
	}

	in, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dest)
	}

	_, err = io.Copy(out, in)
	if err != nil {
		out.Close()
		return eris.Wrapf(err, "failed to copy %s", src)
	}

	return out.Close()
}

// copyCategory copies all sources of a category into its destination without changes
func (b *Builder) copyCategory(ctx context.Context, cat paths.Category) ([]string, error) {
	sources, err := b.Table.Sources(cat)
	if err != nil {
		return nil, err
	}

	outputs := make([]string, len(sources))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(b.Cfg.Build.Workers)

	for idx, source := range sources {
		idx, source := idx, source
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			dest, err := b.Table.OutputPath(cat, source)
			if err != nil {
				return err
			}

			outputs[idx] = dest
			return copyFile(source, dest)
		})
	}

	if err = eg.Wait(); err != nil {
		return nil, err
	}

	return outputs, nil
}

// Fonts copies the fonts unchanged
func (b *Builder) Fonts(ctx context.Context) error {
	outputs, err := b.copyCategory(ctx, paths.Fonts)
	if err != nil {
		return err
	}

	log(ctx).Info().Str("task", "fonts").Msgf("copied %d files", len(outputs))
	b.reload(outputs...)
	return nil
}

// ImagesWatch copies images without optimizing them
func (b *Builder) ImagesWatch(ctx context.Context) error {
	outputs, err := b.copyCategory(ctx, paths.Images)
	if err != nil {
		return err
	}

	log(ctx).Info().Str("task", "imagesWatch").Msgf("copied %d files", len(outputs))
	b.reload(outputs...)
	return nil
}

// Clean deletes the distribution directory
func (b *Builder) Clean(ctx context.Context) error {
	dist := b.Table.Abs(b.Cfg.Dist)
	src := b.Table.Abs(b.Cfg.Src)

	if isWithin(dist, b.Table.Root) {
		return eris.Errorf("refusing to delete %s since it contains the project root", dist)
	}

	if isWithin(dist, src) {
		return eris.Errorf("refusing to delete %s since it contains the source directory", dist)
	}

	err := os.RemoveAll(dist)
	if err != nil {
		return eris.Wrapf(err, "failed to delete %s", dist)
	}

	log(ctx).Info().Str("task", "clean").Msgf("deleted %s", dist)
	return nil
}

// isWithin reports whether child is parent or inside of it
func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Precompress writes brotli compressed copies of the text assets in the output directory
func (b *Builder) Precompress(ctx context.Context) error {
	count, err := archive.Precompress(ctx, b.Table.Abs(b.Cfg.Dist), b.Cfg.Build.Workers)
	if err != nil {
		return err
	}

	log(ctx).Info().Str("task", "precompress").Msgf("compressed %d files", count)
	return nil
}
