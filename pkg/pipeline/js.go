package pipeline

import (
	"bytes"
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/svg"

	"github.com/ngld/sitebuild/pkg/paths"
)

// ScriptBundle is the name of the concatenated script
const ScriptBundle = "app.min.js"

const (
	mimeJS  = "application/javascript"
	mimeCSS = "text/css"
	mimeSVG = "image/svg+xml"
)

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc(mimeJS, js.Minify)
	m.AddFunc(mimeCSS, css.Minify)
	m.Add(mimeSVG, &svg.Minifier{})
	return m
}

func (b *Builder) rigScripts(ctx context.Context) ([]File, error) {
	files, err := b.readSources(paths.JS)
	if err != nil {
		return nil, err
	}

	for idx, file := range files {
		if err = ctx.Err(); err != nil {
			return nil, err
		}

		files[idx].Contents, err = Rig(file.Path, file.Contents)
		if err != nil {
			return nil, err
		}
	}

	return files, nil
}

// JS assembles every script, writes the results and a minified bundle
func (b *Builder) JS(ctx context.Context) error {
	files, err := b.rigScripts(ctx)
	if err != nil {
		return err
	}

	dest, err := b.Table.DestDir(paths.JS)
	if err != nil {
		return err
	}

	m := newMinifier()
	outputs := make([]string, 0, len(files)+1)
	bundle := make([][]byte, 0, len(files))
	for _, file := range files {
		outPath, err := b.Table.OutputPath(paths.JS, file.Path)
		if err != nil {
			return err
		}

		err = writeFile(outPath, file.Contents)
		if err != nil {
			return err
		}
		outputs = append(outputs, outPath)

		minified, err := m.Bytes(mimeJS, file.Contents)
		if err != nil {
			return eris.Wrapf(err, "failed to minify %s", file.Rel())
		}

		minified = bytes.TrimRight(minified, ";\n")
		bundle = append(bundle, append(minified, ';'))
	}

	bundlePath := filepath.Join(dest, ScriptBundle)
	err = writeFile(bundlePath, concat(bundle))
	if err != nil {
		return err
	}
	outputs = append(outputs, bundlePath)

	log(ctx).Info().Str("task", "js").Msgf("bundled %d scripts", len(files))
	b.reload(outputs...)
	return nil
}

// JSWatch assembles the scripts into the bundle without minifying them
func (b *Builder) JSWatch(ctx context.Context) error {
	files, err := b.rigScripts(ctx)
	if err != nil {
		return err
	}

	dest, err := b.Table.DestDir(paths.JS)
	if err != nil {
		return err
	}

	bundle := make([][]byte, len(files))
	for idx, file := range files {
		bundle[idx] = file.Contents
	}

	bundlePath := filepath.Join(dest, ScriptBundle)
	err = writeFile(bundlePath, concat(bundle))
	if err != nil {
		return err
	}

	log(ctx).Info().Str("task", "jsWatch").Msgf("bundled %d scripts", len(files))
	b.reload(bundlePath)
	return nil
}
