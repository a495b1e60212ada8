package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/bep/golibsass/libsass"
	"github.com/bep/golibsass/libsass/libsasserrors"
	"github.com/rotisserie/eris"

	"github.com/ngld/sitebuild/pkg/paths"
)

// StyleBundle is the name of the concatenated stylesheet
const StyleBundle = "style.min.css"

func isPartial(path string) bool {
	return strings.HasPrefix(filepath.Base(path), "_")
}

func (b *Builder) compileSass(file File, style string) (string, error) {
	includePaths := []string{filepath.Dir(file.Path), file.Base}
	for _, item := range b.Cfg.Sass.IncludePaths {
		includePaths = append(includePaths, b.Table.Abs(item))
	}

	transpiler, err := libsass.New(libsass.Options{
		OutputStyle:  libsass.ParseOutputStyle(style),
		Precision:    b.Cfg.Sass.Precision,
		IncludePaths: includePaths,
		SassSyntax:   filepath.Ext(file.Path) == ".sass",
	})
	if err != nil {
		return "", eris.Wrap(err, "failed to initialize sass")
	}

	result, err := transpiler.Execute(string(file.Contents))
	if err != nil {
		if sassErr, ok := err.(libsasserrors.Error); ok {
			name := sassErr.File
			if name == "" || name == "stdin" {
				name = file.Rel()
			}
			return "", eris.Errorf("%s:%d:%d: %s", name, sassErr.Line, sassErr.Column, strings.TrimSpace(sassErr.Message))
		}
		return "", eris.Wrapf(err, "failed to compile %s", file.Rel())
	}

	return result.CSS, nil
}

func (b *Builder) stylesheets() ([]File, error) {
	files, err := b.readSources(paths.CSS)
	if err != nil {
		return nil, err
	}

	result := files[:0]
	for _, file := range files {
		if !isPartial(file.Path) {
			result = append(result, file)
		}
	}

	return result, nil
}

// CSS compiles every stylesheet in expanded form next to each other and writes a compressed, prefixed bundle
func (b *Builder) CSS(ctx context.Context) error {
	files, err := b.stylesheets()
	if err != nil {
		return err
	}

	dest, err := b.Table.DestDir(paths.CSS)
	if err != nil {
		return err
	}

	m := newMinifier()
	outputs := make([]string, 0, len(files)+1)
	bundle := make([][]byte, 0, len(files))
	for _, file := range files {
		if err = ctx.Err(); err != nil {
			return err
		}

		expanded, err := b.compileSass(file, "expanded")
		if err != nil {
			return err
		}

		outPath, err := b.Table.OutputPath(paths.CSS, replaceExt(file.Path, ".css"))
		if err != nil {
			return err
		}

		err = writeFile(outPath, []byte(expanded))
		if err != nil {
			return err
		}
		outputs = append(outputs, outPath)

		compressed, err := b.compileSass(file, "compressed")
		if err != nil {
			return err
		}

		prefixed, err := m.Bytes(mimeCSS, []byte(Prefix(compressed, PrefixOptions{})))
		if err != nil {
			return eris.Wrapf(err, "failed to minify %s", file.Rel())
		}

		bundle = append(bundle, prefixed)
	}

	bundlePath := filepath.Join(dest, StyleBundle)
	err = writeFile(bundlePath, concat(bundle))
	if err != nil {
		return err
	}
	outputs = append(outputs, bundlePath)

	log(ctx).Info().Str("task", "css").Msgf("compiled %d stylesheets", len(files))
	b.reload(outputs...)
	return nil
}

// CSSWatch only writes the bundle, without prefixes and in nested style
func (b *Builder) CSSWatch(ctx context.Context) error {
	files, err := b.stylesheets()
	if err != nil {
		return err
	}

	dest, err := b.Table.DestDir(paths.CSS)
	if err != nil {
		return err
	}

	bundle := make([][]byte, 0, len(files))
	for _, file := range files {
		if err = ctx.Err(); err != nil {
			return err
		}

		nested, err := b.compileSass(file, "nested")
		if err != nil {
			return err
		}

		bundle = append(bundle, []byte(nested))
	}

	bundlePath := filepath.Join(dest, StyleBundle)
	err = writeFile(bundlePath, concat(bundle))
	if err != nil {
		return err
	}

	log(ctx).Info().Str("task", "cssWatch").Msgf("compiled %d stylesheets", len(files))
	b.reload(bundlePath)
	return nil
}
