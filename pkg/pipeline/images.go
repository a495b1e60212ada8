package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/xml"
	"golang.org/x/sync/errgroup"

	"github.com/ngld/sitebuild/pkg/paths"
)

// bump when the optimizers change their output
const optimizerVersion = 1

var pngLevels = map[string]png.CompressionLevel{
	"default": png.DefaultCompression,
	"speed":   png.BestSpeed,
	"best":    png.BestCompression,
	"none":    png.NoCompression,
}

// ImageOptimizer shrinks image files. Results that aren't smaller than the input are discarded.
type ImageOptimizer struct {
	JPEGQuality int
	PNGLevel    string
}

func (o ImageOptimizer) settings() string {
	return fmt.Sprintf("v%d;q%d;png:%s", optimizerVersion, o.JPEGQuality, o.PNGLevel)
}

// CacheKey identifies the optimized result of content with the current settings
func (o ImageOptimizer) CacheKey(content []byte) string {
	hash := sha256.New()
	hash.Write([]byte(o.settings()))
	hash.Write([]byte{0})
	hash.Write(content)
	return hex.EncodeToString(hash.Sum(nil))
}

// Optimize returns the smallest known representation of content. The file extension picks the optimizer,
// unknown types are returned unchanged.
func (o ImageOptimizer) Optimize(name string, content []byte) ([]byte, error) {
	var result []byte
	var err error

	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		result, err = o.optimizeJPEG(content)
	case ".png":
		result, err = o.optimizePNG(content)
	case ".gif":
		result, err = optimizeGIF(content)
	case ".svg":
		result, err = OptimizeSVG(content)
	default:
		return content, nil
	}

	if err != nil {
		return nil, eris.Wrapf(err, "failed to optimize %s", name)
	}

	if len(result) >= len(content) {
		return content, nil
	}
	return result, nil
}

func (o ImageOptimizer) optimizeJPEG(content []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: o.JPEGQuality})
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (o ImageOptimizer) optimizePNG(content []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	level, ok := pngLevels[o.PNGLevel]
	if !ok {
		level = png.BestCompression
	}

	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: level}
	err = encoder.Encode(&buf, img)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func optimizeGIF(content []byte) ([]byte, error) {
	img, err := gif.DecodeAll(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = gif.EncodeAll(&buf, img)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

var svgMinifier = newMinifier()

// OptimizeSVG minifies the document (IDs are kept) and drops the root view box if width and height already
// describe it.
func OptimizeSVG(content []byte) ([]byte, error) {
	minified, err := svgMinifier.Bytes(mimeSVG, content)
	if err != nil {
		return nil, err
	}

	return removeViewBox(minified), nil
}

func trimPx(value string) string {
	return strings.TrimSuffix(strings.TrimSpace(value), "px")
}

func unquoteAttr(value []byte) string {
	if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
		value = value[1 : len(value)-1]
	}
	return string(value)
}

func removeViewBox(content []byte) []byte {
	// the lexer rewrites whitespace inside quoted values in place
	input := parse.NewInputBytes(append([]byte(nil), content...))
	lexer := xml.NewLexer(input)

	attrs := map[string]string{}
	viewBoxStart, viewBoxEnd := -1, -1
	inRoot := false

lex:
	for {
		start := input.Offset()
		tt, _ := lexer.Next()

		switch tt {
		case xml.ErrorToken:
			return content
		case xml.StartTagToken:
			if string(lexer.Text()) != "svg" {
				return content
			}
			inRoot = true
		case xml.AttributeToken:
			if !inRoot {
				continue
			}

			name := string(lexer.Text())
			attrs[name] = unquoteAttr(lexer.AttrVal())
			if name == "viewBox" {
				// includes the whitespace in front of the attribute
				viewBoxStart, viewBoxEnd = start, input.Offset()
			}
		case xml.StartTagCloseToken, xml.StartTagCloseVoidToken:
			if inRoot {
				break lex
			}
		}
	}

	width, hasWidth := attrs["width"]
	height, hasHeight := attrs["height"]
	if viewBoxStart < 0 || !hasWidth || !hasHeight {
		return content
	}

	fields := strings.FieldsFunc(attrs["viewBox"], func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(fields) != 4 || fields[0] != "0" || fields[1] != "0" ||
		fields[2] != trimPx(width) || fields[3] != trimPx(height) {
		return content
	}

	result := make([]byte, 0, len(content))
	result = append(result, content[:viewBoxStart]...)
	result = append(result, content[viewBoxEnd:]...)
	return result
}

func (b *Builder) optimizer() ImageOptimizer {
	return ImageOptimizer{
		JPEGQuality: b.Cfg.Images.JPEGQuality,
		PNGLevel:    b.Cfg.Images.PNGLevel,
	}
}

func (b *Builder) optimizeCached(ctx context.Context, opt ImageOptimizer, name string, content []byte) ([]byte, bool, error) {
	useCache := b.Store != nil && b.Cfg.Images.Cache
	var key string

	if useCache {
		key = opt.CacheKey(content)
		cached, err := b.Store.GetImage(ctx, key)
		if err != nil {
			return nil, false, err
		}

		if cached != nil {
			return cached, true, nil
		}
	}

	result, err := opt.Optimize(name, content)
	if err != nil {
		return nil, false, err
	}

	if useCache {
		err = b.Store.PutImage(ctx, key, result)
		if err != nil {
			return nil, false, eris.Wrap(err, "failed to update image cache")
		}
	}

	return result, false, nil
}

// Images optimizes all images and writes them to the destination
func (b *Builder) Images(ctx context.Context) error {
	sources, err := b.Table.Sources(paths.Images)
	if err != nil {
		return err
	}

	opt := b.optimizer()
	bar := newProgressBar(len(sources), "images")
	outputs := make([]string, len(sources))

	var before, after, hits int64
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.Cfg.Build.Workers)

	for idx, source := range sources {
		idx, source := idx, source
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}

			dest, err := b.Table.OutputPath(paths.Images, source)
			if err != nil {
				return err
			}

			content, err := os.ReadFile(source)
			if err != nil {
				return eris.Wrapf(err, "failed to read %s", source)
			}

			result, hit, err := b.optimizeCached(egCtx, opt, source, content)
			if err != nil {
				return err
			}

			err = writeFile(dest, result)
			if err != nil {
				return err
			}

			atomic.AddInt64(&before, int64(len(content)))
			atomic.AddInt64(&after, int64(len(result)))
			if hit {
				atomic.AddInt64(&hits, 1)
			}

			outputs[idx] = dest
			bar.Add(1)
			return nil
		})
	}

	err = eg.Wait()
	bar.Finish()
	if err != nil {
		return err
	}

	log(ctx).Info().
		Str("task", "images").
		Int64("saved", before-after).
		Int64("cached", hits).
		Msgf("optimized %d images", len(sources))
	b.reload(outputs...)
	return nil
}
