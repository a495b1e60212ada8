package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/ngld/sitebuild/pkg/sblog"
)

// CompressibleExts lists the extensions that get a .br sibling
var CompressibleExts = map[string]bool{
	".html": true,
	".css":  true,
	".js":   true,
	".svg":  true,
	".json": true,
	".xml":  true,
}

func compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.Create(path + ".br")
	if err != nil {
		return err
	}

	brw := brotli.NewWriterLevel(dest, brotli.BestCompression)
	_, err = io.Copy(brw, src)
	if err != nil {
		dest.Close()
		return eris.Wrapf(err, "failed to compress %s", path)
	}

	err = brw.Close()
	if err != nil {
		dest.Close()
		return err
	}

	return dest.Close()
}

// Precompress writes a brotli compressed copy next to every text asset in dir and returns the number of
// written files
func Precompress(ctx context.Context, dir string, workers int) (int, error) {
	files, err := listFiles(dir)
	if err != nil {
		return 0, err
	}

	if workers < 1 {
		workers = 1
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	count := 0
	for _, file := range files {
		if !CompressibleExts[strings.ToLower(filepath.Ext(file))] {
			continue
		}

		file := file
		count++
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}

			return compressFile(file)
		})
	}

	if err = eg.Wait(); err != nil {
		return 0, err
	}

	sblog.Log(ctx).Debug().Msgf("compressed %d files in %s", count, dir)
	return count, nil
}
