// Package archive packs the output directory for deployment.
package archive

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"

	"github.com/ngld/sitebuild/pkg/sblog"
)

func listFiles(root string) ([]string, error) {
	files := []string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to list %s", root)
	}

	sort.Strings(files)
	return files, nil
}

// Pack writes all files below dir to a .tar.xz archive at dest. Entry names are relative to dir and the
// archive itself is skipped if it's inside dir. The archive is written to a temporary file next to dest and only
// renamed once it's complete.
func Pack(ctx context.Context, dir, dest string) error {
	files, err := listFiles(dir)
	if err != nil {
		return err
	}

	absDest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}

	hdl, err := os.CreateTemp(filepath.Dir(absDest), "."+filepath.Base(absDest)+".*")
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dest)
	}
	tmpPath := hdl.Name()

	count, err := writeArchive(ctx, hdl, dir, files, absDest)
	if err == nil {
		err = hdl.Chmod(0o644)
	}
	if err == nil {
		err = hdl.Close()
	} else {
		hdl.Close()
	}
	if err != nil {
		os.Remove(tmpPath)
		return err
	}

	err = os.Rename(tmpPath, absDest)
	if err != nil {
		os.Remove(tmpPath)
		return eris.Wrapf(err, "failed to move archive to %s", dest)
	}

	sblog.Log(ctx).Info().Str("task", "pack").Msgf("packed %d files into %s", count, dest)
	return nil
}

func writeArchive(ctx context.Context, w io.Writer, dir string, files []string, skip string) (int, error) {
	xzw, err := xz.NewWriter(w)
	if err != nil {
		return 0, eris.Wrap(err, "failed to initialize xz")
	}

	tw := tar.NewWriter(xzw)
	count := 0
	for _, file := range files {
		if err = ctx.Err(); err != nil {
			return count, err
		}

		if absFile, _ := filepath.Abs(file); absFile == skip {
			continue
		}

		err = addFile(tw, dir, file)
		if err != nil {
			return count, err
		}
		count++
	}

	err = tw.Close()
	if err != nil {
		return count, eris.Wrap(err, "failed to finish tar stream")
	}

	err = xzw.Close()
	if err != nil {
		return count, eris.Wrap(err, "failed to finish xz stream")
	}

	return count, nil
}

func addFile(tw *tar.Writer, root, file string) error {
	info, err := os.Stat(file)
	if err != nil {
		return err
	}

	rel, err := filepath.Rel(root, file)
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return eris.Wrapf(err, "failed to build header for %s", file)
	}
	header.Name = filepath.ToSlash(rel)

	err = tw.WriteHeader(header)
	if err != nil {
		return eris.Wrapf(err, "failed to write header for %s", file)
	}

	hdl, err := os.Open(file)
	if err != nil {
		return err
	}
	defer hdl.Close()

	_, err = io.Copy(tw, hdl)
	if err != nil {
		return eris.Wrapf(err, "failed to pack %s", file)
	}

	return nil
}
