package cmd

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

// Task scripts call mv, rm and mkdir through these hidden commands so they work the same on Windows.

// expandArgs resolves wildcards on Windows since cmd.exe leaves them to the program. allowEmpty accepts
// patterns without matches.
func expandArgs(args []string, allowEmpty bool) ([]string, error) {
	if runtime.GOOS != "windows" {
		return args, nil
	}

	var result []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid pattern %s", pattern)
		}

		if len(matches) == 0 && !allowEmpty {
			return nil, eris.Errorf("%s: no such file or directory", pattern)
		}
		result = append(result, matches...)
	}

	return result, nil
}

func isDir(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		return info.IsDir(), nil
	case eris.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, eris.Wrapf(err, "failed to check %s", path)
	}
}

// movePaths renames sources to dest or moves them into dest if it's an existing directory
func movePaths(sources []string, dest string) error {
	dest = filepath.Clean(dest)
	if parent, err := isDir(filepath.Dir(dest)); err != nil || !parent {
		return eris.Errorf("%s: parent directory doesn't exist", dest)
	}

	into, err := isDir(dest)
	if err != nil {
		return err
	}

	if len(sources) > 1 && !into {
		return eris.Errorf("%s: not a directory", dest)
	}

	for _, src := range sources {
		target := dest
		if into {
			target = filepath.Join(dest, filepath.Base(src))
		}

		if err = os.Rename(src, target); err != nil {
			return eris.Wrapf(err, "failed to move %s", src)
		}
	}

	return nil
}

// removePaths checks every path before deleting anything
func removePaths(targets []string, recursive, force bool) error {
	existing := targets[:0:0]
	for _, target := range targets {
		info, err := os.Lstat(target)
		if err != nil {
			if force && eris.Is(err, os.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "cannot remove %s", target)
		}

		if info.IsDir() && !recursive {
			return eris.Errorf("%s: is a directory", target)
		}
		existing = append(existing, target)
	}

	for _, target := range existing {
		if err := os.RemoveAll(target); err != nil {
			return eris.Wrapf(err, "failed to remove %s", target)
		}
	}

	return nil
}

func makeDirs(dirs []string, parents bool) error {
	mkdir := os.Mkdir
	if parents {
		mkdir = os.MkdirAll
	}

	for _, dir := range dirs {
		if err := mkdir(dir, 0o770); err != nil {
			return eris.Wrapf(err, "failed to create %s", dir)
		}
	}

	return nil
}

func posixCommands() []*cobra.Command {
	mv := &cobra.Command{
		Use:    "mv source... dest",
		Short:  "Moves files (task script helper)",
		Hidden: true,
		Args:   cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			last := len(args) - 1
			sources, err := expandArgs(args[:last], false)
			if err != nil {
				return err
			}
			return movePaths(sources, args[last])
		},
	}

	rm := &cobra.Command{
		Use:    "rm path...",
		Short:  "Deletes files (task script helper)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			recursive, _ := cmd.Flags().GetBool("recursive")
			force, _ := cmd.Flags().GetBool("force")

			targets, err := expandArgs(args, force)
			if err != nil {
				return err
			}
			return removePaths(targets, recursive, force)
		},
	}
	rm.Flags().BoolP("recursive", "r", false, "delete directories and their contents")
	rm.Flags().BoolP("force", "f", false, "ignore missing files")

	mkdir := &cobra.Command{
		Use:    "mkdir path...",
		Short:  "Creates directories (task script helper)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			parents, _ := cmd.Flags().GetBool("parents")
			return makeDirs(args, parents)
		},
	}
	mkdir.Flags().BoolP("parents", "p", false, "create missing parents and ignore existing directories")

	return []*cobra.Command{mv, rm, mkdir}
}

func init() {
	rootCmd.AddCommand(posixCommands()...)
}
