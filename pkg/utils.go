package pkg

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
)

// ProjectMarkers are the files that identify a project root
var ProjectMarkers = []string{"sitebuild.toml", "tasks.star"}

func hasMarker(dir string) (bool, error) {
	for _, marker := range ProjectMarkers {
		_, err := os.Stat(filepath.Join(dir, marker))
		switch {
		case err == nil:
			return true, nil
		case !eris.Is(err, os.ErrNotExist):
			return false, eris.Wrapf(err, "failed to check %s", dir)
		}
	}
	return false, nil
}

// FindProjectRoot returns the closest directory at or above start that contains one of the ProjectMarkers.
// Without markers, start itself is the project root.
func FindProjectRoot(start string) (string, error) {
	start, err := filepath.Abs(start)
	if err != nil {
		return "", eris.Wrapf(err, "failed to resolve %s", start)
	}

	for dir := start; ; dir = filepath.Dir(dir) {
		found, err := hasMarker(dir)
		if err != nil {
			return "", err
		}
		if found {
			return dir, nil
		}

		if filepath.Dir(dir) == dir {
			return start, nil
		}
	}
}

func printLine(prefix, msg string) {
	colorstring.Println(prefix + "[reset] " + msg)
}

// PrintTask prints a headline
func PrintTask(msg string) {
	printLine("[blue][bold]==>", msg)
}

func PrintSubtask(msg string) {
	printLine("[green][bold]  ->", msg)
}

func PrintError(msg string) {
	printLine("[red][bold]  ->", msg)
}
