// Package paths holds the table that maps asset categories to source globs and output directories.
package paths

import (
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Category names a group of assets that share a pipeline
type Category string

const (
	HTML   Category = "html"
	JS     Category = "js"
	CSS    Category = "css"
	Images Category = "images"
	Fonts  Category = "fonts"
)

// Categories lists all categories in a stable order
var Categories = []Category{HTML, JS, CSS, Images, Fonts}

const (
	imageExts = "{jpg,png,svg,gif,ico,webp,webmanifest,xml,json}"
	fontExts  = "{eot,woff,woff2,ttf,svg}"
)

// Entry describes where a category's files come from and where they go. All paths use forward slashes and are
// relative to the project root.
type Entry struct {
	Src   string
	Watch string
	Dest  string
}

// Table maps each category to its entry
type Table struct {
	Root    string
	Entries map[Category]Entry
}

// Default builds the standard table for the given source and distribution directories
func Default(root, src, dist string) Table {
	src = strings.TrimSuffix(filepath.ToSlash(src), "/") + "/"
	dist = strings.TrimSuffix(filepath.ToSlash(dist), "/") + "/"

	return Table{
		Root: root,
		Entries: map[Category]Entry{
			HTML: {
				Src:   src + "*.html",
				Watch: src + "**/*.html",
				Dest:  dist,
			},
			JS: {
				Src:   src + "assets/js/*.js",
				Watch: src + "assets/js/**/*.js",
				Dest:  dist + "assets/js/",
			},
			CSS: {
				Src:   src + "assets/sass/*.scss",
				Watch: src + "assets/sass/**/*.scss",
				Dest:  dist + "assets/css/",
			},
			Images: {
				Src:   src + "assets/images/**/*." + imageExts,
				Watch: src + "assets/images/**/*." + imageExts,
				Dest:  dist + "assets/images/",
			},
			Fonts: {
				Src:   src + "assets/fonts/**/*." + fontExts,
				Watch: src + "assets/fonts/**/*." + fontExts,
				Dest:  dist + "assets/fonts/",
			},
		},
	}
}

// Override replaces the non-empty fields of a category's entry
func (t Table) Override(cat Category, entry Entry) error {
	current, ok := t.Entries[cat]
	if !ok {
		return eris.Errorf("unknown category %s", cat)
	}

	if entry.Src != "" {
		current.Src = filepath.ToSlash(entry.Src)
	}
	if entry.Watch != "" {
		current.Watch = filepath.ToSlash(entry.Watch)
	}
	if entry.Dest != "" {
		current.Dest = strings.TrimSuffix(filepath.ToSlash(entry.Dest), "/") + "/"
	}

	t.Entries[cat] = current
	return nil
}

// Get returns the entry for the given category
func (t Table) Get(cat Category) (Entry, error) {
	entry, ok := t.Entries[cat]
	if !ok {
		return Entry{}, eris.Errorf("unknown category %s", cat)
	}

	return entry, nil
}

// Abs turns a path relative to the project root into an absolute one
func (t Table) Abs(rel string) string {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel)
	}

	return filepath.Join(t.Root, filepath.FromSlash(rel))
}

// Base returns the static directory prefix of a glob, i.e. everything before the first segment that contains
// a wildcard.
func Base(glob string) string {
	glob = filepath.ToSlash(glob)
	parts := strings.Split(glob, "/")
	static := make([]string, 0, len(parts))

	for idx, part := range parts {
		if strings.ContainsAny(part, "*?[{") || idx == len(parts)-1 {
			break
		}
		static = append(static, part)
	}

	if len(static) == 0 {
		return "./"
	}

	return path.Join(static...) + "/"
}

// Sources resolves the source glob of a category to absolute file paths
func (t Table) Sources(cat Category) ([]string, error) {
	entry, err := t.Get(cat)
	if err != nil {
		return nil, err
	}

	return Resolve(t.Root, entry.Src)
}

// BaseDir returns the absolute base directory of a category's source glob
func (t Table) BaseDir(cat Category) (string, error) {
	entry, err := t.Get(cat)
	if err != nil {
		return "", err
	}

	return t.Abs(Base(entry.Src)), nil
}

// DestDir returns the absolute destination directory of a category
func (t Table) DestDir(cat Category) (string, error) {
	entry, err := t.Get(cat)
	if err != nil {
		return "", err
	}

	return t.Abs(entry.Dest), nil
}

// OutputPath maps a source file to its location inside the category's destination directory
func (t Table) OutputPath(cat Category, source string) (string, error) {
	base, err := t.BaseDir(cat)
	if err != nil {
		return "", err
	}

	dest, err := t.DestDir(cat)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(base, t.Abs(source))
	if err != nil {
		return "", eris.Wrapf(err, "failed to relate %s to %s", source, base)
	}

	if strings.HasPrefix(rel, "..") {
		return "", eris.Errorf("%s is outside of %s", source, base)
	}

	return filepath.Join(dest, rel), nil
}

// WatchPattern returns the watch glob for a category relative to the project root
func (t Table) WatchPattern(cat Category) (string, error) {
	entry, err := t.Get(cat)
	if err != nil {
		return "", err
	}

	return entry.Watch, nil
}

func sortUnique(items []string) []string {
	sort.Strings(items)
	result := items[:0]
	for idx, item := range items {
		if idx > 0 && items[idx-1] == item {
			continue
		}
		result = append(result, item)
	}

	return result
}
