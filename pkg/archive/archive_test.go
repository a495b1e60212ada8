package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestPack(t *testing.T) {
	files := map[string]string{
		"index.html":               "<html></html>",
		"assets/css/style.min.css": "a{}",
		"assets/images/logo.png":   "png",
	}
	dir := writeTree(t, files)
	dest := filepath.Join(t.TempDir(), "site.tar.xz")

	require.NoError(t, Pack(context.Background(), dir, dest))

	hdl, err := os.Open(dest)
	require.NoError(t, err)
	defer hdl.Close()

	xzr, err := xz.NewReader(hdl)
	require.NoError(t, err)

	found := map[string]string{}
	tr := tar.NewReader(xzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		found[header.Name] = string(content)
	}

	if diff := cmp.Diff(files, found); diff != "" {
		t.Errorf("archive content mismatch (-want +got):\n%s", diff)
	}
}

func TestPackSkipsItself(t *testing.T) {
	dir := writeTree(t, map[string]string{"index.html": "x"})
	dest := filepath.Join(dir, "site.tar.xz")

	require.NoError(t, Pack(context.Background(), dir, dest))
	assert.FileExists(t, dest)
}

func TestPackCancelledLeavesNoArchive(t *testing.T) {
	dir := writeTree(t, map[string]string{"index.html": "x", "about.html": "y"})
	out := t.TempDir()
	dest := filepath.Join(out, "site.tar.xz")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Pack(ctx, dir, dest)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, dest)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPackFailureKeepsPreviousArchive(t *testing.T) {
	dir := writeTree(t, map[string]string{"index.html": "x"})
	dest := filepath.Join(t.TempDir(), "site.tar.xz")
	require.NoError(t, os.WriteFile(dest, []byte("previous"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, Pack(ctx, dir, dest))

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(content))
}

func TestPrecompress(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"index.html":          "<html><body>hello hello hello</body></html>",
		"assets/js/app.js":    "console.log(1)",
		"assets/images/a.png": "png",
	})

	count, err := Precompress(context.Background(), dir, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.NoFileExists(t, filepath.Join(dir, "assets/images/a.png.br"))

	compressed, err := os.ReadFile(filepath.Join(dir, "index.html.br"))
	require.NoError(t, err)

	plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(compressed)))
	require.NoError(t, err)
	assert.Equal(t, "<html><body>hello hello hello</body></html>", string(plain))
}
