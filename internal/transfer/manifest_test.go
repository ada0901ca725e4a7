package transfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestCollectSourcesSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "report.bin"), []byte("12345"))

	sources, err := collectSources([]string{filepath.Join(dir, "report.bin")})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, "report.bin", sources[0].wirePath)
	require.Equal(t, int64(5), sources[0].size)
}

func TestCollectSourcesDirectoryTree(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "proj")
	writeTestFile(t, filepath.Join(root, "b.txt"), []byte("bb"))
	writeTestFile(t, filepath.Join(root, "a", "z.txt"), []byte("z"))
	writeTestFile(t, filepath.Join(root, "a", "empty.txt"), nil)

	sources, err := collectSources([]string{root})
	require.NoError(t, err)

	var paths []string
	for _, s := range sources {
		paths = append(paths, s.wirePath)
	}
	// Lexicographic walk order, slash-separated, rooted at the input's
	// basename.
	require.Equal(t, []string{"proj/a/empty.txt", "proj/a/z.txt", "proj/b.txt"}, paths)
}

func TestCollectSourcesMixedInputs(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "solo.bin"), []byte("x"))
	root := filepath.Join(dir, "tree")
	writeTestFile(t, filepath.Join(root, "f.txt"), []byte("f"))

	sources, err := collectSources([]string{filepath.Join(dir, "solo.bin"), root})
	require.NoError(t, err)
	require.Equal(t, "solo.bin", sources[0].wirePath)
	require.Equal(t, "tree/f.txt", sources[1].wirePath)
}

func TestCollectSourcesMissingInput(t *testing.T) {
	_, err := collectSources([]string{filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
}
