package bundle_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/adapters/bundle"
	"github.com/loomworks/loom/internal/core/domain"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func relPaths(files []bundle.ResolvedFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RelPath
	}
	return out
}

func TestResolveSources_DirSortedWalk(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/b.go":     "b",
		"src/a.go":     "a",
		"src/sub/c.go": "c",
	})

	files, err := bundle.ResolveSources([]domain.ContextSource{
		{Type: domain.SourceDir, Path: "src"},
	}, root)
	require.NoError(t, err)

	assert.Equal(t, []string{"src/a.go", "src/b.go", "src/sub/c.go"}, relPaths(files))
}

func TestResolveSources_IncludeThenExclude(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/a.go":        "a",
		"src/a_test.go":   "t",
		"src/notes.md":    "m",
		"src/deep/b.go":   "b",
		"src/deep/b.yaml": "y",
	})

	files, err := bundle.ResolveSources([]domain.ContextSource{
		{
			Type:    domain.SourceDir,
			Path:    "src",
			Include: []string{"**/*.go"},
			Exclude: []string{"**/*_test.go"},
		},
	}, root)
	require.NoError(t, err)

	assert.Equal(t, []string{"src/a.go", "src/deep/b.go"}, relPaths(files))
}

func TestResolveSources_DedupeFirstSeenWins(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"src/a.go": "a", "src/b.go": "b"})

	files, err := bundle.ResolveSources([]domain.ContextSource{
		{Type: domain.SourceFile, Path: "src/b.go"},
		{Type: domain.SourceDir, Path: "src"},
	}, root)
	require.NoError(t, err)

	// b.go appeared first as a file source and keeps that position.
	assert.Equal(t, []string{"src/b.go", "src/a.go"}, relPaths(files))
}

func TestResolveSources_FileMustBeRegular(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"src/a.go": "a"})

	_, err := bundle.ResolveSources([]domain.ContextSource{
		{Type: domain.SourceFile, Path: "src"},
	}, root)
	assert.ErrorIs(t, err, domain.ErrSourceNotRegularFile)
}

func TestResolveSources_MissingPath(t *testing.T) {
	_, err := bundle.ResolveSources([]domain.ContextSource{
		{Type: domain.SourceFile, Path: "ghost.go"},
	}, t.TempDir())
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
}

func TestResolveSources_EmptyAfterFilters(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"src/a.md": "m"})

	_, err := bundle.ResolveSources([]domain.ContextSource{
		{Type: domain.SourceDir, Path: "src", Include: []string{"**/*.go"}},
	}, root)
	assert.ErrorIs(t, err, domain.ErrNoSourcesResolved)
}

func TestResolveSources_SnapshotBehavesLikeDir(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"snap/a.txt": "a"})

	files, err := bundle.ResolveSources([]domain.ContextSource{
		{Type: domain.SourceSnapshot, Path: "snap"},
	}, root)
	require.NoError(t, err)
	assert.Equal(t, []string{"snap/a.txt"}, relPaths(files))
}
