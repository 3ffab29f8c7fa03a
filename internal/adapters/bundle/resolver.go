package bundle

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"go.trai.ch/zerr"

	"github.com/loomworks/loom/internal/core/domain"
)

// ResolvedFile is one source file selected for the bundle. RelPath is the
// path relative to the repository root, with forward slashes; it is the
// dedupe key and the stable source name recorded in chunks.
type ResolvedFile struct {
	RelPath string
	AbsPath string
}

// ResolveSources resolves every context source of the task into a sorted,
// deduplicated file list. Directory and snapshot sources are walked fully;
// include globs are applied first (keep only matches), then exclude globs
// (drop matches), both relative to the source root. Duplicates across
// sources keep their first-seen position. Zero resolved files is an error;
// an empty bundle is never produced silently.
func ResolveSources(sources []domain.ContextSource, repoRoot string) ([]ResolvedFile, error) {
	var out []ResolvedFile
	seen := make(map[string]bool)

	for i, src := range sources {
		files, err := resolveSource(src, repoRoot)
		if err != nil {
			return nil, zerr.With(err, "source_index", i)
		}
		for _, f := range files {
			if seen[f.RelPath] {
				continue
			}
			seen[f.RelPath] = true
			out = append(out, f)
		}
	}

	if len(out) == 0 {
		return nil, domain.Annotate(domain.ErrNoSourcesResolved, "sources", len(sources))
	}
	return out, nil
}

func resolveSource(src domain.ContextSource, repoRoot string) ([]ResolvedFile, error) {
	base := src.Path
	if !filepath.IsAbs(base) {
		base = filepath.Join(repoRoot, base)
	}

	info, err := os.Stat(base)
	if err != nil {
		return nil, domain.Annotate(domain.ErrSourceNotFound, "path", src.Path)
	}

	switch src.Type {
	case domain.SourceFile:
		if !info.Mode().IsRegular() {
			return nil, domain.Annotate(domain.ErrSourceNotRegularFile, "path", src.Path)
		}
		rel := relPath(repoRoot, base)
		return []ResolvedFile{{RelPath: rel, AbsPath: base}}, nil

	case domain.SourceDir, domain.SourceSnapshot:
		return walkSource(src, base, repoRoot)

	default:
		return nil, domain.Annotate(domain.ErrSourceNotFound, "type", string(src.Type))
	}
}

func walkSource(src domain.ContextSource, base, repoRoot string) ([]ResolvedFile, error) {
	var files []ResolvedFile
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		inSource := relPath(base, path)
		keep, err := matchGlobs(inSource, src.Include, src.Exclude)
		if err != nil {
			return err
		}
		if !keep {
			return nil
		}
		files = append(files, ResolvedFile{RelPath: relPath(repoRoot, path), AbsPath: path})
		return nil
	})
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to walk source directory"), "path", src.Path)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// matchGlobs applies include patterns (keep only matches; empty list keeps
// everything), then exclude patterns (drop matches), against the slash-form
// path relative to the source root.
func matchGlobs(rel string, include, exclude []string) (bool, error) {
	if len(include) > 0 {
		kept := false
		for _, pat := range include {
			ok, err := doublestar.Match(pat, rel)
			if err != nil {
				return false, zerr.With(zerr.Wrap(err, "invalid include pattern"), "pattern", pat)
			}
			if ok {
				kept = true
				break
			}
		}
		if !kept {
			return false, nil
		}
	}
	for _, pat := range exclude {
		ok, err := doublestar.Match(pat, rel)
		if err != nil {
			return false, zerr.With(zerr.Wrap(err, "invalid exclude pattern"), "pattern", pat)
		}
		if ok {
			return false, nil
		}
	}
	return true, nil
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	return filepath.ToSlash(rel)
}
