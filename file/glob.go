package file

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pkg/errors"
)

// ErrBadPattern is wrapped around every malformed pattern.
var ErrBadPattern = errors.New("malformed glob pattern")

const globStar = "**"

// Resolver expands glob patterns against a filesystem.
//
// Patterns are evaluated in order. A leading "!" turns a pattern into an
// exclude that removes earlier matches and everything below them. A pattern
// that matches a directory also yields every descendant of that directory,
// in lexical walk order. Relative patterns are rooted at workDir.
type Resolver struct {
	fs      billy.Filesystem
	workDir string
}

func NewResolver(fs billy.Filesystem, workDir string) *Resolver {
	return &Resolver{fs: fs, workDir: workDir}
}

type pattern struct {
	raw      string
	negate   bool
	segments []string
}

// Resolve returns the de-duplicated absolute paths matched by patterns,
// in first-match order. Blank lines and "#" comments are ignored. Zero
// matches is not an error.
func (r *Resolver) Resolve(patterns []string) ([]string, error) {
	parsed, err := r.parse(patterns)
	if err != nil {
		return nil, err
	}

	var results []string
	seen := make(map[string]bool)
	for _, p := range parsed {
		if p.negate {
			results = excludeMatches(results, p, seen)
			continue
		}

		var matches []string
		if err := r.expand(string(filepath.Separator), p.segments, &matches); err != nil {
			return nil, errors.Wrapf(err, "failed to resolve %q", p.raw)
		}
		for _, m := range matches {
			expanded, err := r.withDescendants(m)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to resolve %q", p.raw)
			}
			for _, e := range expanded {
				if !seen[e] {
					seen[e] = true
					results = append(results, e)
				}
			}
		}
	}
	return results, nil
}

func (r *Resolver) parse(patterns []string) ([]pattern, error) {
	var parsed []pattern
	for _, raw := range patterns {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		p := pattern{raw: line}
		for strings.HasPrefix(line, "!") {
			p.negate = !p.negate
			line = strings.TrimSpace(line[1:])
		}
		if line == "" {
			return nil, errors.Wrapf(ErrBadPattern, "%q has nothing after the exclusion mark", raw)
		}

		if !filepath.IsAbs(line) {
			line = filepath.Join(r.workDir, line)
		}
		line = filepath.Clean(line)

		for _, seg := range splitPath(line) {
			if seg == globStar {
				continue
			}
			if _, err := filepath.Match(seg, ""); err != nil {
				return nil, errors.Wrapf(ErrBadPattern, "%q", raw)
			}
		}
		p.segments = splitPath(line)
		parsed = append(parsed, p)
	}
	return parsed, nil
}

// expand walks the filesystem one pattern segment at a time, appending every
// path that matches all of segs below base.
func (r *Resolver) expand(base string, segs []string, out *[]string) error {
	if len(segs) == 0 {
		*out = append(*out, base)
		return nil
	}

	seg := segs[0]
	if !hasMeta(seg) && seg != globStar {
		next := filepath.Join(base, seg)
		if _, err := r.fs.Lstat(next); err != nil {
			if os.IsNotExist(err) || isNotDir(r.fs, base) {
				return nil
			}
			return err
		}
		return r.expand(next, segs[1:], out)
	}

	entries, err := r.fs.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) || isNotDir(r.fs, base) {
			return nil
		}
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	if seg == globStar {
		// zero directories
		if err := r.expand(base, segs[1:], out); err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() {
				if err := r.expand(filepath.Join(base, e.Name()), segs, out); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, e := range entries {
		ok, _ := filepath.Match(seg, e.Name())
		if !ok {
			continue
		}
		if len(segs) > 1 && !e.IsDir() {
			continue
		}
		if err := r.expand(filepath.Join(base, e.Name()), segs[1:], out); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) withDescendants(match string) ([]string, error) {
	info, err := r.fs.Stat(match)
	if err != nil || !info.IsDir() {
		return []string{match}, nil
	}

	var paths []string
	walkErr := util.Walk(r.fs, match, func(path string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, filepath.Clean(path))
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return paths, nil
}

// excludeMatches drops every path matched by p, or lying under a path
// matched by p. Dropped paths may be re-added by later include patterns.
func excludeMatches(paths []string, p pattern, seen map[string]bool) []string {
	kept := paths[:0]
	for _, path := range paths {
		if matchesSelfOrAncestor(p.segments, splitPath(path)) {
			delete(seen, path)
			continue
		}
		kept = append(kept, path)
	}
	return kept
}

func matchesSelfOrAncestor(pat, parts []string) bool {
	for i := len(parts); i >= 0; i-- {
		if matchSegments(pat, parts[:i]) {
			return true
		}
	}
	return false
}

func matchSegments(pat, parts []string) bool {
	if len(pat) == 0 {
		return len(parts) == 0
	}
	if pat[0] == globStar {
		for i := 0; i <= len(parts); i++ {
			if matchSegments(pat[1:], parts[i:]) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	ok, _ := filepath.Match(pat[0], parts[0])
	return ok && matchSegments(pat[1:], parts[1:])
}

func splitPath(p string) []string {
	trimmed := strings.Trim(filepath.ToSlash(p), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func hasMeta(seg string) bool {
	return strings.ContainsAny(seg, `*?[\`)
}

func isNotDir(fs billy.Filesystem, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && !info.IsDir()
}
