package transfer

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/mensylisir/sshdeploy/file"
)

// Classifier is the subset of file.Classifier the planner needs.
type Classifier interface {
	Classify(path string) file.Kind
}

// DirectoryUpload places the contents of LocalPath under RemoteRoot.
type DirectoryUpload struct {
	LocalPath  string
	RemoteRoot string
}

// FileUpload copies LocalPath to RemotePath.
type FileUpload struct {
	LocalPath  string
	RemotePath string
}

// Plan is the set of transfers for one upload phase. No file in Files lies
// under a directory in Directories.
type Plan struct {
	Directories []DirectoryUpload
	Files       []FileUpload
}

// Empty reports whether the plan has nothing to transfer.
func (p Plan) Empty() bool {
	return len(p.Directories) == 0 && len(p.Files) == 0
}

type Planner struct {
	classifier Classifier
}

func NewPlanner(c Classifier) *Planner {
	return &Planner{classifier: c}
}

// Plan partitions paths into directory and file uploads bound for
// targetRoot. Files and subdirectories already covered by a planned
// directory are dropped, as are repeated paths. Input order is kept within each partition.
func (p *Planner) Plan(paths []string, targetRoot string) Plan {
	var dirs, candidates []string
	seen := make(map[string]bool, len(paths))
	for _, raw := range paths {
		local := filepath.Clean(raw)
		if seen[local] {
			continue
		}
		seen[local] = true

		if p.classifier.Classify(local) == file.KindDirectory {
			dirs = append(dirs, local)
		} else {
			candidates = append(candidates, local)
		}
	}

	plan := Plan{}
	for _, d := range dirs {
		if nestedIn(d, dirs) {
			continue
		}
		plan.Directories = append(plan.Directories, DirectoryUpload{LocalPath: d, RemoteRoot: targetRoot})
	}
	for _, f := range candidates {
		if coveredBy(f, dirs) {
			continue
		}
		plan.Files = append(plan.Files, FileUpload{
			LocalPath:  f,
			RemotePath: RemoteFilePath(targetRoot, f),
		})
	}
	return plan
}

// RemoteFilePath is where a single uploaded file lands: the target root
// joined with the file's base name. Remote paths are always slash separated.
func RemoteFilePath(targetRoot, localPath string) string {
	return path.Join(filepath.ToSlash(targetRoot), filepath.Base(localPath))
}

// nestedIn reports whether d lies strictly below another directory in dirs.
// Such a directory already travels with its ancestor's recursive upload.
func nestedIn(d string, dirs []string) bool {
	for _, other := range dirs {
		if other != d && isWithin(d, other) {
			return true
		}
	}
	return false
}

func coveredBy(f string, dirs []string) bool {
	for _, d := range dirs {
		if isWithin(f, d) {
			return true
		}
	}
	return false
}

// isWithin reports whether p equals dir or lies below it. The separator
// boundary keeps /tmp/dir1 from covering /tmp/dir10/x.
func isWithin(p, dir string) bool {
	if p == dir {
		return true
	}
	prefix := dir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix)
}
