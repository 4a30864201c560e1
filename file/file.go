package file

import (
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pkg/errors"
)

// Kind is the classification of a local path.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// NewOSFilesystem returns the local filesystem rooted at "/", so absolute
// paths resolve to themselves.
func NewOSFilesystem() billy.Filesystem {
	return osfs.New(string(filepath.Separator))
}

// Classifier decides whether a path is a directory.
type Classifier struct {
	fs billy.Filesystem
}

func NewClassifier(fs billy.Filesystem) *Classifier {
	return &Classifier{fs: fs}
}

// Classify reports KindDirectory only for paths that stat as a directory.
// Anything that cannot be stat'ed is treated as a file.
func (c *Classifier) Classify(path string) Kind {
	info, err := c.fs.Stat(path)
	if err != nil || !info.IsDir() {
		return KindFile
	}
	return KindDirectory
}

// PathExists checks if a path exists. A "not exist" error is not an error.
func PathExists(fs billy.Filesystem, path string) (bool, error) {
	_, err := fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// CountDirFiles recursively counts the regular files under dirName.
func CountDirFiles(fs billy.Filesystem, dirName string) (int, error) {
	info, err := fs.Stat(dirName)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to stat %s", dirName)
	}
	if !info.IsDir() {
		return 0, errors.Errorf("%s is not a directory", dirName)
	}

	var count int
	walkErr := util.Walk(fs, dirName, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			count++
		}
		return nil
	})
	if walkErr != nil {
		return 0, errors.Wrapf(walkErr, "error walking directory %s", dirName)
	}
	return count, nil
}
