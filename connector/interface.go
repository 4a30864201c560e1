package connector

import (
	"context"
	"os"
)

type Executor interface {
	// Exec runs cmd in a fresh session without a PTY. A non-zero exit is
	// reported through exitCode with a nil err; err is reserved for
	// transport failures and cancellation.
	Exec(ctx context.Context, cmd string) (stdout []byte, stderr []byte, exitCode int, err error)
}

// DirectoryOptions controls UploadDirectory.
type DirectoryOptions struct {
	// Recursive descends into subdirectories. When false only the top-level
	// files of the directory are copied.
	Recursive bool
}

// Transfer is one local file bound for one remote path.
type Transfer struct {
	LocalPath  string
	RemotePath string
}

type FileOperator interface {
	// UploadFiles copies each transfer in order, creating remote parent
	// directories as needed. It stops at the first failure.
	UploadFiles(ctx context.Context, transfers []Transfer) error
	// UploadDirectory places the contents of localDir under remoteRoot.
	UploadDirectory(ctx context.Context, localDir string, remoteRoot string, opts DirectoryOptions) error
	// StatRemote returns os.ErrNotExist for a missing path.
	StatRemote(ctx context.Context, remotePath string) (os.FileInfo, error)
	MkDirAll(ctx context.Context, remotePath string, mode os.FileMode) error
}

type Connection interface {
	Executor
	FileOperator
	Close() error
}
