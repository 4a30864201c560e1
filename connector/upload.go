package connector

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/go-git/go-billy/v5/util"
	"github.com/pkg/errors"
	"github.com/pkg/sftp"

	"github.com/mensylisir/sshdeploy/common"
	"github.com/mensylisir/sshdeploy/logger"
)

func (c *connection) UploadFiles(ctx context.Context, transfers []Transfer) error {
	sftpClient, err := c.sftpSession()
	if err != nil {
		return err
	}

	created := make(map[string]bool)
	for _, t := range transfers {
		if err := ctx.Err(); err != nil {
			return err
		}

		remoteDir := path.Dir(t.RemotePath)
		if !created[remoteDir] {
			if err := c.MkDirAll(ctx, remoteDir, common.FileMode0755); err != nil {
				return errors.Wrapf(err, "failed to create remote directory for %s", t.RemotePath)
			}
			created[remoteDir] = true
		}

		if err := c.copyFileToRemoteSFTP(ctx, sftpClient, t.LocalPath, t.RemotePath); err != nil {
			return err
		}
	}
	return nil
}

func (c *connection) UploadDirectory(ctx context.Context, localDir string, remoteRoot string, opts DirectoryOptions) error {
	sftpClient, err := c.sftpSession()
	if err != nil {
		return err
	}

	srcFi, err := c.localFS.Stat(localDir)
	if err != nil {
		return errors.Wrapf(err, "failed to stat local source %s", localDir)
	}
	if !srcFi.IsDir() {
		return errors.Errorf("local source %s is not a directory", localDir)
	}

	if err := c.MkDirAll(ctx, remoteRoot, srcFi.Mode().Perm()); err != nil {
		return errors.Wrapf(err, "failed to create remote directory %s", remoteRoot)
	}

	return util.Walk(c.localFS, localDir, func(localPath string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return errors.Wrapf(walkErr, "failed to read local path %s", localPath)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(localDir, localPath)
		if err != nil {
			return errors.Wrapf(err, "failed to compute path of %s relative to %s", localPath, localDir)
		}
		if rel == "." {
			return nil
		}
		remotePath := path.Join(remoteRoot, filepath.ToSlash(rel))

		if info.Mode()&os.ModeSymlink != 0 {
			target, statErr := c.localFS.Stat(localPath)
			if statErr != nil || target.IsDir() {
				logger.Log.Warnf("Skipping symlink %s: only links to regular files are uploaded", localPath)
				return nil
			}
			info = target
		}

		switch {
		case info.IsDir():
			if !opts.Recursive {
				return filepath.SkipDir
			}
			return c.MkDirAll(ctx, remotePath, info.Mode().Perm())
		case info.Mode().IsRegular():
			return c.copyFileToRemoteSFTP(ctx, sftpClient, localPath, remotePath)
		default:
			logger.Log.Debugf("Skipping %s: not a regular file", localPath)
			return nil
		}
	})
}

// copyFileToRemoteSFTP copies one file, keeps its permission bits and
// checks that the remote size matches.
func (c *connection) copyFileToRemoteSFTP(ctx context.Context, sftpClient *sftp.Client, localPath string, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	srcFile, err := c.localFS.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open local file %s", localPath)
	}
	defer srcFile.Close()

	srcFi, err := c.localFS.Stat(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to stat local file %s", localPath)
	}

	dstFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create remote file %s via sftp", remotePath)
	}

	if err := dstFile.Chmod(srcFi.Mode().Perm()); err != nil {
		logger.Log.Warnf("Failed to chmod remote file %s: %v", remotePath, err)
	}

	written, err := io.Copy(dstFile, srcFile)
	if err != nil {
		_ = dstFile.Close()
		return errors.Wrapf(err, "sftp copy from %s to %s failed", localPath, remotePath)
	}
	if err := dstFile.Close(); err != nil {
		return errors.Wrapf(err, "failed to finish remote file %s", remotePath)
	}

	remoteFi, err := sftpClient.Stat(remotePath)
	if err != nil {
		return errors.Wrapf(err, "failed to stat %s after upload", remotePath)
	}
	if remoteFi.Size() != srcFi.Size() || written != srcFi.Size() {
		return errors.Errorf("size mismatch for %s after upload: local %d != remote %d",
			remotePath, srcFi.Size(), remoteFi.Size())
	}

	logger.Log.Debugf("Uploaded %s to %s (%d bytes)", localPath, remotePath, written)
	return nil
}
